package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	require.NoError(t, Init(Config{Dir: dir}))
	t.Cleanup(func() { Logger = nil })

	_, err := os.Stat(dir)
	assert.NoError(t, err, "log directory should be created")
	require.NotNil(t, Logger)
	assert.Equal(t, log.InfoLevel, Logger.GetLevel())

	Info("test info message", "key", "value")
	Warn("test warning message")
}

func TestInitDebug(t *testing.T) {
	require.NoError(t, Init(Config{Debug: true}))
	t.Cleanup(func() { Logger = nil })

	assert.Equal(t, log.DebugLevel, Logger.GetLevel())
}

func TestNilLoggerIsSafe(t *testing.T) {
	Logger = nil

	Debug("dropped")
	Info("dropped")
	Warn("dropped")
	Error("dropped")
}
