package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"lunchpick/logger"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"

	devSessionSecret = "dev-secret-for-local"
)

// Config はアプリケーションの設定です
type Config struct {
	Host          string
	Port          string
	DBDriver      string
	DatabaseURL   string
	SessionSecret string
	SecureCookie  bool
	Location      *time.Location
	LunchOptions  []string
	SeedUsers     []string
	SeedPassword  string
	AdminUsers    []string
	LogDir        string
	Debug         bool
}

// loadEnvFile は .env ファイルを読み込みます。ファイルが無い場合は環境変数のみを使います
func loadEnvFile(path string) {
	if path == "" {
		return
	}
	if err := godotenv.Load(path); err != nil {
		logger.Debug("No .env file loaded, using environment variables", "path", path)
	}
}

// LoadConfig は環境変数から設定を読み込みます
func LoadConfig() (Config, error) {
	debug := getEnvBool("DEBUG", false)

	driver := strings.ToLower(getEnv("DB_DRIVER", driverSQLite))
	if driver != driverPostgres && driver != driverSQLite {
		return Config{}, fmt.Errorf("unsupported DB_DRIVER %q (expected %q or %q)", driver, driverPostgres, driverSQLite)
	}

	secret := getEnv("SESSION_SECRET", "")
	if secret == "" && debug {
		secret = devSessionSecret
	}

	loc, err := time.LoadLocation(getEnv("TZ", "Europe/Paris"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid TZ: %w", err)
	}

	options := splitList(os.Getenv("LUNCH_OPTIONS"), ";")
	if len(options) == 0 {
		options = DefaultLunchOptions
	}

	seedUsers := DefaultUsers
	if v, ok := os.LookupEnv("SEED_USERS"); ok {
		seedUsers = splitList(v, ",")
	}

	return Config{
		Host:          getEnv("HOST", "0.0.0.0"),
		Port:          getEnv("PORT", "8080"),
		DBDriver:      driver,
		DatabaseURL:   getDatabaseURL(driver),
		SessionSecret: secret,
		SecureCookie:  getEnvBool("SECURE_COOKIE", false),
		Location:      loc,
		LunchOptions:  options,
		SeedUsers:     seedUsers,
		SeedPassword:  getEnv("SEED_PASSWORD", "password"),
		AdminUsers:    splitList(os.Getenv("ADMIN_USERS"), ","),
		LogDir:        getEnv("LOG_DIR", ""),
		Debug:         debug,
	}, nil
}

// Validate はサーバー起動に必要な設定が揃っているかを確認します
func (c Config) Validate() error {
	if c.SessionSecret == "" {
		return errors.New("SESSION_SECRET environment variable is required")
	}
	return nil
}

// Addr は待ち受けアドレスを返します
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsLunchOption はメニューに含まれる選択肢かどうかを返します
func (c Config) IsLunchOption(choice string) bool {
	for _, o := range c.LunchOptions {
		if o == choice {
			return true
		}
	}
	return false
}

func getDatabaseURL(driver string) string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	if driver == driverSQLite {
		return "lunch.db"
	}

	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "postgres")
	dbname := getEnv("DB_NAME", "lunchpick")
	sslmode := getEnv("DB_SSLMODE", "disable")

	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode,
	)
}

func getEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func splitList(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
