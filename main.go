package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jmoiron/sqlx"

	"lunchpick/logger"
)

var cli struct {
	EnvFile string `help:"Path to a .env file." default:".env"`
	Debug   bool   `help:"Enable debug logging." env:"DEBUG"`

	Serve   ServeCmd   `cmd:"" default:"1" help:"Run the HTTP server."`
	Migrate MigrateCmd `cmd:"" help:"Apply database migrations."`
	Seed    SeedCmd    `cmd:"" help:"Create the default users if the database is empty."`
	User    struct {
		Add     UserAddCmd     `cmd:"" help:"Create a user."`
		Promote UserPromoteCmd `cmd:"" help:"Grant admin access to a user."`
		Demote  UserDemoteCmd  `cmd:"" help:"Revoke admin access from a user."`
	} `cmd:"" help:"Manage users."`
	Hash HashCmd `cmd:"" help:"Print a bcrypt digest for a password."`
}

// runContext は各コマンドに渡される共通の状態です
type runContext struct {
	cfg Config
}

// openDB はマイグレーションを適用してから接続を返します
func (rc *runContext) openDB(ctx context.Context) (*sqlx.DB, error) {
	if err := migrateDB(rc.cfg); err != nil {
		return nil, err
	}
	return connectDB(ctx, rc.cfg)
}

// ServeCmd は HTTP サーバーを起動します
type ServeCmd struct{}

func (cmd *ServeCmd) Run(rc *runContext) error {
	if err := rc.cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := rc.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := bootstrapUsers(ctx, db, rc.cfg); err != nil {
		return err
	}

	app := NewApp(db, rc.cfg)
	e, err := newRouter(app, newSessionStore(rc.cfg.SessionSecret, rc.cfg.SecureCookie))
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "addr", "http://"+rc.cfg.Addr())
		if err := e.Start(rc.cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// bootstrapUsers は初期ユーザーの作成と ADMIN_USERS の管理者設定を行います
func bootstrapUsers(ctx context.Context, db *sqlx.DB, cfg Config) error {
	if _, err := SeedDefaultUsers(ctx, db, cfg.SeedUsers, cfg.SeedPassword); err != nil {
		return err
	}
	for _, name := range cfg.AdminUsers {
		if err := SetAdmin(ctx, db, name, true); err != nil {
			if errors.Is(err, ErrNotFound) {
				logger.Warn("ADMIN_USERS entry does not exist", "username", name)
				continue
			}
			return err
		}
	}
	return nil
}

// MigrateCmd はマイグレーションのみを適用します
type MigrateCmd struct{}

func (cmd *MigrateCmd) Run(rc *runContext) error {
	return migrateDB(rc.cfg)
}

// SeedCmd は初期ユーザーを作成します
type SeedCmd struct{}

func (cmd *SeedCmd) Run(rc *runContext) error {
	ctx := context.Background()
	db, err := rc.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := SeedDefaultUsers(ctx, db, rc.cfg.SeedUsers, rc.cfg.SeedPassword)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Println("Users already exist, nothing to seed.")
		return nil
	}
	fmt.Printf("Created %d user(s) with the default password. Ask them to change it.\n", n)
	return nil
}

type UserAddCmd struct {
	Username string `arg:"" help:"Username."`
	Password string `help:"Password." env:"LUNCHPICK_PASSWORD" required:""`
	Admin    bool   `help:"Grant admin access."`
}

func (cmd *UserAddCmd) Run(rc *runContext) error {
	ctx := context.Background()
	db, err := rc.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := RegisterUser(ctx, db, cmd.Username, cmd.Password, cmd.Password); err != nil {
		return err
	}
	if cmd.Admin {
		if err := SetAdmin(ctx, db, cmd.Username, true); err != nil {
			return err
		}
	}
	fmt.Printf("User '%s' registered successfully!\n", cmd.Username)
	return nil
}

type UserPromoteCmd struct {
	Username string `arg:"" help:"Username."`
}

func (cmd *UserPromoteCmd) Run(rc *runContext) error {
	return setAdminFlag(rc, cmd.Username, true)
}

type UserDemoteCmd struct {
	Username string `arg:"" help:"Username."`
}

func (cmd *UserDemoteCmd) Run(rc *runContext) error {
	return setAdminFlag(rc, cmd.Username, false)
}

func setAdminFlag(rc *runContext, username string, isAdmin bool) error {
	ctx := context.Background()
	db, err := rc.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := SetAdmin(ctx, db, username, isAdmin); err != nil {
		return err
	}
	fmt.Printf("User '%s' admin=%t\n", username, isAdmin)
	return nil
}

// HashCmd はパスワードのハッシュを表示します。手動で users テーブルを編集するとき用です
type HashCmd struct {
	Password string `arg:"" help:"Password to hash."`
}

func (cmd *HashCmd) Run(rc *runContext) error {
	hashed, err := hashPassword(cmd.Password)
	if err != nil {
		return err
	}
	fmt.Printf("Hashed Password: %s\n", hashed)
	return nil
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("lunchpick"),
		kong.Description("Daily lunch choices for a small team"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)

	loadEnvFile(cli.EnvFile)
	if cli.Debug {
		os.Setenv("DEBUG", "true")
	}

	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{Debug: cfg.Debug, Dir: cfg.LogDir}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := kctx.Run(&runContext{cfg: cfg}); err != nil {
		logger.Error("Command execution failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
