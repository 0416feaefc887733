package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"lunchpick/calendar"
	"lunchpick/logger"
)

//go:embed migrations
var migrationsFS embed.FS

const maxUsernameLength = 50

// bcryptCost はテストで下げられるように変数にしています
var bcryptCost = bcrypt.DefaultCost

func init() {
	sqlx.BindDriver(driverSQLite, sqlx.QUESTION)
}

// dataSourceName はドライバに渡す接続文字列を返します
func dataSourceName(cfg Config) string {
	if cfg.DBDriver == driverSQLite && !strings.Contains(cfg.DatabaseURL, "?") {
		// 同時書き込み時に SQLITE_BUSY で即失敗しないようにする
		return cfg.DatabaseURL + "?_pragma=busy_timeout(5000)"
	}
	return cfg.DatabaseURL
}

// connectDB はデータベースに接続します
func connectDB(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.Open(cfg.DBDriver, dataSourceName(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.DBDriver == driverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("Successfully connected to the database", "driver", cfg.DBDriver)

	return db, nil
}

// migrateDB は埋め込みのマイグレーションを適用します。
// マイグレーション用の接続は適用後に閉じます
func migrateDB(cfg Config) error {
	src, err := iofs.New(migrationsFS, "migrations/"+cfg.DBDriver)
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	conn, err := sql.Open(cfg.DBDriver, dataSourceName(cfg))
	if err != nil {
		src.Close()
		return fmt.Errorf("failed to open database: %w", err)
	}

	var driver database.Driver
	switch cfg.DBDriver {
	case driverPostgres:
		driver, err = migratepg.WithInstance(conn, &migratepg.Config{})
	case driverSQLite:
		driver, err = migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	default:
		err = fmt.Errorf("unsupported driver %q", cfg.DBDriver)
	}
	if err != nil {
		src.Close()
		conn.Close()
		return fmt.Errorf("failed to prepare migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, cfg.DBDriver, driver)
	if err != nil {
		src.Close()
		driver.Close()
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	logger.Info("Database schema is up to date", "version", version, "dirty", dirty)

	return nil
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// RegisterUser は新しいユーザーを登録し、その ID を返します
func RegisterUser(ctx context.Context, db *sqlx.DB, username, password, confirm string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return 0, ErrMissingField
	}
	if len(username) > maxUsernameLength {
		return 0, fmt.Errorf("%w: username longer than %d bytes", ErrValidation, maxUsernameLength)
	}
	if password != confirm {
		return 0, ErrPasswordMismatch
	}

	hashedPassword, err := hashPassword(password)
	if err != nil {
		return 0, err
	}

	var id int64
	query := db.Rebind("INSERT INTO users (username, password_hash) VALUES (?, ?) RETURNING id")
	if err := db.QueryRowxContext(ctx, query, username, hashedPassword).Scan(&id); err != nil {
		// 存在確認ではなく一意制約で重複を検出する
		if isUniqueViolation(err) {
			return 0, ErrDuplicateUsername
		}
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}

	return id, nil
}

// AuthenticateUser はユーザーのログイン認証を行います。
// ユーザーが存在しない場合もパスワードが違う場合も ErrInvalidCredentials を返します
func AuthenticateUser(ctx context.Context, db *sqlx.DB, username, password string) (Identity, error) {
	var u User
	query := db.Rebind("SELECT id, username, password_hash, is_admin FROM users WHERE username = ?")
	if err := db.GetContext(ctx, &u, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, fmt.Errorf("failed to get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Identity{}, ErrInvalidCredentials
	}

	return u.Identity(), nil
}

// GetIdentity はセッションに保存された ID からユーザーを読み込みます
func GetIdentity(ctx context.Context, db *sqlx.DB, id int64) (Identity, error) {
	var u User
	query := db.Rebind("SELECT id, username, is_admin FROM users WHERE id = ?")
	if err := db.GetContext(ctx, &u, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, fmt.Errorf("failed to get user: %w", err)
	}
	return u.Identity(), nil
}

// ListUsernames は全ユーザー名を登録順に返します
func ListUsernames(ctx context.Context, db *sqlx.DB) ([]string, error) {
	names := []string{}
	if err := db.SelectContext(ctx, &names, "SELECT username FROM users ORDER BY id ASC"); err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	return names, nil
}

// SetAdmin は管理者フラグを変更します
func SetAdmin(ctx context.Context, db *sqlx.DB, username string, isAdmin bool) error {
	query := db.Rebind("UPDATE users SET is_admin = ? WHERE username = ?")
	res, err := db.ExecContext(ctx, query, isAdmin, username)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return nil
}

// SeedDefaultUsers はユーザーが1人もいない場合だけ、共通パスワードでアカウントを作成します。
// 作成した件数を返します
func SeedDefaultUsers(ctx context.Context, db *sqlx.DB, names []string, defaultPassword string) (int, error) {
	var count int
	if err := db.GetContext(ctx, &count, "SELECT COUNT(*) FROM users"); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 || len(names) == 0 {
		return 0, nil
	}

	hashedPassword, err := hashPassword(defaultPassword)
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := tx.Rebind("INSERT INTO users (username, password_hash) VALUES (?, ?)")
	seen := make(map[string]bool, len(names))
	created := 0
	for _, name := range names {
		// Postgres ではトランザクション内の制約違反で以降の文が失敗するので、重複は先に除く
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, err := tx.ExecContext(ctx, query, name, hashedPassword); err != nil {
			return 0, fmt.Errorf("failed to insert user %q: %w", name, err)
		}
		created++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit seed users: %w", err)
	}

	logger.Warn("Seeded default users with a shared default password; ask them to change it",
		"count", created, "users", strings.Join(names, ","))

	return created, nil
}

// GetUserLunchesForMonth はユーザーのその月の選択を日付文字列をキーにして返します。
// 選択の無い日はキー自体が存在しません
func GetUserLunchesForMonth(ctx context.Context, db *sqlx.DB, username string, year, month int) (map[string]string, error) {
	start, end := calendar.MonthRange(year, month)

	var entries []LunchEntry
	query := db.Rebind(`
	SELECT CAST(lunch_date AS TEXT) AS lunch_date, COALESCE(lunch_choice, '') AS lunch_choice
	FROM lunches
	WHERE username = ? AND lunch_date BETWEEN ? AND ?`)
	if err := db.SelectContext(ctx, &entries, query, username, start, end); err != nil {
		return nil, fmt.Errorf("failed to query lunches: %w", err)
	}

	lunches := make(map[string]string, len(entries))
	for _, e := range entries {
		lunches[e.LunchDate] = e.LunchChoice
	}
	return lunches, nil
}

// GetAllLunchesForMonth は全ユーザーのその月の選択をユーザー名・日ごとにまとめて返します。
// 選択の無いユーザーは含まれないので、必要なら呼び出し側で補います
func GetAllLunchesForMonth(ctx context.Context, db *sqlx.DB, year, month int) (map[string]map[int]string, error) {
	start, end := calendar.MonthRange(year, month)

	var entries []LunchEntry
	query := db.Rebind(`
	SELECT username, CAST(lunch_date AS TEXT) AS lunch_date, COALESCE(lunch_choice, '') AS lunch_choice
	FROM lunches
	WHERE lunch_date BETWEEN ? AND ?
	ORDER BY username, lunch_date`)
	if err := db.SelectContext(ctx, &entries, query, start, end); err != nil {
		return nil, fmt.Errorf("failed to query lunches: %w", err)
	}

	data := make(map[string]map[int]string)
	for _, e := range entries {
		d, err := time.Parse(time.DateOnly, e.LunchDate)
		if err != nil {
			logger.Error("Failed to parse lunch date", "username", e.Username, "date", e.LunchDate, "error", err)
			continue
		}
		if data[e.Username] == nil {
			data[e.Username] = make(map[int]string)
		}
		data[e.Username][d.Day()] = e.LunchChoice
	}
	return data, nil
}

// SaveLunch はユーザーのその日の選択を保存します。today より前の日付は変更できません。
// choice の内容はここでは検証しません
func SaveLunch(ctx context.Context, db *sqlx.DB, username string, date time.Time, choice string, today time.Time) error {
	if username == "" {
		return ErrMissingField
	}

	key := calendar.DateKey(date.Year(), int(date.Month()), date.Day())
	todayKey := calendar.DateKey(today.Year(), int(today.Month()), today.Day())
	if key < todayKey {
		return ErrPastDateLocked
	}

	// (username, lunch_date) の一意制約に対する1文の upsert
	query := db.Rebind(`
	INSERT INTO lunches (username, lunch_date, lunch_choice)
	VALUES (?, ?, ?)
	ON CONFLICT (username, lunch_date) DO UPDATE SET lunch_choice = excluded.lunch_choice`)
	if _, err := db.ExecContext(ctx, query, username, key, choice); err != nil {
		return fmt.Errorf("failed to save lunch: %w", err)
	}

	return nil
}
