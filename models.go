package main

// User はユーザー情報を格納する構造体です
type User struct {
	ID           int64  `db:"id"`
	Username     string `db:"username"`
	PasswordHash string `db:"password_hash"`
	IsAdmin      bool   `db:"is_admin"`
}

// Identity はリクエストごとに解決されるログイン中ユーザーです
type Identity struct {
	ID       int64
	Username string
	IsAdmin  bool
}

func (u User) Identity() Identity {
	return Identity{ID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin}
}

// LunchEntry は1ユーザー1日分の昼食の選択です。(Username, LunchDate) で一意になります
type LunchEntry struct {
	ID          int64  `db:"id"`
	Username    string `db:"username"`
	LunchDate   string `db:"lunch_date"` // YYYY-MM-DD
	LunchChoice string `db:"lunch_choice"`
}

// DefaultLunchOptions は LUNCH_OPTIONS が未設定の場合のメニューです
var DefaultLunchOptions = []string{
	"🥗 Plat du jour",
	"🐟 Poisson",
	"🥩 Steak haché",
	"🍳 Œufs brouillés",
}

// DefaultUsers は初回起動時に作成される利用者の一覧です
var DefaultUsers = []string{"Alice", "Bob", "Charlie", "Diana"}
