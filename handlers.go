package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"

	"lunchpick/calendar"
	"lunchpick/logger"
)

// App はハンドラが共有する依存関係をまとめたものです
type App struct {
	db  *sqlx.DB
	cfg Config
	now func() time.Time
}

func NewApp(db *sqlx.DB, cfg Config) *App {
	return &App{db: db, cfg: cfg, now: time.Now}
}

// today は設定されたタイムゾーンでの現在時刻を返します
func (a *App) today() time.Time {
	return a.now().In(a.cfg.Location)
}

type saveLunchRequest struct {
	Day   int    `json:"day" form:"day"`
	Month int    `json:"month" form:"month"`
	Year  int    `json:"year" form:"year"`
	Lunch string `json:"lunch" form:"lunch"`
}

type lunchResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// indexHandler は登録済みユーザーの一覧を表示します。ログイン済みならカレンダーへ移動します
func (a *App) indexHandler(c echo.Context) error {
	if _, ok := identityFrom(c); ok {
		return c.Redirect(http.StatusSeeOther, "/calendar")
	}

	users, err := ListUsernames(c.Request().Context(), a.db)
	if err != nil {
		return err
	}
	return a.render(c, http.StatusOK, "index.html", map[string]interface{}{
		"users": users,
	})
}

// loginFormHandler はログインフォームを表示します
func (a *App) loginFormHandler(c echo.Context) error {
	return a.render(c, http.StatusOK, "login.html", map[string]interface{}{
		"username": "",
	})
}

// loginHandler はログイン認証処理を行います
func (a *App) loginHandler(c echo.Context) error {
	username := strings.TrimSpace(c.FormValue("username"))
	password := c.FormValue("password")

	if username == "" || password == "" {
		return a.render(c, http.StatusBadRequest, "login.html", map[string]interface{}{
			"username": username,
			"error":    "Veuillez renseigner le nom d'utilisateur et le mot de passe",
		})
	}

	ident, err := AuthenticateUser(c.Request().Context(), a.db, username, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			logger.Info("Failed login attempt", "username", username)
			// ユーザーの有無にかかわらず同じメッセージを返す
			return a.render(c, http.StatusUnauthorized, "login.html", map[string]interface{}{
				"username": username,
				"error":    "Identifiants invalides",
			})
		}
		return err
	}

	if err := login(c, ident); err != nil {
		logger.Error("Failed to save session", "error", err)
		return c.String(http.StatusInternalServerError, "Failed to login.")
	}
	logger.Info("User logged in", "username", ident.Username)
	return c.Redirect(http.StatusSeeOther, "/calendar")
}

// registerFormHandler は登録フォームを表示します
func (a *App) registerFormHandler(c echo.Context) error {
	return a.render(c, http.StatusOK, "register.html", map[string]interface{}{
		"username": "",
	})
}

// registerHandler はアカウントを作成します。入力の不備は同じフォームに表示します
func (a *App) registerHandler(c echo.Context) error {
	username := c.FormValue("username")
	password := c.FormValue("password")
	confirm := c.FormValue("confirm")

	_, err := RegisterUser(c.Request().Context(), a.db, username, password, confirm)
	if err != nil {
		var status int
		var message string
		switch {
		case errors.Is(err, ErrMissingField):
			status, message = http.StatusBadRequest, "Nom d'utilisateur et mot de passe requis"
		case errors.Is(err, ErrPasswordMismatch):
			status, message = http.StatusBadRequest, "Les mots de passe ne correspondent pas"
		case errors.Is(err, ErrDuplicateUsername):
			status, message = http.StatusConflict, "Le nom d'utilisateur existe déjà"
		case errors.Is(err, ErrValidation):
			status, message = http.StatusBadRequest, "Nom d'utilisateur ou mot de passe trop long"
		default:
			return err
		}
		return a.render(c, status, "register.html", map[string]interface{}{
			"username": username,
			"error":    message,
		})
	}

	logger.Info("User registered", "username", strings.TrimSpace(username))
	addFlash(c, "success", "Compte créé. Vous pouvez vous connecter.")
	return c.Redirect(http.StatusSeeOther, "/auth/login")
}

// logoutHandler はセッションを破棄してログアウト処理を行います
func (a *App) logoutHandler(c echo.Context) error {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return c.Redirect(http.StatusSeeOther, "/")
	}
	sess.Values = map[interface{}]interface{}{}
	sess.Options.MaxAge = -1

	if err = sess.Save(c.Request(), c.Response()); err != nil {
		logger.Error("Failed to save session", "error", err)
		return c.String(http.StatusInternalServerError, "Failed to log out.")
	}
	return c.Redirect(http.StatusSeeOther, "/")
}

// calendarHandler はログイン中のユーザー自身の月間カレンダーを表示します
func (a *App) calendarHandler(c echo.Context) error {
	ident, _ := identityFrom(c)
	today := a.today()

	year, month, err := calendar.ParseYearMonth(c.QueryParam("year"), c.QueryParam("month"), today)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Année ou mois invalide")
	}

	lunches, err := GetUserLunchesForMonth(c.Request().Context(), a.db, ident.Username, year, month)
	if err != nil {
		return err
	}

	return a.render(c, http.StatusOK, "calendar.html", map[string]interface{}{
		"username": ident.Username,
		"month":    calendar.NewMonth(year, month),
		"days":     calendar.ProjectUserMonth(year, month, lunches),
		"options":  a.cfg.LunchOptions,
		"today":    calendar.DateKey(today.Year(), int(today.Month()), today.Day()),
	})
}

// saveLunchHandler はログイン中のユーザーの昼食の選択を保存します
func (a *App) saveLunchHandler(c echo.Context) error {
	ident, _ := identityFrom(c)

	var req saveLunchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, lunchResponse{Status: "error", Message: "Requête invalide"})
	}

	date, err := lunchDate(req.Year, req.Month, req.Day)
	if err != nil {
		return c.JSON(http.StatusBadRequest, lunchResponse{Status: "error", Message: "Date invalide"})
	}

	// 台帳自体は内容を検証しないので、ここでメニューに含まれるかを確認する
	if req.Lunch != "" && !a.cfg.IsLunchOption(req.Lunch) {
		return c.JSON(http.StatusBadRequest, lunchResponse{Status: "error", Message: "Choix de déjeuner inconnu"})
	}

	if err := SaveLunch(c.Request().Context(), a.db, ident.Username, date, req.Lunch, a.today()); err != nil {
		if errors.Is(err, ErrPastDateLocked) {
			return c.JSON(http.StatusBadRequest, lunchResponse{Status: "error", Message: "Impossible de modifier un déjeuner passé."})
		}
		return err
	}

	logger.Debug("Lunch saved", "username", ident.Username, "date", date.Format(time.DateOnly), "lunch", req.Lunch)
	return c.JSON(http.StatusOK, lunchResponse{Status: "success"})
}

// adminHandler は全ユーザーの月間集計を表示します
func (a *App) adminHandler(c echo.Context) error {
	ctx := c.Request().Context()

	year, month, err := calendar.ParseYearMonth(c.QueryParam("year"), c.QueryParam("month"), a.today())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Année ou mois invalide")
	}

	users, err := ListUsernames(ctx, a.db)
	if err != nil {
		return err
	}
	data, err := GetAllLunchesForMonth(ctx, a.db, year, month)
	if err != nil {
		return err
	}

	return a.render(c, http.StatusOK, "admin.html", map[string]interface{}{
		"month":   calendar.NewMonth(year, month),
		"summary": calendar.ProjectAdminMonth(year, month, users, data),
	})
}

// healthHandler はデータベースへの接続を確認します
func (a *App) healthHandler(c echo.Context) error {
	if err := a.db.PingContext(c.Request().Context()); err != nil {
		logger.Error("Health check failed", "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// lunchDate は年月日が実在する日付かを確認して返します
func lunchDate(year, month, day int) (time.Time, error) {
	if month < 1 || month > 12 || day < 1 || day > calendar.DaysInMonth(year, month) || year < 1 || year > 9999 {
		return time.Time{}, ErrInvalidDate
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
}
