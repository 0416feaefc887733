package main

import (
	"encoding/gob"
	"errors"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"

	"lunchpick/logger"
)

const (
	sessionName      = "session"
	sessionUserIDKey = "userID"
	identityKey      = "identity"
)

// Flash は次の画面で一度だけ表示するメッセージです
type Flash struct {
	Category string
	Message  string
}

func init() {
	gob.Register(Flash{})
}

// newSessionStore はクッキーベースのセッションストアを作成します
func newSessionStore(secret string, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// loadIdentity はセッションのユーザー ID を1リクエストに1回だけ解決し、コンテキストに保存します
func (a *App) loadIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := session.Get(sessionName, c)
		if err != nil {
			// 改ざんされたクッキーや鍵の変更。匿名として扱う
			logger.Debug("Failed to decode session", "error", err)
			return next(c)
		}

		userID, ok := sess.Values[sessionUserIDKey].(int64)
		if !ok {
			return next(c)
		}

		ident, err := GetIdentity(c.Request().Context(), a.db, userID)
		if errors.Is(err, ErrNotFound) {
			logger.Warn("Session refers to unknown user, clearing", "userID", userID)
			delete(sess.Values, sessionUserIDKey)
			if err := sess.Save(c.Request(), c.Response()); err != nil {
				logger.Error("Failed to save session", "error", err)
			}
			return next(c)
		}
		if err != nil {
			return err
		}

		c.Set(identityKey, ident)
		return next(c)
	}
}

// identityFrom はログイン中のユーザーを返します
func identityFrom(c echo.Context) (Identity, bool) {
	ident, ok := c.Get(identityKey).(Identity)
	return ident, ok
}

// requireAuth は未ログインのリクエストをログイン画面へリダイレクトします
func (a *App) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := identityFrom(c); !ok {
			return c.Redirect(http.StatusSeeOther, "/auth/login")
		}
		return next(c)
	}
}

// requireAuthJSON は JSON API 向けで、未ログインなら 401 を返します
func (a *App) requireAuthJSON(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := identityFrom(c); !ok {
			return c.JSON(http.StatusUnauthorized, lunchResponse{Status: "error", Message: "Authentification requise"})
		}
		return next(c)
	}
}

// requireAdmin は管理者以外をカレンダーへリダイレクトします。データは一切返しません
func (a *App) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ident, ok := identityFrom(c)
		if !ok || !ident.IsAdmin {
			logger.Info("Denied admin access", "username", ident.Username, "error", ErrUnauthorized)
			addFlash(c, "warning", "Accès réservé aux personnels du CSE")
			return c.Redirect(http.StatusSeeOther, "/calendar")
		}
		return next(c)
	}
}

// login はセッションにユーザー ID を保存します
func login(c echo.Context, ident Identity) error {
	sess, _ := session.Get(sessionName, c)
	sess.Values[sessionUserIDKey] = ident.ID
	sess.AddFlash(Flash{Category: "success", Message: "Connecté en tant que " + ident.Username})
	return sess.Save(c.Request(), c.Response())
}

// addFlash はフラッシュメッセージを追加してセッションを保存します
func addFlash(c echo.Context, category, message string) {
	sess, _ := session.Get(sessionName, c)
	sess.AddFlash(Flash{Category: category, Message: message})
	if err := sess.Save(c.Request(), c.Response()); err != nil {
		logger.Error("Failed to save session", "error", err)
	}
}

// popFlashes は未表示のフラッシュメッセージを取り出します
func popFlashes(c echo.Context) []Flash {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return nil
	}
	raw := sess.Flashes()
	if len(raw) == 0 {
		return nil
	}
	if err := sess.Save(c.Request(), c.Response()); err != nil {
		logger.Error("Failed to save session", "error", err)
	}

	flashes := make([]Flash, 0, len(raw))
	for _, f := range raw {
		if fl, ok := f.(Flash); ok {
			flashes = append(flashes, fl)
		}
	}
	return flashes
}
