package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient はクッキーを保持しながら echo に直接リクエストを送ります
type testClient struct {
	t       *testing.T
	e       *echo.Echo
	cookies map[string]*http.Cookie
}

func (tc *testClient) do(req *http.Request) *httptest.ResponseRecorder {
	tc.t.Helper()
	for _, c := range tc.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	tc.e.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(tc.cookies, c.Name)
			continue
		}
		tc.cookies[c.Name] = c
	}
	return rec
}

func (tc *testClient) get(target string) *httptest.ResponseRecorder {
	return tc.do(httptest.NewRequest(http.MethodGet, target, nil))
}

func (tc *testClient) postForm(target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	return tc.do(req)
}

func (tc *testClient) postJSON(target string, body interface{}) *httptest.ResponseRecorder {
	b, err := json.Marshal(body)
	require.NoError(tc.t, err)
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(string(b)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return tc.do(req)
}

func (tc *testClient) login(username, password string) {
	tc.t.Helper()
	rec := tc.postForm("/auth/login", url.Values{"username": {username}, "password": {password}})
	require.Equal(tc.t, http.StatusSeeOther, rec.Code, rec.Body.String())
	require.Equal(tc.t, "/calendar", rec.Header().Get(echo.HeaderLocation))
}

func newTestServer(t *testing.T) (*sqlx.DB, func() *testClient) {
	t.Helper()

	db := newTestDB(t)
	cfg := Config{
		SessionSecret: "test-secret",
		Location:      time.UTC,
		LunchOptions:  DefaultLunchOptions,
	}
	app := NewApp(db, cfg)
	app.now = func() time.Time { return time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC) }

	e, err := newRouter(app, newSessionStore(cfg.SessionSecret, false))
	require.NoError(t, err)

	_, err = SeedDefaultUsers(context.Background(), db, DefaultUsers, "password")
	require.NoError(t, err)

	newClient := func() *testClient {
		return &testClient{t: t, e: e, cookies: map[string]*http.Cookie{}}
	}
	return db, newClient
}

func decodeLunchResponse(t *testing.T, rec *httptest.ResponseRecorder) lunchResponse {
	t.Helper()
	var res lunchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestIndexHandler(t *testing.T) {
	_, newClient := newTestServer(t)
	c := newClient()

	rec := c.get("/")
	assert.Equal(t, http.StatusOK, rec.Code)
	for _, name := range DefaultUsers {
		assert.Contains(t, rec.Body.String(), name)
	}

	c.login("Alice", "password")
	rec = c.get("/")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/calendar", rec.Header().Get(echo.HeaderLocation))
}

func TestRegisterAndLogin(t *testing.T) {
	_, newClient := newTestServer(t)
	c := newClient()

	rec := c.postForm("/auth/register", url.Values{"username": {"Eve"}, "password": {"pw1"}, "confirm": {"pw1"}})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/login", rec.Header().Get(echo.HeaderLocation))

	rec = c.get("/auth/login")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Compte créé")

	rec = c.postForm("/auth/register", url.Values{"username": {"Eve"}, "password": {"pw2"}, "confirm": {"pw2"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "existe déjà")

	rec = c.postForm("/auth/register", url.Values{"username": {"Zed"}, "password": {"a"}, "confirm": {"b"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ne correspondent pas")

	c.login("Eve", "pw1")
	rec = c.get("/calendar")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "March 2024")
}

func TestLoginFailureIsGeneric(t *testing.T) {
	_, newClient := newTestServer(t)
	c := newClient()

	wrong := c.postForm("/auth/login", url.Values{"username": {"Alice"}, "password": {"bad"}})
	unknown := c.postForm("/auth/login", url.Values{"username": {"Nobody"}, "password": {"bad"}})

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Contains(t, wrong.Body.String(), "Identifiants invalides")
	assert.Contains(t, unknown.Body.String(), "Identifiants invalides")
	assert.Empty(t, c.cookies)

	missing := c.postForm("/auth/login", url.Values{"username": {"Alice"}})
	assert.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestAuthRequired(t *testing.T) {
	_, newClient := newTestServer(t)
	c := newClient()

	rec := c.get("/calendar")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/login", rec.Header().Get(echo.HeaderLocation))

	rec = c.get("/admin")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/login", rec.Header().Get(echo.HeaderLocation))

	rec = c.postJSON("/save_lunch", saveLunchRequest{Day: 12, Month: 3, Year: 2024, Lunch: "🐟 Poisson"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "error", decodeLunchResponse(t, rec).Status)
}

func TestSaveLunchHandler(t *testing.T) {
	db, newClient := newTestServer(t)
	c := newClient()
	c.login("Alice", "password")

	rec := c.postJSON("/save_lunch", saveLunchRequest{Day: 12, Month: 3, Year: 2024, Lunch: "🥩 Steak haché"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, lunchResponse{Status: "success"}, decodeLunchResponse(t, rec))

	rec = c.postJSON("/save_lunch", saveLunchRequest{Day: 10, Month: 3, Year: 2024, Lunch: "🐟 Poisson"})
	assert.Equal(t, http.StatusOK, rec.Code, "today is editable")

	rec = c.postJSON("/save_lunch", saveLunchRequest{Day: 9, Month: 3, Year: 2024, Lunch: "🐟 Poisson"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	res := decodeLunchResponse(t, rec)
	assert.Equal(t, "error", res.Status)
	assert.Equal(t, "Impossible de modifier un déjeuner passé.", res.Message)

	rec = c.postJSON("/save_lunch", saveLunchRequest{Day: 30, Month: 2, Year: 2025, Lunch: "🐟 Poisson"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.postJSON("/save_lunch", saveLunchRequest{Day: 13, Month: 3, Year: 2024, Lunch: "pizza"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.postJSON("/save_lunch", saveLunchRequest{Day: 14, Month: 3, Year: 2024, Lunch: ""})
	assert.Equal(t, http.StatusOK, rec.Code, "clearing a choice is allowed")

	got, err := GetUserLunchesForMonth(context.Background(), db, "Alice", 2024, 3)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"2024-03-10": "🐟 Poisson",
		"2024-03-12": "🥩 Steak haché",
		"2024-03-14": "",
	}, got)

	bob, err := GetUserLunchesForMonth(context.Background(), db, "Bob", 2024, 3)
	require.NoError(t, err)
	assert.Empty(t, bob, "saves are scoped to the logged-in user")
}

func TestCalendarHandler(t *testing.T) {
	_, newClient := newTestServer(t)
	c := newClient()
	c.login("Alice", "password")

	rec := c.get("/calendar?year=2024&month=12")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "December 2024")
	assert.Contains(t, body, "/calendar?year=2025&month=1")
	assert.Contains(t, body, "/calendar?year=2024&month=11")

	rec = c.get("/calendar?year=2024&month=13")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminHandler(t *testing.T) {
	db, newClient := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, SaveLunch(ctx, db, "Bob", date(2024, time.March, 20), "🐟 Poisson", date(2024, time.March, 1)))

	c := newClient()
	c.login("Alice", "password")

	rec := c.get("/admin")
	assert.Equal(t, http.StatusSeeOther, rec.Code, "non-admins are redirected")
	assert.Equal(t, "/calendar", rec.Header().Get(echo.HeaderLocation))
	assert.NotContains(t, rec.Body.String(), "Poisson")

	rec = c.get("/calendar")
	assert.Contains(t, rec.Body.String(), "Accès réservé aux personnels du CSE")

	// 管理者フラグはリクエストごとに読み直される
	require.NoError(t, SetAdmin(ctx, db, "Alice", true))

	rec = c.get("/admin?year=2024&month=3")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "🐟 Poisson")
	for _, name := range DefaultUsers {
		assert.Contains(t, body, name, "users without picks are still listed")
	}
}

func TestLogout(t *testing.T) {
	_, newClient := newTestServer(t)
	c := newClient()
	c.login("Alice", "password")

	rec := c.get("/auth/logout")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get(echo.HeaderLocation))

	rec = c.get("/calendar")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/login", rec.Header().Get(echo.HeaderLocation))
}

func TestSessionForDeletedUser(t *testing.T) {
	db, newClient := newTestServer(t)
	c := newClient()
	c.login("Alice", "password")

	_, err := db.Exec("DELETE FROM users WHERE username = ?", "Alice")
	require.NoError(t, err)

	rec := c.get("/calendar")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/login", rec.Header().Get(echo.HeaderLocation))
}

func TestHealthHandler(t *testing.T) {
	_, newClient := newTestServer(t)
	rec := newClient().get("/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
