package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhitoshanand/portfolio/config"
	"github.com/abhitoshanand/portfolio/content"
	"github.com/abhitoshanand/portfolio/storage"
	"github.com/abhitoshanand/portfolio/theme"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fixture struct {
	srv    *Server
	engine *gin.Engine
	db     *storage.DB
	cfg    *config.Config
}

func newFixture(t *testing.T, withDB bool) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Mode = gin.TestMode
	cfg.Admin = config.AdminConfig{Username: "owner", Password: "hunter2"}

	profile, err := content.Default()
	require.NoError(t, err)

	var db *storage.DB
	open := func(string) theme.Store { return nil }
	if withDB {
		db, err = storage.Open(filepath.Join(t.TempDir(), "portfolio.db"))
		require.NoError(t, err)
		open = func(p string) theme.Store { return db.Preferences(p) }
	}

	srv, err := New(Options{
		Config:  cfg,
		Content: content.StaticSource(profile),
		Themes:  theme.NewRegistry(open, time.Hour, nil),
		DB:      db,
	})
	require.NoError(t, err)
	engine, err := srv.Engine()
	require.NoError(t, err)

	t.Cleanup(func() {
		srv.Wait()
		if db != nil {
			db.Close()
		}
	})
	return &fixture{srv: srv, engine: engine, db: db, cfg: cfg}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func cookieValue(rec *httptest.ResponseRecorder, name string) string {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func withProfile(req *http.Request, profile string) *http.Request {
	req.AddCookie(&http.Cookie{Name: "pf_profile", Value: profile})
	return req
}

func TestIndexRendersPage(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `data-theme="light"`)
	assert.Contains(t, body, "Abhitosh Anand")
	assert.Contains(t, body, "Physics Lab Setup")
	assert.Contains(t, body, `href="tel:&#43;916200413098"`)
	assert.NotContains(t, body, "ZgotmplZ")
	assert.Contains(t, body, "<p>As a Physics enthusiast", "about markdown is rendered, not escaped")
	for _, id := range content.Blocks() {
		assert.Contains(t, body, `data-reveal-block="`+id+`"`)
	}
	assert.Contains(t, body, `data-hidden="opacity:0;transform:translate(0px,100px)"`)
	assert.Equal(t, "Sec-CH-Prefers-Color-Scheme", rec.Header().Get("Accept-CH"))
	assert.Equal(t, "Sec-CH-Prefers-Color-Scheme", rec.Header().Get("Critical-CH"))

	profile := cookieValue(rec, "pf_profile")
	assert.NoError(t, uuid.Validate(profile))
}

func TestToggleThenRenderDark(t *testing.T) {
	f := newFixture(t, true)
	profile := uuid.NewString()

	req := withProfile(httptest.NewRequest(http.MethodPost, "/theme/toggle", nil), profile)
	req.Header.Set("Accept", "application/json")
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp themeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, themeResponse{IsDark: true, Theme: "dark"}, resp)

	stored, ok, err := f.db.Preferences(profile).Get(theme.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dark", stored)

	rec = f.do(withProfile(httptest.NewRequest(http.MethodGet, "/", nil), profile))
	assert.Contains(t, rec.Body.String(), `class="dark"`)
	assert.Contains(t, rec.Body.String(), `data-theme="dark"`)

	other := f.do(withProfile(httptest.NewRequest(http.MethodGet, "/theme", nil), uuid.NewString()))
	assert.JSONEq(t, `{"isDark":false,"theme":"light"}`, other.Body.String())
}

func TestToggleFormPostRedirects(t *testing.T) {
	f := newFixture(t, true)
	profile := uuid.NewString()

	req := withProfile(httptest.NewRequest(http.MethodPost, "/theme/toggle", nil), profile)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec := f.do(req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	rec = f.do(withProfile(httptest.NewRequest(http.MethodGet, "/theme", nil), profile))
	assert.JSONEq(t, `{"isDark":true,"theme":"dark"}`, rec.Body.String())
}

func TestPersistedPreferenceSurvivesNewSession(t *testing.T) {
	f := newFixture(t, true)
	profile := uuid.NewString()
	require.NoError(t, f.db.Preferences(profile).Set(theme.Key, "dark"))

	rec := f.do(withProfile(httptest.NewRequest(http.MethodGet, "/theme", nil), profile))
	assert.JSONEq(t, `{"isDark":true,"theme":"dark"}`, rec.Body.String())
}

func TestClientHintSetsDefault(t *testing.T) {
	f := newFixture(t, true)

	req := httptest.NewRequest(http.MethodGet, "/theme", nil)
	req.Header.Set("Sec-CH-Prefers-Color-Scheme", `"dark"`)
	rec := f.do(req)
	assert.JSONEq(t, `{"isDark":true,"theme":"dark"}`, rec.Body.String())
}

func TestDefaultThemeStableAcrossHintAndSweep(t *testing.T) {
	f := newFixture(t, true)
	f.srv.themes = theme.NewRegistry(func(p string) theme.Store { return f.db.Preferences(p) }, time.Nanosecond, nil)
	profile := uuid.NewString()

	getTheme := func(hint string) string {
		req := withProfile(httptest.NewRequest(http.MethodGet, "/theme", nil), profile)
		if hint != "" {
			req.Header.Set("Sec-CH-Prefers-Color-Scheme", hint)
		}
		return f.do(req).Body.String()
	}

	assert.JSONEq(t, `{"isDark":false,"theme":"light"}`, getTheme(""))
	assert.JSONEq(t, `{"isDark":false,"theme":"light"}`, getTheme(`"dark"`))

	time.Sleep(time.Millisecond)
	require.Equal(t, 1, f.srv.themes.Sweep())
	assert.Equal(t, 0, f.srv.themes.Len())

	assert.JSONEq(t, `{"isDark":false,"theme":"light"}`, getTheme(`"dark"`), "the theme only changes through toggle")

	stored, ok, err := f.db.Preferences(profile).Get(theme.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "light", stored)
}

func TestInvalidProfileCookieIsReplaced(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(withProfile(httptest.NewRequest(http.MethodGet, "/theme", nil), "../../etc"))
	profile := cookieValue(rec, "pf_profile")
	assert.NoError(t, uuid.Validate(profile))
	assert.NotEqual(t, "../../etc", profile)
}

func TestWithoutDatabaseThemeIsMemoryOnly(t *testing.T) {
	f := newFixture(t, false)
	profile := uuid.NewString()

	req := withProfile(httptest.NewRequest(http.MethodPost, "/theme/toggle", nil), profile)
	req.Header.Set("Accept", "application/json")
	assert.JSONEq(t, `{"isDark":true,"theme":"dark"}`, f.do(req).Body.String())

	rec := f.do(withProfile(httptest.NewRequest(http.MethodGet, "/theme", nil), profile))
	assert.JSONEq(t, `{"isDark":true,"theme":"dark"}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealthWithoutDatabase(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReportsUnreachableDatabase(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.db.Close())

	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","database":"unavailable"}`, rec.Body.String())
}

func TestStaticAssets(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/static/app.js", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/ws/viewport")

	rec = f.do(httptest.NewRequest(http.MethodGet, "/static/app.css", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scroll-behavior: smooth", "nav anchors scroll smoothly")
}

func TestVisitorTracking(t *testing.T) {
	f := newFixture(t, true)

	f.do(httptest.NewRequest(http.MethodGet, "/", nil))
	dnt := httptest.NewRequest(http.MethodGet, "/", nil)
	dnt.Header.Set("DNT", "1")
	f.do(dnt)
	f.do(httptest.NewRequest(http.MethodGet, "/static/app.css", nil))
	f.srv.Wait()

	stats, err := f.db.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalVisitors)
	require.Len(t, stats.RecentVisitors, 1)
	assert.Len(t, stats.RecentVisitors[0].HashedIP, 16)
}

// viewport session helpers

func dialViewport(t *testing.T, f *fixture, profile string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(f.engine)
	t.Cleanup(ts.Close)

	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/viewport"
	header := http.Header{}
	header.Set("Cookie", (&http.Cookie{Name: "pf_profile", Value: profile}).String())
	conn, _, err := websocket.DefaultDialer.Dial(u, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) serverMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg serverMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestViewportRevealsEachBlockOnce(t *testing.T) {
	f := newFixture(t, true)
	profile := uuid.NewString()
	conn := dialViewport(t, f, profile)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "hello", Intersection: true}))
	for _, id := range content.Blocks() {
		msg := readMessage(t, conn)
		assert.Equal(t, "observe", msg.Type)
		assert.Equal(t, id, msg.Block)
		require.NotNil(t, msg.Threshold)
		assert.Equal(t, 0.25, *msg.Threshold)
	}

	for _, r := range []float64{0.0, 0.1, 0.3, 0.1, 0.9} {
		require.NoError(t, conn.WriteJSON(clientMessage{Type: "visibility", Block: "education", Ratio: r}))
	}
	assert.Equal(t, serverMessage{Type: "reveal", Block: "education"}, readMessage(t, conn))

	// The next message must be for contact: education never fires again.
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "visibility", Block: "education", Ratio: 1}))
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "visibility", Block: "contact", Ratio: 1}))
	assert.Equal(t, serverMessage{Type: "reveal", Block: "contact"}, readMessage(t, conn))

	assert.Eventually(t, func() bool {
		stats, err := f.db.Stats()
		return err == nil && len(stats.Reveals) == 2
	}, 2*time.Second, 20*time.Millisecond)
}

func TestViewportUnmountSuppressesReveal(t *testing.T) {
	f := newFixture(t, false)
	conn := dialViewport(t, f, uuid.NewString())

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "hello", Intersection: true}))
	for range content.Blocks() {
		readMessage(t, conn)
	}

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "unmount", Block: "projects"}))
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "visibility", Block: "projects", Ratio: 1}))
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "visibility", Block: "about", Ratio: 1}))
	assert.Equal(t, serverMessage{Type: "reveal", Block: "about"}, readMessage(t, conn))
}

func TestViewportWithoutIntersectionRevealsImmediately(t *testing.T) {
	f := newFixture(t, false)
	conn := dialViewport(t, f, uuid.NewString())

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "hello", Intersection: false}))
	for _, id := range content.Blocks() {
		assert.Equal(t, serverMessage{Type: "reveal", Block: id}, readMessage(t, conn))
	}
}

func TestViewportRequiresHello(t *testing.T) {
	f := newFixture(t, false)
	conn := dialViewport(t, f, uuid.NewString())

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "visibility", Block: "about", Ratio: 1}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg serverMessage
	assert.Error(t, conn.ReadJSON(&msg))
}

// admin

func TestAdminLogin(t *testing.T) {
	f := newFixture(t, true)

	bad := url.Values{"username": {"owner"}, "password": {"wrong"}}
	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(bad.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid credentials")

	good := url.Values{"username": {"owner"}, "password": {"hunter2"}}
	req = httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(good.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = f.do(req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/admin/dashboard", rec.Header().Get("Location"))
	token := cookieValue(rec, adminCookie)
	require.NotEmpty(t, token)

	req = httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: adminCookie, Value: token})
	rec = f.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Dashboard")

	req = httptest.NewRequest(http.MethodGet, "/admin/api/stats", nil)
	req.AddCookie(&http.Cookie{Name: adminCookie, Value: token})
	rec = f.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	var stats storage.Stats
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
}

func TestAdminRequiresToken(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/admin/login", rec.Header().Get("Location"))

	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: adminCookie, Value: "forged"})
	rec = f.do(req)
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestAdminLoginDisabledWithoutCredentials(t *testing.T) {
	f := newFixture(t, true)
	f.cfg.Admin = config.AdminConfig{}

	form := url.Values{"username": {""}, "password": {""}}
	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)
}

func TestAdminDashboardWithoutDatabase(t *testing.T) {
	f := newFixture(t, false)

	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: adminCookie, Value: f.srv.adminToken})
	assert.Equal(t, http.StatusServiceUnavailable, f.do(req).Code)
}

func TestPrivacyPage(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/privacy", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "salted hash")
}
