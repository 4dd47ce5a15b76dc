package login

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"prepq-backend/config"
	"prepq-backend/migrations"
)

func testConfig() config.Config {
	return config.Config{
		TokenSecret:     "test-secret",
		SessionDefault:  12 * time.Hour,
		SessionRemember: 30 * 24 * time.Hour,
	}
}

// setupUsersDB backs the migrations package with an embedded database. The
// user queries are dialect-portable, so the handlers run unmodified.
func setupUsersDB(t *testing.T) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		t.Fatalf("create users table: %v", err)
	}
	migrations.Init(db)
}

func newAuthRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func doJSON(r *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestToken_roundTrip(t *testing.T) {
	h := NewHandler(testConfig())
	token, exp, err := h.signToken("user@example.com", true, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expiry %v is not in the future", exp)
	}
	claims, err := h.parseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "user@example.com" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if !claims.Remember {
		t.Fatalf("remember flag lost")
	}
	if claims.ID == "" {
		t.Fatalf("token has no jti")
	}
}

func TestToken_expiredRejected(t *testing.T) {
	h := NewHandler(testConfig())
	token, _, err := h.signToken("user@example.com", false, -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := h.parseToken(token); err == nil {
		t.Fatalf("expired token accepted")
	}
}

func TestToken_wrongSecretRejected(t *testing.T) {
	h := NewHandler(testConfig())
	other := NewHandler(config.Config{TokenSecret: "different", SessionDefault: time.Hour, SessionRemember: time.Hour})
	token, _, err := h.signToken("user@example.com", false, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := other.parseToken(token); err == nil {
		t.Fatalf("token verified under the wrong secret")
	}
}

func TestToken_revokedRejected(t *testing.T) {
	h := NewHandler(testConfig())
	token, exp, err := h.signToken("user@example.com", false, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := h.parseToken(token)
	if err != nil {
		t.Fatalf("parse before revocation: %v", err)
	}
	h.revoke(claims.ID, exp)
	if _, err := h.parseToken(token); err == nil {
		t.Fatalf("revoked token accepted")
	}
}

func TestAuthFlow_registerLoginLogout(t *testing.T) {
	setupUsersDB(t)
	h := NewHandler(testConfig())
	r := newAuthRouter(h)

	reg := `{"first_name":"Asha","last_name":"Iyer","email":"Asha@Example.com","password":"correct horse"}`
	if w := doJSON(r, http.MethodPost, "/register", "", reg); w.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", w.Code, w.Body.String())
	}
	if w := doJSON(r, http.MethodPost, "/register", "", reg); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("duplicate register status = %d, want 422: %s", w.Code, w.Body.String())
	}

	if w := doJSON(r, http.MethodPost, "/login", "", `{"email":"asha@example.com","password":"wrong"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d, want 401", w.Code)
	}

	w := doJSON(r, http.MethodPost, "/login", "", `{"email":"asha@example.com","password":"correct horse"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
	}
	var loginBody struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
		User      struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &loginBody); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if loginBody.Token == "" || loginBody.User.Email != "asha@example.com" {
		t.Fatalf("login body = %s", w.Body.String())
	}

	if w := doJSON(r, http.MethodGet, "/session", loginBody.Token, ""); w.Code != http.StatusOK {
		t.Fatalf("session status = %d: %s", w.Code, w.Body.String())
	}

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set("Authorization", "Bearer "+loginBody.Token)
	ident, err := h.IdentityFromRequest(c)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if ident != "1" {
		t.Fatalf("identity = %q, want the user id", ident)
	}

	if w := doJSON(r, http.MethodPost, "/logout", loginBody.Token, ""); w.Code != http.StatusOK {
		t.Fatalf("logout status = %d", w.Code)
	}
	if w := doJSON(r, http.MethodGet, "/session", loginBody.Token, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("session after logout = %d, want 401", w.Code)
	}
}

func TestIdentityFromRequest_fallsBackToEmail(t *testing.T) {
	setupUsersDB(t)
	h := NewHandler(testConfig())
	token, _, err := h.signToken("gone@example.com", false, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set("Authorization", "Bearer "+token)
	ident, err := h.IdentityFromRequest(c)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if ident != "gone@example.com" {
		t.Fatalf("identity = %q, want the email claim", ident)
	}
}

func TestIdentityFromRequest_missingToken(t *testing.T) {
	h := NewHandler(testConfig())
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := h.IdentityFromRequest(c); !errors.Is(err, ErrNoToken) {
		t.Fatalf("err = %v, want ErrNoToken", err)
	}
}

func TestRefresh_rotatesAndRevokes(t *testing.T) {
	h := NewHandler(testConfig())
	r := newAuthRouter(h)

	// One hour left on a twelve-hour session puts it well past the
	// halfway mark, so refresh grants the full window again.
	token, exp, err := h.signToken("user@example.com", false, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	w := doJSON(r, http.MethodPost, "/refresh", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Token == token {
		t.Fatalf("refresh returned the same token")
	}
	if body.ExpiresAt <= exp.Unix() {
		t.Fatalf("expiry not extended: %d <= %d", body.ExpiresAt, exp.Unix())
	}
	if _, err := h.parseToken(token); err == nil {
		t.Fatalf("old token still valid after refresh")
	}
	if _, err := h.parseToken(body.Token); err != nil {
		t.Fatalf("new token rejected: %v", err)
	}
}

func TestChangePassword_flow(t *testing.T) {
	setupUsersDB(t)
	h := NewHandler(testConfig())
	r := newAuthRouter(h)

	reg := `{"first_name":"Ravi","last_name":"Nair","email":"ravi@example.com","password":"first password"}`
	if w := doJSON(r, http.MethodPost, "/register", "", reg); w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}
	w := doJSON(r, http.MethodPost, "/login", "", `{"email":"ravi@example.com","password":"first password"}`)
	var loginBody struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &loginBody); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	change := `{"old_password":"wrong","new_password":"second password"}`
	if w := doJSON(r, http.MethodPost, "/change-password", loginBody.Token, change); w.Code != http.StatusUnauthorized {
		t.Fatalf("change with wrong old password = %d, want 401", w.Code)
	}
	change = `{"old_password":"first password","new_password":"second password"}`
	if w := doJSON(r, http.MethodPost, "/change-password", loginBody.Token, change); w.Code != http.StatusOK {
		t.Fatalf("change password = %d: %s", w.Code, w.Body.String())
	}

	if w := doJSON(r, http.MethodPost, "/login", "", `{"email":"ravi@example.com","password":"first password"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("old password still accepted")
	}
	if w := doJSON(r, http.MethodPost, "/login", "", `{"email":"ravi@example.com","password":"second password"}`); w.Code != http.StatusOK {
		t.Fatalf("new password rejected: %d %s", w.Code, w.Body.String())
	}
}
