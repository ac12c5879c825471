package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/msspconsole/console/internal/model"
	"github.com/msspconsole/console/internal/server/middleware"
	"github.com/msspconsole/console/internal/service"
	"github.com/msspconsole/console/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testJWTSecret = "test-secret-for-jwt-integration-tests"
	testPassword  = "supersecretpassword"
)

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server   *Server
	store    *store.Store
	auth     *service.AuthService
	accounts *service.AccountService
}

// newTestEnv creates a fresh environment with an in-memory store and a
// fully wired Server.
func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	st, err := store.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("store.NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mfa := service.NewMFAService(st, service.DefaultMFAConfig())
	auth := service.NewAuthService(st, mfa, testJWTSecret, 0)
	auth.SetLogger(logger)
	auth.SetBcryptCost(service.MinBcryptCost)
	accounts := service.NewAccountService(st, service.MinBcryptCost)

	cfg := DefaultConfig()
	cfg.SecureCookie = false
	cfg.Version = "test"
	for _, m := range mutate {
		m(&cfg)
	}
	srv := New(cfg, Services{Store: st, Auth: auth, MFA: mfa, Accounts: accounts}, logger)

	return &testEnv{server: srv, store: st, auth: auth, accounts: accounts}
}

// seed creates an account with testPassword and returns a session cookie
// for it.
func (e *testEnv) seed(t *testing.T, username string, role model.Role) *http.Cookie {
	t.Helper()
	var err error
	if role == model.RoleMainSuperAdmin {
		_, err = e.accounts.Bootstrap(context.Background(), username, testPassword, "")
	} else {
		_, err = e.accounts.Create(context.Background(), service.NewAccount{
			Username:     username,
			Password:     testPassword,
			Name:         username,
			Email:        username + "@example.com",
			Organization: "SOC",
			City:         "Lyon",
			State:        "ARA",
		}, role)
	}
	if err != nil {
		t.Fatalf("seed(%s): %v", username, err)
	}
	token, _, err := e.auth.IssueSession(username, role)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	return &http.Cookie{Name: middleware.SessionCookie, Value: token}
}

// do executes an HTTP request against the test server and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "192.0.2.10:4711"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("jsonBody: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Probes
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	env.store.Close()
	rr = env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusServiceUnavailable)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeJSON(t, rr, &body)
	if body.Status != "degraded" || body.Checks["store"] != "unavailable" {
		t.Errorf("body = %+v", body)
	}
}

func TestOpenAPIDocument(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/openapi.json", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var doc struct {
		Info struct {
			Version string `json:"version"`
		} `json:"info"`
		Paths map[string]json.RawMessage `json:"paths"`
	}
	decodeJSON(t, rr, &doc)
	if doc.Info.Version != "test" {
		t.Errorf("version = %q", doc.Info.Version)
	}
	if _, ok := doc.Paths["/api/auth/login"]; !ok {
		t.Error("login path missing from document")
	}
}

// ---------------------------------------------------------------------------
// End-to-end login
// ---------------------------------------------------------------------------

func TestLoginThroughMFAEnrollment(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice", model.RoleAdmin)
	creds := map[string]string{"username": "alice", "password": testPassword}

	rr := env.do(t, "POST", "/api/auth/login", jsonBody(t, creds), nil)
	assertStatus(t, rr, http.StatusOK)
	var step model.LoginResponse
	decodeJSON(t, rr, &step)
	if !step.RequireMFASetup {
		t.Fatalf("expected MFA setup, got %+v", step)
	}

	rr = env.do(t, "POST", "/api/auth/setup-mfa", jsonBody(t, map[string]string{"username": "alice"}), nil)
	assertStatus(t, rr, http.StatusOK)
	var setup model.MFASetupResponse
	decodeJSON(t, rr, &setup)

	rr = env.do(t, "POST", "/api/auth/login", jsonBody(t, creds), nil)
	decodeJSON(t, rr, &step)
	if !step.RequireMFAToken {
		t.Fatalf("expected MFA token request, got %+v", step)
	}

	code, err := totp.GenerateCodeCustom(setup.Secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom: %v", err)
	}
	creds["totpCode"] = code
	rr = env.do(t, "POST", "/api/auth/login", jsonBody(t, creds), nil)
	assertStatus(t, rr, http.StatusOK)

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no session cookie set")
	}

	assertStatus(t, env.do(t, "GET", "/api/clients", nil, cookie), http.StatusOK)
	assertStatus(t, env.do(t, "GET", "/api/admin/admins", nil, cookie), http.StatusForbidden)
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.LoginRatePerMinute = 2 })
	creds := map[string]string{"username": "ghost", "password": "wrong"}

	for i := 0; i < 2; i++ {
		assertStatus(t, env.do(t, "POST", "/api/auth/login", jsonBody(t, creds), nil), http.StatusUnauthorized)
	}
	rr := env.do(t, "POST", "/api/auth/login", jsonBody(t, creds), nil)
	assertStatus(t, rr, http.StatusTooManyRequests)

	// Session checks are not throttled.
	assertStatus(t, env.do(t, "GET", "/api/auth/check", nil, nil), http.StatusOK)
}

// loginVia posts a failed login from the test peer with the given
// X-Forwarded-For value.
func (e *testEnv) loginVia(t *testing.T, forwardedFor string) int {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/auth/login",
		jsonBody(t, map[string]string{"username": "ghost", "password": "wrong"}))
	req.RemoteAddr = "192.0.2.10:4711"
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", forwardedFor)
	req.Header.Set("X-Real-IP", forwardedFor)
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr.Code
}

func TestLoginRateLimitIgnoresForwardingHeaders(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.LoginRatePerMinute = 2 })

	for i := 1; i <= 10; i++ {
		want := http.StatusUnauthorized
		if i > 2 {
			want = http.StatusTooManyRequests
		}
		if got := env.loginVia(t, fmt.Sprintf("198.51.100.%d", i)); got != want {
			t.Errorf("attempt %d: status %d, want %d", i, got, want)
		}
	}
}

func TestLoginRateLimitBehindTrustedProxy(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.LoginRatePerMinute = 2
		c.TrustedProxies = []netip.Prefix{netip.MustParsePrefix("192.0.2.0/24")}
	})

	// Each forwarded client has its own budget.
	for i := 1; i <= 5; i++ {
		if got := env.loginVia(t, fmt.Sprintf("198.51.100.%d", i)); got != http.StatusUnauthorized {
			t.Errorf("client %d: status %d, want 401", i, got)
		}
	}
	env.loginVia(t, "198.51.100.1")
	if got := env.loginVia(t, "198.51.100.1"); got != http.StatusTooManyRequests {
		t.Errorf("third attempt from one client: status %d, want 429", got)
	}
}

// ---------------------------------------------------------------------------
// Role gates
// ---------------------------------------------------------------------------

func TestRoleGates(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seed(t, "admin1", model.RoleAdmin)
	super := env.seed(t, "super1", model.RoleSuperAdmin)
	root := env.seed(t, "root", model.RoleMainSuperAdmin)

	tests := []struct {
		method string
		path   string
		cookie *http.Cookie
		want   int
	}{
		{"GET", "/api/clients", nil, http.StatusUnauthorized},
		{"GET", "/api/clients", admin, http.StatusOK},
		{"POST", "/api/admin/clients/1/admins", admin, http.StatusForbidden},
		{"DELETE", "/api/admin/clients/1/admins/2", admin, http.StatusForbidden},
		{"GET", "/api/admin/admins", admin, http.StatusForbidden},
		{"POST", "/api/admin/admins", admin, http.StatusForbidden},
		{"PATCH", "/api/admin/admins/1/block", admin, http.StatusForbidden},
		{"GET", "/api/admin/admins", super, http.StatusOK},
		{"GET", "/api/admin/superadmins", admin, http.StatusForbidden},
		{"GET", "/api/admin/superadmins", super, http.StatusForbidden},
		{"POST", "/api/admin/superadmins", super, http.StatusForbidden},
		{"PATCH", "/api/admin/superadmins/super1/block", super, http.StatusForbidden},
		{"GET", "/api/admin/superadmins", root, http.StatusOK},
		{"GET", "/api/admin/admins", root, http.StatusOK},
	}
	for _, tc := range tests {
		var body io.Reader
		if tc.method != "GET" && tc.method != "DELETE" {
			body = bytes.NewBufferString(`{}`)
		}
		rr := env.do(t, tc.method, tc.path, body, tc.cookie)
		if rr.Code != tc.want {
			t.Errorf("%s %s: status = %d, want %d; body = %s", tc.method, tc.path, rr.Code, tc.want, rr.Body.String())
		}
	}
}

func TestForgedRoleRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "admin1", model.RoleAdmin)

	forged, _, err := service.NewAuthService(env.store, nil, "another-secret", 0).IssueSession("admin1", model.RoleMainSuperAdmin)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	cookie := &http.Cookie{Name: middleware.SessionCookie, Value: forged}
	assertStatus(t, env.do(t, "GET", "/api/admin/superadmins", nil, cookie), http.StatusUnauthorized)
}

func TestSessionForDeletedAccount(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.seed(t, "admin1", model.RoleAdmin)

	u, err := env.store.FindByUsername(context.Background(), "admin1")
	if err != nil || u == nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if err := env.accounts.Delete(context.Background(), u.ID, model.RoleAdmin); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	assertStatus(t, env.do(t, "GET", "/api/clients", nil, cookie), http.StatusForbidden)
}

func TestCORSPreflightAllowsCredentials(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.CORSOrigins = []string{"https://console.example"} })

	req := httptest.NewRequest("OPTIONS", "/api/auth/login", nil)
	req.Header.Set("Origin", "https://console.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q", got)
	}
}

func TestRequestBodyLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxBodySize = 64 })
	big := map[string]string{"username": string(bytes.Repeat([]byte("a"), 256)), "password": "x"}
	assertStatus(t, env.do(t, "POST", "/api/auth/login", jsonBody(t, big), nil), http.StatusBadRequest)
}
