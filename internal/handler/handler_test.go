package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/msspconsole/console/internal/logsource"
	"github.com/msspconsole/console/internal/model"
	"github.com/msspconsole/console/internal/server/middleware"
	"github.com/msspconsole/console/internal/service"
	"github.com/msspconsole/console/internal/store"
)

const (
	testJWTSecret = "test-secret-for-handler-tests"
	testPassword  = "supersecretpassword"
)

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store    *store.Store
	auth     *service.AuthService
	mfa      *service.MFAService
	accounts *service.AccountService
	router   chi.Router
}

// newTestEnv mounts every handler behind Authenticate only, so role checks
// made inside the services are exercised without the router's role gates.
func newTestEnv(t *testing.T) *testEnv {
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
	scope := service.NewScope(st)

	authH := NewAuthHandler(auth, mfa, false, logger)
	clientH := NewClientHandler(scope, logsource.New(time.Second), logger)
	accountH := NewAccountHandler(accounts, scope, logger)

	r := chi.NewRouter()
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/setup-mfa", authH.SetupMFA)
		r.Post("/login", authH.Login)
		r.Post("/logout", authH.Logout)
		r.Get("/check", authH.Check)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(auth))
		r.Get("/api/clients", clientH.List)
		r.Get("/api/clients/{id}", clientH.Get)
		r.Get("/api/clients/{id}/logs", clientH.Logs)
		r.Get("/api/clients/{id}/logstats", clientH.LogStats)
		r.Post("/api/admin/clients", clientH.Create)
		r.Put("/api/admin/clients/{id}", clientH.Update)
		r.Delete("/api/admin/clients/{id}", clientH.Delete)
		r.Post("/api/admin/clients/{id}/admins", clientH.Assign)
		r.Delete("/api/admin/clients/{id}/admins/{adminId}", clientH.Unassign)
		r.Post("/api/admin/admins", accountH.CreateAdmin)
		r.Get("/api/admin/admins", accountH.ListAdmins)
		r.Get("/api/admin/admins/{id}", accountH.GetAdmin)
		r.Get("/api/admin/admins/{id}/clients", accountH.AdminClients)
		r.Put("/api/admin/admins/{id}", accountH.UpdateAdmin)
		r.Patch("/api/admin/admins/{id}/block", accountH.BlockAdmin)
		r.Post("/api/admin/superadmins", accountH.CreateSuperAdmin)
		r.Get("/api/admin/superadmins", accountH.ListSuperAdmins)
		r.Patch("/api/admin/superadmins/{username}/block", accountH.BlockSuperAdmin)
	})

	return &testEnv{store: st, auth: auth, mfa: mfa, accounts: accounts, router: r}
}

// seedAccount creates an account with testPassword.
func (e *testEnv) seedAccount(t *testing.T, username string, role model.Role) *model.User {
	t.Helper()
	in := service.NewAccount{
		Username:     username,
		Password:     testPassword,
		Name:         username,
		Email:        username + "@example.com",
		Organization: "SOC",
		City:         "Lyon",
		State:        "ARA",
	}
	var (
		u   *model.User
		err error
	)
	if role == model.RoleMainSuperAdmin {
		u, err = e.accounts.Bootstrap(context.Background(), username, testPassword, "")
	} else {
		u, err = e.accounts.Create(context.Background(), in, role)
	}
	if err != nil {
		t.Fatalf("seedAccount(%s): %v", username, err)
	}
	return u
}

// session returns a session cookie for u.
func (e *testEnv) session(t *testing.T, u *model.User) *http.Cookie {
	t.Helper()
	token, _, err := e.auth.IssueSession(u.Username, u.Role)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	return &http.Cookie{Name: middleware.SessionCookie, Value: token}
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
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

func sessionCookie(rr *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			return c
		}
	}
	return nil
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom: %v", err)
	}
	return code
}
