package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/msspconsole/console/internal/model"
	"github.com/msspconsole/console/internal/service"
)

// SessionCookie is the name of the cookie carrying the session token.
const SessionCookie = "token"

type contextKeyAuth string

// AuthPrincipalKey is the context key for the authenticated principal.
const AuthPrincipalKey contextKeyAuth = "auth_principal"

// Principal is the identity carried by a valid session token.
type Principal struct {
	Username string
	Role     model.Role
}

// SessionValidator checks a raw session token.
type SessionValidator interface {
	ValidateSession(token string) (*service.SessionClaims, error)
}

// Authenticate validates the session cookie and attaches a Principal to the
// request context. Missing or invalid sessions get a 401.
func Authenticate(sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromRequest(sessions, r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			notePrincipal(r.Context(), p)
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromRequest decodes the session cookie without rejecting the
// request. The second result is false when there is no valid session.
func PrincipalFromRequest(sessions SessionValidator, r *http.Request) (*Principal, bool) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return nil, false
	}
	claims, err := sessions.ValidateSession(cookie.Value)
	if err != nil {
		return nil, false
	}
	role, err := model.ParseRole(claims.Role)
	if err != nil {
		return nil, false
	}
	return &Principal{Username: claims.Username, Role: role}, true
}

// RequireRole rejects principals whose role is below min with a 403. It
// must be used after Authenticate in the middleware chain.
func RequireRole(min model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			if !principal.Role.AtLeast(min) {
				writeAuthError(w, http.StatusForbidden, "Access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireMainSuperAdmin admits only the main superadmin.
func RequireMainSuperAdmin() func(http.Handler) http.Handler {
	return RequireRole(model.RoleMainSuperAdmin)
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

type failure struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(failure{Success: false, Message: message})
}
