package handler

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/msspconsole/console/internal/model"
	"github.com/msspconsole/console/internal/server/middleware"
	"github.com/msspconsole/console/internal/service"
)

// AuthHandler serves the login flow under /api/auth.
type AuthHandler struct {
	auth         *service.AuthService
	mfa          *service.MFAService
	secureCookie bool
	logger       *slog.Logger
}

// NewAuthHandler creates a new AuthHandler. secureCookie marks the session
// cookie Secure and should be false only for local development over HTTP.
func NewAuthHandler(auth *service.AuthService, mfa *service.MFAService, secureCookie bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:         auth,
		mfa:          mfa,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

type setupMFARequest struct {
	Username string `json:"username"`
}

// SetupMFA issues a TOTP secret for an account that has none.
// POST /api/auth/setup-mfa
func (h *AuthHandler) SetupMFA(w http.ResponseWriter, r *http.Request) {
	var req setupMFARequest
	if err := readJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" {
		writeFailure(w, http.StatusBadRequest, "Username is required")
		return
	}

	enr, err := h.mfa.BeginEnrollment(r.Context(), req.Username)
	if err != nil {
		// Unknown, enrolled and blocked accounts look the same here.
		if errors.Is(err, service.ErrInvalidCredentials) ||
			errors.Is(err, service.ErrMFAAlreadyEnrolled) ||
			errors.Is(err, service.ErrAccountBlocked) {
			h.logger.Info("mfa enrollment refused", "username", req.Username, "reason", err)
			writeFailure(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		writeServiceError(w, r, h.logger, err, messages{})
		return
	}

	h.logger.Info("mfa enrollment started", "username", req.Username)
	writeJSON(w, http.StatusOK, model.MFASetupResponse{
		Success:     true,
		QRCode:      enr.QRCode,
		BackupCodes: enr.BackupCodes,
		Secret:      enr.Secret,
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTPCode string `json:"totpCode"`
}

// Login runs the password and MFA checks and sets the session cookie once
// both pass.
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeFailure(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	res, err := h.auth.Login(r.Context(), service.LoginRequest{
		Username:   req.Username,
		Password:   req.Password,
		TOTPCode:   req.TOTPCode,
		RemoteAddr: clientIP(r),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, messages{})
		return
	}

	switch res.State {
	case service.StateMFASetupRequired:
		writeJSON(w, http.StatusOK, model.LoginResponse{
			Success:         true,
			RequireMFASetup: true,
			Message:         "MFA setup required",
		})
	case service.StateMFATokenRequired:
		writeJSON(w, http.StatusOK, model.LoginResponse{
			Success:         true,
			RequireMFAToken: true,
			Message:         "MFA token required",
		})
	default:
		h.setSessionCookie(w, res.Token, res.ExpiresAt)
		writeJSON(w, http.StatusOK, model.LoginResponse{
			Success: true,
			Role:    res.Role.String(),
			Message: "Login successful",
		})
	}
}

// Logout clears the session cookie. Tokens are not tracked server side, so
// a copied token stays valid until it expires.
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, model.StatusResponse{Success: true, Message: "Logout successful"})
}

// Check reports whether the request carries a valid session.
// GET /api/auth/check
func (h *AuthHandler) Check(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromRequest(h.auth, r)
	if !ok {
		if _, err := r.Cookie(middleware.SessionCookie); err == nil {
			h.clearSessionCookie(w)
		}
		writeJSON(w, http.StatusOK, model.CheckResponse{Authenticated: false})
		return
	}
	writeJSON(w, http.StatusOK, model.CheckResponse{
		Authenticated: true,
		Role:          p.Role.String(),
		Username:      p.Username,
	})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(h.auth.SessionTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

// clientIP strips the port from RemoteAddr. RemoteAddr only reflects
// forwarding headers when the peer is a configured trusted proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
