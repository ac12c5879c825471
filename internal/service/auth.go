package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/msspconsole/console/internal/model"
	"github.com/msspconsole/console/internal/store"
)

// DefaultSessionTTL is the absolute lifetime of a session token.
const DefaultSessionTTL = 8 * time.Hour

const sessionIssuer = "mssp-console"

// LoginState is the outcome of a successful credential check.
type LoginState int

const (
	// StateMFASetupRequired means the password matched but the account has
	// no TOTP secret yet. No session is issued.
	StateMFASetupRequired LoginState = iota + 1
	// StateMFATokenRequired means the password matched and a code is needed.
	StateMFATokenRequired
	// StateAuthenticated means a session token was issued.
	StateAuthenticated
)

func (s LoginState) String() string {
	switch s {
	case StateMFASetupRequired:
		return "mfa_setup_required"
	case StateMFATokenRequired:
		return "mfa_token_required"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// LoginRequest carries one login attempt.
type LoginRequest struct {
	Username   string
	Password   string
	TOTPCode   string
	RemoteAddr string
}

// LoginResult is returned for every attempt that passed the password check.
type LoginResult struct {
	State     LoginState
	Role      model.Role
	Token     string
	ExpiresAt time.Time
}

// SessionClaims is the payload of a session token.
type SessionClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// AuthService runs the login flow and mints and checks session tokens.
type AuthService struct {
	store     *store.Store
	mfa       *MFAService
	guard     *AttemptGuard
	jwtSecret []byte
	ttl       time.Duration
	now       func() time.Time
	logger    *slog.Logger

	// Unknown usernames are checked against dummy, hashed at bcryptCost, so
	// they cost as much as a wrong password for a real account.
	bcryptCost int
	dummyOnce  sync.Once
	dummy      string
}

// NewAuthService creates the service. A zero ttl means DefaultSessionTTL.
func NewAuthService(st *store.Store, mfa *MFAService, jwtSecret string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &AuthService{
		store:      st,
		mfa:        mfa,
		jwtSecret:  []byte(jwtSecret),
		ttl:        ttl,
		now:        time.Now,
		logger:     slog.Default(),
		bcryptCost: DefaultBcryptCost,
	}
}

// SetGuard enables failed-attempt throttling. Passing nil disables it.
func (s *AuthService) SetGuard(g *AttemptGuard) {
	s.guard = g
}

// SetBcryptCost sets the cost of the hash unknown usernames are checked
// against. It should match the cost accounts are created with and must be
// called before the first login.
func (s *AuthService) SetBcryptCost(cost int) {
	s.bcryptCost = clampCost(cost)
}

func (s *AuthService) dummyHash() string {
	s.dummyOnce.Do(func() {
		hash, err := HashPassword("console-timing-equalizer", s.bcryptCost)
		if err != nil {
			s.logger.Error("generating dummy password hash", "error", err)
		}
		s.dummy = hash
	})
	return s.dummy
}

// SetLogger replaces the logger used for login outcomes.
func (s *AuthService) SetLogger(l *slog.Logger) {
	s.logger = l
}

// SetClock replaces the time source. Used by tests.
func (s *AuthService) SetClock(now func() time.Time) {
	s.now = now
}

// SessionTTL returns the lifetime of issued tokens.
func (s *AuthService) SessionTTL() time.Duration {
	return s.ttl
}

// Login evaluates one attempt. Errors are ErrInvalidCredentials,
// ErrAccountBlocked, ErrInvalidMFAToken, ErrTooManyAttempts or a wrapped
// store failure.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	key := GuardKey(req.Username, req.RemoteAddr)
	if s.guard != nil && !s.guard.Allow(key) {
		s.logger.Warn("login throttled", "username", req.Username, "remote", req.RemoteAddr)
		return nil, ErrTooManyAttempts
	}

	res, err := s.login(ctx, req)
	switch {
	case err == nil:
		if s.guard != nil && res.State == StateAuthenticated {
			s.guard.Reset(key)
		}
		s.logger.Info("login", "username", req.Username, "outcome", res.State.String())
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidMFAToken):
		if s.guard != nil {
			s.guard.Fail(key)
		}
		s.logger.Info("login rejected", "username", req.Username, "reason", err.Error())
	case errors.Is(err, ErrAccountBlocked):
		s.logger.Info("login rejected", "username", req.Username, "reason", err.Error())
	}
	return res, err
}

func (s *AuthService) login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	user, err := s.store.FindByUsername(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		CheckPassword(s.dummyHash(), req.Password)
		return nil, ErrInvalidCredentials
	}
	if user.Blocked {
		return nil, ErrAccountBlocked
	}
	if !CheckPassword(user.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}

	enrolled := user.HasMFA() || s.mfa.HasPending(user.Username)
	if !enrolled {
		return &LoginResult{State: StateMFASetupRequired, Role: user.Role}, nil
	}
	if req.TOTPCode == "" {
		return &LoginResult{State: StateMFATokenRequired, Role: user.Role}, nil
	}

	ok, err := s.mfa.Verify(ctx, user.Username, req.TOTPCode)
	if err != nil {
		return nil, fmt.Errorf("verify mfa: %w", err)
	}
	if !ok {
		return nil, ErrInvalidMFAToken
	}

	token, exp, err := s.IssueSession(user.Username, user.Role)
	if err != nil {
		return nil, err
	}
	return &LoginResult{State: StateAuthenticated, Role: user.Role, Token: token, ExpiresAt: exp}, nil
}

// IssueSession signs a token for username and role, valid for the session TTL.
func (s *AuthService) IssueSession(username string, role model.Role) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := SessionClaims{
		Username: username,
		Role:     role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    sessionIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, exp, nil
}

// ValidateSession verifies a token's signature and expiry. Any failure is
// reported as ErrInvalidCredentials.
func (s *AuthService) ValidateSession(tokenStr string) (*SessionClaims, error) {
	claims := &SessionClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	if _, err := model.ParseRole(claims.Role); err != nil {
		return nil, ErrInvalidCredentials
	}
	return claims, nil
}
