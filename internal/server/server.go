package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/msspconsole/console/internal/handler"
	"github.com/msspconsole/console/internal/logsource"
	"github.com/msspconsole/console/internal/model"
	"github.com/msspconsole/console/internal/openapi"
	"github.com/msspconsole/console/internal/server/middleware"
	"github.com/msspconsole/console/internal/service"
	"github.com/msspconsole/console/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host               string
	Port               int
	ShutdownTimeout    time.Duration
	CORSOrigins        []string
	MaxBodySize        int64 // bytes
	LoginRatePerMinute int
	// TrustedProxies are the peers whose forwarding headers are honored.
	// Empty means every request is keyed on its socket address.
	TrustedProxies []netip.Prefix
	// SecureCookie marks the session cookie Secure. Only --dev turns it off.
	SecureCookie bool
	Version      string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               3000,
		ShutdownTimeout:    30 * time.Second,
		CORSOrigins:        []string{"http://localhost:5173"},
		MaxBodySize:        1 << 20, // 1MB
		LoginRatePerMinute: 30,
		SecureCookie:       true,
	}
}

// Services bundles the domain services the router dispatches to.
type Services struct {
	Store    *store.Store
	Auth     *service.AuthService
	MFA      *service.MFAService
	Accounts *service.AccountService
	Scope    *service.Scope
	Logs     *logsource.Client
}

// Server is the top-level HTTP server of the console. It owns the Chi
// router and the services behind it.
type Server struct {
	cfg        Config
	router     chi.Router
	svc        Services
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, svc Services, logger *slog.Logger) *Server {
	if svc.Scope == nil {
		svc.Scope = service.NewScope(svc.Store)
	}
	if svc.Logs == nil {
		svc.Logs = logsource.New(10 * time.Second)
	}
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.RealIP(s.cfg.TrustedProxies))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if s.cfg.MaxBodySize > 0 {
		r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
	}

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/openapi.json", s.handleOpenAPI)

	authH := handler.NewAuthHandler(s.svc.Auth, s.svc.MFA, s.cfg.SecureCookie, s.logger)
	clientH := handler.NewClientHandler(s.svc.Scope, s.svc.Logs, s.logger)
	accountH := handler.NewAccountHandler(s.svc.Accounts, s.svc.Scope, s.logger)

	r.Route("/api", func(r chi.Router) {
		// Session endpoints are unauthenticated. Login and enrollment are
		// throttled per client IP.
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if s.cfg.LoginRatePerMinute > 0 {
					r.Use(middleware.RateLimit(s.cfg.LoginRatePerMinute))
				}
				r.Post("/setup-mfa", authH.SetupMFA)
				r.Post("/login", authH.Login)
			})
			r.Post("/logout", authH.Logout)
			r.Get("/check", authH.Check)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.svc.Auth))
			r.Use(middleware.RequireRole(model.RoleAdmin))

			r.Get("/clients", clientH.List)
			r.Get("/clients/{id}", clientH.Get)
			r.Get("/clients/{id}/logs", clientH.Logs)
			r.Get("/clients/{id}/logstats", clientH.LogStats)

			r.Route("/admin", func(r chi.Router) {
				r.Post("/clients", clientH.Create)
				r.Put("/clients/{id}", clientH.Update)
				r.Delete("/clients/{id}", clientH.Delete)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(model.RoleSuperAdmin))

					r.Post("/clients/{id}/admins", clientH.Assign)
					r.Delete("/clients/{id}/admins/{adminId}", clientH.Unassign)

					r.Post("/admins", accountH.CreateAdmin)
					r.Get("/admins", accountH.ListAdmins)
					r.Get("/admins/{id}", accountH.GetAdmin)
					r.Get("/admins/{id}/clients", accountH.AdminClients)
					r.Put("/admins/{id}", accountH.UpdateAdmin)
					r.Patch("/admins/{id}/block", accountH.BlockAdmin)
				})

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireMainSuperAdmin())

					r.Post("/superadmins", accountH.CreateSuperAdmin)
					r.Get("/superadmins", accountH.ListSuperAdmins)
					r.Patch("/superadmins/{username}/block", accountH.BlockSuperAdmin)
				})
			})
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 503 when the credential store
// cannot be reached.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	checks := map[string]string{"store": "ok"}
	if err := s.svc.Store.Ping(r.Context()); err != nil {
		s.logger.Error("readiness check failed", "error", err)
		checks["store"] = "unavailable"
		status, code = "degraded", http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	doc := openapi.GenerateConsoleSpec(s.cfg.Version, "")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then drains in-flight requests and closes the store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Expired pending enrollments are swept in the background.
	go s.sweepPending(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := s.svc.Store.Close(); err != nil {
		s.logger.Warn("closing store", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) sweepPending(ctx context.Context) {
	pending := s.svc.MFA.Pending()
	if pending == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := pending.Sweep(); n > 0 {
				s.logger.Debug("expired pending enrollments swept", "count", n)
			}
		}
	}
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
