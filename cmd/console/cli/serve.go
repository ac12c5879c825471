package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/msspconsole/console/internal/logsource"
	"github.com/msspconsole/console/internal/model"
	"github.com/msspconsole/console/internal/server"
	"github.com/msspconsole/console/internal/service"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the console API server",
		Long:  "Start the HTTP server that exposes the console authentication and management API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a)
		},
	}

	cmd.Flags().IntP("port", "p", 3000, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	a.v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	a.v.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(ctx context.Context, a *app) error {
	rt, err := a.resolve(true)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := newLogger(os.Stderr, rt.LogLevel, rt.LogFormat, a.dev)
	if a.dev {
		logger.Warn("development mode: session cookie is not Secure")
		if a.v.GetString("auth.jwt_secret") == "" {
			logger.Warn("development mode: using the built-in JWT secret")
		}
	}

	// 1. Credential store
	st, err := openStore(rt)
	if err != nil {
		return err
	}
	logger.Info("store initialized", "driver", st.Driver())

	// 2. Services
	mfa := service.NewMFAService(st, rt.MFA)
	auth := service.NewAuthService(st, mfa, rt.JWTSecret, rt.SessionTTL)
	auth.SetLogger(logger)
	auth.SetBcryptCost(rt.BcryptCost)
	if rt.Guard != nil {
		auth.SetGuard(service.NewAttemptGuard(*rt.Guard))
		logger.Info("login lockout enabled", "max_failures", rt.Guard.MaxFailures, "base_delay", rt.Guard.BaseDelay)
	}
	accounts := service.NewAccountService(st, rt.BcryptCost)

	// 3. First run check
	n, err := st.CountUsersByRole(ctx, model.RoleMainSuperAdmin)
	if err != nil {
		logger.Warn("failed to check for the main superadmin", "error", err)
	} else if n == 0 {
		logger.Warn("no main superadmin found - run: console superadmin bootstrap")
	}

	// 4. HTTP server
	srvCfg := rt.Server
	srvCfg.Version = a.versionString()
	srv := server.New(srvCfg, server.Services{
		Store:    st,
		Auth:     auth,
		MFA:      mfa,
		Accounts: accounts,
		Scope:    service.NewScope(st),
		Logs:     logsource.New(rt.LogSource),
	}, logger)

	fmt.Printf("→ MSSP Console %s\n", a.versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", srvCfg.Host, srvCfg.Port)
	fmt.Println()

	return srv.ListenAndServe()
}
