package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaultResolvesInDevMode(t *testing.T) {
	rt, err := Default().Resolve(true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rt.JWTSecret != DevJWTSecret {
		t.Errorf("JWTSecret = %q, want dev secret", rt.JWTSecret)
	}
	if rt.Server.SecureCookie {
		t.Error("dev mode should not mark the cookie Secure")
	}
	if rt.SessionTTL != 8*time.Hour {
		t.Errorf("SessionTTL = %v", rt.SessionTTL)
	}
	if rt.Server.MaxBodySize != 1000*1000 {
		t.Errorf("MaxBodySize = %d", rt.Server.MaxBodySize)
	}
	if rt.Guard != nil {
		t.Error("lockout should be off by default")
	}
	if rt.MFA.Skew != 2 || rt.MFA.PendingTTL != 10*time.Minute {
		t.Errorf("MFA = %+v", rt.MFA)
	}
}

func TestResolveRequiresSecretOutsideDev(t *testing.T) {
	_, err := Default().Resolve(false)
	if err == nil || !strings.Contains(err.Error(), "auth.jwt_secret") {
		t.Fatalf("err = %v, want jwt_secret error", err)
	}

	cfg := Default()
	cfg.Auth.JWTSecret = "s3cret"
	rt, err := cfg.Resolve(false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !rt.Server.SecureCookie {
		t.Error("production cookie must be Secure")
	}
}

func TestResolveCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWTSecret = "x"
	cfg.Server.Port = 0
	cfg.Auth.SessionTTL = "forever"
	cfg.Auth.BcryptCost = 4
	cfg.Database.Driver = "oracle"
	cfg.Log.Format = "xml"
	cfg.Server.TrustedProxies = []string{"proxy.internal"}

	_, err := cfg.Resolve(false)
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, key := range []string{"server.port", "server.trusted_proxies", "auth.session_ttl", "auth.bcrypt_cost", "database.driver", "log.format"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error does not mention %s: %v", key, err)
		}
	}
}

func TestResolveTrustedProxies(t *testing.T) {
	rt, err := Default().Resolve(true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(rt.Server.TrustedProxies) != 0 {
		t.Errorf("no proxy should be trusted by default, got %v", rt.Server.TrustedProxies)
	}

	cfg := Default()
	cfg.Server.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.1"}
	rt, err = cfg.Resolve(true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(rt.Server.TrustedProxies) != 2 || rt.Server.TrustedProxies[1].String() != "192.0.2.1/32" {
		t.Errorf("TrustedProxies = %v", rt.Server.TrustedProxies)
	}
}

func TestResolveDSNRequiredForServerDatabases(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWTSecret = "x"
	cfg.Database.Driver = "postgres"
	if _, err := cfg.Resolve(false); err == nil {
		t.Fatal("postgres without a DSN should fail")
	}
	cfg.Database.DSN = "postgres://console@localhost/console"
	rt, err := cfg.Resolve(false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rt.Store.Driver != "postgres" || rt.Store.DSN == "" {
		t.Errorf("Store = %+v", rt.Store)
	}
}

func TestResolveLockout(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWTSecret = "x"
	cfg.Auth.Lockout.Enabled = true
	rt, err := cfg.Resolve(false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rt.Guard == nil || rt.Guard.MaxFailures != 5 || rt.Guard.BaseDelay != 30*time.Second {
		t.Errorf("Guard = %+v", rt.Guard)
	}

	cfg.Auth.Lockout.MaxFailures = 0
	if _, err := cfg.Resolve(false); err == nil {
		t.Error("zero max_failures should fail")
	}
}

func TestLoadYAMLConfig(t *testing.T) {
	t.Setenv("TEST_CONSOLE_SECRET", "from-env")
	path := filepath.Join(t.TempDir(), "console.yaml")
	content := `
server:
  port: 8443
auth:
  jwt_secret: ${TEST_CONSOLE_SECRET}
mfa:
  pending_enrollment: true
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Server.Port != 8443 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("JWTSecret = %q", cfg.Auth.JWTSecret)
	}
	if !cfg.MFA.PendingEnrollment {
		t.Error("pending_enrollment not read")
	}
	if cfg.Auth.SessionTTL != "8h" {
		t.Errorf("unset keys should keep defaults, SessionTTL = %q", cfg.Auth.SessionTTL)
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.yaml")
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}
	if err := WriteDefaultConfig(path); err == nil {
		t.Error("second write should not overwrite the file")
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.MFA.Issuer != "MSSP Console" || cfg.Server.Port != 3000 {
		t.Errorf("round trip lost defaults: %+v", cfg)
	}
}

func TestMarshalMasksSecret(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWTSecret = "do-not-print"
	out, err := Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(out), "do-not-print") {
		t.Errorf("secret leaked:\n%s", out)
	}
	if cfg.Auth.JWTSecret != "do-not-print" {
		t.Error("Marshal must not modify its argument")
	}
}

func TestViperEnvOverrides(t *testing.T) {
	t.Setenv("CONSOLE_AUTH_JWT_SECRET", "env-secret")
	t.Setenv("CONSOLE_SERVER_PORT", "9000")
	t.Setenv("CONSOLE_AUTH_LOCKOUT_ENABLED", "true")
	chdir(t, t.TempDir())

	v := viper.New()
	if err := ConfigureViper(v, ""); err != nil {
		t.Fatalf("ConfigureViper: %v", err)
	}
	cfg := FromViper(v)
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Errorf("JWTSecret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if !cfg.Auth.Lockout.Enabled {
		t.Error("nested env override not applied")
	}
	if cfg.MFA.Issuer != "MSSP Console" {
		t.Errorf("Issuer default lost: %q", cfg.MFA.Issuer)
	}
}

func TestConfigureViperMissingExplicitFile(t *testing.T) {
	v := viper.New()
	if err := ConfigureViper(v, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("an explicit config file that does not exist should fail")
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent to testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
