// Package config loads the console configuration from an optional YAML file,
// CONSOLE_* environment variables, and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/msspconsole/console/internal/server"
	"github.com/msspconsole/console/internal/server/middleware"
	"github.com/msspconsole/console/internal/service"
	"github.com/msspconsole/console/internal/store"
)

// EnvPrefix is the prefix of every environment override, e.g.
// CONSOLE_AUTH_JWT_SECRET for auth.jwt_secret.
const EnvPrefix = "CONSOLE"

// DevJWTSecret signs sessions in --dev when no secret is configured.
const DevJWTSecret = "console-dev-secret-change-me"

// File represents the console configuration file.
type File struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	MFA       MFAConfig       `yaml:"mfa"`
	Log       LogConfig       `yaml:"log"`
	LogSource LogSourceConfig `yaml:"logsource"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	CORSOrigins     []string `yaml:"cors_origins"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
	MaxBodySize     string   `yaml:"max_body_size"`
	TrustedProxies  []string `yaml:"trusted_proxies"`
}

// DatabaseConfig selects the credential store backend.
type DatabaseConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	DataDir string `yaml:"data_dir"`
}

// AuthConfig controls passwords, sessions, and login throttling.
type AuthConfig struct {
	JWTSecret          string        `yaml:"jwt_secret"`
	SessionTTL         string        `yaml:"session_ttl"`
	BcryptCost         int           `yaml:"bcrypt_cost"`
	LoginRatePerMinute int           `yaml:"login_rate_per_minute"`
	Lockout            LockoutConfig `yaml:"lockout"`
}

// LockoutConfig enables the per-account attempt guard.
type LockoutConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MaxFailures int    `yaml:"max_failures"`
	BaseDelay   string `yaml:"base_delay"`
}

// MFAConfig controls TOTP enrollment.
type MFAConfig struct {
	Issuer            string `yaml:"issuer"`
	Skew              uint   `yaml:"skew"`
	PendingEnrollment bool   `yaml:"pending_enrollment"`
	PendingTTL        string `yaml:"pending_ttl"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LogSourceConfig controls calls to client log backends.
type LogSourceConfig struct {
	Timeout string `yaml:"timeout"`
}

// Default returns a File pre-filled with production defaults.
func Default() *File {
	return &File{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			CORSOrigins:     []string{"http://localhost:5173"},
			ShutdownTimeout: "30s",
			MaxBodySize:     "1MB",
		},
		Database: DatabaseConfig{
			Driver: store.DriverSQLite,
		},
		Auth: AuthConfig{
			SessionTTL:         "8h",
			BcryptCost:         service.DefaultBcryptCost,
			LoginRatePerMinute: 30,
			Lockout: LockoutConfig{
				MaxFailures: 5,
				BaseDelay:   "30s",
			},
		},
		MFA: MFAConfig{
			Issuer:     "MSSP Console",
			Skew:       2,
			PendingTTL: "10m",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		LogSource: LogSourceConfig{
			Timeout: "10s",
		},
	}
}

// LoadYAMLConfig reads and parses a YAML configuration file on top of the
// defaults. Environment variables referenced as ${VAR_NAME} in the file are
// expanded before parsing.
func LoadYAMLConfig(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// WriteDefaultConfig writes the default configuration to a YAML file. An
// existing file is left alone.
func WriteDefaultConfig(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Marshal renders cfg as YAML with the JWT secret masked.
func Marshal(cfg *File) ([]byte, error) {
	out := *cfg
	if out.Auth.JWTSecret != "" {
		out.Auth.JWTSecret = "********"
	}
	return yaml.Marshal(&out)
}

// ---------------------------------------------------------------------------
// Viper
// ---------------------------------------------------------------------------

// SetDefaults registers every key with its default so environment
// overrides resolve even when no file sets the key.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)
	v.SetDefault("server.trusted_proxies", d.Server.TrustedProxies)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.data_dir", d.Database.DataDir)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.session_ttl", d.Auth.SessionTTL)
	v.SetDefault("auth.bcrypt_cost", d.Auth.BcryptCost)
	v.SetDefault("auth.login_rate_per_minute", d.Auth.LoginRatePerMinute)
	v.SetDefault("auth.lockout.enabled", d.Auth.Lockout.Enabled)
	v.SetDefault("auth.lockout.max_failures", d.Auth.Lockout.MaxFailures)
	v.SetDefault("auth.lockout.base_delay", d.Auth.Lockout.BaseDelay)
	v.SetDefault("mfa.issuer", d.MFA.Issuer)
	v.SetDefault("mfa.skew", d.MFA.Skew)
	v.SetDefault("mfa.pending_enrollment", d.MFA.PendingEnrollment)
	v.SetDefault("mfa.pending_ttl", d.MFA.PendingTTL)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("logsource.timeout", d.LogSource.Timeout)
}

// ConfigureViper prepares v for the console: defaults, CONSOLE_ env
// overrides, and the optional console.yaml search path. The config file is
// read when present.
func ConfigureViper(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("console")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.console")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// FromViper builds a File from the merged viper view.
func FromViper(v *viper.Viper) *File {
	return &File{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			CORSOrigins:     v.GetStringSlice("server.cors_origins"),
			ShutdownTimeout: v.GetString("server.shutdown_timeout"),
			MaxBodySize:     v.GetString("server.max_body_size"),
			TrustedProxies:  v.GetStringSlice("server.trusted_proxies"),
		},
		Database: DatabaseConfig{
			Driver:  v.GetString("database.driver"),
			DSN:     v.GetString("database.dsn"),
			DataDir: v.GetString("database.data_dir"),
		},
		Auth: AuthConfig{
			JWTSecret:          v.GetString("auth.jwt_secret"),
			SessionTTL:         v.GetString("auth.session_ttl"),
			BcryptCost:         v.GetInt("auth.bcrypt_cost"),
			LoginRatePerMinute: v.GetInt("auth.login_rate_per_minute"),
			Lockout: LockoutConfig{
				Enabled:     v.GetBool("auth.lockout.enabled"),
				MaxFailures: v.GetInt("auth.lockout.max_failures"),
				BaseDelay:   v.GetString("auth.lockout.base_delay"),
			},
		},
		MFA: MFAConfig{
			Issuer:            v.GetString("mfa.issuer"),
			Skew:              v.GetUint("mfa.skew"),
			PendingEnrollment: v.GetBool("mfa.pending_enrollment"),
			PendingTTL:        v.GetString("mfa.pending_ttl"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		LogSource: LogSourceConfig{
			Timeout: v.GetString("logsource.timeout"),
		},
	}
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// Runtime is a validated configuration with parsed durations and sizes.
type Runtime struct {
	Server     server.Config
	Store      store.Options
	JWTSecret  string
	SessionTTL time.Duration
	BcryptCost int
	// Guard is nil unless auth.lockout.enabled is set.
	Guard     *service.GuardConfig
	MFA       service.MFAConfig
	LogLevel  string
	LogFormat string
	LogSource time.Duration
}

// Resolve validates cfg and converts it into component configurations.
// Outside dev mode a JWT secret is mandatory; in dev mode a fixed secret is
// substituted and the session cookie is not marked Secure.
func (cfg *File) Resolve(dev bool) (*Runtime, error) {
	var errs []error
	dur := func(key, value string) time.Duration {
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, value))
		}
		return d
	}

	rt := &Runtime{
		Server: server.Config{
			Host:               cfg.Server.Host,
			Port:               cfg.Server.Port,
			CORSOrigins:        cfg.Server.CORSOrigins,
			ShutdownTimeout:    dur("server.shutdown_timeout", cfg.Server.ShutdownTimeout),
			LoginRatePerMinute: cfg.Auth.LoginRatePerMinute,
			SecureCookie:       !dev,
		},
		Store: store.Options{
			Driver:  cfg.Database.Driver,
			DSN:     cfg.Database.DSN,
			DataDir: cfg.Database.DataDir,
		},
		JWTSecret:  cfg.Auth.JWTSecret,
		SessionTTL: dur("auth.session_ttl", cfg.Auth.SessionTTL),
		BcryptCost: cfg.Auth.BcryptCost,
		MFA: service.MFAConfig{
			Issuer:     cfg.MFA.Issuer,
			Skew:       cfg.MFA.Skew,
			Pending:    cfg.MFA.PendingEnrollment,
			PendingTTL: dur("mfa.pending_ttl", cfg.MFA.PendingTTL),
		},
		LogLevel:  strings.ToLower(cfg.Log.Level),
		LogFormat: strings.ToLower(cfg.Log.Format),
		LogSource: dur("logsource.timeout", cfg.LogSource.Timeout),
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", cfg.Server.Port))
	}
	size, err := humanize.ParseBytes(cfg.Server.MaxBodySize)
	if err != nil {
		errs = append(errs, fmt.Errorf("server.max_body_size: %w", err))
	}
	rt.Server.MaxBodySize = int64(size)
	proxies, err := middleware.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		errs = append(errs, fmt.Errorf("server.trusted_proxies: %w", err))
	}
	rt.Server.TrustedProxies = proxies

	switch cfg.Database.Driver {
	case store.DriverSQLite, store.DriverPostgres, store.DriverMySQL:
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported driver %q", cfg.Database.Driver))
	}
	if cfg.Database.Driver != store.DriverSQLite && cfg.Database.DSN == "" {
		errs = append(errs, fmt.Errorf("database.dsn: required for driver %q", cfg.Database.Driver))
	}

	if rt.JWTSecret == "" {
		if !dev {
			errs = append(errs, errors.New("auth.jwt_secret: required outside --dev"))
		}
		rt.JWTSecret = DevJWTSecret
	}
	if rt.BcryptCost < service.MinBcryptCost {
		errs = append(errs, fmt.Errorf("auth.bcrypt_cost: must be at least %d", service.MinBcryptCost))
	}

	if cfg.Auth.Lockout.Enabled {
		rt.Guard = &service.GuardConfig{
			MaxFailures: cfg.Auth.Lockout.MaxFailures,
			BaseDelay:   dur("auth.lockout.base_delay", cfg.Auth.Lockout.BaseDelay),
		}
		if rt.Guard.MaxFailures <= 0 {
			errs = append(errs, errors.New("auth.lockout.max_failures: must be positive"))
		}
	}

	switch rt.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", cfg.Log.Level))
	}
	switch rt.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", cfg.Log.Format))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return rt, nil
}
