package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/msspconsole/console/internal/config"
	"github.com/msspconsole/console/internal/store"
)

// defaultDataDir returns ~/.console, or .console when the home directory
// is unknown.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".console"
	}
	return filepath.Join(home, ".console")
}

// resolve merges file, environment, and flags into a validated runtime
// configuration. Commands that never sign sessions pass needSecret false.
func (a *app) resolve(needSecret bool) (*config.Runtime, error) {
	cfg := config.FromViper(a.v)
	if cfg.Database.Driver == store.DriverSQLite && cfg.Database.DSN == "" && cfg.Database.DataDir == "" {
		cfg.Database.DataDir = defaultDataDir()
	}
	return cfg.Resolve(a.dev || !needSecret)
}

// openStore opens the credential store described by rt, creating the data
// directory for SQLite when needed.
func openStore(rt *config.Runtime) (*store.Store, error) {
	if rt.Store.Driver == store.DriverSQLite && rt.Store.DSN == "" && rt.Store.DataDir != "" {
		if err := os.MkdirAll(rt.Store.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.Open(rt.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// newLogger builds the process logger: text or JSON on stderr, debug level
// in dev mode.
func newLogger(w io.Writer, level, format string, dev bool) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if dev {
		lvl = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// readPassword prompts twice on the terminal and returns the password when
// both entries match.
func readPassword(out io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal for the password prompt; pass --password")
	}

	fmt.Fprint(out, "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Fprint(out, "Confirm password: ")
	confirm, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}

	if string(pw) != string(confirm) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pw), nil
}

// checkPassword applies the CLI's minimum password policy.
func checkPassword(pw string) error {
	if len(pw) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	return nil
}

// versionString returns a display version string.
func (a *app) versionString() string {
	if a.version == "" || a.version == "dev" {
		return "dev"
	}
	if strings.HasPrefix(a.version, "v") {
		return a.version
	}
	return "v" + a.version
}
