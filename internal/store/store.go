package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Supported values for Options.Driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Options selects and locates the backing database.
type Options struct {
	// Driver is one of sqlite (default), postgres or mysql.
	Driver string
	// DSN is the driver-specific connection string. For sqlite it may be
	// left empty, in which case DataDir decides the file location.
	DSN string
	// DataDir holds console.db when Driver is sqlite and DSN is empty.
	// Both empty means an in-memory database.
	DataDir string
}

// Store persists console accounts, monitored clients and the assignments
// between them. All uniqueness rules live in the schema so that concurrent
// writers cannot both succeed.
type Store struct {
	db     *sqlx.DB
	driver string
}

// NewStore opens a SQLite store under dataDir. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	return Open(Options{Driver: DriverSQLite, DataDir: dataDir})
}

// Open connects to the configured database and applies migrations.
func Open(opts Options) (*Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = openSQLite(opts)
	case DriverPostgres:
		if opts.DSN == "" {
			return nil, fmt.Errorf("postgres requires a DSN")
		}
		db, err = sqlx.Connect("pgx", opts.DSN)
	case DriverMySQL:
		db, err = openMySQL(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open console database: %w", err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate console database: %w", err)
	}
	return s, nil
}

func openSQLite(opts Options) (*sqlx.DB, error) {
	dsn := opts.DSN
	if dsn == "" {
		if opts.DataDir == "" {
			dsn = ":memory:?_journal_mode=WAL"
		} else {
			if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			dsn = filepath.Join(opts.DataDir, "console.db") + "?_journal_mode=WAL&_busy_timeout=5000"
		}
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// openMySQL forces the DSN options the store relies on: parseTime so DATETIME
// columns scan into time.Time, and clientFoundRows so an UPDATE that leaves a
// row unchanged still reports it as matched.
func openMySQL(dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("mysql requires a DSN")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	return sqlx.Connect("mysql", cfg.FormatDSN())
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the name of the backing database driver.
func (s *Store) Driver() string {
	return s.driver
}

// insertReturningID runs a named INSERT and returns the generated primary key.
// PostgreSQL has no LastInsertId, so the id is read back via RETURNING there.
func (s *Store) insertReturningID(ctx context.Context, ext sqlx.ExtContext, query string, arg interface{}) (int64, error) {
	if s.driver == DriverPostgres {
		q, args, err := sqlx.Named(query+" RETURNING id", arg)
		if err != nil {
			return 0, err
		}
		var id int64
		if err := ext.QueryRowxContext(ctx, ext.Rebind(q), args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}

	result, err := sqlx.NamedExecContext(ctx, ext, query, arg)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// affected returns the number of rows touched by an exec result.
func affected(result sql.Result, what string) (int64, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows affected: %w", what, err)
	}
	return n, nil
}
