package store

import (
	"fmt"
	"strings"
)

// Client names are unique regardless of case but not of accents. SQLite gets
// it from a NOCASE collation (ASCII folding only), PostgreSQL from a LOWER(name)
// index, and MySQL from an accent-sensitive, case-insensitive column
// collation. Every other MySQL column compares bytes, as in the other dialects.

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('admin', 'superadmin', 'main-superadmin')),
		name TEXT NOT NULL DEFAULT '',
		email TEXT UNIQUE NOT NULL,
		organization TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		blocked INTEGER NOT NULL DEFAULT 0,
		mfa_secret TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS clients (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL COLLATE NOCASE UNIQUE,
		url TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		graylog_host TEXT,
		graylog_username TEXT,
		graylog_password TEXT,
		graylog_stream_id TEXT,
		log_api_host TEXT,
		log_api_username TEXT,
		log_api_password TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS client_admins (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id INTEGER NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(client_id, user_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_client_admins_user_id ON client_admins(user_id)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('admin', 'superadmin', 'main-superadmin')),
		name TEXT NOT NULL DEFAULT '',
		email TEXT UNIQUE NOT NULL,
		organization TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		blocked BOOLEAN NOT NULL DEFAULT FALSE,
		mfa_secret TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS clients (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		graylog_host TEXT,
		graylog_username TEXT,
		graylog_password TEXT,
		graylog_stream_id TEXT,
		log_api_host TEXT,
		log_api_username TEXT,
		log_api_password TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_clients_name_lower ON clients (LOWER(name))`,

	`CREATE TABLE IF NOT EXISTS client_admins (
		id BIGSERIAL PRIMARY KEY,
		client_id BIGINT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(client_id, user_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_client_admins_user_id ON client_admins(user_id)`,
}

var mysqlMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(191) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		role VARCHAR(32) NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		email VARCHAR(191) NOT NULL UNIQUE,
		organization VARCHAR(255) NOT NULL DEFAULT '',
		city VARCHAR(255) NOT NULL DEFAULT '',
		state VARCHAR(255) NOT NULL DEFAULT '',
		blocked BOOLEAN NOT NULL DEFAULT FALSE,
		mfa_secret VARCHAR(255) NULL,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		CHECK (role IN ('admin', 'superadmin', 'main-superadmin'))
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,

	`CREATE TABLE IF NOT EXISTS clients (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(191) COLLATE utf8mb4_0900_as_ci NOT NULL UNIQUE,
		url VARCHAR(2048) NOT NULL,
		description TEXT NOT NULL,
		graylog_host VARCHAR(255) NULL,
		graylog_username VARCHAR(255) NULL,
		graylog_password VARCHAR(255) NULL,
		graylog_stream_id VARCHAR(255) NULL,
		log_api_host VARCHAR(255) NULL,
		log_api_username VARCHAR(255) NULL,
		log_api_password VARCHAR(255) NULL,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,

	`CREATE TABLE IF NOT EXISTS client_admins (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		client_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		UNIQUE KEY uq_client_admins_pair (client_id, user_id),
		KEY idx_client_admins_user_id (user_id),
		CONSTRAINT fk_client_admins_client FOREIGN KEY (client_id) REFERENCES clients(id) ON DELETE CASCADE,
		CONSTRAINT fk_client_admins_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
}

func (s *Store) migrate() error {
	var migrations []string
	switch s.driver {
	case DriverPostgres:
		migrations = postgresMigrations
	case DriverMySQL:
		migrations = mysqlMigrations
	default:
		migrations = sqliteMigrations
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Re-running ALTER/INDEX statements on an existing schema is a no-op.
			if strings.Contains(err.Error(), "duplicate column") || strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
