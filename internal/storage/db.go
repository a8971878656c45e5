// Package storage persists test cases and submissions in SQL and caches test
// cases in Redis.
package storage

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/namnv2496/bytescript/internal/config"
)

// driverNames maps the configured driver onto the registered database/sql name.
var driverNames = map[string]string{
	"sqlite":   "sqlite",
	"postgres": "postgres",
	"mysql":    "mysql",
}

var schemas = map[string][]string{
	"sqlite": {
		`CREATE TABLE IF NOT EXISTS test_cases (
			id VARCHAR(64) PRIMARY KEY,
			problem_id VARCHAR(128) NOT NULL,
			input TEXT NOT NULL,
			expected_output TEXT NOT NULL,
			is_public BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_test_cases_problem ON test_cases (problem_id)`,
		`CREATE TABLE IF NOT EXISTS submissions (
			id VARCHAR(64) PRIMARY KEY,
			problem_id VARCHAR(128) NOT NULL,
			user_id VARCHAR(128) NOT NULL,
			code TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			passed_count INTEGER NOT NULL,
			total_count INTEGER NOT NULL,
			result_json TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	},
	"postgres": {
		`CREATE TABLE IF NOT EXISTS test_cases (
			id VARCHAR(64) PRIMARY KEY,
			problem_id VARCHAR(128) NOT NULL,
			input TEXT NOT NULL,
			expected_output TEXT NOT NULL,
			is_public BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_test_cases_problem ON test_cases (problem_id)`,
		`CREATE TABLE IF NOT EXISTS submissions (
			id VARCHAR(64) PRIMARY KEY,
			problem_id VARCHAR(128) NOT NULL,
			user_id VARCHAR(128) NOT NULL,
			code TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			passed_count INTEGER NOT NULL,
			total_count INTEGER NOT NULL,
			result_json TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	},
	"mysql": {
		`CREATE TABLE IF NOT EXISTS test_cases (
			id VARCHAR(64) PRIMARY KEY,
			problem_id VARCHAR(128) NOT NULL,
			input MEDIUMTEXT NOT NULL,
			expected_output MEDIUMTEXT NOT NULL,
			is_public BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_test_cases_problem (problem_id)
		)`,
		`CREATE TABLE IF NOT EXISTS submissions (
			id VARCHAR(64) PRIMARY KEY,
			problem_id VARCHAR(128) NOT NULL,
			user_id VARCHAR(128) NOT NULL,
			code MEDIUMTEXT NOT NULL,
			success BOOLEAN NOT NULL,
			passed_count INT NOT NULL,
			total_count INT NOT NULL,
			result_json MEDIUMTEXT NOT NULL,
			created_at DATETIME(6) NOT NULL
		)`,
	},
}

// Open connects to the configured database and applies the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	name, ok := driverNames[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	dsn := cfg.DSN
	switch cfg.Driver {
	case "sqlite":
		dsn = withParam(dsn, "_pragma=busy_timeout(5000)")
		dsn = withParam(dsn, "_pragma=foreign_keys(1)")
		dsn = withParam(dsn, "_time_format=sqlite")
	case "mysql":
		dsn = withParam(dsn, "parseTime=true")
	}

	db, err := sqlx.ConnectContext(ctx, name, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLife > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLife)
	}

	if err := Migrate(ctx, db, cfg.Driver); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the tables when they do not exist yet.
func Migrate(ctx context.Context, db *sqlx.DB, driver string) error {
	for _, stmt := range schemas[driver] {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func withParam(dsn, param string) string {
	key := param[:strings.IndexAny(param, "=(")]
	if strings.Contains(dsn, key+"=") && key != "_pragma" {
		return dsn
	}
	if strings.Contains(dsn, param) {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}
