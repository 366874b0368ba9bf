// internal/infra/sqlstore/dialect.go

// Package sqlstore is the relational result store. PostgreSQL (pgx) is the
// production backend; SQLite (modernc) serves local runs and tests.
package sqlstore

import (
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Driver is the database flavor of a store.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

var (
	pgPlaceholderRe = regexp.MustCompile(`\$(\d+)`)
	pgCastRe        = regexp.MustCompile(`::(\w+)`)
)

// Dialect hides the SQL differences between the two drivers. Queries are
// written PostgreSQL style and rebound.
type Dialect struct {
	driver Driver
}

func NewDialect(driver Driver) (Dialect, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
		return Dialect{driver: driver}, nil
	}
	return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
}

func (d Dialect) Driver() Driver { return d.driver }

// Rebind turns $N placeholders into ? and drops ::type casts for SQLite.
func (d Dialect) Rebind(query string) string {
	if d.driver == DriverPostgres {
		return query
	}
	return pgCastRe.ReplaceAllString(pgPlaceholderRe.ReplaceAllString(query, "?"), "")
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS release_test_results (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	created_on TIMESTAMPTZ NOT NULL,
	test_name  TEXT NOT NULL,
	status     TEXT NOT NULL,
	last_logs  TEXT NOT NULL DEFAULT '',
	results    JSONB,
	artifacts  JSONB
);
CREATE INDEX IF NOT EXISTS idx_release_test_results_test ON release_test_results (test_name, created_on DESC);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS release_test_results (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	created_on TIMESTAMP NOT NULL,
	test_name  TEXT NOT NULL,
	status     TEXT NOT NULL,
	last_logs  TEXT NOT NULL DEFAULT '',
	results    TEXT,
	artifacts  TEXT
);
CREATE INDEX IF NOT EXISTS idx_release_test_results_test ON release_test_results (test_name, created_on DESC);
`

// AutoMigrate creates the result table when it does not exist.
func (d Dialect) AutoMigrate(db *sql.DB) error {
	schema := sqliteSchema
	if d.driver == DriverPostgres {
		schema = postgresSchema
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate %s schema: %w", d.driver, err)
	}
	return nil
}

// Open connects to the database. dsn is a postgres URL or a SQLite DSN such
// as "file:results.db" or ":memory:".
func Open(driver Driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverPostgres:
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		return db, nil

	case DriverSQLite:
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		// Every connection of an in-memory database is a separate database.
		db.SetMaxOpenConns(1)
		for _, p := range []string{"PRAGMA busy_timeout=5000", "PRAGMA synchronous=NORMAL"} {
			if _, err := db.Exec(p); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to set pragma %s: %w", p, err)
			}
		}
		return db, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}
