package store

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS locked_apps (
    package_name TEXT PRIMARY KEY,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS installed_apps (
    package_name  TEXT PRIMARY KEY,
    app_name      TEXT NOT NULL,
    permissions   JSONB NOT NULL DEFAULT '[]'::jsonb,
    is_system_app BOOLEAN NOT NULL DEFAULT false,
    risk_score    DOUBLE PRECISION,
    threat_label  TEXT,
    threat_type   TEXT,
    scored_at     TIMESTAMPTZ,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store provides access to the PostgreSQL database for the lock policy and
// the installed-app inventory.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}
	return nil
}
