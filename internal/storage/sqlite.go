package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS threat_logs (
    id TEXT PRIMARY KEY,
    package_name TEXT NOT NULL,
    app_name TEXT NOT NULL,
    risk_score REAL NOT NULL,
    threat_label TEXT NOT NULL,
    threat_type TEXT NOT NULL,
    reasons TEXT NOT NULL,
    source TEXT NOT NULL,
    timestamp INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS privacy_events (
    id TEXT PRIMARY KEY,
    package_name TEXT NOT NULL,
    app_name TEXT NOT NULL,
    event_type TEXT NOT NULL,
    timestamp INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_threat_logs_time ON threat_logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_threat_logs_label ON threat_logs(threat_label, timestamp);
CREATE INDEX IF NOT EXISTS idx_privacy_events_time ON privacy_events(timestamp);
`

// SQLiteStore is the on-device threat and privacy log.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the log database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("OpenSQLite: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("OpenSQLite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("OpenSQLite: init schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertThreat(ctx context.Context, e *ThreatLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threat_logs
			(id, package_name, app_name, risk_score, threat_label, threat_type, reasons, source, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.PackageName, e.AppName, e.RiskScore,
		e.ThreatLabel, e.ThreatType, ReasonsText(e.Reasons), e.Source,
		e.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("InsertThreat: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertPrivacy(ctx context.Context, e *PrivacyEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO privacy_events (id, package_name, app_name, event_type, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID.String(), e.PackageName, e.AppName, string(e.EventType), e.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("InsertPrivacy: %w", err)
	}
	return nil
}

// RecentThreats returns the newest threat log entries first.
func (s *SQLiteStore) RecentThreats(ctx context.Context, limit int) ([]ThreatLogEntry, error) {
	if limit <= 0 {
		limit = DefaultThreatLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, package_name, app_name, risk_score, threat_label, threat_type, reasons, source, timestamp
		FROM threat_logs ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("RecentThreats: %w", err)
	}
	return scanThreats(rows)
}

// MaliciousThreats returns the newest entries labelled Malicious.
func (s *SQLiteStore) MaliciousThreats(ctx context.Context, limit int) ([]ThreatLogEntry, error) {
	if limit <= 0 {
		limit = DefaultThreatLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, package_name, app_name, risk_score, threat_label, threat_type, reasons, source, timestamp
		FROM threat_logs WHERE threat_label = 'Malicious'
		ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("MaliciousThreats: %w", err)
	}
	return scanThreats(rows)
}

func scanThreats(rows *sql.Rows) ([]ThreatLogEntry, error) {
	defer rows.Close()

	var out []ThreatLogEntry
	for rows.Next() {
		var (
			e       ThreatLogEntry
			id      string
			reasons string
			ts      int64
		)
		if err := rows.Scan(&id, &e.PackageName, &e.AppName, &e.RiskScore,
			&e.ThreatLabel, &e.ThreatType, &reasons, &e.Source, &ts); err != nil {
			return nil, fmt.Errorf("scanThreats: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("scanThreats: id %q: %w", id, err)
		}
		e.ID = parsed
		if e.Reasons, err = SplitReasons(reasons); err != nil {
			return nil, fmt.Errorf("scanThreats: id %q: %w", id, err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentPrivacy returns the newest privacy events first.
func (s *SQLiteStore) RecentPrivacy(ctx context.Context, limit int) ([]PrivacyEvent, error) {
	if limit <= 0 {
		limit = DefaultPrivacyLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, package_name, app_name, event_type, timestamp
		FROM privacy_events ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("RecentPrivacy: %w", err)
	}
	defer rows.Close()

	var out []PrivacyEvent
	for rows.Next() {
		var (
			e     PrivacyEvent
			id    string
			kind  string
			stamp int64
		)
		if err := rows.Scan(&id, &e.PackageName, &e.AppName, &kind, &stamp); err != nil {
			return nil, fmt.Errorf("RecentPrivacy: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("RecentPrivacy: id %q: %w", id, err)
		}
		e.ID = parsed
		e.EventType = PrivacyEventType(kind)
		e.Timestamp = time.Unix(0, stamp).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes records older than before from both tables.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("Prune: %w", err)
	}
	defer tx.Rollback()

	cutoff := before.UnixNano()
	var total int64
	for _, table := range []string{"threat_logs", "privacy_events"} {
		res, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE timestamp < ?", cutoff)
		if err != nil {
			return 0, fmt.Errorf("Prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("Prune: commit: %w", err)
	}
	return total, nil
}
