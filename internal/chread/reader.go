// Package chread serves threat and privacy records from ClickHouse.
package chread

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/cybershield-x/shield/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse threat_logs and privacy_events tables.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(ctx context.Context, dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

const threatColumns = "id, package_name, app_name, risk_score, threat_label, threat_type, reasons, source, timestamp"

// RecentThreats returns the newest threat log entries first.
func (r *Reader) RecentThreats(ctx context.Context, limit int) ([]storage.ThreatLogEntry, error) {
	if limit <= 0 {
		limit = storage.DefaultThreatLimit
	}
	return r.queryThreats(ctx, "RecentThreats",
		"SELECT "+threatColumns+" FROM threat_logs ORDER BY timestamp DESC LIMIT @limit",
		clickhouse.Named("limit", uint32(limit)),
	)
}

// MaliciousThreats returns the newest entries labelled Malicious.
func (r *Reader) MaliciousThreats(ctx context.Context, limit int) ([]storage.ThreatLogEntry, error) {
	if limit <= 0 {
		limit = storage.DefaultThreatLimit
	}
	return r.queryThreats(ctx, "MaliciousThreats",
		"SELECT "+threatColumns+" FROM threat_logs WHERE threat_label = 'Malicious' "+
			"ORDER BY timestamp DESC LIMIT @limit",
		clickhouse.Named("limit", uint32(limit)),
	)
}

func (r *Reader) queryThreats(ctx context.Context, op, query string, args ...any) ([]storage.ThreatLogEntry, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.ThreatLogEntry
	for rows.Next() {
		var e storage.ThreatLogEntry
		if err := rows.Scan(
			&e.ID, &e.PackageName, &e.AppName, &e.RiskScore,
			&e.ThreatLabel, &e.ThreatType, &e.Reasons, &e.Source, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentPrivacy returns the newest privacy events first.
func (r *Reader) RecentPrivacy(ctx context.Context, limit int) ([]storage.PrivacyEvent, error) {
	if limit <= 0 {
		limit = storage.DefaultPrivacyLimit
	}
	rows, err := r.conn.Query(ctx,
		"SELECT id, package_name, app_name, event_type, timestamp FROM privacy_events "+
			"ORDER BY timestamp DESC LIMIT @limit",
		clickhouse.Named("limit", uint32(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("RecentPrivacy query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.PrivacyEvent
	for rows.Next() {
		var (
			id   uuid.UUID
			kind string
			e    storage.PrivacyEvent
		)
		if err := rows.Scan(&id, &e.PackageName, &e.AppName, &kind, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("RecentPrivacy scan: %w", err)
		}
		e.ID = id
		e.EventType = storage.PrivacyEventType(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune issues mutations deleting records older than before. ClickHouse
// applies them asynchronously, so the returned count is always 0.
func (r *Reader) Prune(ctx context.Context, before time.Time) (int64, error) {
	for _, table := range []string{"threat_logs", "privacy_events"} {
		if err := r.conn.Exec(ctx,
			"ALTER TABLE "+table+" DELETE WHERE timestamp < @before",
			clickhouse.Named("before", before),
		); err != nil {
			return 0, fmt.Errorf("Prune %s: %w", table, err)
		}
	}
	return 0, nil
}

// ThreatSummary aggregates threat logs over a time range.
type ThreatSummary struct {
	Total          int            `json:"total"`
	Safe           int            `json:"safe"`
	Suspicious     int            `json:"suspicious"`
	Malicious      int            `json:"malicious"`
	Degraded       int            `json:"degraded"`
	ScoreP50       float64        `json:"score_p50"`
	ScoreP95       float64        `json:"score_p95"`
	TopThreatTypes []ThreatCount  `json:"top_threat_types"`
	PrivacyByType  map[string]int `json:"privacy_by_type"`
}

// ThreatCount holds a threat type and its count.
type ThreatCount struct {
	ThreatType string `json:"threat_type"`
	Count      int    `json:"count"`
}

// Summary aggregates the last days of records.
func (r *Reader) Summary(ctx context.Context, days int) (*ThreatSummary, error) {
	rangeStart := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	args := []any{clickhouse.Named("range_start", rangeStart)}

	var (
		total, safe, suspicious, malicious, degraded uint64
		p50, p95                                     float64
	)
	err := r.conn.QueryRow(ctx,
		"SELECT count(), "+
			"countIf(threat_label = 'Safe'), "+
			"countIf(threat_label = 'Suspicious'), "+
			"countIf(threat_label = 'Malicious'), "+
			"countIf(source = 'degraded'), "+
			"quantile(0.5)(risk_score), quantile(0.95)(risk_score) "+
			"FROM threat_logs WHERE timestamp >= @range_start",
		args...,
	).Scan(&total, &safe, &suspicious, &malicious, &degraded, &p50, &p95)
	if err != nil {
		return nil, fmt.Errorf("Summary counts: %w", err)
	}

	result := &ThreatSummary{
		Total:         int(total),
		Safe:          int(safe),
		Suspicious:    int(suspicious),
		Malicious:     int(malicious),
		Degraded:      int(degraded),
		ScoreP50:      safeFloat(p50),
		ScoreP95:      safeFloat(p95),
		PrivacyByType: map[string]int{},
	}

	typeRows, err := r.conn.Query(ctx,
		"SELECT threat_type, count() AS count FROM threat_logs "+
			"WHERE timestamp >= @range_start AND threat_type != 'None' "+
			"GROUP BY threat_type ORDER BY count DESC LIMIT 10",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("Summary threat_types: %w", err)
	}
	defer func() { _ = typeRows.Close() }()
	for typeRows.Next() {
		var (
			tt    string
			count uint64
		)
		if err := typeRows.Scan(&tt, &count); err != nil {
			return nil, fmt.Errorf("Summary threat_types scan: %w", err)
		}
		result.TopThreatTypes = append(result.TopThreatTypes, ThreatCount{ThreatType: tt, Count: int(count)})
	}

	privRows, err := r.conn.Query(ctx,
		"SELECT event_type, count() FROM privacy_events "+
			"WHERE timestamp >= @range_start GROUP BY event_type",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("Summary privacy: %w", err)
	}
	defer func() { _ = privRows.Close() }()
	for privRows.Next() {
		var (
			kind  string
			count uint64
		)
		if err := privRows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("Summary privacy scan: %w", err)
		}
		result.PrivacyByType[kind] = int(count)
	}

	return result, nil
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}
