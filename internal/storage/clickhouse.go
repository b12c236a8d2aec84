package storage

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/cybershield-x/shield/internal/metrics"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// record is one queued row; exactly one field is set.
type record struct {
	threat  *ThreatLogEntry
	privacy *PrivacyEvent
}

// ClickHouseWriter writes threat and privacy records to ClickHouse asynchronously.
// Writes are non-blocking: records are buffered and batch-inserted in a background goroutine.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan record
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	logger  *zap.Logger
}

// NewClickHouseWriter creates a ClickHouseWriter and starts the background flush loop.
func NewClickHouseWriter(ctx context.Context, dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	// ClickHouse Cloud requires TLS on its native port.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, err
	}

	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan record, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go w.flushLoop()
	return w, nil
}

func (w *ClickHouseWriter) WriteThreat(entry *ThreatLogEntry) {
	w.enqueue(record{threat: entry}, entry.PackageName)
}

func (w *ClickHouseWriter) WritePrivacy(event *PrivacyEvent) {
	w.enqueue(record{privacy: event}, event.PackageName)
}

// enqueue drops the record if the buffer is full.
func (w *ClickHouseWriter) enqueue(r record, pkg string) {
	select {
	case w.buffer <- r:
	default:
		metrics.EventsDroppedTotal.WithLabelValues("clickhouse").Inc()
		w.logger.Warn("clickhouse buffer full, dropping record",
			zap.String("package", pkg),
		)
	}
}

// Close signals the flush loop to drain remaining records, waits for it to
// finish (up to drainTimeout), and then returns. Safe to call once.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
	if err := w.conn.Close(); err != nil {
		w.logger.Warn("clickhouse close failed", zap.Error(err))
	}
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]record, 0, flushBatch)

	for {
		select {
		case r := <-w.buffer:
			batch = append(batch, r)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case r := <-w.buffer:
					batch = append(batch, r)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(records []record) {
	var threats []*ThreatLogEntry
	var privacy []*PrivacyEvent
	for _, r := range records {
		switch {
		case r.threat != nil:
			threats = append(threats, r.threat)
		case r.privacy != nil:
			privacy = append(privacy, r.privacy)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(threats) > 0 {
		w.flushThreats(ctx, threats)
	}
	if len(privacy) > 0 {
		w.flushPrivacy(ctx, privacy)
	}
}

func (w *ClickHouseWriter) flushThreats(ctx context.Context, entries []*ThreatLogEntry) {
	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO threat_logs (
			id, package_name, app_name, risk_score,
			threat_label, threat_type, reasons, source, timestamp
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.String("table", "threat_logs"), zap.Error(err))
		return
	}

	for _, e := range entries {
		if err := batch.Append(
			e.ID,
			e.PackageName,
			e.AppName,
			e.RiskScore,
			e.ThreatLabel,
			e.ThreatType,
			e.Reasons,
			e.Source,
			e.Timestamp,
		); err != nil {
			w.logger.Error("clickhouse append threat failed",
				zap.String("package", e.PackageName),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.String("table", "threat_logs"),
			zap.Int("batch_size", len(entries)),
			zap.Error(err),
		)
	}
}

func (w *ClickHouseWriter) flushPrivacy(ctx context.Context, events []*PrivacyEvent) {
	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO privacy_events (id, package_name, app_name, event_type, timestamp)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.String("table", "privacy_events"), zap.Error(err))
		return
	}

	for _, e := range events {
		if err := batch.Append(e.ID, e.PackageName, e.AppName, string(e.EventType), e.Timestamp); err != nil {
			w.logger.Error("clickhouse append privacy event failed",
				zap.String("package", e.PackageName),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.String("table", "privacy_events"),
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

// LogWriter is a fallback EventWriter for local development.
// It logs records as structured JSON to stdout via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs records to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) WriteThreat(e *ThreatLogEntry) {
	w.logger.Info("threat_log",
		zap.String("id", e.ID.String()),
		zap.String("package", e.PackageName),
		zap.String("app_name", e.AppName),
		zap.Float64("risk_score", e.RiskScore),
		zap.String("threat_label", e.ThreatLabel),
		zap.String("threat_type", e.ThreatType),
		zap.Strings("reasons", e.Reasons),
		zap.String("source", e.Source),
	)
}

func (w *LogWriter) WritePrivacy(e *PrivacyEvent) {
	w.logger.Info("privacy_event",
		zap.String("id", e.ID.String()),
		zap.String("package", e.PackageName),
		zap.String("app_name", e.AppName),
		zap.String("event_type", string(e.EventType)),
	)
}

func (w *LogWriter) Close() {}
