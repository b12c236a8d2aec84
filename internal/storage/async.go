package storage

import (
	"context"
	"time"

	"github.com/cybershield-x/shield/internal/metrics"
	"go.uber.org/zap"
)

const asyncInsertTimeout = 2 * time.Second

// AsyncWriter adapts a synchronous RecordSink to the non-blocking EventWriter contract.
// Records are queued and inserted one at a time by a single goroutine.
type AsyncWriter struct {
	sink    RecordSink
	name    string
	buffer  chan record
	done    chan struct{}
	flushed chan struct{}
	logger  *zap.Logger
}

// NewAsyncWriter starts the drain goroutine. name labels dropped-record metrics.
func NewAsyncWriter(sink RecordSink, name string, buffer int, logger *zap.Logger) *AsyncWriter {
	if buffer <= 0 {
		buffer = bufferSize
	}
	w := &AsyncWriter{
		sink:    sink,
		name:    name,
		buffer:  make(chan record, buffer),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}
	go w.loop()
	return w
}

func (w *AsyncWriter) WriteThreat(entry *ThreatLogEntry) {
	w.enqueue(record{threat: entry})
}

func (w *AsyncWriter) WritePrivacy(event *PrivacyEvent) {
	w.enqueue(record{privacy: event})
}

func (w *AsyncWriter) enqueue(r record) {
	select {
	case w.buffer <- r:
	default:
		metrics.EventsDroppedTotal.WithLabelValues(w.name).Inc()
		w.logger.Warn("event buffer full, dropping record", zap.String("sink", w.name))
	}
}

// Close drains queued records, bounded by drainTimeout.
func (w *AsyncWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *AsyncWriter) loop() {
	defer close(w.flushed)
	for {
		select {
		case r := <-w.buffer:
			w.insert(r)
		case <-w.done:
			deadline := time.Now().Add(drainTimeout)
			for time.Now().Before(deadline) {
				select {
				case r := <-w.buffer:
					w.insert(r)
				default:
					return
				}
			}
			return
		}
	}
}

func (w *AsyncWriter) insert(r record) {
	ctx, cancel := context.WithTimeout(context.Background(), asyncInsertTimeout)
	defer cancel()

	var err error
	switch {
	case r.threat != nil:
		err = w.sink.InsertThreat(ctx, r.threat)
	case r.privacy != nil:
		err = w.sink.InsertPrivacy(ctx, r.privacy)
	}
	if err != nil {
		w.logger.Error("event insert failed", zap.String("sink", w.name), zap.Error(err))
	}
}

// MultiWriter fans records out to several writers.
type MultiWriter []EventWriter

func (m MultiWriter) WriteThreat(entry *ThreatLogEntry) {
	for _, w := range m {
		w.WriteThreat(entry)
	}
}

func (m MultiWriter) WritePrivacy(event *PrivacyEvent) {
	for _, w := range m {
		w.WritePrivacy(event)
	}
}

func (m MultiWriter) Close() {
	for _, w := range m {
		w.Close()
	}
}
