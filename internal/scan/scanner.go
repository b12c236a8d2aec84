package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cybershield-x/shield/internal/engine"
	"github.com/cybershield-x/shield/internal/metrics"
	"github.com/cybershield-x/shield/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds concurrent scoring when none is configured.
const DefaultWorkers = 4

// ProfileSource lists the installed apps and extracts their scoring input.
type ProfileSource interface {
	Packages(ctx context.Context) ([]string, error)
	Profile(ctx context.Context, pkg string) (*engine.AppProfile, error)
}

// ScoreRecorder stores the latest assessment for a package.
type ScoreRecorder interface {
	RecordScore(ctx context.Context, pkg string, res *engine.RiskAssessment) error
}

// Report summarizes one scan pass.
type Report struct {
	Scanned    int           `json:"scanned"`
	Skipped    int           `json:"skipped"`
	Malicious  int           `json:"malicious"`
	Suspicious int           `json:"suspicious"`
	Degraded   int           `json:"degraded"`
	Duration   time.Duration `json:"duration_ns"`
}

// Scanner scores every installed app with bounded concurrency.
type Scanner struct {
	source   ProfileSource
	provider engine.Provider
	recorder ScoreRecorder
	events   storage.EventWriter
	workers  int
	logger   *zap.Logger

	running sync.Mutex
}

// NewScanner wires a scanner. recorder and events may be nil.
func NewScanner(source ProfileSource, provider engine.Provider, recorder ScoreRecorder,
	events storage.EventWriter, workers int, logger *zap.Logger) *Scanner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Scanner{
		source:   source,
		provider: provider,
		recorder: recorder,
		events:   events,
		workers:  workers,
		logger:   logger,
	}
}

// Scan runs one pass. Profiles that fail extraction are skipped and counted.
// Only one pass runs at a time; a concurrent call waits for the previous one.
func (s *Scanner) Scan(ctx context.Context) (Report, error) {
	s.running.Lock()
	defer s.running.Unlock()

	start := time.Now()
	pkgs, err := s.source.Packages(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("Scan: %w", err)
	}

	var (
		mu     sync.Mutex
		report Report
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.workers)

	for _, pkg := range pkgs {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}

			profile, err := s.source.Profile(egCtx, pkg)
			if err != nil {
				metrics.ScanAppsTotal.WithLabelValues("skipped").Inc()
				s.logger.Debug("scan skipped app", zap.String("package", pkg), zap.Error(err))
				mu.Lock()
				report.Skipped++
				mu.Unlock()
				return nil
			}

			res := s.provider.ScoreApp(egCtx, profile)
			s.record(egCtx, profile, res)
			metrics.ScanAppsTotal.WithLabelValues("scored").Inc()

			mu.Lock()
			report.Scanned++
			switch res.Label {
			case engine.LabelMalicious:
				report.Malicious++
			case engine.LabelSuspicious:
				report.Suspicious++
			}
			if res.Source == engine.SourceDegraded {
				report.Degraded++
			}
			mu.Unlock()
			return nil
		})
	}

	err = eg.Wait()
	report.Duration = time.Since(start)
	if err != nil {
		return report, fmt.Errorf("Scan: %w", err)
	}

	s.logger.Info("scan complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("skipped", report.Skipped),
		zap.Int("malicious", report.Malicious),
		zap.Int("suspicious", report.Suspicious),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (s *Scanner) record(ctx context.Context, profile *engine.AppProfile, res *engine.RiskAssessment) {
	if s.recorder != nil {
		if err := s.recorder.RecordScore(ctx, profile.PackageName, res); err != nil {
			s.logger.Warn("record score failed",
				zap.String("package", profile.PackageName),
				zap.Error(err),
			)
		}
	}
	if s.events != nil {
		s.events.WriteThreat(storage.NewThreatLogEntry(profile, res))
	}
}

// Run scans every interval until ctx is done.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Scan(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("scheduled scan failed", zap.Error(err))
			}
		}
	}
}
