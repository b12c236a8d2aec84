package engine

import (
	"context"
	"errors"
)

var (
	// ErrInvalidRules is returned when a rule table is rejected.
	ErrInvalidRules = errors.New("invalid rule set")
	// ErrRemoteUnavailable means the remote analyzer could not be reached or
	// answered with a non-success status.
	ErrRemoteUnavailable = errors.New("remote analyzer unavailable")
	// ErrMalformedResponse means the remote answer did not match the expected shape.
	ErrMalformedResponse = errors.New("malformed remote response")
	// ErrCircuitOpen means the remote analyzer is skipped after repeated failures.
	ErrCircuitOpen = errors.New("remote circuit open")
)

// LocalScorer is the deterministic scorer pair. Implementations are pure:
// identical input always yields identical output, and they never fail.
type LocalScorer interface {
	ScoreApp(p *AppProfile) *RiskAssessment
	ScoreURL(url string) *URLAssessment
}

// Analyzer is a fallible scorer backed by an external service.
// Implementations must respect ctx deadlines and return quickly.
type Analyzer interface {
	// Name returns the analyzer's identifier (e.g., "gemini").
	Name() string

	// AnalyzeApp scores a profile. Any error means the result must not be used.
	AnalyzeApp(ctx context.Context, p *AppProfile) (*RiskAssessment, error)

	// AnalyzeURL scores a URL. Any error means the result must not be used.
	AnalyzeURL(ctx context.Context, url string) (*URLAssessment, error)
}

// Provider is the scoring surface exposed to collaborators. It always
// returns a result; only the Source field tells callers how it was produced.
type Provider interface {
	ScoreApp(ctx context.Context, p *AppProfile) *RiskAssessment
	ScoreURL(ctx context.Context, url string) *URLAssessment
}
