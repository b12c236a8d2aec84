package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cybershield-x/shield/internal/metrics"
	"go.uber.org/zap"
)

// Analysis text attached to locally scored results. Local and degraded
// results carry the same fields; only this text tells them apart.
const (
	LocalAnalysis    = "Local heuristic analysis"
	DegradedAnalysis = "Using local analysis (API unavailable)"
)

// DefaultRemoteTimeout bounds every remote analyzer call.
const DefaultRemoteTimeout = 15 * time.Second

// LocalProvider serves results straight from the deterministic scorers.
type LocalProvider struct {
	local LocalScorer
}

// NewLocalProvider wraps a local scorer.
func NewLocalProvider(local LocalScorer) *LocalProvider {
	return &LocalProvider{local: local}
}

func (p *LocalProvider) ScoreApp(_ context.Context, profile *AppProfile) *RiskAssessment {
	res := p.local.ScoreApp(profile)
	localAppDetails(res, SourceLocal, LocalAnalysis)
	recordApp(res)
	return res
}

func (p *LocalProvider) ScoreURL(_ context.Context, url string) *URLAssessment {
	res := p.local.ScoreURL(url)
	localURLDetails(res, SourceLocal, LocalAnalysis)
	recordURL(res)
	return res
}

// localAppDetails fills the fields a remote analyzer would otherwise supply.
func localAppDetails(res *RiskAssessment, src Source, analysis string) {
	res.Source = src
	res.Analysis = analysis
	res.Recommendations = append([]string(nil), res.Reasons...)
}

func localURLDetails(res *URLAssessment, src Source, analysis string) {
	res.Source = src
	res.Analysis = analysis
	if res.IsPhishing {
		res.Recommendations = []string{"Do not visit this URL", "Report as phishing"}
	} else {
		res.Recommendations = []string{"URL appears safe"}
	}
}

// RemoteProvider asks the remote analyzer first and falls back to the
// local scorer on any failure. There is no retry: a single fallback
// substitutes for it.
type RemoteProvider struct {
	remote  Analyzer
	local   LocalScorer
	timeout time.Duration
	breaker *Breaker
	logger  *zap.Logger
}

// NewRemoteProvider creates a provider with the given analyzer, fallback and
// per-call timeout. A nil breaker disables circuit breaking.
func NewRemoteProvider(remote Analyzer, local LocalScorer, timeout time.Duration, breaker *Breaker, logger *zap.Logger) *RemoteProvider {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &RemoteProvider{
		remote:  remote,
		local:   local,
		timeout: timeout,
		breaker: breaker,
		logger:  logger,
	}
}

func (p *RemoteProvider) ScoreApp(ctx context.Context, profile *AppProfile) *RiskAssessment {
	res, err := callRemote(ctx, p, func(ctx context.Context) (*RiskAssessment, error) {
		return p.remote.AnalyzeApp(ctx, profile)
	})
	if err != nil {
		p.fallback("app", profile.PackageName, err)
		res = p.local.ScoreApp(profile)
		localAppDetails(res, SourceDegraded, DegradedAnalysis)
		recordApp(res)
		return res
	}
	res.Source = SourceRemote
	recordApp(res)
	return res
}

func (p *RemoteProvider) ScoreURL(ctx context.Context, url string) *URLAssessment {
	res, err := callRemote(ctx, p, func(ctx context.Context) (*URLAssessment, error) {
		return p.remote.AnalyzeURL(ctx, url)
	})
	if err != nil {
		p.fallback("url", url, err)
		res = p.local.ScoreURL(url)
		localURLDetails(res, SourceDegraded, DegradedAnalysis)
		recordURL(res)
		return res
	}
	res.Source = SourceRemote
	recordURL(res)
	return res
}

// callRemote runs one time-bounded analyzer call through the breaker.
// A call ended by the caller's own context is not counted as a failure.
func callRemote[T any](parent context.Context, p *RemoteProvider, call func(context.Context) (*T, error)) (*T, error) {
	if p.breaker != nil && !p.breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	res, err := call(ctx)
	if err == nil && res == nil {
		err = ErrMalformedResponse
	}
	if p.breaker != nil {
		switch {
		case err == nil:
			p.breaker.RecordSuccess()
		case parent.Err() != nil:
			p.breaker.RecordCanceled()
		default:
			p.breaker.RecordFailure()
		}
	}
	return res, err
}

func (p *RemoteProvider) fallback(kind, subject string, err error) {
	reason := FallbackReason(err)
	metrics.RemoteFallbacksTotal.WithLabelValues(kind, reason).Inc()
	p.logger.Warn("remote analyzer failed, using local scorer",
		zap.String("analyzer", p.remote.Name()),
		zap.String("kind", kind),
		zap.String("subject", subject),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

// FallbackReason classifies a remote failure for metrics and logs.
func FallbackReason(err error) string {
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrRemoteUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func recordApp(res *RiskAssessment) {
	metrics.ScoresTotal.WithLabelValues("app", res.Source.String(), res.Label.String()).Inc()
}

func recordURL(res *URLAssessment) {
	metrics.ScoresTotal.WithLabelValues("url", res.Source.String(), res.Category).Inc()
}
