package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

// stubLocal returns fixed results.
type stubLocal struct{}

func (stubLocal) ScoreApp(p *AppProfile) *RiskAssessment {
	return &RiskAssessment{
		Score:      0.3,
		Label:      LabelSafe,
		ThreatType: ThreatNone,
		Reasons:    []string{"several permissions", "internet + sensitive data access"},
	}
}

func (stubLocal) ScoreURL(url string) *URLAssessment {
	return &URLAssessment{
		Score:      1,
		IsPhishing: true,
		Category:   CategoryHighRisk,
		Reasons:    []string{"Not using secure HTTPS"},
	}
}

// stubAnalyzer returns err when set, otherwise fixed remote results.
type stubAnalyzer struct {
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (a *stubAnalyzer) Name() string { return "stub" }

func (a *stubAnalyzer) wait(ctx context.Context) error {
	a.calls.Add(1)
	if a.delay == 0 {
		return a.err
	}
	select {
	case <-time.After(a.delay):
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *stubAnalyzer) AnalyzeApp(ctx context.Context, p *AppProfile) (*RiskAssessment, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	return &RiskAssessment{Score: 0.9, Label: LabelMalicious, ThreatType: "Spyware", Reasons: []string{"remote"}}, nil
}

func (a *stubAnalyzer) AnalyzeURL(ctx context.Context, url string) (*URLAssessment, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	return &URLAssessment{Score: 0.2, Category: "Safe", Reasons: []string{"remote"}}, nil
}

func newRemote(a Analyzer, timeout time.Duration, b *Breaker) *RemoteProvider {
	return NewRemoteProvider(a, stubLocal{}, timeout, b, zap.NewNop())
}

func TestLocalProvider_SetsSource(t *testing.T) {
	p := NewLocalProvider(stubLocal{})

	app := p.ScoreApp(context.Background(), &AppProfile{PackageName: "com.example"})
	if app.Source != SourceLocal {
		t.Errorf("expected local source, got %v", app.Source)
	}
	if app.Analysis != LocalAnalysis {
		t.Errorf("unexpected analysis: %q", app.Analysis)
	}
	if !reflect.DeepEqual(app.Recommendations, app.Reasons) {
		t.Errorf("expected reasons as recommendations, got %v", app.Recommendations)
	}

	url := p.ScoreURL(context.Background(), "http://x")
	if url.Source != SourceLocal {
		t.Errorf("expected local source, got %v", url.Source)
	}
	if url.Analysis != LocalAnalysis {
		t.Errorf("unexpected analysis: %q", url.Analysis)
	}
	want := []string{"Do not visit this URL", "Report as phishing"}
	if !reflect.DeepEqual(url.Recommendations, want) {
		t.Errorf("recommendations = %v, want %v", url.Recommendations, want)
	}
}

func TestLocalAndDegradedResultsHaveSameShape(t *testing.T) {
	ctx := context.Background()
	profile := &AppProfile{PackageName: "com.example"}
	local := NewLocalProvider(stubLocal{})
	degraded := newRemote(&stubAnalyzer{err: ErrRemoteUnavailable}, time.Second, nil)

	la, da := local.ScoreApp(ctx, profile), degraded.ScoreApp(ctx, profile)
	la.Source, la.Analysis = da.Source, da.Analysis
	if !reflect.DeepEqual(la, da) {
		t.Errorf("app results differ beyond source and analysis:\n local    %+v\n degraded %+v", la, da)
	}

	lu, du := local.ScoreURL(ctx, "http://x"), degraded.ScoreURL(ctx, "http://x")
	lu.Source, lu.Analysis = du.Source, du.Analysis
	if !reflect.DeepEqual(lu, du) {
		t.Errorf("url results differ beyond source and analysis:\n local    %+v\n degraded %+v", lu, du)
	}
}

func TestRemoteProvider_Success(t *testing.T) {
	a := &stubAnalyzer{}
	p := newRemote(a, time.Second, nil)

	res := p.ScoreApp(context.Background(), &AppProfile{PackageName: "com.example"})
	if res.Source != SourceRemote {
		t.Fatalf("expected remote source, got %v", res.Source)
	}
	if res.Label != LabelMalicious || res.ThreatType != "Spyware" {
		t.Errorf("expected remote verdict, got %+v", res)
	}
}

func TestRemoteProvider_FallbackOnError(t *testing.T) {
	a := &stubAnalyzer{err: fmt.Errorf("call: %w", ErrRemoteUnavailable)}
	p := newRemote(a, time.Second, nil)

	res := p.ScoreApp(context.Background(), &AppProfile{PackageName: "com.example"})
	if res.Source != SourceDegraded {
		t.Fatalf("expected degraded source, got %v", res.Source)
	}

	// Same shape as the local result apart from the fallback annotations.
	local := NewLocalProvider(stubLocal{}).ScoreApp(context.Background(), &AppProfile{PackageName: "com.example"})
	if res.Score != local.Score || res.Label != local.Label || res.ThreatType != local.ThreatType {
		t.Errorf("degraded result %+v differs from local %+v", res, local)
	}
	if !reflect.DeepEqual(res.Reasons, local.Reasons) {
		t.Errorf("reasons differ: %v vs %v", res.Reasons, local.Reasons)
	}
	if res.Analysis != DegradedAnalysis {
		t.Errorf("unexpected analysis: %q", res.Analysis)
	}
	if !reflect.DeepEqual(res.Recommendations, local.Reasons) {
		t.Errorf("expected reasons as recommendations, got %v", res.Recommendations)
	}
}

func TestRemoteProvider_URLFallbackRecommendations(t *testing.T) {
	a := &stubAnalyzer{err: ErrMalformedResponse}
	p := newRemote(a, time.Second, nil)

	res := p.ScoreURL(context.Background(), "http://192.168.1.1/login")
	if res.Source != SourceDegraded {
		t.Fatalf("expected degraded source, got %v", res.Source)
	}
	want := []string{"Do not visit this URL", "Report as phishing"}
	if !reflect.DeepEqual(res.Recommendations, want) {
		t.Errorf("recommendations = %v, want %v", res.Recommendations, want)
	}
}

func TestRemoteProvider_TimeoutFallsBack(t *testing.T) {
	a := &stubAnalyzer{delay: time.Second}
	p := newRemote(a, 20*time.Millisecond, nil)

	start := time.Now()
	res := p.ScoreURL(context.Background(), "https://example.com")
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("remote call was not time-bounded: %v", time.Since(start))
	}
	if res.Source != SourceDegraded {
		t.Errorf("expected degraded source, got %v", res.Source)
	}
}

func TestRemoteProvider_BreakerSkipsRemote(t *testing.T) {
	a := &stubAnalyzer{err: ErrRemoteUnavailable}
	b := NewBreaker(2, time.Hour)
	p := newRemote(a, time.Second, b)

	for i := 0; i < 5; i++ {
		p.ScoreApp(context.Background(), &AppProfile{PackageName: "com.example"})
	}
	if got := a.calls.Load(); got != 2 {
		t.Errorf("expected 2 remote calls before the circuit opened, got %d", got)
	}
	if b.State() != BreakerOpen {
		t.Errorf("expected open breaker, got %v", b.State())
	}
}

func TestRemoteProvider_CallerCancelDoesNotTrip(t *testing.T) {
	a := &stubAnalyzer{delay: time.Second}
	b := NewBreaker(1, time.Hour)
	p := newRemote(a, time.Second, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 3; i++ {
		res := p.ScoreApp(ctx, &AppProfile{PackageName: "com.example"})
		if res.Source != SourceDegraded {
			t.Fatalf("expected degraded source, got %v", res.Source)
		}
	}
	if got := a.calls.Load(); got != 3 {
		t.Errorf("expected every call to reach the remote, got %d", got)
	}
	if b.State() != BreakerClosed {
		t.Errorf("caller cancellation tripped the breaker: %v", b.State())
	}
}

func TestRemoteProvider_CallerCancelMidCall(t *testing.T) {
	a := &stubAnalyzer{delay: time.Second}
	b := NewBreaker(1, time.Hour)
	p := newRemote(a, time.Second, b)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	p.ScoreURL(ctx, "https://example.com")

	if b.State() != BreakerClosed {
		t.Errorf("caller cancellation tripped the breaker: %v", b.State())
	}
}

func TestRemoteProvider_CanceledTrialCallRetries(t *testing.T) {
	a := &stubAnalyzer{delay: time.Second}
	b := NewBreaker(1, time.Minute)
	now := time.Unix(1000, 0)
	b.now = func() time.Time { return now }
	p := newRemote(a, time.Second, b)

	b.RecordFailure()
	now = now.Add(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.ScoreApp(ctx, &AppProfile{PackageName: "com.example"})
	if b.State() != BreakerOpen {
		t.Fatalf("expected the abandoned trial call to reopen the circuit, got %v", b.State())
	}

	a.delay = 0
	res := p.ScoreApp(context.Background(), &AppProfile{PackageName: "com.example"})
	if res.Source != SourceRemote {
		t.Errorf("expected the next call to reach the remote, got %v", res.Source)
	}
	if got := a.calls.Load(); got != 2 {
		t.Errorf("expected 2 remote calls, got %d", got)
	}
	if b.State() != BreakerClosed {
		t.Errorf("expected closed circuit after a successful trial call, got %v", b.State())
	}
}

func TestFallbackReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrCircuitOpen, "circuit_open"},
		{fmt.Errorf("x: %w", context.DeadlineExceeded), "timeout"},
		{context.Canceled, "canceled"},
		{fmt.Errorf("parse: %w", ErrMalformedResponse), "malformed"},
		{ErrRemoteUnavailable, "unavailable"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := FallbackReason(tt.err); got != tt.want {
			t.Errorf("FallbackReason(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestBreaker_HalfOpenTrialCall(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	now := time.Unix(1000, 0)
	b.now = func() time.Time { return now }

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("expected open circuit to reject")
	}

	now = now.Add(time.Minute)
	if !b.Allow() {
		t.Fatal("expected a trial call after the open duration")
	}
	if b.Allow() {
		t.Fatal("expected only one trial call while half-open")
	}

	b.RecordSuccess()
	if b.State() != BreakerClosed || !b.Allow() {
		t.Errorf("expected closed circuit after a successful trial call, got %v", b.State())
	}
}

func TestBreaker_RecordCanceled(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	now := time.Unix(1000, 0)
	b.now = func() time.Time { return now }

	b.RecordCanceled()
	if b.State() != BreakerClosed {
		t.Fatalf("cancel changed a closed circuit: %v", b.State())
	}

	b.RecordFailure()
	now = now.Add(time.Minute)
	if !b.Allow() {
		t.Fatal("expected a trial call after the open duration")
	}
	b.RecordCanceled()
	if b.State() != BreakerOpen {
		t.Fatalf("expected open circuit, got %v", b.State())
	}
	if !b.Allow() {
		t.Error("expected another trial call right after a canceled one")
	}
}

func BenchmarkRemoteProvider_Fallback(b *testing.B) {
	p := newRemote(&stubAnalyzer{err: ErrRemoteUnavailable}, time.Second, nil)
	profile := &AppProfile{PackageName: "com.example"}
	ctx := context.Background()
	for i := 0; i < b.N; i++ {
		p.ScoreApp(ctx, profile)
	}
}
