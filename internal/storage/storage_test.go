package storage

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/cybershield-x/shield/internal/engine"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "logs", "shield.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func threat(pkg, label string, ts time.Time) *ThreatLogEntry {
	return &ThreatLogEntry{
		ID:          uuid.New(),
		PackageName: pkg,
		AppName:     pkg,
		RiskScore:   0.5,
		ThreatLabel: label,
		ThreatType:  engine.ThreatNone,
		Reasons:     []string{"many permissions", "suspicious name"},
		Source:      "local",
		Timestamp:   ts,
	}
}

func TestSQLiteStore_RecentThreatsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, pkg := range []string{"com.a", "com.b", "com.c"} {
		if err := s.InsertThreat(ctx, threat(pkg, "Safe", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("InsertThreat: %v", err)
		}
	}

	got, err := s.RecentThreats(ctx, 2)
	if err != nil {
		t.Fatalf("RecentThreats: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].PackageName != "com.c" || got[1].PackageName != "com.b" {
		t.Errorf("unexpected order: %s, %s", got[0].PackageName, got[1].PackageName)
	}
	if len(got[0].Reasons) != 2 || got[0].Reasons[1] != "suspicious name" {
		t.Errorf("reasons not round-tripped: %v", got[0].Reasons)
	}
}

func TestSQLiteStore_MaliciousOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = s.InsertThreat(ctx, threat("com.safe", "Safe", now))
	_ = s.InsertThreat(ctx, threat("com.bad", "Malicious", now.Add(time.Second)))
	_ = s.InsertThreat(ctx, threat("com.meh", "Suspicious", now.Add(2*time.Second)))

	got, err := s.MaliciousThreats(ctx, 0)
	if err != nil {
		t.Fatalf("MaliciousThreats: %v", err)
	}
	if len(got) != 1 || got[0].PackageName != "com.bad" {
		t.Errorf("expected only com.bad, got %+v", got)
	}
}

func TestSQLiteStore_PrivacyAndPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)

	_ = s.InsertThreat(ctx, threat("com.old", "Safe", old))
	_ = s.InsertThreat(ctx, threat("com.new", "Safe", now))
	_ = s.InsertPrivacy(ctx, &PrivacyEvent{ID: uuid.New(), PackageName: "com.old", EventType: PrivacyCamera, Timestamp: old})
	_ = s.InsertPrivacy(ctx, &PrivacyEvent{ID: uuid.New(), PackageName: "com.new", EventType: PrivacyLocation, Timestamp: now})

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pruned rows, got %d", n)
	}

	events, err := s.RecentPrivacy(ctx, 0)
	if err != nil {
		t.Fatalf("RecentPrivacy: %v", err)
	}
	if len(events) != 1 || events[0].EventType != PrivacyLocation {
		t.Errorf("unexpected privacy events after prune: %+v", events)
	}
	threats, _ := s.RecentThreats(ctx, 0)
	if len(threats) != 1 || threats[0].PackageName != "com.new" {
		t.Errorf("unexpected threats after prune: %+v", threats)
	}
}

func TestAsyncWriter_DrainsOnClose(t *testing.T) {
	s := openTestStore(t)
	w := NewAsyncWriter(s, "sqlite", 16, zap.NewNop())

	for i := 0; i < 5; i++ {
		w.WriteThreat(threat("com.app", "Safe", time.Now().UTC()))
	}
	w.WritePrivacy(&PrivacyEvent{ID: uuid.New(), PackageName: "com.app", EventType: PrivacyMicrophone, Timestamp: time.Now().UTC()})
	w.Close()

	threats, err := s.RecentThreats(context.Background(), 0)
	if err != nil {
		t.Fatalf("RecentThreats: %v", err)
	}
	if len(threats) != 5 {
		t.Errorf("expected 5 threats after drain, got %d", len(threats))
	}
	events, _ := s.RecentPrivacy(context.Background(), 0)
	if len(events) != 1 {
		t.Errorf("expected 1 privacy event after drain, got %d", len(events))
	}
}

// blockingSink holds every insert until release is closed.
type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	count   int
}

func (b *blockingSink) InsertThreat(ctx context.Context, _ *ThreatLogEntry) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.Lock()
	b.count++
	b.mu.Unlock()
	return nil
}

func (b *blockingSink) InsertPrivacy(context.Context, *PrivacyEvent) error {
	return errors.New("unsupported")
}

func TestAsyncWriter_NeverBlocks(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	w := NewAsyncWriter(sink, "test", 1, zap.NewNop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			w.WriteThreat(threat("com.app", "Safe", time.Now()))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WriteThreat blocked on a stalled sink")
	}

	close(sink.release)
	w.Close()
}

type recordingWriter struct {
	threats, privacy int
	closed           bool
}

func (r *recordingWriter) WriteThreat(*ThreatLogEntry) { r.threats++ }
func (r *recordingWriter) WritePrivacy(*PrivacyEvent)  { r.privacy++ }
func (r *recordingWriter) Close()                      { r.closed = true }

func TestMultiWriter_FansOut(t *testing.T) {
	a, b := &recordingWriter{}, &recordingWriter{}
	m := MultiWriter{a, b, NewLogWriter(zap.NewNop())}

	m.WriteThreat(threat("com.app", "Safe", time.Now()))
	m.WritePrivacy(&PrivacyEvent{ID: uuid.New(), PackageName: "com.app", EventType: PrivacyCamera})
	m.Close()

	for _, w := range []*recordingWriter{a, b} {
		if w.threats != 1 || w.privacy != 1 || !w.closed {
			t.Errorf("writer missed a call: %+v", w)
		}
	}
}

func TestNewThreatLogEntry(t *testing.T) {
	p := &engine.AppProfile{PackageName: "com.app", AppName: "App"}
	res := &engine.RiskAssessment{
		Score:      0.75,
		Label:      engine.LabelMalicious,
		ThreatType: engine.ThreatPrivacyRisk,
		Reasons:    []string{"excessive permissions"},
		Source:     engine.SourceDegraded,
	}

	e := NewThreatLogEntry(p, res)
	if e.ID == uuid.Nil {
		t.Error("expected a generated id")
	}
	if e.ThreatLabel != "Malicious" || e.Source != "degraded" || e.RiskScore != 0.75 {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestParsePrivacyEventType(t *testing.T) {
	tests := []struct {
		in      string
		want    PrivacyEventType
		wantErr bool
	}{
		{"camera", PrivacyCamera, false},
		{" Microphone ", PrivacyMicrophone, false},
		{"LOCATION", PrivacyLocation, false},
		{"bluetooth", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePrivacyEventType(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownEventType) {
					t.Errorf("expected ErrUnknownEventType, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParsePrivacyEventType(%q) = %q, %v", tt.in, got, err)
			}
		})
	}
}

func TestReasonsRoundTrip(t *testing.T) {
	empty, err := SplitReasons("")
	if err != nil || empty != nil {
		t.Errorf("empty text should yield no reasons, got %v (%v)", empty, err)
	}

	tests := [][]string{
		{"a", "b c"},
		{"Requests SMS access; sends data to unknown hosts"},
		{`quoted "name"`, "comma, separated"},
	}
	for _, in := range tests {
		out, err := SplitReasons(ReasonsText(in))
		if err != nil {
			t.Fatalf("SplitReasons(%q): %v", ReasonsText(in), err)
		}
		if !reflect.DeepEqual(out, in) {
			t.Errorf("round trip lost data: got %q, want %q", out, in)
		}
	}
}

func TestSplitReasons_RejectsGarbage(t *testing.T) {
	if _, err := SplitReasons("many permissions; suspicious name"); err == nil {
		t.Error("expected an error for a non-JSON column")
	}
}

func TestSQLiteStore_ReasonsWithSeparatorSurvive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := threat("com.sms", "Suspicious", time.Now().UTC())
	e.Reasons = []string{"Requests SMS access; sends data to unknown hosts"}
	if err := s.InsertThreat(ctx, e); err != nil {
		t.Fatalf("InsertThreat: %v", err)
	}

	got, err := s.RecentThreats(ctx, 0)
	if err != nil {
		t.Fatalf("RecentThreats: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if !reflect.DeepEqual(got[0].Reasons, e.Reasons) {
		t.Errorf("reasons = %q, want %q", got[0].Reasons, e.Reasons)
	}
}
