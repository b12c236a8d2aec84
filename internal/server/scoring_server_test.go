package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cybershield-x/shield/internal/auth"
	"github.com/cybershield-x/shield/internal/engine"
	"github.com/cybershield-x/shield/internal/engine/scorers"
	"github.com/cybershield-x/shield/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const testAPIKey = "shk_integration_test_key_0123456789"

type recordingWriter struct {
	mu      sync.Mutex
	threats []*storage.ThreatLogEntry
}

func (w *recordingWriter) WriteThreat(e *storage.ThreatLogEntry) {
	w.mu.Lock()
	w.threats = append(w.threats, e)
	w.mu.Unlock()
}
func (w *recordingWriter) WritePrivacy(*storage.PrivacyEvent) {}
func (w *recordingWriter) Close()                             {}

// testServer spins up an in-process gRPC server and returns a connected client.
func testServer(t *testing.T, withAuth bool) (*ScoringClient, *recordingWriter) {
	t.Helper()
	logger := zap.NewNop()

	local, err := scorers.NewLocal(engine.DefaultRuleSet())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	var authenticator auth.Authenticator
	if withAuth {
		hash, err := bcrypt.GenerateFromPassword([]byte(testAPIKey), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("bcrypt: %v", err)
		}
		authenticator = auth.NewKeyAuthenticator(auth.NewStaticKeyStore(string(hash)), time.Minute, logger)
	}

	writer := &recordingWriter{}
	srv := NewScoringServer(engine.NewLocalProvider(local), authenticator, writer, logger)

	grpcServer := grpc.NewServer()
	RegisterScoringServer(grpcServer, srv)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go grpcServer.Serve(lis)

	conn, err := grpc.NewClient(
		lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		grpcServer.Stop()
	})

	return NewScoringClient(conn), writer
}

func authedCtx(key string) context.Context {
	return metadata.NewOutgoingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+key))
}

func TestIntegration_ScoreApp(t *testing.T) {
	client, writer := testServer(t, false)

	res, err := client.ScoreApp(context.Background(), &engine.AppProfile{
		PackageName: "com.example.photo",
		AppName:     "Photo Editor",
		Permissions: []string{"READ_SMS", "READ_CONTACTS", "CAMERA", "RECORD_AUDIO", "ACCESS_FINE_LOCATION", "INTERNET"},
	})
	if err != nil {
		t.Fatalf("ScoreApp failed: %v", err)
	}

	if res.Score != 0.3 || res.Label != engine.LabelSafe {
		t.Errorf("expected 0.3 Safe, got %v %v", res.Score, res.Label)
	}
	if res.Source != engine.SourceLocal {
		t.Errorf("expected local source, got %v", res.Source)
	}
	if len(res.Reasons) != 2 {
		t.Errorf("expected 2 reasons, got %v", res.Reasons)
	}

	writer.mu.Lock()
	defer writer.mu.Unlock()
	if len(writer.threats) != 1 || writer.threats[0].PackageName != "com.example.photo" {
		t.Errorf("expected one threat log entry, got %+v", writer.threats)
	}
}

func TestIntegration_ScoreURL(t *testing.T) {
	client, _ := testServer(t, false)

	res, err := client.ScoreURL(context.Background(), "http://192.168.1.1/verify-account-paypal----login123456")
	if err != nil {
		t.Fatalf("ScoreURL failed: %v", err)
	}
	if !res.IsPhishing || res.Category != engine.CategoryHighRisk {
		t.Errorf("expected phishing/High Risk, got %v %q", res.IsPhishing, res.Category)
	}
	if len(res.Reasons) != 5 {
		t.Errorf("expected 5 reasons, got %v", res.Reasons)
	}
}

func TestIntegration_InvalidArgument(t *testing.T) {
	client, _ := testServer(t, false)

	_, err := client.ScoreApp(context.Background(), &engine.AppProfile{AppName: "no package"})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}

	_, err = client.ScoreURL(context.Background(), "   ")
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for blank url, got %v", err)
	}
}

func TestIntegration_AuthAcceptsValidKey(t *testing.T) {
	client, _ := testServer(t, true)

	if _, err := client.ScoreURL(authedCtx(testAPIKey), "https://example.com"); err != nil {
		t.Fatalf("expected success with valid key, got %v", err)
	}
}

func TestIntegration_AuthRejects(t *testing.T) {
	client, _ := testServer(t, true)

	tests := []struct {
		name string
		ctx  context.Context
	}{
		{"missing key", context.Background()},
		{"bad key", authedCtx("shk_wrong_key_000000000000")},
		{"wrong prefix", authedCtx("tsk_abc12345")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.ScoreURL(tt.ctx, "https://example.com")
			if status.Code(err) != codes.Unauthenticated {
				t.Errorf("expected Unauthenticated, got %v", err)
			}
		})
	}
}

func TestProfileFromStruct_RejectsBadPermissions(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{
		"package_name": "com.app",
		"permissions":  []any{"CAMERA", 3.0},
	})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	if _, err := ProfileFromStruct(s); err == nil {
		t.Error("expected error for non-string permission")
	}
}

func TestAppResultRoundTrip(t *testing.T) {
	in := &engine.RiskAssessment{
		Score:           0.75,
		Label:           engine.LabelMalicious,
		ThreatType:      engine.ThreatPrivacyRisk,
		Reasons:         []string{"excessive permissions"},
		Source:          engine.SourceDegraded,
		Analysis:        engine.DegradedAnalysis,
		Recommendations: []string{"excessive permissions"},
	}
	s, err := AppResultToStruct(in, "req-1")
	if err != nil {
		t.Fatalf("AppResultToStruct: %v", err)
	}
	out, err := AppResultFromStruct(s)
	if err != nil {
		t.Fatalf("AppResultFromStruct: %v", err)
	}
	if out.Score != in.Score || out.Label != in.Label || out.Source != in.Source || out.Analysis != in.Analysis {
		t.Errorf("round trip mismatch: %+v", out)
	}
}
