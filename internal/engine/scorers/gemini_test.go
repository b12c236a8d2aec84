package scorers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cybershield-x/shield/internal/engine"
	"go.uber.org/zap"
)

func TestNewGemini_RequiresKey(t *testing.T) {
	if _, err := NewGemini("", "", "", nil); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestGemini_Generate(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gemini-pro:generateContent" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hello"}]}}]}`))
	}))
	defer srv.Close()

	g, err := NewGemini("test-key", "", srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewGemini: %v", err)
	}

	text, err := g.Generate(context.Background(), "analyze this")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "hello" {
		t.Errorf("text = %q, want hello", text)
	}
	if len(got.Contents) != 1 || got.Contents[0].Parts[0].Text != "analyze this" {
		t.Errorf("prompt not sent: %+v", got)
	}
	if got.GenerationConfig.Temperature != 0.2 || got.GenerationConfig.MaxOutputTokens != 1024 {
		t.Errorf("unexpected generation config: %+v", got.GenerationConfig)
	}
}

func TestGemini_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, `{}`, engine.ErrRemoteUnavailable},
		{"api error body", http.StatusOK, `{"error":{"message":"quota"}}`, engine.ErrRemoteUnavailable},
		{"no candidates", http.StatusOK, `{"candidates":[]}`, engine.ErrMalformedResponse},
		{"garbage", http.StatusOK, `not json`, engine.ErrMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g, _ := NewGemini("k", "m", srv.URL, srv.Client())
			_, err := g.Generate(context.Background(), "p")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGemini_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	g, _ := NewGemini("k", "m", srv.URL, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := g.Generate(ctx, "p")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if engine.FallbackReason(err) != "timeout" {
		t.Errorf("expected timeout fallback reason, got %s", engine.FallbackReason(err))
	}
	if strings.Contains(err.Error(), "key=") {
		t.Errorf("error leaks the api key: %v", err)
	}
}

// End to end: Gemini reply validated by the remote analyzer and served by the provider.
func TestGemini_ThroughRemoteProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply := map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{map[string]any{
					"text": "```json\n{\"isPhishing\":false,\"confidence\":0.05,\"category\":\"Safe\",\"analysis\":\"ok\",\"indicators\":[],\"recommendations\":[]}\n```",
				}}},
			}},
		}
		_ = json.NewEncoder(w).Encode(reply)
	}))
	defer srv.Close()

	g, _ := NewGemini("k", "", srv.URL, srv.Client())
	a := newAnalyzer(t, g)
	local, err := NewLocal(engine.DefaultRuleSet())
	if err != nil {
		t.Fatal(err)
	}
	p := engine.NewRemoteProvider(a, local, time.Second, nil, zap.NewNop())

	res := p.ScoreURL(context.Background(), "http://192.168.1.1/verify-account-paypal----login123456")
	if res.Source != engine.SourceRemote {
		t.Fatalf("expected remote source, got %v", res.Source)
	}
	if res.IsPhishing || res.Category != "Safe" {
		t.Errorf("expected the remote verdict, got %+v", res)
	}
}
