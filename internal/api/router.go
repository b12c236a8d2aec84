package api

import (
	"context"
	"net/http"

	"github.com/cybershield-x/shield/internal/auth"
	"github.com/cybershield-x/shield/internal/chread"
	"github.com/cybershield-x/shield/internal/engine"
	"github.com/cybershield-x/shield/internal/metrics"
	"github.com/cybershield-x/shield/internal/scan"
	"github.com/cybershield-x/shield/internal/session"
	"github.com/cybershield-x/shield/internal/storage"
	"go.uber.org/zap"
)

// AppInventory stores the installed-app profiles the scanner reads.
type AppInventory interface {
	UpsertApps(ctx context.Context, apps []engine.AppProfile) error
}

// Scanner runs one threat scan pass.
type Scanner interface {
	Scan(ctx context.Context) (scan.Report, error)
}

// SummaryReader aggregates stored threat logs.
type SummaryReader interface {
	Summary(ctx context.Context, days int) (*chread.ThreatSummary, error)
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Provider   engine.Provider
	Sessions   *session.Manager
	Normalizer *session.Normalizer
	Presenter  *session.QueuePresenter
	Writer     storage.EventWriter
	Reader     storage.LogReader      // nil if no log store is configured
	Summary    SummaryReader          // nil if ClickHouse is unavailable
	Apps       AppInventory           // nil if Postgres is unavailable
	Scanner    Scanner                // nil if Postgres is unavailable
	Auth       *auth.KeyAuthenticator // nil disables auth
	Logger     *zap.Logger

	// scanCtx bounds background scans started over HTTP.
	scanCtx context.Context
}

// NewRouter builds the HTTP mux with all routes wired up. ctx bounds
// background work started by handlers.
func NewRouter(ctx context.Context, deps *Dependencies) http.Handler {
	deps.scanCtx = ctx
	mux := http.NewServeMux()
	a := deps.authMiddleware

	// Scoring
	mux.HandleFunc("POST /v1/score/app", a(deps.handleScoreApp))
	mux.HandleFunc("POST /v1/score/url", a(deps.handleScoreURL))

	// Lock session
	mux.HandleFunc("POST /v1/foreground", a(deps.handleForeground))
	mux.HandleFunc("GET /v1/session", a(deps.handleSessionStatus))
	mux.HandleFunc("GET /v1/locks", a(deps.handleListLocks))
	mux.HandleFunc("PUT /v1/locks/{package}", a(deps.handleLock))
	mux.HandleFunc("DELETE /v1/locks/{package}", a(deps.handleUnlock))
	mux.HandleFunc("DELETE /v1/locks", a(deps.handleUnlockAll))
	mux.HandleFunc("GET /v1/locks/{package}/trusted", a(deps.handleTrusted))

	// Challenges
	mux.HandleFunc("GET /v1/challenges", a(deps.handleListChallenges))
	mux.HandleFunc("GET /v1/challenges/stream", a(deps.handleChallengeStream))
	mux.HandleFunc("POST /v1/challenges/{package}", a(deps.handleResolveChallenge))

	// Logs
	mux.HandleFunc("POST /v1/privacy-events", a(deps.handlePrivacyEvent))
	mux.HandleFunc("GET /v1/privacy-events", a(deps.handleListPrivacy))
	mux.HandleFunc("GET /v1/threat-logs", a(deps.handleListThreats))
	mux.HandleFunc("GET /v1/threat-logs/summary", a(deps.handleThreatSummary))

	// Inventory and scans
	mux.HandleFunc("PUT /v1/apps", a(deps.handleUpsertApps))
	mux.HandleFunc("POST /v1/scans", a(deps.handleStartScan))

	// Health check and metrics
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
