package api

import (
	"time"

	"github.com/cybershield-x/shield/internal/engine"
	"github.com/cybershield-x/shield/internal/storage"
)

// --- Scoring ---

// AppProfileReq is the JSON form of an app profile.
type AppProfileReq struct {
	PackageName string   `json:"package_name"`
	AppName     string   `json:"app_name"`
	Permissions []string `json:"permissions"`
	IsSystemApp bool     `json:"is_system_app"`
}

func (r *AppProfileReq) profile() *engine.AppProfile {
	return &engine.AppProfile{
		PackageName: r.PackageName,
		AppName:     r.AppName,
		Permissions: r.Permissions,
		IsSystemApp: r.IsSystemApp,
	}
}

// AppScoreResp is the response for POST /v1/score/app.
type AppScoreResp struct {
	RequestID       string   `json:"request_id"`
	Score           float64  `json:"score"`
	Label           string   `json:"label"`
	ThreatType      string   `json:"threat_type"`
	Reasons         []string `json:"reasons"`
	Source          string   `json:"source"`
	Analysis        string   `json:"analysis,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// URLScoreReq is the JSON body for POST /v1/score/url.
type URLScoreReq struct {
	URL string `json:"url"`
}

// URLScoreResp is the response for POST /v1/score/url.
type URLScoreResp struct {
	RequestID       string   `json:"request_id"`
	Score           float64  `json:"score"`
	IsPhishing      bool     `json:"is_phishing"`
	Category        string   `json:"category"`
	Reasons         []string `json:"reasons"`
	Source          string   `json:"source"`
	Analysis        string   `json:"analysis,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// --- Lock session ---

// ForegroundReq is one raw focus event from the device.
type ForegroundReq struct {
	PackageName string     `json:"package_name"`
	EventType   string     `json:"event_type,omitempty"` // defaults to window_state_changed
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// ForegroundResp reports what the state machine did with the event.
type ForegroundResp struct {
	Emitted  bool   `json:"emitted"`
	Decision string `json:"decision"`
}

// LocksResp lists locked packages.
type LocksResp struct {
	Locked []string `json:"locked"`
}

// TrustedResp is the response for GET /v1/locks/{package}/trusted.
type TrustedResp struct {
	PackageName string `json:"package_name"`
	Locked      bool   `json:"locked"`
	Trusted     bool   `json:"trusted"`
}

// ResolveChallengeReq answers a pending challenge.
type ResolveChallengeReq struct {
	Outcome string `json:"outcome"` // approved or denied
}

// --- Logs ---

// PrivacyEventReq reports a sensor access.
type PrivacyEventReq struct {
	PackageName string `json:"package_name"`
	AppName     string `json:"app_name"`
	EventType   string `json:"event_type"`
}

// ThreatLogsResp lists threat log entries, newest first.
type ThreatLogsResp struct {
	Threats []storage.ThreatLogEntry `json:"threats"`
}

// PrivacyEventsResp lists privacy events, newest first.
type PrivacyEventsResp struct {
	Events []storage.PrivacyEvent `json:"events"`
}

// --- Inventory ---

// UpsertAppsReq replaces inventory rows.
type UpsertAppsReq struct {
	Apps []AppProfileReq `json:"apps"`
}

// UpsertAppsResp counts stored rows.
type UpsertAppsResp struct {
	Upserted int `json:"upserted"`
}

// ScanResp acknowledges a started scan.
type ScanResp struct {
	Status string `json:"status"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
