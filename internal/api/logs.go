package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/cybershield-x/shield/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxListLimit caps ?limit= on log listings.
const maxListLimit = 500

// handlePrivacyEvent implements POST /v1/privacy-events.
func (d *Dependencies) handlePrivacyEvent(w http.ResponseWriter, r *http.Request) {
	var req PrivacyEventReq
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	req.PackageName = strings.TrimSpace(req.PackageName)
	if req.PackageName == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "package_name is required"})
		return
	}
	kind, err := storage.ParsePrivacyEventType(req.EventType)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "event_type must be camera, microphone or location"})
		return
	}

	event := &storage.PrivacyEvent{
		ID:          uuid.New(),
		PackageName: req.PackageName,
		AppName:     req.AppName,
		EventType:   kind,
		Timestamp:   time.Now().UTC(),
	}
	d.Writer.WritePrivacy(event)
	writeJSON(w, http.StatusAccepted, event)
}

// handleListPrivacy implements GET /v1/privacy-events?limit=.
func (d *Dependencies) handleListPrivacy(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Log store not configured"})
		return
	}
	events, err := d.Reader.RecentPrivacy(r.Context(), listLimit(r, storage.DefaultPrivacyLimit))
	if err != nil {
		d.Logger.Error("failed to list privacy events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list privacy events"})
		return
	}
	if events == nil {
		events = []storage.PrivacyEvent{}
	}
	writeJSON(w, http.StatusOK, PrivacyEventsResp{Events: events})
}

// handleListThreats implements GET /v1/threat-logs?limit=&malicious=true.
func (d *Dependencies) handleListThreats(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Log store not configured"})
		return
	}

	limit := listLimit(r, storage.DefaultThreatLimit)
	var (
		threats []storage.ThreatLogEntry
		err     error
	)
	if v := r.URL.Query().Get("malicious"); v == "true" || v == "1" {
		threats, err = d.Reader.MaliciousThreats(r.Context(), limit)
	} else {
		threats, err = d.Reader.RecentThreats(r.Context(), limit)
	}
	if err != nil {
		d.Logger.Error("failed to list threat logs", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list threat logs"})
		return
	}
	if threats == nil {
		threats = []storage.ThreatLogEntry{}
	}
	writeJSON(w, http.StatusOK, ThreatLogsResp{Threats: threats})
}

// handleThreatSummary implements GET /v1/threat-logs/summary?days=.
func (d *Dependencies) handleThreatSummary(w http.ResponseWriter, r *http.Request) {
	if d.Summary == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}
	days := queryInt(r, "days", 7)
	if days < 1 || days > 90 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "days must be between 1 and 90"})
		return
	}

	summary, err := d.Summary.Summary(r.Context(), days)
	if err != nil {
		d.Logger.Error("failed to summarize threat logs", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to summarize threat logs"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func listLimit(r *http.Request, defaultVal int) int {
	limit := queryInt(r, "limit", defaultVal)
	if limit < 1 {
		return defaultVal
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
