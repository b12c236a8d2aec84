package api

import (
	"net/http"
	"strings"

	"github.com/cybershield-x/shield/internal/storage"
	"github.com/google/uuid"
)

// handleScoreApp implements POST /v1/score/app. Every result is appended to
// the threat log.
func (d *Dependencies) handleScoreApp(w http.ResponseWriter, r *http.Request) {
	var req AppProfileReq
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	req.PackageName = strings.TrimSpace(req.PackageName)
	if req.PackageName == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "package_name is required"})
		return
	}

	profile := req.profile()
	res := d.Provider.ScoreApp(r.Context(), profile)
	d.Writer.WriteThreat(storage.NewThreatLogEntry(profile, res))

	writeJSON(w, http.StatusOK, AppScoreResp{
		RequestID:       uuid.New().String(),
		Score:           res.Score,
		Label:           res.Label.String(),
		ThreatType:      res.ThreatType,
		Reasons:         nonNil(res.Reasons),
		Source:          res.Source.String(),
		Analysis:        res.Analysis,
		Recommendations: res.Recommendations,
	})
}

// handleScoreURL implements POST /v1/score/url.
func (d *Dependencies) handleScoreURL(w http.ResponseWriter, r *http.Request) {
	var req URLScoreReq
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "url is required"})
		return
	}

	res := d.Provider.ScoreURL(r.Context(), req.URL)
	writeJSON(w, http.StatusOK, URLScoreResp{
		RequestID:       uuid.New().String(),
		Score:           res.Score,
		IsPhishing:      res.IsPhishing,
		Category:        res.Category,
		Reasons:         nonNil(res.Reasons),
		Source:          res.Source.String(),
		Analysis:        res.Analysis,
		Recommendations: res.Recommendations,
	})
}

// nonNil renders an empty list as [] rather than null.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
