package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cybershield-x/shield/internal/engine"
	"go.uber.org/zap"
)

// scanTimeout bounds a scan started over HTTP.
const scanTimeout = 30 * time.Minute

// handleUpsertApps implements PUT /v1/apps: the device uploads its installed
// app inventory for the threat scan.
func (d *Dependencies) handleUpsertApps(w http.ResponseWriter, r *http.Request) {
	if d.Apps == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Inventory store not configured"})
		return
	}

	var req UpsertAppsReq
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	apps := make([]engine.AppProfile, 0, len(req.Apps))
	for _, a := range req.Apps {
		a.PackageName = strings.TrimSpace(a.PackageName)
		if a.PackageName == "" {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "every app needs a package_name"})
			return
		}
		apps = append(apps, *a.profile())
	}

	if err := d.Apps.UpsertApps(r.Context(), apps); err != nil {
		d.Logger.Error("failed to upsert apps", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to store apps"})
		return
	}
	writeJSON(w, http.StatusOK, UpsertAppsResp{Upserted: len(apps)})
}

// handleStartScan implements POST /v1/scans. The scan runs in the background;
// its report is logged and reflected in the threat logs.
func (d *Dependencies) handleStartScan(w http.ResponseWriter, _ *http.Request) {
	if d.Scanner == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Scanner not configured"})
		return
	}

	parent := d.scanCtx
	if parent == nil {
		parent = context.Background()
	}
	go func() {
		ctx, cancel := context.WithTimeout(parent, scanTimeout)
		defer cancel()
		if _, err := d.Scanner.Scan(ctx); err != nil {
			d.Logger.Error("on-demand scan failed", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, ScanResp{Status: "started"})
}
