package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/cybershield-x/shield/internal/session"
	"go.uber.org/zap"
)

// handleForeground implements POST /v1/foreground: normalize one raw focus
// event and feed the resulting change to the state machine.
func (d *Dependencies) handleForeground(w http.ResponseWriter, r *http.Request) {
	var req ForegroundReq
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	raw := session.RawFocusEvent{
		PackageName: req.PackageName,
		Kind:        session.ParseEventKind(req.EventType),
	}
	if req.Timestamp != nil {
		raw.Timestamp = *req.Timestamp
	}

	ev, ok := d.Normalizer.Normalize(raw)
	if !ok {
		writeJSON(w, http.StatusOK, ForegroundResp{Emitted: false, Decision: "dropped"})
		return
	}
	decision := d.Sessions.OnForegroundEvent(ev)
	writeJSON(w, http.StatusOK, ForegroundResp{Emitted: true, Decision: decision.String()})
}

func (d *Dependencies) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.Sessions.Status())
}

func (d *Dependencies) handleListLocks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, LocksResp{Locked: nonNil(d.Sessions.Locked())})
}

func (d *Dependencies) handleLock(w http.ResponseWriter, r *http.Request) {
	pkg := strings.TrimSpace(r.PathValue("package"))
	if err := d.Sessions.Lock(r.Context(), pkg); err != nil {
		d.policyError(w, r, "lock", pkg, err)
		return
	}
	writeJSON(w, http.StatusOK, LocksResp{Locked: nonNil(d.Sessions.Locked())})
}

func (d *Dependencies) handleUnlock(w http.ResponseWriter, r *http.Request) {
	pkg := strings.TrimSpace(r.PathValue("package"))
	if err := d.Sessions.Unlock(r.Context(), pkg); err != nil {
		d.policyError(w, r, "unlock", pkg, err)
		return
	}
	writeJSON(w, http.StatusOK, LocksResp{Locked: nonNil(d.Sessions.Locked())})
}

func (d *Dependencies) handleUnlockAll(w http.ResponseWriter, r *http.Request) {
	if err := d.Sessions.UnlockAll(r.Context()); err != nil {
		d.policyError(w, r, "unlock all", "", err)
		return
	}
	writeJSON(w, http.StatusOK, LocksResp{Locked: []string{}})
}

func (d *Dependencies) handleTrusted(w http.ResponseWriter, r *http.Request) {
	pkg := r.PathValue("package")
	writeJSON(w, http.StatusOK, TrustedResp{
		PackageName: pkg,
		Locked:      d.Sessions.IsLocked(pkg),
		Trusted:     d.Sessions.IsTrusted(pkg),
	})
}

func (d *Dependencies) policyError(w http.ResponseWriter, r *http.Request, op, pkg string, err error) {
	if errors.Is(err, session.ErrInvalidPackage) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "package name is required"})
		return
	}
	fields := []zap.Field{zap.String("op", op), zap.String("package", pkg), zap.Error(err)}
	if p := principalFromContext(r.Context()); p != nil {
		fields = append(fields, zap.String("key_id", p.KeyID))
	}
	d.Logger.Error("lock policy update failed", fields...)
	writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update lock policy"})
}
