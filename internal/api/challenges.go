package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cybershield-x/shield/internal/session"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// wsResolve is a client message answering a challenge over the stream.
type wsResolve struct {
	PackageName string `json:"package_name"`
	Outcome     string `json:"outcome"`
}

func (d *Dependencies) handleListChallenges(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]session.Challenge{"challenges": d.Presenter.Pending()})
}

// handleResolveChallenge implements POST /v1/challenges/{package}.
func (d *Dependencies) handleResolveChallenge(w http.ResponseWriter, r *http.Request) {
	var req ResolveChallengeReq
	if err := readJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	approved, ok := parseOutcome(req.Outcome)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "outcome must be approved or denied"})
		return
	}

	if err := d.Presenter.Resolve(r.PathValue("package"), approved); err != nil {
		if errors.Is(err, session.ErrNoPendingChallenge) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "No pending challenge for package."})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to resolve challenge"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseOutcome(s string) (approved bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved":
		return true, true
	case "denied":
		return false, true
	default:
		return false, false
	}
}

// handleChallengeStream implements GET /v1/challenges/stream. Outstanding
// challenges are sent on connect, then every new one as it is requested.
// Clients may answer with {"package_name", "outcome"} messages.
func (d *Dependencies) handleChallengeStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub, unsubscribe := d.Presenter.Subscribe(16)
	done := make(chan struct{})

	go d.challengeReadPump(conn, done)
	d.challengeWritePump(conn, sub, done)

	unsubscribe()
	_ = conn.Close()
}

// challengeReadPump handles client answers and pongs; it closes done when the
// connection drops.
func (d *Dependencies) challengeReadPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				d.Logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var msg wsResolve
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		approved, ok := parseOutcome(msg.Outcome)
		if !ok {
			continue
		}
		if err := d.Presenter.Resolve(msg.PackageName, approved); err != nil {
			d.Logger.Debug("websocket resolve ignored",
				zap.String("package", msg.PackageName),
				zap.Error(err),
			)
		}
	}
}

func (d *Dependencies) challengeWritePump(conn *websocket.Conn, sub <-chan session.Challenge, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for _, c := range d.Presenter.Pending() {
		if err := writeChallenge(conn, c); err != nil {
			return
		}
	}

	for {
		select {
		case <-done:
			return
		case c, ok := <-sub:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := writeChallenge(conn, c); err != nil {
				d.Logger.Debug("websocket write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeChallenge(conn *websocket.Conn, c session.Challenge) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(c)
}
