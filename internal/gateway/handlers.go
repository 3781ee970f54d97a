package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/HerbHall/autofleet/internal/plugin"
	"github.com/HerbHall/autofleet/internal/server"
	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Handshake results.
const (
	handshakeAccepted = "accepted"
	handshakeRejected = "rejected"
	handshakeTest     = "test"
)

// Routes implements plugin.Plugin.
func (p *Plugin) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/secret", Handler: p.handleGetSecret},
		{Method: "POST", Path: "/secret", Handler: p.handleSetSecret},
		{Method: "GET", Path: "/sessions", Handler: p.handleListSessions},
		{Method: "DELETE", Path: "/sessions/{id}", Handler: p.handleDeleteSession},
		{Method: "GET", Path: "/status", Handler: p.handleStatus},
	}
}

// RootRoutes implements plugin.RootRouteProvider.
func (p *Plugin) RootRoutes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/ws/device", Handler: p.handleDevice},
	}
}

// handleDevice upgrades a device connection. The device identifies itself
// with ?deviceId= and proves membership with ?matchCode=. ?mode=test
// connections are accepted and drained without touching the registry.
func (p *Plugin) handleDevice(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		p.logger.Warn("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	q := r.URL.Query()
	deviceID := strings.TrimSpace(q.Get("deviceId"))
	if deviceID == "" {
		p.reject(ws, r, "deviceId query param required")
		return
	}
	if code := p.matchCode(); code != "" && q.Get("matchCode") != code {
		p.reject(ws, r, "invalid matchCode")
		return
	}
	ws.SetReadLimit(p.cfg.MaxMessageBytes)

	p.wg.Add(1)
	defer p.wg.Done()

	// Connections outlive the HTTP handler context once hijacked, so tie
	// them to the plugin lifetime as well.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	if q.Get("mode") == "test" {
		p.handshakes.WithLabelValues(handshakeTest).Inc()
		p.logger.Info("test connection", zap.String("device_id", deviceID), zap.String("remote_addr", r.RemoteAddr))
		p.drain(ctx, ws, deviceID)
		return
	}

	p.handshakes.WithLabelValues(handshakeAccepted).Inc()
	conn := newConn(ws, deviceID, r.RemoteAddr, p.cfg, p.logger)
	p.track(conn)
	defer p.untrack(conn)

	p.logger.Info("device connected",
		zap.String("device_id", deviceID),
		zap.String("conn_id", conn.id),
		zap.String("remote_addr", r.RemoteAddr),
	)
	p.sessions.Attach(deviceID, conn)

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		conn.writePump()
	}()

	p.readLoop(ctx, conn)

	_ = conn.Close()
	p.sessions.MarkOffline(conn)
	<-pumpDone
}

// readLoop feeds inbound frames to the registry until the connection fails
// or is closed from either side.
func (p *Plugin) readLoop(ctx context.Context, conn *wsConn) {
	limiter := rate.NewLimiter(rate.Limit(p.cfg.MessagesPerSecond), p.cfg.Burst)
	for {
		_, data, err := conn.ws.Read(ctx)
		if err != nil {
			p.logDisconnect(conn, err)
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			conn.logger.Debug("rate limiter wait aborted", zap.Error(err))
			return
		}
		// Malformed frames are logged and counted by the registry; the
		// connection stays up.
		_ = p.sessions.HandleMessage(conn.deviceID, conn, data)
	}
}

func (p *Plugin) logDisconnect(conn *wsConn, err error) {
	status := websocket.CloseStatus(err)
	switch {
	case status != -1:
		conn.logger.Info("device disconnected", zap.Int("code", int(status)))
	case !conn.IsOpen(), errors.Is(err, context.Canceled):
		conn.logger.Info("device connection closed")
	default:
		conn.logger.Warn("device connection error", zap.Error(err))
	}
}

// drain reads and discards frames of a test connection until it ends.
func (p *Plugin) drain(ctx context.Context, ws *websocket.Conn, deviceID string) {
	defer ws.CloseNow()
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			p.logger.Info("test connection closed", zap.String("device_id", deviceID), zap.Error(err))
			return
		}
	}
}

func (p *Plugin) reject(ws *websocket.Conn, r *http.Request, reason string) {
	p.handshakes.WithLabelValues(handshakeRejected).Inc()
	p.logger.Warn("rejecting device connection",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("reason", reason),
	)
	_ = ws.Close(websocket.StatusPolicyViolation, reason)
}

// --- Admin API ---

func (p *Plugin) handleGetSecret(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"matchCode": p.matchCode()})
}

// handleSetSecret replaces the match code for new connections. Existing
// connections are not affected.
func (p *Plugin) handleSetSecret(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MatchCode string `json:"matchCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MatchCode == "" {
		server.BadRequest(w, "matchCode is required", r.URL.Path)
		return
	}
	if p.settings != nil {
		if err := p.settings.Set(r.Context(), matchCodeKey, req.MatchCode); err != nil {
			p.logger.Error("failed to persist match code", zap.Error(err))
			server.InternalError(w, "failed to save match code", r.URL.Path)
			return
		}
	}
	p.setMatchCode(req.MatchCode)
	p.logger.Info("match code updated")
	writeJSON(w, http.StatusOK, map[string]string{"matchCode": req.MatchCode})
}

type sessionView struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"deviceId"`
	RemoteAddr  string    `json:"remoteAddr"`
	ConnectedAt time.Time `json:"connectedAt"`
	Queued      int       `json:"queued"`
}

func (p *Plugin) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	conns := p.snapshot()
	views := make([]sessionView, 0, len(conns))
	for _, c := range conns {
		views = append(views, sessionView{
			ID:          c.id,
			DeviceID:    c.deviceID,
			RemoteAddr:  c.remoteAddr,
			ConnectedAt: c.connectedAt,
			Queued:      c.queued(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

// handleDeleteSession closes a device connection. The device record stays in
// the registry.
func (p *Plugin) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	c, ok := p.conn(r.PathValue("id"))
	if !ok {
		server.NotFound(w, "session not found", r.URL.Path)
		return
	}
	_ = c.Close()
	p.logger.Info("session closed by operator", zap.String("device_id", c.deviceID), zap.String("conn_id", c.id))
	w.WriteHeader(http.StatusNoContent)
}

func (p *Plugin) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active_sessions":     p.connCount(),
		"match_code_required": p.matchCode() != "",
		"max_message_bytes":   p.cfg.MaxMessageBytes,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
