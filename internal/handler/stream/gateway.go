package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/krobus00/market-stream/internal/constant"
	"github.com/krobus00/market-stream/internal/entity"
	"github.com/krobus00/market-stream/internal/service/auth"
	"github.com/krobus00/market-stream/internal/service/session"
	streamsvc "github.com/krobus00/market-stream/internal/service/stream"
	"github.com/sirupsen/logrus"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultPingInterval      = 30 * time.Second
	defaultPongWait          = 60 * time.Second
	defaultWriteWait         = 5 * time.Second
	maxMessageSize           = 4096
)

type Verifier interface {
	Verify(rawToken string) (entity.Claims, error)
}

type SessionRegistry interface {
	Admit(claims entity.Claims) (entity.Session, error)
	Heartbeat(sessionID string)
	ReleaseAdmission(session entity.Session) bool
	OnEvict(fn func(entity.Session))
}

type GatewayConfig struct {
	HeartbeatInterval time.Duration
	PingInterval      time.Duration
	PongWait          time.Duration
	WriteWait         time.Duration
	OutboundBuffer    int
	Clock             clockwork.Clock
}

// Gateway admits websocket clients and runs one router per connection.
type Gateway struct {
	verifier    Verifier
	registry    SessionRegistry
	broadcaster streamsvc.Broadcaster
	admin       streamsvc.AdminSource
	cfg         GatewayConfig
	upgrader    websocket.Upgrader

	mu       sync.Mutex
	conns    map[uuid.UUID]*connection
	shutdown bool
	wg       sync.WaitGroup
}

type connection struct {
	ws        *websocket.Conn
	session   entity.Session
	closeOnce sync.Once
	writeWait time.Duration
}

func NewGateway(verifier Verifier, registry SessionRegistry, broadcaster streamsvc.Broadcaster, admin streamsvc.AdminSource, cfg GatewayConfig) *Gateway {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	g := &Gateway{
		verifier:    verifier,
		registry:    registry,
		broadcaster: broadcaster,
		admin:       admin,
		cfg:         cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[uuid.UUID]*connection),
	}
	registry.OnEvict(g.handleEviction)

	return g
}

func (g *Gateway) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", g.ServeData)
	mux.HandleFunc("GET /ws/admin", g.ServeAdmin)
}

func (g *Gateway) ServeData(w http.ResponseWriter, r *http.Request) {
	g.serve(w, r, false)
}

func (g *Gateway) ServeAdmin(w http.ResponseWriter, r *http.Request) {
	g.serve(w, r, true)
}

// Admit runs the admission sequence without touching the connection.
func (g *Gateway) Admit(r *http.Request, requireAdmin bool) (entity.Session, entity.AdmissionCode) {
	claims, err := g.verifier.Verify(auth.ExtractBearerToken(r))
	if err != nil {
		logrus.WithError(err).WithField("remote_addr", r.RemoteAddr).Warn("rejected websocket connection")
		return entity.Session{}, entity.AdmissionUnauthorized
	}

	if requireAdmin && !claims.HasPermission(constant.PermissionAdmin) {
		return entity.Session{}, entity.AdmissionForbidden
	}

	s, err := g.registry.Admit(claims)
	switch {
	case errors.Is(err, session.ErrConflict):
		return entity.Session{}, entity.AdmissionConflict
	case errors.Is(err, session.ErrCapacityExceeded):
		return entity.Session{}, entity.AdmissionCapacityExceeded
	case err != nil:
		logrus.WithError(err).Error("failed to admit session")
		return entity.Session{}, entity.AdmissionUnauthorized
	}

	return s, entity.AdmissionSuccess
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, admin bool) {
	g.mu.Lock()
	if g.shutdown {
		g.mu.Unlock()
		writeRejection(w, entity.AdmissionCapacityExceeded)
		return
	}
	g.wg.Add(1)
	g.mu.Unlock()
	defer g.wg.Done()

	s, code := g.Admit(r, admin)
	if code != entity.AdmissionSuccess {
		logrus.WithFields(logrus.Fields{
			"code":  code,
			"path":  r.URL.Path,
			"admin": admin,
		}).Warn("websocket admission refused")
		writeRejection(w, code)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).WithField("session_id", s.ShortID()).Error("websocket upgrade failed")
		g.registry.ReleaseAdmission(s)
		return
	}

	conn := &connection{ws: ws, session: s, writeWait: g.cfg.WriteWait}
	g.track(conn)
	g.run(r.Context(), conn, admin)
}

func (g *Gateway) run(parent context.Context, conn *connection, admin bool) {
	logger := logrus.WithFields(logrus.Fields{
		"session_id": conn.session.ShortID(),
		"user_id":    conn.session.UserID,
		"admin":      admin,
	})
	logger.Info("websocket connection established")

	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))

	router := streamsvc.NewRouter(streamsvc.RouterConfig{
		Session:        conn.session,
		Broadcaster:    g.broadcaster,
		Admin:          g.admin,
		OutboundBuffer: g.cfg.OutboundBuffer,
		OnPing:         func() { g.registry.Heartbeat(conn.session.ID) },
		Clock:          g.cfg.Clock,
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		g.emitHeartbeats(ctx, conn.session.ID)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		g.writeLoop(ctx, conn, router)
	}()

	if admin {
		if err := router.SubscribeAdmin(); err != nil {
			logger.WithError(err).Error("failed to bind admin feed")
		}
	}

	g.readLoop(ctx, conn, router)

	cancel()
	router.Close()
	conn.close()
	wg.Wait()

	g.untrack(conn)
	g.registry.ReleaseAdmission(conn.session)
	logger.Info("websocket connection closed")
}

func (g *Gateway) readLoop(ctx context.Context, conn *connection, router *streamsvc.Router) {
	ws := conn.ws
	ws.SetReadLimit(maxMessageSize)
	g.extendReadDeadline(ws)
	ws.SetPongHandler(func(string) error {
		g.extendReadDeadline(ws)
		return nil
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logrus.WithError(err).WithField("session_id", conn.session.ShortID()).Warn("websocket read failed")
			}
			return
		}
		g.extendReadDeadline(ws)

		if msgType != websocket.TextMessage {
			continue
		}
		if err := router.Handle(ctx, data); err != nil {
			return
		}
	}
}

func (g *Gateway) writeLoop(ctx context.Context, conn *connection, router *streamsvc.Router) {
	ticker := g.cfg.Clock.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-router.Outbound():
			conn.setWriteDeadline(g.cfg.Clock.Now())
			if err := conn.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				conn.close()
				return
			}
		case <-ticker.Chan():
			conn.setWriteDeadline(g.cfg.Clock.Now())
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.close()
				return
			}
		}
	}
}

func (g *Gateway) emitHeartbeats(ctx context.Context, sessionID string) {
	ticker := g.cfg.Clock.NewTicker(g.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			g.registry.Heartbeat(sessionID)
		}
	}
}

func (g *Gateway) extendReadDeadline(ws *websocket.Conn) {
	_ = ws.SetReadDeadline(g.cfg.Clock.Now().Add(g.cfg.PongWait))
}

func (g *Gateway) handleEviction(s entity.Session) {
	g.mu.Lock()
	conn, ok := g.conns[s.ConnectionID]
	g.mu.Unlock()
	if !ok {
		return
	}

	logrus.WithField("session_id", s.ShortID()).Warn("closing connection of evicted session")
	// hooks run on the sweeper goroutine
	go conn.closeWithReason(websocket.ClosePolicyViolation, "session expired")
}

// Shutdown closes every live connection with a close frame and waits for
// their handlers to finish.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.shutdown = true
	conns := make([]*connection, 0, len(g.conns))
	for _, conn := range g.conns {
		conns = append(conns, conn)
	}
	g.mu.Unlock()

	for _, conn := range conns {
		conn.closeWithReason(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) ConnectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

func (g *Gateway) track(conn *connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[conn.session.ConnectionID] = conn
}

func (g *Gateway) untrack(conn *connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, conn.session.ConnectionID)
}

func (c *connection) setWriteDeadline(now time.Time) {
	_ = c.ws.SetWriteDeadline(now.Add(c.writeWait))
}

func (c *connection) closeWithReason(code int, reason string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait))
		_ = c.ws.Close()
	})
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
	})
}

func writeRejection(w http.ResponseWriter, code entity.AdmissionCode) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": code.Message(),
		"code":  code,
	})
}
