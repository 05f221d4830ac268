package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/RasheedLewis/collab-canvas-sub000/internal/router"
	"github.com/RasheedLewis/collab-canvas-sub000/pkg/canvas"
	"github.com/RasheedLewis/collab-canvas-sub000/pkg/protocol"
	"github.com/RasheedLewis/collab-canvas-sub000/pkg/ratelimit"
	"github.com/RasheedLewis/collab-canvas-sub000/pkg/rooms"
	"github.com/RasheedLewis/collab-canvas-sub000/pkg/session"
	"github.com/RasheedLewis/collab-canvas-sub000/pkg/transport"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// connState is the per-connection lifecycle. Reconnection is not a
// transition of a closed connection; a new connection absorbs the prior
// session's state instead.
type connState int

const (
	stateConnecting connState = iota
	stateOpen
	stateClosing
	stateClosed
)

type client struct {
	id        uuid.UUID
	transport *transport.Connection
	state     connState
	joinedAt  time.Time

	// identity, when the upgrade or an in-band authenticate supplied one
	userID   string
	userName string
}

// ConnManager owns socket lifecycle: registration, handshake, heartbeat,
// dispatch, broadcast, and teardown. It orchestrates the session manager
// and both room layers.
type ConnManager struct {
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[uuid.UUID]*client

	sessions *session.Manager
	rooms    *rooms.Registry
	canvas   *canvas.Manager
	limiter  *ratelimit.Limiter
	router   *router.Router
	verifier canvas.IdentityVerifier

	heartbeatInterval time.Duration

	shutdownOnce sync.Once
}

func NewConnManager(
	logger *slog.Logger,
	sessions *session.Manager,
	roomRegistry *rooms.Registry,
	limiter *ratelimit.Limiter,
	verifier canvas.IdentityVerifier,
	heartbeatInterval time.Duration,
) *ConnManager {
	m := &ConnManager{
		logger:            logger.With(slog.String("component", "conn_manager")),
		conns:             make(map[uuid.UUID]*client),
		sessions:          sessions,
		rooms:             roomRegistry,
		limiter:           limiter,
		verifier:          verifier,
		heartbeatInterval: heartbeatInterval,
	}
	m.router = router.New(logger, m.replyEnvelope)
	return m
}

// AttachCanvas wires the canvas manager in after construction; the canvas
// manager needs this manager as its notifier, so the two are built in
// sequence.
func (m *ConnManager) AttachCanvas(cm *canvas.Manager) {
	m.canvas = cm
}

// Router exposes the dispatch spine for handler registration.
func (m *ConnManager) Router() *router.Router {
	return m.router
}

// Register adopts a transport connection: assigns its state record, creates
// a session, wires callbacks, and sends the welcome handshake. The caller
// starts the pumps afterward.
func (m *ConnManager) Register(conn *transport.Connection, userID, userName string) {
	c := &client{
		id:        conn.ID(),
		transport: conn,
		state:     stateConnecting,
		joinedAt:  time.Now(),
		userID:    userID,
		userName:  userName,
	}

	m.mu.Lock()
	m.conns[c.id] = c
	m.mu.Unlock()

	conn.SetOnMessageHandler(m.handleMessage)
	conn.SetOnCloseHandler(m.handleClose)

	sess := m.sessions.Create(c.id)
	m.Send(c.id, protocol.KindWelcome, protocol.WelcomePayload{
		ProtocolVersion: protocol.Version,
		ConnectionID:    c.id.String(),
		SessionID:       sess.ID,
		ReconnectToken:  sess.ReconnectToken,
	})

	m.mu.Lock()
	c.state = stateOpen
	m.mu.Unlock()

	m.logger.Info("connection registered",
		slog.String("connID", c.id.String()),
		slog.String("userID", userID),
	)
}

// handleMessage is the inbound gate: rate limit, then protocol validation
// and dispatch via the router.
func (m *ConnManager) handleMessage(ctx context.Context, connID uuid.UUID, raw []byte) {
	if !m.limiter.Allow(connID) {
		m.replyEnvelope(connID, protocol.ErrorEnvelope(
			protocol.NewError(protocol.CodeRateLimitExceeded, "message rate limit exceeded")))
		return
	}
	m.sessions.Touch(connID)
	m.router.Route(ctx, connID, raw)
}

// handleClose runs every connection through the same teardown regardless
// of whether the peer closed, a write failed, or the heartbeat gave up.
func (m *ConnManager) handleClose(connID uuid.UUID, err error) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	if !ok || c.state == stateClosed {
		m.mu.Unlock()
		return
	}
	c.state = stateClosing
	m.mu.Unlock()

	status := websocket.CloseStatus(err)
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	m.sessions.HandleDisconnect(connID, int(status), reason)

	// Announce the departure to the generic room, if any.
	if roomID, wasMember := m.rooms.Remove(connID); wasMember {
		m.BroadcastToRoom(roomID, mustEnvelope(protocol.KindRoomMemberLeft, roomMemberPayload{
			RoomID:       roomID,
			ConnectionID: connID.String(),
		}), connID)
	}

	if m.canvas != nil {
		m.canvas.DisconnectCleanup(connID)
	}
	m.limiter.Forget(connID)

	m.mu.Lock()
	c.state = stateClosed
	delete(m.conns, connID)
	remaining := len(m.conns)
	m.mu.Unlock()

	m.logger.Info("connection closed",
		slog.String("connID", connID.String()),
		slog.Int("status", int(status)),
		slog.Int("remaining", remaining),
	)
}

// Send marshals a payload and queues it for one connection. A dead
// recipient is torn down through the regular close path rather than
// reported to the caller.
func (m *ConnManager) Send(connID uuid.UUID, kind protocol.Kind, payload any) {
	env, err := protocol.NewEnvelope(kind, payload)
	if err != nil {
		m.logger.Error("failed to build envelope", slog.String("kind", string(kind)), slog.Any("error", err))
		return
	}
	m.replyEnvelope(connID, env)
}

// Alive reports whether the connection is registered and open.
func (m *ConnManager) Alive(connID uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[connID]
	return ok && c.state == stateOpen
}

// Identity returns the user bound to a connection, if any.
func (m *ConnManager) Identity(connID uuid.UUID) (userID, userName string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, found := m.conns[connID]
	if !found {
		return "", "", false
	}
	return c.userID, c.userName, c.userID != ""
}

func (m *ConnManager) setIdentity(connID uuid.UUID, userID, userName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[connID]; ok {
		c.userID = userID
		c.userName = userName
	}
}

// ConnectionCount reports registered connections.
func (m *ConnManager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// UserConnectionCount reports the connections bound to one user, for the
// connection-limit middleware.
func (m *ConnManager) UserConnectionCount(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.conns {
		if c.userID == userID {
			n++
		}
	}
	return n
}

// CycleOldestUserConnection closes the user's oldest connection to make
// room for a new one.
func (m *ConnManager) CycleOldestUserConnection(userID string) {
	m.mu.RLock()
	var oldest *client
	for _, c := range m.conns {
		if c.userID != userID {
			continue
		}
		if oldest == nil || c.joinedAt.Before(oldest.joinedAt) {
			oldest = c
		}
	}
	m.mu.RUnlock()

	if oldest != nil {
		m.logger.Info("cycling connection: closing oldest",
			slog.String("userID", userID),
			slog.String("connID", oldest.id.String()),
		)
		oldest.transport.Close(transport.ErrConnectionClosed)
	}
}

// replyEnvelope delivers an envelope to one connection. A send failure is
// treated as that peer's implicit disconnect.
func (m *ConnManager) replyEnvelope(connID uuid.UUID, env *protocol.Envelope) {
	m.mu.RLock()
	c, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	raw, err := env.Encode()
	if err != nil {
		m.logger.Error("failed to encode envelope", slog.Any("error", err))
		return
	}
	if err := c.transport.Send(raw); err != nil {
		// Close runs the full disconnect cleanup, which may need locks the
		// caller already holds; detach it.
		go c.transport.Close(err)
	}
}

// BroadcastToRoom delivers to every live member of a generic room except
// excludeID. Delivery is best-effort; a failed member is cleaned up, not
// retried. The iteration holds the registry lock so every member observes
// concurrent broadcasts in the same relative order; the sends inside are
// buffered channel enqueues.
func (m *ConnManager) BroadcastToRoom(roomID string, env *protocol.Envelope, excludeID uuid.UUID) {
	m.rooms.EachMember(roomID, func(memberID uuid.UUID) {
		if memberID == excludeID {
			return
		}
		m.replyEnvelope(memberID, env)
	})
}

// RunHeartbeat pings every connection each interval and terminates any
// that fails to prove liveness.
func (m *ConnManager) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepLiveness(ctx)
		}
	}
}

func (m *ConnManager) sweepLiveness(ctx context.Context) {
	m.mu.RLock()
	targets := make([]*client, 0, len(m.conns))
	for _, c := range m.conns {
		if c.state == stateOpen {
			targets = append(targets, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range targets {
		go func(c *client) {
			pingCtx, cancel := context.WithTimeout(ctx, m.heartbeatInterval)
			defer cancel()
			if err := c.transport.Ping(pingCtx); err != nil {
				m.logger.Warn("liveness check failed, terminating",
					slog.String("connID", c.id.String()),
					slog.Any("error", err),
				)
				c.transport.Close(err)
			}
		}(c)
	}
}

// Shutdown notifies every open connection, closes sockets, and clears all
// in-memory state. Idempotent; tolerates connections already gone.
func (m *ConnManager) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.logger.Info("shutting down: notifying connections")

		m.mu.RLock()
		targets := make([]*client, 0, len(m.conns))
		for _, c := range m.conns {
			targets = append(targets, c)
		}
		m.mu.RUnlock()

		env := mustEnvelope(protocol.KindServerShutdown, map[string]string{"reason": "server shutting down"})
		if raw, err := env.Encode(); err == nil {
			for _, c := range targets {
				_ = c.transport.Send(raw)
			}
		}

		for _, c := range targets {
			c.transport.Close(transport.ErrConnectionClosed)
		}

		m.rooms.Clear()
		m.sessions.Clear()
		if m.canvas != nil {
			m.canvas.Clear()
		}

		m.mu.Lock()
		m.conns = make(map[uuid.UUID]*client)
		m.mu.Unlock()
	})
}

func mustEnvelope(kind protocol.Kind, payload any) *protocol.Envelope {
	env, err := protocol.NewEnvelope(kind, payload)
	if err != nil {
		panic(err)
	}
	return env
}
