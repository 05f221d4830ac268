package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/RasheedLewis/collab-canvas-sub000/pkg/protocol"
	"github.com/google/uuid"
)

// Reconnect failure reasons. Callers map these onto the RECONNECT_FAILED
// wire error.
var (
	ErrTokenMissing      = errors.New("reconnect token missing")
	ErrTokenUnknown      = errors.New("reconnect token unknown")
	ErrSessionExpired    = errors.New("session expired")
	ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")
	ErrGracefulDeparture = errors.New("session departed gracefully")
)

type Config struct {
	Timeout       time.Duration // session purged once LastSeen is older than this
	MaxReconnects int
	SweepInterval time.Duration
}

type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session  // by session id
	byConn   map[uuid.UUID]string // live binding: connection id -> session id
	byLast   map[uuid.UUID]string // last known binding, kept through disconnect
	byToken  map[string]string    // reconnect token -> session id

	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(logger *slog.Logger, cfg Config) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Manager{
		sessions: make(map[string]*Session),
		byConn:   make(map[uuid.UUID]string),
		byLast:   make(map[uuid.UUID]string),
		byToken:  make(map[string]string),
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "session_manager")),
		now:      time.Now,
	}
}

// Create binds a fresh session to the connection, destroying any session
// previously bound to that connection id. It always succeeds.
func (m *Manager) Create(connID uuid.UUID) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prevID, ok := m.byConn[connID]; ok {
		m.destroyLocked(prevID)
	}

	now := m.now()
	s := &Session{
		ID:             uuid.NewString(),
		ConnID:         connID,
		CreatedAt:      now,
		LastSeen:       now,
		ReconnectToken: newToken(),
		boundAt:        now,
	}
	m.sessions[s.ID] = s
	m.byConn[connID] = s.ID
	m.byLast[connID] = s.ID
	m.byToken[s.ReconnectToken] = s.ID

	m.logger.Debug("session created", slog.String("sessionID", s.ID), slog.String("connID", connID.String()))
	return s
}

// Update merges restorable state into the session bound to the connection.
// No-op when the connection has no session.
type Update struct {
	RoomID  *string
	Profile *protocol.Profile
}

func (m *Manager) Update(connID uuid.UUID, u Update) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.boundLocked(connID)
	if s == nil {
		return
	}
	if u.RoomID != nil {
		s.Snapshot.RoomID = *u.RoomID
	}
	if u.Profile != nil {
		s.Snapshot.Profile = *u.Profile
	}
	s.LastSeen = m.now()
}

// Touch refreshes the session's last-seen time on message activity.
func (m *Manager) Touch(connID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.boundLocked(connID); s != nil {
		s.LastSeen = m.now()
	}
}

// Get returns the session currently bound to the connection.
func (m *Manager) Get(connID uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.boundLocked(connID)
	return s, s != nil
}

// HandleDisconnect records the end of the session's current connection and
// unbinds it, retaining the session record for a possible reconnect.
func (m *Manager) HandleDisconnect(connID uuid.UUID, code int, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.boundLocked(connID)
	if s == nil {
		return
	}

	now := m.now()
	s.DisconnectCount++
	if !s.boundAt.IsZero() {
		s.ConnectedTime += now.Sub(s.boundAt)
	}
	s.LastDisconnect = &Disconnect{
		Code:     code,
		Reason:   reason,
		Graceful: gracefulCode(code),
		At:       now,
	}
	s.LastSeen = now
	s.ConnID = uuid.Nil
	s.boundAt = time.Time{}
	delete(m.byConn, connID)

	m.logger.Debug("session detached",
		slog.String("sessionID", s.ID),
		slog.Int("code", code),
		slog.Bool("graceful", s.LastDisconnect.Graceful),
	)
}

// ShouldAllowReconnect reports whether the session last bound to connID is
// still eligible for resumption. A graceful disconnect was an intentional
// departure and offers no retry.
func (m *Manager) ShouldAllowReconnect(connID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sid, ok := m.byLast[connID]
	if !ok {
		return false
	}
	s, ok := m.sessions[sid]
	if !ok {
		return false
	}
	return m.reconnectableLocked(s) == nil
}

// AttemptReconnect rebinds the token's session to the new connection. On
// success the presented token is permanently invalidated and a freshly
// rotated one is returned on the session.
func (m *Manager) AttemptReconnect(newConnID uuid.UUID, token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token == "" {
		return nil, ErrTokenMissing
	}
	sid, ok := m.byToken[token]
	if !ok {
		return nil, ErrTokenUnknown
	}
	s := m.sessions[sid]

	now := m.now()
	if now.Sub(s.LastSeen) > m.cfg.Timeout {
		m.destroyLocked(sid)
		return nil, ErrSessionExpired
	}
	if rerr := m.reconnectableLocked(s); rerr != nil {
		return nil, rerr
	}

	// Every transport connection starts with a fresh session; resuming an
	// older one supersedes that placeholder, exactly as Create destroys a
	// prior binding.
	if prevID, ok := m.byConn[newConnID]; ok && prevID != sid {
		m.destroyLocked(prevID)
	}

	// Rotate: the old token must never grant a second resume.
	delete(m.byToken, token)
	s.ReconnectToken = newToken()
	m.byToken[s.ReconnectToken] = sid

	if s.ConnID != uuid.Nil {
		delete(m.byConn, s.ConnID)
		delete(m.byLast, s.ConnID)
	}
	s.ConnID = newConnID
	s.ReconnectAttempts++
	s.LastSeen = now
	s.boundAt = now
	m.byConn[newConnID] = sid
	m.byLast[newConnID] = sid

	m.logger.Info("session reconnected",
		slog.String("sessionID", sid),
		slog.String("connID", newConnID.String()),
		slog.Int("attempts", s.ReconnectAttempts),
	)
	return s, nil
}

// Destroy removes the session bound to the connection, as on explicit
// logout.
func (m *Manager) Destroy(connID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sid, ok := m.byLast[connID]; ok {
		m.destroyLocked(sid)
	}
}

// Sweep purges sessions whose last-seen time exceeds the timeout,
// independent of reconnect eligibility. Returns the number purged.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	purged := 0
	for sid, s := range m.sessions {
		if now.Sub(s.LastSeen) > m.cfg.Timeout {
			m.destroyLocked(sid)
			purged++
		}
	}
	return purged
}

// Run sweeps expired sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Info("purged expired sessions", slog.Int("count", n))
			}
		}
	}
}

// Count reports the number of live session records.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Clear drops all session state, as part of server shutdown.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
	m.byConn = make(map[uuid.UUID]string)
	m.byLast = make(map[uuid.UUID]string)
	m.byToken = make(map[string]string)
}

// reconnectableLocked reports why the session cannot be resumed, or nil.
// AttemptReconnect and ShouldAllowReconnect share this gate.
func (m *Manager) reconnectableLocked(s *Session) error {
	if s.ReconnectAttempts >= m.cfg.MaxReconnects {
		return ErrAttemptsExhausted
	}
	if s.LastDisconnect != nil && s.LastDisconnect.Graceful {
		return ErrGracefulDeparture
	}
	return nil
}

func (m *Manager) boundLocked(connID uuid.UUID) *Session {
	sid, ok := m.byConn[connID]
	if !ok {
		return nil
	}
	return m.sessions[sid]
}

func (m *Manager) destroyLocked(sid string) {
	s, ok := m.sessions[sid]
	if !ok {
		return
	}
	delete(m.sessions, sid)
	delete(m.byToken, s.ReconnectToken)
	if s.ConnID != uuid.Nil {
		delete(m.byConn, s.ConnID)
	}
	for connID, mapped := range m.byLast {
		if mapped == sid {
			delete(m.byLast, connID)
		}
	}
	m.logger.Debug("session destroyed", slog.String("sessionID", sid))
}
