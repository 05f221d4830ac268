package canvas

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/RasheedLewis/collab-canvas-sub000/pkg/protocol"
	"github.com/google/uuid"
)

// Notifier is the delivery surface the connection manager exposes to this
// package. Send is best-effort; a dead recipient is cleaned up by the
// connection manager, not reported here.
type Notifier interface {
	Send(connID uuid.UUID, kind protocol.Kind, payload any)
	Alive(connID uuid.UUID) bool
}

type Config struct {
	IdleAfter             time.Duration
	AwayAfter             time.Duration
	PresenceSweepInterval time.Duration
	EmptyGrace            time.Duration
	InactiveThreshold     time.Duration
	InactiveSweepInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.IdleAfter <= 0 {
		c.IdleAfter = 2 * time.Minute
	}
	if c.AwayAfter <= 0 {
		c.AwayAfter = 5 * time.Minute
	}
	if c.PresenceSweepInterval <= 0 {
		c.PresenceSweepInterval = 30 * time.Second
	}
	if c.EmptyGrace <= 0 {
		c.EmptyGrace = 30 * time.Second
	}
	if c.InactiveThreshold <= 0 {
		c.InactiveThreshold = 10 * time.Minute
	}
	if c.InactiveSweepInterval <= 0 {
		c.InactiveSweepInterval = 5 * time.Minute
	}
}

type Manager struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	byConn map[uuid.UUID]string // connection id -> canvas id, at most one

	perms  PermissionChecker
	meta   MetadataStore
	audit  AuditLogger
	notify Notifier

	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(logger *slog.Logger, cfg Config, perms PermissionChecker, meta MetadataStore, audit AuditLogger, notify Notifier) *Manager {
	cfg.applyDefaults()
	if audit == nil {
		audit = NopAudit{}
	}
	return &Manager{
		rooms:  make(map[string]*Room),
		byConn: make(map[uuid.UUID]string),
		perms:  perms,
		meta:   meta,
		audit:  audit,
		notify: notify,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "canvas_manager")),
		now:    time.Now,
	}
}

// Join admits a connection into the canvas room after an external
// permission check. The check result is advisory: the handler suspends
// while it runs, so membership is re-validated under the lock before any
// state is touched.
func (m *Manager) Join(ctx context.Context, connID uuid.UUID, userID, canvasID string, profile protocol.Profile) (*JoinedPayload, *protocol.Error) {
	role, err := m.perms.CheckPermission(ctx, canvasID, userID, ActionView)
	if err != nil {
		m.logger.Warn("canvas join denied",
			slog.String("canvasID", canvasID),
			slog.String("userID", userID),
			slog.Any("error", err),
		)
		m.audit.Log(AuditEvent{Kind: "join_denied", CanvasID: canvasID, UserID: userID, At: m.now()})
		if errors.Is(err, ErrPermissionExpired) {
			return nil, protocol.NewError(protocol.CodePermissionExpired, "permission to this canvas has expired")
		}
		return nil, protocol.NewError(protocol.CodePermissionDenied, "no access to this canvas")
	}
	if !role.Valid() || !role.AtLeast(RoleViewer) {
		return nil, protocol.NewError(protocol.CodePermissionDenied, "no access to this canvas")
	}

	// Best-effort metadata; the room proceeds without it on failure.
	meta, metaErr := m.meta.GetCanvasMetadata(ctx, canvasID)
	if metaErr != nil {
		m.logger.Warn("canvas metadata unavailable", slog.String("canvasID", canvasID), slog.Any("error", metaErr))
		meta = nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// The permission check awaited; the connection may have died meanwhile.
	if !m.notify.Alive(connID) {
		return nil, protocol.NewError(protocol.CodeInternalError, "connection no longer live")
	}

	now := m.now()

	// Duplicate join of the same canvas is answered idempotently.
	if current, ok := m.byConn[connID]; ok {
		if current == canvasID {
			room := m.rooms[canvasID]
			member, _ := room.member(connID)
			return m.joinedPayloadLocked(room, member), nil
		}
		// Single-room invariant: joining a new canvas forces leaving the
		// previous one.
		m.removeMemberLocked(current, connID, true)
	}

	room, ok := m.rooms[canvasID]
	if !ok {
		room = newRoom(canvasID, meta, now)
		m.rooms[canvasID] = room
		m.logger.Info("canvas room created", slog.String("canvasID", canvasID))
	} else if room.Meta == nil && meta != nil {
		room.Meta = meta
	}
	room.Active = true
	room.LastActivity = now

	member := &Member{
		ConnID:       connID,
		UserID:       userID,
		Profile:      profile,
		Role:         role,
		JoinedAt:     now,
		LastActivity: now,
		Status:       StatusActive,
	}
	room.add(member)
	m.byConn[connID] = canvasID

	m.broadcastLocked(room, connID, protocol.KindCanvasMemberJoined, MemberJoinedPayload{
		CanvasID:    canvasID,
		Member:      member.info(),
		MemberCount: room.Len(),
	})
	m.audit.Log(AuditEvent{Kind: "join", CanvasID: canvasID, UserID: userID, At: now})

	m.logger.Info("canvas joined",
		slog.String("canvasID", canvasID),
		slog.String("userID", userID),
		slog.String("role", string(role)),
		slog.Int("members", room.Len()),
	)
	return m.joinedPayloadLocked(room, member), nil
}

// Leave removes the member and broadcasts the departure. An emptied room
// is deleted after a grace period, re-checked for emptiness when the timer
// fires so a rejoin naturally cancels it.
func (m *Manager) Leave(connID uuid.UUID, canvasID string) *protocol.Error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.byConn[connID]; !ok || current != canvasID {
		return protocol.NewError(protocol.CodeInvalidRoomID, "not a member of this canvas")
	}
	m.removeMemberLocked(canvasID, connID, true)
	return nil
}

// DisconnectCleanup removes a vanished connection from its canvas room.
func (m *Manager) DisconnectCleanup(connID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if canvasID, ok := m.byConn[connID]; ok {
		m.removeMemberLocked(canvasID, connID, true)
	}
}

// RoomOf reports the canvas the connection currently occupies.
func (m *Manager) RoomOf(connID uuid.UUID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byConn[connID]
	return id, ok
}

// MemberCount reports the current member count of a room, and whether the
// room exists.
func (m *Manager) MemberCount(canvasID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[canvasID]
	if !ok {
		return 0, false
	}
	return room.Len(), true
}

// UpdateCursor records a cursor move and fans it out to the rest of the
// room. Cursor traffic counts as activity.
func (m *Manager) UpdateCursor(connID uuid.UUID, canvasID string, cursor Cursor) *protocol.Error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, member, perr := m.memberLocked(connID, canvasID)
	if perr != nil {
		return perr
	}

	member.Cursor = &cursor
	m.touchLocked(room, member)

	m.broadcastLocked(room, connID, protocol.KindCursorUpdate, CursorUpdatePayload{
		CanvasID:     canvasID,
		ConnectionID: connID.String(),
		UserID:       member.UserID,
		Cursor:       cursor,
	})
	return nil
}

// RecordActivity bumps the member's activity clock, announcing a return to
// active status when the member had drifted idle or away.
func (m *Manager) RecordActivity(connID uuid.UUID, canvasID string) *protocol.Error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, member, perr := m.memberLocked(connID, canvasID)
	if perr != nil {
		return perr
	}
	m.touchLocked(room, member)
	return nil
}

// ApplyEdit validates the editor role and rebroadcasts the edit to the
// rest of the room, stamped with the acting user.
func (m *Manager) ApplyEdit(connID uuid.UUID, edit *protocol.ObjectEditPayload) *protocol.Error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, member, perr := m.memberLocked(connID, edit.CanvasID)
	if perr != nil {
		return perr
	}
	if !member.Role.AtLeast(RoleEditor) {
		return protocol.NewError(protocol.CodePermissionDenied, "viewer role cannot edit objects")
	}

	m.touchLocked(room, member)
	m.broadcastLocked(room, connID, protocol.KindObjectEdited, ObjectEditedPayload{
		CanvasID:     edit.CanvasID,
		ObjectID:     edit.ObjectID,
		ObjectKind:   edit.ObjectKind,
		Op:           edit.Op,
		Data:         edit.Data,
		UserID:       member.UserID,
		ConnectionID: connID.String(),
	})
	return nil
}

// HandlePermissionChange applies a role change pushed by the external
// permission authority. The room-wide permission_changed event goes out
// regardless of whether the target is currently present.
func (m *Manager) HandlePermissionChange(change PermissionChange) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[change.CanvasID]
	if !ok {
		return
	}

	var targets []*Member
	room.each(func(mem *Member) {
		if mem.UserID == change.UserID {
			targets = append(targets, mem)
		}
	})

	if change.Revoked {
		for _, mem := range targets {
			m.notify.Send(mem.ConnID, protocol.KindAccessRevoked, AccessRevokedPayload{
				CanvasID: change.CanvasID,
				Redirect: "/canvases",
			})
			m.removeMemberLocked(change.CanvasID, mem.ConnID, true)
		}
		m.audit.Log(AuditEvent{Kind: "access_revoked", CanvasID: change.CanvasID, UserID: change.UserID, At: m.now()})
	} else {
		for _, mem := range targets {
			mem.Role = change.NewRole
			m.notify.Send(mem.ConnID, protocol.KindRoleChanged, RoleChangedPayload{
				CanvasID: change.CanvasID,
				UserID:   change.UserID,
				Role:     change.NewRole,
			})
		}
		// Everyone else learns of the new role too.
		room.each(func(mem *Member) {
			if mem.UserID == change.UserID {
				return
			}
			m.notify.Send(mem.ConnID, protocol.KindRoleChanged, RoleChangedPayload{
				CanvasID: change.CanvasID,
				UserID:   change.UserID,
				Role:     change.NewRole,
			})
		})
		m.audit.Log(AuditEvent{
			Kind: "role_changed", CanvasID: change.CanvasID, UserID: change.UserID,
			Details: map[string]any{"role": change.NewRole}, At: m.now(),
		})
	}

	// Awareness event to everyone still in the room.
	if current, ok := m.rooms[change.CanvasID]; ok {
		m.broadcastLocked(current, uuid.Nil, protocol.KindPermissionChanged, PermissionChangedPayload{
			CanvasID: change.CanvasID,
			UserID:   change.UserID,
			Revoked:  change.Revoked,
			Role:     change.NewRole,
		})
	}
}

// NotifyCanvases fans a generic payload out from a source canvas. With no
// explicit targets it reaches every canvas room the acting user currently
// has presence in, excluding the source.
func (m *Manager) NotifyCanvases(sourceCanvasID, actingUserID string, targets []string, payload []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if targets == nil {
		for canvasID, room := range m.rooms {
			if canvasID == sourceCanvasID {
				continue
			}
			present := false
			room.each(func(mem *Member) {
				if mem.UserID == actingUserID {
					present = true
				}
			})
			if present {
				targets = append(targets, canvasID)
			}
		}
	}

	delivered := 0
	body := NotificationPayload{SourceCanvasID: sourceCanvasID, FromUserID: actingUserID, Payload: payload}
	for _, canvasID := range targets {
		room, ok := m.rooms[canvasID]
		if !ok {
			continue
		}
		m.broadcastLocked(room, uuid.Nil, protocol.KindNotification, body)
		delivered++
	}
	return delivered
}

// SweepPresence reclassifies every member by elapsed time since last
// activity and broadcasts transitions to the rest of the room.
func (m *Manager) SweepPresence() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, room := range m.rooms {
		room.each(func(mem *Member) {
			status := m.classifyLocked(now, mem.LastActivity)
			if status == mem.Status {
				return
			}
			mem.Status = status
			m.broadcastLocked(room, mem.ConnID, protocol.KindPresenceUpdate, PresenceUpdatePayload{
				CanvasID:     room.CanvasID,
				ConnectionID: mem.ConnID.String(),
				UserID:       mem.UserID,
				Status:       status,
			})
		})
	}
}

// SweepInactive deletes rooms with zero members that have been inactive
// beyond the long threshold. This overlaps with the short per-leave grace
// deletion on purpose: the grace timer reaps rooms emptied through normal
// departures quickly, while this sweep is the backstop for rooms emptied
// by forced terminations.
func (m *Manager) SweepInactive() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for canvasID, room := range m.rooms {
		if room.Len() == 0 && now.Sub(room.LastActivity) > m.cfg.InactiveThreshold {
			delete(m.rooms, canvasID)
			removed++
			m.logger.Info("inactive canvas room deleted", slog.String("canvasID", canvasID))
		}
	}
	return removed
}

// Run drives the presence and inactive-room sweeps until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	presence := time.NewTicker(m.cfg.PresenceSweepInterval)
	inactive := time.NewTicker(m.cfg.InactiveSweepInterval)
	defer presence.Stop()
	defer inactive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-presence.C:
			m.SweepPresence()
		case <-inactive.C:
			m.SweepInactive()
		}
	}
}

// Clear drops all room state, as part of server shutdown.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms = make(map[string]*Room)
	m.byConn = make(map[uuid.UUID]string)
}

// --- internals; callers hold m.mu ---

func (m *Manager) memberLocked(connID uuid.UUID, canvasID string) (*Room, *Member, *protocol.Error) {
	room, ok := m.rooms[canvasID]
	if !ok {
		return nil, nil, protocol.NewError(protocol.CodeInvalidRoomID, "not a member of this canvas")
	}
	member, ok := room.member(connID)
	if !ok {
		return nil, nil, protocol.NewError(protocol.CodeInvalidRoomID, "not a member of this canvas")
	}
	return room, member, nil
}

func (m *Manager) touchLocked(room *Room, member *Member) {
	now := m.now()
	member.LastActivity = now
	room.LastActivity = now
	if member.Status != StatusActive {
		member.Status = StatusActive
		m.broadcastLocked(room, member.ConnID, protocol.KindPresenceUpdate, PresenceUpdatePayload{
			CanvasID:     room.CanvasID,
			ConnectionID: member.ConnID.String(),
			UserID:       member.UserID,
			Status:       StatusActive,
		})
	}
}

func (m *Manager) classifyLocked(now time.Time, lastActivity time.Time) Status {
	elapsed := now.Sub(lastActivity)
	switch {
	case elapsed < m.cfg.IdleAfter:
		return StatusActive
	case elapsed <= m.cfg.AwayAfter:
		return StatusIdle
	default:
		return StatusAway
	}
}

func (m *Manager) joinedPayloadLocked(room *Room, self *Member) *JoinedPayload {
	members := make([]MemberInfo, 0, room.Len()-1)
	room.each(func(mem *Member) {
		if mem.ConnID != self.ConnID {
			members = append(members, mem.info())
		}
	})
	return &JoinedPayload{
		CanvasID:    room.CanvasID,
		Role:        self.Role,
		Members:     members,
		MemberCount: room.Len(),
		Meta:        room.Meta,
	}
}

// removeMemberLocked takes the member out of the room, optionally
// broadcasting the departure, and schedules grace deletion when the room
// empties.
func (m *Manager) removeMemberLocked(canvasID string, connID uuid.UUID, announce bool) {
	room, ok := m.rooms[canvasID]
	if !ok {
		delete(m.byConn, connID)
		return
	}
	member, ok := room.remove(connID)
	delete(m.byConn, connID)
	if !ok {
		return
	}

	now := m.now()
	room.LastActivity = now

	if announce {
		m.broadcastLocked(room, connID, protocol.KindCanvasMemberLeft, MemberLeftPayload{
			CanvasID:     canvasID,
			ConnectionID: connID.String(),
			UserID:       member.UserID,
			MemberCount:  room.Len(),
		})
	}
	m.audit.Log(AuditEvent{Kind: "leave", CanvasID: canvasID, UserID: member.UserID, At: now})

	if room.Len() == 0 {
		room.Active = false
		m.scheduleDeletionLocked(canvasID)
	}
}

// scheduleDeletionLocked arms the grace timer. The timer re-checks
// emptiness when it fires; a rejoin in the meantime leaves the room alone.
func (m *Manager) scheduleDeletionLocked(canvasID string) {
	time.AfterFunc(m.cfg.EmptyGrace, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		room, ok := m.rooms[canvasID]
		if !ok || room.Len() > 0 {
			return
		}
		delete(m.rooms, canvasID)
		m.logger.Info("empty canvas room deleted", slog.String("canvasID", canvasID))
	})
}

// broadcastLocked delivers to every member except exclude. Pass uuid.Nil
// to reach everyone.
func (m *Manager) broadcastLocked(room *Room, exclude uuid.UUID, kind protocol.Kind, payload any) {
	room.each(func(mem *Member) {
		if mem.ConnID == exclude {
			return
		}
		m.notify.Send(mem.ConnID, kind, payload)
	})
}
