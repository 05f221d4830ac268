package canvas

import (
	"time"

	"github.com/RasheedLewis/collab-canvas-sub000/pkg/protocol"
	"github.com/google/uuid"
)

// Status classifies a member's recent activity.
type Status string

const (
	StatusActive Status = "active"
	StatusIdle   Status = "idle"
	StatusAway   Status = "away"
)

// Cursor is a member's pointer position on the canvas.
type Cursor struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Visible bool    `json:"visible"`
}

// Member is one connection's presence in a canvas room.
type Member struct {
	ConnID       uuid.UUID
	UserID       string
	Profile      protocol.Profile
	Role         Role
	JoinedAt     time.Time
	LastActivity time.Time
	Cursor       *Cursor
	Status       Status
}

// MemberInfo is the wire form of a member record.
type MemberInfo struct {
	ConnectionID string           `json:"connectionId"`
	UserID       string           `json:"userId"`
	Profile      protocol.Profile `json:"profile"`
	Role         Role             `json:"role"`
	Status       Status           `json:"status"`
	Cursor       *Cursor          `json:"cursor,omitempty"`
}

func (m *Member) info() MemberInfo {
	return MemberInfo{
		ConnectionID: m.ConnID.String(),
		UserID:       m.UserID,
		Profile:      m.Profile,
		Role:         m.Role,
		Status:       m.Status,
		Cursor:       m.Cursor,
	}
}

// Room is a permission-gated collaboration room scoped to one canvas.
// Member iteration preserves join order.
type Room struct {
	CanvasID     string
	members      map[uuid.UUID]*Member
	order        []uuid.UUID
	Meta         *Metadata
	CreatedAt    time.Time
	LastActivity time.Time
	Active       bool
}

func newRoom(canvasID string, meta *Metadata, now time.Time) *Room {
	return &Room{
		CanvasID:     canvasID,
		members:      make(map[uuid.UUID]*Member),
		Meta:         meta,
		CreatedAt:    now,
		LastActivity: now,
		Active:       true,
	}
}

func (r *Room) add(m *Member) {
	r.members[m.ConnID] = m
	r.order = append(r.order, m.ConnID)
}

func (r *Room) remove(connID uuid.UUID) (*Member, bool) {
	m, ok := r.members[connID]
	if !ok {
		return nil, false
	}
	delete(r.members, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return m, true
}

func (r *Room) member(connID uuid.UUID) (*Member, bool) {
	m, ok := r.members[connID]
	return m, ok
}

// Len is the member count; it always equals the number of connections
// currently mapped into the room.
func (r *Room) Len() int {
	return len(r.members)
}

// each visits members in join order.
func (r *Room) each(fn func(*Member)) {
	for _, id := range r.order {
		if m, ok := r.members[id]; ok {
			fn(m)
		}
	}
}
