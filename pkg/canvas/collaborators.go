// Package canvas implements the permission-gated collaboration rooms:
// member roles and profiles, live presence, and the sweeps that classify
// activity and reap abandoned rooms. Permission decisions, canvas
// metadata, identity, and audit sinks are external collaborators consumed
// through the interfaces below.
package canvas

import (
	"context"
	"errors"
	"time"
)

// Role is the permission level governing allowed actions in a canvas room.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

var roleRank = map[Role]int{RoleViewer: 1, RoleEditor: 2, RoleOwner: 3}

// AtLeast reports whether r grants at least the capabilities of min.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min]
}

// Valid reports whether r is a recognized role.
func (r Role) Valid() bool {
	return roleRank[r] != 0
}

// Actions passed to the permission check.
const (
	ActionView = "view"
	ActionEdit = "edit"
)

// Permission check failures. An expired permission never grants access,
// even if previously cached.
var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrPermissionExpired = errors.New("permission expired")
)

// PermissionChecker resolves (user, canvas, action) to a role. Results are
// advisory: the caller suspends while the check runs, so room state must be
// re-validated before it is mutated.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, canvasID, userID, action string) (Role, error)
}

// Metadata is the cached canvas descriptor.
type Metadata struct {
	Name    string `json:"name"`
	OwnerID string `json:"ownerId"`
	Private bool   `json:"private"`
}

// MetadataStore fetches canvas metadata. Fetch failures are tolerated; a
// room proceeds without metadata.
type MetadataStore interface {
	GetCanvasMetadata(ctx context.Context, canvasID string) (*Metadata, error)
}

// Identity is a verified principal.
type Identity struct {
	UserID string
	Name   string
}

// IdentityVerifier validates an opaque token into an identity.
type IdentityVerifier interface {
	VerifyIdentity(ctx context.Context, token string) (*Identity, error)
}

// AuditEvent is a fire-and-forget record of a room-level action.
type AuditEvent struct {
	Kind     string
	CanvasID string
	UserID   string
	Details  map[string]any
	At       time.Time
}

// AuditLogger receives audit events. Implementations must not block the
// caller.
type AuditLogger interface {
	Log(event AuditEvent)
}

// NopAudit discards audit events.
type NopAudit struct{}

func (NopAudit) Log(AuditEvent) {}
