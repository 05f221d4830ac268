package canvas

import "encoding/json"

// Wire payloads for canvas-room events.

type JoinedPayload struct {
	CanvasID    string       `json:"canvasId"`
	Role        Role         `json:"role"`
	Members     []MemberInfo `json:"members"` // current members, self excluded
	MemberCount int          `json:"memberCount"`
	Meta        *Metadata    `json:"meta,omitempty"`
}

type MemberJoinedPayload struct {
	CanvasID    string     `json:"canvasId"`
	Member      MemberInfo `json:"member"`
	MemberCount int        `json:"memberCount"`
}

type MemberLeftPayload struct {
	CanvasID     string `json:"canvasId"`
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	MemberCount  int    `json:"memberCount"`
}

type CursorUpdatePayload struct {
	CanvasID     string `json:"canvasId"`
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Cursor       Cursor `json:"cursor"`
}

type PresenceUpdatePayload struct {
	CanvasID     string `json:"canvasId"`
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Status       Status `json:"status"`
}

type ObjectEditedPayload struct {
	CanvasID     string          `json:"canvasId"`
	ObjectID     string          `json:"objectId"`
	ObjectKind   string          `json:"objectKind"`
	Op           string          `json:"op"`
	Data         json.RawMessage `json:"data,omitempty"`
	UserID       string          `json:"userId"`
	ConnectionID string          `json:"connectionId"`
}

type RoleChangedPayload struct {
	CanvasID string `json:"canvasId"`
	UserID   string `json:"userId"`
	Role     Role   `json:"role"`
}

type PermissionChangedPayload struct {
	CanvasID string `json:"canvasId"`
	UserID   string `json:"userId"`
	Revoked  bool   `json:"revoked"`
	Role     Role   `json:"role,omitempty"`
}

type AccessRevokedPayload struct {
	CanvasID string `json:"canvasId"`
	Redirect string `json:"redirect"`
}

type NotificationPayload struct {
	SourceCanvasID string          `json:"sourceCanvasId"`
	FromUserID     string          `json:"fromUserId,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// PermissionChange is pushed by the external permission authority when a
// user's role on a canvas changes out-of-band.
type PermissionChange struct {
	CanvasID string
	UserID   string
	Revoked  bool
	NewRole  Role
}
