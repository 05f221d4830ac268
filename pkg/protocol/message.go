// Package protocol defines the versioned wire catalog shared by the server
// and its clients, and the validator that classifies raw client input.
package protocol

import (
	"encoding/json"
	"time"
)

// Version is sent in the welcome handshake; clients refuse to talk across
// major versions.
const Version = "1.0"

// Kind tags every envelope on the wire.
type Kind string

// Client → server kinds.
const (
	KindPing         Kind = "ping"
	KindAuthenticate Kind = "authenticate"
	KindReconnect    Kind = "reconnect"
	KindJoinRoom     Kind = "join_room"
	KindLeaveRoom    Kind = "leave_room"
	KindJoinCanvas   Kind = "join_canvas"
	KindLeaveCanvas  Kind = "leave_canvas"
	KindCursor       Kind = "cursor"
	KindActivity     Kind = "activity"
	KindObjectEdit   Kind = "object_edit"
	KindLogout       Kind = "logout"
)

// Server → client kinds.
const (
	KindWelcome            Kind = "welcome"
	KindPong               Kind = "pong"
	KindAuthenticated      Kind = "authenticated"
	KindReconnected        Kind = "reconnected"
	KindRoomJoined         Kind = "room_joined"
	KindRoomMemberJoined   Kind = "room_member_joined"
	KindRoomMemberLeft     Kind = "room_member_left"
	KindCanvasJoined       Kind = "canvas_joined"
	KindCanvasMemberJoined Kind = "canvas_member_joined"
	KindCanvasMemberLeft   Kind = "canvas_member_left"
	KindCursorUpdate       Kind = "cursor_update"
	KindPresenceUpdate     Kind = "presence_update"
	KindObjectEdited       Kind = "object_edited"
	KindRoleChanged        Kind = "role_changed"
	KindPermissionChanged  Kind = "permission_changed"
	KindAccessRevoked      Kind = "access_revoked"
	KindNotification       Kind = "notification"
	KindServerShutdown     Kind = "server_shutdown"
	KindError              Kind = "error"
)

// Envelope is the raw wire frame in both directions.
type Envelope struct {
	Kind         Kind            `json:"kind"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Timestamp    int64           `json:"timestamp,omitempty"`
	ConnectionID string          `json:"connectionId,omitempty"`
}

// Message is a validated inbound envelope. Body holds the typed payload for
// the kind (a pointer to one of the *Payload structs), or nil for kinds that
// carry none.
type Message struct {
	Kind      Kind
	Body      any
	Timestamp int64
}

// Profile is the display identity a member presents inside a room.
type Profile struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// ObjectKind enumerates the structural tags an edit may reference.
var ObjectKinds = map[string]bool{
	"shape":     true,
	"path":      true,
	"text":      true,
	"image":     true,
	"frame":     true,
	"connector": true,
}

// EditOps enumerates the permitted object-edit operations.
var EditOps = map[string]bool{
	"create":  true,
	"update":  true,
	"delete":  true,
	"move":    true,
	"reorder": true,
}

// --- client payloads ---

type AuthenticatePayload struct {
	Token string `json:"token"`
}

type ReconnectPayload struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

type JoinCanvasPayload struct {
	CanvasID string  `json:"canvasId"`
	Profile  Profile `json:"profile"`
}

type LeaveCanvasPayload struct {
	CanvasID string `json:"canvasId"`
}

type CursorPayload struct {
	CanvasID string  `json:"canvasId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Visible  bool    `json:"visible"`
}

type ActivityPayload struct {
	CanvasID string `json:"canvasId"`
}

type ObjectEditPayload struct {
	CanvasID   string          `json:"canvasId"`
	ObjectID   string          `json:"objectId"`
	ObjectKind string          `json:"objectKind"`
	Op         string          `json:"op"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// --- server payloads ---

type WelcomePayload struct {
	ProtocolVersion string `json:"protocolVersion"`
	ConnectionID    string `json:"connectionId"`
	SessionID       string `json:"sessionId"`
	ReconnectToken  string `json:"reconnectToken"`
}

type ReconnectedPayload struct {
	SessionID      string `json:"sessionId"`
	ConnectionID   string `json:"connectionId"`
	ReconnectToken string `json:"reconnectToken"`
	RestoredRoomID string `json:"restoredRoomId,omitempty"`
}

// NewEnvelope marshals a payload into an outbound envelope with a server
// timestamp. Marshal failures are a programming error in the payload type
// and reported to the caller.
func NewEnvelope(kind Kind, payload any) (*Envelope, error) {
	env := &Envelope{Kind: kind, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return env, nil
}

// Encode renders the envelope to its wire bytes.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
