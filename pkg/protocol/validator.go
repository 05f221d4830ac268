package protocol

import (
	"encoding/json"
	"math"
	"regexp"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidRoomID reports whether id is acceptable as a generic room id.
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// ValidCanvasID reports whether id is a canvas identifier (uuid).
func ValidCanvasID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Parse classifies a raw client frame into a typed Message or a structured
// error. It has no side effects; callers decide how a failure is surfaced.
func Parse(raw []byte) (*Message, *Error) {
	if !gjson.ValidBytes(raw) {
		return nil, NewError(CodeMalformedPayload, "message is not valid JSON")
	}

	doc := gjson.ParseBytes(raw)
	kindField := doc.Get("kind")
	if kindField.Type != gjson.String || kindField.Str == "" {
		return nil, NewError(CodeMalformedPayload, "missing 'kind' field")
	}
	kind := Kind(kindField.Str)

	msg := &Message{Kind: kind}
	if ts := doc.Get("timestamp"); ts.Exists() {
		if ts.Type != gjson.Number {
			return nil, NewError(CodeMalformedPayload, "'timestamp' must be a number")
		}
		msg.Timestamp = ts.Int()
	}

	payload := doc.Get("payload")
	if payload.Exists() && !payload.IsObject() {
		return nil, NewError(CodeMalformedPayload, "'payload' must be an object")
	}

	body, perr := parsePayload(kind, payload)
	if perr != nil {
		return nil, perr
	}
	msg.Body = body
	return msg, nil
}

func parsePayload(kind Kind, payload gjson.Result) (any, *Error) {
	switch kind {
	case KindPing, KindLogout:
		return nil, nil

	case KindAuthenticate:
		var p AuthenticatePayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if p.Token == "" {
			return nil, NewError(CodeMalformedPayload, "authenticate requires 'token'")
		}
		return &p, nil

	case KindReconnect:
		var p ReconnectPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if p.Token == "" {
			return nil, NewError(CodeMalformedPayload, "reconnect requires 'token'")
		}
		return &p, nil

	case KindJoinRoom:
		var p JoinRoomPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if !ValidRoomID(p.RoomID) {
			return nil, Errorf(CodeInvalidRoomID, "invalid room id %q", p.RoomID)
		}
		return &p, nil

	case KindLeaveRoom:
		var p LeaveRoomPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if !ValidRoomID(p.RoomID) {
			return nil, Errorf(CodeInvalidRoomID, "invalid room id %q", p.RoomID)
		}
		return &p, nil

	case KindJoinCanvas:
		var p JoinCanvasPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if !ValidCanvasID(p.CanvasID) {
			return nil, Errorf(CodeMalformedPayload, "invalid canvas id %q", p.CanvasID)
		}
		if p.Profile.Name == "" {
			return nil, NewError(CodeMalformedPayload, "join_canvas requires 'profile.name'")
		}
		return &p, nil

	case KindLeaveCanvas:
		var p LeaveCanvasPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if !ValidCanvasID(p.CanvasID) {
			return nil, Errorf(CodeMalformedPayload, "invalid canvas id %q", p.CanvasID)
		}
		return &p, nil

	case KindCursor:
		var p CursorPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if !ValidCanvasID(p.CanvasID) {
			return nil, Errorf(CodeMalformedPayload, "invalid canvas id %q", p.CanvasID)
		}
		if !finite(p.X) || !finite(p.Y) {
			return nil, NewError(CodeMalformedPayload, "cursor coordinates must be finite numbers")
		}
		return &p, nil

	case KindActivity:
		var p ActivityPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if !ValidCanvasID(p.CanvasID) {
			return nil, Errorf(CodeMalformedPayload, "invalid canvas id %q", p.CanvasID)
		}
		return &p, nil

	case KindObjectEdit:
		var p ObjectEditPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		if !ValidCanvasID(p.CanvasID) {
			return nil, Errorf(CodeMalformedPayload, "invalid canvas id %q", p.CanvasID)
		}
		if p.ObjectID == "" {
			return nil, NewError(CodeMalformedPayload, "object_edit requires 'objectId'")
		}
		if !ObjectKinds[p.ObjectKind] {
			return nil, Errorf(CodeMalformedPayload, "unknown object kind %q", p.ObjectKind)
		}
		if !EditOps[p.Op] {
			return nil, Errorf(CodeMalformedPayload, "unknown edit op %q", p.Op)
		}
		return &p, nil

	default:
		return nil, Errorf(CodeUnsupportedKind, "unsupported message kind %q", kind)
	}
}

func decode(payload gjson.Result, dst any) *Error {
	if !payload.Exists() {
		return NewError(CodeMalformedPayload, "missing 'payload'")
	}
	if err := json.Unmarshal([]byte(payload.Raw), dst); err != nil {
		return NewError(CodeMalformedPayload, "payload does not match schema")
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
