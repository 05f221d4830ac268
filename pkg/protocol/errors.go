package protocol

import "fmt"

// ErrorCode is the documented, client-facing failure taxonomy. Every
// rejected operation maps to exactly one code.
type ErrorCode string

const (
	CodeAuthRequired      ErrorCode = "AUTH_REQUIRED"
	CodeInvalidRoomID     ErrorCode = "INVALID_ROOM_ID"
	CodePermissionDenied  ErrorCode = "PERMISSION_DENIED"
	CodePermissionExpired ErrorCode = "PERMISSION_EXPIRED"
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeMalformedPayload  ErrorCode = "MALFORMED_PAYLOAD"
	CodeUnsupportedKind   ErrorCode = "UNSUPPORTED_KIND"
	CodeReconnectFailed   ErrorCode = "RECONNECT_FAILED"
	CodeInternalError     ErrorCode = "INTERNAL_ERROR"
)

// Error is a structured, client-safe failure. It never wraps internal error
// chains; details carry only fields a client may see.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a structured error without details.
func NewError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Errorf builds a structured error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a client-visible detail field.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ErrorPayload is the wire form of an error envelope.
type ErrorPayload struct {
	Error   string         `json:"error"`
	Code    ErrorCode      `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorEnvelope renders a structured error as a sendable envelope.
func ErrorEnvelope(err *Error) *Envelope {
	env, _ := NewEnvelope(KindError, ErrorPayload{
		Error:   err.Message,
		Code:    err.Code,
		Details: err.Details,
	})
	return env
}
