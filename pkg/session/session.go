// Package session tracks logical client identity across transport
// connections. A Session outlives the connection that created it, so a
// client that loses its socket can resume where it left off by presenting
// a single-use reconnect token.
package session

import (
	"time"

	"github.com/RasheedLewis/collab-canvas-sub000/pkg/protocol"
	"github.com/google/uuid"
)

// Disconnect records how the session's last connection ended. Close codes
// 1000 (normal) and 1001 (going away) count as graceful; a graceful
// departure is intentional and offers no reconnect.
type Disconnect struct {
	Code     int
	Reason   string
	Graceful bool
	At       time.Time
}

// Snapshot is the restorable slice of client state carried across a
// reconnect.
type Snapshot struct {
	RoomID  string
	Profile protocol.Profile
}

type Session struct {
	ID     string
	ConnID uuid.UUID // connection currently bound; uuid.Nil while detached

	CreatedAt time.Time
	LastSeen  time.Time

	// ReconnectToken is valid for exactly one successful reconnect and is
	// rotated atomically on use.
	ReconnectToken string

	DisconnectCount   int
	ReconnectAttempts int
	ConnectedTime     time.Duration

	LastDisconnect *Disconnect
	Snapshot       Snapshot

	// boundAt marks when the current connection was bound, for accumulating
	// ConnectedTime on disconnect.
	boundAt time.Time
}

func gracefulCode(code int) bool {
	return code == 1000 || code == 1001
}

func newToken() string {
	return uuid.NewString()
}
