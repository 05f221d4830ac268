package session

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/RasheedLewis/collab-canvas-sub000/pkg/protocol"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *time.Time) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	m := NewManager(logger, Config{
		Timeout:       5 * time.Minute,
		MaxReconnects: 3,
	})
	now := time.Now()
	m.now = func() time.Time { return now }
	return m, &now
}

func TestCreateAndGet(t *testing.T) {
	m, _ := newTestManager(t)
	connID := uuid.New()

	s := m.Create(connID)
	require.NotEmpty(t, s.ID)
	require.NotEmpty(t, s.ReconnectToken)
	assert.Equal(t, connID, s.ConnID)

	got, ok := m.Get(connID)
	require.True(t, ok)
	assert.Equal(t, s.ID, got.ID)
}

func TestCreateReplacesPriorSession(t *testing.T) {
	m, _ := newTestManager(t)
	connID := uuid.New()

	first := m.Create(connID)
	second := m.Create(connID)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, m.Count())
}

func TestUpdateMergesSnapshot(t *testing.T) {
	m, _ := newTestManager(t)
	connID := uuid.New()
	m.Create(connID)

	roomID := "3b241101-e2bb-4255-8caf-4136c566a962"
	m.Update(connID, Update{RoomID: &roomID})
	m.Update(connID, Update{Profile: &protocol.Profile{Name: "Ada"}})

	s, _ := m.Get(connID)
	assert.Equal(t, roomID, s.Snapshot.RoomID)
	assert.Equal(t, "Ada", s.Snapshot.Profile.Name)
}

func TestUpdateWithoutSessionIsNoop(t *testing.T) {
	m, _ := newTestManager(t)
	roomID := "r"
	m.Update(uuid.New(), Update{RoomID: &roomID}) // must not panic
	assert.Equal(t, 0, m.Count())
}

func TestDisconnectBookkeeping(t *testing.T) {
	m, now := newTestManager(t)
	connID := uuid.New()
	s := m.Create(connID)

	*now = now.Add(90 * time.Second)
	m.HandleDisconnect(connID, 1006, "read timeout")

	require.NotNil(t, s.LastDisconnect)
	assert.False(t, s.LastDisconnect.Graceful)
	assert.Equal(t, 1006, s.LastDisconnect.Code)
	assert.Equal(t, 1, s.DisconnectCount)
	assert.Equal(t, 90*time.Second, s.ConnectedTime)
	assert.Equal(t, uuid.Nil, s.ConnID)

	// unbound but retained
	_, ok := m.Get(connID)
	assert.False(t, ok)
	assert.Equal(t, 1, m.Count())
}

func TestGracefulCodes(t *testing.T) {
	for _, code := range []int{1000, 1001} {
		m, _ := newTestManager(t)
		connID := uuid.New()
		s := m.Create(connID)
		m.HandleDisconnect(connID, code, "bye")
		assert.True(t, s.LastDisconnect.Graceful, "code %d is a normal closure", code)
		assert.False(t, m.ShouldAllowReconnect(connID), "graceful departure offers no retry")

		_, err := m.AttemptReconnect(uuid.New(), s.ReconnectToken)
		assert.ErrorIs(t, err, ErrGracefulDeparture)
	}
}

func TestShouldAllowReconnect(t *testing.T) {
	m, _ := newTestManager(t)
	connID := uuid.New()

	assert.False(t, m.ShouldAllowReconnect(connID), "no session")

	m.Create(connID)
	m.HandleDisconnect(connID, 1006, "dropped")
	assert.True(t, m.ShouldAllowReconnect(connID))
}

func TestReconnectRotatesToken(t *testing.T) {
	m, _ := newTestManager(t)
	oldConn := uuid.New()
	s := m.Create(oldConn)
	oldToken := s.ReconnectToken

	m.HandleDisconnect(oldConn, 1006, "dropped")

	newConn := uuid.New()
	resumed, err := m.AttemptReconnect(newConn, oldToken)
	require.NoError(t, err)
	assert.Equal(t, s.ID, resumed.ID)
	assert.Equal(t, newConn, resumed.ConnID)
	assert.Equal(t, 1, resumed.ReconnectAttempts)
	assert.NotEqual(t, oldToken, resumed.ReconnectToken)

	// The spent token is permanently invalid.
	_, err = m.AttemptReconnect(uuid.New(), oldToken)
	assert.ErrorIs(t, err, ErrTokenUnknown)
}

func TestReconnectSupersedesPlaceholderSession(t *testing.T) {
	m, _ := newTestManager(t)
	oldConn := uuid.New()
	s := m.Create(oldConn)
	token := s.ReconnectToken
	m.HandleDisconnect(oldConn, 1006, "dropped")

	// A new transport connection always gets a fresh session before the
	// client can present its reconnect token.
	newConn := uuid.New()
	placeholder := m.Create(newConn)

	resumed, err := m.AttemptReconnect(newConn, token)
	require.NoError(t, err)
	assert.Equal(t, s.ID, resumed.ID)
	assert.Equal(t, 1, m.Count(), "the placeholder session must be destroyed")

	got, ok := m.Get(newConn)
	require.True(t, ok)
	assert.Equal(t, s.ID, got.ID)

	// The placeholder's welcome token is dead; replaying it from another
	// connection must not disturb the resumed binding.
	_, err = m.AttemptReconnect(uuid.New(), placeholder.ReconnectToken)
	assert.ErrorIs(t, err, ErrTokenUnknown)
	got, ok = m.Get(newConn)
	require.True(t, ok)
	assert.Equal(t, s.ID, got.ID)
}

func TestReconnectFailureReasons(t *testing.T) {
	m, now := newTestManager(t)

	_, err := m.AttemptReconnect(uuid.New(), "")
	assert.ErrorIs(t, err, ErrTokenMissing)

	_, err = m.AttemptReconnect(uuid.New(), "never-issued")
	assert.ErrorIs(t, err, ErrTokenUnknown)

	connID := uuid.New()
	s := m.Create(connID)
	m.HandleDisconnect(connID, 1006, "dropped")
	*now = now.Add(6 * time.Minute)
	_, err = m.AttemptReconnect(uuid.New(), s.ReconnectToken)
	assert.ErrorIs(t, err, ErrSessionExpired)

	// The expired session is purged outright.
	assert.Equal(t, 0, m.Count())
}

func TestReconnectAttemptsExhausted(t *testing.T) {
	m, _ := newTestManager(t)
	connID := uuid.New()
	s := m.Create(connID)

	token := s.ReconnectToken
	for i := 0; i < 3; i++ {
		m.HandleDisconnect(s.ConnID, 1006, "dropped")
		resumed, err := m.AttemptReconnect(uuid.New(), token)
		require.NoError(t, err)
		token = resumed.ReconnectToken
	}

	m.HandleDisconnect(s.ConnID, 1006, "dropped")
	_, err := m.AttemptReconnect(uuid.New(), token)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
}

func TestSweepPurgesExpired(t *testing.T) {
	m, now := newTestManager(t)
	stale := uuid.New()
	fresh := uuid.New()

	m.Create(stale)
	*now = now.Add(4 * time.Minute)
	m.Create(fresh)
	*now = now.Add(2 * time.Minute)

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Count())
	_, ok := m.Get(fresh)
	assert.True(t, ok)
}

func TestDestroy(t *testing.T) {
	m, _ := newTestManager(t)
	connID := uuid.New()
	s := m.Create(connID)

	m.Destroy(connID)
	assert.Equal(t, 0, m.Count())
	_, err := m.AttemptReconnect(uuid.New(), s.ReconnectToken)
	assert.ErrorIs(t, err, ErrTokenUnknown)
}
