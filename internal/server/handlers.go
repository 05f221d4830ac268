package server

import (
	"context"
	"errors"

	"github.com/RasheedLewis/collab-canvas-sub000/pkg/canvas"
	"github.com/RasheedLewis/collab-canvas-sub000/pkg/protocol"
	"github.com/RasheedLewis/collab-canvas-sub000/pkg/session"
	"github.com/RasheedLewis/collab-canvas-sub000/pkg/transport"
	"github.com/google/uuid"
)

// Wire payloads owned by the connection manager's own handlers.

type roomJoinedPayload struct {
	RoomID  string   `json:"roomId"`
	Members []string `json:"members"` // connection ids, self excluded
}

type roomMemberPayload struct {
	RoomID       string `json:"roomId"`
	ConnectionID string `json:"connectionId"`
}

type authenticatedPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// RegisterHandlers binds every supported message kind. Registration
// failures are programming errors surfaced at startup.
func (m *ConnManager) RegisterHandlers() error {
	bindings := []struct {
		kind protocol.Kind
		h    func(ctx context.Context, connID uuid.UUID, msg *protocol.Message) *protocol.Error
	}{
		{protocol.KindPing, m.handlePing},
		{protocol.KindAuthenticate, m.handleAuthenticate},
		{protocol.KindReconnect, m.handleReconnect},
		{protocol.KindJoinRoom, m.handleJoinRoom},
		{protocol.KindLeaveRoom, m.handleLeaveRoom},
		{protocol.KindJoinCanvas, m.handleJoinCanvas},
		{protocol.KindLeaveCanvas, m.handleLeaveCanvas},
		{protocol.KindCursor, m.handleCursor},
		{protocol.KindActivity, m.handleActivity},
		{protocol.KindObjectEdit, m.handleObjectEdit},
		{protocol.KindLogout, m.handleLogout},
	}
	for _, b := range bindings {
		if err := m.router.Register(b.kind, b.h); err != nil {
			return err
		}
	}
	return nil
}

func (m *ConnManager) handlePing(_ context.Context, connID uuid.UUID, _ *protocol.Message) *protocol.Error {
	m.Send(connID, protocol.KindPong, nil)
	return nil
}

func (m *ConnManager) handleAuthenticate(ctx context.Context, connID uuid.UUID, msg *protocol.Message) *protocol.Error {
	p := msg.Body.(*protocol.AuthenticatePayload)

	identity, err := m.verifier.VerifyIdentity(ctx, p.Token)
	if err != nil {
		return protocol.NewError(protocol.CodeAuthRequired, "identity verification failed")
	}

	m.setIdentity(connID, identity.UserID, identity.Name)
	m.Send(connID, protocol.KindAuthenticated, authenticatedPayload{
		UserID:   identity.UserID,
		UserName: identity.Name,
	})
	return nil
}

func (m *ConnManager) handleReconnect(ctx context.Context, connID uuid.UUID, msg *protocol.Message) *protocol.Error {
	p := msg.Body.(*protocol.ReconnectPayload)

	sess, err := m.sessions.AttemptReconnect(connID, p.Token)
	if err != nil {
		reason := "unknown token"
		switch {
		case errors.Is(err, session.ErrTokenMissing):
			reason = "token missing"
		case errors.Is(err, session.ErrSessionExpired):
			reason = "session expired"
		case errors.Is(err, session.ErrAttemptsExhausted):
			reason = "reconnect attempts exhausted"
		case errors.Is(err, session.ErrGracefulDeparture):
			reason = "session closed"
		}
		return protocol.NewError(protocol.CodeReconnectFailed, "reconnect failed").
			WithDetail("reason", reason)
	}

	reply := protocol.ReconnectedPayload{
		SessionID:      sess.ID,
		ConnectionID:   connID.String(),
		ReconnectToken: sess.ReconnectToken,
	}

	// Restore the canvas room from the session snapshot when the new
	// connection carries an identity; the permission check runs again.
	if sess.Snapshot.RoomID != "" {
		if userID, _, ok := m.Identity(connID); ok {
			if _, perr := m.canvas.Join(ctx, connID, userID, sess.Snapshot.RoomID, sess.Snapshot.Profile); perr == nil {
				reply.RestoredRoomID = sess.Snapshot.RoomID
			}
		}
	}

	m.Send(connID, protocol.KindReconnected, reply)
	return nil
}

func (m *ConnManager) handleJoinRoom(_ context.Context, connID uuid.UUID, msg *protocol.Message) *protocol.Error {
	p := msg.Body.(*protocol.JoinRoomPayload)

	left, members := m.rooms.Join(connID, p.RoomID)
	if left != "" {
		m.BroadcastToRoom(left, mustEnvelope(protocol.KindRoomMemberLeft, roomMemberPayload{
			RoomID:       left,
			ConnectionID: connID.String(),
		}), connID)
	}

	ids := make([]string, len(members))
	for i, id := range members {
		ids[i] = id.String()
	}
	m.Send(connID, protocol.KindRoomJoined, roomJoinedPayload{RoomID: p.RoomID, Members: ids})

	m.BroadcastToRoom(p.RoomID, mustEnvelope(protocol.KindRoomMemberJoined, roomMemberPayload{
		RoomID:       p.RoomID,
		ConnectionID: connID.String(),
	}), connID)
	return nil
}

func (m *ConnManager) handleLeaveRoom(_ context.Context, connID uuid.UUID, msg *protocol.Message) *protocol.Error {
	p := msg.Body.(*protocol.LeaveRoomPayload)

	if !m.rooms.Leave(connID, p.RoomID) {
		return protocol.Errorf(protocol.CodeInvalidRoomID, "not a member of room %q", p.RoomID)
	}
	m.BroadcastToRoom(p.RoomID, mustEnvelope(protocol.KindRoomMemberLeft, roomMemberPayload{
		RoomID:       p.RoomID,
		ConnectionID: connID.String(),
	}), connID)
	return nil
}

func (m *ConnManager) handleJoinCanvas(ctx context.Context, connID uuid.UUID, msg *protocol.Message) *protocol.Error {
	p := msg.Body.(*protocol.JoinCanvasPayload)

	userID, _, ok := m.Identity(connID)
	if !ok {
		return protocol.NewError(protocol.CodeAuthRequired, "authenticate before joining a canvas")
	}

	joined, perr := m.canvas.Join(ctx, connID, userID, p.CanvasID, p.Profile)
	if perr != nil {
		return perr
	}

	roomID := p.CanvasID
	m.sessions.Update(connID, session.Update{RoomID: &roomID, Profile: &p.Profile})
	m.Send(connID, protocol.KindCanvasJoined, joined)
	return nil
}

func (m *ConnManager) handleLeaveCanvas(_ context.Context, connID uuid.UUID, msg *protocol.Message) *protocol.Error {
	p := msg.Body.(*protocol.LeaveCanvasPayload)

	if perr := m.canvas.Leave(connID, p.CanvasID); perr != nil {
		return perr
	}
	empty := ""
	m.sessions.Update(connID, session.Update{RoomID: &empty})
	return nil
}

func (m *ConnManager) handleCursor(_ context.Context, connID uuid.UUID, msg *protocol.Message) *protocol.Error {
	p := msg.Body.(*protocol.CursorPayload)
	return m.canvas.UpdateCursor(connID, p.CanvasID, canvas.Cursor{X: p.X, Y: p.Y, Visible: p.Visible})
}

func (m *ConnManager) handleActivity(_ context.Context, connID uuid.UUID, msg *protocol.Message) *protocol.Error {
	p := msg.Body.(*protocol.ActivityPayload)
	return m.canvas.RecordActivity(connID, p.CanvasID)
}

func (m *ConnManager) handleObjectEdit(_ context.Context, connID uuid.UUID, msg *protocol.Message) *protocol.Error {
	p := msg.Body.(*protocol.ObjectEditPayload)

	if _, _, ok := m.Identity(connID); !ok {
		return protocol.NewError(protocol.CodeAuthRequired, "authenticate before editing")
	}
	return m.canvas.ApplyEdit(connID, p)
}

// handleLogout destroys the session so the departure is final; the
// ensuing close is graceful and offers no reconnect.
func (m *ConnManager) handleLogout(_ context.Context, connID uuid.UUID, _ *protocol.Message) *protocol.Error {
	m.sessions.Destroy(connID)

	m.mu.RLock()
	c, ok := m.conns[connID]
	m.mu.RUnlock()
	if ok {
		go c.transport.Close(transport.ErrConnectionClosed)
	}
	return nil
}
