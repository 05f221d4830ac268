package router_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/RasheedLewis/collab-canvas-sub000/internal/router"
	"github.com/RasheedLewis/collab-canvas-sub000/pkg/protocol"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type capture struct {
	replies []*protocol.Envelope
}

func (c *capture) reply(_ uuid.UUID, env *protocol.Envelope) {
	c.replies = append(c.replies, env)
}

func (c *capture) lastErrorCode(t *testing.T) protocol.ErrorCode {
	t.Helper()
	require.NotEmpty(t, c.replies)
	env := c.replies[len(c.replies)-1]
	require.Equal(t, protocol.KindError, env.Kind)
	var p protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p.Code
}

func TestRouteDispatchesToHandler(t *testing.T) {
	sink := &capture{}
	r := router.New(newTestLogger(), sink.reply)

	var got protocol.Kind
	require.NoError(t, r.Register(protocol.KindPing, func(_ context.Context, _ uuid.UUID, msg *protocol.Message) *protocol.Error {
		got = msg.Kind
		return nil
	}))

	r.Route(context.Background(), uuid.New(), []byte(`{"kind":"ping"}`))
	assert.Equal(t, protocol.KindPing, got)
	assert.Empty(t, sink.replies)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := router.New(newTestLogger(), (&capture{}).reply)
	noop := func(_ context.Context, _ uuid.UUID, _ *protocol.Message) *protocol.Error { return nil }

	require.NoError(t, r.Register(protocol.KindPing, noop))
	assert.Error(t, r.Register(protocol.KindPing, noop))
}

func TestRouteRepliesValidationError(t *testing.T) {
	sink := &capture{}
	r := router.New(newTestLogger(), sink.reply)

	r.Route(context.Background(), uuid.New(), []byte(`{"kind":"warp"}`))
	assert.Equal(t, protocol.CodeUnsupportedKind, sink.lastErrorCode(t))

	r.Route(context.Background(), uuid.New(), []byte(`not json`))
	assert.Equal(t, protocol.CodeMalformedPayload, sink.lastErrorCode(t))
}

func TestRouteUnregisteredKind(t *testing.T) {
	sink := &capture{}
	r := router.New(newTestLogger(), sink.reply)

	// ping parses fine but has no handler bound.
	r.Route(context.Background(), uuid.New(), []byte(`{"kind":"ping"}`))
	assert.Equal(t, protocol.CodeUnsupportedKind, sink.lastErrorCode(t))
}

func TestHandlerPanicBecomesInternalError(t *testing.T) {
	sink := &capture{}
	r := router.New(newTestLogger(), sink.reply)

	require.NoError(t, r.Register(protocol.KindPing, func(_ context.Context, _ uuid.UUID, _ *protocol.Message) *protocol.Error {
		panic("boom")
	}))

	r.Route(context.Background(), uuid.New(), []byte(`{"kind":"ping"}`))
	assert.Equal(t, protocol.CodeInternalError, sink.lastErrorCode(t))
}

func TestHandlerErrorIsReplied(t *testing.T) {
	sink := &capture{}
	r := router.New(newTestLogger(), sink.reply)

	require.NoError(t, r.Register(protocol.KindPing, func(_ context.Context, _ uuid.UUID, _ *protocol.Message) *protocol.Error {
		return protocol.NewError(protocol.CodeAuthRequired, "who are you")
	}))

	r.Route(context.Background(), uuid.New(), []byte(`{"kind":"ping"}`))
	assert.Equal(t, protocol.CodeAuthRequired, sink.lastErrorCode(t))
}
