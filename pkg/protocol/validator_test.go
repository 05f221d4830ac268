package protocol_test

import (
	"testing"

	"github.com/RasheedLewis/collab-canvas-sub000/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCanvasID = "3b241101-e2bb-4255-8caf-4136c566a962"

func TestParseJoinCanvas(t *testing.T) {
	raw := []byte(`{"kind":"join_canvas","payload":{"canvasId":"` + testCanvasID + `","profile":{"name":"Ada","color":"#ff8800"}}}`)

	msg, perr := protocol.Parse(raw)
	require.Nil(t, perr)
	require.Equal(t, protocol.KindJoinCanvas, msg.Kind)

	p, ok := msg.Body.(*protocol.JoinCanvasPayload)
	require.True(t, ok)
	assert.Equal(t, testCanvasID, p.CanvasID)
	assert.Equal(t, "Ada", p.Profile.Name)
}

func TestParsePingHasNoPayload(t *testing.T) {
	msg, perr := protocol.Parse([]byte(`{"kind":"ping"}`))
	require.Nil(t, perr)
	assert.Equal(t, protocol.KindPing, msg.Kind)
	assert.Nil(t, msg.Body)
}

func TestParseUnsupportedKind(t *testing.T) {
	_, perr := protocol.Parse([]byte(`{"kind":"teleport","payload":{}}`))
	require.NotNil(t, perr)
	assert.Equal(t, protocol.CodeUnsupportedKind, perr.Code)
}

func TestParseRejectsServerKinds(t *testing.T) {
	// Server-to-client kinds are not valid inbound traffic.
	_, perr := protocol.Parse([]byte(`{"kind":"welcome","payload":{}}`))
	require.NotNil(t, perr)
	assert.Equal(t, protocol.CodeUnsupportedKind, perr.Code)
}

func TestParseMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":           `{pong`,
		"missing kind":       `{"payload":{}}`,
		"kind not a string":  `{"kind":7}`,
		"payload not object": `{"kind":"cursor","payload":"hi"}`,
		"missing payload":    `{"kind":"join_room"}`,
		"missing token":      `{"kind":"reconnect","payload":{"sessionId":"s"}}`,
		"bad profile":        `{"kind":"join_canvas","payload":{"canvasId":"` + testCanvasID + `","profile":{}}}`,
		"huge cursor":        `{"kind":"cursor","payload":{"canvasId":"` + testCanvasID + `","x":1e999,"y":0}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, perr := protocol.Parse([]byte(raw))
			require.NotNil(t, perr)
			assert.Equal(t, protocol.CodeMalformedPayload, perr.Code)
		})
	}
}

func TestParseInvalidRoomID(t *testing.T) {
	_, perr := protocol.Parse([]byte(`{"kind":"join_room","payload":{"roomId":"no spaces!"}}`))
	require.NotNil(t, perr)
	assert.Equal(t, protocol.CodeInvalidRoomID, perr.Code)

	_, perr = protocol.Parse([]byte(`{"kind":"join_room","payload":{"roomId":"lobby-1"}}`))
	assert.Nil(t, perr)
}

func TestParseCanvasIDMustBeUUID(t *testing.T) {
	_, perr := protocol.Parse([]byte(`{"kind":"leave_canvas","payload":{"canvasId":"not-a-uuid"}}`))
	require.NotNil(t, perr)
	assert.Equal(t, protocol.CodeMalformedPayload, perr.Code)
}

func TestParseObjectEditEnums(t *testing.T) {
	valid := `{"kind":"object_edit","payload":{"canvasId":"` + testCanvasID + `","objectId":"ob-1","objectKind":"shape","op":"create","data":{"w":10}}}`
	msg, perr := protocol.Parse([]byte(valid))
	require.Nil(t, perr)
	p := msg.Body.(*protocol.ObjectEditPayload)
	assert.Equal(t, "create", p.Op)

	badKind := `{"kind":"object_edit","payload":{"canvasId":"` + testCanvasID + `","objectId":"ob-1","objectKind":"hologram","op":"create"}}`
	_, perr = protocol.Parse([]byte(badKind))
	require.NotNil(t, perr)
	assert.Equal(t, protocol.CodeMalformedPayload, perr.Code)

	badOp := `{"kind":"object_edit","payload":{"canvasId":"` + testCanvasID + `","objectId":"ob-1","objectKind":"shape","op":"vaporize"}}`
	_, perr = protocol.Parse([]byte(badOp))
	require.NotNil(t, perr)
	assert.Equal(t, protocol.CodeMalformedPayload, perr.Code)
}

func TestErrorEnvelope(t *testing.T) {
	perr := protocol.Errorf(protocol.CodePermissionDenied, "nope").WithDetail("canvasId", testCanvasID)
	env := protocol.ErrorEnvelope(perr)

	require.Equal(t, protocol.KindError, env.Kind)
	raw, err := env.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"code":"PERMISSION_DENIED"`)
	assert.Contains(t, string(raw), testCanvasID)
}
