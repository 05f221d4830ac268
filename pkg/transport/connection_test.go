package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/coder/websocket"
)

func TestCloseStatusFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want websocket.StatusCode
	}{
		{"clean teardown", nil, websocket.StatusNormalClosure},
		{
			"peer close frame",
			fmt.Errorf("read: %w", websocket.CloseError{Code: websocket.StatusNormalClosure}),
			websocket.StatusNormalClosure,
		},
		{
			"peer going away",
			websocket.CloseError{Code: websocket.StatusGoingAway},
			websocket.StatusNormalClosure,
		},
		{"local error", errors.New("write timeout"), websocket.StatusGoingAway},
		{"server initiated", ErrConnectionClosed, websocket.StatusGoingAway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := closeStatusFor(tc.err); got != tc.want {
				t.Errorf("closeStatusFor(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
