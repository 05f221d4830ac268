// Package router is the dispatch spine: one registered handler per message
// kind, with handler failures downgraded to structured errors instead of
// tearing down the connection.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/RasheedLewis/collab-canvas-sub000/pkg/protocol"
	"github.com/google/uuid"
)

// Handler processes one validated message. A non-nil return is sent back
// to the offending connection as an error envelope.
type Handler func(ctx context.Context, connID uuid.UUID, msg *protocol.Message) *protocol.Error

// ReplyFunc delivers an envelope back to a single connection.
type ReplyFunc func(connID uuid.UUID, env *protocol.Envelope)

type Router struct {
	logger   *slog.Logger
	handlers map[protocol.Kind]Handler
	reply    ReplyFunc
}

func New(logger *slog.Logger, reply ReplyFunc) *Router {
	return &Router{
		logger:   logger.With(slog.String("component", "router")),
		handlers: make(map[protocol.Kind]Handler),
		reply:    reply,
	}
}

// Register binds a handler to a kind. Exactly one handler may be
// registered per kind; duplicates are refused.
func (r *Router) Register(kind protocol.Kind, h Handler) error {
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("handler already registered for kind %q", kind)
	}
	r.handlers[kind] = h
	return nil
}

// Route validates the raw frame and dispatches it. Every failure path
// answers the sender with a structured error; nothing propagates.
func (r *Router) Route(ctx context.Context, connID uuid.UUID, raw []byte) {
	msg, perr := protocol.Parse(raw)
	if perr != nil {
		r.logger.Debug("rejected message",
			slog.String("connID", connID.String()),
			slog.String("code", string(perr.Code)),
		)
		r.reply(connID, protocol.ErrorEnvelope(perr))
		return
	}

	handler, ok := r.handlers[msg.Kind]
	if !ok {
		r.reply(connID, protocol.ErrorEnvelope(
			protocol.Errorf(protocol.CodeUnsupportedKind, "no handler for kind %q", msg.Kind)))
		return
	}

	if herr := r.invoke(ctx, handler, connID, msg); herr != nil {
		r.reply(connID, protocol.ErrorEnvelope(herr))
	}
}

// invoke runs the handler, converting a panic into an InternalError.
func (r *Router) invoke(ctx context.Context, h Handler, connID uuid.UUID, msg *protocol.Message) (herr *protocol.Error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panicked",
				slog.String("kind", string(msg.Kind)),
				slog.String("connID", connID.String()),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			herr = protocol.NewError(protocol.CodeInternalError, "internal server error")
		}
	}()
	return h(ctx, connID, msg)
}
