package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/RasheedLewis/collab-canvas-sub000/internal/server/middleware"
	"github.com/RasheedLewis/collab-canvas-sub000/pkg/canvas"
	"github.com/RasheedLewis/collab-canvas-sub000/pkg/config"
	"github.com/RasheedLewis/collab-canvas-sub000/pkg/ratelimit"
	"github.com/RasheedLewis/collab-canvas-sub000/pkg/rooms"
	"github.com/RasheedLewis/collab-canvas-sub000/pkg/session"
	"github.com/RasheedLewis/collab-canvas-sub000/pkg/transport"
	"github.com/coder/websocket"
)

// App assembles the service: one connection manager, one session manager,
// both room layers, and the HTTP upgrade surface in front of them.
type App struct {
	logger  *slog.Logger
	manager *ConnManager
	limiter *ratelimit.Limiter
	canvas  *canvas.Manager
	wg      sync.WaitGroup
	http    *http.Server
	config  *config.Config

	ctx context.Context
}

// Collaborators are the external services the core consumes. Absent
// entries get safe defaults: a JWT verifier from config, deny-all
// permissions, absent metadata, discarded audit events.
type Collaborators struct {
	Permissions canvas.PermissionChecker
	Metadata    canvas.MetadataStore
	Identity    canvas.IdentityVerifier
	Audit       canvas.AuditLogger
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, ext Collaborators) (*App, error) {
	if ext.Identity == nil {
		ext.Identity = NewJWTVerifier(cfg.Server.Auth.JWTSecret)
	}
	if ext.Permissions == nil {
		ext.Permissions = denyAllPermissions{}
	}
	if ext.Metadata == nil {
		ext.Metadata = absentMetadata{}
	}

	sessions := session.NewManager(logger, session.Config{
		Timeout:       cfg.Session.Timeout,
		MaxReconnects: cfg.Session.MaxReconnects,
		SweepInterval: cfg.Session.SweepInterval,
	})
	roomRegistry := rooms.NewRegistry(logger)
	limiter := ratelimit.New(logger, cfg.RateLimit.MaxMessages, cfg.RateLimit.Window)

	manager := NewConnManager(logger, sessions, roomRegistry, limiter, ext.Identity, cfg.Transport.HeartbeatInterval)

	canvasManager := canvas.NewManager(logger, canvas.Config{
		IdleAfter:             cfg.Canvas.IdleAfter,
		AwayAfter:             cfg.Canvas.AwayAfter,
		PresenceSweepInterval: cfg.Canvas.PresenceSweepInterval,
		EmptyGrace:            cfg.Canvas.EmptyGrace,
		InactiveThreshold:     cfg.Canvas.InactiveThreshold,
		InactiveSweepInterval: cfg.Canvas.InactiveSweepInterval,
	}, ext.Permissions, ext.Metadata, ext.Audit, manager)
	manager.AttachCanvas(canvasManager)

	if err := manager.RegisterHandlers(); err != nil {
		return nil, err
	}

	app := &App{
		logger:  logger,
		manager: manager,
		limiter: limiter,
		canvas:  canvasManager,
		config:  cfg,
		ctx:     rootCtx,
	}

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(logger),
			middleware.NewAuthMiddleware(logger, ext.Identity, cfg.Server.Auth.Required),
			middleware.NewConnectionLimiter(
				logger,
				manager.UserConnectionCount,
				manager.CycleOldestUserConnection,
				cfg.Server.ConnectionLimit,
			),
		),
	)

	app.http = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}

	return app, nil
}

// Manager exposes the connection manager so administrative code can push
// real-time events (sendToConnection / broadcastToRoom) without reaching
// into connection internals.
func (a *App) Manager() *ConnManager {
	return a.manager
}

// Canvas exposes the canvas manager for external permission-change pushes.
func (a *App) Canvas() *canvas.Manager {
	return a.canvas
}

func (a *App) Run() error {
	// Background sweeps: session expiry, rate-counter eviction, presence,
	// inactive rooms, and the connection heartbeat.
	go a.manager.sessions.Run(a.ctx)
	go a.limiter.Run(a.ctx, a.config.RateLimit.SweepInterval)
	go a.canvas.Run(a.ctx)
	go a.manager.RunHeartbeat(a.ctx)

	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.Config{
			ReadTimeout:  a.config.Transport.ReadTimeout,
			WriteTimeout: a.config.Transport.WriteTimeout,
			SendBuffer:   a.config.Transport.SendBuffer,
		},
		a.logger,
	)

	a.manager.Register(conn, reqMeta.UserID, reqMeta.UserName)
	conn.Run()

	connLogger.Info("connection fully established", slog.String("connID", conn.ID().String()))
	<-conn.Done()
}

// Shutdown is the broadcast-then-close-then-clear sequence. Safe to call
// more than once.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
		a.logger.Error("HTTP shutdown error", slog.Any("error", err))
	}

	a.manager.Shutdown()

	// Wait for connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}

// denyAllPermissions refuses every canvas access; wiring a real checker is
// part of deployment.
type denyAllPermissions struct{}

func (denyAllPermissions) CheckPermission(context.Context, string, string, string) (canvas.Role, error) {
	return "", canvas.ErrPermissionDenied
}

// absentMetadata reports all canvas metadata as unavailable.
type absentMetadata struct{}

var errNoMetadata = errors.New("no metadata store configured")

func (absentMetadata) GetCanvasMetadata(context.Context, string) (*canvas.Metadata, error) {
	return nil, errNoMetadata
}
