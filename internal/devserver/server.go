// ABOUTME: Development server orchestrating the HTTP API, live hub and store
// ABOUTME: Owns listener setup, serving and graceful shutdown

package devserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/dedupe"
	"github.com/2389/coven-chat/internal/store"
)

// Server is the development chat server.
type Server struct {
	config     *config.Config
	store      store.Store
	verifier   *auth.JWTVerifier
	hub        *Hub
	dedupe     *dedupe.Cache[string]
	limiter    *userLimiter
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger

	now   func() time.Time
	newID func() string
}

// New creates a server over s and seeds the configured users. The server
// takes ownership of s and closes it on Shutdown.
func New(ctx context.Context, cfg *config.Config, s store.Store, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating token verifier: %w", err)
	}

	if err := seedUsers(ctx, s, cfg.Users); err != nil {
		return nil, err
	}

	srv := &Server{
		config:   cfg,
		store:    s,
		verifier: verifier,
		hub:      NewHub(cfg.Server.AllowedOrigins, logger.With("component", "hub")),
		dedupe:   dedupe.New[string](cfg.Dedupe.TTL, cfg.Dedupe.MaxSize),
		limiter:  newUserLimiter(cfg.Limits.MessagesPerSecond, cfg.Limits.Burst),
		logger:   logger.With("component", "devserver"),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.New().String() },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", srv.handleHealth)

	authed := auth.HTTPMiddleware(s, verifier, logger)
	mux.Handle("GET /api/me", authed(http.HandlerFunc(srv.handleMe)))
	mux.Handle("GET /api/users", authed(http.HandlerFunc(srv.handleUsers)))
	mux.Handle("GET /api/messages/{peerID}", authed(http.HandlerFunc(srv.handleHistory)))
	mux.Handle("POST /api/messages/{peerID}", authed(http.HandlerFunc(srv.handleCreate)))
	mux.Handle("GET /ws", authed(srv.hub))

	srv.handler = mux
	srv.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv, nil
}

func seedUsers(ctx context.Context, s store.Store, users []config.UserConfig) error {
	for _, u := range users {
		name := u.DisplayName
		if name == "" {
			name = u.ID
		}
		if err := s.UpsertUser(ctx, chat.User{ID: u.ID, DisplayName: name, AvatarRef: u.AvatarRef}); err != nil {
			return fmt.Errorf("seeding user %q: %w", u.ID, err)
		}
	}
	return nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Verifier returns the server's token verifier, which also issues tokens.
func (s *Server) Verifier() *auth.JWTVerifier {
	return s.verifier
}

// Run listens on the configured address and serves until ctx is cancelled
// or the server fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Server.HTTPAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := s.startServer(ln)
	serverErr := s.waitForShutdownSignal(ctx, errCh)

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func (s *Server) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown uses a fresh context since the serving one is already done.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops serving, closes live connections and releases the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down devserver")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	// Hijacked WebSocket connections are not tracked by http.Server.
	s.hub.Close()
	s.dedupe.Close()

	errs = appendCloseError(errs, "store close", s.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
