// Package server wires the gateway together: routes, middleware chain, and
// the drain/shutdown sequence over live connections.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/voxgate/voxgate/pkg/authority"
	"github.com/voxgate/voxgate/pkg/gateway/config"
	"github.com/voxgate/voxgate/pkg/gateway/handlers"
	"github.com/voxgate/voxgate/pkg/gateway/lifecycle"
	"github.com/voxgate/voxgate/pkg/gateway/live"
	"github.com/voxgate/voxgate/pkg/gateway/live/conns"
	"github.com/voxgate/voxgate/pkg/gateway/mw"
	"github.com/voxgate/voxgate/pkg/gateway/ratelimit"
	"github.com/voxgate/voxgate/pkg/stale"
	"github.com/voxgate/voxgate/pkg/store"
	"github.com/voxgate/voxgate/pkg/token"
)

// Deps are the constructed collaborators the server routes requests to.
type Deps struct {
	Authority *authority.Authority
	Tokens    *token.Service
	Creds     store.CredentialStore
	Sessions  store.SessionStore
	Stale     *stale.Tracker
	Backends  live.Backends
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	deps   Deps
	mux    *http.ServeMux

	lifecycle    *lifecycle.Lifecycle
	conns        *conns.Tracker
	loginLimiter *ratelimit.Limiter
}

func New(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		deps:         deps,
		mux:          http.NewServeMux(),
		lifecycle:    &lifecycle.Lifecycle{},
		conns:        conns.NewTracker(),
		loginLimiter: ratelimit.New(ratelimit.Config{}),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Lifecycle: s.lifecycle})

	s.mux.Handle("POST /login", mw.LoginRateLimit(s.loginLimiter,
		handlers.LoginHandler{Authority: s.deps.Authority, Tokens: s.deps.Tokens, Logger: s.logger}))
	s.mux.Handle("POST /admin/login", mw.LoginRateLimit(s.loginLimiter,
		handlers.AdminLoginHandler{Authority: s.deps.Authority, Tokens: s.deps.Tokens, Logger: s.logger}))
	s.mux.Handle("POST /admin/refresh", handlers.AdminRefreshHandler{Tokens: s.deps.Tokens})

	creds := handlers.CredentialsHandler{Creds: s.deps.Creds, Authority: s.deps.Authority, Logger: s.logger}
	s.mux.Handle("GET /admin/credentials", s.admin(creds.List))
	s.mux.Handle("POST /admin/credentials", s.admin(creds.Create))
	s.mux.Handle("PUT /admin/credentials/{identity}", s.admin(creds.Update))
	s.mux.Handle("DELETE /admin/credentials/{identity}", s.admin(creds.Delete))
	s.mux.Handle("POST /admin/credentials/{identity}/reset-sessions", s.admin(creds.ResetSessions))

	sessions := handlers.SessionsHandler{Sessions: s.deps.Sessions, Authority: s.deps.Authority, Logger: s.logger}
	s.mux.Handle("GET /admin/sessions", s.admin(sessions.List))
	s.mux.Handle("PUT /admin/sessions/{identity}/status", s.admin(sessions.UpdateStatus))
	s.mux.Handle("DELETE /admin/sessions/{identity}", s.admin(sessions.Delete))

	s.mux.Handle("GET /ws", handlers.LiveHandler{
		Config:    s.cfg,
		Authority: s.deps.Authority,
		Stale:     s.deps.Stale,
		Backends:  s.deps.Backends,
		Conns:     s.conns,
		Lifecycle: s.lifecycle,
		Logger:    s.logger,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) admin(h http.HandlerFunc) http.Handler {
	return mw.AdminAuth(s.deps.Tokens, h)
}

// Handler returns the full middleware chain around the route mux.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Conns exposes the live connection tracker, mainly for tests.
func (s *Server) Conns() *conns.Tracker { return s.conns }

// Drain flips readiness, warns live connections, and waits up to the grace
// period before force-cancelling whatever is still connected.
func (s *Server) Drain(ctx context.Context) {
	s.lifecycle.SetDraining(true)

	warned := s.conns.WarnAll("shutting_down", "server is shutting down")
	if warned > 0 {
		s.logger.Info("warned live connections", "count", warned)
	}

	graceCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownGracePeriod)
	defer cancel()
	if !s.conns.Wait(graceCtx) {
		canceled := s.conns.CancelAll()
		s.logger.Warn("grace period elapsed, cancelled remaining connections", "count", canceled)
	}
}
