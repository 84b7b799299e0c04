// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

// Package api exposes the credential release flow and profile management
// over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"
)

// Config configures the API server.
type Config struct {
	// Addr is the listen address in "host:port" form.
	Addr string
	// Token is the bearer token callers must present. Empty disables
	// authentication.
	Token string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMiddleware adds middleware to every route, after request ID and
// panic recovery.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(s *Server) {
		s.middleware = append(s.middleware, mw...)
	}
}

// Server serves the tokenlock HTTP API.
type Server struct {
	cfg        Config
	auth       Authenticator
	enroll     Enroller
	logger     *slog.Logger
	handler    http.Handler
	middleware []func(http.Handler) http.Handler
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates an API server.
func NewServer(cfg Config, authenticator Authenticator, enroller Enroller, opts ...Option) (*Server, error) {
	if authenticator == nil {
		return nil, oops.Code("API_INVALID_DEPENDENCY").Errorf("authenticator is required")
	}
	if enroller == nil {
		return nil, oops.Code("API_INVALID_DEPENDENCY").Errorf("enroller is required")
	}
	s := &Server{
		cfg:    cfg,
		auth:   authenticator,
		enroll: enroller,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.Token == "" {
		s.logger.Warn("API bearer token not configured; requests are unauthenticated")
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.middleware...)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/authenticate", s.handleAuthenticate)
		r.Post("/notify", s.handleNotify)
		r.Route("/profiles", func(r chi.Router) {
			r.Post("/", s.handleEnroll)
			r.Get("/{userID}", s.handleListProfiles)
			r.Delete("/{userID}/{position}", s.handleRemoveProfile)
		})
	})
	return r
}

// requireToken rejects requests without the configured bearer token.
func (s *Server) requireToken(next http.Handler) http.Handler {
	if s.cfg.Token == "" {
		return next
	}
	want := []byte(s.cfg.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="tokenlock"`)
			writeError(w, r, s.logger, oops.Code(CodeUnauthorized).Errorf("missing or invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving the API. The returned channel receives any error from
// the HTTP server and is closed when it stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("api server already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.cfg.Addr).Wrap(err)
	}
	s.listener = listener

	// No write timeout: authenticate requests are held open until they settle.
	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("api server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("api server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the server, waiting for in-flight requests
// until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_api_server").Wrap(err)
		}
	}
	s.logger.Info("api server stopped")
	return nil
}

// Addr returns the address the server is listening on, or "" if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
