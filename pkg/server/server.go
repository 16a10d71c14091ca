// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes chat sessions and the admin usage table over HTTP.
//
// Routes:
//
//	POST   /api/chat/sessions                   open a session
//	GET    /api/chat/sessions/{token}           session snapshot
//	POST   /api/chat/sessions/{token}/messages  send a message
//	DELETE /api/chat/sessions/{token}           close a session
//	GET    /api/admin/usage                     usage table (JSON, or ?format=text)
//	GET    /health                              liveness
//	GET    /metrics                             Prometheus scrape (when enabled)
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/sprout/pkg/config"
	"github.com/kadirpekel/sprout/pkg/governor"
	"github.com/kadirpekel/sprout/pkg/ledger"
	"github.com/kadirpekel/sprout/pkg/observability"
	"github.com/kadirpekel/sprout/pkg/report"
	"github.com/kadirpekel/sprout/pkg/session"
)

// *observability.Metrics feeds every recorder hook in the domain packages.
var (
	_ governor.Recorder = (*observability.Metrics)(nil)
	_ ledger.Recorder   = (*observability.Metrics)(nil)
	_ session.Recorder  = (*observability.Metrics)(nil)
)

// Sessions is the chat session API the handlers drive.
type Sessions interface {
	Open(ctx context.Context) (*session.Snapshot, error)
	Get(ctx context.Context, token string) (*session.Snapshot, error)
	Send(ctx context.Context, token string, msg *session.Message) (*session.Reply, error)
	Close(ctx context.Context, token string) error
}

// UsageReporter produces the admin usage table.
type UsageReporter interface {
	Snapshot(ctx context.Context) (*report.Table, error)
}

var (
	_ Sessions      = (*session.Manager)(nil)
	_ UsageReporter = (*report.Reporter)(nil)
)

// Server is the Sprout HTTP server.
type Server struct {
	cfg      *config.ServerConfig
	sessions Sessions
	usage    UsageReporter
	obs      *observability.Manager
	server   *http.Server
	handler  http.Handler
}

// Option configures the server.
type Option func(*Server)

// WithObservability sets the observability manager for tracing and metrics.
func WithObservability(obs *observability.Manager) Option {
	return func(s *Server) {
		s.obs = obs
	}
}

// New creates a server. cfg must already carry its defaults.
func New(cfg *config.ServerConfig, sessions Sessions, usage UsageReporter, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		usage:    usage,
		obs:      observability.NoopManager(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.routes()
	return s
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Address returns host:port.
func (s *Server) Address() string {
	return s.cfg.Address()
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	slog.Info("HTTP server starting", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.WithoutCancel(ctx))
	}
}

// Shutdown waits for in-flight requests up to the configured grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	slog.Info("HTTP server shutting down")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.obs.Middleware(routePattern))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)
	if s.obs.MetricsEnabled() {
		r.Handle(s.obs.MetricsPath(), s.obs.MetricsHandler())
		slog.Info("Metrics endpoint enabled", "path", s.obs.MetricsPath())
	}

	r.Post("/api/chat/sessions", s.handleOpenSession)
	r.Get("/api/chat/sessions/{token}", s.handleGetSession)
	r.Delete("/api/chat/sessions/{token}", s.handleCloseSession)
	r.Post("/api/chat/sessions/{token}/messages", s.handleSendMessage)
	r.Get("/api/admin/usage", s.handleUsage)

	return r
}

// routePattern labels requests by their chi pattern, not the raw path, so
// session tokens never become metric labels.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	cors := s.cfg.CORS
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case cors == nil:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "":
			for _, allowed := range cors.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
					break
				}
			}
			if config.BoolValue(cors.AllowCredentials, false) {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Expose-Headers", "Retry-After")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"route", routePattern(r),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}
