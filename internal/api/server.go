// Package api exposes the orchestrator's HTTP control surface: start a
// capture session, poll its status, cancel it, list all sessions.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forensiq/wacapture/internal/api/middleware"
	"github.com/forensiq/wacapture/internal/health"
	"github.com/forensiq/wacapture/internal/session"
)

// Options configures the control surface.
type Options struct {
	Manager *session.Manager
	Health  *health.Manager

	ServiceName   string // span naming; empty disables tracing middleware
	RateLimit     bool
	RateLimitMax  int
	RateLimitWin  time.Duration
	ExposeMetrics bool // serve /metrics on this listener
}

// Server is the HTTP control surface.
type Server struct {
	opts   Options
	router *chi.Mux
}

// New builds the server with the canonical middleware stack applied.
func New(opts Options) *Server {
	s := &Server{opts: opts}
	s.router = middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        opts.ServiceName,
		EnableLogging:         true,
		EnableRateLimit:       opts.RateLimit,
		RateLimitMax:          opts.RateLimitMax,
		RateLimitWindow:       opts.RateLimitWin,
	})
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Post("/session/start", s.handleStart)
		r.Get("/session/{id}/status", s.handleStatus)
		r.Delete("/session/{id}", s.handleCancel)
		r.Get("/sessions", s.handleList)
	})

	if s.opts.Health != nil {
		s.router.Get("/healthz", s.opts.Health.HealthHandler())
		s.router.Get("/readyz", s.opts.Health.ReadyHandler())
	}
	if s.opts.ExposeMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}
