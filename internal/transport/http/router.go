// Package httptransport serves the admin API and the host session API.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"warden/pkg/platform/middleware/auth"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type routerOptions struct {
	logger    *slog.Logger
	validator auth.TokenValidator
	gatherer  prometheus.Gatherer
	checks    map[string]HealthCheck
	timeout   time.Duration
}

type RouterOption func(*routerOptions)

func WithLogger(logger *slog.Logger) RouterOption {
	return func(o *routerOptions) {
		o.logger = logger
	}
}

// WithAuth protects every /v1 route with bearer tokens checked by v.
func WithAuth(v auth.TokenValidator) RouterOption {
	return func(o *routerOptions) {
		o.validator = v
	}
}

// WithGatherer exposes g on /metrics.
func WithGatherer(g prometheus.Gatherer) RouterOption {
	return func(o *routerOptions) {
		o.gatherer = g
	}
}

// WithHealthCheck adds a named dependency probe to /healthz.
func WithHealthCheck(name string, check HealthCheck) RouterOption {
	return func(o *routerOptions) {
		if o.checks == nil {
			o.checks = map[string]HealthCheck{}
		}
		o.checks[name] = check
	}
}

// NewRouter wires the admin endpoints.
func NewRouter(h *Handler, opts ...RouterOption) http.Handler {
	o := routerOptions{
		logger:   slog.Default(),
		gatherer: prometheus.DefaultGatherer,
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(o.timeout))

	r.Get("/healthz", healthz(o.checks))
	r.Handle("/metrics", promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		if o.validator != nil {
			r.Use(auth.RequireAuth(o.validator, o.logger))
		}
		r.Get("/punishments", h.handleActive)
		r.Get("/subjects/{subject}/history", h.handleSubjectHistory)
		r.Get("/subjects/{subject}/active", h.handleSubjectActive)
		r.Get("/operators/{subject}/blame", h.handleBlame)
		r.Get("/players/{name}", h.handlePlayer)
		r.Get("/addresses/{addr}/players", h.handleAddressPlayers)
		r.Get("/addresses/{addr}/geo", h.handleGeo)

		if h.writer != nil {
			r.Post("/punishments", h.handlePunish)
			r.Delete("/subjects/{subject}/active/{type}", h.handlePardon)
		}
		if h.gatekeeper != nil {
			r.Post("/sessions", h.handleJoin)
			r.Delete("/sessions/{id}", h.handleLeave)
			r.Post("/sessions/{id}/chat", h.handleChat)
		}
	})
	return r
}
