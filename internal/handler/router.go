// Package handler provides the HTTP API for Alexander Library.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-library/internal/metrics"
	"github.com/prn-tf/alexander-library/internal/service"
)

const defaultMaxBodySize = 1 << 20

// HealthChecker is implemented by the store and the optional Redis client.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Router wires the library handlers onto chi.
type Router struct {
	books    *BookHandler
	accounts *AccountHandler
	health   map[string]HealthChecker
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	Catalog     *service.CatalogService
	Circulation *service.CirculationService
	Accounts    *service.AccountService
	Health      map[string]HealthChecker
	Metrics     *metrics.Metrics
	MaxBodySize int64
	Logger      zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = defaultMaxBodySize
	}
	logger := config.Logger.With().Str("component", "http").Logger()

	return &Router{
		books: &BookHandler{
			catalog:     config.Catalog,
			circulation: config.Circulation,
			maxBody:     config.MaxBodySize,
			logger:      logger.With().Str("handler", "books").Logger(),
		},
		accounts: &AccountHandler{
			accounts: config.Accounts,
			maxBody:  config.MaxBodySize,
			logger:   logger.With().Str("handler", "accounts").Logger(),
		},
		health:  config.Health,
		metrics: config.Metrics,
		logger:  logger,
	}
}

// Handler returns the main HTTP handler.
// Every route is served at the root and again under /api.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(rt.logger))
	r.Use(middleware.Recoverer)
	r.Use(instrument(rt.metrics))

	r.Get("/health", rt.handleHealth)

	rt.routes(r)
	r.Route("/api", rt.routes)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Code: "NotFound", Message: "no such route"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Code: "MethodNotAllowed", Message: "method not allowed"})
	})

	return r
}

func (rt *Router) routes(r chi.Router) {
	rt.books.RegisterRoutes(r)
	rt.accounts.RegisterRoutes(r)
}

// HealthResponse reports each dependency.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealth pings every registered dependency.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Checks: make(map[string]string, len(rt.health))}
	status := http.StatusOK

	for name, checker := range rt.health {
		if err := checker.Health(ctx); err != nil {
			rt.logger.Warn().Err(err).Str("check", name).Msg("health check failed")
			resp.Checks[name] = "unhealthy"
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	writeJSON(w, status, resp)
}
