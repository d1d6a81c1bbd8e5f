// Package api serves discovery over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apimiddleware "github.com/0xmhha/contract-explorer/pkg/api/middleware"
	"github.com/0xmhha/contract-explorer/pkg/ratelimit"
	"github.com/0xmhha/contract-explorer/pkg/types"
)

// Version is reported by /version
var Version = "dev"

// Explorer is the discovery service behind the API
type Explorer interface {
	Discover(ctx context.Context, q types.Query) (*types.Result, error)
	Networks() []string
	Stats() ratelimit.Stats
}

// Server represents the API server
type Server struct {
	config   *Config
	logger   *zap.Logger
	explorer Explorer
	gatherer prometheus.Gatherer
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a new API server. gatherer backs /metrics; nil uses the default registry.
func NewServer(config *Config, logger *zap.Logger, explorer Explorer, gatherer prometheus.Gatherer) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:   config,
		logger:   logger.With(zap.String("component", "api")),
		explorer: explorer,
		gatherer: gatherer,
		router:   chi.NewRouter(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s, nil
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware() {
	// Recovery middleware (must be first)
	s.router.Use(apimiddleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apimiddleware.Tracing("contract-explorer/api"))
	s.router.Use(apimiddleware.LoggerWithLevel(s.logger))

	if s.config.EnableCORS {
		s.router.Use(apimiddleware.CORS(s.config.AllowedOrigins))
	}

	if len(s.config.APIKeys) > 0 {
		s.router.Use(apimiddleware.APIKeyAuth(apimiddleware.AuthConfig{
			APIKeys: s.config.APIKeys,
			PublicPaths: map[string]bool{
				"/health":  true,
				"/metrics": true,
				"/version": true,
			},
		}, s.logger))
		s.logger.Info("API key authentication enabled", zap.Int("keys", len(s.config.APIKeys)))
	}

	if s.config.EnableRateLimit {
		limiter := apimiddleware.NewClientLimiter(s.config.RateLimitPerSecond, s.config.RateLimitBurst)
		s.router.Use(apimiddleware.RateLimit(limiter, s.logger))
		s.logger.Info("client rate limiting enabled",
			zap.Float64("rate_per_second", s.config.RateLimitPerSecond),
			zap.Int("burst", s.config.RateLimitBurst),
		)
	}
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/networks", s.handleNetworks)
		r.Get("/contracts/{address}/interactions", s.handleInteractions)
	})
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Networks  []string        `json:"networks"`
	Scheduler ratelimit.Stats `json:"scheduler"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Networks:  s.explorer.Networks(),
		Scheduler: s.explorer.Stats(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "contract-explorer",
		"version": Version,
	})
}

func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"networks": s.explorer.Networks()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start starts the API server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("starting API server",
		zap.String("address", s.config.Address()),
		zap.Bool("cors", s.config.EnableCORS),
		zap.Bool("rate_limit", s.config.EnableRateLimit),
	)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped gracefully")
	return nil
}

// Router returns the underlying chi router (for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
