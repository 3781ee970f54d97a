// Package server hosts the HTTP API, the plugin routes and the metrics
// endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/HerbHall/autofleet/internal/plugin"
	"github.com/HerbHall/autofleet/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the main Autofleet server.
type Server struct {
	httpServer *http.Server
	registry   *plugin.Registry
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	mux        *http.ServeMux
}

// New creates a new Server instance. Metrics are served from gatherer; nil
// selects the default Prometheus registry.
func New(addr string, reg *plugin.Registry, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     mux,
			ReadTimeout: 15 * time.Second,
			// No WriteTimeout: device WebSocket connections are long-lived.
			IdleTimeout: 60 * time.Second,
		},
		registry: reg,
		gatherer: gatherer,
		logger:   logger,
		mux:      mux,
	}

	s.registerCoreRoutes()
	s.mountPluginRoutes()

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// registerCoreRoutes sets up routes that are always available.
func (s *Server) registerCoreRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// mountPluginRoutes registers all plugin routes under /api/v1/{plugin}/ and
// root routes as declared.
func (s *Server) mountPluginRoutes() {
	for pluginName, routes := range s.registry.AllRoutes() {
		for _, route := range routes {
			pattern := fmt.Sprintf("%s /api/v1/%s%s", route.Method, pluginName, route.Path)
			s.mux.HandleFunc(pattern, route.Handler)
			s.logger.Debug("mounted route",
				zap.String("plugin", pluginName),
				zap.String("pattern", pattern),
			)
		}
	}
	for _, route := range s.registry.RootRoutes() {
		pattern := fmt.Sprintf("%s %s", route.Method, route.Path)
		s.mux.HandleFunc(pattern, route.Handler)
		s.logger.Debug("mounted root route", zap.String("pattern", pattern))
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth returns the server health status and the health of every
// plugin that reports one. Any unhealthy plugin turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	plugins := s.registry.Health(r.Context())
	status, code := "ok", http.StatusOK
	for _, h := range plugins {
		if h.Status == "unhealthy" {
			status, code = "unhealthy", http.StatusServiceUnavailable
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Autofleet-Version", version.Short())
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"service": "autofleet",
		"version": version.Map(),
		"plugins": plugins,
	})
}

// handlePlugins returns the list of registered plugins.
func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	type pluginResponse struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Active  bool   `json:"active"`
	}
	plugins := s.registry.All()
	info := make([]pluginResponse, 0, len(plugins))
	for _, p := range plugins {
		info = append(info, pluginResponse{
			Name:    p.Name(),
			Version: p.Version(),
			Active:  s.registry.IsActive(p.Name()),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Autofleet-Version", version.Short())
	_ = json.NewEncoder(w).Encode(info)
}
