package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KungFuJesus/ntetris/internal/config"
	"github.com/KungFuJesus/ntetris/internal/metrics"
	"github.com/KungFuJesus/ntetris/internal/player"
)

const (
	serviceName    = "ntetris-server"
	serviceVersion = "1.0.0"

	defaultKickReason = "kicked by operator"
)

// HTTPServer provides HTTP API endpoints for monitoring and management
type HTTPServer struct {
	server    *http.Server
	router    chi.Router
	logger    *slog.Logger
	config    *config.Config
	registry  *player.Registry
	udpServer *UDPServer
	metrics   *metrics.Metrics
	events    *EventHub
	gatherer  prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. gatherer backs /metrics;
// events may be nil, in which case /events is not served.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	registry *player.Registry, udpServer *UDPServer, m *metrics.Metrics,
	events *EventHub, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		registry:  registry,
		udpServer: udpServer,
		metrics:   m,
		events:    events,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	h.router = h.setupRoutes()

	h.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)),
		Handler:      h.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", h.withMetrics("/", h.handleRoot))
	r.Get("/health", h.withMetrics("/health", h.handleHealth))

	r.Route("/players", func(r chi.Router) {
		r.Get("/", h.withMetrics("/players", h.handlePlayers))
		r.Get("/{id}", h.withMetrics("/players/{id}", h.handlePlayerDetail))
		r.Delete("/{id}", h.withMetrics("/players/{id}", h.handleKickPlayer))
	})

	r.Get("/stats", h.withMetrics("/stats", h.handleStats))
	r.Get("/config", h.withMetrics("/config", h.handleConfig))

	// websocket upgrades need the unwrapped ResponseWriter
	if h.events != nil {
		r.Get("/events", h.events.HandleWebSocket)
	}

	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	return r
}

// Handler returns the router, for tests and for mounting elsewhere
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server in the background
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error":  msg,
		"status": status,
	})
}

// parsePlayerID reads the {id} URL parameter
func parsePlayerID(r *http.Request) (uint32, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid player id %q", chi.URLParam(r, "id"))
	}
	return uint32(id), nil
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.udpServer.GetStatistics()

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]any{
			"udp_server": map[string]any{
				"status":            "running",
				"packets_received":  stats.PacketsReceived,
				"packets_processed": stats.PacketsProcessed,
				"packets_dropped":   stats.PacketsDropped,
				"queue_size":        stats.QueueSize,
			},
			"registry": map[string]any{
				"status":           "running",
				"active_players":   stats.ActivePlayers,
				"keepalive_budget": h.registry.KeepaliveBudget(),
			},
			"events": map[string]any{
				"subscribers": h.subscriberCount(),
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

func (h *HTTPServer) subscriberCount() int {
	if h.events == nil {
		return 0
	}
	return h.events.ClientCount()
}

// handlePlayers implements the /players endpoint
func (h *HTTPServer) handlePlayers(w http.ResponseWriter, r *http.Request) {
	players := h.registry.Snapshot()

	writeJSON(w, http.StatusOK, map[string]any{
		"total_players": len(players),
		"timestamp":     time.Now().UTC(),
		"players":       players,
	})
}

// handlePlayerDetail implements GET /players/{id}
func (h *HTTPServer) handlePlayerDetail(w http.ResponseWriter, r *http.Request) {
	id, err := parsePlayerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, exists := h.registry.FindByID(id)
	if !exists {
		writeError(w, http.StatusNotFound, "player not found")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// handleKickPlayer implements DELETE /players/{id}?reason=...
func (h *HTTPServer) handleKickPlayer(w http.ResponseWriter, r *http.Request) {
	id, err := parsePlayerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = defaultKickReason
	}

	p, err := h.udpServer.KickByID(id, reason)
	if err != nil {
		if errors.Is(err, player.ErrNotFound) {
			writeError(w, http.StatusNotFound, "player not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info("Player kicked via HTTP API",
		slog.Uint64("player_id", uint64(p.ID)),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"kicked": p,
		"reason": reason,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := map[string]any{
		"server": map[string]any{
			"udp_port":        h.config.Server.UDPPort,
			"bind_address":    h.config.Server.BindAddress,
			"buffer_size":     h.config.Server.BufferSize,
			"workers":         h.config.Server.Workers,
			"queue_size":      h.config.Server.QueueSize,
			"send_queue_size": h.config.Server.SendQueueSize,
			"random_source":   h.config.Server.RandomSource,
		},
		"keepalive": map[string]any{
			"sweep_interval":   h.config.Keepalive.SweepInterval,
			"budget":           h.config.Keepalive.Budget,
			"client_interval":  h.config.Keepalive.ClientInterval,
			"tolerated_misses": h.config.Keepalive.ToleratedMisses(),
		},
		"http": map[string]any{
			"address": h.config.HTTP.Address,
			"port":    h.config.HTTP.Port,
		},
		"logging": map[string]any{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
		"tracing": map[string]any{
			"enabled":      h.config.Tracing.Enabled,
			"output":       h.config.Tracing.Output,
			"sample_ratio": h.config.Tracing.SampleRatio,
		},
	}

	writeJSON(w, http.StatusOK, cfg)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"udp":       h.udpServer.GetStatistics(),
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"version": serviceVersion,
		"endpoints": map[string]any{
			"GET /":                "API documentation",
			"GET /health":          "Service health check",
			"GET /players":         "List registered players",
			"GET /players/{id}":    "Get one player",
			"DELETE /players/{id}": "Kick a player (optional ?reason=)",
			"GET /stats":           "Get server statistics",
			"GET /config":          "Get server configuration",
			"GET /events":          "Websocket feed of player events",
			"GET /metrics":         "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
