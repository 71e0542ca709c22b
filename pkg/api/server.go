// Package api exposes the operational surface over HTTP: health, metrics,
// alerts, reports, manual invalidation, and a cache debug lookup. It is an
// admin plane; application traffic never flows through it.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cache-orchestrator/pkg/analytics"
	"cache-orchestrator/pkg/logging"
	"cache-orchestrator/pkg/orchestrator"
)

// Config tunes the admin server.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sane admin-plane timeouts.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the admin HTTP server.
type Server struct {
	config    Config
	orch      *orchestrator.Orchestrator
	analytics *analytics.Analytics
	registry  *prometheus.Registry
	logger    *logging.Logger

	http *http.Server
}

// New wires the admin server. analytics and registry may be nil; their
// routes are simply not registered.
func New(config Config, orch *orchestrator.Orchestrator, an *analytics.Analytics, registry *prometheus.Registry) *Server {
	s := &Server{
		config:    config,
		orch:      orch,
		analytics: an,
		registry:  registry,
		logger:    logging.L().Named("api"),
	}

	s.http = &http.Server{
		Addr:         config.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Routes builds the router. Exposed so tests can drive handlers through
// httptest without binding a port.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/invalidate/tags", s.handleInvalidateTags).Methods(http.MethodPost)
	r.HandleFunc("/invalidate/pattern", s.handleInvalidatePattern).Methods(http.MethodPost)
	r.HandleFunc("/cache/{key}", s.handleCacheLookup).Methods(http.MethodGet)
	r.HandleFunc("/cache/{key}", s.handleCacheDelete).Methods(http.MethodDelete)

	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	if s.analytics != nil {
		r.HandleFunc("/metrics/json", s.handleMetricsJSON).Methods(http.MethodGet)
		r.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
		r.HandleFunc("/alerts/{id}/resolve", s.handleResolveAlert).Methods(http.MethodPost)
		r.HandleFunc("/report", s.handleReport).Methods(http.MethodGet)
	}

	return r
}

// Start serves until Shutdown. Blocks; run it on its own goroutine.
func (s *Server) Start() error {
	s.logger.Info("admin server listening", zap.String("addr", s.config.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	levels := s.orch.HealthCheck(r.Context())

	healthy := true
	for _, lh := range levels {
		if !lh.Healthy && len(lh.Issues) > 0 && lh.Issues[0] != "level disabled" {
			healthy = false
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"healthy": healthy,
		"levels":  levels,
	})
}

func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.analytics.Latest()
	if !ok {
		snap = s.analytics.Sample(r.Context())
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	onlyUnresolved := r.URL.Query().Get("resolved") != "true"
	writeJSON(w, http.StatusOK, s.analytics.Alerts().List(onlyUnresolved))
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.analytics.Alerts().Resolve(id) {
		writeError(w, http.StatusNotFound, "unknown alert id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "resolved"})
}

func (s *Server) handleInvalidateTags(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Tags) == 0 {
		writeError(w, http.StatusBadRequest, "body must be {\"tags\": [...]}")
		return
	}

	count := s.orch.InvalidateByTags(r.Context(), body.Tags)
	writeJSON(w, http.StatusOK, map[string]int{"keys_invalidated": count})
}

func (s *Server) handleInvalidatePattern(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Pattern string `json:"pattern"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Pattern == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"pattern\": \"...\"}")
		return
	}

	count := s.orch.InvalidateByPattern(r.Context(), body.Pattern)
	writeJSON(w, http.StatusOK, map[string]int{"keys_invalidated": count})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad window duration")
			return
		}
		window = parsed
	}

	report := s.analytics.BuildReport(window, 10)

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(report.String()))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleCacheLookup reads through the levels without a fallback; a miss is
// a 404, never a source-of-truth load.
func (s *Server) handleCacheLookup(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	value, err := s.orch.Get(r.Context(), key, nil, orchestrator.GetOptions{})
	if err != nil {
		writeError(w, http.StatusNotFound, "key not cached")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": value})
}

func (s *Server) handleCacheDelete(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	if err := s.orch.Delete(r.Context(), key); err != nil {
		s.logger.Warn("admin delete partial failure",
			zap.String("key", key), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "status": "deleted"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
