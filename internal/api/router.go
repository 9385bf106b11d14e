// Package api exposes the HTTP surface: footprint ingestion, incidence
// management, integration configuration and report downloads.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/insiderhq/insider/internal/incidence"
	"github.com/insiderhq/insider/internal/ingest"
	"github.com/insiderhq/insider/internal/integrations"
	"github.com/insiderhq/insider/internal/report"
)

// Router handles HTTP routing
type Router struct {
	mux       *http.ServeMux
	queue     ingest.Queue
	store     *incidence.Store
	configs   *integrations.ConfigStore
	generator *report.Generator
	logger    zerolog.Logger
	started   time.Time
}

// NewRouter creates a new router instance
func NewRouter(queue ingest.Queue, store *incidence.Store, configs *integrations.ConfigStore, generator *report.Generator, logger zerolog.Logger) http.Handler {
	r := &Router{
		mux:       http.NewServeMux(),
		queue:     queue,
		store:     store,
		configs:   configs,
		generator: generator,
		logger:    logger,
		started:   time.Now(),
	}

	r.setupRoutes()
	return r
}

// setupRoutes configures all routes
func (r *Router) setupRoutes() {
	r.mux.HandleFunc("/api/health", r.handleHealth)
	r.mux.HandleFunc("/api/footprints", r.handleFootprints)

	r.mux.HandleFunc("/api/incidences", r.handleIncidences)
	r.mux.HandleFunc("/api/incidences/status", r.handleIncidenceStatus)

	r.mux.HandleFunc("/api/integrations", r.handleListIntegrations)
	r.mux.HandleFunc("/api/integrations/", r.handleIntegration)

	r.mux.HandleFunc("/api/reports/daily", r.handleDailyReport)

	r.mux.Handle("/metrics", promhttp.Handler())
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"uptime": time.Since(r.started).Seconds(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
