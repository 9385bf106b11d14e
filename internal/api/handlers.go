package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/insiderhq/insider/internal/incidence"
	"github.com/insiderhq/insider/internal/ingest"
	"github.com/insiderhq/insider/internal/integrations"
	"github.com/insiderhq/insider/internal/report"
)

const maxPayloadBytes = 1 << 20 // 1 MiB

// handleFootprints accepts one raw footprint payload and hands it to the
// ingest queue. The client gets an answer as soon as the payload is
// accepted; processing happens on the workers.
func (r *Router) handleFootprints(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxPayloadBytes+1))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "read_failed", "failed to read request body")
		return
	}
	if len(body) > maxPayloadBytes {
		writeErrorResponse(w, http.StatusRequestEntityTooLarge, "payload_too_large", "footprint payload exceeds 1 MiB")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_json", "request body is not a JSON object")
		return
	}

	if err := r.queue.Submit(payload); err != nil {
		if errors.Is(err, ingest.ErrQueueFull) || errors.Is(err, ingest.ErrQueueClosed) {
			writeErrorResponse(w, http.StatusServiceUnavailable, "queue_unavailable", err.Error())
			return
		}
		r.logger.Error().Err(err).Msg("Footprint ingest failed")
		writeErrorResponse(w, http.StatusInternalServerError, "ingest_failed", "failed to process footprint")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (r *Router) handleIncidences(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	status := incidence.Status(strings.ToUpper(req.URL.Query().Get("status")))
	if status != "" && !status.Valid() {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_status", fmt.Sprintf("unknown status %q", status))
		return
	}

	limit := 100
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeErrorResponse(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	incidences, err := r.store.List(status, limit)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list incidences")
		writeErrorResponse(w, http.StatusInternalServerError, "list_failed", "failed to list incidences")
		return
	}
	if incidences == nil {
		incidences = []incidence.Incidence{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"incidences": incidences})
}

type statusUpdateRequest struct {
	IDs    []int64 `json:"ids"`
	Status string  `json:"status"`
}

// handleIncidenceStatus applies one status to a batch of incidences.
// Already-matching rows are skipped, so the returned count reflects actual
// transitions.
func (r *Router) handleIncidenceStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var body statusUpdateRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_json", "failed to decode request body")
		return
	}

	status := incidence.Status(strings.ToUpper(body.Status))
	if !status.Valid() {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_status", fmt.Sprintf("unknown status %q", body.Status))
		return
	}
	if len(body.IDs) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "missing_ids", "no incidence ids supplied")
		return
	}

	updated, err := r.store.BulkSetStatus(body.IDs, status)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to update incidence status")
		writeErrorResponse(w, http.StatusInternalServerError, "update_failed", "failed to update incidences")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

type integrationView struct {
	integrations.PersistedIntegration
	Keys []integrations.KeyView `json:"keys"`
}

func (r *Router) handleListIntegrations(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	all, err := r.configs.All()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list integrations")
		writeErrorResponse(w, http.StatusInternalServerError, "list_failed", "failed to list integrations")
		return
	}

	views := make([]integrationView, 0, len(all))
	for _, pi := range all {
		keys, err := r.configs.Keys(pi.Identifier)
		if err != nil {
			r.logger.Error().Err(err).Str("identifier", pi.Identifier).Msg("Failed to load integration keys")
			writeErrorResponse(w, http.StatusInternalServerError, "list_failed", "failed to list integrations")
			return
		}
		views = append(views, integrationView{PersistedIntegration: pi, Keys: keys})
	}

	writeJSON(w, http.StatusOK, map[string]any{"integrations": views})
}

type integrationUpdateRequest struct {
	Active *bool             `json:"active,omitempty"`
	Order  *int              `json:"order,omitempty"`
	Values map[string]string `json:"values,omitempty"`
}

// handleIntegration updates one integration: /api/integrations/{identifier}
func (r *Router) handleIntegration(w http.ResponseWriter, req *http.Request) {
	identifier := strings.TrimPrefix(req.URL.Path, "/api/integrations/")
	if identifier == "" || strings.Contains(identifier, "/") {
		writeErrorResponse(w, http.StatusNotFound, "not_found", "unknown integration path")
		return
	}

	if req.Method != http.MethodPut {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "use PUT")
		return
	}

	var body integrationUpdateRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_json", "failed to decode request body")
		return
	}

	for key, value := range body.Values {
		if err := r.configs.SetValue(identifier, key, value); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "invalid_key", err.Error())
			return
		}
	}
	if body.Order != nil {
		if err := r.configs.SetOrder(identifier, *body.Order); err != nil {
			writeErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
	}
	if body.Active != nil {
		if err := r.configs.SetActive(identifier, *body.Active); err != nil {
			writeErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
	}

	keys, err := r.configs.Keys(identifier)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "load_failed", "failed to reload integration")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"identifier": identifier, "keys": keys})
}

// handleDailyReport renders the last 24 hours on demand.
func (r *Router) handleDailyReport(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	format := report.FormatCSV
	if raw := req.URL.Query().Get("format"); raw != "" {
		parsed, err := report.ParseFormat(raw)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "invalid_format", err.Error())
			return
		}
		format = parsed
	}

	end := time.Now().UTC()
	data, contentType, err := r.generator.Generate(24*time.Hour, end, format)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to generate report")
		writeErrorResponse(w, http.StatusInternalServerError, "report_failed", "failed to generate report")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(end, format)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
