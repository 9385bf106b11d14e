package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insiderhq/insider/internal/crypto"
	"github.com/insiderhq/insider/internal/dispatch"
	"github.com/insiderhq/insider/internal/incidence"
	"github.com/insiderhq/insider/internal/ingest"
	"github.com/insiderhq/insider/internal/integrations"
	"github.com/insiderhq/insider/internal/report"
)

type noopSource struct{}

func (noopSource) Active(integrations.Phase) ([]integrations.Backend, error) { return nil, nil }

func newTestRouter(t *testing.T) (http.Handler, *incidence.Store, *integrations.ConfigStore) {
	t.Helper()
	dir := t.TempDir()

	store, err := incidence.NewStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	secrets, err := crypto.NewManager(dir)
	require.NoError(t, err)
	configs, err := integrations.NewConfigStore(dir, secrets)
	require.NoError(t, err)
	t.Cleanup(func() { configs.Close() })
	require.NoError(t, configs.Sync(integrations.Definitions()))

	dispatcher := dispatch.New(noopSource{}, time.Second, zerolog.Nop())
	pipeline := ingest.NewPipeline(store, dispatcher, time.Hour, zerolog.Nop())
	queue := ingest.NewQueue(pipeline, 0, 0, zerolog.Nop())

	return NewRouter(queue, store, configs, report.NewGenerator(store), zerolog.Nop()), store, configs
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	handler, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestSubmitFootprintAndListIncidences(t *testing.T) {
	handler, _, _ := newTestRouter(t)

	rec := postJSON(t, handler, "/api/footprints", map[string]any{
		"request_path":   "/api/orders/42",
		"request_method": "POST",
		"status_code":    500,
		"exception_name": "ZeroDivisionError",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/incidences", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Incidences []incidence.Incidence `json:"incidences"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Incidences, 1)
	assert.Equal(t, "ZeroDivisionError at /api/orders/42", resp.Incidences[0].Title)
}

func TestSubmitFootprintRejectsBadJSON(t *testing.T) {
	handler, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/footprints", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListIncidencesValidation(t *testing.T) {
	handler, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/incidences?status=BOGUS", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/incidences?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkStatusUpdate(t *testing.T) {
	handler, store, _ := newTestRouter(t)

	rec := postJSON(t, handler, "/api/footprints", map[string]any{
		"request_path": "/x",
		"status_code":  500,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	incidences, err := store.List("", 10)
	require.NoError(t, err)
	require.Len(t, incidences, 1)

	rec = postJSON(t, handler, "/api/incidences/status", map[string]any{
		"ids":    []int64{incidences[0].ID},
		"status": "resolved",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp["updated"])

	reloaded, err := store.Get(incidences[0].ID)
	require.NoError(t, err)
	assert.Equal(t, incidence.StatusResolved, reloaded.Status)
}

func TestBulkStatusUpdateValidation(t *testing.T) {
	handler, _, _ := newTestRouter(t)

	rec := postJSON(t, handler, "/api/incidences/status", map[string]any{
		"ids": []int64{1}, "status": "NOT_A_STATUS",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, handler, "/api/incidences/status", map[string]any{
		"ids": []int64{}, "status": "OPEN",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIntegrationsListMasksSecrets(t *testing.T) {
	handler, _, configs := newTestRouter(t)
	require.NoError(t, configs.SetValue("slack", "webhook_url", "hook-secret"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/integrations", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.NotContains(t, body, "hook-secret")
	assert.Contains(t, body, "********")
	assert.Contains(t, body, `"identifier":"slack"`)
}

func TestIntegrationUpdate(t *testing.T) {
	handler, _, configs := newTestRouter(t)

	active := true
	order := 3
	raw, _ := json.Marshal(integrationUpdateRequest{
		Active: &active,
		Order:  &order,
		Values: map[string]string{"channel": "#ops"},
	})

	req := httptest.NewRequest(http.MethodPut, "/api/integrations/slack", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	all, err := configs.All()
	require.NoError(t, err)
	for _, pi := range all {
		if pi.Identifier == "slack" {
			assert.True(t, pi.Active)
			assert.Equal(t, 3, pi.Order)
			assert.Equal(t, "#ops", pi.Config.Get("channel"))
		}
	}
}

func TestIntegrationUpdateUnknownIdentifier(t *testing.T) {
	handler, _, _ := newTestRouter(t)

	active := true
	raw, _ := json.Marshal(integrationUpdateRequest{Active: &active})
	req := httptest.NewRequest(http.MethodPut, "/api/integrations/pagerduty", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDailyReportDownload(t *testing.T) {
	handler, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/daily?format=csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "insider-report-")
	assert.Contains(t, rec.Body.String(), "# Insider Activity Report")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/daily?format=docx", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	handler, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
