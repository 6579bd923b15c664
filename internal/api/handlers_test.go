package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-resolve/internal/embedding"
	"github.com/miradorstack/mirador-resolve/internal/engine"
	"github.com/miradorstack/mirador-resolve/internal/index"
	"github.com/miradorstack/mirador-resolve/internal/loader"
	"github.com/miradorstack/mirador-resolve/internal/models"
	"github.com/miradorstack/mirador-resolve/internal/runner"
)

type scriptedResolver struct{}

func (scriptedResolver) Resolve(ctx context.Context, incident models.Incident) (models.ResolutionReport, error) {
	if incident.ID == "" {
		return models.ResolutionReport{}, &engine.ValidationError{Field: "id", Reason: "is required"}
	}
	return models.ResolutionReport{
		IncidentID: incident.ID,
		ConfidenceAndRisk: models.ConfidenceAndRiskSection{
			ConfidenceScore: 0.8,
			RiskLevel:       models.RiskMedium,
		},
		Metadata: models.ReportMetadata{PipelineVersion: "phase1-pilot"},
	}, nil
}

// gatedResolver blocks inside Resolve until released, so tests can hold
// the worker and queue occupied deterministically.
type gatedResolver struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedResolver) Resolve(ctx context.Context, incident models.Incident) (models.ResolutionReport, error) {
	g.started <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return models.ResolutionReport{IncidentID: incident.ID}, nil
}

type staticEmbedder struct{}

func (staticEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return []float64{float64(len(text)%5 + 1), 1}, nil
}

func (staticEmbedder) Dimension() int       { return 2 }
func (staticEmbedder) ModelVersion() string { return "test-embed-v1" }

func newTestServer(t *testing.T) (*httptest.Server, *index.Index) {
	t.Helper()
	return newTestServerWith(t, scriptedResolver{}, 1, 2)
}

func newTestServerWith(t *testing.T, resolver runner.Resolver, workers, queueDepth int) (*httptest.Server, *index.Index) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ix := index.New(2)
	gen := embedding.NewGenerator(staticEmbedder{}, nil, logger)
	corpus := loader.NewManager(gen, ix, logger)

	run := runner.New(logger, resolver, workers, queueDepth, 16)
	run.Start(context.Background(), workers)
	t.Cleanup(run.Stop)
	handlers := NewHandlers(logger, run, corpus, "phase1-pilot")
	srv := httptest.NewServer(NewRouter(logger, handlers))
	t.Cleanup(srv.Close)
	return srv, ix
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeData(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Data
}

func TestSubmitIncidentSync(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/incidents", SubmitRequest{
		ID:          "INC-1",
		Description: "API latency spiked after deploy",
		Priority:    "P2",
		Category:    "Performance",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := decodeData(t, resp)
	assert.NotEmpty(t, data["handle"])
	report, ok := data["report"].(map[string]any)
	require.True(t, ok, "report missing from sync response")
	assert.Equal(t, "INC-1", report["incident_id"])
}

func TestSubmitIncidentAsync(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/incidents?async=1", SubmitRequest{
		ID:          "INC-7",
		Description: "Checkout errors spiking after the cache flush",
		Priority:    "P1",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	data := decodeData(t, resp)
	handle, _ := data["handle"].(string)
	require.NotEmpty(t, handle)

	// Poll the handle until the worker finishes the run.
	deadline := time.Now().Add(2 * time.Second)
	for {
		getResp, err := http.Get(srv.URL + "/api/v1/reports/" + handle)
		require.NoError(t, err)
		state := decodeData(t, getResp)
		if state["status"] == "complete" {
			report, ok := state["report"].(map[string]any)
			require.True(t, ok, "completed run missing its report")
			assert.Equal(t, "INC-7", report["incident_id"])
			return
		}
		require.True(t, time.Now().Before(deadline), "run never completed, stuck at %v", state["status"])
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmitIncidentBusy(t *testing.T) {
	resolver := &gatedResolver{started: make(chan struct{}, 4), release: make(chan struct{})}
	srv, _ := newTestServerWith(t, resolver, 1, 1)
	defer close(resolver.release)

	submit := func(id, query string) *http.Response {
		return postJSON(t, srv.URL+"/api/v1/incidents"+query, SubmitRequest{
			ID:          id,
			Description: "Login failures climbing across both regions",
			Priority:    "P2",
		})
	}

	// First job occupies the worker, second fills the single queue slot.
	first := submit("INC-1", "?async=1")
	require.Equal(t, http.StatusAccepted, first.StatusCode)
	first.Body.Close()
	<-resolver.started

	second := submit("INC-2", "?async=1")
	require.Equal(t, http.StatusAccepted, second.StatusCode)
	second.Body.Close()

	third := submit("INC-3", "?async=1")
	defer third.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, third.StatusCode)

	// The synchronous path shares the pool, so it sees the same limit.
	syncResp := submit("INC-4", "")
	defer syncResp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, syncResp.StatusCode)
}

func TestSubmitIncidentValidationFailure(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/incidents", SubmitRequest{
		Description: "missing the id field entirely",
		Priority:    "P2",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestSubmitIncidentBadJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/incidents", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetReportUnknownHandle(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/reports/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCorpusAddAndRemove(t *testing.T) {
	srv, ix := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/corpus/incidents", loader.HistoricalIncident{
		ID:                "HIST-1",
		Description:       "Database connection pool exhausted during peak traffic",
		Priority:          "P2",
		Category:          "Availability",
		ResolutionSummary: "Increased pool size",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 1, ix.Count())

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/corpus/incidents/HIST-1", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)
	assert.Equal(t, 0, ix.Count())
}

func TestCorpusBulkAdd(t *testing.T) {
	srv, ix := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/corpus/incidents", []loader.HistoricalIncident{
		{
			ID:                "HIST-10",
			Description:       "Payment gateway timeouts during nightly settlement",
			Priority:          "P1",
			Category:          "Availability",
			ResolutionSummary: "Failed over to the secondary gateway",
		},
		{
			ID:                "HIST-11",
			Description:       "Cache hit rate collapsed after cluster resize",
			Priority:          "P3",
			Category:          "Performance",
			ResolutionSummary: "Rebalanced the hash ring",
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data := decodeData(t, resp)
	assert.EqualValues(t, 2, data["added"])
	assert.Equal(t, 2, ix.Count())
}

func TestCorpusBulkAddRejectsWholeBatch(t *testing.T) {
	srv, ix := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/corpus/incidents", []loader.HistoricalIncident{
		{
			ID:                "HIST-20",
			Description:       "Search latency regression after index rebuild",
			Priority:          "P2",
			ResolutionSummary: "Rolled back the rebuild",
		},
		{ID: "", Description: "missing id makes this record invalid", ResolutionSummary: "n/a"},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, 0, ix.Count())
}

func TestCorpusAddRejectsShortDescription(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/corpus/incidents", loader.HistoricalIncident{
		ID:                "HIST-2",
		Description:       "too short",
		ResolutionSummary: "n/a",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCorpusRemoveUnknown(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/corpus/incidents/nope", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := decodeData(t, resp)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "phase1-pilot", data["version"])
}
