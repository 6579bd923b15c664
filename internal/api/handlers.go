package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/miradorstack/mirador-resolve/internal/api/response"
	"github.com/miradorstack/mirador-resolve/internal/engine"
	"github.com/miradorstack/mirador-resolve/internal/index"
	"github.com/miradorstack/mirador-resolve/internal/loader"
	"github.com/miradorstack/mirador-resolve/internal/models"
	"github.com/miradorstack/mirador-resolve/internal/runner"
)

// SubmitRequest is the incident submission payload.
type SubmitRequest struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	Priority    string            `json:"priority"`
	Category    string            `json:"category"`
	ReportedAt  time.Time         `json:"reported_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Handlers carries the dependencies for all HTTP endpoints.
type Handlers struct {
	logger  *slog.Logger
	runner  *runner.Runner
	corpus  *loader.Manager
	version string
}

// NewHandlers constructs the endpoint handlers.
func NewHandlers(logger *slog.Logger, r *runner.Runner, corpus *loader.Manager, version string) *Handlers {
	return &Handlers{logger: logger, runner: r, corpus: corpus, version: version}
}

// SubmitIncident handles POST /api/v1/incidents. The default is a
// synchronous run returning the report; ?async=1 enqueues the run and
// returns a polling handle instead. Both paths go through the same
// worker pool and answer 503 when its queue is full.
func (h *Handlers) SubmitIncident(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
		return
	}
	incident := models.Incident{
		ID:          req.ID,
		Description: req.Description,
		Priority:    models.ParsePriority(req.Priority),
		Category:    models.ParseCategory(req.Category),
		ReportedAt:  req.ReportedAt,
		RawMetadata: req.Metadata,
	}
	if incident.ReportedAt.IsZero() {
		incident.ReportedAt = time.Now().UTC()
	}

	if r.URL.Query().Get("async") == "1" {
		handle, err := h.runner.Submit(incident)
		if err != nil {
			if errors.Is(err, runner.ErrBusy) {
				response.Error(w, http.StatusServiceUnavailable, "BUSY", "submission queue is full, retry later")
				return
			}
			h.logger.Error("async submit failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL", "submission failed")
			return
		}
		response.Accepted(w, map[string]string{"handle": handle})
		return
	}

	handle, report, err := h.runner.RunSync(r.Context(), incident)
	if err != nil {
		if errors.Is(err, runner.ErrBusy) {
			response.Error(w, http.StatusServiceUnavailable, "BUSY", "submission queue is full, retry later")
			return
		}
		if engine.IsValidation(err) {
			response.Error(w, http.StatusUnprocessableEntity, "INVALID_INCIDENT", err.Error())
			return
		}
		h.logger.Error("pipeline run failed", "incident_id", incident.ID, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL", "pipeline run failed")
		return
	}
	response.JSON(w, map[string]any{"handle": handle, "report": report})
}

// GetReport handles GET /api/v1/reports/{handle}.
func (h *Handlers) GetReport(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	state, err := h.runner.Lookup(handle)
	if err != nil {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "no run for that handle")
		return
	}
	response.JSON(w, state)
}

// AddCorpusIncident handles POST /api/v1/corpus/incidents. The body is
// either a single record or an array; arrays are indexed as one bulk
// upsert and rejected whole at the first invalid record.
func (h *Handlers) AddCorpusIncident(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var recs []loader.HistoricalIncident
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_JSON", "request body is not a valid record array")
			return
		}
		added, err := h.corpus.AddBatch(ctx, recs)
		if err != nil {
			response.Error(w, http.StatusUnprocessableEntity, "INVALID_RECORD", err.Error())
			return
		}
		response.Created(w, map[string]any{"added": added, "corpus_size": h.corpus.Count()})
		return
	}

	var rec loader.HistoricalIncident
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_JSON", "request body is not a valid record")
		return
	}
	if err := h.corpus.Add(ctx, rec); err != nil {
		response.Error(w, http.StatusUnprocessableEntity, "INVALID_RECORD", err.Error())
		return
	}
	response.Created(w, map[string]any{"id": rec.ID, "corpus_size": h.corpus.Count()})
}

// RemoveCorpusIncident handles DELETE /api/v1/corpus/incidents/{id}.
func (h *Handlers) RemoveCorpusIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.corpus.Remove(id); err != nil {
		if errors.Is(err, index.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "incident not in corpus")
			return
		}
		h.logger.Error("corpus remove failed", "incident_id", id, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL", "corpus remove failed")
		return
	}
	response.NoContent(w)
}

// Health handles GET /api/v1/health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, map[string]any{
		"status":      "ok",
		"version":     h.version,
		"corpus_size": h.corpus.Count(),
	})
}
