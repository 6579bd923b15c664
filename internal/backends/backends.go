package backends

import (
	"context"
	"errors"
)

// ErrBackendUnavailable indicates the remote model service could not be
// reached or kept failing after retries. Callers may degrade instead of
// aborting the whole run.
var ErrBackendUnavailable = errors.New("model backend unavailable")

// Insights carries the structured signals extracted from an incident
// description by the text backend.
type Insights struct {
	Entities     []string `json:"entities"`
	Keywords     []string `json:"keywords"`
	SeverityHint string   `json:"severity_hint"`
	Escalation   bool     `json:"escalation"`
}

// TextBackend is a text model service used for incident analysis and
// resolution drafting.
type TextBackend interface {
	// AnalyzeText extracts entities, keywords, and a severity hint from
	// free-form incident text.
	AnalyzeText(ctx context.Context, text string) (Insights, error)
	// Generate produces a completion for the given prompt.
	Generate(ctx context.Context, prompt string) (string, error)
}

// Embedder converts text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	// Dimension reports the vector length this embedder produces.
	Dimension() int
	// ModelVersion identifies the embedding model, used for cache keying.
	ModelVersion() string
}
