// Package analyzer turns a raw incident into structured analysis: the
// normalized description, extracted entities and keywords, a severity
// estimate, and the embedding used for retrieval.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/miradorstack/mirador-resolve/internal/backends"
	"github.com/miradorstack/mirador-resolve/internal/embedding"
	"github.com/miradorstack/mirador-resolve/internal/models"
)

// Analyzer derives structured analysis from incidents.
type Analyzer struct {
	text        backends.TextBackend
	generator   *embedding.Generator
	embedBudget time.Duration
	logger      *slog.Logger
}

// New constructs an Analyzer. embedBudget caps the time spent waiting on
// the embedding backend within one analysis; zero disables the cap.
func New(text backends.TextBackend, generator *embedding.Generator, embedBudget time.Duration, logger *slog.Logger) *Analyzer {
	return &Analyzer{text: text, generator: generator, embedBudget: embedBudget, logger: logger}
}

// Analyze produces an IncidentAnalysis for the given incident. Backend
// failures degrade the result rather than failing it: extraction falls
// back to empty entity and keyword sets with the priority-derived
// severity, and a missing embedding is reported through HasEmbedding.
func (a *Analyzer) Analyze(ctx context.Context, incident models.Incident) models.IncidentAnalysis {
	analysis := models.IncidentAnalysis{
		IncidentID:       incident.ID,
		NormalizedText:   NormalizeText(incident.Description),
		SeverityEstimate: models.SeverityForPriority(incident.Priority),
	}

	insights, err := a.text.AnalyzeText(ctx, analysis.NormalizedText)
	if err != nil {
		analysis.Degraded = true
		analysis.DegradedReason = fmt.Sprintf("text extraction failed: %v", err)
		a.logger.Warn("incident extraction degraded",
			"incident_id", incident.ID,
			"error", err,
		)
	} else {
		analysis.Entities = insights.Entities
		analysis.Keywords = insights.Keywords
		if insights.Escalation {
			// The backend may raise the estimate one level, never lower it.
			analysis.SeverityEstimate = analysis.SeverityEstimate.Raise()
		}
	}

	embedCtx := ctx
	if a.embedBudget > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, a.embedBudget)
		defer cancel()
	}
	vec, err := a.generator.Generate(embedCtx, a.embeddingText(incident, analysis))
	if err != nil {
		analysis.Degraded = true
		if analysis.DegradedReason != "" {
			analysis.DegradedReason += "; "
		}
		analysis.DegradedReason += fmt.Sprintf("embedding failed: %v", err)
		a.logger.Warn("incident embedding degraded",
			"incident_id", incident.ID,
			"error", err,
		)
		return analysis
	}
	analysis.Embedding = vec
	return analysis
}

// embeddingText combines the normalized description with a canonical
// metadata summary so semantically similar incidents in different
// categories still separate in vector space.
func (a *Analyzer) embeddingText(incident models.Incident, analysis models.IncidentAnalysis) string {
	var b strings.Builder
	b.WriteString(analysis.NormalizedText)
	b.WriteString("\nCategory: ")
	b.WriteString(string(incident.Category))
	b.WriteString("\nPriority: ")
	b.WriteString(incident.Priority.String())
	if len(analysis.Entities) > 0 {
		b.WriteString("\nSystems: ")
		b.WriteString(strings.Join(analysis.Entities, ", "))
	}
	return b.String()
}

// NormalizeText strips control characters and collapses runs of
// whitespace into single spaces. Case is preserved.
func NormalizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	lastSpace := false
	for _, r := range text {
		if unicode.IsControl(r) {
			continue
		}
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}
