// Package synth produces resolution plans from an analyzed incident and
// its retrieved historical matches. Plans come from the text backend
// where possible, with a structured fallback when generation fails or
// returns unusable output.
package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/miradorstack/mirador-resolve/internal/backends"
	"github.com/miradorstack/mirador-resolve/internal/models"
)

// ErrSynthesisDegraded marks plans assembled from the structured
// fallback after generation failed.
var ErrSynthesisDegraded = errors.New("synthesis degraded")

// Synthesizer drafts resolution plans.
type Synthesizer struct {
	text    backends.TextBackend
	kTarget int
	logger  *slog.Logger
}

// New constructs a Synthesizer. kTarget is the retrieval top-K used when
// scaling confidence by match count.
func New(text backends.TextBackend, kTarget int, logger *slog.Logger) *Synthesizer {
	if kTarget <= 0 {
		kTarget = 5
	}
	return &Synthesizer{text: text, kTarget: kTarget, logger: logger}
}

// Synthesize builds a plan for the incident. With no matches it returns
// the escalation plan at zero confidence. With matches it prompts the
// text backend, retrying once on a malformed reply before degrading to
// the structured fallback.
func (s *Synthesizer) Synthesize(ctx context.Context, incident models.Incident, analysis models.IncidentAnalysis, matches []models.SimilarityMatch) models.ResolutionPlan {
	if len(matches) == 0 {
		return s.escalationPlan(incident)
	}

	confidence := s.confidence(matches)
	prompt := s.buildPrompt(incident, analysis, matches)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		completion, err := s.text.Generate(ctx, prompt)
		if err != nil {
			lastErr = err
			break
		}
		plan, err := s.parsePlan(completion)
		if err != nil {
			lastErr = err
			s.logger.Warn("plan generation returned malformed output",
				"incident_id", incident.ID,
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}
		plan.IncidentID = incident.ID
		plan.ConfidenceScore = confidence
		plan.SimilarIncidents = matches
		return plan
	}

	s.logger.Warn("plan generation degraded to structured fallback",
		"incident_id", incident.ID,
		"error", lastErr,
	)
	plan := s.fallbackPlan(incident, matches)
	plan.ConfidenceScore = confidence
	plan.Degraded = true
	plan.DegradedReason = fmt.Sprintf("%s: %v", ErrSynthesisDegraded, lastErr)
	return plan
}

// confidence scales average similarity by how close the match count came
// to the retrieval target, clamped to [0, 1].
func (s *Synthesizer) confidence(matches []models.SimilarityMatch) float64 {
	if len(matches) == 0 {
		return 0
	}
	sum := 0.0
	for _, m := range matches {
		sum += m.SimilarityScore
	}
	avg := sum / float64(len(matches))

	coverage := float64(len(matches)) / float64(s.kTarget)
	if coverage > 1 {
		coverage = 1
	}

	score := avg * coverage
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func (s *Synthesizer) buildPrompt(incident models.Incident, analysis models.IncidentAnalysis, matches []models.SimilarityMatch) string {
	var b strings.Builder
	b.WriteString("You are an incident resolution assistant. Based on the current incident and similar resolved incidents, produce a resolution plan.\n\n")
	b.WriteString("Current incident:\n")
	fmt.Fprintf(&b, "  Description: %s\n", analysis.NormalizedText)
	fmt.Fprintf(&b, "  Category: %s\n", incident.Category)
	fmt.Fprintf(&b, "  Priority: %s\n", incident.Priority)
	fmt.Fprintf(&b, "  Severity estimate: %s\n", analysis.SeverityEstimate)
	if len(analysis.Entities) > 0 {
		fmt.Fprintf(&b, "  Affected systems: %s\n", strings.Join(analysis.Entities, ", "))
	}

	b.WriteString("\nSimilar resolved incidents:\n")
	for i, m := range matches {
		fmt.Fprintf(&b, "  %d. [similarity %.2f] %s\n", i+1, m.SimilarityScore, m.Description)
		fmt.Fprintf(&b, "     Resolution: %s\n", m.ResolutionSummary)
	}

	b.WriteString(`
Respond with JSON only, matching this schema:
{
  "root_cause_hypothesis": "...",
  "steps": [{"description": "...", "command": "...", "expected_outcome": "..."}],
  "best_practices": ["..."],
  "estimated_resolution_time": "...",
  "risk_level": "Low|Medium|High"
}
`)
	return b.String()
}

// parsePlan decodes the generator reply, tolerating a Markdown code fence
// around the JSON body.
func (s *Synthesizer) parsePlan(completion string) (models.ResolutionPlan, error) {
	cleaned := stripCodeFence(completion)

	var raw struct {
		RootCauseHypothesis string                  `json:"root_cause_hypothesis"`
		Steps               []models.ResolutionStep `json:"steps"`
		BestPractices       []string                `json:"best_practices"`
		EstimatedTime       string                  `json:"estimated_resolution_time"`
		RiskLevel           string                  `json:"risk_level"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return models.ResolutionPlan{}, fmt.Errorf("decode plan: %w", err)
	}
	if strings.TrimSpace(raw.RootCauseHypothesis) == "" {
		return models.ResolutionPlan{}, fmt.Errorf("plan missing root cause hypothesis")
	}
	if len(raw.Steps) == 0 {
		return models.ResolutionPlan{}, fmt.Errorf("plan has no steps")
	}

	return models.ResolutionPlan{
		RootCauseHypothesis: raw.RootCauseHypothesis,
		Steps:               raw.Steps,
		BestPractices:       raw.BestPractices,
		EstimatedTime:       raw.EstimatedTime,
		RiskLevel:           models.ParseRiskLevel(raw.RiskLevel),
	}, nil
}

// fallbackPlan assembles a plan directly from the matched resolutions
// when the generator cannot.
func (s *Synthesizer) fallbackPlan(incident models.Incident, matches []models.SimilarityMatch) models.ResolutionPlan {
	steps := make([]models.ResolutionStep, 0, len(matches))
	for i, m := range matches {
		steps = append(steps, models.ResolutionStep{
			Description:     fmt.Sprintf("Review resolution of similar incident %s: %s", m.HistoricalIncidentID, m.ResolutionSummary),
			ExpectedOutcome: fmt.Sprintf("Applicability of historical fix %d confirmed or ruled out", i+1),
		})
	}
	return models.ResolutionPlan{
		IncidentID:          incident.ID,
		RootCauseHypothesis: fmt.Sprintf("Likely related to the root cause of %s (closest historical match)", matches[0].HistoricalIncidentID),
		Steps:               steps,
		RiskLevel:           models.RiskMedium,
		SimilarIncidents:    matches,
	}
}

// escalationPlan covers the no-match case: zero confidence, high risk,
// and steps that route the incident to a human.
func (s *Synthesizer) escalationPlan(incident models.Incident) models.ResolutionPlan {
	return models.ResolutionPlan{
		IncidentID:          incident.ID,
		RootCauseHypothesis: "Insufficient historical data to determine a likely root cause",
		Steps: []models.ResolutionStep{
			{
				Description:     "Escalate to the on-call engineer for manual triage",
				ExpectedOutcome: "Incident owned by a human responder",
			},
			{
				Description:     "Capture diagnostics (logs, metrics, recent changes) while the incident is live",
				ExpectedOutcome: "Evidence preserved for root cause analysis",
			},
			{
				Description:     "Record the eventual resolution so future occurrences can be matched",
				ExpectedOutcome: "Corpus coverage improved for this incident class",
			},
		},
		RiskLevel:        models.RiskHigh,
		ConfidenceScore:  0,
		SimilarIncidents: []models.SimilarityMatch{},
	}
}

func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
