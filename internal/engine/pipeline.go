// Package engine orchestrates the resolution pipeline: validation,
// analysis, retrieval, and synthesis, assembled into the four-section
// report. Each stage runs under its own deadline inside the overall run
// budget, and recoverable failures degrade the report instead of
// aborting it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-resolve/internal/metrics"
	"github.com/miradorstack/mirador-resolve/internal/models"
)

// Stage identifies a pipeline state. Runs move strictly forward through
// the stages; Errored is terminal and only reached from a fatal error.
type Stage string

const (
	StageReceived     Stage = "received"
	StageValidated    Stage = "validated"
	StageAnalyzing    Stage = "analyzing"
	StageRetrieving   Stage = "retrieving"
	StageSynthesizing Stage = "synthesizing"
	StageComplete     Stage = "complete"
	StageErrored      Stage = "errored"
)

// ValidationError marks an incident that can never be processed. It is
// fatal: the run moves to Errored without touching any backend.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid incident: %s %s", e.Field, e.Reason)
}

// minDescriptionLength is the shortest description worth analyzing.
const minDescriptionLength = 10

// IncidentAnalyzer derives structured analysis from an incident.
type IncidentAnalyzer interface {
	Analyze(ctx context.Context, incident models.Incident) models.IncidentAnalysis
}

// Retriever queries the similarity index.
type Retriever interface {
	Query(vector []float64, k int, minSimilarity float64) ([]models.SimilarityMatch, error)
}

// PlanSynthesizer drafts a resolution plan from analysis and matches.
type PlanSynthesizer interface {
	Synthesize(ctx context.Context, incident models.Incident, analysis models.IncidentAnalysis, matches []models.SimilarityMatch) models.ResolutionPlan
}

// Budgets caps each stage and the overall run. Retrieval has no budget
// of its own: index queries are in-memory and run under the overall
// deadline.
type Budgets struct {
	Overall   time.Duration
	Analysis  time.Duration
	Synthesis time.Duration
}

// Pipeline executes resolution runs.
type Pipeline struct {
	logger        *slog.Logger
	analyzer      IncidentAnalyzer
	retriever     Retriever
	synthesizer   PlanSynthesizer
	budgets       Budgets
	topK          int
	minSimilarity float64
	version       string
}

// NewPipeline constructs a pipeline.
func NewPipeline(
	logger *slog.Logger,
	analyzer IncidentAnalyzer,
	retriever Retriever,
	synthesizer PlanSynthesizer,
	budgets Budgets,
	topK int,
	minSimilarity float64,
	version string,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if topK <= 0 {
		topK = 5
	}
	return &Pipeline{
		logger:        logger,
		analyzer:      analyzer,
		retriever:     retriever,
		synthesizer:   synthesizer,
		budgets:       budgets,
		topK:          topK,
		minSimilarity: minSimilarity,
		version:       version,
	}
}

// Resolve runs the full pipeline for one incident. A non-nil error is
// returned only for validation failures; all other trouble produces a
// degraded report and a nil error.
func (p *Pipeline) Resolve(ctx context.Context, incident models.Incident) (models.ResolutionReport, error) {
	started := time.Now()
	stage := StageReceived

	if p.budgets.Overall > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.budgets.Overall)
		defer cancel()
	}

	if err := validateIncident(incident); err != nil {
		p.advance(&stage, StageErrored, incident.ID)
		p.logger.Warn("incident rejected",
			"incident_id", incident.ID,
			"error", err,
		)
		return models.ResolutionReport{}, err
	}
	// An unclassifiable priority is coerced to the lowest tier rather
	// than rejected, mirroring the category fallback to "Other".
	if incident.Priority == models.PriorityUnknown {
		incident.Priority = models.PriorityP4
	}
	p.advance(&stage, StageValidated, incident.ID)

	p.advance(&stage, StageAnalyzing, incident.ID)
	analysisStart := time.Now()
	analysis := p.runAnalysis(ctx, incident)
	metrics.ObserveStage(string(StageAnalyzing), time.Since(analysisStart))

	p.advance(&stage, StageRetrieving, incident.ID)
	retrievalStart := time.Now()
	matches, retrievalNote := p.runRetrieval(ctx, analysis)
	metrics.ObserveStage(string(StageRetrieving), time.Since(retrievalStart))

	p.advance(&stage, StageSynthesizing, incident.ID)
	synthesisStart := time.Now()
	plan := p.runSynthesis(ctx, incident, analysis, matches)
	metrics.ObserveStage(string(StageSynthesizing), time.Since(synthesisStart))

	p.advance(&stage, StageComplete, incident.ID)
	report := p.assembleReport(incident, analysis, plan, retrievalNote, started)

	p.logger.Info("pipeline run finished",
		"incident_id", incident.ID,
		"stage", string(stage),
		"matches", report.SimilarIncidents.Count,
		"confidence", report.ConfidenceAndRisk.ConfidenceScore,
		"degraded", report.Metadata.Degraded,
		"duration_ms", report.Metadata.ProcessingTimeMS,
	)
	metrics.ObserveConfidence(report.ConfidenceAndRisk.ConfidenceScore)
	return report, nil
}

func (p *Pipeline) advance(stage *Stage, next Stage, incidentID string) {
	*stage = next
	p.logger.Debug("pipeline stage",
		"incident_id", incidentID,
		"stage", string(next),
	)
}

func (p *Pipeline) runAnalysis(ctx context.Context, incident models.Incident) models.IncidentAnalysis {
	analysisCtx := ctx
	if p.budgets.Analysis > 0 {
		var cancel context.CancelFunc
		analysisCtx, cancel = context.WithTimeout(ctx, p.budgets.Analysis)
		defer cancel()
	}
	return p.analyzer.Analyze(analysisCtx, incident)
}

// runRetrieval queries the index when an embedding is available. Both a
// missing embedding and an index failure fall through to the empty match
// set, which the synthesizer turns into an escalation plan.
func (p *Pipeline) runRetrieval(ctx context.Context, analysis models.IncidentAnalysis) ([]models.SimilarityMatch, string) {
	if !analysis.HasEmbedding() {
		return nil, "retrieval skipped: no embedding available"
	}
	// Index queries are in-memory and do not block, so the retrieval
	// budget reduces to an upfront deadline check.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Sprintf("retrieval aborted: %v", err)
	}

	matches, err := p.retriever.Query(analysis.Embedding, p.topK, p.minSimilarity)
	if err != nil {
		p.logger.Warn("similarity query failed",
			"incident_id", analysis.IncidentID,
			"error", err,
		)
		return nil, fmt.Sprintf("similarity query failed: %v", err)
	}
	return matches, ""
}

func (p *Pipeline) runSynthesis(ctx context.Context, incident models.Incident, analysis models.IncidentAnalysis, matches []models.SimilarityMatch) models.ResolutionPlan {
	synthesisCtx := ctx
	if p.budgets.Synthesis > 0 {
		var cancel context.CancelFunc
		synthesisCtx, cancel = context.WithTimeout(ctx, p.budgets.Synthesis)
		defer cancel()
	}
	return p.synthesizer.Synthesize(synthesisCtx, incident, analysis, matches)
}

func (p *Pipeline) assembleReport(incident models.Incident, analysis models.IncidentAnalysis, plan models.ResolutionPlan, retrievalNote string, started time.Time) models.ResolutionReport {
	degraded := analysis.Degraded || plan.Degraded || retrievalNote != ""
	reasons := make([]string, 0, 3)
	if analysis.DegradedReason != "" {
		reasons = append(reasons, analysis.DegradedReason)
	}
	if retrievalNote != "" {
		reasons = append(reasons, retrievalNote)
	}
	if plan.DegradedReason != "" {
		reasons = append(reasons, plan.DegradedReason)
	}

	matches := plan.SimilarIncidents
	if matches == nil {
		matches = []models.SimilarityMatch{}
	}

	return models.ResolutionReport{
		IncidentID: incident.ID,
		SimilarIncidents: models.SimilarIncidentsSection{
			Count:   len(matches),
			Matches: matches,
		},
		RootCauseAnalysis: models.RootCauseSection{
			PrimaryCause: plan.RootCauseHypothesis,
			Entities:     analysis.Entities,
			Keywords:     analysis.Keywords,
		},
		ResolutionSteps: models.ResolutionStepsSection{
			Steps:         plan.Steps,
			BestPractices: plan.BestPractices,
			EstimatedTime: plan.EstimatedTime,
		},
		ConfidenceAndRisk: models.ConfidenceAndRiskSection{
			ConfidenceScore: plan.ConfidenceScore,
			RiskLevel:       plan.RiskLevel,
		},
		Metadata: models.ReportMetadata{
			Degraded:         degraded,
			DegradedReason:   strings.Join(reasons, "; "),
			ProcessingTimeMS: time.Since(started).Milliseconds(),
			PipelineVersion:  p.version,
			CompletedAt:      time.Now().UTC(),
		},
	}
}

func validateIncident(incident models.Incident) error {
	if strings.TrimSpace(incident.ID) == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if len(strings.TrimSpace(incident.Description)) < minDescriptionLength {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("must be at least %d characters", minDescriptionLength)}
	}
	if incident.ReportedAt.IsZero() {
		return &ValidationError{Field: "reported_at", Reason: "is required"}
	}
	return nil
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
