package models

import "time"

// ResolutionReport is the four-section document handed back to responders.
// The section shape is a fixed external contract; consumers key on the JSON
// field names below.
type ResolutionReport struct {
	IncidentID        string                   `json:"incident_id"`
	SimilarIncidents  SimilarIncidentsSection  `json:"similar_incidents"`
	RootCauseAnalysis RootCauseSection         `json:"root_cause_analysis"`
	ResolutionSteps   ResolutionStepsSection   `json:"resolution_steps"`
	ConfidenceAndRisk ConfidenceAndRiskSection `json:"confidence_and_risk"`
	Metadata          ReportMetadata           `json:"metadata"`
}

// SimilarIncidentsSection lists the retrieved historical neighbours.
type SimilarIncidentsSection struct {
	Count   int               `json:"count"`
	Matches []SimilarityMatch `json:"matches"`
}

// RootCauseSection carries the synthesized hypothesis.
type RootCauseSection struct {
	PrimaryCause string   `json:"primary_cause"`
	Entities     []string `json:"entities,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
}

// ResolutionStepsSection carries the ordered remediation plan.
type ResolutionStepsSection struct {
	Steps         []ResolutionStep `json:"steps"`
	BestPractices []string         `json:"best_practices,omitempty"`
	EstimatedTime string           `json:"estimated_time,omitempty"`
}

// ConfidenceAndRiskSection grades the recommendation.
type ConfidenceAndRiskSection struct {
	ConfidenceScore float64   `json:"confidence_score"`
	RiskLevel       RiskLevel `json:"risk_level"`
}

// ReportMetadata records how the run went; degraded runs always carry a
// human-readable reason so consumers can discount them.
type ReportMetadata struct {
	Degraded         bool      `json:"degraded"`
	DegradedReason   string    `json:"degraded_reason,omitempty"`
	ProcessingTimeMS int64     `json:"processing_time_ms"`
	PipelineVersion  string    `json:"pipeline_version"`
	CompletedAt      time.Time `json:"completed_at"`
}
