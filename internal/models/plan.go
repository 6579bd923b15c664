package models

import "time"

// SimilarityMatch pairs a query incident with one historical incident. It is
// a read-only projection of index state at query time.
type SimilarityMatch struct {
	HistoricalIncidentID string    `json:"historical_incident_id"`
	SimilarityScore      float64   `json:"similarity_score"`
	ResolutionSummary    string    `json:"matched_resolution_summary"`
	Description          string    `json:"description,omitempty"`
	Category             Category  `json:"category,omitempty"`
	Priority             Priority  `json:"priority,omitempty"`
	ReportedAt           time.Time `json:"reported_at"`
}

// RiskLevel grades the danger of applying a resolution plan.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// ParseRiskLevel normalises generator output; anything unrecognised is High.
func ParseRiskLevel(value string) RiskLevel {
	switch value {
	case "Low", "low":
		return RiskLow
	case "Medium", "medium":
		return RiskMedium
	case "High", "high":
		return RiskHigh
	default:
		return RiskHigh
	}
}

// ResolutionStep is one ordered remediation action.
type ResolutionStep struct {
	Description     string `json:"description"`
	Command         string `json:"command,omitempty"`
	ExpectedOutcome string `json:"expected_outcome,omitempty"`
}

// ResolutionPlan is the synthesized output for one pipeline run. Plans are
// never mutated, only superseded by a later run for the same incident.
type ResolutionPlan struct {
	IncidentID          string            `json:"incident_id"`
	RootCauseHypothesis string            `json:"root_cause_hypothesis"`
	Steps               []ResolutionStep  `json:"steps"`
	BestPractices       []string          `json:"best_practices,omitempty"`
	EstimatedTime       string            `json:"estimated_resolution_time,omitempty"`
	RiskLevel           RiskLevel         `json:"risk_level"`
	ConfidenceScore     float64           `json:"confidence_score"`
	SimilarIncidents    []SimilarityMatch `json:"similar_incidents"`
	Degraded            bool              `json:"degraded,omitempty"`
	DegradedReason      string            `json:"degraded_reason,omitempty"`
}
