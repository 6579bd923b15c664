package models

// IncidentAnalysis holds the structured fields derived from one incident.
// It is owned by the incident it analyses and never stored independently.
type IncidentAnalysis struct {
	IncidentID       string
	NormalizedText   string
	Entities         []string
	Keywords         []string
	SeverityEstimate Severity
	Embedding        []float64
	Degraded         bool
	DegradedReason   string
}

// HasEmbedding reports whether the embedding stage produced a usable vector.
func (a IncidentAnalysis) HasEmbedding() bool {
	return len(a.Embedding) > 0
}
