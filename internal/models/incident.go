package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Incident represents one reported operational event. Instances are
// append-only once indexed into history.
type Incident struct {
	ID          string            `json:"incident_id"`
	Description string            `json:"description"`
	Priority    Priority          `json:"priority"`
	Category    Category          `json:"category"`
	ReportedAt  time.Time         `json:"reported_at"`
	RawMetadata map[string]string `json:"raw_metadata,omitempty"`
}

// Priority is the reported urgency, P1 (highest) through P4 (lowest).
type Priority int

const (
	PriorityUnknown Priority = 0
	PriorityP1      Priority = 1
	PriorityP2      Priority = 2
	PriorityP3      Priority = 3
	PriorityP4      Priority = 4
)

// String renders the canonical "P1".."P4" form.
func (p Priority) String() string {
	if p < PriorityP1 || p > PriorityP4 {
		return "unknown"
	}
	return fmt.Sprintf("P%d", int(p))
}

// Label returns the human label used by ticketing systems.
func (p Priority) Label() string {
	switch p {
	case PriorityP1:
		return "Critical"
	case PriorityP2:
		return "High"
	case PriorityP3:
		return "Medium"
	case PriorityP4:
		return "Low"
	default:
		return "Unknown"
	}
}

// ParsePriority accepts "P1".."P4", bare ordinals ("1".."4"), or the
// ticketing labels. Unrecognised input yields PriorityUnknown.
func ParsePriority(value string) Priority {
	v := strings.TrimSpace(strings.ToUpper(value))
	v = strings.TrimPrefix(v, "P")
	if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 4 {
		return Priority(n)
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "critical":
		return PriorityP1
	case "high":
		return PriorityP2
	case "medium":
		return PriorityP3
	case "low":
		return PriorityP4
	}
	return PriorityUnknown
}

// Category enumerates the incident classification buckets.
type Category string

const (
	CategoryPerformance  Category = "Performance"
	CategoryAvailability Category = "Availability"
	CategoryNetwork      Category = "Network"
	CategorySecurity     Category = "Security"
	CategoryOther        Category = "Other"
)

// ParseCategory maps free-form input onto a known category, falling back to
// CategoryOther for anything unclassifiable.
func ParseCategory(value string) Category {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "performance":
		return CategoryPerformance
	case "availability":
		return CategoryAvailability
	case "network":
		return CategoryNetwork
	case "security":
		return CategorySecurity
	default:
		return CategoryOther
	}
}

// Severity captures estimated impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityForPriority maps declared priority onto its default severity.
func SeverityForPriority(p Priority) Severity {
	switch p {
	case PriorityP1:
		return SeverityCritical
	case PriorityP2:
		return SeverityHigh
	case PriorityP3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Raise returns the severity one level up, capped at critical.
func (s Severity) Raise() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}
