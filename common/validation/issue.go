package validation

import (
	"github.com/google/uuid"
)

// Severity grades a validation issue
type Severity string

const (
	// SeverityError blocks run start.
	SeverityError Severity = "error"
	// SeverityWarning is surfaced but overridable by the operator.
	SeverityWarning Severity = "warning"
	// SeverityInfo is advisory, never blocking.
	SeverityInfo Severity = "info"
)

// Category groups issues by the check that produced them
type Category string

const (
	CategoryStructure Category = "Structure"
	CategoryTargets   Category = "Targets"
	CategoryExposures Category = "Exposures"
	CategoryEquipment Category = "Equipment"
	CategoryTiming    Category = "Timing"
)

// Issue is one validation finding
type Issue struct {
	Severity    Severity   `json:"severity"`
	Category    Category   `json:"category"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	NodeID      *uuid.UUID `json:"nodeId,omitempty"`
	Suggestion  string     `json:"suggestion,omitempty"`
}

// Result is the ordered list of issues from one validation pass
type Result struct {
	Issues []Issue `json:"issues"`
}

// HasErrors reports whether any issue blocks the run
func (r Result) HasErrors() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// HasWarnings reports whether any warning was raised
func (r Result) HasWarnings() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// IsValid reports whether the run may start without an operator override
func (r Result) IsValid() bool {
	return !r.HasErrors()
}

// ByCategory returns the issues of one category, preserving order
func (r Result) ByCategory(c Category) []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Category == c {
			out = append(out, i)
		}
	}
	return out
}

func (r *Result) add(issue Issue) {
	r.Issues = append(r.Issues, issue)
}
