package models

// Severity grades a review finding.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// ReviewIssue is one finding from a code review pass.
type ReviewIssue struct {
	Severity Severity `json:"severity"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Message  string   `json:"message"`
}

// ReviewReport is the result of reviewing a generated file set. Reviews
// tolerate arbitrary input and never fail the pipeline by themselves.
type ReviewReport struct {
	Issues  []ReviewIssue `json:"issues"`
	Summary string        `json:"summary,omitempty"`
}

// Count returns the number of issues at the given severity.
func (r ReviewReport) Count(sev Severity) int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == sev {
			n++
		}
	}
	return n
}

// QualityScore derives a single score from the report: 1.0 minus penalties
// per error and warning, floored at 0.1.
func (r ReviewReport) QualityScore() float64 {
	score := 1.0 - 0.1*float64(r.Count(SeverityError)) - 0.03*float64(r.Count(SeverityWarn))
	if score < 0.1 {
		score = 0.1
	}
	return score
}
