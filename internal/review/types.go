// Package review turns free-form reviewer agent output into a typed verdict.
package review

// Severity ranks a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ParseSeverity normalizes s into a known severity. Anything unrecognized is
// coerced to SeverityMedium.
func ParseSeverity(s string) Severity {
	switch Severity(normalizeToken(s)) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityMedium:
		return SeverityMedium
	case SeverityLow:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// Finding is a single reviewer-reported issue.
type Finding struct {
	Severity   Severity `json:"severity"`
	File       string   `json:"file"`
	Line       *int     `json:"line,omitempty"`
	Issue      string   `json:"issue"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Findings is the structured payload a reviewer is asked to emit.
type Findings struct {
	Passed   bool      `json:"passed"`
	Findings []Finding `json:"findings"`
	MustFix  []string  `json:"mustFix"`
	Summary  string    `json:"summary"`
}

// Verdict is the tagged outcome of parsing reviewer output.
type Verdict string

const (
	VerdictPass         Verdict = "pass"
	VerdictFail         Verdict = "fail"
	VerdictInconclusive Verdict = "inconclusive"
)

// Result is exactly one of pass, fail or inconclusive. Findings is set for
// pass and fail; ParseError is set for inconclusive.
type Result struct {
	Verdict    Verdict
	Findings   *Findings
	RawText    string
	ParseError string
}

// Passed reports whether the reviewer approved the change.
func (r Result) Passed() bool {
	return r.Verdict == VerdictPass
}
