package review

import (
	"fmt"
	"strings"
)

// Feedback renders a reviewer result as plain text suitable for a fix prompt.
func (r Result) Feedback(reviewer string) string {
	var sb strings.Builder
	switch r.Verdict {
	case VerdictInconclusive:
		sb.WriteString(fmt.Sprintf("Reviewer %q produced no usable verdict (%s).\n", reviewer, r.ParseError))
		sb.WriteString("Re-check the change against the task and make sure it builds and its tests pass.\n")
		return sb.String()
	case VerdictPass:
		sb.WriteString(fmt.Sprintf("Reviewer %q approved the change.\n", reviewer))
	default:
		sb.WriteString(fmt.Sprintf("Reviewer %q rejected the change.\n", reviewer))
	}
	if r.Findings == nil {
		return sb.String()
	}
	if r.Findings.Summary != "" {
		sb.WriteString("Summary: " + r.Findings.Summary + "\n")
	}
	for i, f := range r.Findings.Findings {
		loc := f.File
		if f.Line != nil {
			loc = fmt.Sprintf("%s:%d", f.File, *f.Line)
		}
		sb.WriteString(fmt.Sprintf("%d. [%s] %s: %s\n", i+1, f.Severity, loc, f.Issue))
		if f.Suggestion != "" {
			sb.WriteString("   Suggestion: " + f.Suggestion + "\n")
		}
	}
	if len(r.Findings.MustFix) > 0 {
		sb.WriteString("Must fix: " + strings.Join(r.Findings.MustFix, ", ") + "\n")
	}
	return sb.String()
}
