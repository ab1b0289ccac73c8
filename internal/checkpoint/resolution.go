package checkpoint

import (
	"strings"

	"github.com/pablasso/forge/internal/plan"
	"github.com/pablasso/forge/internal/workflow"
)

// Resolution is the operator's answer to a checkpoint.
type Resolution string

const (
	ResolutionContinue Resolution = "continue"
	ResolutionAdjust   Resolution = "adjust"
	ResolutionAbort    Resolution = "abort"
)

// Options lists the resolutions in display order.
func Options() []string {
	return []string{string(ResolutionContinue), string(ResolutionAdjust), string(ResolutionAbort)}
}

// ParseResolution maps free text to a resolution. Anything unrecognised,
// including an empty answer, is continue.
func ParseResolution(s string) Resolution {
	switch Resolution(strings.ToLower(strings.TrimSpace(s))) {
	case ResolutionAdjust:
		return ResolutionAdjust
	case ResolutionAbort:
		return ResolutionAbort
	default:
		return ResolutionContinue
	}
}

// Response is a parsed checkpoint answer.
type Response struct {
	Resolution Resolution
	Adjustment *plan.Adjustment
}

// ParseResponse reads answers like "continue", "abort" or
// "adjust drop 3; skip 4". An adjust answer whose edits cannot be parsed
// becomes continue and the parse error is returned alongside it.
func ParseResponse(text string) (Response, error) {
	choice, rest := workflow.SplitResponse(text)
	switch ParseResolution(choice) {
	case ResolutionAbort:
		return Response{Resolution: ResolutionAbort}, nil
	case ResolutionAdjust:
		adj, err := plan.ParseAdjustment(rest)
		if err != nil {
			return Response{Resolution: ResolutionContinue}, err
		}
		return Response{Resolution: ResolutionAdjust, Adjustment: &adj}, nil
	default:
		return Response{Resolution: ResolutionContinue}, nil
	}
}
