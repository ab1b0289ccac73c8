package failure

// Outcome is the concrete step a call site takes after consulting the table.
type Outcome int

const (
	OutcomeRetry Outcome = iota
	OutcomeContinue
	OutcomePause
	OutcomeStop
	OutcomeEscalate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRetry:
		return "retry"
	case OutcomeContinue:
		return "continue"
	case OutcomePause:
		return "pause"
	case OutcomeStop:
		return "stop"
	case OutcomeEscalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// AutoRetryLimit bounds the retries granted by ActionAutoRetry.
const AutoRetryLimit = 2

// Decide turns an action into an outcome given how many times the failing
// step has already been retried for the same kind.
func Decide(action Action, priorRetries int) Outcome {
	switch action {
	case ActionAutoRetry:
		if priorRetries < AutoRetryLimit {
			return OutcomeRetry
		}
		return OutcomeEscalate
	case ActionRetryThenEscalate:
		if priorRetries < 1 {
			return OutcomeRetry
		}
		return OutcomeEscalate
	case ActionWarnAndContinue, ActionIgnore:
		return OutcomeContinue
	case ActionCheckpoint:
		return OutcomePause
	case ActionStopAndShowDiff:
		return OutcomeStop
	case ActionEscalate:
		return OutcomeEscalate
	default:
		return OutcomeEscalate
	}
}
