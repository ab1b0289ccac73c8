// Package failure maps failure signals observed during a workflow run to the
// action the orchestrator takes in response.
package failure

import "fmt"

// Kind identifies a class of failure.
type Kind string

const (
	KindParseError          Kind = "parse-error"
	KindTestRegression      Kind = "test-regression"
	KindTestFlake           Kind = "test-flake"
	KindPreExistingFailure  Kind = "pre-existing-failure"
	KindToolTimeout         Kind = "tool-timeout"
	KindBudgetThreshold     Kind = "budget-threshold"
	KindReviewMaxRetries    Kind = "review-max-retries"
	KindValidationFailure   Kind = "validation-failure"
	KindImplementationCrash Kind = "implementation-crash"
)

// Action is the handling policy for a failure kind.
type Action string

const (
	ActionAutoRetry         Action = "auto-retry"
	ActionWarnAndContinue   Action = "warn-and-continue"
	ActionIgnore            Action = "ignore"
	ActionStopAndShowDiff   Action = "stop-and-show-diff"
	ActionRetryThenEscalate Action = "retry-then-escalate"
	ActionCheckpoint        Action = "checkpoint"
	ActionEscalate          Action = "escalate"
)

// defaults is the built-in policy table.
var defaults = map[Kind]Action{
	KindParseError:          ActionAutoRetry,
	KindTestRegression:      ActionStopAndShowDiff,
	KindTestFlake:           ActionWarnAndContinue,
	KindPreExistingFailure:  ActionIgnore,
	KindToolTimeout:         ActionCheckpoint,
	KindBudgetThreshold:     ActionCheckpoint,
	KindReviewMaxRetries:    ActionEscalate,
	KindValidationFailure:   ActionRetryThenEscalate,
	KindImplementationCrash: ActionRetryThenEscalate,
}

// Kinds returns every failure kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindParseError,
		KindTestRegression,
		KindTestFlake,
		KindPreExistingFailure,
		KindToolTimeout,
		KindBudgetThreshold,
		KindReviewMaxRetries,
		KindValidationFailure,
		KindImplementationCrash,
	}
}

// Actions returns every action in a stable order.
func Actions() []Action {
	return []Action{
		ActionAutoRetry,
		ActionWarnAndContinue,
		ActionIgnore,
		ActionStopAndShowDiff,
		ActionRetryThenEscalate,
		ActionCheckpoint,
		ActionEscalate,
	}
}

// Default returns the built-in action for kind. Unknown kinds escalate.
func Default(kind Kind) Action {
	if action, ok := defaults[kind]; ok {
		return action
	}
	return ActionEscalate
}

// Lookup returns the override for kind when one is present, otherwise the
// built-in default.
func Lookup(kind Kind, overrides map[Kind]Action) Action {
	if action, ok := overrides[kind]; ok {
		return action
	}
	return Default(kind)
}

// ParseKind validates a failure kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := defaults[k]; !ok {
		return "", fmt.Errorf("unknown failure kind %q", s)
	}
	return k, nil
}

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	for _, a := range Actions() {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown failure action %q", s)
}
