// Package checkpoint decides when a run pauses for the operator and how the
// operator's answer is interpreted.
package checkpoint

import (
	"fmt"

	"github.com/pablasso/forge/internal/config"
	"github.com/pablasso/forge/internal/workflow"
)

// TriggerKind is why a checkpoint was raised.
type TriggerKind string

const (
	TriggerBudgetWarning  TriggerKind = "budget-warning"
	TriggerBudgetCritical TriggerKind = "budget-critical"
	TriggerScheduled      TriggerKind = "scheduled"
	TriggerTestFailure    TriggerKind = "test-failure"
)

// CriticalRatio is the share of the hard limit at which spend is critical.
const CriticalRatio = 0.9

// Trigger is a single reason to pause.
type Trigger struct {
	Kind    TriggerKind
	Message string
}

// Thresholds are the cost limits in USD. A zero value disables that check.
type Thresholds struct {
	WarnUSD      float64
	HardLimitUSD float64
}

// ThresholdsFrom reads the thresholds out of a budget config.
func ThresholdsFrom(b config.BudgetConfig) Thresholds {
	return Thresholds{WarnUSD: b.WarnUSD, HardLimitUSD: b.HardLimitUSD}
}

// Critical returns the spend at which the critical trigger fires.
func (t Thresholds) Critical() float64 {
	return t.HardLimitUSD * CriticalRatio
}

// Input is everything Evaluate looks at.
type Input struct {
	State      *workflow.State
	Thresholds Thresholds
	Mode       config.ExecutionMode

	// TestsFailing and TestFailureTrigger drive the optional test-failure
	// trigger. It only fires when both are set.
	TestsFailing       bool
	TestFailureTrigger bool
}

// Evaluate returns the triggers that apply, in priority order. A run whose
// remaining tasks are all finished never triggers.
func Evaluate(in Input) []Trigger {
	st := in.State
	if st == nil || !hasRemainingWork(st) {
		return nil
	}

	var triggers []Trigger
	spent := st.SpentUSD
	switch {
	case in.Thresholds.HardLimitUSD > 0 && spent >= in.Thresholds.Critical():
		triggers = append(triggers, Trigger{
			Kind: TriggerBudgetCritical,
			Message: fmt.Sprintf("spend $%.2f is at or above %.0f%% of the $%.2f limit",
				spent, CriticalRatio*100, in.Thresholds.HardLimitUSD),
		})
	case in.Thresholds.WarnUSD > 0 && spent >= in.Thresholds.WarnUSD:
		triggers = append(triggers, Trigger{
			Kind:    TriggerBudgetWarning,
			Message: fmt.Sprintf("spend $%.2f passed the $%.2f warning threshold", spent, in.Thresholds.WarnUSD),
		})
	}

	if in.Mode == config.ModeCheckpoint {
		triggers = append(triggers, Trigger{Kind: TriggerScheduled, Message: "checkpoint mode pauses after every task"})
	}

	if in.TestFailureTrigger && in.TestsFailing {
		triggers = append(triggers, Trigger{Kind: TriggerTestFailure, Message: "tests are failing"})
	}
	return triggers
}

// hasRemainingWork reports whether any task at or after the active index is
// still pending or in progress.
func hasRemainingWork(st *workflow.State) bool {
	for i := st.ActiveTask; i >= 0 && i < len(st.Tasks); i++ {
		if !st.Tasks[i].Status.IsTerminal() {
			return true
		}
	}
	return false
}

// HasBudgetTrigger reports whether any trigger is budget related.
func HasBudgetTrigger(triggers []Trigger) bool {
	for _, t := range triggers {
		if t.Kind == TriggerBudgetWarning || t.Kind == TriggerBudgetCritical {
			return true
		}
	}
	return false
}

// Kinds returns the trigger kinds as strings, for logging.
func Kinds(triggers []Trigger) []string {
	out := make([]string, len(triggers))
	for i, t := range triggers {
		out[i] = string(t.Kind)
	}
	return out
}
