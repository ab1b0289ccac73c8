package orchestrator

import (
	"strings"

	"go.uber.org/zap"

	"github.com/pablasso/forge/internal/checkpoint"
	"github.com/pablasso/forge/internal/failure"
	"github.com/pablasso/forge/internal/plan"
	"github.com/pablasso/forge/internal/workflow"
)

// raiseCheckpoint leaves a checkpoint prompt pending on st.
func raiseCheckpoint(rc *RunContext, st *workflow.State, triggers []string, message string) {
	prompt := "Checkpoint: " + strings.Join(triggers, ", ")
	if message != "" {
		prompt += "\n" + message
	}
	st.Pending = workflow.NewInteraction(workflow.InteractionChoice, workflow.PurposeCheckpoint, prompt, checkpoint.Options()...)

	rc.logger().Info("checkpoint raised",
		zap.Strings("triggers", triggers),
		zap.Float64("spent_usd", st.SpentUSD),
	)
	rc.logProgress(rc.Progress.CheckpointRaised(triggers, st.SpentUSD))
}

// evaluateCheckpoint runs the checkpoint rules after a task finished. Budget
// triggers are routed through the taxonomy first; an action that does not
// pause either drops them or halts the run.
func evaluateCheckpoint(rc *RunContext, st *workflow.State, taskID int, testsFailing bool) error {
	cfg := st.Config
	triggers := checkpoint.Evaluate(checkpoint.Input{
		State:              st,
		Thresholds:         checkpoint.ThresholdsFrom(cfg.Budget),
		Mode:               cfg.Execution.Mode,
		TestsFailing:       testsFailing,
		TestFailureTrigger: cfg.Checkpoint.TestFailureTrigger,
	})

	if checkpoint.HasBudgetTrigger(triggers) {
		reason := budgetMessage(triggers)
		switch decide(rc, st, taskID, failure.KindBudgetThreshold, 0, reason) {
		case failure.OutcomePause, failure.OutcomeRetry:
		case failure.OutcomeContinue:
			triggers = withoutBudget(triggers)
		default:
			return halt(st, "budget threshold reached: "+reason)
		}
	}

	if len(triggers) == 0 {
		return nil
	}
	messages := make([]string, len(triggers))
	for i, t := range triggers {
		messages[i] = t.Message
	}
	raiseCheckpoint(rc, st, checkpoint.Kinds(triggers), strings.Join(messages, "\n"))
	return nil
}

func budgetMessage(triggers []checkpoint.Trigger) string {
	for _, t := range triggers {
		if t.Kind == checkpoint.TriggerBudgetCritical || t.Kind == checkpoint.TriggerBudgetWarning {
			return t.Message
		}
	}
	return ""
}

func withoutBudget(triggers []checkpoint.Trigger) []checkpoint.Trigger {
	var out []checkpoint.Trigger
	for _, t := range triggers {
		if t.Kind != checkpoint.TriggerBudgetCritical && t.Kind != checkpoint.TriggerBudgetWarning {
			out = append(out, t)
		}
	}
	return out
}

// CheckpointSummary describes st for an operator deciding a checkpoint.
func CheckpointSummary(st *workflow.State) checkpoint.Summary {
	thresholds := checkpoint.ThresholdsFrom(st.Config.Budget)
	triggers := checkpoint.Evaluate(checkpoint.Input{
		State:      st,
		Thresholds: thresholds,
		Mode:       st.Config.Execution.Mode,
	})
	return checkpoint.Summarize(st, thresholds, triggers)
}

// resolveCheckpoint applies the operator's answer. Anything that is not a
// valid adjust or abort answer continues the run.
func resolveCheckpoint(rc *RunContext, st *workflow.State, answer string) {
	resp, err := checkpoint.ParseResponse(answer)
	if err != nil {
		rc.logger().Warn("ignoring unparseable plan adjustment", zap.String("answer", answer), zap.Error(err))
	}

	switch resp.Resolution {
	case checkpoint.ResolutionAbort:
		st.Aborted = true
		rc.logger().Info("run aborted at checkpoint", zap.Float64("spent_usd", st.SpentUSD))
	case checkpoint.ResolutionAdjust:
		applyAdjustment(rc, st, *resp.Adjustment)
	default:
		rc.logger().Info("continuing after checkpoint")
	}
}

func applyAdjustment(rc *RunContext, st *workflow.State, adj plan.Adjustment) {
	before := len(st.Tasks)
	skippedBefore := st.CountStatus(workflow.TaskSkipped)

	st.Tasks = plan.Apply(st.Tasks, adj)
	st.ActiveTask = firstOpen(st)

	dropped := before - len(st.Tasks)
	skipped := st.CountStatus(workflow.TaskSkipped) - skippedBefore
	rc.logger().Info("plan adjusted",
		zap.String("adjustment", adj.String()),
		zap.Int("dropped", dropped),
		zap.Int("skipped", skipped),
	)
	rc.logProgress(rc.Progress.PlanAdjusted(dropped, skipped, len(adj.Reorder)))
}

// firstOpen returns the index of the first task that is not terminal, or the
// task count when every task is finished.
func firstOpen(st *workflow.State) int {
	for i, t := range st.Tasks {
		if !t.Status.IsTerminal() {
			return i
		}
	}
	return len(st.Tasks)
}
