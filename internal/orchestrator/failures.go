package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pablasso/forge/internal/failure"
	"github.com/pablasso/forge/internal/workflow"
)

// errPaused is returned inside the execute phase when a failure asks for a
// checkpoint. The phase turns it into a pending interaction.
var errPaused = errors.New("paused for checkpoint")

// decision is what a failure site does next.
type decision int

const (
	proceed decision = iota
	again
)

// overrides returns the configured action overrides. The config was
// validated on load, so a parse error only drops the overrides.
func overrides(rc *RunContext, st *workflow.State) map[failure.Kind]failure.Action {
	out, err := st.Config.FailureOverrides()
	if err != nil {
		rc.logger().Warn("ignoring invalid failure overrides", zap.Error(err))
		return nil
	}
	return out
}

// decide consults the taxonomy for kind given the prior retry count and logs
// the decision.
func decide(rc *RunContext, st *workflow.State, taskID int, kind failure.Kind, prior int, reason string) failure.Outcome {
	action := failure.Lookup(kind, overrides(rc, st))
	outcome := failure.Decide(action, prior)
	recordDecision(rc, taskID, kind, action, outcome, prior, reason)
	return outcome
}

func recordDecision(rc *RunContext, taskID int, kind failure.Kind, action failure.Action, outcome failure.Outcome, prior int, reason string) {
	rc.logger().Info("failure handled",
		zap.Int("task_id", taskID),
		zap.String("kind", string(kind)),
		zap.String("action", string(action)),
		zap.String("outcome", outcome.String()),
		zap.Int("prior_retries", prior),
		zap.String("reason", reason),
	)
	rc.logProgress(rc.Progress.FailureHandled(taskID, string(kind), string(action), outcome.String()))
}

// taskFailure routes a failure of the active task through the taxonomy and
// applies the outcome to st.
func taskFailure(ctx context.Context, rc *RunContext, st *workflow.State, task *workflow.Task, kind failure.Kind, reason string) (decision, error) {
	outcome := decide(rc, st, task.ID, kind, task.RetryCount(kind), reason)

	switch outcome {
	case failure.OutcomeRetry:
		task.RecordRetry(kind)
		return again, nil
	case failure.OutcomeContinue:
		if kind != failure.KindPreExistingFailure {
			rc.logger().Warn("continuing past failure", zap.Int("task_id", task.ID), zap.String("kind", string(kind)))
		}
		return proceed, nil
	case failure.OutcomePause:
		raiseCheckpoint(rc, st, []string{string(kind)}, fmt.Sprintf("Task #%d: %s", task.ID, reason))
		return proceed, errPaused
	case failure.OutcomeStop:
		return proceed, stopWithDiff(ctx, rc, st, task, reason)
	default:
		return proceed, escalate(rc, st, task, reason)
	}
}

// phaseFailure routes a failure outside any task. A phase cannot pause or
// show a diff, so those outcomes halt the run; the next run retries the
// phase.
func phaseFailure(rc *RunContext, st *workflow.State, kind failure.Kind, reason string) (decision, error) {
	outcome := decide(rc, st, 0, kind, st.PhaseRetries[kind], reason)

	switch outcome {
	case failure.OutcomeRetry:
		st.RecordPhaseRetry(kind)
		return again, nil
	case failure.OutcomeContinue:
		rc.logger().Warn("continuing past failure", zap.String("phase", string(st.Phase)), zap.String("kind", string(kind)))
		return proceed, nil
	default:
		// Pause, stop and escalate all halt here.
		return proceed, halt(st, fmt.Sprintf("%s: %s", st.Phase, reason))
	}
}

// halt records a user-visible error and returns ErrHalted.
func halt(st *workflow.State, reason string) error {
	st.Error = reason
	return ErrHalted
}

// escalate hands the task to the operator. The task becomes terminal and the
// next run continues with the following task.
func escalate(rc *RunContext, st *workflow.State, task *workflow.Task, reason string) error {
	task.Status = workflow.TaskEscalated
	if st.Current() != nil && st.Current().ID == task.ID {
		st.ActiveTask++
	}

	rc.logger().Warn("task escalated", zap.Int("task_id", task.ID), zap.String("reason", reason))
	rc.logProgress(rc.Progress.TaskEscalated(task.ID, reason))
	return halt(st, fmt.Sprintf("task #%d %q escalated: %s", task.ID, task.Title, reason))
}

// stopWithDiff halts with the changes made since the task's checkpoint. The
// task keeps its status so the next run retries it.
func stopWithDiff(ctx context.Context, rc *RunContext, st *workflow.State, task *workflow.Task, reason string) error {
	msg := fmt.Sprintf("task #%d %q stopped: %s", task.ID, task.Title, reason)
	if rc.SCM != nil && task.Checkpoint != "" {
		diff, err := rc.SCM.DiffSince(ctx, rc.Dir, task.Checkpoint)
		if err != nil {
			rc.logger().Warn("failed to compute diff", zap.Int("task_id", task.ID), zap.Error(err))
		} else if diff != "" {
			msg += "\n\nChanges since " + task.Checkpoint + ":\n" + diff
		}
	}
	return halt(st, msg)
}
