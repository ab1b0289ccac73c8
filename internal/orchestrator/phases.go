package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pablasso/forge/internal/analysis"
	"github.com/pablasso/forge/internal/config"
	"github.com/pablasso/forge/internal/dispatch"
	"github.com/pablasso/forge/internal/failure"
	"github.com/pablasso/forge/internal/plan"
	"github.com/pablasso/forge/internal/regression"
	"github.com/pablasso/forge/internal/workflow"
)

// phaseFunc transforms a copy of the state. The driver adopts the returned
// state only when the phase returns without a cancelled context.
type phaseFunc func(ctx context.Context, rc *RunContext, st *workflow.State) (*workflow.State, error)

// phases maps every non-terminal phase to its function.
var phases = map[workflow.Phase]phaseFunc{
	workflow.PhasePlanDraft:  planDraft,
	workflow.PhasePlanReview: planReview,
	workflow.PhaseConfigure:  configure,
	workflow.PhaseExecute:    execute,
	workflow.PhasePlanWrite:  planWrite,
	workflow.PhaseFinalize:   finalize,
}

// Plan review choices.
const (
	choiceApprove = "approve"
	choiceRevise  = "revise"
	choiceAbort   = "abort"
)

// planDraft produces the task list, either from plan text supplied at load
// time or by dispatching the planner.
func planDraft(ctx context.Context, rc *RunContext, st *workflow.State) (*workflow.State, error) {
	if st.PlanText != "" && st.PlanFeedback == "" {
		if parsed := rc.parser().Parse(st.PlanText); !parsed.IsEmpty() {
			adoptPlan(rc, st, st.PlanText, parsed)
			return st, nil
		}
		rc.logger().Warn("supplied plan has no tasks, asking the planner")
	}

	for {
		res, err := dispatchPhaseAgent(ctx, rc, st, rc.Config.Agents.Planner, planPrompt(st))
		if err != nil {
			return st, err
		}
		if !res.Succeeded() {
			kind, reason := dispatchFailure("planner", res)
			d, err := phaseFailure(rc, st, kind, reason)
			if err != nil {
				return st, err
			}
			if d == again {
				continue
			}
		}

		text := res.Text()
		parsed := rc.parser().Parse(text)
		if parsed.IsEmpty() {
			d, err := phaseFailure(rc, st, failure.KindValidationFailure, "planner output contained no tasks")
			if err != nil {
				return st, err
			}
			if d == again {
				continue
			}
			return st, halt(st, "plan-draft: planner output contained no tasks")
		}

		adoptPlan(rc, st, text, parsed)
		return st, nil
	}
}

func adoptPlan(rc *RunContext, st *workflow.State, text string, parsed plan.Parsed) {
	st.PlanText = text
	st.PlanFeedback = ""
	st.Tasks = plan.Renumber(parsed.Tasks, 1)
	st.Batches = parsed.Batches
	st.ActiveTask = 0
	st.Phase = workflow.PhasePlanReview

	rc.logger().Info("plan drafted",
		zap.Int("tasks", len(st.Tasks)),
		zap.Int("batches", len(st.Batches)),
		zap.Int("revision", st.PlanRevisions),
	)
}

// planReview asks the operator to approve, revise or abort the plan.
func planReview(_ context.Context, rc *RunContext, st *workflow.State) (*workflow.State, error) {
	if rc.Config.Plan.AutoApprove {
		st.Phase = workflow.PhaseConfigure
		return st, nil
	}

	answer, ok := st.TakeResponse(workflow.PurposePlanReview)
	if !ok {
		st.Pending = workflow.NewInteraction(workflow.InteractionChoice, workflow.PurposePlanReview,
			planSummary(st), choiceApprove, choiceRevise, choiceAbort)
		return st, nil
	}

	choice, detail := workflow.SplitResponse(answer)
	switch choice {
	case choiceApprove:
		st.Phase = workflow.PhaseConfigure
	case choiceAbort:
		st.Aborted = true
		st.Phase = workflow.PhaseDone
		rc.logger().Info("plan rejected")
	case choiceRevise:
		if st.PlanRevisions >= rc.Config.Plan.MaxRevisions {
			st.Pending = workflow.NewInteraction(workflow.InteractionChoice, workflow.PurposePlanReview,
				planSummary(st), choiceApprove, choiceAbort)
			return st, halt(st, fmt.Sprintf("plan revision limit of %d reached; approve or abort the plan", rc.Config.Plan.MaxRevisions))
		}
		st.PlanRevisions++
		st.PlanFeedback = detail
		if st.PlanFeedback == "" {
			st.PlanFeedback = "Revise the plan."
		}
		st.Tasks = nil
		st.Batches = nil
		st.Phase = workflow.PhasePlanDraft
	default:
		st.Pending = workflow.NewInteraction(workflow.InteractionChoice, workflow.PurposePlanReview,
			planSummary(st), choiceApprove, choiceRevise, choiceAbort)
	}
	return st, nil
}

func planSummary(st *workflow.State) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Review the plan (%d tasks", len(st.Tasks)))
	if len(st.Batches) > 0 {
		sb.WriteString(fmt.Sprintf(", %d later batches", len(st.Batches)))
	}
	sb.WriteString("):\n")
	for _, t := range st.Tasks {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", t.ID, t.Title))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// configure freezes the configuration and captures the test baseline and
// source-control metadata the execute phase compares against.
func configure(ctx context.Context, rc *RunContext, st *workflow.State) (*workflow.State, error) {
	st.Config = rc.Config.Clone()

	var head, branch string
	if rc.SCM != nil {
		var err error
		if head, err = rc.SCM.Head(rc.Dir); err != nil {
			rc.logger().Warn("failed to read HEAD", zap.Error(err))
		}
		if branch, err = rc.SCM.Branch(rc.Dir); err != nil {
			rc.logger().Warn("failed to read branch", zap.Error(err))
		}
	}
	st.SourceControl = workflow.SourceControl{Branch: branch, BaseRevision: head}

	var results []regression.TestResult
	for rc.Tests != nil {
		var err error
		results, err = rc.Tests.Run(ctx, workDir(rc, st.Config))
		if err == nil {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return st, ctxErr
		}
		d, err := phaseFailure(rc, st, failure.KindValidationFailure, fmt.Sprintf("baseline test run failed: %v", err))
		if err != nil {
			return st, err
		}
		if d == proceed {
			results = nil
			break
		}
	}

	baseline := regression.NewBaseline(head, rc.now(), results)
	st.Baseline = &baseline
	if len(baseline.KnownFailing) > 0 {
		decide(rc, st, 0, failure.KindPreExistingFailure, 0,
			"baseline failures: "+strings.Join(baseline.KnownFailing, ", "))
	}

	rc.logger().Info("workflow configured",
		zap.String("branch", branch),
		zap.String("revision", head),
		zap.Int("baseline_tests", len(baseline.Results)),
		zap.Int("baseline_failing", len(baseline.KnownFailing)),
	)

	st.ActiveTask = firstOpen(st)
	st.Phase = workflow.PhaseExecute
	return st, nil
}

// planWrite turns the next deferred batch into tasks appended to the plan.
func planWrite(ctx context.Context, rc *RunContext, st *workflow.State) (*workflow.State, error) {
	if len(st.Batches) == 0 {
		st.Phase = workflow.PhaseFinalize
		return st, nil
	}
	batch := st.Batches[0]

	for {
		res, err := dispatchPhaseAgent(ctx, rc, st, st.Config.Agents.Planner, batchPrompt(st, batch))
		if err != nil {
			return st, err
		}
		if !res.Succeeded() {
			kind, reason := dispatchFailure("planner", res)
			d, err := phaseFailure(rc, st, kind, reason)
			if err != nil {
				return st, err
			}
			if d == again {
				continue
			}
		}

		parsed := rc.parser().Parse(res.Text())
		if parsed.IsEmpty() {
			d, err := phaseFailure(rc, st, failure.KindValidationFailure, fmt.Sprintf("batch %q produced no tasks", batch.Title))
			if err != nil {
				return st, err
			}
			if d == again {
				continue
			}
			rc.logger().Warn("skipping empty batch", zap.String("batch", batch.Title))
		}

		first := st.NextTaskID()
		st.Tasks = append(st.Tasks, plan.Renumber(parsed.Tasks, first)...)
		st.Batches = st.Batches[1:]
		st.ActiveTask = firstOpen(st)
		st.Phase = workflow.PhaseExecute

		rc.logger().Info("batch planned",
			zap.String("batch", batch.Title),
			zap.Int("tasks", len(parsed.Tasks)),
			zap.Int("first_task_id", first),
			zap.Int("batches_left", len(st.Batches)),
		)
		return st, nil
	}
}

// finalize dispatches the finalizer and records the run report.
func finalize(ctx context.Context, rc *RunContext, st *workflow.State) (*workflow.State, error) {
	if !st.Aborted && st.CountStatus(workflow.TaskComplete) > 0 {
		res, err := dispatchPhaseAgent(ctx, rc, st, st.Config.Agents.Finalizer, finalizePrompt(st))
		if err != nil {
			return st, err
		}
		if !res.Succeeded() {
			rc.logger().Warn("finalizer did not complete",
				zap.Int("exit_code", res.ExitCode),
				zap.String("stop_reason", string(res.StopReason)),
			)
		}
	}

	var progressPath string
	if rc.Progress != nil {
		progressPath = rc.Progress.Path()
	}
	report, err := analysis.NewAnalyzer(progressPath, st).Report()
	if err != nil {
		rc.logger().Warn("failed to build run report", zap.Error(err))
	}
	st.Report = report
	st.Phase = workflow.PhaseDone
	return st, nil
}

// dispatchPhaseAgent runs an agent that is not tied to a task. A dispatch
// that could not start is reported as a crash result.
func dispatchPhaseAgent(ctx context.Context, rc *RunContext, st *workflow.State, profile config.AgentProfile, prompt string) (dispatch.Result, error) {
	res, err := rc.Dispatcher.Dispatch(ctx, dispatch.Request{
		Profile: profile,
		Prompt:  prompt,
		Dir:     workDir(rc, rc.Config),
		OnEvent: rc.renderer().Event,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return dispatch.Result{}, ctxErr
		}
		return dispatch.Result{ExitCode: -1, StopReason: dispatch.StopError, Stderr: err.Error()}, nil
	}
	account(rc, st, nil, profile, res)
	return res, nil
}

func dispatchFailure(agent string, res dispatch.Result) (failure.Kind, string) {
	if res.StopReason == dispatch.StopTimeout {
		return failure.KindToolTimeout, agent + " timed out"
	}
	reason := fmt.Sprintf("%s exited with code %d (%s)", agent, res.ExitCode, res.StopReason)
	if res.Stderr != "" {
		reason += ": " + strings.TrimSpace(res.Stderr)
	}
	return failure.KindImplementationCrash, reason
}
