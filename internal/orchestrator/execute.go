package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/pablasso/forge/internal/config"
	"github.com/pablasso/forge/internal/dispatch"
	"github.com/pablasso/forge/internal/failure"
	"github.com/pablasso/forge/internal/regression"
	"github.com/pablasso/forge/internal/workflow"
)

// execute runs the active task to completion, escalation or a halt. Each call
// finishes at most one task so the driver persists after every task; the
// phase stays execute until no open task remains.
func execute(ctx context.Context, rc *RunContext, st *workflow.State) (*workflow.State, error) {
	if answer, ok := st.TakeResponse(workflow.PurposeCheckpoint); ok {
		resolveCheckpoint(rc, st, answer)
		if st.Aborted {
			st.Phase = workflow.PhaseFinalize
			return st, nil
		}
	}

	st.ActiveTask = firstOpen(st)
	task := st.Current()
	if task == nil {
		if len(st.Batches) > 0 {
			st.Phase = workflow.PhasePlanWrite
		} else {
			st.Phase = workflow.PhaseFinalize
		}
		return st, nil
	}

	testsFailing, err := runTask(ctx, rc, st, task)
	if errors.Is(err, errPaused) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	return st, evaluateCheckpoint(rc, st, task.ID, testsFailing)
}

// runTask loops implement, test and review until the task completes or a
// failure policy ends the loop. It reports whether tests were still failing
// when the task completed.
func runTask(ctx context.Context, rc *RunContext, st *workflow.State, task *workflow.Task) (bool, error) {
	cfg := st.Config
	maxIterations := cfg.Execution.MaxIterations
	if maxIterations < 1 {
		maxIterations = 1
	}

	if task.Checkpoint == "" && rc.SCM != nil {
		rev, err := rc.SCM.Head(rc.Dir)
		if err != nil {
			rc.logger().Warn("failed to read checkpoint revision", zap.Int("task_id", task.ID), zap.Error(err))
		}
		task.Checkpoint = rev
	}

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		iteration := task.FixAttempts + 1
		step := "implementing"
		task.Status = workflow.TaskImplementing
		if task.Feedback != "" {
			step = "fixing"
			task.Status = workflow.TaskFixing
		}
		rc.renderer().Step(st, iteration, step)
		rc.logger().Info("task started",
			zap.Int("task_id", task.ID),
			zap.String("title", task.Title),
			zap.Int("iteration", iteration),
		)
		rc.logProgress(rc.Progress.TaskStarted(task.ID, iteration))

		d, err := implement(ctx, rc, st, task, iteration, maxIterations)
		if err != nil {
			return false, err
		}
		if d == again {
			continue
		}

		rc.renderer().Step(st, iteration, "testing")
		d, run, err := checkTests(ctx, rc, st, task)
		if err != nil {
			return false, err
		}
		if d == again {
			continue
		}

		task.Status = workflow.TaskReviewing
		rc.renderer().Step(st, iteration, "reviewing")
		round, err := runReviews(ctx, rc, st, task)
		if err != nil {
			return false, err
		}
		if round.passed {
			advanceBaseline(rc, st, task, run)
			completeTask(rc, st, task)
			return run.failing, nil
		}

		task.FixAttempts++
		task.Feedback = round.feedback
		if task.FixAttempts < maxIterations {
			continue
		}

		reason := fmt.Sprintf("reviews still failing after %d iterations (%s)", task.FixAttempts, strings.Join(task.FailedReviews, ", "))
		d, err = taskFailure(ctx, rc, st, task, failure.KindReviewMaxRetries, reason)
		if err != nil {
			return false, err
		}
		if d == proceed {
			advanceBaseline(rc, st, task, run)
			completeTask(rc, st, task)
			return run.failing, nil
		}
	}
}

// implement dispatches the implementer and maps a bad exit to a failure kind.
func implement(ctx context.Context, rc *RunContext, st *workflow.State, task *workflow.Task, iteration, maxIterations int) (decision, error) {
	res, err := rc.Dispatcher.Dispatch(ctx, dispatch.Request{
		Profile: st.Config.Agents.Implementer,
		Prompt:  implementPrompt(st, task, iteration, maxIterations),
		Dir:     workDir(rc, st.Config),
		OnEvent: rc.renderer().Event,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return proceed, ctxErr
		}
		return taskFailure(ctx, rc, st, task, failure.KindImplementationCrash, fmt.Sprintf("implementer could not start: %v", err))
	}
	account(rc, st, task, st.Config.Agents.Implementer, res)

	switch {
	case res.StopReason == dispatch.StopTimeout:
		return taskFailure(ctx, rc, st, task, failure.KindToolTimeout, "implementer timed out")
	case !res.Succeeded():
		return taskFailure(ctx, rc, st, task, failure.KindImplementationCrash,
			fmt.Sprintf("implementer exited with code %d (%s)", res.ExitCode, res.StopReason))
	default:
		return proceed, nil
	}
}

// testRun is the settled outcome of one suite snapshot. Results has flaky
// tests marked as passing.
type testRun struct {
	results []regression.TestResult
	failing bool
}

// checkTests snapshots the suite and classifies it against the baseline. New
// failures are re-run once, unless configured otherwise, to separate flakes
// from regressions.
func checkTests(ctx context.Context, rc *RunContext, st *workflow.State, task *workflow.Task) (decision, testRun, error) {
	if rc.Tests == nil {
		return proceed, testRun{}, nil
	}
	cfg := st.Config
	dir := workDir(rc, cfg)

	results, err := rc.Tests.Run(ctx, dir)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return proceed, testRun{}, ctxErr
		}
		d, err := taskFailure(ctx, rc, st, task, failure.KindValidationFailure, fmt.Sprintf("test run failed: %v", err))
		return d, testRun{}, err
	}

	var base regression.Baseline
	if st.Baseline != nil {
		base = *st.Baseline
	}
	c := regression.Classify(results, base, cfg.Tests.FlakePolicy)

	confirmed, flaky := c.NewFailures, []regression.TestResult{}
	if c.HasNewFailures() && !cfg.Tests.SkipRerun {
		rerun, err := rc.Tests.Run(ctx, dir)
		switch {
		case ctx.Err() != nil:
			return proceed, testRun{}, ctx.Err()
		case err != nil:
			rc.logger().Warn("test rerun failed", zap.Int("task_id", task.ID), zap.Error(err))
		default:
			rec := regression.Reconcile(c, rerun)
			confirmed, flaky = rec.Confirmed, rec.Flaky
		}
	}

	rc.logger().Info("tests classified",
		zap.Int("task_id", task.ID),
		zap.Int("new_failures", len(confirmed)),
		zap.Int("pre_existing", len(c.PreExisting)),
		zap.Int("flake_candidates", len(c.FlakeCandidates)),
		zap.Int("flaky", len(flaky)),
		zap.Int("newly_fixed", len(c.NewlyFixed)),
	)
	rc.logProgress(rc.Progress.TestsClassified(task.ID, len(confirmed), len(c.PreExisting), len(flaky), len(c.NewlyFixed)))

	run := testRun{
		results: settle(results, flaky),
		failing: len(confirmed)+len(c.PreExisting) > 0,
	}

	if len(c.PreExisting) > 0 {
		reason := "failing before the task started: " + strings.Join(regression.Names(c.PreExisting), ", ")
		if d, err := taskFailure(ctx, rc, st, task, failure.KindPreExistingFailure, reason); err != nil || d == again {
			return d, run, err
		}
	}
	if len(flaky) > 0 {
		reason := "passed on rerun: " + strings.Join(regression.Names(flaky), ", ")
		if d, err := taskFailure(ctx, rc, st, task, failure.KindTestFlake, reason); err != nil || d == again {
			return d, run, err
		}
	}
	if len(confirmed) > 0 {
		task.Feedback = regressionFeedback(confirmed)
		reason := "new test failures: " + strings.Join(regression.Names(confirmed), ", ")
		d, err := taskFailure(ctx, rc, st, task, failure.KindTestRegression, reason)
		return d, run, err
	}
	return proceed, run, nil
}

// settle copies results with every flaky test marked as passing.
func settle(results, flaky []regression.TestResult) []regression.TestResult {
	if len(flaky) == 0 {
		return results
	}
	passed := make(map[string]bool, len(flaky))
	for _, f := range flaky {
		passed[f.Name] = true
	}
	out := make([]regression.TestResult, len(results))
	for i, r := range results {
		if passed[r.Name] {
			r.Passed = true
			r.Failure = ""
		}
		out[i] = r
	}
	return out
}

// advanceBaseline makes the task's final snapshot the baseline the next task
// is classified against.
func advanceBaseline(rc *RunContext, st *workflow.State, task *workflow.Task, run testRun) {
	if run.results == nil {
		return
	}
	rev := ""
	if st.Baseline != nil {
		rev = st.Baseline.Revision
	}
	if rc.SCM != nil {
		head, err := rc.SCM.Head(rc.Dir)
		if err != nil {
			rc.logger().Warn("failed to read baseline revision", zap.Int("task_id", task.ID), zap.Error(err))
		} else if head != "" {
			rev = head
		}
	}
	base := regression.NewBaseline(rev, rc.now(), run.results)
	st.Baseline = &base
	rc.logger().Debug("baseline advanced",
		zap.Int("task_id", task.ID),
		zap.String("revision", rev),
		zap.Int("known_failing", len(base.KnownFailing)),
	)
}

func regressionFeedback(failures []regression.TestResult) string {
	var sb strings.Builder
	sb.WriteString("These tests passed before this task and fail now:\n")
	for _, f := range failures {
		sb.WriteString("- " + f.Name + "\n")
		if f.Failure != "" {
			for _, line := range strings.Split(strings.TrimRight(f.Failure, "\n"), "\n") {
				sb.WriteString("    " + line + "\n")
			}
		}
	}
	return sb.String()
}

func completeTask(rc *RunContext, st *workflow.State, task *workflow.Task) {
	task.Status = workflow.TaskComplete
	task.Feedback = ""
	if cur := st.Current(); cur != nil && cur.ID == task.ID {
		st.ActiveTask++
	}

	rc.logger().Info("task completed",
		zap.Int("task_id", task.ID),
		zap.Int("fix_attempts", task.FixAttempts),
		zap.Float64("cost_usd", task.CostUSD),
		zap.Float64("spent_usd", st.SpentUSD),
	)
	rc.logProgress(rc.Progress.TaskCompleted(task.ID, task.CostUSD))
}

// account adds the cost of a dispatch to the run and, when task is set, to
// the task.
func account(rc *RunContext, st *workflow.State, task *workflow.Task, profile config.AgentProfile, res dispatch.Result) {
	st.AddSpend(res.CostUSD)
	if task != nil && res.CostUSD > 0 {
		task.CostUSD += res.CostUSD
	}
	rc.logger().Info("agent finished",
		zap.String("profile", profile.Name),
		zap.Int("exit_code", res.ExitCode),
		zap.String("stop_reason", string(res.StopReason)),
		zap.Int64("input_tokens", res.InputTokens),
		zap.Int64("output_tokens", res.OutputTokens),
		zap.Float64("cost_usd", res.CostUSD),
		zap.Float64("spent_usd", st.SpentUSD),
	)
}

// workDir resolves the configured working directory against the project.
func workDir(rc *RunContext, cfg config.Config) string {
	wd := cfg.Execution.WorkDir
	switch {
	case wd == "" || wd == ".":
		return rc.Dir
	case filepath.IsAbs(wd):
		return wd
	default:
		return filepath.Join(rc.Dir, wd)
	}
}
