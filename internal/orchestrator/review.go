package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/pablasso/forge/internal/config"
	"github.com/pablasso/forge/internal/dispatch"
	"github.com/pablasso/forge/internal/failure"
	"github.com/pablasso/forge/internal/review"
	"github.com/pablasso/forge/internal/workflow"
)

// reviewOutcome is one reviewer's final answer for an iteration.
type reviewOutcome struct {
	reviewer config.ReviewerConfig
	index    int
	result   review.Result
	costUSD  float64

	// accepted is set when an inconclusive verdict was let through by the
	// parse-error policy.
	accepted bool

	// decisions are the parse-error outcomes taken, in order.
	decisions []failure.Outcome
	action    failure.Action
	err       error
}

func (o reviewOutcome) approved() bool {
	return o.result.Passed() || o.accepted
}

// reviewRound is what the execute loop needs from one round of reviews.
type reviewRound struct {
	passed   bool
	feedback string
}

// runReviews dispatches every reviewer for task. Optional reviewers run
// concurrently and are advisory. Required reviewers run one after another and
// the first rejection ends the gate. Nothing on st is touched until all
// reviewers have reported.
func runReviews(ctx context.Context, rc *RunContext, st *workflow.State, task *workflow.Task) (reviewRound, error) {
	cfg := st.Config
	parseAction := failure.Lookup(failure.KindParseError, overrides(rc, st))
	prior := task.RetryCount(failure.KindParseError)

	p := pool.NewWithResults[reviewOutcome]().WithContext(ctx)
	for i, r := range cfg.OptionalReviewers() {
		p.Go(func(ctx context.Context) (reviewOutcome, error) {
			out := runReviewer(ctx, rc, st, task, r, parseAction, prior)
			out.index = i
			return out, ctx.Err()
		})
	}

	var required []reviewOutcome
	for _, r := range cfg.RequiredReviewers() {
		out := runReviewer(ctx, rc, st, task, r, parseAction, prior)
		required = append(required, out)
		if ctx.Err() != nil || !out.approved() {
			break
		}
	}

	optional, err := p.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return reviewRound{}, ctxErr
	}
	if err != nil {
		return reviewRound{}, err
	}
	sort.Slice(optional, func(i, j int) bool { return optional[i].index < optional[j].index })

	return collectReviews(rc, st, task, append(required, optional...), prior), nil
}

// runReviewer dispatches one reviewer, re-dispatching it while the parse-error
// policy grants retries. It must not modify st or task.
func runReviewer(ctx context.Context, rc *RunContext, st *workflow.State, task *workflow.Task, r config.ReviewerConfig, parseAction failure.Action, prior int) reviewOutcome {
	out := reviewOutcome{reviewer: r, action: parseAction}
	req := dispatch.Request{
		Profile: r.Profile(),
		Prompt:  reviewPrompt(st, task, r),
		Dir:     workDir(rc, st.Config),
		OnEvent: rc.renderer().Event,
	}

	retries := 0
	for {
		res, err := rc.Dispatcher.Dispatch(ctx, req)
		if err != nil {
			out.err = err
			out.result = review.Result{
				Verdict:    review.VerdictInconclusive,
				ParseError: fmt.Sprintf("reviewer could not run: %v", err),
			}
			return out
		}
		out.costUSD += res.CostUSD
		out.result = review.Parse(res.Text())
		if out.result.Verdict != review.VerdictInconclusive {
			return out
		}

		outcome := failure.Decide(parseAction, prior+retries)
		out.decisions = append(out.decisions, outcome)
		if outcome == failure.OutcomeRetry {
			retries++
			continue
		}
		out.accepted = outcome == failure.OutcomeContinue
		return out
	}
}

// collectReviews applies the outcomes to st in reviewer order.
func collectReviews(rc *RunContext, st *workflow.State, task *workflow.Task, outcomes []reviewOutcome, prior int) reviewRound {
	round := reviewRound{passed: true}
	var feedback strings.Builder
	task.PassedReviews = []string{}
	task.FailedReviews = []string{}

	for _, out := range outcomes {
		name := out.reviewer.Name
		st.AddSpend(out.costUSD)
		task.CostUSD += out.costUSD

		for _, d := range out.decisions {
			recordDecision(rc, task.ID, failure.KindParseError, out.action, d, prior, fmt.Sprintf("reviewer %s: %s", name, out.result.ParseError))
			if d == failure.OutcomeRetry {
				task.RecordRetry(failure.KindParseError)
				prior++
			}
		}
		if out.err != nil {
			rc.logger().Warn("reviewer dispatch failed", zap.String("reviewer", name), zap.Error(out.err))
		}

		verdict := string(out.result.Verdict)
		rc.logger().Info("review verdict",
			zap.Int("task_id", task.ID),
			zap.String("reviewer", name),
			zap.String("verdict", verdict),
			zap.Bool("required", out.reviewer.Required),
			zap.Float64("cost_usd", out.costUSD),
		)
		rc.logProgress(rc.Progress.ReviewVerdict(task.ID, name, verdict, out.reviewer.Required))

		if out.approved() {
			task.PassedReviews = append(task.PassedReviews, name)
			continue
		}
		task.FailedReviews = append(task.FailedReviews, name)
		if out.reviewer.Required {
			round.passed = false
		} else {
			feedback.WriteString("(advisory) ")
		}
		feedback.WriteString(out.result.Feedback(name))
		feedback.WriteString("\n")
	}

	round.feedback = strings.TrimSpace(feedback.String())
	return round
}
