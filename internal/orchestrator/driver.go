package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pablasso/forge/internal/checkpoint"
	"github.com/pablasso/forge/internal/workflow"
)

// Driver runs phases until the workflow is done or suspends.
type Driver struct {
	rc *RunContext
}

// NewDriver creates a driver for rc.
func NewDriver(rc *RunContext) *Driver {
	return &Driver{rc: rc}
}

// Run drives st until it reaches done, waits for input or halts. The returned
// state is the latest persisted state. A cancelled context returns the state
// as last persisted together with the context error.
func (d *Driver) Run(ctx context.Context, st *workflow.State) (*workflow.State, error) {
	return d.run(ctx, st, false)
}

// Step runs exactly one phase.
func (d *Driver) Step(ctx context.Context, st *workflow.State) (*workflow.State, error) {
	return d.run(ctx, st, true)
}

func (d *Driver) run(ctx context.Context, st *workflow.State, once bool) (*workflow.State, error) {
	rc := d.rc
	log := rc.logger().With(zap.String("run_id", st.RunID))
	progress := rc.Progress
	if progress != nil {
		progress = progress.ForRun(st.RunID)
	}
	prc := *rc
	prc.Logger = log
	prc.Progress = progress

	st.Error = ""
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if st.Phase == workflow.PhaseDone {
			return st, nil
		}

		if st.Pending != nil && !st.Pending.Answered() {
			answered, err := d.prompt(ctx, &prc, st)
			if err != nil {
				return st, err
			}
			if !answered {
				return st, ErrAwaitingInput
			}
			if err := d.save(&prc, st); err != nil {
				return st, err
			}
		}

		fn, ok := phases[st.Phase]
		if !ok {
			next := st.Clone()
			next.Error = fmt.Sprintf("unknown phase %q", st.Phase)
			if err := d.save(&prc, next); err != nil {
				return st, err
			}
			return next, fmt.Errorf("%w: %s", ErrHalted, next.Error)
		}

		from := st.Phase
		log.Info("phase started", zap.String("phase", string(from)), zap.Int("active_task", st.ActiveTask))
		prc.logProgress(progress.PhaseStarted(from))

		next, err := fn(ctx, &prc, st.Clone())
		if ctxErr := ctx.Err(); ctxErr != nil {
			log.Info("run cancelled", zap.String("phase", string(from)))
			return st, ctxErr
		}

		halted := err != nil
		if next == nil || (halted && !errors.Is(err, ErrHalted)) {
			// Unexpected errors discard the phase's work.
			next = st.Clone()
			if err != nil {
				next.Error = fmt.Sprintf("%s: %v", from, err)
			}
		}
		if next.Phase != from {
			next.PhaseRetries = nil
		}
		if err := d.save(&prc, next); err != nil {
			return st, err
		}
		st = next
		rc.renderer().Render(st)

		if halted {
			log.Warn("workflow halted", zap.String("phase", string(st.Phase)), zap.String("reason", st.Error))
			prc.logProgress(progress.WorkflowHalted(st.Phase, st.Error))
			return st, fmt.Errorf("%w: %s", ErrHalted, st.Error)
		}

		log.Info("phase completed",
			zap.String("phase", string(from)),
			zap.String("next", string(st.Phase)),
			zap.Float64("spent_usd", st.SpentUSD),
		)
		prc.logProgress(progress.PhaseCompleted(from, st.Phase))
		if once {
			return st, nil
		}
	}
}

// prompt asks the interactor to answer the pending interaction. It reports
// false when nobody can answer.
func (d *Driver) prompt(ctx context.Context, rc *RunContext, st *workflow.State) (bool, error) {
	if rc.Interactor == nil {
		return false, nil
	}

	var answer string
	var err error
	if st.Pending.Purpose == workflow.PurposeCheckpoint {
		answer, err = rc.Interactor.PresentCheckpoint(ctx, CheckpointSummary(st))
	} else {
		answer, err = rc.Interactor.Ask(ctx, st.Pending)
	}
	// An interrupted prompt leaves the interaction unanswered.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	if err == nil && answer == "" && st.Pending.Purpose == workflow.PurposeCheckpoint {
		answer = string(checkpoint.ResolutionContinue)
	}
	if err != nil {
		rc.logger().Warn("prompt failed", zap.Error(err))
		if st.Pending.Purpose != workflow.PurposeCheckpoint {
			return false, nil
		}
		answer = string(checkpoint.ResolutionContinue)
	}
	if answer == "" {
		return false, nil
	}

	if err := st.Answer(answer); err != nil {
		if st.Pending.Purpose != workflow.PurposeCheckpoint {
			rc.logger().Warn("rejected answer", zap.String("answer", answer), zap.Error(err))
			return false, nil
		}
		if err := st.Answer(string(checkpoint.ResolutionContinue)); err != nil {
			return false, err
		}
	}
	rc.logger().Info("interaction answered",
		zap.String("purpose", st.Pending.Purpose),
		zap.String("answer", answer),
	)
	return true, nil
}

func (d *Driver) save(rc *RunContext, st *workflow.State) error {
	st.UpdatedAt = rc.now()
	if rc.Store == nil {
		return nil
	}
	if err := rc.Store.Save(st); err != nil {
		return fmt.Errorf("failed to save workflow state: %w", err)
	}
	return nil
}
