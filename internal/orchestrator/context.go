// Package orchestrator drives a workflow through its phases: planning, plan
// review, configuration, task execution, batch planning and finalization.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pablasso/forge/internal/checkpoint"
	"github.com/pablasso/forge/internal/config"
	"github.com/pablasso/forge/internal/dispatch"
	"github.com/pablasso/forge/internal/plan"
	"github.com/pablasso/forge/internal/regression"
	"github.com/pablasso/forge/internal/workflow"
)

var (
	// ErrAwaitingInput is returned when a pending interaction has no response
	// and no interactive presenter is attached.
	ErrAwaitingInput = errors.New("workflow is waiting for input")

	// ErrHalted is returned when a phase stopped the run and recorded a
	// user-visible error on the state.
	ErrHalted = errors.New("workflow halted")
)

// SourceControl answers revision questions about the project.
type SourceControl interface {
	Head(dir string) (string, error)
	Branch(dir string) (string, error)
	DiffSince(ctx context.Context, dir, revision string) (string, error)
}

// Interactor presents prompts to an operator. An empty answer means the
// operator made no decision.
type Interactor interface {
	PresentCheckpoint(ctx context.Context, summary checkpoint.Summary) (string, error)
	Ask(ctx context.Context, prompt *workflow.PendingInteraction) (string, error)
}

// Renderer shows progress while the workflow runs.
type Renderer interface {
	Render(st *workflow.State)
	Step(st *workflow.State, iteration int, step string)
	Event(ev dispatch.Event)
}

// RunContext carries everything one workflow run needs. Nothing in this
// package keeps process-wide state, so independent runs can share a process.
//
// Config is the live configuration. The planning phases read it directly;
// the configure phase freezes a copy onto the state and later phases only
// read that snapshot.
type RunContext struct {
	Config     config.Config
	Dispatcher dispatch.Dispatcher
	Tests      regression.Runner
	Plans      plan.Parser
	SCM        SourceControl
	Interactor Interactor // nil when running without a terminal
	Renderer   Renderer
	Store      *workflow.Store
	Progress   *workflow.ProgressLogger
	Logger     *zap.Logger
	Dir        string
	Now        func() time.Time
}

func (rc *RunContext) logger() *zap.Logger {
	if rc.Logger == nil {
		return zap.NewNop()
	}
	return rc.Logger
}

func (rc *RunContext) renderer() Renderer {
	if rc.Renderer == nil {
		return nopRenderer{}
	}
	return rc.Renderer
}

func (rc *RunContext) now() time.Time {
	if rc.Now == nil {
		return time.Now()
	}
	return rc.Now()
}

func (rc *RunContext) parser() plan.Parser {
	if rc.Plans == nil {
		return plan.DefaultParser()
	}
	return rc.Plans
}

// logProgress appends to the progress log. The log is advisory; a write
// failure is recorded in the debug log and otherwise ignored.
func (rc *RunContext) logProgress(err error) {
	if err != nil {
		rc.logger().Warn("failed to write progress event", zap.Error(err))
	}
}

type nopRenderer struct{}

func (nopRenderer) Render(*workflow.State)            {}
func (nopRenderer) Step(*workflow.State, int, string) {}
func (nopRenderer) Event(dispatch.Event)              {}
