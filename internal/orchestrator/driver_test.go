package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pablasso/forge/internal/config"
	"github.com/pablasso/forge/internal/dispatch"
	"github.com/pablasso/forge/internal/workflow"
)

func TestDriver_RunsToDone(t *testing.T) {
	h := newHarness(t, nil)

	st, err := h.run(h.newState())
	require.NoError(t, err)

	assert.Equal(t, workflow.PhaseDone, st.Phase)
	require.Len(t, st.Tasks, 2)
	for _, task := range st.Tasks {
		assert.Equal(t, workflow.TaskComplete, task.Status)
		assert.Equal(t, []string{"correctness", "style"}, task.PassedReviews)
		assert.Equal(t, "abc123", task.Checkpoint)
	}
	assert.InDelta(t, 0.5+2*1.3+0.25, st.SpentUSD, 1e-9)
	assert.Equal(t, "main", st.SourceControl.Branch)
	assert.Equal(t, "abc123", st.SourceControl.BaseRevision)
	require.NotNil(t, st.Baseline)
	assert.Len(t, st.Baseline.Results, 2)
	assert.Contains(t, st.Report, "Tasks: 2/2 complete, 0 skipped, 0 escalated")
	assert.Empty(t, st.Error)

	assert.Len(t, h.agents.callsFor("planner"), 1)
	assert.Len(t, h.agents.callsFor("implementer"), 2)
	assert.Len(t, h.agents.callsFor("finalizer"), 1)

	loaded := h.loaded()
	assert.Equal(t, workflow.PhaseDone, loaded.Phase)
	assert.Equal(t, st.RunID, loaded.RunID)
	assert.Equal(t, h.rc.now(), loaded.UpdatedAt.UTC())
}

func TestDriver_ProgressLogCoversRun(t *testing.T) {
	h := newHarness(t, nil)

	st, err := h.run(h.newState())
	require.NoError(t, err)

	counts := map[string]int{}
	for _, e := range h.progress() {
		assert.Equal(t, st.RunID, e.RunID)
		counts[e.Event]++
	}
	// plan-draft, plan-review, configure, execute x3, finalize
	assert.Equal(t, 7, counts[workflow.EventPhaseStarted])
	assert.Equal(t, 7, counts[workflow.EventPhaseCompleted])
	assert.Equal(t, 2, counts[workflow.EventTaskStarted])
	assert.Equal(t, 2, counts[workflow.EventTaskCompleted])
	assert.Equal(t, 4, counts[workflow.EventReviewVerdict])
	assert.Equal(t, 2, counts[workflow.EventTestsClassified])
	assert.Zero(t, counts[workflow.EventWorkflowHalted])
}

func TestDriver_RendersEveryPhaseAndStep(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.run(h.newState())
	require.NoError(t, err)

	assert.Len(t, h.renderer.renders, 7)
	assert.Equal(t, workflow.PhaseDone, h.renderer.renders[len(h.renderer.renders)-1])
	assert.Equal(t, []string{"implementing", "testing", "reviewing", "implementing", "testing", "reviewing"}, h.renderer.steps)
	assert.Positive(t, h.renderer.events)
}

func TestDriver_StepRunsOnePhase(t *testing.T) {
	h := newHarness(t, nil)

	st, err := NewDriver(h.rc).Step(context.Background(), h.newState())
	require.NoError(t, err)

	assert.Equal(t, workflow.PhasePlanReview, st.Phase)
	assert.Len(t, st.Tasks, 2)
	assert.Len(t, h.renderer.renders, 1)
	assert.Equal(t, workflow.PhasePlanReview, h.loaded().Phase)
}

func TestDriver_DoneIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	st := h.newState()
	st.Phase = workflow.PhaseDone

	out, err := h.run(st)
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseDone, out.Phase)
	assert.Empty(t, h.agents.callsFor("planner"))
	assert.False(t, h.store.Exists())
}

func TestDriver_UnknownPhaseHalts(t *testing.T) {
	h := newHarness(t, nil)
	st := h.newState()
	st.Phase = workflow.Phase("bogus")

	out, err := h.run(st)
	require.ErrorIs(t, err, ErrHalted)
	assert.Contains(t, out.Error, `unknown phase "bogus"`)
}

func TestDriver_AwaitsInputWithoutInteractor(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Plan.AutoApprove = false })

	st, err := h.run(h.newState())
	require.ErrorIs(t, err, ErrAwaitingInput)

	assert.Equal(t, workflow.PhasePlanReview, st.Phase)
	require.NotNil(t, st.Pending)
	assert.Equal(t, workflow.PurposePlanReview, st.Pending.Purpose)
	assert.Equal(t, []string{"approve", "revise", "abort"}, st.Pending.Options)
	assert.Contains(t, st.Pending.Prompt, "1. Token bucket")

	loaded := h.loaded()
	require.NotNil(t, loaded.Pending)
	assert.Equal(t, st.Pending.ID, loaded.Pending.ID)
}

func TestDriver_ResumesAfterAnswer(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Plan.AutoApprove = false })

	_, err := h.run(h.newState())
	require.ErrorIs(t, err, ErrAwaitingInput)

	st := h.loaded()
	require.NoError(t, st.Answer("approve"))

	st, err = h.run(st)
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseDone, st.Phase)
	assert.Nil(t, st.Pending)
	assert.Len(t, h.agents.callsFor("planner"), 1)
}

func TestDriver_InteractorAnswersPlanReview(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Plan.AutoApprove = false })
	ui := &fakeInteractor{answers: []string{"approve"}}
	h.rc.Interactor = ui

	st, err := h.run(h.newState())
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseDone, st.Phase)
	require.Len(t, ui.asked, 1)
	assert.Equal(t, workflow.PurposePlanReview, ui.asked[0].Purpose)
}

func TestDriver_EmptyAnswerKeepsWaiting(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Plan.AutoApprove = false })
	h.rc.Interactor = &fakeInteractor{}

	st, err := h.run(h.newState())
	require.ErrorIs(t, err, ErrAwaitingInput)
	assert.False(t, st.Pending.Answered())
}

func TestDriver_InvalidAnswerKeepsWaiting(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Plan.AutoApprove = false })
	h.rc.Interactor = &fakeInteractor{answers: []string{"maybe"}}

	st, err := h.run(h.newState())
	require.ErrorIs(t, err, ErrAwaitingInput)
	assert.False(t, st.Pending.Answered())
}

func TestDriver_EmptyCheckpointAnswerContinues(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Execution.Mode = config.ModeCheckpoint })
	ui := &fakeInteractor{}
	h.rc.Interactor = ui

	st, err := h.run(h.newState())
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseDone, st.Phase)
	assert.Equal(t, 2, st.CountStatus(workflow.TaskComplete))

	// No checkpoint after the last task.
	require.Len(t, ui.checkpoints, 1)
	assert.Equal(t, 1, ui.checkpoints[0].Done)
	assert.Equal(t, 2, ui.checkpoints[0].Total)
	assert.Equal(t, "Middleware", ui.checkpoints[0].NextTask)
}

func TestDriver_CancelKeepsPersistedState(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.agents.on("implementer", func(dispatch.Request) (dispatch.Result, error) {
		cancel()
		return dispatch.Result{StopReason: dispatch.StopCompleted, CostUSD: 1}, nil
	})

	st, err := NewDriver(h.rc).Run(ctx, h.newState())
	require.ErrorIs(t, err, context.Canceled)

	loaded := h.loaded()
	assert.Equal(t, workflow.PhaseExecute, loaded.Phase)
	assert.Equal(t, workflow.PhaseExecute, st.Phase)
	assert.InDelta(t, 0.5, loaded.SpentUSD, 1e-9)
	for _, task := range loaded.Tasks {
		assert.Equal(t, workflow.TaskPending, task.Status)
	}
}

func TestDriver_CancelledCheckpointStaysPending(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Execution.Mode = config.ModeCheckpoint })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ui := &fakeInteractor{onCheckpoint: cancel}
	h.rc.Interactor = ui

	st, err := NewDriver(h.rc).Run(ctx, h.newState())
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, ui.checkpoints, 1)

	require.NotNil(t, st.Pending)
	assert.False(t, st.Pending.Answered())

	loaded := h.loaded()
	require.NotNil(t, loaded.Pending)
	assert.Equal(t, workflow.PurposeCheckpoint, loaded.Pending.Purpose)
	assert.False(t, loaded.Pending.Answered())
	assert.Equal(t, 1, loaded.CountStatus(workflow.TaskComplete))
}

func TestDriver_ClearsPreviousError(t *testing.T) {
	h := newHarness(t, nil)
	st := h.newState()
	st.Error = "earlier halt"

	st, err := h.run(st)
	require.NoError(t, err)
	assert.Empty(t, st.Error)
}

func TestDriver_LogsCarryRunID(t *testing.T) {
	h := newHarness(t, nil)

	st, err := h.run(h.newState())
	require.NoError(t, err)

	phaseLogs := h.logs.FilterMessage("phase completed").All()
	require.NotEmpty(t, phaseLogs)
	for _, entry := range phaseLogs {
		assert.Equal(t, st.RunID, entry.ContextMap()["run_id"])
	}
}
