package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pablasso/forge/internal/config"
	"github.com/pablasso/forge/internal/dispatch"
	"github.com/pablasso/forge/internal/failure"
	"github.com/pablasso/forge/internal/regression"
	"github.com/pablasso/forge/internal/workflow"
)

const batchedPlan = `## Batch 1: Core
### Task 1: Token bucket
Implement a token bucket.

### Task 2: Middleware
Wire the bucket into HTTP handlers.

## Batch 2: Docs
Document the limiter in the README.
`

func manualReview(c *config.Config) { c.Plan.AutoApprove = false }

func TestPlanDraft_PresetPlanSkipsPlanner(t *testing.T) {
	h := newHarness(t, nil)
	st := h.newState()
	st.PlanText = twoTaskPlan

	st, err := h.run(st)
	require.NoError(t, err)

	assert.Equal(t, workflow.PhaseDone, st.Phase)
	assert.Len(t, st.Tasks, 2)
	assert.Empty(t, h.agents.callsFor("planner"))
}

func TestPlanDraft_UnparseablePresetFallsBackToPlanner(t *testing.T) {
	h := newHarness(t, nil)
	st := h.newState()
	st.PlanText = "just some notes"

	next, err := planDraft(context.Background(), h.rc, st)
	require.NoError(t, err)

	assert.Equal(t, workflow.PhasePlanReview, next.Phase)
	assert.Len(t, h.agents.callsFor("planner"), 1)
	assert.Equal(t, twoTaskPlan, next.PlanText)
}

func TestPlanDraft_PromptCarriesGoal(t *testing.T) {
	h := newHarness(t, nil)

	_, err := planDraft(context.Background(), h.rc, h.newState())
	require.NoError(t, err)

	calls := h.agents.callsFor("planner")
	require.Len(t, calls, 1)
	assert.True(t, containsAll(calls[0].Prompt, "## Goal", "add rate limiting", "## Task N: <title>"))
	assert.NotContains(t, calls[0].Prompt, "## Requested Changes")
}

func TestPlanDraft_CrashIsRetriedOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.agents.on("planner", crash(1))

	st, err := NewDriver(h.rc).Step(context.Background(), h.newState())
	require.NoError(t, err)

	assert.Equal(t, workflow.PhasePlanReview, st.Phase)
	assert.Nil(t, st.PhaseRetries)
	assert.Len(t, h.agents.callsFor("planner"), 2)
	assert.Equal(t, []string{"implementation-crash:retry"}, h.failureKinds())
}

func TestPlanDraft_RepeatedCrashHalts(t *testing.T) {
	h := newHarness(t, nil)
	h.agents.always("planner", crash(1))

	st, err := h.run(h.newState())
	require.ErrorIs(t, err, ErrHalted)

	assert.Equal(t, workflow.PhasePlanDraft, st.Phase)
	assert.Equal(t, "plan-draft: planner exited with code 1 (error): segfault", st.Error)
	assert.Equal(t, 1, st.PhaseRetries[failure.KindImplementationCrash])
	assert.Equal(t, 1, h.loaded().PhaseRetries[failure.KindImplementationCrash])
}

func TestPlanDraft_StartErrorIsACrash(t *testing.T) {
	h := newHarness(t, nil)
	h.agents.on("planner", func(dispatch.Request) (dispatch.Result, error) {
		return dispatch.Result{}, errors.New("claude: executable file not found")
	})

	st, err := planDraft(context.Background(), h.rc, h.newState())
	require.NoError(t, err)
	assert.Equal(t, workflow.PhasePlanReview, st.Phase)
	assert.Equal(t, []string{"implementation-crash:retry"}, h.failureKinds())
}

func TestPlanDraft_TimeoutHalts(t *testing.T) {
	h := newHarness(t, nil)
	h.agents.on("planner", timeout())

	st, err := h.run(h.newState())
	require.ErrorIs(t, err, ErrHalted)
	assert.Equal(t, "plan-draft: planner timed out", st.Error)
	assert.Equal(t, []string{"tool-timeout:pause"}, h.failureKinds())
}

func TestPlanDraft_EmptyOutputHalts(t *testing.T) {
	h := newHarness(t, nil)
	h.agents.always("planner", reply("I need more context.", 0.1))

	st, err := h.run(h.newState())
	require.ErrorIs(t, err, ErrHalted)

	assert.Equal(t, "plan-draft: planner output contained no tasks", st.Error)
	assert.Len(t, h.agents.callsFor("planner"), 2)
	assert.Empty(t, st.Tasks)
}

func TestPlanReview_AutoApprove(t *testing.T) {
	h := newHarness(t, nil)
	st := h.newState()
	st.Phase = workflow.PhasePlanReview

	next, err := planReview(context.Background(), h.rc, st)
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseConfigure, next.Phase)
	assert.Nil(t, next.Pending)
}

func TestPlanReview_ReviseSendsFeedback(t *testing.T) {
	h := newHarness(t, manualReview)

	st, err := h.run(h.newState())
	require.ErrorIs(t, err, ErrAwaitingInput)
	require.NoError(t, st.Answer("revise: split the middleware task"))

	st, err = h.run(st)
	require.ErrorIs(t, err, ErrAwaitingInput)

	assert.Equal(t, workflow.PhasePlanReview, st.Phase)
	assert.Equal(t, 1, st.PlanRevisions)
	assert.Empty(t, st.PlanFeedback)
	require.NotNil(t, st.Pending)
	assert.False(t, st.Pending.Answered())

	calls := h.agents.callsFor("planner")
	require.Len(t, calls, 2)
	assert.True(t, containsAll(calls[1].Prompt,
		"## Previous Plan", "## Task 2: Middleware",
		"## Requested Changes", "split the middleware task",
	))
}

func TestPlanReview_ReviseWithoutDetail(t *testing.T) {
	h := newHarness(t, manualReview)
	st := h.newState()
	st.Phase = workflow.PhasePlanReview
	st.Pending = workflow.NewInteraction(workflow.InteractionChoice, workflow.PurposePlanReview, "plan", "approve", "revise", "abort")
	require.NoError(t, st.Answer("revise"))

	next, err := planReview(context.Background(), h.rc, st)
	require.NoError(t, err)
	assert.Equal(t, workflow.PhasePlanDraft, next.Phase)
	assert.Equal(t, "Revise the plan.", next.PlanFeedback)
	assert.Nil(t, next.Tasks)
}

func TestPlanReview_RevisionLimitHalts(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Plan.AutoApprove = false
		c.Plan.MaxRevisions = 1
	})

	st, err := h.run(h.newState())
	require.ErrorIs(t, err, ErrAwaitingInput)
	require.NoError(t, st.Answer("revise: smaller tasks"))
	st, err = h.run(st)
	require.ErrorIs(t, err, ErrAwaitingInput)

	require.NoError(t, st.Answer("revise: even smaller"))
	st, err = h.run(st)
	require.ErrorIs(t, err, ErrHalted)

	assert.Contains(t, st.Error, "plan revision limit of 1 reached")
	require.NotNil(t, st.Pending)
	assert.Equal(t, []string{"approve", "abort"}, st.Pending.Options)
	assert.Len(t, h.agents.callsFor("planner"), 2)

	st = h.loaded()
	require.Error(t, st.Answer("revise"))
	require.NoError(t, st.Answer("approve"))
	st, err = h.run(st)
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseDone, st.Phase)
}

func TestPlanReview_Abort(t *testing.T) {
	h := newHarness(t, manualReview)

	st, err := h.run(h.newState())
	require.ErrorIs(t, err, ErrAwaitingInput)
	require.NoError(t, st.Answer("abort"))

	st, err = h.run(st)
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseDone, st.Phase)
	assert.True(t, st.Aborted)
	assert.Empty(t, h.agents.callsFor("implementer"))
	assert.Empty(t, h.agents.callsFor("finalizer"))
}

func TestPlanSummary(t *testing.T) {
	st := &workflow.State{
		Tasks: []workflow.Task{
			{ID: 1, Title: "Token bucket"},
			{ID: 2, Title: "Middleware"},
		},
		Batches: []workflow.Batch{{Title: "Docs"}},
	}
	assert.Equal(t, "Review the plan (2 tasks, 1 later batches):\n  1. Token bucket\n  2. Middleware", planSummary(st))
}

func TestConfigure_FreezesConfigAndBaseline(t *testing.T) {
	h := newHarness(t, nil)
	h.rc.Config.Execution.MaxIterations = 7
	h.tests.snapshots = [][]regression.TestResult{with(passing("pkg.TestA"), "pkg.TestB")}

	st := h.newState()
	st.Tasks = []workflow.Task{{ID: 1, Title: "Token bucket", Status: workflow.TaskPending}}
	st.Phase = workflow.PhaseConfigure

	next, err := configure(context.Background(), h.rc, st)
	require.NoError(t, err)

	assert.Equal(t, workflow.PhaseExecute, next.Phase)
	assert.Equal(t, 7, next.Config.Execution.MaxIterations)
	require.NotNil(t, next.Baseline)
	assert.Equal(t, "abc123", next.Baseline.Revision)
	assert.Equal(t, []string{"pkg.TestB"}, next.Baseline.KnownFailing)
	assert.Equal(t, workflow.SourceControl{Branch: "main", BaseRevision: "abc123"}, next.SourceControl)
	assert.Equal(t, []string{"pre-existing-failure:continue"}, h.failureKinds())

	// Later edits to the live config do not reach the run.
	h.rc.Config.Execution.MaxIterations = 1
	assert.Equal(t, 7, next.Config.Execution.MaxIterations)
}

func TestConfigure_BaselineErrorHalts(t *testing.T) {
	h := newHarness(t, nil)
	h.tests.err = errors.New("go: no go.mod")

	st := h.newState()
	st.Phase = workflow.PhaseConfigure

	_, err := configure(context.Background(), h.rc, st)
	require.ErrorIs(t, err, ErrHalted)
	assert.Equal(t, "configure: baseline test run failed: go: no go.mod", st.Error)
	assert.Equal(t, 2, h.tests.runs)
}

func TestConfigure_BaselineErrorCanBeIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.tests.err = errors.New("go: no go.mod")
	h.rc.Config.Failures = map[string]string{"validation-failure": "ignore"}

	st := h.newState()
	st.Phase = workflow.PhaseConfigure
	st.Config = h.rc.Config.Clone()

	next, err := configure(context.Background(), h.rc, st)
	require.NoError(t, err)
	require.NotNil(t, next.Baseline)
	assert.Empty(t, next.Baseline.Results)
}

func TestPlanWrite_AppendsBatchTasks(t *testing.T) {
	h := newHarness(t, nil)
	h.agents.on("planner",
		reply(batchedPlan, 0.5),
		reply("## Task 1: Write README\nDocument the limiter.\n", 0.2),
	)

	st, err := h.run(h.newState())
	require.NoError(t, err)

	assert.Equal(t, workflow.PhaseDone, st.Phase)
	assert.Empty(t, st.Batches)
	require.Len(t, st.Tasks, 3)
	assert.Equal(t, 3, st.Tasks[2].ID)
	assert.Equal(t, "Write README", st.Tasks[2].Title)
	for _, task := range st.Tasks {
		assert.Equal(t, workflow.TaskComplete, task.Status)
	}

	calls := h.agents.callsFor("planner")
	require.Len(t, calls, 2)
	assert.True(t, containsAll(calls[1].Prompt,
		"## Completed Tasks", "- #1 Token bucket (complete)",
		"## Next Batch", "**Title**: Docs", "Document the limiter in the README.",
	))
}

func TestPlanWrite_EmptyBatchCanBeSkipped(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Failures = map[string]string{"validation-failure": "warn-and-continue"}
	})
	h.agents.always("planner", reply("nothing to add", 0))

	st := h.executing("Token bucket")
	st.Tasks[0].Status = workflow.TaskComplete
	st.Batches = []workflow.Batch{{Title: "Docs"}, {Title: "Ops"}}
	st.Phase = workflow.PhasePlanWrite

	next, err := planWrite(context.Background(), h.rc, st)
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseExecute, next.Phase)
	assert.Len(t, next.Tasks, 1)
	assert.Equal(t, []workflow.Batch{{Title: "Ops"}}, next.Batches)
}

func TestFinalize_FailureOnlyWarns(t *testing.T) {
	h := newHarness(t, nil)
	h.agents.on("finalizer", crash(2))

	st := h.executing("Token bucket")
	st.Tasks[0].Status = workflow.TaskComplete
	st.Phase = workflow.PhaseFinalize

	next, err := finalize(context.Background(), h.rc, st)
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseDone, next.Phase)
	assert.Contains(t, next.Report, "Tasks: 1/1 complete, 0 skipped, 0 escalated")
	assert.NotEmpty(t, h.logs.FilterMessage("finalizer did not complete").All())
}

func TestFinalize_SkipsAgentWithoutCompletedWork(t *testing.T) {
	h := newHarness(t, nil)
	st := h.executing("Token bucket")
	st.Tasks[0].Status = workflow.TaskSkipped
	st.Phase = workflow.PhaseFinalize

	next, err := finalize(context.Background(), h.rc, st)
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseDone, next.Phase)
	assert.Empty(t, h.agents.callsFor("finalizer"))
}

func TestWorkDir(t *testing.T) {
	rc := &RunContext{Dir: "/repo"}
	tests := []struct {
		workDir string
		want    string
	}{
		{"", "/repo"},
		{".", "/repo"},
		{"services/api", "/repo/services/api"},
		{"/elsewhere", "/elsewhere"},
	}
	for _, tt := range tests {
		t.Run(tt.workDir, func(t *testing.T) {
			cfg := config.Config{Execution: config.ExecutionConfig{WorkDir: tt.workDir}}
			assert.Equal(t, tt.want, workDir(rc, cfg))
		})
	}
}
