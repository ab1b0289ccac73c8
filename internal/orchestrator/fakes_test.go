package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pablasso/forge/internal/checkpoint"
	"github.com/pablasso/forge/internal/config"
	"github.com/pablasso/forge/internal/dispatch"
	"github.com/pablasso/forge/internal/logging"
	"github.com/pablasso/forge/internal/regression"
	"github.com/pablasso/forge/internal/workflow"
)

const twoTaskPlan = `## Task 1: Token bucket
Implement a token bucket.
Files: internal/limit/bucket.go
Acceptance criteria:
- go test ./internal/limit/... passes

## Task 2: Middleware
Wire the bucket into HTTP handlers.
`

const passReview = "Looks good.\n```review-result\n" +
	`{"passed": true, "findings": [], "mustFix": [], "summary": "ok"}` + "\n```\n"

const failReview = "Needs work.\n```review-result\n" +
	`{"passed": false, "findings": [{"severity": "high", "file": "bucket.go", "line": 12, "issue": "refill overflows"}], "mustFix": ["refill"], "summary": "overflow"}` +
	"\n```\n"

type dispatchFunc func(req dispatch.Request) (dispatch.Result, error)

func reply(text string, cost float64) dispatchFunc {
	return func(dispatch.Request) (dispatch.Result, error) {
		return dispatch.Result{StopReason: dispatch.StopCompleted, FinalText: text, CostUSD: cost}, nil
	}
}

func crash(code int) dispatchFunc {
	return func(dispatch.Request) (dispatch.Result, error) {
		return dispatch.Result{ExitCode: code, StopReason: dispatch.StopError, Stderr: "segfault"}, nil
	}
}

func timeout() dispatchFunc {
	return func(dispatch.Request) (dispatch.Result, error) {
		return dispatch.Result{ExitCode: -1, StopReason: dispatch.StopTimeout}, nil
	}
}

type call struct {
	Profile string
	Prompt  string
}

// fakeDispatcher answers from per-profile scripts and falls back to a
// successful default for each profile.
type fakeDispatcher struct {
	mu       sync.Mutex
	scripts  map[string][]dispatchFunc
	defaults map[string]dispatchFunc
	calls    []call
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		scripts: make(map[string][]dispatchFunc),
		defaults: map[string]dispatchFunc{
			"planner":              reply(twoTaskPlan, 0.5),
			"implementer":          reply("implemented", 1),
			"finalizer":            reply("all good", 0.25),
			"reviewer-style":       reply(passReview, 0.1),
			"reviewer-correctness": reply(passReview, 0.2),
		},
	}
}

func (f *fakeDispatcher) on(profile string, fns ...dispatchFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[profile] = append(f.scripts[profile], fns...)
}

func (f *fakeDispatcher) always(profile string, fn dispatchFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaults[profile] = fn
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{Profile: req.Profile.Name, Prompt: req.Prompt})
	fn := f.defaults[req.Profile.Name]
	if queue := f.scripts[req.Profile.Name]; len(queue) > 0 {
		fn = queue[0]
		f.scripts[req.Profile.Name] = queue[1:]
	}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dispatch.Result{}, err
	}
	if fn == nil {
		return dispatch.Result{}, errors.New("no agent for profile " + req.Profile.Name)
	}
	if req.OnEvent != nil {
		req.OnEvent(dispatch.Event{Type: dispatch.EventToolUse, ToolName: "Edit", ToolTarget: "main.go"})
	}
	return fn(req)
}

func (f *fakeDispatcher) callsFor(profile string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.Profile == profile {
			out = append(out, c)
		}
	}
	return out
}

// fakeTests returns scripted snapshots; the last one repeats.
type fakeTests struct {
	mu        sync.Mutex
	snapshots [][]regression.TestResult
	runs      int
	err       error
}

func (f *fakeTests) Run(ctx context.Context, dir string) ([]regression.TestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.runs++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.snapshots) == 0 {
		return nil, nil
	}
	snap := f.snapshots[0]
	if len(f.snapshots) > 1 {
		f.snapshots = f.snapshots[1:]
	}
	return snap, nil
}

func passing(names ...string) []regression.TestResult {
	out := make([]regression.TestResult, len(names))
	for i, n := range names {
		out[i] = regression.TestResult{Name: n, Passed: true}
	}
	return out
}

func with(results []regression.TestResult, failing ...string) []regression.TestResult {
	out := append([]regression.TestResult{}, results...)
	for _, n := range failing {
		out = append(out, regression.TestResult{Name: n, Failure: n + ": expected 1, got 2"})
	}
	return out
}

type fakeSCM struct {
	head string
	diff string
}

func (f *fakeSCM) Head(string) (string, error)   { return f.head, nil }
func (f *fakeSCM) Branch(string) (string, error) { return "main", nil }
func (f *fakeSCM) DiffSince(_ context.Context, _, _ string) (string, error) {
	return f.diff, nil
}

// fakeInteractor answers prompts from a queue. An exhausted queue answers "".
type fakeInteractor struct {
	answers     []string
	checkpoints []checkpoint.Summary
	asked       []*workflow.PendingInteraction
	// onCheckpoint runs before a checkpoint is answered.
	onCheckpoint func()
}

func (f *fakeInteractor) next() string {
	if len(f.answers) == 0 {
		return ""
	}
	a := f.answers[0]
	f.answers = f.answers[1:]
	return a
}

func (f *fakeInteractor) PresentCheckpoint(_ context.Context, s checkpoint.Summary) (string, error) {
	f.checkpoints = append(f.checkpoints, s)
	if f.onCheckpoint != nil {
		f.onCheckpoint()
	}
	return f.next(), nil
}

func (f *fakeInteractor) Ask(_ context.Context, p *workflow.PendingInteraction) (string, error) {
	f.asked = append(f.asked, p.Clone())
	return f.next(), nil
}

type recordingRenderer struct {
	mu      sync.Mutex
	renders []workflow.Phase
	steps   []string
	events  int
}

func (r *recordingRenderer) Render(st *workflow.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renders = append(r.renders, st.Phase)
}

func (r *recordingRenderer) Step(_ *workflow.State, _ int, step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

func (r *recordingRenderer) Event(dispatch.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events++
}

type harness struct {
	t        *testing.T
	dir      string
	cfg      *config.Config
	agents   *fakeDispatcher
	tests    *fakeTests
	scm      *fakeSCM
	renderer *recordingRenderer
	logs     *observer.ObservedLogs
	store    *workflow.Store
	rc       *RunContext
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Plan.AutoApprove = true
	cfg.Budget.WarnUSD = 1000
	cfg.Budget.HardLimitUSD = 2000
	if mutate != nil {
		mutate(cfg)
	}

	logger, logs := logging.NewObserved(zapcore.DebugLevel)
	h := &harness{
		t:        t,
		dir:      dir,
		cfg:      cfg,
		agents:   newFakeDispatcher(),
		tests:    &fakeTests{snapshots: [][]regression.TestResult{passing("pkg.TestA", "pkg.TestB")}},
		scm:      &fakeSCM{head: "abc123", diff: "diff --git a/bucket.go b/bucket.go\n+broken"},
		renderer: &recordingRenderer{},
		logs:     logs,
		store:    workflow.NewStore(dir),
	}
	h.rc = &RunContext{
		Config:     *cfg,
		Dispatcher: h.agents,
		Tests:      h.tests,
		SCM:        h.scm,
		Renderer:   h.renderer,
		Store:      h.store,
		Progress:   workflow.NewProgressLogger(dir),
		Logger:     logger,
		Dir:        dir,
		Now:        func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) },
	}
	return h
}

func (h *harness) newState() *workflow.State {
	return workflow.New("add rate limiting", *h.cfg, h.rc.now())
}

// executing returns a state that is ready to execute tasks.
func (h *harness) executing(titles ...string) *workflow.State {
	st := h.newState()
	for i, title := range titles {
		st.Tasks = append(st.Tasks, workflow.Task{ID: i + 1, Title: title, Status: workflow.TaskPending})
	}
	base := regression.NewBaseline("abc123", h.rc.now(), passing("pkg.TestA", "pkg.TestB"))
	st.Baseline = &base
	st.Phase = workflow.PhaseExecute
	return st
}

func (h *harness) run(st *workflow.State) (*workflow.State, error) {
	return NewDriver(h.rc).Run(context.Background(), st)
}

func (h *harness) loaded() *workflow.State {
	h.t.Helper()
	st, err := h.store.Load()
	if err != nil {
		h.t.Fatalf("load state: %v", err)
	}
	return st
}

func (h *harness) progress() []workflow.ProgressEvent {
	h.t.Helper()
	events, err := workflow.ReadProgress(h.rc.Progress.Path())
	if err != nil {
		h.t.Fatalf("read progress: %v", err)
	}
	return events
}

func (h *harness) failureKinds() []string {
	var kinds []string
	for _, e := range h.progress() {
		if e.Event == workflow.EventFailureHandled {
			kind, _ := e.Data["kind"].(string)
			outcome, _ := e.Data["outcome"].(string)
			kinds = append(kinds, kind+":"+outcome)
		}
	}
	return kinds
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
