// Package workflow holds the durable state of a workflow run and the files it
// is persisted to.
package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pablasso/forge/internal/config"
	"github.com/pablasso/forge/internal/failure"
	"github.com/pablasso/forge/internal/regression"
)

// StateVersion is the schema version written to the state file.
const StateVersion = 1

// Phase is a stage of the orchestrator state machine.
type Phase string

const (
	PhasePlanDraft  Phase = "plan-draft"
	PhasePlanReview Phase = "plan-review"
	PhaseConfigure  Phase = "configure"
	PhaseExecute    Phase = "execute"
	PhasePlanWrite  Phase = "plan-write"
	PhaseFinalize   Phase = "finalize"
	PhaseDone       Phase = "done"
)

// IsValid reports whether p is a known phase.
func (p Phase) IsValid() bool {
	switch p {
	case PhasePlanDraft, PhasePlanReview, PhaseConfigure, PhaseExecute,
		PhasePlanWrite, PhaseFinalize, PhaseDone:
		return true
	default:
		return false
	}
}

// Batch is a deferred slice of the plan that is written out once the
// preceding tasks have been executed.
type Batch struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SourceControl records where the run started.
type SourceControl struct {
	Branch       string `json:"branch"`
	BaseRevision string `json:"baseRevision"`
}

// State is the single mutable aggregate of a workflow run.
type State struct {
	Version       int                  `json:"version"`
	RunID         string               `json:"runId"`
	Phase         Phase                `json:"phase"`
	Description   string               `json:"description"`
	Config        config.Config        `json:"config"`
	PlanText      string               `json:"planText"`
	PlanFeedback  string               `json:"planFeedback"`
	PlanRevisions int                  `json:"planRevisions"`
	Batches       []Batch              `json:"batches"`
	Tasks         []Task               `json:"tasks"`
	ActiveTask    int                  `json:"activeTask"`
	SpentUSD      float64              `json:"spentUsd"`
	Baseline      *regression.Baseline `json:"baseline,omitempty"`
	Pending       *PendingInteraction  `json:"pending,omitempty"`
	PhaseRetries  map[failure.Kind]int `json:"phaseRetries,omitempty"`
	Error         string               `json:"error"`
	Aborted       bool                 `json:"aborted"`
	Report        []string             `json:"report"`
	SourceControl SourceControl        `json:"sourceControl"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

// New creates a workflow in the plan-draft phase.
func New(description string, cfg config.Config, now time.Time) *State {
	return &State{
		Version:     StateVersion,
		RunID:       uuid.NewString(),
		Phase:       PhasePlanDraft,
		Description: description,
		Config:      cfg,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	out := *s
	out.Config = s.Config.Clone()
	if s.Batches != nil {
		out.Batches = append([]Batch{}, s.Batches...)
	}
	out.Tasks = CloneTasks(s.Tasks)
	out.Report = cloneStrings(s.Report)
	out.Pending = s.Pending.Clone()
	if s.PhaseRetries != nil {
		out.PhaseRetries = make(map[failure.Kind]int, len(s.PhaseRetries))
		for k, v := range s.PhaseRetries {
			out.PhaseRetries[k] = v
		}
	}
	if s.Baseline != nil {
		b := *s.Baseline
		b.Results = append([]regression.TestResult(nil), s.Baseline.Results...)
		b.KnownFailing = cloneStrings(s.Baseline.KnownFailing)
		out.Baseline = &b
	}
	return &out
}

// Validate checks the structural invariants of the state.
func (s *State) Validate() error {
	if !s.Phase.IsValid() {
		return fmt.Errorf("unknown phase %q", s.Phase)
	}
	if s.ActiveTask < 0 || s.ActiveTask > len(s.Tasks) {
		return fmt.Errorf("active task index %d out of range [0, %d]", s.ActiveTask, len(s.Tasks))
	}
	if s.SpentUSD < 0 {
		return fmt.Errorf("negative spend %.4f", s.SpentUSD)
	}
	seen := make(map[int]bool, len(s.Tasks))
	for i, t := range s.Tasks {
		if t.ID < 1 {
			return fmt.Errorf("task %d has invalid id %d", i, t.ID)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %d", t.ID)
		}
		seen[t.ID] = true
		if !t.Status.IsValid() {
			return fmt.Errorf("task %d has unknown status %q", t.ID, t.Status)
		}
	}
	return nil
}

// AddSpend accumulates cost. Negative amounts are ignored so spend never
// decreases within a run.
func (s *State) AddSpend(usd float64) {
	if usd > 0 {
		s.SpentUSD += usd
	}
}

// RecordPhaseRetry counts a retry of a failure outside any task. The counters
// are reset whenever the phase changes.
func (s *State) RecordPhaseRetry(kind failure.Kind) {
	if s.PhaseRetries == nil {
		s.PhaseRetries = make(map[failure.Kind]int)
	}
	s.PhaseRetries[kind]++
}

// Current returns the active task, or nil when every task has been visited.
func (s *State) Current() *Task {
	if s.ActiveTask < 0 || s.ActiveTask >= len(s.Tasks) {
		return nil
	}
	return &s.Tasks[s.ActiveTask]
}

// TaskByID finds a task by its id.
func (s *State) TaskByID(id int) *Task {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i]
		}
	}
	return nil
}

// NextTaskID returns the id the next appended task should take.
func (s *State) NextTaskID() int {
	maxID := 0
	for _, t := range s.Tasks {
		if t.ID > maxID {
			maxID = t.ID
		}
	}
	return maxID + 1
}

// CountStatus returns how many tasks have status.
func (s *State) CountStatus(status TaskStatus) int {
	n := 0
	for _, t := range s.Tasks {
		if t.Status == status {
			n++
		}
	}
	return n
}

// CountTerminal returns how many tasks are complete, skipped or escalated.
func (s *State) CountTerminal() int {
	n := 0
	for _, t := range s.Tasks {
		if t.Status.IsTerminal() {
			n++
		}
	}
	return n
}
