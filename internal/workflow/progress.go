package workflow

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const progressLogFileName = "progress.log"

// Event names written to the progress log.
const (
	EventPhaseStarted     = "phase_started"
	EventPhaseCompleted   = "phase_completed"
	EventTaskStarted      = "task_started"
	EventTaskCompleted    = "task_completed"
	EventTaskEscalated    = "task_escalated"
	EventReviewVerdict    = "review_verdict"
	EventTestsClassified  = "tests_classified"
	EventFailureHandled   = "failure_handled"
	EventCheckpointRaised = "checkpoint_raised"
	EventPlanAdjusted     = "plan_adjusted"
	EventWorkflowHalted   = "workflow_halted"
)

// ProgressEvent is a single progress log entry.
type ProgressEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"runId,omitempty"`
	Event     string                 `json:"event"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// ProgressLogger appends events to a JSON Lines file.
type ProgressLogger struct {
	path  string
	runID string
}

// NewProgressLogger creates a logger writing to projectDir/.forge/progress.log.
func NewProgressLogger(projectDir string) *ProgressLogger {
	return &ProgressLogger{path: filepath.Join(projectDir, Dir, progressLogFileName)}
}

// ForRun returns a logger that stamps entries with runID.
func (p *ProgressLogger) ForRun(runID string) *ProgressLogger {
	return &ProgressLogger{path: p.path, runID: runID}
}

// Path returns the log file path.
func (p *ProgressLogger) Path() string {
	return p.path
}

// Log appends an event. A nil logger discards it.
func (p *ProgressLogger) Log(event string, data map[string]interface{}) error {
	if p == nil {
		return nil
	}
	entry := ProgressEvent{
		Timestamp: time.Now(),
		RunID:     p.runID,
		Event:     event,
		Data:      data,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	jsonBytes = append(jsonBytes, '\n')

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(jsonBytes)
	return err
}

// PhaseStarted logs a phase_started event.
func (p *ProgressLogger) PhaseStarted(phase Phase) error {
	return p.Log(EventPhaseStarted, map[string]interface{}{"phase": string(phase)})
}

// PhaseCompleted logs a phase_completed event.
func (p *ProgressLogger) PhaseCompleted(from, to Phase) error {
	return p.Log(EventPhaseCompleted, map[string]interface{}{
		"phase": string(from),
		"next":  string(to),
	})
}

// TaskStarted logs a task_started event.
func (p *ProgressLogger) TaskStarted(taskID, iteration int) error {
	return p.Log(EventTaskStarted, map[string]interface{}{
		"task_id":   taskID,
		"iteration": iteration,
	})
}

// TaskCompleted logs a task_completed event.
func (p *ProgressLogger) TaskCompleted(taskID int, costUSD float64) error {
	return p.Log(EventTaskCompleted, map[string]interface{}{
		"task_id":  taskID,
		"cost_usd": costUSD,
	})
}

// TaskEscalated logs a task_escalated event.
func (p *ProgressLogger) TaskEscalated(taskID int, reason string) error {
	return p.Log(EventTaskEscalated, map[string]interface{}{
		"task_id": taskID,
		"reason":  reason,
	})
}

// ReviewVerdict logs a review_verdict event.
func (p *ProgressLogger) ReviewVerdict(taskID int, reviewer, verdict string, required bool) error {
	return p.Log(EventReviewVerdict, map[string]interface{}{
		"task_id":  taskID,
		"reviewer": reviewer,
		"verdict":  verdict,
		"required": required,
	})
}

// TestsClassified logs bucket sizes of a regression classification.
func (p *ProgressLogger) TestsClassified(taskID, newFailures, preExisting, flakes, fixed int) error {
	return p.Log(EventTestsClassified, map[string]interface{}{
		"task_id":      taskID,
		"new_failures": newFailures,
		"pre_existing": preExisting,
		"flakes":       flakes,
		"newly_fixed":  fixed,
	})
}

// FailureHandled logs a taxonomy decision.
func (p *ProgressLogger) FailureHandled(taskID int, kind, action, outcome string) error {
	return p.Log(EventFailureHandled, map[string]interface{}{
		"task_id": taskID,
		"kind":    kind,
		"action":  action,
		"outcome": outcome,
	})
}

// CheckpointRaised logs the triggers of a checkpoint.
func (p *ProgressLogger) CheckpointRaised(triggers []string, spentUSD float64) error {
	return p.Log(EventCheckpointRaised, map[string]interface{}{
		"triggers":  triggers,
		"spent_usd": spentUSD,
	})
}

// PlanAdjusted logs an applied plan adjustment.
func (p *ProgressLogger) PlanAdjusted(dropped, skipped, reordered int) error {
	return p.Log(EventPlanAdjusted, map[string]interface{}{
		"dropped":   dropped,
		"skipped":   skipped,
		"reordered": reordered,
	})
}

// WorkflowHalted logs a halt with its user-visible reason.
func (p *ProgressLogger) WorkflowHalted(phase Phase, reason string) error {
	return p.Log(EventWorkflowHalted, map[string]interface{}{
		"phase":  string(phase),
		"reason": reason,
	})
}

// ReadProgress reads every well-formed event from the log at path. Malformed
// lines are skipped.
func ReadProgress(path string) ([]ProgressEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []ProgressEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var event ProgressEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}
