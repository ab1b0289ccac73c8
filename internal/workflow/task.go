package workflow

import "github.com/pablasso/forge/internal/failure"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending      TaskStatus = "pending"
	TaskImplementing TaskStatus = "implementing"
	TaskReviewing    TaskStatus = "reviewing"
	TaskFixing       TaskStatus = "fixing"
	TaskComplete     TaskStatus = "complete"
	TaskSkipped      TaskStatus = "skipped"
	TaskEscalated    TaskStatus = "escalated"
)

// IsTerminal reports whether the status can no longer change.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskComplete, TaskSkipped, TaskEscalated:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is a known status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskPending, TaskImplementing, TaskReviewing, TaskFixing,
		TaskComplete, TaskSkipped, TaskEscalated:
		return true
	default:
		return false
	}
}

// Task is one unit of implementation work and its execution bookkeeping.
type Task struct {
	ID                 int                  `json:"id"`
	Title              string               `json:"title"`
	Description        string               `json:"description"`
	Files              []string             `json:"files"`
	AcceptanceCriteria []string             `json:"acceptanceCriteria"`
	Status             TaskStatus           `json:"status"`
	PassedReviews      []string             `json:"passedReviews"`
	FailedReviews      []string             `json:"failedReviews"`
	FixAttempts        int                  `json:"fixAttempts"`
	Retries            map[failure.Kind]int `json:"retries"`
	Checkpoint         string               `json:"checkpoint"`
	Feedback           string               `json:"feedback"`
	CostUSD            float64              `json:"costUsd"`
}

// Clone returns a deep copy of t.
func (t Task) Clone() Task {
	out := t
	out.Files = cloneStrings(t.Files)
	out.AcceptanceCriteria = cloneStrings(t.AcceptanceCriteria)
	out.PassedReviews = cloneStrings(t.PassedReviews)
	out.FailedReviews = cloneStrings(t.FailedReviews)
	if t.Retries != nil {
		out.Retries = make(map[failure.Kind]int, len(t.Retries))
		for k, v := range t.Retries {
			out.Retries[k] = v
		}
	}
	return out
}

// RetryCount returns how many times kind has been retried for this task.
func (t *Task) RetryCount(kind failure.Kind) int {
	return t.Retries[kind]
}

// RecordRetry increments the retry counter for kind.
func (t *Task) RecordRetry(kind failure.Kind) {
	if t.Retries == nil {
		t.Retries = make(map[failure.Kind]int)
	}
	t.Retries[kind]++
}

// CloneTasks deep-copies a task list.
func CloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return nil
	}
	out := make([]Task, len(tasks))
	for i := range tasks {
		out[i] = tasks[i].Clone()
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}
