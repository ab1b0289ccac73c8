package plan

import "github.com/pablasso/forge/internal/workflow"

// Parsed is what a grammar extracted from plan text. Task ids are assigned
// 1..n in document order; callers renumber when appending to a live plan.
type Parsed struct {
	Tasks   []workflow.Task
	Batches []workflow.Batch
}

// IsEmpty reports whether no tasks were found.
func (p Parsed) IsEmpty() bool {
	return len(p.Tasks) == 0
}

// Parser turns plan text into tasks. An unrecognised document yields an
// empty result rather than an error.
type Parser interface {
	Parse(text string) Parsed
}

// Multi tries each grammar in order and returns the first non-empty result.
type Multi []Parser

// Parse implements Parser.
func (m Multi) Parse(text string) Parsed {
	for _, p := range m {
		if parsed := p.Parse(text); !parsed.IsEmpty() {
			return parsed
		}
	}
	return Parsed{}
}

// DefaultParser accepts the JSON extraction format and the markdown format.
func DefaultParser() Parser {
	return Multi{JSONParser{}, MarkdownParser{}}
}

// Renumber returns a copy of tasks with ids starting at first.
func Renumber(tasks []workflow.Task, first int) []workflow.Task {
	out := workflow.CloneTasks(tasks)
	for i := range out {
		out[i].ID = first + i
	}
	return out
}

func newTask(id int, title string) workflow.Task {
	return workflow.Task{ID: id, Title: title, Status: workflow.TaskPending}
}
