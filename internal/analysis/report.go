package analysis

import (
	"fmt"
	"sort"

	"github.com/pablasso/forge/internal/failure"
	"github.com/pablasso/forge/internal/workflow"
)

// Report builds the human-readable lines shown when a run finishes. The
// suggestions are appended as a trailing section.
func (a *Analyzer) Report() ([]string, error) {
	events, err := a.loadEvents()
	if err != nil {
		return nil, err
	}
	return a.report(events), nil
}

func (a *Analyzer) report(events []workflow.ProgressEvent) []string {
	var lines []string
	st := a.state

	if st != nil {
		lines = append(lines, fmt.Sprintf("Tasks: %d/%d complete, %d skipped, %d escalated",
			st.CountStatus(workflow.TaskComplete), len(st.Tasks),
			st.CountStatus(workflow.TaskSkipped), st.CountStatus(workflow.TaskEscalated)))
		lines = append(lines, fmt.Sprintf("Spend: $%.2f", st.SpentUSD))
		if st.Aborted {
			lines = append(lines, "Run aborted at a checkpoint")
		}
	}

	iterations := maxIterations(events)
	if st != nil {
		for _, t := range st.Tasks {
			if n := iterations[t.ID]; n > 1 {
				lines = append(lines, fmt.Sprintf("Task #%d %q needed %d iterations", t.ID, t.Title, n))
			}
		}
	}

	for _, event := range events {
		if event.Event != workflow.EventTaskEscalated {
			continue
		}
		reason, _ := event.Data["reason"].(string)
		lines = append(lines, fmt.Sprintf("Task #%d escalated: %s", intField(event.Data, "task_id"), reason))
	}

	counts := failureCounts(events)
	for _, kind := range failure.Kinds() {
		if counts[kind] > 0 {
			lines = append(lines, fmt.Sprintf("Failure %s handled %d time(s)", kind, counts[kind]))
		}
	}

	fails := reviewerFailures(events)
	names := make([]string, 0, len(fails))
	for name := range fails {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("Reviewer %s failed %d review(s)", name, fails[name]))
	}

	for _, s := range a.suggest(events) {
		lines = append(lines, fmt.Sprintf("Suggestion [%s]: %s", s.Category, s.Title))
	}
	return lines
}

// maxIterations returns the highest iteration started per task id.
func maxIterations(events []workflow.ProgressEvent) map[int]int {
	out := make(map[int]int)
	for _, event := range events {
		if event.Event != workflow.EventTaskStarted {
			continue
		}
		id := intField(event.Data, "task_id")
		if n := intField(event.Data, "iteration"); n > out[id] {
			out[id] = n
		}
	}
	return out
}

func failureCounts(events []workflow.ProgressEvent) map[failure.Kind]int {
	out := make(map[failure.Kind]int)
	for _, event := range events {
		if event.Event != workflow.EventFailureHandled {
			continue
		}
		kind, _ := event.Data["kind"].(string)
		out[failure.Kind(kind)]++
	}
	return out
}

func reviewerFailures(events []workflow.ProgressEvent) map[string]int {
	out := make(map[string]int)
	for _, event := range events {
		if event.Event != workflow.EventReviewVerdict {
			continue
		}
		verdict, _ := event.Data["verdict"].(string)
		if verdict == "pass" {
			continue
		}
		reviewer, _ := event.Data["reviewer"].(string)
		out[reviewer]++
	}
	return out
}

// intField reads a number from decoded event data. JSON numbers decode as
// float64; events built in memory keep their int.
func intField(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
