// Package analysis derives a run report and agent instruction suggestions
// from the progress log of a finished workflow.
package analysis

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pablasso/forge/internal/failure"
	"github.com/pablasso/forge/internal/workflow"
)

// Suggestion is an addition to the agent instructions worth considering.
type Suggestion struct {
	Category    string // e.g., "Testing", "Review", "Common Issues"
	Title       string
	Description string
	Example     string // Optional code/command example
}

// Analyzer inspects the progress events of one run.
type Analyzer struct {
	progressPath string
	state        *workflow.State
}

// NewAnalyzer creates an analyzer for the run described by st.
func NewAnalyzer(progressPath string, st *workflow.State) *Analyzer {
	return &Analyzer{
		progressPath: progressPath,
		state:        st,
	}
}

// Analyze examines the run and generates suggestions.
func (a *Analyzer) Analyze() ([]Suggestion, error) {
	events, err := a.loadEvents()
	if err != nil {
		return nil, err
	}
	return a.suggest(events), nil
}

func (a *Analyzer) suggest(events []workflow.ProgressEvent) []Suggestion {
	var suggestions []Suggestion
	suggestions = append(suggestions, a.analyzeRetries(events)...)
	suggestions = append(suggestions, a.analyzeFailures(events)...)
	suggestions = append(suggestions, a.analyzeReviews(events)...)
	suggestions = append(suggestions, a.analyzeSuccessPatterns()...)
	return deduplicate(suggestions)
}

// loadEvents reads the progress log and keeps the events of this run. A
// missing log yields no events.
func (a *Analyzer) loadEvents() ([]workflow.ProgressEvent, error) {
	all, err := workflow.ReadProgress(a.progressPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading progress log: %w", err)
	}

	if a.state == nil || a.state.RunID == "" {
		return all, nil
	}
	var events []workflow.ProgressEvent
	for _, event := range all {
		if event.RunID == a.state.RunID {
			events = append(events, event)
		}
	}
	return events, nil
}

// analyzeRetries looks for tasks that needed more than one iteration.
func (a *Analyzer) analyzeRetries(events []workflow.ProgressEvent) []Suggestion {
	iterations := maxIterations(events)

	ids := make([]int, 0, len(iterations))
	for id := range iterations {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var suggestions []Suggestion
	for _, id := range ids {
		if iterations[id] <= 1 {
			continue
		}
		task := a.findTask(id)
		if task == nil {
			continue
		}
		suggestions = append(suggestions, Suggestion{
			Category:    "Common Issues",
			Title:       fmt.Sprintf("Task '%s' required %d iterations", task.Title, iterations[id]),
			Description: "Consider adding more specific acceptance criteria or breaking this task into smaller pieces.",
		})
	}
	return suggestions
}

// analyzeFailures turns recurring failure kinds into suggestions.
func (a *Analyzer) analyzeFailures(events []workflow.ProgressEvent) []Suggestion {
	counts := failureCounts(events)
	var suggestions []Suggestion

	if counts[failure.KindTestFlake] > 0 {
		suggestions = append(suggestions, Suggestion{
			Category:    "Testing",
			Title:       fmt.Sprintf("Flaky tests observed %d time(s)", counts[failure.KindTestFlake]),
			Description: "Some failures disappeared on re-run. Document known flaky tests or how to run them in isolation.",
			Example:     "## Testing\n\nRun a single test repeatedly before trusting a failure:\n\n```bash\ngo test -run TestName -count=5 ./...\n```",
		})
	}
	if counts[failure.KindTestRegression] > 0 {
		suggestions = append(suggestions, Suggestion{
			Category:    "Testing",
			Title:       "Implementations introduced test regressions",
			Description: "Agents broke previously passing tests. Document the test command agents must run before finishing.",
			Example:     "## Testing\n\nRun the full suite before finishing a task:\n\n```bash\ngo test ./...\n```",
		})
	}
	if counts[failure.KindParseError] > 0 {
		suggestions = append(suggestions, Suggestion{
			Category:    "Review",
			Title:       "Reviewer output could not be parsed",
			Description: "At least one reviewer answered without a structured verdict. Remind reviewers to end with a fenced review block.",
		})
	}
	if counts[failure.KindToolTimeout] > 0 {
		suggestions = append(suggestions, Suggestion{
			Category:    "Common Issues",
			Title:       "Agent runs timed out",
			Description: "Long-running commands stalled an agent. Document faster targeted commands for builds and tests.",
		})
	}
	return suggestions
}

// analyzeReviews flags reviewers that failed tasks repeatedly.
func (a *Analyzer) analyzeReviews(events []workflow.ProgressEvent) []Suggestion {
	fails := reviewerFailures(events)

	names := make([]string, 0, len(fails))
	for name := range fails {
		names = append(names, name)
	}
	sort.Strings(names)

	var suggestions []Suggestion
	for _, name := range names {
		if fails[name] < 2 {
			continue
		}
		description := "This reviewer rejected work repeatedly. Document its expectations so implementers meet them up front."
		if focus := a.reviewerFocus(name); focus != "" {
			description = fmt.Sprintf("This reviewer (%s) rejected work repeatedly. Document its expectations so implementers meet them up front.", focus)
		}
		suggestions = append(suggestions, Suggestion{
			Category:    "Review",
			Title:       fmt.Sprintf("Reviewer '%s' failed %d reviews", name, fails[name]),
			Description: description,
		})
	}
	return suggestions
}

// analyzeSuccessPatterns looks for verification commands shared by tasks.
func (a *Analyzer) analyzeSuccessPatterns() []Suggestion {
	if a.state == nil || a.state.CountStatus(workflow.TaskComplete) == 0 {
		return nil
	}

	verifyCommands := make(map[string]int)
	for _, task := range a.state.Tasks {
		for _, criterion := range task.AcceptanceCriteria {
			lower := strings.ToLower(criterion)
			for _, cmd := range []string{"go test", "go vet", "make test", "make fmt", "go build"} {
				if strings.Contains(lower, cmd) {
					verifyCommands[cmd]++
				}
			}
		}
	}

	cmds := make([]string, 0, len(verifyCommands))
	for cmd := range verifyCommands {
		cmds = append(cmds, cmd)
	}
	sort.Strings(cmds)

	var suggestions []Suggestion
	for _, cmd := range cmds {
		if count := verifyCommands[cmd]; count >= 2 {
			suggestions = append(suggestions, Suggestion{
				Category:    "Verification",
				Title:       fmt.Sprintf("'%s' used in %d tasks", cmd, count),
				Description: "This command was used for verification across multiple tasks. Document it prominently.",
			})
		}
	}
	return suggestions
}

func (a *Analyzer) findTask(id int) *workflow.Task {
	if a.state == nil {
		return nil
	}
	return a.state.TaskByID(id)
}

func (a *Analyzer) reviewerFocus(name string) string {
	if a.state == nil {
		return ""
	}
	for _, r := range a.state.Config.Reviewers {
		if r.Name == name {
			return r.Focus
		}
	}
	return ""
}

// deduplicate drops suggestions sharing a category and title.
func deduplicate(suggestions []Suggestion) []Suggestion {
	seen := make(map[string]bool)
	var result []Suggestion

	for _, s := range suggestions {
		key := s.Category + ":" + s.Title
		if !seen[key] {
			seen[key] = true
			result = append(result, s)
		}
	}

	return result
}

// FormatSuggestions renders suggestions grouped by category, ready to be
// pasted into the agent instruction files under agentsDir.
func FormatSuggestions(suggestions []Suggestion, agentsDir string) string {
	if len(suggestions) == 0 {
		return ""
	}

	byCategory := make(map[string][]Suggestion)
	for _, s := range suggestions {
		byCategory[s.Category] = append(byCategory[s.Category], s)
	}
	categories := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Suggested agent instructions (%s):\n", agentsDir)
	for _, cat := range categories {
		fmt.Fprintf(&sb, "\n%s\n", cat)
		for _, s := range byCategory[cat] {
			fmt.Fprintf(&sb, "  • %s\n    %s\n", s.Title, s.Description)
			if s.Example == "" {
				continue
			}
			for _, line := range strings.Split(s.Example, "\n") {
				fmt.Fprintf(&sb, "    │ %s\n", line)
			}
		}
	}
	return sb.String()
}
