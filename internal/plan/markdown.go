package plan

import (
	"regexp"
	"strings"

	"github.com/pablasso/forge/internal/workflow"
)

var (
	taskHeading  = regexp.MustCompile(`(?i)^#{2,4}\s+task\b(?:\s+#?\d+)?\s*[:.)-]?\s*(.*)$`)
	batchHeading = regexp.MustCompile(`(?i)^#{1,3}\s+batch\b(?:\s+#?\d+)?\s*[:.)-]?\s*(.*)$`)
	checkbox     = regexp.MustCompile(`^\[[ xX]\]\s*`)
)

// MarkdownParser reads plans written as headed sections:
//
//	## Batch 1: Storage
//	### Task 1: Add the store
//	Persist snapshots atomically.
//	Files: internal/store.go, internal/store_test.go
//	Acceptance criteria:
//	- go test ./internal/... passes
//
// Tasks before the second batch heading form the executable plan. Each later
// batch is kept verbatim for the plan-write phase to expand.
type MarkdownParser struct{}

type section int

const (
	sectionDescription section = iota
	sectionFiles
	sectionCriteria
)

// Parse implements Parser.
func (MarkdownParser) Parse(text string) Parsed {
	var (
		parsed   Parsed
		current  *workflow.Task
		desc     []string
		mode     section
		batches  int
		deferred *strings.Builder
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Description = strings.TrimSpace(strings.Join(desc, "\n"))
		parsed.Tasks = append(parsed.Tasks, *current)
		current, desc, mode = nil, nil, sectionDescription
	}
	flushBatch := func() {
		if deferred == nil {
			return
		}
		last := &parsed.Batches[len(parsed.Batches)-1]
		last.Description = strings.TrimSpace(deferred.String())
		deferred = nil
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimRight(raw, " \t\r")
		trimmed := strings.TrimSpace(line)

		if m := batchHeading.FindStringSubmatch(trimmed); m != nil {
			batches++
			if batches > 1 {
				flush()
				flushBatch()
				parsed.Batches = append(parsed.Batches, workflow.Batch{Title: strings.TrimSpace(m[1])})
				deferred = &strings.Builder{}
			}
			continue
		}
		if deferred != nil {
			deferred.WriteString(line)
			deferred.WriteByte('\n')
			continue
		}

		if m := taskHeading.FindStringSubmatch(trimmed); m != nil {
			flush()
			t := newTask(len(parsed.Tasks)+1, strings.TrimSpace(m[1]))
			current = &t
			continue
		}
		if current == nil {
			continue
		}

		label, rest := splitLabel(trimmed)
		switch label {
		case "files":
			current.Files = append(current.Files, splitFiles(rest)...)
			mode = sectionFiles
			continue
		case "acceptance criteria", "criteria":
			if rest != "" {
				current.AcceptanceCriteria = append(current.AcceptanceCriteria, rest)
			}
			mode = sectionCriteria
			continue
		}

		if item, ok := bulletItem(trimmed); ok && mode != sectionDescription {
			switch mode {
			case sectionFiles:
				current.Files = append(current.Files, splitFiles(item)...)
			case sectionCriteria:
				current.AcceptanceCriteria = append(current.AcceptanceCriteria, item)
			}
			continue
		}
		if trimmed != "" {
			mode = sectionDescription
		}
		desc = append(desc, line)
	}
	flush()
	flushBatch()

	if len(parsed.Tasks) == 0 {
		return Parsed{}
	}
	return parsed
}

// splitLabel recognises "Files: ..." style lines, tolerating bullets and bold.
func splitLabel(line string) (string, string) {
	s := strings.TrimLeft(line, "-* ")
	s = strings.ReplaceAll(s, "**", "")
	i := strings.Index(s, ":")
	if i < 0 {
		return "", ""
	}
	label := strings.ToLower(strings.TrimSpace(s[:i]))
	switch label {
	case "files", "acceptance criteria", "criteria":
		return label, strings.TrimSpace(s[i+1:])
	default:
		return "", ""
	}
}

func bulletItem(line string) (string, bool) {
	for _, prefix := range []string{"- ", "* ", "+ "} {
		if item, ok := strings.CutPrefix(line, prefix); ok {
			item = checkbox.ReplaceAllString(strings.TrimSpace(item), "")
			return strings.TrimSpace(item), item != ""
		}
	}
	return "", false
}

func splitFiles(s string) []string {
	var files []string
	for _, f := range strings.Split(s, ",") {
		f = strings.Trim(strings.TrimSpace(f), "`")
		if f != "" {
			files = append(files, f)
		}
	}
	return files
}
