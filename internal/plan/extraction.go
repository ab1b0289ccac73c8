package plan

import (
	"encoding/json"
	"strings"

	"github.com/pablasso/forge/internal/workflow"
)

// TaskExtractionResult is the JSON plan format a planner may emit.
type TaskExtractionResult struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Tasks       []ExtractedTask  `json:"tasks"`
	Batches     []workflow.Batch `json:"batches"`
}

// ExtractedTask is a single task in the JSON plan format.
type ExtractedTask struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Files              []string `json:"files"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
}

// JSONParser reads the JSON plan format, optionally wrapped in a code fence
// or surrounded by prose.
type JSONParser struct{}

// Parse implements Parser.
func (JSONParser) Parse(text string) Parsed {
	data, ok := extractJSON(text)
	if !ok {
		return Parsed{}
	}
	var result TaskExtractionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return Parsed{}
	}

	var parsed Parsed
	for _, et := range result.Tasks {
		title := strings.TrimSpace(et.Title)
		if title == "" {
			continue
		}
		t := newTask(len(parsed.Tasks)+1, title)
		t.Description = strings.TrimSpace(et.Description)
		t.Files = et.Files
		t.AcceptanceCriteria = et.AcceptanceCriteria
		parsed.Tasks = append(parsed.Tasks, t)
	}
	if len(parsed.Tasks) == 0 {
		return Parsed{}
	}
	parsed.Batches = result.Batches
	return parsed
}

// extractJSON finds a JSON object in potentially noisy output.
func extractJSON(text string) ([]byte, bool) {
	str := stripMarkdownCodeBlocks(text)
	if json.Valid([]byte(str)) {
		return []byte(str), true
	}

	start := strings.Index(str, "{")
	end := strings.LastIndex(str, "}")
	if start == -1 || end == -1 || start >= end {
		return nil, false
	}
	extracted := str[start : end+1]
	if !json.Valid([]byte(extracted)) {
		return nil, false
	}
	return []byte(extracted), true
}

// stripMarkdownCodeBlocks removes a surrounding ```json ... ``` fence.
func stripMarkdownCodeBlocks(s string) string {
	s = strings.TrimSpace(s)
	if cut, found := strings.CutPrefix(s, "```json"); found {
		s = cut
	} else if cut, found := strings.CutPrefix(s, "```"); found {
		s = cut
	}
	if cut, found := strings.CutSuffix(s, "```"); found {
		s = cut
	}
	return strings.TrimSpace(s)
}
