// Package plan turns planner output into tasks and applies operator
// adjustments to a live task list.
package plan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pablasso/forge/internal/workflow"
)

// Adjustment is an operator edit to the remaining plan.
type Adjustment struct {
	Drop    []int `json:"drop,omitempty"`
	Skip    []int `json:"skip,omitempty"`
	Reorder []int `json:"reorder,omitempty"`
}

// IsEmpty reports whether the adjustment changes nothing.
func (a Adjustment) IsEmpty() bool {
	return len(a.Drop) == 0 && len(a.Skip) == 0 && len(a.Reorder) == 0
}

func (a Adjustment) String() string {
	var parts []string
	if len(a.Drop) > 0 {
		parts = append(parts, "drop "+joinIDs(a.Drop))
	}
	if len(a.Skip) > 0 {
		parts = append(parts, "skip "+joinIDs(a.Skip))
	}
	if len(a.Reorder) > 0 {
		parts = append(parts, "order "+joinIDs(a.Reorder))
	}
	if len(parts) == 0 {
		return "no changes"
	}
	return strings.Join(parts, "; ")
}

// Apply returns a new task list with adj applied. The input is not modified.
//
// Complete, skipped and escalated tasks are never dropped or skipped. Drop
// removes a task, skip marks it skipped in place, and reorder sequences tasks
// by the given ids, appending any task the order does not mention in its
// original position relative to the other unmentioned tasks.
func Apply(tasks []workflow.Task, adj Adjustment) []workflow.Task {
	drop := idSet(adj.Drop)
	skip := idSet(adj.Skip)

	out := make([]workflow.Task, 0, len(tasks))
	for _, t := range tasks {
		t = t.Clone()
		if !t.Status.IsTerminal() {
			if drop[t.ID] {
				continue
			}
			if skip[t.ID] {
				t.Status = workflow.TaskSkipped
			}
		}
		out = append(out, t)
	}

	if len(adj.Reorder) == 0 {
		return out
	}
	return reorder(out, adj.Reorder)
}

func reorder(tasks []workflow.Task, order []int) []workflow.Task {
	index := make(map[int]int, len(tasks))
	for i, t := range tasks {
		index[t.ID] = i
	}

	placed := make([]bool, len(tasks))
	out := make([]workflow.Task, 0, len(tasks))
	for _, id := range order {
		i, ok := index[id]
		if !ok || placed[i] {
			continue
		}
		placed[i] = true
		out = append(out, tasks[i])
	}
	for i, t := range tasks {
		if !placed[i] {
			out = append(out, t)
		}
	}
	return out
}

func idSet(ids []int) map[int]bool {
	set := make(map[int]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func joinIDs(ids []int) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = strconv.Itoa(id)
	}
	return strings.Join(s, ",")
}

// ParseAdjustment reads the free-text form used at checkpoints, e.g.
// "drop 3,4; skip 5; order 2 1 5". Clauses are separated by semicolons or
// newlines; ids by commas or spaces.
func ParseAdjustment(text string) (Adjustment, error) {
	var adj Adjustment
	clauses := strings.FieldsFunc(text, func(r rune) bool { return r == ';' || r == '\n' })
	for _, clause := range clauses {
		fields := strings.FieldsFunc(clause, func(r rune) bool {
			return r == ' ' || r == ',' || r == '\t' || r == ':'
		})
		if len(fields) == 0 {
			continue
		}
		ids, err := parseIDs(fields[1:])
		if err != nil {
			return Adjustment{}, fmt.Errorf("%q: %w", strings.TrimSpace(clause), err)
		}
		switch strings.ToLower(fields[0]) {
		case "drop", "remove":
			adj.Drop = append(adj.Drop, ids...)
		case "skip":
			adj.Skip = append(adj.Skip, ids...)
		case "order", "reorder":
			adj.Reorder = append(adj.Reorder, ids...)
		default:
			return Adjustment{}, fmt.Errorf("unknown adjustment %q (want drop, skip or order)", fields[0])
		}
	}
	if adj.IsEmpty() {
		return Adjustment{}, fmt.Errorf("adjustment %q names no tasks", strings.TrimSpace(text))
	}
	return adj, nil
}

func parseIDs(fields []string) ([]int, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("no task ids")
	}
	ids := make([]int, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.Atoi(strings.TrimPrefix(f, "#"))
		if err != nil || id < 1 {
			return nil, fmt.Errorf("invalid task id %q", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
