package plan

import (
	"testing"

	"github.com/pablasso/forge/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTasks() []workflow.Task {
	return []workflow.Task{
		{ID: 1, Title: "one", Status: workflow.TaskComplete, Files: []string{"a.go"}},
		{ID: 2, Title: "two", Status: workflow.TaskEscalated},
		{ID: 3, Title: "three", Status: workflow.TaskPending},
		{ID: 4, Title: "four", Status: workflow.TaskPending},
		{ID: 5, Title: "five", Status: workflow.TaskPending},
		{ID: 6, Title: "six", Status: workflow.TaskSkipped},
	}
}

func ids(tasks []workflow.Task) []int {
	out := make([]int, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestApply_DropAndSkip(t *testing.T) {
	tasks := sampleTasks()
	out := Apply(tasks, Adjustment{Drop: []int{3}, Skip: []int{4}})

	assert.Equal(t, []int{1, 2, 4, 5, 6}, ids(out))
	assert.Equal(t, workflow.TaskSkipped, out[2].Status)
	assert.Equal(t, workflow.TaskPending, out[3].Status)
}

func TestApply_ProtectsTerminalTasks(t *testing.T) {
	tasks := sampleTasks()
	out := Apply(tasks, Adjustment{Drop: []int{1, 2, 6}, Skip: []int{1, 2}})

	assert.Equal(t, ids(tasks), ids(out))
	assert.Equal(t, workflow.TaskComplete, out[0].Status)
	assert.Equal(t, workflow.TaskEscalated, out[1].Status)
	assert.Equal(t, workflow.TaskSkipped, out[5].Status)
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	tasks := sampleTasks()
	before := workflow.CloneTasks(tasks)

	out := Apply(tasks, Adjustment{Drop: []int{5}, Skip: []int{3, 4}, Reorder: []int{4, 3}})
	require.Equal(t, []int{4, 3, 1, 2, 6}, ids(out))
	out[2].Files[0] = "mutated.go"
	out[0].Status = workflow.TaskComplete

	assert.Equal(t, before, tasks)
}

func TestApply_Reorder(t *testing.T) {
	t.Run("explicit order", func(t *testing.T) {
		out := Apply(sampleTasks(), Adjustment{Reorder: []int{1, 2, 5, 3, 4, 6}})
		assert.Equal(t, []int{1, 2, 5, 3, 4, 6}, ids(out))
	})

	t.Run("missing tasks are appended, not lost", func(t *testing.T) {
		out := Apply(sampleTasks(), Adjustment{Reorder: []int{5, 4}})
		assert.Equal(t, []int{5, 4, 1, 2, 3, 6}, ids(out))
	})

	t.Run("unknown, duplicate and dropped ids are ignored", func(t *testing.T) {
		out := Apply(sampleTasks(), Adjustment{Drop: []int{3}, Reorder: []int{99, 5, 5, 3}})
		assert.Equal(t, []int{5, 1, 2, 4, 6}, ids(out))
	})
}

func TestApply_PropertyTerminalTasksSurvive(t *testing.T) {
	all := []int{1, 2, 3, 4, 5, 6}
	adjustments := []Adjustment{
		{Drop: all},
		{Skip: all},
		{Drop: all, Skip: all, Reorder: []int{6, 5, 4}},
		{Reorder: []int{3}},
	}
	for _, adj := range adjustments {
		tasks := sampleTasks()
		out := Apply(tasks, adj)
		for _, orig := range tasks {
			if !orig.Status.IsTerminal() {
				continue
			}
			var found *workflow.Task
			for i := range out {
				if out[i].ID == orig.ID {
					found = &out[i]
				}
			}
			require.NotNil(t, found, "terminal task %d vanished under %v", orig.ID, adj)
			assert.Equal(t, orig.Status, found.Status)
		}
	}
}

func TestParseAdjustment(t *testing.T) {
	adj, err := ParseAdjustment("drop 3,4; skip #5\norder 2 1 5")
	require.NoError(t, err)
	assert.Equal(t, Adjustment{Drop: []int{3, 4}, Skip: []int{5}, Reorder: []int{2, 1, 5}}, adj)
	assert.Equal(t, "drop 3,4; skip 5; order 2,1,5", adj.String())

	adj, err = ParseAdjustment("Skip: 7")
	require.NoError(t, err)
	assert.Equal(t, []int{7}, adj.Skip)

	for _, bad := range []string{"", "   ", "drop", "drop x", "skip 0", "rename 3", "drop 3; explode 4"} {
		_, err := ParseAdjustment(bad)
		assert.Error(t, err, bad)
	}
}
