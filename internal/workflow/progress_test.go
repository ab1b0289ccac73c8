package workflow

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressLogger_WritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	logger := NewProgressLogger(dir).ForRun("run-1")

	require.NoError(t, logger.PhaseStarted(PhaseExecute))
	require.NoError(t, logger.TaskStarted(1, 1))
	require.NoError(t, logger.ReviewVerdict(1, "correctness", "pass", true))
	require.NoError(t, logger.TaskCompleted(1, 0.75))
	require.NoError(t, logger.PhaseCompleted(PhaseExecute, PhaseFinalize))

	events, err := ReadProgress(logger.Path())
	require.NoError(t, err)
	require.Len(t, events, 5)

	assert.Equal(t, EventPhaseStarted, events[0].Event)
	assert.Equal(t, "run-1", events[0].RunID)
	assert.Equal(t, "execute", events[0].Data["phase"])
	assert.Equal(t, EventReviewVerdict, events[2].Event)
	assert.Equal(t, true, events[2].Data["required"])
	// JSON numbers decode as float64.
	assert.Equal(t, 0.75, events[3].Data["cost_usd"])
	assert.Equal(t, "finalize", events[4].Data["next"])
}

func TestReadProgress_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	logger := NewProgressLogger(dir)
	require.NoError(t, logger.WorkflowHalted(PhaseExecute, "escalated"))

	f, err := os.OpenFile(logger.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{truncated\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, logger.CheckpointRaised([]string{"budget-warning"}, 30))

	events, err := ReadProgress(logger.Path())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventWorkflowHalted, events[0].Event)
	assert.Equal(t, EventCheckpointRaised, events[1].Event)
}

func TestProgressLogger_NilDiscards(t *testing.T) {
	var logger *ProgressLogger
	assert.NoError(t, logger.TaskEscalated(1, "reason"))
}
