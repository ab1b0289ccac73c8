package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pablasso/forge/internal/config"
	"github.com/pablasso/forge/internal/testutil"
	"github.com/pablasso/forge/internal/workflow"
)

func TestRunInit(t *testing.T) {
	t.Run("creates the metadata directory and updates gitignore", func(t *testing.T) {
		dir := setupRepo(t)
		mockClaude(t, true, true)
		cmd, out := newTestCmd("")

		require.NoError(t, runInit(cmd, nil))

		assert.DirExists(t, filepath.Join(dir, workflow.Dir, "agents"))
		assert.FileExists(t, configPath(dir))
		gitignore := readFile(t, filepath.Join(dir, ".gitignore"))
		assert.Contains(t, gitignore, ".forge/run.lock\n")
		assert.Contains(t, gitignore, ".forge/debug.log\n")
		assert.Contains(t, out.String(), "Initialized Forge")
	})

	t.Run("written config loads with the documented values", func(t *testing.T) {
		dir := setupRepo(t)
		mockClaude(t, true, true)
		cmd, _ := newTestCmd("")
		require.NoError(t, runInit(cmd, nil))

		cfg, err := loadConfig(dir)
		require.NoError(t, err)
		assert.Equal(t, config.ModeAuto, cfg.Execution.Mode)
		assert.Equal(t, 3, cfg.Execution.MaxIterations)
		assert.Equal(t, 75.0, cfg.Budget.HardLimitUSD)
		assert.Equal(t, []string{"go", "test", "-json", "./..."}, cfg.Tests.Command)
		require.Len(t, cfg.Reviewers, 2)
		assert.True(t, cfg.Reviewers[0].Required)
		assert.False(t, cfg.Reviewers[1].Required)
	})

	t.Run("refuses to initialize twice", func(t *testing.T) {
		setupRepo(t)
		mockClaude(t, true, true)
		cmd, _ := newTestCmd("")
		require.NoError(t, runInit(cmd, nil))

		err := runInit(cmd, nil)
		assert.EqualError(t, err, "forge is already initialized in this repository")
	})

	t.Run("fails outside a git repository", func(t *testing.T) {
		dir := testutil.SetupTestDir(t)
		mockClaude(t, true, true)
		cmd, _ := newTestCmd("")

		var perr *PrerequisiteError
		require.True(t, errors.As(runInit(cmd, nil), &perr))
		assert.NoDirExists(t, filepath.Join(dir, workflow.Dir))
	})
}

func TestRunDeinit(t *testing.T) {
	t.Run("fails when not initialized", func(t *testing.T) {
		testutil.SetupTestDir(t)
		cmd, _ := newTestCmd("")
		assert.EqualError(t, runDeinit(cmd, nil), "forge is not initialized in this repository")
	})

	t.Run("fails when the metadata path is a file", func(t *testing.T) {
		testutil.SetupTestDir(t)
		require.NoError(t, os.WriteFile(workflow.Dir, []byte("x"), 0644))
		cmd, _ := newTestCmd("")
		assert.EqualError(t, runDeinit(cmd, nil), ".forge exists but is not a directory")
	})

	t.Run("declined prompt keeps everything", func(t *testing.T) {
		dir := setupProject(t)
		cmd, out := newTestCmd("n\n")

		require.NoError(t, runDeinit(cmd, nil))
		assert.DirExists(t, filepath.Join(dir, workflow.Dir))
		assert.Contains(t, out.String(), "Continue? [y/N]")
		assert.Contains(t, out.String(), "Aborted.")
	})

	t.Run("confirmed prompt removes the project", func(t *testing.T) {
		dir := setupProject(t)
		require.NoError(t, os.WriteFile(".gitignore", []byte("node_modules\n.forge/run.lock\n.forge/debug.log\n"), 0644))
		cmd, out := newTestCmd("yes\n")

		require.NoError(t, runDeinit(cmd, nil))
		assert.NoDirExists(t, filepath.Join(dir, workflow.Dir))
		assert.Equal(t, "node_modules\n", readFile(t, ".gitignore"))
		assert.Contains(t, out.String(), "Forge has been removed")
	})

	t.Run("force skips the prompt", func(t *testing.T) {
		origForce := deinitForce
		t.Cleanup(func() { deinitForce = origForce })
		deinitForce = true

		dir := setupProject(t)
		saveWorkflow(t, dir, workflow.PhaseExecute)
		cmd, out := newTestCmd("")

		require.NoError(t, runDeinit(cmd, nil))
		assert.NoDirExists(t, filepath.Join(dir, workflow.Dir))
		assert.NotContains(t, out.String(), "Continue?")
	})

	t.Run("refuses while a run holds the lock", func(t *testing.T) {
		dir := setupProject(t)
		holdLock(t, dir)
		cmd, _ := newTestCmd("y\n")

		assert.Error(t, runDeinit(cmd, nil))
		assert.DirExists(t, filepath.Join(dir, workflow.Dir))
	})
}

func TestGitignore(t *testing.T) {
	t.Run("appends missing entries after unterminated content", func(t *testing.T) {
		testutil.SetupTestDir(t)
		require.NoError(t, os.WriteFile(".gitignore", []byte("node_modules"), 0644))

		require.NoError(t, addToGitignore(gitignoreEntries...))
		assert.Equal(t, "node_modules\n.forge/run.lock\n.forge/debug.log\n", readFile(t, ".gitignore"))

		require.NoError(t, addToGitignore(gitignoreEntries...))
		assert.Equal(t, "node_modules\n.forge/run.lock\n.forge/debug.log\n", readFile(t, ".gitignore"))
	})

	t.Run("removing the only entries deletes the file", func(t *testing.T) {
		testutil.SetupTestDir(t)
		require.NoError(t, addToGitignore(gitignoreEntries...))

		require.NoError(t, removeFromGitignore(gitignoreEntries...))
		assert.False(t, fileExists(".gitignore"))
	})

	t.Run("removing from a missing file is a no-op", func(t *testing.T) {
		testutil.SetupTestDir(t)
		assert.NoError(t, removeFromGitignore(gitignoreEntries...))
	})
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512B", formatSize(512))
	assert.Equal(t, "1.5KB", formatSize(1536))
	assert.Equal(t, "2.0MB", formatSize(2*1024*1024))
}
