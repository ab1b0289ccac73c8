package cli

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/pablasso/forge/internal/config"
	"github.com/pablasso/forge/internal/testutil"
	"github.com/pablasso/forge/internal/workflow"
)

// mockClaude makes the claude prerequisite checks pass or fail.
func mockClaude(t *testing.T, installed, authenticated bool) {
	t.Helper()
	origLook, origCmd := lookPathFunc, commandFunc
	t.Cleanup(func() {
		lookPathFunc, commandFunc = origLook, origCmd
	})

	lookPathFunc = func(file string) (string, error) {
		if !installed {
			return "", exec.ErrNotFound
		}
		return "/usr/local/bin/" + file, nil
	}
	commandFunc = func(name string, args ...string) *exec.Cmd {
		if authenticated {
			return exec.Command("true")
		}
		return exec.Command("false")
	}
}

// setupRepo changes into a fresh git repository.
func setupRepo(t *testing.T) string {
	t.Helper()
	dir := testutil.SetupTestDir(t)
	_, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	return dir
}

// setupProject changes into an initialized forge project.
func setupProject(t *testing.T) string {
	t.Helper()
	dir := setupRepo(t)
	require.NoError(t, os.MkdirAll(agentsDir(dir), 0755))
	require.NoError(t, os.WriteFile(configPath(dir), []byte(defaultConfig), 0644))
	return dir
}

// saveWorkflow stores a workflow in phase for the project at dir.
func saveWorkflow(t *testing.T, dir string, phase workflow.Phase) *workflow.State {
	t.Helper()
	st := workflow.New("add rate limiting", *config.Default(), time.Now())
	st.Phase = phase
	require.NoError(t, workflow.NewStore(dir).Save(st))
	return st
}

func loadSaved(t *testing.T, dir string) *workflow.State {
	t.Helper()
	st, err := workflow.NewStore(dir).Load()
	require.NoError(t, err)
	return st
}

// holdLock takes the run lock for the rest of the test.
func holdLock(t *testing.T, dir string) {
	t.Helper()
	lock := workflow.NewRunLock(dir)
	require.NoError(t, lock.Acquire())
	t.Cleanup(func() { lock.Release() })
}

// newTestCmd returns a command whose output is captured and whose input
// reads from in.
func newTestCmd(in string) (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(in))
	return cmd, &out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Clean(path))
	require.NoError(t, err)
	return string(data)
}
