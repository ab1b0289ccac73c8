package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pablasso/forge/internal/config"
	"github.com/pablasso/forge/internal/workflow"
)

const configFileName = "config.yaml"

var (
	errNotInitialized = errors.New("forge is not initialized in this repository. Run `forge init` first")
	errNoWorkflow     = errors.New("no active workflow. Run `forge load <description>` first")
)

// findProjectRoot walks up from the working directory looking for .forge/.
// Returns the directory containing .forge/.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := cwd
	for {
		if info, err := os.Stat(filepath.Join(dir, workflow.Dir)); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errNotInitialized
		}
		dir = parent
	}
}

func configPath(root string) string {
	return filepath.Join(root, workflow.Dir, configFileName)
}

func agentsDir(root string) string {
	return filepath.Join(root, workflow.Dir, "agents")
}

// loadConfig reads the project configuration with environment overrides.
func loadConfig(root string) (*config.Config, error) {
	cfg, err := config.Load(configPath(root))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", configPath(root), err)
	}
	return cfg, nil
}

// loadWorkflow returns the active workflow of the project at root.
func loadWorkflow(root string) (*workflow.State, error) {
	st, err := workflow.NewStore(root).Load()
	if err == workflow.ErrNoWorkflow {
		return nil, errNoWorkflow
	}
	return st, err
}

// ensureIdle refuses to touch the state file while a run holds the lock.
func ensureIdle(root string) error {
	if workflow.NewRunLock(root).IsLocked() {
		return fmt.Errorf("a workflow run is in progress; wait for it to finish or answer in its terminal")
	}
	return nil
}
