package cli

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/pablasso/forge/internal/git"
)

// Swapped in tests so no real claude binary is needed.
var (
	commandFunc  = exec.Command
	lookPathFunc = exec.LookPath
)

// PrerequisiteError represents a failed prerequisite check with helpful remediation info.
type PrerequisiteError struct {
	Check   string
	Message string
	Help    string
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("%s: %s\n\n%s", e.Check, e.Message, e.Help)
}

// checkPrerequisites validates the environment before a workflow runs.
func checkPrerequisites(dir string) error {
	if err := checkGitRepo(dir); err != nil {
		return err
	}
	return checkClaudeCode()
}

// checkGitRepo verifies dir is inside a git repository.
func checkGitRepo(dir string) error {
	_, err := git.New().Head(dir)
	if errors.Is(err, git.ErrNotRepository) {
		return &PrerequisiteError{
			Check:   "Git repository",
			Message: "Not a git repository",
			Help:    "Forge requires a git repository. Run 'git init' first.",
		}
	}
	return err
}

// checkClaudeCode verifies Claude Code CLI is installed and authenticated.
func checkClaudeCode() error {
	if _, err := lookPathFunc("claude"); err != nil {
		return &PrerequisiteError{
			Check:   "Claude Code CLI",
			Message: "Claude Code CLI not found",
			Help:    "Install Claude Code: https://claude.ai/code",
		}
	}

	// claude auth status exits 0 when authenticated
	if err := commandFunc("claude", "auth", "status").Run(); err != nil {
		return &PrerequisiteError{
			Check:   "Claude Code authentication",
			Message: "Claude Code not authenticated",
			Help:    "Run 'claude auth' to authenticate.",
		}
	}
	return nil
}
