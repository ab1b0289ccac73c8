package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pablasso/forge/internal/workflow"
)

// gitignoreEntries keep run-local files out of commits.
var gitignoreEntries = []string{
	workflow.Dir + "/run.lock",
	workflow.Dir + "/debug.log",
}

const defaultConfig = `# Forge workflow configuration. Environment variables override these values,
# e.g. FORGE_BUDGET_WARN_USD=10.
execution:
  mode: auto            # auto | checkpoint
  max_iterations: 3
  work_dir: .
budget:
  warn_usd: 25
  hard_limit_usd: 75
agents:
  planner:
    name: planner
  implementer:
    name: implementer
  finalizer:
    name: finalizer
reviewers:
  - name: correctness
    focus: correctness, tests and acceptance criteria
    required: true
  - name: style
    focus: readability and idiomatic style
    required: false
tests:
  command: [go, test, -json, ./...]
  flake_policy: first-failure   # first-failure | after-rerun
  skip_rerun: false
checkpoint:
  test_failure_trigger: false
plan:
  auto_approve: false
  max_revisions: 3
# failures:
#   test-flake: stop-and-show-diff
logging:
  level: info
  format: json
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize Forge in the current repository",
	Long:  "Creates a .forge/ folder holding the workflow configuration, agent instructions and run state.",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	if err := checkPrerequisites(cwd); err != nil {
		return err
	}

	if info, err := os.Stat(workflow.Dir); err == nil && info.IsDir() {
		return fmt.Errorf("forge is already initialized in this repository")
	}

	if err := os.MkdirAll(agentsDir(cwd), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", agentsDir(cwd), err)
	}
	if err := os.WriteFile(configPath(cwd), []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", configPath(cwd), err)
	}
	if err := addToGitignore(gitignoreEntries...); err != nil {
		return fmt.Errorf("failed to update .gitignore: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Initialized Forge in", workflow.Dir)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Review", filepath.Join(workflow.Dir, configFileName))
	fmt.Fprintln(out, "  2. Optionally add agent instructions under", filepath.Join(workflow.Dir, "agents"))
	fmt.Fprintln(out, "  3. Run: forge load \"<what to build>\" && forge run")
	return nil
}

// addToGitignore appends entries that are not present yet.
func addToGitignore(entries ...string) error {
	content, err := os.ReadFile(".gitignore")
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	existing := make(map[string]bool)
	for _, line := range strings.Split(string(content), "\n") {
		existing[strings.TrimSpace(line)] = true
	}

	var b strings.Builder
	b.Write(content)
	if len(content) > 0 && !strings.HasSuffix(string(content), "\n") {
		b.WriteString("\n")
	}
	added := false
	for _, e := range entries {
		if existing[e] {
			continue
		}
		b.WriteString(e + "\n")
		added = true
	}
	if !added {
		return nil
	}
	return os.WriteFile(".gitignore", []byte(b.String()), 0644)
}

// removeFromGitignore drops entries, deleting the file when nothing is left.
func removeFromGitignore(entries ...string) error {
	content, err := os.ReadFile(".gitignore")
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	drop := make(map[string]bool, len(entries))
	for _, e := range entries {
		drop[e] = true
	}
	var kept []string
	for _, line := range strings.Split(strings.TrimRight(string(content), "\n"), "\n") {
		if !drop[strings.TrimSpace(line)] {
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 || (len(kept) == 1 && kept[0] == "") {
		return os.Remove(".gitignore")
	}
	return os.WriteFile(".gitignore", []byte(strings.Join(kept, "\n")+"\n"), 0644)
}
