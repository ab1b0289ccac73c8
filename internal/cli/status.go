package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pablasso/forge/internal/analysis"
	"github.com/pablasso/forge/internal/display"
	"github.com/pablasso/forge/internal/workflow"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active workflow",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	root, err := findProjectRoot()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	st, err := loadWorkflow(root)
	if errors.Is(err, errNoWorkflow) {
		fmt.Fprintln(out, "No active workflow.")
		return printQueueLength(cmd, root)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(out, display.RenderStatus(st))
	if st.Phase == workflow.PhaseDone {
		if report := display.RenderReport(st.Report); report != "" {
			fmt.Fprintln(out, report)
		}
		suggestions, err := analysis.NewAnalyzer(workflow.NewProgressLogger(root).Path(), st).Analyze()
		if err != nil {
			return err
		}
		if text := analysis.FormatSuggestions(suggestions, filepath.Join(workflow.Dir, "agents")); text != "" {
			fmt.Fprintln(out, text)
		}
	}
	if workflow.NewRunLock(root).IsLocked() {
		fmt.Fprintln(out, "A run is in progress.")
	}
	return printQueueLength(cmd, root)
}

func printQueueLength(cmd *cobra.Command, root string) error {
	items, err := workflow.NewQueue(root).List()
	if err != nil {
		return err
	}
	if len(items) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%d workflow(s) queued. Run `forge queue list` to see them.\n", len(items))
	}
	return nil
}
