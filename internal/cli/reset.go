package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pablasso/forge/internal/workflow"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the active workflow",
	Long:  "Deletes the workflow state. Code changes, the progress log and the queue are left alone.",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

func runReset(cmd *cobra.Command, args []string) error {
	root, err := findProjectRoot()
	if err != nil {
		return err
	}
	if err := ensureIdle(root); err != nil {
		return err
	}

	store := workflow.NewStore(root)
	if _, err := os.Stat(store.Path()); os.IsNotExist(err) {
		fmt.Fprintln(cmd.OutOrStdout(), "No active workflow.")
		return nil
	}
	if err := store.Delete(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Workflow discarded.")
	return nil
}
