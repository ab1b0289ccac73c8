package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pablasso/forge/internal/workflow"
)

var respondCmd = &cobra.Command{
	Use:   "respond <answer>",
	Short: "Answer the question the workflow is waiting on",
	Long: `Records an answer for the pending interaction. Choice answers may carry details
after the option, e.g. "forge respond revise split task 3" or "forge respond adjust skip 4".`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRespond,
}

func runRespond(cmd *cobra.Command, args []string) error {
	root, err := findProjectRoot()
	if err != nil {
		return err
	}
	if err := ensureIdle(root); err != nil {
		return err
	}

	st, err := loadWorkflow(root)
	if err != nil {
		return err
	}
	if st.Pending == nil {
		return fmt.Errorf("the workflow is not waiting for input")
	}
	if st.Pending.Answered() {
		return fmt.Errorf("already answered %q. Run `forge run` to continue", *st.Pending.Response)
	}

	answer := strings.TrimSpace(strings.Join(args, " "))
	if err := st.Answer(answer); err != nil {
		return err
	}
	if err := workflow.NewStore(root).Save(st); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %q. Run `forge run` to continue.\n", answer)
	return nil
}
