package cli

import (
	"github.com/spf13/cobra"

	"github.com/pablasso/forge/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "Plan, implement and review changes with AI coding agents",
	Long: `Forge drafts a plan for a change, implements it task by task with an agent,
gates every task on reviewers and the test suite, and pauses at checkpoints
when cost or regressions need a decision.`,
	Version:      version.String(),
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(
		initCmd,
		deinitCmd,
		loadCmd,
		runCmd,
		statusCmd,
		respondCmd,
		resetCmd,
		nextCmd,
		queueCmd,
	)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
