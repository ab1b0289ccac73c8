package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pablasso/forge/internal/workflow"
)

var (
	loadPlanFile string
	loadForce    bool
)

var loadCmd = &cobra.Command{
	Use:   "load <description>",
	Short: "Start a new workflow",
	Long: `Create a workflow for the described change. The planner drafts tasks on the first
run unless --plan supplies a plan file, written as "## Task N: <title>" sections.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLoad,
}

func init() {
	loadCmd.Flags().StringVar(&loadPlanFile, "plan", "", "Markdown or JSON plan to use instead of asking the planner")
	loadCmd.Flags().BoolVar(&loadForce, "force", false, "Replace an unfinished workflow")
}

func runLoad(cmd *cobra.Command, args []string) error {
	root, err := findProjectRoot()
	if err != nil {
		return err
	}
	if err := ensureIdle(root); err != nil {
		return err
	}

	description := strings.TrimSpace(strings.Join(args, " "))
	if description == "" {
		return fmt.Errorf("description must not be empty")
	}

	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}

	store := workflow.NewStore(root)
	if existing, err := store.Load(); err == nil && existing.Phase != workflow.PhaseDone && !loadForce {
		return fmt.Errorf("workflow %s is still in phase %s. Finish it, run `forge reset`, or pass --force", existing.RunID, existing.Phase)
	}

	st := workflow.New(description, *cfg, time.Now())
	if loadPlanFile != "" {
		content, err := os.ReadFile(loadPlanFile)
		if err != nil {
			return fmt.Errorf("failed to read plan: %w", err)
		}
		if strings.TrimSpace(string(content)) == "" {
			return fmt.Errorf("plan file is empty: %s", loadPlanFile)
		}
		st.PlanText = string(content)
	}

	if err := store.Save(st); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Loaded workflow %s\n", st.RunID)
	if st.PlanText != "" {
		fmt.Fprintf(out, "Using plan from %s\n", loadPlanFile)
	}
	fmt.Fprintln(out, "Run `forge run` to start.")
	return nil
}
