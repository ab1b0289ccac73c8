package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pablasso/forge/internal/workflow"
)

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Start the next queued workflow",
	Long:  "Dequeues the oldest descriptor and loads it as a fresh workflow. The current workflow must be done.",
	Args:  cobra.NoArgs,
	RunE:  runNext,
}

func runNext(cmd *cobra.Command, args []string) error {
	root, err := findProjectRoot()
	if err != nil {
		return err
	}
	if err := ensureIdle(root); err != nil {
		return err
	}

	current, err := loadWorkflow(root)
	switch {
	case errors.Is(err, errNoWorkflow):
	case err != nil:
		return err
	case current.Phase != workflow.PhaseDone:
		return fmt.Errorf("workflow %s is still in phase %s", current.RunID, current.Phase)
	}

	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}

	d, err := workflow.NewQueue(root).Dequeue()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if d == nil {
		fmt.Fprintln(out, "Queue is empty.")
		return nil
	}

	st := workflow.New(descriptorText(*d), *cfg, time.Now())
	if err := workflow.NewStore(root).Save(st); err != nil {
		return err
	}
	fmt.Fprintf(out, "Loaded workflow %s: %s\n", st.RunID, firstNonEmpty(d.Title, d.Description))
	fmt.Fprintln(out, "Run `forge run` to start.")
	return nil
}

// descriptorText turns a queued descriptor into a workflow description.
func descriptorText(d workflow.Descriptor) string {
	parts := make([]string, 0, 2)
	for _, s := range []string{d.Title, d.Description} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
