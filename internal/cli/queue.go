package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pablasso/forge/internal/workflow"
)

var (
	queueDescription string
	queueParent      string
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage workflows deferred for later",
}

var queueAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Queue a workflow to run after the current one",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQueueAdd,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued workflows",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

func init() {
	queueAddCmd.Flags().StringVarP(&queueDescription, "description", "d", "", "Longer description of the work")
	queueAddCmd.Flags().StringVar(&queueParent, "parent", "", "Run ID this work follows from (defaults to the active workflow)")
	queueCmd.AddCommand(queueAddCmd, queueListCmd)
}

func runQueueAdd(cmd *cobra.Command, args []string) error {
	root, err := findProjectRoot()
	if err != nil {
		return err
	}

	parent := queueParent
	if parent == "" {
		st, err := loadWorkflow(root)
		switch {
		case err == nil:
			parent = st.RunID
		case !errors.Is(err, errNoWorkflow):
			return err
		}
	}

	d := workflow.Descriptor{
		Title:       strings.TrimSpace(strings.Join(args, " ")),
		Description: strings.TrimSpace(queueDescription),
		Parent:      parent,
	}
	q := workflow.NewQueue(root)
	if err := q.Enqueue(d); err != nil {
		return err
	}
	items, err := q.List()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued %q (position %d)\n", d.Title, len(items))
	return nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	root, err := findProjectRoot()
	if err != nil {
		return err
	}
	items, err := workflow.NewQueue(root).List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(out, "Queue is empty.")
		return nil
	}
	for i, d := range items {
		fmt.Fprintf(out, "%d. %s", i+1, firstNonEmpty(d.Title, d.Description))
		if d.Parent != "" {
			fmt.Fprintf(out, " (after %s)", d.Parent)
		}
		fmt.Fprintln(out)
	}
	return nil
}
