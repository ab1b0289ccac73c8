package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pablasso/forge/internal/workflow"
)

var (
	deinitForce bool
)

var deinitCmd = &cobra.Command{
	Use:   "deinit",
	Short: "Remove Forge from the current repository",
	Long:  "Removes the .forge/ folder with its configuration, workflow state and queue. This action cannot be undone.",
	Args:  cobra.NoArgs,
	RunE:  runDeinit,
}

func init() {
	deinitCmd.Flags().BoolVarP(&deinitForce, "force", "f", false, "Skip confirmation prompt")
}

func runDeinit(cmd *cobra.Command, args []string) error {
	info, err := os.Stat(workflow.Dir)
	if os.IsNotExist(err) {
		return fmt.Errorf("forge is not initialized in this repository")
	}
	if err != nil {
		return fmt.Errorf("failed to check %s directory: %w", workflow.Dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists but is not a directory", workflow.Dir)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	if err := ensureIdle(cwd); err != nil {
		return err
	}

	fileCount, totalSize, err := calculateDirStats(workflow.Dir)
	if err != nil {
		return fmt.Errorf("failed to analyze %s/: %w", workflow.Dir, err)
	}

	out := cmd.OutOrStdout()
	if !deinitForce {
		fmt.Fprintf(out, "This will delete %s/ (%d files, %s). Continue? [y/N] ", workflow.Dir, fileCount, formatSize(totalSize))
		if !confirm(cmd.InOrStdin()) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	if err := os.RemoveAll(workflow.Dir); err != nil {
		return fmt.Errorf("failed to remove %s/: %w", workflow.Dir, err)
	}
	if err := removeFromGitignore(gitignoreEntries...); err != nil {
		return fmt.Errorf("failed to update .gitignore: %w", err)
	}

	fmt.Fprintln(out, "Forge has been removed from this repository.")
	return nil
}

func confirm(in io.Reader) bool {
	response, _ := bufio.NewReader(in).ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func calculateDirStats(dir string) (fileCount int, totalSize int64, err error) {
	err = filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.IsDir() {
			fileCount++
			totalSize += info.Size()
		}
		return nil
	})
	return
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
	)
	switch {
	case bytes >= MB:
		return fmt.Sprintf("%.1fMB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1fKB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}
