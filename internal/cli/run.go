package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pablasso/forge/internal/checkpoint"
	"github.com/pablasso/forge/internal/dispatch"
	"github.com/pablasso/forge/internal/display"
	"github.com/pablasso/forge/internal/git"
	"github.com/pablasso/forge/internal/logging"
	"github.com/pablasso/forge/internal/orchestrator"
	"github.com/pablasso/forge/internal/regression"
	"github.com/pablasso/forge/internal/tui"
	"github.com/pablasso/forge/internal/workflow"
)

var (
	runStep    bool
	runNoInput bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive the active workflow",
	Long: `Runs the active workflow until it is done, needs an answer or halts.
In a terminal, prompts are answered inline. Otherwise answer with ` + "`forge respond`" + ` and run again.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runStep, "step", false, "Run a single phase and stop")
	runCmd.Flags().BoolVar(&runNoInput, "no-input", false, "Never prompt; leave questions for `forge respond`")
}

func runRun(cmd *cobra.Command, args []string) error {
	root, err := findProjectRoot()
	if err != nil {
		return err
	}

	lock := workflow.NewRunLock(root)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	st, err := loadWorkflow(root)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.New(cfg.Logging, filepath.Join(root, workflow.Dir))
	if err != nil {
		return err
	}
	defer closeLog()

	dispatcher := dispatch.NewClaudeDispatcher(agentsDir(root), logger)
	if !dispatcher.IsAvailable() {
		return &PrerequisiteError{
			Check:   "Claude Code CLI",
			Message: "Claude Code CLI not found",
			Help:    "Install Claude Code: https://claude.ai/code",
		}
	}

	// Once configured, the run keeps the test command it captured the baseline with.
	tests := cfg.Tests
	if st.Baseline != nil {
		tests = st.Config.Tests
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	disp := display.New(out)

	rc := &orchestrator.RunContext{
		Config:     *cfg,
		Dispatcher: dispatcher,
		Tests:      regression.NewGoTestRunner(tests.Command),
		SCM:        git.New(),
		Renderer:   disp,
		Store:      workflow.NewStore(root),
		Progress:   workflow.NewProgressLogger(root),
		Logger:     logger,
		Dir:        root,
		Now:        time.Now,
	}
	if interactive(runNoInput) {
		rc.Interactor = &pausedDisplay{display: disp, prompter: tui.NewPrompter(nil, nil)}
	}

	logger.Info("run started", zap.String("run_id", st.RunID), zap.String("phase", string(st.Phase)), zap.Bool("step", runStep))

	driver := orchestrator.NewDriver(rc)
	disp.Start()
	if runStep {
		st, err = driver.Step(ctx, st)
	} else {
		st, err = driver.Run(ctx, st)
	}
	disp.Stop()

	return reportOutcome(out, st, err)
}

// interactive reports whether prompts can be shown on this terminal.
func interactive(noInput bool) bool {
	if noInput {
		return false
	}
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// reportOutcome tells the operator where the run stopped and what to do next.
func reportOutcome(w io.Writer, st *workflow.State, err error) error {
	switch {
	case err == nil && st.Phase == workflow.PhaseDone:
		fmt.Fprintln(w, "Workflow complete.")
		if report := display.RenderReport(st.Report); report != "" {
			fmt.Fprintln(w, report)
		}
		return nil
	case err == nil:
		fmt.Fprintf(w, "Stopped before phase %s. Run `forge run` to continue.\n", st.Phase)
		return nil
	case errors.Is(err, orchestrator.ErrAwaitingInput):
		fmt.Fprint(w, renderPending(st))
		return nil
	case errors.Is(err, context.Canceled):
		fmt.Fprintf(w, "\nInterrupted during %s. Progress is saved; run `forge run` to resume.\n", st.Phase)
		return nil
	case errors.Is(err, orchestrator.ErrHalted):
		return fmt.Errorf("workflow halted in %s: %s", st.Phase, st.Error)
	default:
		return err
	}
}

// renderPending describes the outstanding question and how to answer it.
func renderPending(st *workflow.State) string {
	pi := st.Pending
	if pi == nil {
		return ""
	}
	var b strings.Builder
	if pi.Purpose == workflow.PurposeCheckpoint {
		b.WriteString(display.RenderSummary(orchestrator.CheckpointSummary(st)))
		b.WriteString("\n")
	} else {
		fmt.Fprintf(&b, "%s\n", pi.Prompt)
	}
	switch pi.Kind {
	case workflow.InteractionConfirm:
		b.WriteString("Answer with: forge respond yes|no\n")
	case workflow.InteractionChoice:
		fmt.Fprintf(&b, "Answer with: forge respond <%s> [details]\n", strings.Join(pi.Options, "|"))
	default:
		b.WriteString("Answer with: forge respond <text>\n")
	}
	b.WriteString("Then run `forge run` again.\n")
	return b.String()
}

// pausedDisplay stops the status line while a prompt owns the terminal.
type pausedDisplay struct {
	display  *display.Display
	prompter *tui.Prompter
}

func (p *pausedDisplay) PresentCheckpoint(ctx context.Context, s checkpoint.Summary) (string, error) {
	p.display.Stop()
	defer p.display.Start()
	return p.prompter.PresentCheckpoint(ctx, s)
}

func (p *pausedDisplay) Ask(ctx context.Context, pi *workflow.PendingInteraction) (string, error) {
	p.display.Stop()
	defer p.display.Start()
	return p.prompter.Ask(ctx, pi)
}
