package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CommandContext is the function used to create exec.Cmd instances.
// It can be replaced in tests to mock command execution.
var CommandContext = exec.CommandContext

// DefaultTimeout bounds a single agent invocation.
const DefaultTimeout = 30 * time.Minute

// ClaudeDispatcher runs agents through the Claude Code CLI in stream-json mode.
type ClaudeDispatcher struct {
	binary    string
	timeout   time.Duration
	agentsDir string
	logger    *zap.Logger
}

// NewClaudeDispatcher creates a dispatcher. Profile instructions are read
// from <agentsDir>/<profile>.md when that file exists.
func NewClaudeDispatcher(agentsDir string, logger *zap.Logger) *ClaudeDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClaudeDispatcher{
		binary:    "claude",
		timeout:   DefaultTimeout,
		agentsDir: agentsDir,
		logger:    logger,
	}
}

// WithTimeout sets the per-invocation timeout. Zero disables it.
func (d *ClaudeDispatcher) WithTimeout(timeout time.Duration) *ClaudeDispatcher {
	d.timeout = timeout
	return d
}

// IsAvailable checks if the claude command exists in PATH.
func (d *ClaudeDispatcher) IsAvailable() bool {
	_, err := exec.LookPath(d.binary)
	return err == nil
}

func (d *ClaudeDispatcher) args(req Request) []string {
	args := []string{
		"-p", req.Prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	}
	if req.Profile.Model != "" {
		args = append(args, "--model", req.Profile.Model)
	}
	if instructions := d.instructions(req.Profile.Name); instructions != "" {
		args = append(args, "--append-system-prompt", instructions)
	}
	return args
}

func (d *ClaudeDispatcher) instructions(profile string) string {
	if d.agentsDir == "" || profile == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(d.agentsDir, profile+".md"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Dispatch implements Dispatcher.
func (d *ClaudeDispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	runCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	cmd := CommandContext(runCtx, d.binary, d.args(req)...)
	cmd.Dir = req.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("failed to open agent output: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("failed to start %s: %w", d.binary, err)
	}

	var res Result
	scanner := bufio.NewScanner(stdout)
	// Increase buffer size for large JSON lines
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := parseStreamLine(scanner.Text())
		for _, ev := range line.events {
			if ev.SessionID != "" {
				res.SessionID = ev.SessionID
			}
			if req.OnEvent != nil && (ev.Type == EventToolUse || ev.Type == EventToolResult) {
				req.OnEvent(ev)
			}
		}
		if line.message != nil {
			res.Transcript = append(res.Transcript, *line.message)
		}
		if r := line.result; r != nil {
			res.FinalText = r.text
			res.CostUSD = r.costUSD
			res.InputTokens = r.inputTokens
			res.OutputTokens = r.outputTokens
			res.StopReason = r.stopReason()
		}
	}
	scanErr := scanner.Err()
	waitErr := cmd.Wait()
	res.Stderr = strings.TrimSpace(stderr.String())

	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.StopReason = StopTimeout
		res.ExitCode = -1
		d.log(req, res)
		return res, nil
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("failed to run %s: %w", d.binary, waitErr)
		}
		res.ExitCode = exitErr.ExitCode()
		if res.StopReason == "" || res.StopReason == StopCompleted {
			res.StopReason = StopError
		}
	}
	if scanErr != nil && res.StopReason == "" {
		res.StopReason = StopError
		res.Stderr = strings.TrimSpace(res.Stderr + "\nstream read error: " + scanErr.Error())
	}
	if res.StopReason == "" {
		// The process exited cleanly without a result line.
		res.StopReason = StopCompleted
	}
	d.log(req, res)
	return res, nil
}

func (d *ClaudeDispatcher) log(req Request, res Result) {
	d.logger.Debug("agent dispatched",
		zap.String("profile", req.Profile.Name),
		zap.String("model", req.Profile.Model),
		zap.Int("exit_code", res.ExitCode),
		zap.String("stop_reason", string(res.StopReason)),
		zap.Float64("cost_usd", res.CostUSD),
		zap.Int64("input_tokens", res.InputTokens),
		zap.Int64("output_tokens", res.OutputTokens),
	)
}
