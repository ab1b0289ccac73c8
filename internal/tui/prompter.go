package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pablasso/forge/internal/checkpoint"
	"github.com/pablasso/forge/internal/display"
	"github.com/pablasso/forge/internal/workflow"
)

const adjustPlaceholder = "drop 3,4; skip 5; order 2 1 6"

// Prompter shows checkpoints and pending interactions as bubbletea prompts.
// An empty answer means the operator made no decision.
type Prompter struct {
	in  io.Reader
	out io.Writer

	// run executes a prompt program; replaced in tests.
	run func(ctx context.Context, m promptModel) (promptModel, error)
}

// NewPrompter creates a prompter reading from in and drawing to out. Nil
// values default to the process terminal.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stderr
	}
	p := &Prompter{in: in, out: out}
	p.run = p.runProgram
	return p
}

func (p *Prompter) runProgram(ctx context.Context, m promptModel) (promptModel, error) {
	prog := tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithInput(p.in),
		tea.WithOutput(p.out),
	)
	final, err := prog.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) || ctx.Err() != nil {
			return promptModel{cancelled: true}, nil
		}
		return promptModel{}, fmt.Errorf("prompt failed: %w", err)
	}
	fm, ok := final.(promptModel)
	if !ok {
		return promptModel{cancelled: true}, nil
	}
	return fm, nil
}

// PresentCheckpoint shows the summary and returns "continue", "abort" or
// "adjust <edits>". A cancelled prompt returns "".
func (p *Prompter) PresentCheckpoint(ctx context.Context, s checkpoint.Summary) (string, error) {
	m := newPromptModel("Checkpoint", display.RenderSummary(s), checkpoint.Options(),
		map[string]string{string(checkpoint.ResolutionAdjust): adjustPlaceholder})
	final, err := p.run(ctx, m)
	if err != nil || final.cancelled {
		return "", err
	}
	return final.answer, nil
}

// Ask shows a pending interaction and returns the operator's answer.
func (p *Prompter) Ask(ctx context.Context, pi *workflow.PendingInteraction) (string, error) {
	var m promptModel
	switch pi.Kind {
	case workflow.InteractionConfirm:
		m = newPromptModel(pi.Prompt, "", []string{"yes", "no"}, nil)
	case workflow.InteractionChoice:
		details := map[string]string{}
		for _, opt := range pi.Options {
			switch opt {
			case "revise":
				details[opt] = "What should change?"
			case string(checkpoint.ResolutionAdjust):
				details[opt] = adjustPlaceholder
			}
		}
		m = newPromptModel(pi.Prompt, "", pi.Options, details)
	default:
		m = newPromptModel(pi.Prompt, "", nil, nil)
	}

	final, err := p.run(ctx, m)
	if err != nil || final.cancelled {
		return "", err
	}
	return final.answer, nil
}
