package display

import (
	"fmt"
	"strings"

	"github.com/pablasso/forge/internal/checkpoint"
	"github.com/pablasso/forge/internal/workflow"
)

const barWidth = 20

// RenderStatus renders a snapshot of the workflow.
func RenderStatus(st *workflow.State) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("forge ▸ " + firstLine(st.Description)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Phase:    %s\n", phaseLabel(st))
	if len(st.Tasks) > 0 {
		done := st.CountTerminal()
		fmt.Fprintf(&b, "Progress: %s (%d/%d tasks)\n", progressBar(done, len(st.Tasks), barWidth), done, len(st.Tasks))
	}
	fmt.Fprintf(&b, "Spend:    %s\n", spendLabel(st.SpentUSD, st.Config.Budget.HardLimitUSD))
	if st.SourceControl.Branch != "" {
		fmt.Fprintf(&b, "Branch:   %s %s\n", st.SourceControl.Branch, subtleStyle.Render(shortRev(st.SourceControl.BaseRevision)))
	}

	if len(st.Tasks) > 0 {
		b.WriteString("\n")
		for i, t := range st.Tasks {
			b.WriteString(taskLine(t, i == st.ActiveTask && st.Phase == workflow.PhaseExecute))
			b.WriteString("\n")
		}
	}
	if n := len(st.Batches); n > 0 {
		b.WriteString(subtleStyle.Render(fmt.Sprintf("  + %d batch(es) still to plan", n)))
		b.WriteString("\n")
	}

	if p := st.Pending; p != nil && !p.Answered() {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("Awaiting input: " + p.Prompt))
		if len(p.Options) > 0 {
			b.WriteString(subtleStyle.Render(" [" + strings.Join(p.Options, "/") + "]"))
		}
		b.WriteString("\n")
	}
	if st.Error != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Error: " + firstLine(st.Error)))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderSummary renders a checkpoint summary in a box.
func RenderSummary(s checkpoint.Summary) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Checkpoint"))
	b.WriteString("\n")
	for _, t := range s.Triggers {
		style := subtleStyle
		switch t.Kind {
		case checkpoint.TriggerBudgetCritical, checkpoint.TriggerTestFailure:
			style = errorStyle
		case checkpoint.TriggerBudgetWarning:
			style = warnStyle
		}
		b.WriteString(style.Render("• " + t.Message))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Tasks:     %s (%d/%d)\n", progressBar(s.Done, s.Total, barWidth), s.Done, s.Total)
	fmt.Fprintf(&b, "Spend:     %s\n", spendLabel(s.SpentUSD, s.HardLimitUSD))
	fmt.Fprintf(&b, "Remaining: ~$%.2f estimated\n", s.EstimatedRemainingUSD)
	if s.NextTask != "" {
		fmt.Fprintf(&b, "Next:      %s\n", s.NextTask)
	}
	b.WriteString(subtleStyle.Render("continue · adjust (drop/skip/order ids) · abort"))
	return boxStyle.Render(b.String())
}

// RenderReport renders the finalize report lines.
func RenderReport(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return boxStyle.Render(titleStyle.Render("Run report") + "\n" + strings.Join(lines, "\n"))
}

func phaseLabel(st *workflow.State) string {
	label := string(st.Phase)
	switch {
	case st.Aborted:
		return errorStyle.Render(label + " (aborted)")
	case st.Phase == workflow.PhaseDone:
		return successStyle.Render(label)
	case st.Error != "":
		return errorStyle.Render(label + " (halted)")
	default:
		return label
	}
}

func taskLine(t workflow.Task, active bool) string {
	var marker string
	style := subtleStyle
	switch t.Status {
	case workflow.TaskComplete:
		marker, style = "✓", successStyle
	case workflow.TaskSkipped:
		marker = "⤼"
	case workflow.TaskEscalated:
		marker, style = "!", errorStyle
	case workflow.TaskImplementing, workflow.TaskReviewing, workflow.TaskFixing:
		marker, style = "▸", warnStyle
	case workflow.TaskPending:
		marker = "·"
	default:
		marker = "?"
	}
	if active && t.Status == workflow.TaskPending {
		marker = "▸"
	}

	line := fmt.Sprintf("  %s %d. %s", marker, t.ID, t.Title)
	detail := string(t.Status)
	if t.FixAttempts > 0 {
		detail += fmt.Sprintf(", %d fix attempt(s)", t.FixAttempts)
	}
	if t.CostUSD > 0 {
		detail += fmt.Sprintf(", $%.2f", t.CostUSD)
	}
	return style.Render(line) + " " + subtleStyle.Render("("+detail+")")
}

func spendLabel(spent, limit float64) string {
	if limit <= 0 {
		return fmt.Sprintf("$%.2f", spent)
	}
	label := fmt.Sprintf("$%.2f / $%.2f", spent, limit)
	if spent >= limit*checkpoint.CriticalRatio {
		return errorStyle.Render(label)
	}
	return label
}

func shortRev(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}
