package orchestrator

import (
	"fmt"
	"strings"

	"github.com/pablasso/forge/internal/config"
	"github.com/pablasso/forge/internal/review"
	"github.com/pablasso/forge/internal/workflow"
)

// planPrompt asks the planner for a task list.
func planPrompt(st *workflow.State) string {
	var sb strings.Builder

	sb.WriteString("You are planning an automated implementation workflow.\n\n")
	sb.WriteString("## Goal\n")
	sb.WriteString(st.Description)
	sb.WriteString("\n\n")

	if st.PlanFeedback != "" {
		sb.WriteString("## Previous Plan\n")
		sb.WriteString(st.PlanText)
		sb.WriteString("\n\n")
		sb.WriteString("## Requested Changes\n")
		sb.WriteString(st.PlanFeedback)
		sb.WriteString("\n\n")
	}

	writePlanFormat(&sb)
	sb.WriteString("If the work is large, group tasks under `## Batch N: <title>` headings. ")
	sb.WriteString("Only the first batch needs full task detail; later batches may be a short description.\n")
	return sb.String()
}

// batchPrompt asks the planner to write out a deferred batch.
func batchPrompt(st *workflow.State, batch workflow.Batch) string {
	var sb strings.Builder

	sb.WriteString("You are continuing an automated implementation workflow.\n\n")
	sb.WriteString("## Goal\n")
	sb.WriteString(st.Description)
	sb.WriteString("\n\n")

	sb.WriteString("## Completed Tasks\n")
	for _, t := range st.Tasks {
		sb.WriteString(fmt.Sprintf("- #%d %s (%s)\n", t.ID, t.Title, t.Status))
	}
	sb.WriteString("\n")

	sb.WriteString("## Next Batch\n")
	if batch.Title != "" {
		sb.WriteString(fmt.Sprintf("**Title**: %s\n", batch.Title))
	}
	sb.WriteString(batch.Description)
	sb.WriteString("\n\n")

	writePlanFormat(&sb)
	return sb.String()
}

func writePlanFormat(sb *strings.Builder) {
	sb.WriteString("## Output Format\n")
	sb.WriteString("Write each task as a `## Task N: <title>` section containing a description, ")
	sb.WriteString("a `Files:` list and an `Acceptance criteria:` bullet list.\n")
}

// implementPrompt starts or continues work on task.
func implementPrompt(st *workflow.State, task *workflow.Task, iteration, maxIterations int) string {
	var sb strings.Builder

	sb.WriteString("You are executing a task as part of an automated plan.\n\n")
	sb.WriteString("## Context\n")
	sb.WriteString(st.Description)
	sb.WriteString("\n\n")

	sb.WriteString("## Your Task\n")
	sb.WriteString(fmt.Sprintf("**ID**: %d\n", task.ID))
	sb.WriteString(fmt.Sprintf("**Title**: %s\n", task.Title))
	sb.WriteString(fmt.Sprintf("**Iteration**: %d of %d\n", iteration, maxIterations))
	sb.WriteString(fmt.Sprintf("**Description**: %s\n\n", task.Description))

	if len(task.Files) > 0 {
		sb.WriteString("## Files\n")
		for _, f := range task.Files {
			sb.WriteString("- " + f + "\n")
		}
		sb.WriteString("\n")
	}

	if len(task.AcceptanceCriteria) > 0 {
		sb.WriteString("## Acceptance Criteria\n")
		sb.WriteString("You MUST verify ALL of the following before considering the task complete:\n")
		for i, criterion := range task.AcceptanceCriteria {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, criterion))
		}
		sb.WriteString("\n")
	}

	if task.Feedback != "" {
		sb.WriteString("## Feedback From The Previous Iteration\n")
		sb.WriteString("Address every point below before anything else:\n\n")
		sb.WriteString(task.Feedback)
		sb.WriteString("\n")
	}

	sb.WriteString("## Instructions\n")
	sb.WriteString("1. Implement the task as described, writing tests alongside the code\n")
	sb.WriteString("2. Verify ALL acceptance criteria are met and the test suite passes\n")
	sb.WriteString("3. Do not modify files outside the task unless required\n")
	return sb.String()
}

// reviewPrompt asks a reviewer for a structured verdict.
func reviewPrompt(st *workflow.State, task *workflow.Task, reviewer config.ReviewerConfig) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("You are the %s reviewer of an automated implementation workflow.\n\n", reviewer.Name))
	if reviewer.Focus != "" {
		sb.WriteString(fmt.Sprintf("Focus on: %s\n\n", reviewer.Focus))
	}

	sb.WriteString("## Context\n")
	sb.WriteString(st.Description)
	sb.WriteString("\n\n")

	sb.WriteString("## Task Under Review\n")
	sb.WriteString(fmt.Sprintf("**ID**: %d\n", task.ID))
	sb.WriteString(fmt.Sprintf("**Title**: %s\n", task.Title))
	sb.WriteString(fmt.Sprintf("**Description**: %s\n", task.Description))
	if task.Checkpoint != "" {
		sb.WriteString(fmt.Sprintf("**Changes since**: %s\n", task.Checkpoint))
	}
	sb.WriteString("\n")

	if len(task.AcceptanceCriteria) > 0 {
		sb.WriteString("## Acceptance Criteria\n")
		for i, criterion := range task.AcceptanceCriteria {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, criterion))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Output Format\n")
	sb.WriteString("End your answer with a fenced ```" + review.FenceMarker + " block containing JSON:\n")
	sb.WriteString(`{"passed": bool, "findings": [{"severity": "critical|high|medium|low", "file": "...", "line": 0, "issue": "...", "suggestion": "..."}], "mustFix": ["..."], "summary": "..."}`)
	sb.WriteString("\n")
	return sb.String()
}

// finalizePrompt asks the finalizer to wrap up the run.
func finalizePrompt(st *workflow.State) string {
	var sb strings.Builder

	sb.WriteString("You are finalizing an automated implementation workflow.\n\n")
	sb.WriteString("## Goal\n")
	sb.WriteString(st.Description)
	sb.WriteString("\n\n")

	sb.WriteString("## Tasks\n")
	for _, t := range st.Tasks {
		sb.WriteString(fmt.Sprintf("- #%d %s (%s)\n", t.ID, t.Title, t.Status))
	}
	sb.WriteString("\n")

	sb.WriteString("## Instructions\n")
	sb.WriteString("1. Confirm the build and tests pass\n")
	sb.WriteString("2. Summarize what changed and anything left for a human to review\n")
	return sb.String()
}
