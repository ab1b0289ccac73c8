// Package dispatch runs agent processes and reports what they did.
package dispatch

import (
	"context"
	"strings"

	"github.com/pablasso/forge/internal/config"
)

// StopReason is why an agent process ended.
type StopReason string

const (
	StopCompleted StopReason = "completed"
	StopMaxTurns  StopReason = "max_turns"
	StopError     StopReason = "error"
	StopTimeout   StopReason = "timeout"
)

// EventType classifies a streamed event.
type EventType string

const (
	EventInit       EventType = "init"
	EventText       EventType = "text"
	EventToolUse    EventType = "tool_use"
	EventToolResult EventType = "tool_result"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Event is a partial progress notification from a running agent.
type Event struct {
	Type       EventType
	Text       string
	ToolName   string
	ToolTarget string
	SessionID  string
}

// Message is one entry of an agent transcript.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Request describes one agent invocation.
type Request struct {
	Profile config.AgentProfile
	Prompt  string
	Dir     string

	// OnEvent, when set, receives tool events as they stream in. It is
	// called from the dispatching goroutine.
	OnEvent func(Event)
}

// Result is what an agent invocation produced.
type Result struct {
	ExitCode     int
	Transcript   []Message
	FinalText    string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	StopReason   StopReason
	SessionID    string
	Stderr       string
}

// Text returns the agent's final answer, falling back to the concatenated
// assistant messages when no final result was reported.
func (r Result) Text() string {
	if r.FinalText != "" {
		return r.FinalText
	}
	var parts []string
	for _, m := range r.Transcript {
		if m.Role == "assistant" && m.Text != "" {
			parts = append(parts, m.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Succeeded reports a clean exit with a completed stop reason.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0 && r.StopReason == StopCompleted
}

// Dispatcher runs an agent to completion. A non-zero exit or agent error is
// reported in the Result; the error return is reserved for processes that
// could not be started and for cancellation of ctx.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (Result, error)
}
