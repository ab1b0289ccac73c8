package workflow

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// InteractionKind is the type of prompt awaiting an operator.
type InteractionKind string

const (
	InteractionChoice  InteractionKind = "choice"
	InteractionConfirm InteractionKind = "confirm"
	InteractionText    InteractionKind = "text"
)

// Purposes tell the owning phase how to consume a response.
const (
	PurposePlanReview = "plan-review"
	PurposeCheckpoint = "checkpoint"
)

// PendingInteraction is the single outstanding operator prompt.
type PendingInteraction struct {
	ID       string          `json:"id"`
	Kind     InteractionKind `json:"kind"`
	Purpose  string          `json:"purpose"`
	Prompt   string          `json:"prompt"`
	Options  []string        `json:"options"`
	Response *string         `json:"response,omitempty"`
}

// NewInteraction creates a prompt with a fresh id.
func NewInteraction(kind InteractionKind, purpose, prompt string, options ...string) *PendingInteraction {
	return &PendingInteraction{
		ID:      uuid.NewString(),
		Kind:    kind,
		Purpose: purpose,
		Prompt:  prompt,
		Options: options,
	}
}

// Answered reports whether a response has been recorded.
func (p *PendingInteraction) Answered() bool {
	return p != nil && p.Response != nil
}

// Clone returns a deep copy of p.
func (p *PendingInteraction) Clone() *PendingInteraction {
	if p == nil {
		return nil
	}
	out := *p
	out.Options = cloneStrings(p.Options)
	if p.Response != nil {
		r := *p.Response
		out.Response = &r
	}
	return &out
}

// ErrNoInteraction is returned when answering without an outstanding prompt.
var ErrNoInteraction = errors.New("no pending interaction")

// Answer records response for the pending interaction. Choice prompts only
// accept one of their options; confirm prompts accept yes/no.
func (s *State) Answer(response string) error {
	p := s.Pending
	if p == nil {
		return ErrNoInteraction
	}
	switch p.Kind {
	case InteractionChoice:
		choice, _ := SplitResponse(response)
		if len(p.Options) > 0 && !slices.Contains(p.Options, choice) {
			return fmt.Errorf("response %q is not one of %v", choice, p.Options)
		}
	case InteractionConfirm:
		if response != "yes" && response != "no" {
			return fmt.Errorf("response must be yes or no, got %q", response)
		}
	case InteractionText:
	default:
		return fmt.Errorf("unknown interaction kind %q", p.Kind)
	}
	p.Response = &response
	return nil
}

// TakeResponse returns the recorded response and clears the interaction in
// the same step. ok is false when no answered interaction with purpose exists.
func (s *State) TakeResponse(purpose string) (response string, ok bool) {
	if !s.Pending.Answered() || s.Pending.Purpose != purpose {
		return "", false
	}
	response = *s.Pending.Response
	s.Pending = nil
	return response, true
}

// SplitResponse separates a choice from trailing free text, e.g.
// "revise: add a migration task" -> ("revise", "add a migration task").
func SplitResponse(response string) (string, string) {
	response = strings.TrimSpace(response)
	i := strings.IndexAny(response, " \t\n:")
	if i < 0 {
		return response, ""
	}
	return response[:i], strings.TrimSpace(strings.TrimLeft(response[i:], " \t\n:"))
}
