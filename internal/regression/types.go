// Package regression separates test failures a change introduced from those
// that predate it.
package regression

import (
	"fmt"
	"sort"
	"time"
)

// TestResult is a single named test outcome.
type TestResult struct {
	Name     string         `json:"name"`
	Passed   bool           `json:"passed"`
	Duration *time.Duration `json:"duration,omitempty"`
	Failure  string         `json:"failure,omitempty"`
}

// Baseline is a snapshot of test outcomes tied to a source revision.
type Baseline struct {
	Revision     string       `json:"revision"`
	CapturedAt   time.Time    `json:"capturedAt"`
	Results      []TestResult `json:"results"`
	KnownFailing []string     `json:"knownFailing"`
}

// NewBaseline records results at revision and derives the known-failing set.
func NewBaseline(revision string, capturedAt time.Time, results []TestResult) Baseline {
	b := Baseline{
		Revision:     revision,
		CapturedAt:   capturedAt,
		Results:      append([]TestResult{}, results...),
		KnownFailing: []string{},
	}
	for _, r := range results {
		if !r.Passed {
			b.KnownFailing = append(b.KnownFailing, r.Name)
		}
	}
	sort.Strings(b.KnownFailing)
	return b
}

// IsKnownFailing reports whether name failed when the baseline was captured.
func (b Baseline) IsKnownFailing(name string) bool {
	for _, n := range b.KnownFailing {
		if n == name {
			return true
		}
	}
	return false
}

func (b Baseline) knownFailingSet() map[string]bool {
	set := make(map[string]bool, len(b.KnownFailing))
	for _, n := range b.KnownFailing {
		set[n] = true
	}
	return set
}

// FlakePolicy decides when a brand-new failure counts as a flake candidate.
type FlakePolicy string

const (
	// FlakeOnFirstFailure treats every new failure as a possible flake the
	// first time it is observed.
	FlakeOnFirstFailure FlakePolicy = "first-failure"
	// FlakeAfterRerun only reports flakes once a rerun has passed.
	FlakeAfterRerun FlakePolicy = "after-rerun"
)

// ParseFlakePolicy validates a policy name.
func ParseFlakePolicy(s string) (FlakePolicy, error) {
	switch FlakePolicy(s) {
	case FlakeOnFirstFailure, FlakeAfterRerun:
		return FlakePolicy(s), nil
	default:
		return "", fmt.Errorf("unknown flake policy %q", s)
	}
}
