package regression

// Classification buckets the current results relative to a baseline.
// NewFailures and PreExisting together cover every failed current result.
type Classification struct {
	NewFailures     []TestResult `json:"newFailures"`
	PreExisting     []TestResult `json:"preExisting"`
	FlakeCandidates []TestResult `json:"flakeCandidates"`
	NewlyFixed      []TestResult `json:"newlyFixed"`
}

// HasNewFailures reports whether any failure is not explained by the baseline.
func (c Classification) HasNewFailures() bool {
	return len(c.NewFailures) > 0
}

// Classify compares current results to base by exact test name. A test absent
// from the baseline is treated as new.
func Classify(current []TestResult, base Baseline, policy FlakePolicy) Classification {
	c := Classification{
		NewFailures:     []TestResult{},
		PreExisting:     []TestResult{},
		FlakeCandidates: []TestResult{},
		NewlyFixed:      []TestResult{},
	}
	failing := base.knownFailingSet()
	for _, r := range current {
		known := failing[r.Name]
		switch {
		case r.Passed && known:
			c.NewlyFixed = append(c.NewlyFixed, r)
		case r.Passed:
		case known:
			c.PreExisting = append(c.PreExisting, r)
		default:
			c.NewFailures = append(c.NewFailures, r)
			if policy != FlakeAfterRerun {
				c.FlakeCandidates = append(c.FlakeCandidates, r)
			}
		}
	}
	return c
}

// Reconciliation splits new failures after a rerun.
type Reconciliation struct {
	Confirmed []TestResult `json:"confirmed"`
	Flaky     []TestResult `json:"flaky"`
}

// Reconcile reruns' outcomes against the provisional new failures. A new
// failure that passes on rerun is flaky; one that fails again, or is missing
// from the rerun, is confirmed.
func Reconcile(c Classification, rerun []TestResult) Reconciliation {
	passed := make(map[string]bool, len(rerun))
	for _, r := range rerun {
		if r.Passed {
			passed[r.Name] = true
		}
	}
	rec := Reconciliation{Confirmed: []TestResult{}, Flaky: []TestResult{}}
	for _, f := range c.NewFailures {
		if passed[f.Name] {
			rec.Flaky = append(rec.Flaky, f)
		} else {
			rec.Confirmed = append(rec.Confirmed, f)
		}
	}
	return rec
}

// Names returns the test names of results.
func Names(results []TestResult) []string {
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Name
	}
	return names
}
