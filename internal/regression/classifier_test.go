package regression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pass(name string) TestResult { return TestResult{Name: name, Passed: true} }
func fail(name string) TestResult { return TestResult{Name: name, Passed: false, Failure: name + " broke"} }

func TestClassify_Scenario(t *testing.T) {
	base := NewBaseline("abc123", time.Now(), []TestResult{pass("a"), fail("b")})
	current := []TestResult{fail("a"), pass("b")}

	c := Classify(current, base, FlakeOnFirstFailure)

	assert.Equal(t, []string{"a"}, Names(c.NewFailures))
	assert.Empty(t, c.PreExisting)
	assert.Equal(t, []string{"b"}, Names(c.NewlyFixed))
	assert.Equal(t, []string{"a"}, Names(c.FlakeCandidates))
	assert.True(t, c.HasNewFailures())
}

func TestClassify_PreExistingAndUnknown(t *testing.T) {
	base := NewBaseline("abc123", time.Now(), []TestResult{fail("old"), pass("steady")})
	current := []TestResult{fail("old"), pass("steady"), fail("brand-new"), pass("added")}

	c := Classify(current, base, FlakeOnFirstFailure)

	assert.Equal(t, []string{"old"}, Names(c.PreExisting))
	assert.Equal(t, []string{"brand-new"}, Names(c.NewFailures), "tests absent from the baseline are new")
	assert.Empty(t, c.NewlyFixed)
}

func TestClassify_AfterRerunPolicyDefersFlakes(t *testing.T) {
	base := NewBaseline("r", time.Now(), nil)

	c := Classify([]TestResult{fail("x")}, base, FlakeAfterRerun)

	assert.Equal(t, []string{"x"}, Names(c.NewFailures))
	assert.Empty(t, c.FlakeCandidates)
}

func TestClassify_Partition(t *testing.T) {
	base := NewBaseline("r", time.Now(), []TestResult{
		fail("f1"), fail("f2"), fail("f3"), pass("p1"), pass("p2"),
	})
	current := []TestResult{
		fail("f1"), pass("f2"), pass("p1"), fail("p2"), fail("n1"), pass("n2"),
	}

	c := Classify(current, base, FlakeOnFirstFailure)

	var failed []string
	for _, r := range current {
		if !r.Passed {
			failed = append(failed, r.Name)
		}
	}
	covered := append(Names(c.NewFailures), Names(c.PreExisting)...)
	assert.ElementsMatch(t, failed, covered)

	var fixed []string
	for _, r := range current {
		if r.Passed && base.IsKnownFailing(r.Name) {
			fixed = append(fixed, r.Name)
		}
	}
	assert.ElementsMatch(t, fixed, Names(c.NewlyFixed))

	for _, n := range Names(c.NewFailures) {
		assert.NotContains(t, Names(c.PreExisting), n)
	}
}

func TestReconcile(t *testing.T) {
	base := NewBaseline("r", time.Now(), nil)
	c := Classify([]TestResult{fail("flaky"), fail("real"), fail("vanished")}, base, FlakeOnFirstFailure)

	rec := Reconcile(c, []TestResult{pass("flaky"), fail("real")})

	assert.Equal(t, []string{"flaky"}, Names(rec.Flaky))
	assert.Equal(t, []string{"real", "vanished"}, Names(rec.Confirmed))
}

func TestNewBaseline(t *testing.T) {
	results := []TestResult{fail("z"), pass("a"), fail("m")}
	b := NewBaseline("rev", time.Time{}, results)

	assert.Equal(t, []string{"m", "z"}, b.KnownFailing)
	assert.True(t, b.IsKnownFailing("z"))
	assert.False(t, b.IsKnownFailing("a"))

	results[0].Name = "mutated"
	assert.Equal(t, "z", b.Results[0].Name, "baseline keeps its own copy")
}

func TestParseFlakePolicy(t *testing.T) {
	p, err := ParseFlakePolicy("after-rerun")
	require.NoError(t, err)
	assert.Equal(t, FlakeAfterRerun, p)

	_, err = ParseFlakePolicy("never")
	assert.Error(t, err)
}
