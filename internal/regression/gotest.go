package regression

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"
)

// CommandContext creates the test command. Tests replace it.
var CommandContext = exec.CommandContext

// maxFailureOutput caps the failure text kept per test.
const maxFailureOutput = 4096

// Runner produces a test snapshot for a working directory.
type Runner interface {
	Run(ctx context.Context, dir string) ([]TestResult, error)
}

// GoTestRunner runs a command that emits `go test -json` events.
type GoTestRunner struct {
	Command []string
}

// NewGoTestRunner creates a runner for command, defaulting to go test -json ./...
func NewGoTestRunner(command []string) *GoTestRunner {
	if len(command) == 0 {
		command = []string{"go", "test", "-json", "./..."}
	}
	return &GoTestRunner{Command: command}
}

// Run executes the command in dir and decodes its events. A non-zero exit is
// expected when tests fail and is only an error when nothing could be decoded.
func (r *GoTestRunner) Run(ctx context.Context, dir string) ([]TestResult, error) {
	cmd := CommandContext(ctx, r.Command[0], r.Command[1:]...)
	if dir != "" {
		cmd.Dir = dir
	}
	output, err := cmd.Output()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	results := ParseGoTestJSON(output)
	if err != nil && len(results) == 0 {
		return nil, fmt.Errorf("test command %q failed: %w", strings.Join(r.Command, " "), err)
	}
	return results, nil
}

type testEvent struct {
	Action  string  `json:"Action"`
	Package string  `json:"Package"`
	Test    string  `json:"Test"`
	Elapsed float64 `json:"Elapsed"`
	Output  string  `json:"Output"`
}

// ParseGoTestJSON decodes test2json output. Each test is named
// "<package>.<Test>"; a package that fails without any failing test (a build
// failure, for example) is reported under "<package> [package]". Skipped tests
// and lines that are not events are ignored.
func ParseGoTestJSON(data []byte) []TestResult {
	var results []TestResult
	outputs := make(map[string]*strings.Builder)
	pkgTestFailed := make(map[string]bool)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev testEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil || ev.Action == "" {
			continue
		}

		key := ev.Package
		if ev.Test != "" {
			key = ev.Package + "." + ev.Test
		}

		switch ev.Action {
		case "output":
			b, ok := outputs[key]
			if !ok {
				b = &strings.Builder{}
				outputs[key] = b
			}
			if b.Len() < maxFailureOutput {
				b.WriteString(ev.Output)
			}
		case "pass", "fail":
			passed := ev.Action == "pass"
			if ev.Test == "" {
				if passed || pkgTestFailed[ev.Package] {
					continue
				}
				key = ev.Package + " [package]"
			} else if !passed {
				pkgTestFailed[ev.Package] = true
			}

			res := TestResult{Name: key, Passed: passed}
			if ev.Elapsed > 0 {
				d := time.Duration(ev.Elapsed * float64(time.Second))
				res.Duration = &d
			}
			if !passed {
				src := ev.Package
				if ev.Test != "" {
					src = ev.Package + "." + ev.Test
				}
				if b, ok := outputs[src]; ok {
					res.Failure = truncate(b.String(), maxFailureOutput)
				}
			}
			results = append(results, res)
		}
	}
	return results
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
