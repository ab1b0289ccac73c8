// Package config defines the workflow configuration and loads it from
// .forge/config.yaml with FORGE_ environment overrides.
package config

import (
	"errors"
	"fmt"

	"github.com/pablasso/forge/internal/failure"
	"github.com/pablasso/forge/internal/regression"
)

// ExecutionMode controls whether the run pauses after every task.
type ExecutionMode string

const (
	ModeAuto       ExecutionMode = "auto"
	ModeCheckpoint ExecutionMode = "checkpoint"
)

// Config is the complete workflow configuration. A snapshot is stored on the
// workflow state when a run is loaded so later edits never change a live run.
type Config struct {
	Execution  ExecutionConfig   `koanf:"execution" json:"execution"`
	Budget     BudgetConfig      `koanf:"budget" json:"budget"`
	Agents     AgentsConfig      `koanf:"agents" json:"agents"`
	Reviewers  []ReviewerConfig  `koanf:"reviewers" json:"reviewers"`
	Tests      TestsConfig       `koanf:"tests" json:"tests"`
	Checkpoint CheckpointConfig  `koanf:"checkpoint" json:"checkpoint"`
	Plan       PlanConfig        `koanf:"plan" json:"plan"`
	Failures   map[string]string `koanf:"failures" json:"failures"`
	Logging    LoggingConfig     `koanf:"logging" json:"logging"`
}

// ExecutionConfig holds execute-phase settings.
type ExecutionConfig struct {
	Mode          ExecutionMode `koanf:"mode" json:"mode"`
	MaxIterations int           `koanf:"max_iterations" json:"maxIterations"`
	WorkDir       string        `koanf:"work_dir" json:"workDir"`
}

// BudgetConfig holds cost thresholds in USD.
type BudgetConfig struct {
	WarnUSD      float64 `koanf:"warn_usd" json:"warnUsd"`
	HardLimitUSD float64 `koanf:"hard_limit_usd" json:"hardLimitUsd"`
}

// AgentProfile names the agent a dispatch should use.
type AgentProfile struct {
	Name  string `koanf:"name" json:"name"`
	Model string `koanf:"model" json:"model,omitempty"`
}

// AgentsConfig holds the non-reviewer agent profiles.
type AgentsConfig struct {
	Planner     AgentProfile `koanf:"planner" json:"planner"`
	Implementer AgentProfile `koanf:"implementer" json:"implementer"`
	Finalizer   AgentProfile `koanf:"finalizer" json:"finalizer"`
}

// ReviewerConfig describes one reviewer. Required reviewers gate the task;
// optional reviewers are advisory.
type ReviewerConfig struct {
	Name     string `koanf:"name" json:"name"`
	Model    string `koanf:"model" json:"model,omitempty"`
	Focus    string `koanf:"focus" json:"focus"`
	Required bool   `koanf:"required" json:"required"`
}

// Profile returns the dispatch profile for the reviewer.
func (r ReviewerConfig) Profile() AgentProfile {
	return AgentProfile{Name: "reviewer-" + r.Name, Model: r.Model}
}

// TestsConfig controls how test snapshots are taken.
type TestsConfig struct {
	Command     []string               `koanf:"command" json:"command"`
	FlakePolicy regression.FlakePolicy `koanf:"flake_policy" json:"flakePolicy"`
	SkipRerun   bool                   `koanf:"skip_rerun" json:"skipRerun"`
}

// CheckpointConfig toggles optional checkpoint triggers.
type CheckpointConfig struct {
	TestFailureTrigger bool `koanf:"test_failure_trigger" json:"testFailureTrigger"`
}

// PlanConfig controls the planning phases.
type PlanConfig struct {
	AutoApprove  bool `koanf:"auto_approve" json:"autoApprove"`
	MaxRevisions int  `koanf:"max_revisions" json:"maxRevisions"`
}

// LoggingConfig controls the debug log.
type LoggingConfig struct {
	Level  string `koanf:"level" json:"level"`
	Format string `koanf:"format" json:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Execution.Mode == "" {
		cfg.Execution.Mode = ModeAuto
	}
	if cfg.Execution.MaxIterations == 0 {
		cfg.Execution.MaxIterations = 3
	}
	if cfg.Execution.WorkDir == "" {
		cfg.Execution.WorkDir = "."
	}
	if cfg.Budget.WarnUSD == 0 {
		cfg.Budget.WarnUSD = 25
	}
	if cfg.Budget.HardLimitUSD == 0 {
		cfg.Budget.HardLimitUSD = 75
	}
	if cfg.Agents.Planner.Name == "" {
		cfg.Agents.Planner.Name = "planner"
	}
	if cfg.Agents.Implementer.Name == "" {
		cfg.Agents.Implementer.Name = "implementer"
	}
	if cfg.Agents.Finalizer.Name == "" {
		cfg.Agents.Finalizer.Name = "finalizer"
	}
	if len(cfg.Reviewers) == 0 {
		cfg.Reviewers = []ReviewerConfig{
			{Name: "correctness", Focus: "correctness, tests and acceptance criteria", Required: true},
			{Name: "style", Focus: "readability and idiomatic style", Required: false},
		}
	}
	if len(cfg.Tests.Command) == 0 {
		cfg.Tests.Command = []string{"go", "test", "-json", "./..."}
	}
	if cfg.Tests.FlakePolicy == "" {
		cfg.Tests.FlakePolicy = regression.FlakeOnFirstFailure
	}
	if cfg.Plan.MaxRevisions == 0 {
		cfg.Plan.MaxRevisions = 3
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	switch c.Execution.Mode {
	case ModeAuto, ModeCheckpoint:
	default:
		return fmt.Errorf("execution.mode must be %q or %q, got %q", ModeAuto, ModeCheckpoint, c.Execution.Mode)
	}
	if c.Execution.MaxIterations < 1 {
		return errors.New("execution.max_iterations must be at least 1")
	}
	if c.Budget.WarnUSD < 0 || c.Budget.HardLimitUSD < 0 {
		return errors.New("budget thresholds must not be negative")
	}
	if c.Budget.HardLimitUSD > 0 && c.Budget.WarnUSD > c.Budget.HardLimitUSD {
		return fmt.Errorf("budget.warn_usd (%.2f) exceeds budget.hard_limit_usd (%.2f)", c.Budget.WarnUSD, c.Budget.HardLimitUSD)
	}
	if _, err := regression.ParseFlakePolicy(string(c.Tests.FlakePolicy)); err != nil {
		return fmt.Errorf("tests.flake_policy: %w", err)
	}
	if c.Plan.MaxRevisions < 0 {
		return errors.New("plan.max_revisions must not be negative")
	}

	seen := make(map[string]bool)
	required := 0
	for i, r := range c.Reviewers {
		if r.Name == "" {
			return fmt.Errorf("reviewers[%d] has no name", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate reviewer %q", r.Name)
		}
		seen[r.Name] = true
		if r.Required {
			required++
		}
	}
	if required == 0 {
		return errors.New("at least one required reviewer must be configured")
	}

	if _, err := c.FailureOverrides(); err != nil {
		return err
	}
	return nil
}

// FailureOverrides converts the failures section into taxonomy overrides.
func (c *Config) FailureOverrides() (map[failure.Kind]failure.Action, error) {
	if len(c.Failures) == 0 {
		return nil, nil
	}
	overrides := make(map[failure.Kind]failure.Action, len(c.Failures))
	for k, v := range c.Failures {
		kind, err := failure.ParseKind(k)
		if err != nil {
			return nil, fmt.Errorf("failures: %w", err)
		}
		action, err := failure.ParseAction(v)
		if err != nil {
			return nil, fmt.Errorf("failures.%s: %w", k, err)
		}
		overrides[kind] = action
	}
	return overrides, nil
}

// RequiredReviewers returns the gating reviewers in configured order.
func (c *Config) RequiredReviewers() []ReviewerConfig {
	var out []ReviewerConfig
	for _, r := range c.Reviewers {
		if r.Required {
			out = append(out, r)
		}
	}
	return out
}

// OptionalReviewers returns the advisory reviewers in configured order.
func (c *Config) OptionalReviewers() []ReviewerConfig {
	var out []ReviewerConfig
	for _, r := range c.Reviewers {
		if !r.Required {
			out = append(out, r)
		}
	}
	return out
}

// Clone returns a deep copy of c.
func (c *Config) Clone() Config {
	out := *c
	out.Reviewers = append([]ReviewerConfig(nil), c.Reviewers...)
	out.Tests.Command = append([]string(nil), c.Tests.Command...)
	if c.Failures != nil {
		out.Failures = make(map[string]string, len(c.Failures))
		for k, v := range c.Failures {
			out.Failures[k] = v
		}
	}
	return out
}
