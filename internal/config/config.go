// Package config provides configuration loading for phased.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Config is the root configuration for the phased daemon and CLI.
type Config struct {
	// Workspace is the repository root the daemon operates on.
	Workspace string `koanf:"workspace"`

	// StateDir is where phase state and project metadata are persisted.
	// Relative paths are resolved against Workspace. Default: .phased
	StateDir string `koanf:"state_dir"`

	Logging LoggingConfig `koanf:"logging"`
	Policy  PolicyConfig  `koanf:"policy"`
	Gates   GatesConfig   `koanf:"gates"`
	Tracker TrackerConfig `koanf:"tracker"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// PolicyConfig holds the pattern tables consumed by the policy engine.
type PolicyConfig struct {
	// ProtectedBranches are glob patterns for branches that refuse
	// direct commits and merges (doublestar syntax).
	ProtectedBranches []string `koanf:"protected_branches"`

	// TestFilePatterns identify test files among changed files.
	TestFilePatterns []string `koanf:"test_file_patterns"`

	// ScaffoldPatterns are paths that must be produced by the scaffold
	// tool rather than written directly.
	ScaffoldPatterns []string `koanf:"scaffold_patterns"`

	// ScaffoldTool is the tool-usage counter name the create_file check
	// looks for when a path matches ScaffoldPatterns.
	ScaffoldTool string `koanf:"scaffold_tool"`
}

// GatesConfig configures external gate commands.
type GatesConfig struct {
	// Timeout bounds a single gate invocation. A timeout is a gate
	// failure, never a pass.
	Timeout Duration `koanf:"timeout"`

	// Commands maps gate name (e.g. "tests", "quality") to the command
	// line executed for it.
	Commands map[string]string `koanf:"commands"`
}

// TrackerConfig configures the external tracking system (GitHub issues).
type TrackerConfig struct {
	Owner string `koanf:"owner"`
	Repo  string `koanf:"repo"`
	Token Secret `koanf:"token"`

	// RequestTimeout bounds a single tracker API call.
	RequestTimeout Duration `koanf:"request_timeout"`
}

// Default returns the configuration defaults applied before file and
// environment overrides.
func Default() *Config {
	return &Config{
		Workspace: ".",
		StateDir:  ".phased",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Policy: PolicyConfig{
			ProtectedBranches: []string{"main", "master", "release/*"},
			TestFilePatterns: []string{
				"**/*_test.go",
				"**/test_*.py",
				"**/*.spec.{js,ts,jsx,tsx}",
				"**/*.test.{js,ts,jsx,tsx}",
				"tests/**",
			},
			ScaffoldPatterns: []string{"docs/items/**"},
			ScaffoldTool:     "scaffold",
		},
		Gates: GatesConfig{
			Timeout: Duration(60 * time.Second),
			Commands: map[string]string{
				"tests":   "go test ./...",
				"quality": "go vet ./...",
			},
		},
		Tracker: TrackerConfig{
			RequestTimeout: Duration(30 * time.Second),
		},
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace is required")
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	if c.Gates.Timeout.Duration() <= 0 {
		return fmt.Errorf("gates.timeout must be positive")
	}
	for name, command := range c.Gates.Commands {
		if strings.TrimSpace(command) == "" {
			return fmt.Errorf("gates.commands[%q] must not be empty", name)
		}
	}
	if c.Tracker.RequestTimeout.Duration() <= 0 {
		return fmt.Errorf("tracker.request_timeout must be positive")
	}
	for _, group := range [][]string{
		c.Policy.ProtectedBranches,
		c.Policy.TestFilePatterns,
		c.Policy.ScaffoldPatterns,
	} {
		for _, pattern := range group {
			if !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("invalid glob pattern %q", pattern)
			}
		}
	}
	return nil
}

// TrackerConfigured reports whether the tracking system is reachable by
// configuration. Checks that need the tracker fail closed without it.
func (c *Config) TrackerConfigured() bool {
	return c.Tracker.Owner != "" && c.Tracker.Repo != "" && c.Tracker.Token.IsSet()
}
