// Package gate invokes external pass/fail checks (test execution,
// static quality analysis) on behalf of the choke-point adapters.
//
// A gate is any external command that accepts a file set and prints a
// JSON object {"passed": bool, "summary": string} on stdout. Anything
// else — a timeout, a non-zero exit without parsable output, malformed
// JSON — is mapped to a failed result, never to an implicit pass.
package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Result is the outcome of one gate run.
type Result struct {
	Gate    string `json:"gate"`
	Passed  bool   `json:"passed"`
	Summary string `json:"summary"`
}

// wireResult is the shape a gate command must print on stdout.
type wireResult struct {
	Passed  *bool  `json:"passed"`
	Summary string `json:"summary"`
}

// Runner executes configured gate commands with a bounded timeout.
type Runner struct {
	workspace string
	commands  map[string]string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewRunner creates a runner. Commands map gate names to shell command
// lines executed in the workspace directory.
func NewRunner(workspace string, commands map[string]string, timeout time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{workspace: workspace, commands: commands, timeout: timeout, logger: logger}
}

// Known reports whether a command is configured for the named gate.
func (r *Runner) Known(name string) bool {
	_, ok := r.commands[name]
	return ok
}

// Run invokes the named gate against the given files. The returned
// Result is always usable; failures of any kind come back as
// Passed=false with a summary naming the cause.
func (r *Runner) Run(ctx context.Context, name string, files []string) Result {
	command, ok := r.commands[name]
	if !ok {
		return Result{Gate: name, Passed: false, Summary: fmt.Sprintf("no command configured for gate %q", name)}
	}

	argv := strings.Fields(command)
	if len(argv) == 0 {
		return Result{Gate: name, Passed: false, Summary: fmt.Sprintf("gate %q has an empty command configured", name)}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := append(argv, files...)
	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = r.workspace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		r.logger.Warn("gate timed out", zap.String("gate", name), zap.Duration("timeout", r.timeout))
		return Result{Gate: name, Passed: false, Summary: fmt.Sprintf("gate %q timed out after %s", name, r.timeout)}
	}

	result, parseErr := parse(name, stdout.Bytes())
	if parseErr == nil {
		return result
	}

	if err != nil {
		return Result{Gate: name, Passed: false, Summary: fmt.Sprintf("gate %q failed: %v: %s", name, err, firstLine(stderr.String()))}
	}
	r.logger.Warn("gate produced malformed output", zap.String("gate", name), zap.Error(parseErr))
	return Result{Gate: name, Passed: false, Summary: fmt.Sprintf("gate %q returned malformed result: %v", name, parseErr)}
}

// parse decodes the last JSON line of output. Gates are allowed to
// print progress before the result object.
func parse(name string, output []byte) (Result, error) {
	lines := bytes.Split(bytes.TrimSpace(output), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var wire wireResult
		if err := json.Unmarshal(line, &wire); err != nil {
			return Result{}, fmt.Errorf("invalid JSON result: %w", err)
		}
		if wire.Passed == nil {
			return Result{}, fmt.Errorf("result missing required field %q", "passed")
		}
		return Result{Gate: name, Passed: *wire.Passed, Summary: wire.Summary}, nil
	}
	return Result{}, fmt.Errorf("no JSON result object in gate output")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
