package policy

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Check is one independently testable predicate over a policy context.
type Check interface {
	// Name identifies the check in logs and failure reasons.
	Name() string

	// Check evaluates the context. A returned error means the check
	// could not obtain its inputs; the engine treats that as a denial,
	// never as a pass.
	Check(ctx context.Context, pctx *Context) (CheckResult, error)
}

// Engine runs an ordered pipeline of checks and ANDs their verdicts.
type Engine struct {
	checks []Check
	logger *zap.Logger
}

// NewEngine creates an engine over the given checks. Order determines
// reason ordering in decisions, not the verdict itself.
func NewEngine(logger *zap.Logger, checks ...Check) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{checks: checks, logger: logger}
}

// Decide evaluates every check against pctx and composes one Decision.
func (e *Engine) Decide(ctx context.Context, pctx *Context) Decision {
	decision := Decision{Allow: true}

	for _, check := range e.checks {
		result, err := check.Check(ctx, pctx)
		if err != nil {
			// Unavailable input is a denial, not a pass.
			decision.Allow = false
			decision.Reasons = append(decision.Reasons,
				fmt.Sprintf("%s: could not evaluate: %v", check.Name(), err))
			continue
		}
		if len(result.Reasons) > 0 {
			decision.Allow = false
			decision.Reasons = append(decision.Reasons, result.Reasons...)
		}
		decision.RequiredGates = appendUnique(decision.RequiredGates, result.RequiredGates...)
		decision.Warnings = append(decision.Warnings, result.Warnings...)
	}

	e.logger.Info("policy decision",
		zap.String("operation", string(pctx.Operation)),
		zap.String("branch", pctx.Branch),
		zap.Bool("allow", decision.Allow),
		zap.Strings("reasons", decision.Reasons),
		zap.Strings("required_gates", decision.RequiredGates))

	return decision
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		seen := false
		for _, existing := range dst {
			if existing == v {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, v)
		}
	}
	return dst
}
