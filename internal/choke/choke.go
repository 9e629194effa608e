// Package choke wraps each gated operation in a policy decision. An
// adapter builds the policy context, asks the engine, and either
// aborts with the reasons or performs the underlying operation and
// records the confirmed outcome in the phase state.
package choke

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/phased/internal/gate"
	"github.com/fyrsmithlabs/phased/internal/phase"
	"github.com/fyrsmithlabs/phased/internal/policy"
	"github.com/fyrsmithlabs/phased/internal/tracker"
	"github.com/fyrsmithlabs/phased/internal/vcs"
)

// Outcome is what every adapter returns to its caller.
type Outcome struct {
	Allowed bool     `json:"allowed"`
	Reasons []string `json:"reasons,omitempty"`

	// Remediation names what the caller should do next to clear each
	// denial, where one can be suggested.
	Remediation []string `json:"remediation,omitempty"`

	// Gates holds the results of gates the adapter ran on the caller's
	// behalf.
	Gates map[string]policy.GateOutcome `json:"gates,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
}

// Adapters owns the collaborators shared by every choke point. The
// tracker may be nil when no tracking system is configured; tracker
// effects degrade to warnings in that case.
type Adapters struct {
	engine   *policy.Engine
	phases   *phase.Engine
	gates    *gate.Runner
	evidence *gate.EvidenceStore
	vcs      vcs.VCS
	tracker  tracker.Client
	logger   *zap.Logger
}

// New wires the adapter set.
func New(
	engine *policy.Engine,
	phases *phase.Engine,
	gates *gate.Runner,
	evidence *gate.EvidenceStore,
	v vcs.VCS,
	tc tracker.Client,
	logger *zap.Logger,
) *Adapters {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapters{
		engine:   engine,
		phases:   phases,
		gates:    gates,
		evidence: evidence,
		vcs:      v,
		tracker:  tc,
		logger:   logger.Named("choke"),
	}
}

// decide runs the engine, and when the only obstacle is missing gate
// results, runs those gates with the runner's bounded timeout, records
// the evidence, and decides again with the results in context. A gate
// that times out or cannot be parsed comes back failed, so the second
// decision denies.
func (a *Adapters) decide(ctx context.Context, pctx *policy.Context) (policy.Decision, map[string]policy.GateOutcome) {
	decision := a.engine.Decide(ctx, pctx)
	if !decision.Allow || len(decision.RequiredGates) == 0 || a.gates == nil {
		return decision, nil
	}

	ran := make(map[string]policy.GateOutcome, len(decision.RequiredGates))
	if pctx.GateResults == nil {
		pctx.GateResults = map[string]policy.GateOutcome{}
	}
	for _, name := range decision.RequiredGates {
		result := a.gates.Run(ctx, name, pctx.ChangedFiles)
		outcome := policy.GateOutcome{Passed: result.Passed, Summary: result.Summary}
		ran[name] = outcome
		pctx.GateResults[name] = outcome

		if a.evidence != nil {
			if err := a.evidence.Record(pctx.Branch, result); err != nil {
				a.logger.Warn("gate evidence not recorded",
					zap.String("gate", name), zap.Error(err))
			}
		}
	}
	return a.engine.Decide(ctx, pctx), ran
}

// remediate derives next-step suggestions from a denial.
func remediate(decision policy.Decision) []string {
	var steps []string
	seen := map[string]bool{}
	add := func(step string) {
		if !seen[step] {
			seen[step] = true
			steps = append(steps, step)
		}
	}

	for _, reason := range decision.Reasons {
		switch {
		case strings.Contains(reason, "is protected"):
			add("switch to a feature branch")
		case strings.HasPrefix(reason, "missing artifact: "):
			add("create " + strings.TrimPrefix(reason, "missing artifact: "))
		case strings.HasPrefix(reason, "invalid artifact "):
			add("fix " + strings.TrimPrefix(reason, "invalid artifact "))
		case strings.Contains(reason, "gate failing"):
			add("fix the failures and rerun the gate")
		case strings.Contains(reason, "scaffold pattern"):
			add("generate the file with the scaffold tool")
		case strings.Contains(reason, "blocked by open dependencies"):
			add("complete the blocking work items first")
		case strings.Contains(reason, "test file"):
			add("add or change a test before committing red")
		}
	}
	for _, name := range decision.RequiredGates {
		add("run the " + name + " gate")
	}
	return steps
}

func deny(decision policy.Decision, gates map[string]policy.GateOutcome) *Outcome {
	return &Outcome{
		Allowed:     false,
		Reasons:     decision.Reasons,
		Remediation: remediate(decision),
		Gates:       gates,
		Warnings:    decision.Warnings,
	}
}
