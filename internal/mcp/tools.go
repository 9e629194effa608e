package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/phased/internal/choke"
	"github.com/fyrsmithlabs/phased/internal/phase"
	"github.com/fyrsmithlabs/phased/internal/project"
)

// outcomeOutput is the wire form of a choke-point decision.
type outcomeOutput struct {
	Allowed     bool     `json:"allowed" jsonschema:"Whether the operation was permitted and performed"`
	Reasons     []string `json:"reasons,omitempty" jsonschema:"Why the operation was denied"`
	Remediation []string `json:"remediation,omitempty" jsonschema:"Suggested next steps to clear each denial"`
	Warnings    []string `json:"warnings,omitempty" jsonschema:"Non-blocking advisories"`
	Gates       []string `json:"gates_run,omitempty" jsonschema:"Gates the server ran on the caller's behalf"`
}

func toOutcomeOutput(outcome *choke.Outcome) outcomeOutput {
	out := outcomeOutput{
		Allowed:     outcome.Allowed,
		Reasons:     outcome.Reasons,
		Remediation: outcome.Remediation,
		Warnings:    outcome.Warnings,
	}
	for name, result := range outcome.Gates {
		verdict := "passed"
		if !result.Passed {
			verdict = "failed"
		}
		out.Gates = append(out.Gates, name+": "+verdict)
	}
	sort.Strings(out.Gates)
	return out
}

func outcomeText(operation string, outcome *choke.Outcome) string {
	if outcome.Allowed {
		return fmt.Sprintf("%s allowed", operation)
	}
	return fmt.Sprintf("%s denied:\n- %s", operation, strings.Join(outcome.Reasons, "\n- "))
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// instrument wraps a tool invocation in the standard metrics calls.
// The returned done func also counts policy denials.
func (s *Server) instrument(ctx context.Context, name string) func(outcome *choke.Outcome, err error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, name)
	return func(outcome *choke.Outcome, err error) {
		s.metrics.DecrementActive(ctx, name)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), err)
		if err == nil && outcome != nil && !outcome.Allowed {
			s.metrics.RecordDenial(ctx, name)
		}
	}
}

func parseSubphase(s string) (phase.Subphase, error) {
	switch s {
	case "", "none":
		return phase.SubphaseNone, nil
	case "red":
		return phase.SubphaseRed, nil
	case "green":
		return phase.SubphaseGreen, nil
	case "refactor":
		return phase.SubphaseRefactor, nil
	default:
		return phase.SubphaseNone, fmt.Errorf("unknown sub-phase %q", s)
	}
}

func (s *Server) registerTools() {
	s.registerGateTools()
	s.registerPhaseTools()
	s.registerArtifactTools()
	s.registerProjectTools()
}

// ===== GATE TOOLS =====

type commitInput struct {
	Branch   string   `json:"branch,omitempty" jsonschema:"Branch to commit on (default: current)"`
	Subphase string   `json:"subphase,omitempty" jsonschema:"Declared TDD sub-phase: red, green, or refactor"`
	Message  string   `json:"message" jsonschema:"required,Commit message"`
	Files    []string `json:"files,omitempty" jsonschema:"Changed files (default: detected from the working tree)"`
}

type changeRequestInput struct {
	Branch string `json:"branch,omitempty" jsonschema:"Source branch (default: current)"`
	Target string `json:"target,omitempty" jsonschema:"Target branch of the change request"`
}

type mergeInput struct {
	Source string `json:"source" jsonschema:"required,Branch being merged"`
	Target string `json:"target" jsonschema:"required,Branch merged into"`
}

type closeItemInput struct {
	Branch   string `json:"branch,omitempty" jsonschema:"Branch the work happened on (default: current)"`
	WorkItem string `json:"work_item,omitempty" jsonschema:"Work item id (default: the branch's linked item)"`
}

type createFileInput struct {
	Branch  string `json:"branch,omitempty" jsonschema:"Branch context (default: current)"`
	Path    string `json:"path" jsonschema:"required,Workspace-relative path of the new file"`
	Content string `json:"content" jsonschema:"required,File content"`
}

type recordToolUsageInput struct {
	Branch string `json:"branch,omitempty" jsonschema:"Branch context (default: current)"`
	Tool   string `json:"tool" jsonschema:"required,Name of the tool that was invoked"`
}

type recordToolUsageOutput struct {
	Recorded bool `json:"recorded" jsonschema:"Whether the usage was recorded"`
}

func (s *Server) registerGateTools() {
	s.registry.Register(&ToolMetadata{
		Name:        "commit",
		Description: "Commit staged work, enforcing branch protection and TDD sub-phase rules",
		Category:    CategoryGate,
		Keywords:    []string{"git", "red", "green", "refactor"},
	})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "commit",
		Description: "Commit staged work, enforcing branch protection and TDD sub-phase rules",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args commitInput) (*mcp.CallToolResult, outcomeOutput, error) {
		done := s.instrument(ctx, "commit")

		subphase, err := parseSubphase(args.Subphase)
		if err != nil {
			done(nil, err)
			return nil, outcomeOutput{}, err
		}

		outcome, err := s.adapters.Commit(ctx, choke.CommitRequest{
			Branch:   args.Branch,
			Subphase: subphase,
			Message:  args.Message,
			Files:    args.Files,
		})
		done(outcome, err)
		if err != nil {
			return nil, outcomeOutput{}, err
		}
		return textResult(outcomeText("commit", outcome)), toOutcomeOutput(outcome), nil
	})

	s.registry.Register(&ToolMetadata{
		Name:        "create_change_request",
		Description: "Check that a branch has earned a change request (docs complete, gates passing)",
		Category:    CategoryGate,
		Keywords:    []string{"pull request", "review"},
	})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "create_change_request",
		Description: "Check that a branch has earned a change request (docs complete, gates passing)",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args changeRequestInput) (*mcp.CallToolResult, outcomeOutput, error) {
		done := s.instrument(ctx, "create_change_request")

		outcome, err := s.adapters.CreateChangeRequest(ctx, choke.ChangeRequestRequest{
			Branch: args.Branch,
			Target: args.Target,
		})
		done(outcome, err)
		if err != nil {
			return nil, outcomeOutput{}, err
		}
		return textResult(outcomeText("create_change_request", outcome)), toOutcomeOutput(outcome), nil
	})

	s.registry.Register(&ToolMetadata{
		Name:        "merge",
		Description: "Merge a feature branch, enforcing protected-branch policy on the target",
		Category:    CategoryGate,
		Keywords:    []string{"git"},
	})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "merge",
		Description: "Merge a feature branch, enforcing protected-branch policy on the target",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args mergeInput) (*mcp.CallToolResult, outcomeOutput, error) {
		done := s.instrument(ctx, "merge")

		outcome, err := s.adapters.Merge(ctx, choke.MergeRequest{
			Source: args.Source,
			Target: args.Target,
		})
		done(outcome, err)
		if err != nil {
			return nil, outcomeOutput{}, err
		}
		return textResult(outcomeText("merge", outcome)), toOutcomeOutput(outcome), nil
	})

	s.registry.Register(&ToolMetadata{
		Name:        "close_item",
		Description: "Close the linked work item once every phase including documentation is done",
		Category:    CategoryGate,
	})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "close_item",
		Description: "Close the linked work item once every phase including documentation is done",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args closeItemInput) (*mcp.CallToolResult, outcomeOutput, error) {
		done := s.instrument(ctx, "close_item")

		outcome, err := s.adapters.CloseItem(ctx, choke.CloseRequest{
			Branch:     args.Branch,
			WorkItemID: args.WorkItem,
		})
		done(outcome, err)
		if err != nil {
			return nil, outcomeOutput{}, err
		}
		return textResult(outcomeText("close_item", outcome)), toOutcomeOutput(outcome), nil
	})

	s.registry.Register(&ToolMetadata{
		Name:        "create_file",
		Description: "Create a file, denying direct writes to paths the scaffold tool must generate",
		Category:    CategoryGate,
		Keywords:    []string{"scaffold", "write"},
	})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "create_file",
		Description: "Create a file, denying direct writes to paths the scaffold tool must generate",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args createFileInput) (*mcp.CallToolResult, outcomeOutput, error) {
		done := s.instrument(ctx, "create_file")

		outcome, err := s.adapters.CreateFile(ctx, s.workspace, choke.CreateFileRequest{
			Branch:  args.Branch,
			Path:    args.Path,
			Content: []byte(args.Content),
		})
		done(outcome, err)
		if err != nil {
			return nil, outcomeOutput{}, err
		}
		return textResult(outcomeText("create_file", outcome)), toOutcomeOutput(outcome), nil
	})

	s.registry.Register(&ToolMetadata{
		Name:        "record_tool_usage",
		Description: "Record that a required tool (e.g. the scaffold tool) was invoked on a branch",
		Category:    CategoryGate,
	})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "record_tool_usage",
		Description: "Record that a required tool (e.g. the scaffold tool) was invoked on a branch",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args recordToolUsageInput) (*mcp.CallToolResult, recordToolUsageOutput, error) {
		done := s.instrument(ctx, "record_tool_usage")

		err := s.adapters.RecordToolUsage(ctx, args.Branch, args.Tool)
		done(nil, err)
		if err != nil {
			return nil, recordToolUsageOutput{}, err
		}
		return textResult(fmt.Sprintf("recorded usage of %q", args.Tool)), recordToolUsageOutput{Recorded: true}, nil
	})
}

// ===== PHASE TOOLS =====

type transitionInput struct {
	Branch      string `json:"branch,omitempty" jsonschema:"Branch to transition (default: current)"`
	ToPhase     int    `json:"to_phase" jsonschema:"required,Target phase ordinal 0-6"`
	ToSubphase  string `json:"to_subphase,omitempty" jsonschema:"Target TDD sub-phase within the implementation phase"`
	PassThrough bool   `json:"pass_through,omitempty" jsonschema:"Allow skipping forward over intermediate phases"`
}

type phaseStatusInput struct {
	Branch string `json:"branch,omitempty" jsonschema:"Branch to inspect (default: current)"`
}

type phaseStatusOutput struct {
	Branch      string `json:"branch" jsonschema:"Branch name"`
	Phase       int    `json:"phase" jsonschema:"Current phase ordinal"`
	PhaseName   string `json:"phase_name" jsonschema:"Current phase name"`
	Subphase    string `json:"subphase" jsonschema:"Current TDD sub-phase"`
	WorkItem    string `json:"work_item,omitempty" jsonschema:"Linked work item id"`
	Transitions int    `json:"transitions" jsonschema:"Number of recorded transitions"`
}

type linkWorkItemInput struct {
	Branch   string `json:"branch,omitempty" jsonschema:"Branch to link (default: current)"`
	WorkItem string `json:"work_item" jsonschema:"required,Work item id to link to the branch"`
}

func (s *Server) registerPhaseTools() {
	s.registry.Register(&ToolMetadata{
		Name:        "transition_phase",
		Description: "Advance a branch through the delivery lifecycle, enforcing order and artifacts",
		Category:    CategoryPhase,
		Keywords:    []string{"lifecycle", "workflow"},
	})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "transition_phase",
		Description: "Advance a branch through the delivery lifecycle, enforcing order and artifacts",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args transitionInput) (*mcp.CallToolResult, outcomeOutput, error) {
		done := s.instrument(ctx, "transition_phase")

		subphase, err := parseSubphase(args.ToSubphase)
		if err != nil {
			done(nil, err)
			return nil, outcomeOutput{}, err
		}

		outcome, err := s.adapters.TransitionPhase(ctx, choke.TransitionRequest{
			Branch:      args.Branch,
			ToPhase:     phase.Phase(args.ToPhase),
			ToSubphase:  subphase,
			PassThrough: args.PassThrough,
		})
		done(outcome, err)
		if err != nil {
			return nil, outcomeOutput{}, err
		}
		return textResult(outcomeText("transition_phase", outcome)), toOutcomeOutput(outcome), nil
	})

	s.registry.Register(&ToolMetadata{
		Name:        "phase_status",
		Description: "Show the current phase, sub-phase, and linked work item of a branch",
		Category:    CategoryPhase,
		Keywords:    []string{"state", "where"},
	})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "phase_status",
		Description: "Show the current phase, sub-phase, and linked work item of a branch",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args phaseStatusInput) (*mcp.CallToolResult, phaseStatusOutput, error) {
		done := s.instrument(ctx, "phase_status")

		branch := args.Branch
		if branch == "" {
			var err error
			branch, err = s.adapters.CurrentBranch(ctx)
			if err != nil {
				done(nil, err)
				return nil, phaseStatusOutput{}, err
			}
		}

		state := s.phases.GetState(branch)
		out := phaseStatusOutput{
			Branch:      branch,
			Phase:       int(state.CurrentPhase),
			PhaseName:   state.CurrentPhase.String(),
			Subphase:    string(state.TDDSubphase),
			WorkItem:    state.LinkedWorkItem,
			Transitions: len(state.History),
		}
		done(nil, nil)
		return textResult(fmt.Sprintf("%s is at %s", branch, state.CurrentPhase)), out, nil
	})

	s.registry.Register(&ToolMetadata{
		Name:        "link_work_item",
		Description: "Link a tracker work item to a branch so policy checks can find it",
		Category:    CategoryPhase,
	})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "link_work_item",
		Description: "Link a tracker work item to a branch so policy checks can find it",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args linkWorkItemInput) (*mcp.CallToolResult, phaseStatusOutput, error) {
		done := s.instrument(ctx, "link_work_item")

		branch := args.Branch
		if branch == "" {
			var err error
			branch, err = s.adapters.CurrentBranch(ctx)
			if err != nil {
				done(nil, err)
				return nil, phaseStatusOutput{}, err
			}
		}

		state, err := s.phases.LinkWorkItem(branch, args.WorkItem)
		done(nil, err)
		if err != nil {
			return nil, phaseStatusOutput{}, err
		}
		out := phaseStatusOutput{
			Branch:    branch,
			Phase:     int(state.CurrentPhase),
			PhaseName: state.CurrentPhase.String(),
			Subphase:  string(state.TDDSubphase),
			WorkItem:  state.LinkedWorkItem,
		}
		return textResult(fmt.Sprintf("linked %s to #%s", branch, args.WorkItem)), out, nil
	})
}

// ===== ARTIFACT TOOLS =====

type validateArtifactsInput struct {
	WorkItem string `json:"work_item" jsonschema:"required,Work item id the deliverables belong to"`
	Phase    int    `json:"phase" jsonschema:"required,Phase ordinal whose entry requirements to check"`
	Branch   string `json:"branch,omitempty" jsonschema:"Branch evidence is recorded under (default: current)"`
}

type validateArtifactsOutput struct {
	Valid   bool     `json:"valid" jsonschema:"Whether every required artifact is present and well-formed"`
	Missing []string `json:"missing,omitempty" jsonschema:"Artifacts that do not exist"`
	Invalid []string `json:"invalid,omitempty" jsonschema:"Artifacts that exist but fail validation, with reasons"`
}

func (s *Server) registerArtifactTools() {
	s.registry.Register(&ToolMetadata{
		Name:        "validate_artifacts",
		Description: "Check the deliverable documents and gate evidence required to enter a phase",
		Category:    CategoryArtifact,
		Keywords:    []string{"documents", "evidence", "deliverables"},
	})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "validate_artifacts",
		Description: "Check the deliverable documents and gate evidence required to enter a phase",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args validateArtifactsInput) (*mcp.CallToolResult, validateArtifactsOutput, error) {
		done := s.instrument(ctx, "validate_artifacts")

		branch := args.Branch
		if branch == "" {
			var err error
			branch, err = s.adapters.CurrentBranch(ctx)
			if err != nil {
				done(nil, err)
				return nil, validateArtifactsOutput{}, err
			}
		}

		result := s.validator.ValidatePhaseArtifacts(args.WorkItem, phase.Phase(args.Phase), branch)
		out := validateArtifactsOutput{Valid: result.Valid, Missing: result.Missing}
		for _, problem := range result.Invalid {
			out.Invalid = append(out.Invalid, fmt.Sprintf("%s: %s", problem.Path, problem.Reason))
		}

		done(nil, nil)
		text := "all required artifacts present"
		if !result.Valid {
			text = fmt.Sprintf("%d missing, %d invalid", len(result.Missing), len(result.Invalid))
		}
		return textResult(text), out, nil
	})
}

// ===== PROJECT TOOLS =====

type projectInitInput struct {
	SpecYAML string `json:"spec_yaml" jsonschema:"required,Project specification in YAML"`
	Confirm  bool   `json:"confirm,omitempty" jsonschema:"Proceed despite a similar existing project"`
}

type projectInitOutput struct {
	ProjectID  string   `json:"project_id" jsonschema:"Generated project identifier"`
	Milestone  int      `json:"milestone" jsonschema:"Created milestone number"`
	ParentItem int      `json:"parent_item" jsonschema:"Created parent work item number"`
	Order      []string `json:"order" jsonschema:"Phase ids in dependency order"`
	Warnings   []string `json:"warnings,omitempty" jsonschema:"Non-fatal problems during initialization"`
}

type projectDriftInput struct {
	ProjectID string `json:"project_id" jsonschema:"required,Project to compare against the tracker"`
}

type projectDriftOutput struct {
	InSync       bool     `json:"in_sync" jsonschema:"Whether the cache matches the tracker"`
	Mismatches   []string `json:"mismatches,omitempty" jsonschema:"Fields that diverge, cached vs actual"`
	MissingItems []int    `json:"missing_items,omitempty" jsonschema:"Cached item numbers the tracker no longer has"`
}

func (s *Server) registerProjectTools() {
	if s.initializer == nil || s.metaStore == nil || s.tracker == nil {
		s.logger.Info("tracker not configured, project tools not registered")
		return
	}

	s.registry.Register(&ToolMetadata{
		Name:        "project_init",
		Description: "Validate a project dependency graph and create its tracker milestone and items",
		Category:    CategoryProject,
		Keywords:    []string{"milestone", "issues", "graph"},
	})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "project_init",
		Description: "Validate a project dependency graph and create its tracker milestone and items",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args projectInitInput) (*mcp.CallToolResult, projectInitOutput, error) {
		done := s.instrument(ctx, "project_init")

		spec, err := project.ParseSpec([]byte(args.SpecYAML))
		if err != nil {
			done(nil, err)
			return nil, projectInitOutput{}, err
		}

		summary, err := s.initializer.Initialize(ctx, spec, args.Confirm)
		done(nil, err)
		if err != nil {
			return nil, projectInitOutput{}, err
		}

		out := projectInitOutput{
			ProjectID:  summary.ProjectID,
			Milestone:  summary.Milestone,
			ParentItem: summary.ParentItem,
			Order:      summary.Order,
			Warnings:   summary.Warnings,
		}
		return textResult(fmt.Sprintf("project %s initialized with %d items", summary.ProjectID, len(summary.Items))), out, nil
	})

	s.registry.Register(&ToolMetadata{
		Name:        "project_drift",
		Description: "Compare the local project cache against the tracker and report divergence",
		Category:    CategoryProject,
		Keywords:    []string{"sync", "stale", "cache"},
	})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "project_drift",
		Description: "Compare the local project cache against the tracker and report divergence",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args projectDriftInput) (*mcp.CallToolResult, projectDriftOutput, error) {
		done := s.instrument(ctx, "project_drift")

		meta, err := s.metaStore.Get(args.ProjectID)
		if err == nil && meta == nil {
			err = fmt.Errorf("project %q not found in cache", args.ProjectID)
		}
		if err != nil {
			done(nil, err)
			return nil, projectDriftOutput{}, err
		}

		report, err := project.DetectDrift(ctx, s.tracker, meta)
		done(nil, err)
		if err != nil {
			return nil, projectDriftOutput{}, err
		}

		out := projectDriftOutput{InSync: report.InSync, MissingItems: report.MissingItems}
		for _, m := range report.Mismatches {
			out.Mismatches = append(out.Mismatches, fmt.Sprintf("%s.%s: cached %q, actual %q", m.PhaseID, m.Field, m.Cached, m.Actual))
		}

		text := "cache is in sync with the tracker"
		if !report.InSync {
			text = fmt.Sprintf("drift detected: %d mismatches, %d missing items", len(out.Mismatches), len(out.MissingItems))
		}
		return textResult(text), out, nil
	})
}
