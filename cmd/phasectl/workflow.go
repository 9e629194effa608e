package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/phased/internal/choke"
	"github.com/fyrsmithlabs/phased/internal/phase"
)

var (
	flagBranch      string
	flagSubphase    string
	flagPassThrough bool
	flagMessage     string
)

func init() {
	statusCmd.Flags().StringVar(&flagBranch, "branch", "", "branch to inspect (default: current)")

	transitionCmd.Flags().StringVar(&flagBranch, "branch", "", "branch to transition (default: current)")
	transitionCmd.Flags().StringVar(&flagSubphase, "subphase", "", "target TDD sub-phase (red, green, refactor)")
	transitionCmd.Flags().BoolVar(&flagPassThrough, "pass-through", false, "allow skipping forward over phases")

	commitCmd.Flags().StringVarP(&flagMessage, "message", "m", "", "commit message (required)")
	commitCmd.Flags().StringVar(&flagSubphase, "subphase", "", "declared TDD sub-phase (red, green, refactor)")
	_ = commitCmd.MarkFlagRequired("message")
}

// statusCmd shows the branch's place in the lifecycle
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current phase and sub-phase of a branch",
	Long: `Show where a branch is in the delivery lifecycle.

Examples:
  # Status of the current branch
  phasectl status

  # Status of a specific branch
  phasectl status --branch feature/parser`,
	RunE: runStatus,
}

// transitionCmd advances the lifecycle
var transitionCmd = &cobra.Command{
	Use:   "transition <phase>",
	Short: "Advance a branch to the given phase ordinal (0-6)",
	Long: `Advance a branch through the delivery lifecycle. The transition is
policy-checked: phase order, required artifacts, and open dependencies
all apply.

Examples:
  # Move from research to planning
  phasectl transition 1

  # Enter the green sub-phase of implementation
  phasectl transition 4 --subphase green

  # Skip ahead with an explicit pass-through
  phasectl transition 5 --pass-through`,
	Args: cobra.ExactArgs(1),
	RunE: runTransition,
}

// commitCmd commits through the policy gate
var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit staged work through the policy gate",
	Long: `Commit staged work. During the implementation phase the declared
sub-phase must match the branch state, and green/refactor commits run
the configured test and quality gates first.

Examples:
  # A red commit (must change a test file)
  phasectl commit -m "red: parser rejects empty input" --subphase red

  # A green commit (runs the tests gate)
  phasectl commit -m "green: parser handles empty input" --subphase green`,
	RunE: runCommit,
}

// linkCmd links a tracker item to a branch
var linkCmd = &cobra.Command{
	Use:   "link <work-item>",
	Short: "Link a tracker work item to the current branch",
	Args:  cobra.ExactArgs(1),
	RunE:  runLink,
}

// closeCmd closes the linked work item
var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Close the branch's linked work item once documentation is done",
	RunE:  runClose,
}

// validateCmd checks phase artifacts
var validateCmd = &cobra.Command{
	Use:   "validate <work-item> <phase>",
	Short: "Check the artifacts required to enter a phase",
	Long: `Check the deliverable documents and gate evidence required to enter
the given phase ordinal for a work item.

Examples:
  phasectl validate 7 4`,
	Args: cobra.ExactArgs(2),
	RunE: runValidate,
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	branch := flagBranch
	if branch == "" {
		branch, err = a.adapters.CurrentBranch(cmd.Context())
		if err != nil {
			return err
		}
	}

	state := a.phases.GetState(branch)
	fmt.Printf("branch:    %s\n", branch)
	fmt.Printf("phase:     %d (%s)\n", state.CurrentPhase, state.CurrentPhase)
	if state.CurrentPhase == phase.PhaseImplement {
		fmt.Printf("subphase:  %s\n", state.TDDSubphase)
	}
	if state.LinkedWorkItem != "" {
		fmt.Printf("work item: #%s\n", state.LinkedWorkItem)
	}
	fmt.Printf("history:   %d transitions\n", len(state.History))
	return nil
}

func runTransition(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	ordinal, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("phase must be an ordinal 0-6, got %q", args[0])
	}
	subphase, err := parseSubphase(flagSubphase)
	if err != nil {
		return err
	}

	outcome, err := a.adapters.TransitionPhase(cmd.Context(), choke.TransitionRequest{
		Branch:      flagBranch,
		ToPhase:     phase.Phase(ordinal),
		ToSubphase:  subphase,
		PassThrough: flagPassThrough,
	})
	if err != nil {
		return err
	}
	printOutcome("transition", outcome)
	if !outcome.Allowed {
		os.Exit(1)
	}
	return nil
}

func runCommit(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	subphase, err := parseSubphase(flagSubphase)
	if err != nil {
		return err
	}

	outcome, err := a.adapters.Commit(cmd.Context(), choke.CommitRequest{
		Branch:   flagBranch,
		Subphase: subphase,
		Message:  flagMessage,
	})
	if err != nil {
		return err
	}
	printOutcome("commit", outcome)
	if !outcome.Allowed {
		os.Exit(1)
	}
	return nil
}

func runLink(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	branch, err := a.adapters.CurrentBranch(cmd.Context())
	if err != nil {
		return err
	}
	if _, err := a.phases.LinkWorkItem(branch, args[0]); err != nil {
		return err
	}
	fmt.Printf("linked %s to #%s\n", branch, args[0])
	return nil
}

func runClose(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	outcome, err := a.adapters.CloseItem(cmd.Context(), choke.CloseRequest{})
	if err != nil {
		return err
	}
	printOutcome("close", outcome)
	if !outcome.Allowed {
		os.Exit(1)
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	ordinal, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("phase must be an ordinal 0-6, got %q", args[1])
	}
	branch, err := a.adapters.CurrentBranch(cmd.Context())
	if err != nil {
		return err
	}

	result := a.validator.ValidatePhaseArtifacts(args[0], phase.Phase(ordinal), branch)
	if result.Valid {
		fmt.Println("all required artifacts present")
		return nil
	}
	for _, missing := range result.Missing {
		fmt.Printf("missing: %s\n", missing)
	}
	for _, problem := range result.Invalid {
		fmt.Printf("invalid: %s: %s\n", problem.Path, problem.Reason)
	}
	os.Exit(1)
	return nil
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
		return phase.SubphaseNone, fmt.Errorf("unknown sub-phase %q (red, green, refactor)", s)
	}
}
