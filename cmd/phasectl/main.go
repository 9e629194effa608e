// Package main implements the phasectl CLI for manual workflow
// operations: inspecting phase state, transitioning phases, committing
// through the policy gate, and initializing projects.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/phased/internal/artifact"
	"github.com/fyrsmithlabs/phased/internal/choke"
	"github.com/fyrsmithlabs/phased/internal/config"
	"github.com/fyrsmithlabs/phased/internal/gate"
	"github.com/fyrsmithlabs/phased/internal/logging"
	"github.com/fyrsmithlabs/phased/internal/phase"
	"github.com/fyrsmithlabs/phased/internal/policy"
	"github.com/fyrsmithlabs/phased/internal/project"
	"github.com/fyrsmithlabs/phased/internal/tracker"
	"github.com/fyrsmithlabs/phased/internal/vcs"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "phasectl",
	Short: "CLI for phased workflow operations",
	Long: `phasectl is a command-line interface for the phased workflow daemon's
core operations: phase state, gated commits and transitions, and project
initialization against the tracking system.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(transitionCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(projectCmd)
}

// app bundles the wired collaborators every subcommand needs.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	phases      *phase.Engine
	validator   *artifact.Validator
	adapters    *choke.Adapters
	tracker     tracker.Client
	metaStore   *project.MetadataStore
	initializer *project.Initializer
}

// newApp loads config and wires the local engine the same way the
// daemon does, minus the MCP transport.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	stateDir := cfg.ResolveStateDir()
	phases := phase.NewEngine(phase.NewStore(stateDir, logger), logger)
	evidence := gate.NewEvidenceStore(stateDir)
	runner := gate.NewRunner(cfg.Workspace, cfg.Gates.Commands, cfg.Gates.Timeout.Duration(), logger)
	validator := artifact.NewValidator(cfg.Workspace, evidence)

	a := &app{
		cfg:       cfg,
		logger:    logger,
		phases:    phases,
		validator: validator,
	}

	var deps policy.DependencyChecker = untrackedDeps{}
	if cfg.TrackerConfigured() {
		gh, err := tracker.NewGitHub(ctx, cfg.Tracker, logger)
		if err != nil {
			return nil, fmt.Errorf("init tracker: %w", err)
		}
		a.tracker = gh
		deps = project.NewDependencyChecker(gh)

		a.metaStore, err = project.NewMetadataStore(stateDir, logger)
		if err != nil {
			return nil, fmt.Errorf("init project metadata store: %w", err)
		}
		a.initializer = project.NewInitializer(gh, a.metaStore, logger)
	}

	engine := policy.NewEngine(logger, policy.DefaultChecks(
		cfg.Policy.ProtectedBranches,
		cfg.Policy.TestFilePatterns,
		cfg.Policy.ScaffoldPatterns,
		cfg.Policy.ScaffoldTool,
		validator,
		deps,
	)...)
	a.adapters = choke.New(engine, phases, runner, evidence, vcs.NewGit(cfg.Workspace), a.tracker, logger)

	return a, nil
}

// untrackedDeps disables dependency checks when no tracker is set.
type untrackedDeps struct{}

func (untrackedDeps) OpenDependencies(context.Context, string) ([]string, bool, error) {
	return nil, false, nil
}

// printOutcome renders a choke decision for a terminal.
func printOutcome(operation string, outcome *choke.Outcome) {
	if outcome.Allowed {
		fmt.Printf("%s: allowed\n", operation)
	} else {
		fmt.Printf("%s: denied\n", operation)
		for _, reason := range outcome.Reasons {
			fmt.Printf("  - %s\n", reason)
		}
		for _, step := range outcome.Remediation {
			fmt.Printf("  next: %s\n", step)
		}
	}
	for _, warning := range outcome.Warnings {
		fmt.Printf("  warning: %s\n", warning)
	}
}
