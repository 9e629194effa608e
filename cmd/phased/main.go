// Phased is a workflow-enforcement daemon speaking MCP over stdio.
//
// It gates the irreversible operations of a delivery workflow (commit,
// merge, phase transition, work-item close, file creation) behind a
// deterministic policy engine, and tracks each branch's position in
// the multi-phase lifecycle.
//
// Configuration is loaded from an optional YAML file plus PHASED_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon on stdio with defaults
//	phased
//
//	# With an explicit config file
//	phased -config /etc/phased/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/phased/internal/artifact"
	"github.com/fyrsmithlabs/phased/internal/choke"
	"github.com/fyrsmithlabs/phased/internal/config"
	"github.com/fyrsmithlabs/phased/internal/gate"
	"github.com/fyrsmithlabs/phased/internal/logging"
	"github.com/fyrsmithlabs/phased/internal/mcp"
	"github.com/fyrsmithlabs/phased/internal/phase"
	"github.com/fyrsmithlabs/phased/internal/policy"
	"github.com/fyrsmithlabs/phased/internal/project"
	"github.com/fyrsmithlabs/phased/internal/tracker"
	"github.com/fyrsmithlabs/phased/internal/vcs"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  phased             Start the daemon on stdio\n")
			fmt.Fprintf(os.Stderr, "  phased version     Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("phased: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("phased starting",
		zap.String("version", version),
		zap.String("workspace", cfg.Workspace))

	stateDir := cfg.ResolveStateDir()

	phases := phase.NewEngine(phase.NewStore(stateDir, logger), logger)
	evidence := gate.NewEvidenceStore(stateDir)
	runner := gate.NewRunner(cfg.Workspace, cfg.Gates.Commands, cfg.Gates.Timeout.Duration(), logger)
	validator := artifact.NewValidator(cfg.Workspace, evidence)

	var (
		trackerClient tracker.Client
		initializer   *project.Initializer
		metaStore     *project.MetadataStore
		deps          policy.DependencyChecker = untrackedDeps{}
	)
	if cfg.TrackerConfigured() {
		gh, err := tracker.NewGitHub(ctx, cfg.Tracker, logger)
		if err != nil {
			return fmt.Errorf("init tracker: %w", err)
		}
		trackerClient = gh
		deps = project.NewDependencyChecker(gh)

		metaStore, err = project.NewMetadataStore(stateDir, logger)
		if err != nil {
			return fmt.Errorf("init project metadata store: %w", err)
		}
		initializer = project.NewInitializer(gh, metaStore, logger)
	} else {
		logger.Info("tracker not configured, dependency checks disabled")
	}

	engine := policy.NewEngine(logger, policy.DefaultChecks(
		cfg.Policy.ProtectedBranches,
		cfg.Policy.TestFilePatterns,
		cfg.Policy.ScaffoldPatterns,
		cfg.Policy.ScaffoldTool,
		validator,
		deps,
	)...)

	adapters := choke.New(engine, phases, runner, evidence, vcs.NewGit(cfg.Workspace), trackerClient, logger)

	server, err := mcp.NewServer(&mcp.Config{
		Name:      "phased",
		Version:   version,
		Workspace: cfg.Workspace,
		Logger:    logger,
	}, adapters, phases, validator, initializer, metaStore, trackerClient)
	if err != nil {
		return fmt.Errorf("init MCP server: %w", err)
	}

	return server.Run(ctx)
}

// untrackedDeps is the dependency checker used when no tracking system
// is configured: every item is untracked, so the check never applies.
type untrackedDeps struct{}

func (untrackedDeps) OpenDependencies(context.Context, string) ([]string, bool, error) {
	return nil, false, nil
}

func printVersion() {
	fmt.Printf("phased %s\n", version)
	fmt.Printf("  commit: %s\n", gitCommit)
	fmt.Printf("  built:  %s\n", buildDate)
}
