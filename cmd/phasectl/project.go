// Package main implements project subcommands against the tracking
// system.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/phased/internal/project"
)

var (
	flagSpecFile string
	flagConfirm  bool
)

func init() {
	projectCmd.AddCommand(projectInitCmd)
	projectCmd.AddCommand(projectValidateCmd)
	projectCmd.AddCommand(projectDriftCmd)

	projectInitCmd.Flags().StringVarP(&flagSpecFile, "file", "f", "", "project spec YAML file (required)")
	projectInitCmd.Flags().BoolVar(&flagConfirm, "confirm", false, "proceed despite a similar existing project")
	_ = projectInitCmd.MarkFlagRequired("file")

	projectValidateCmd.Flags().StringVarP(&flagSpecFile, "file", "f", "", "project spec YAML file (required)")
	_ = projectValidateCmd.MarkFlagRequired("file")
}

// projectCmd is the parent command for project operations
var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Initialize and inspect multi-phase projects",
	Long: `Initialize a project in the tracking system from a YAML spec, validate
a spec's dependency graph, and detect drift between the local cache
and the tracker.

Examples:
  # Validate a spec without touching the tracker
  phasectl project validate -f project.yaml

  # Create milestone, parent item, and one sub-item per phase
  phasectl project init -f project.yaml

  # Compare the local cache against the tracker
  phasectl project drift <project-id>`,
}

var projectInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a project's milestone and work items in the tracker",
	RunE:  runProjectInit,
}

var projectValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a project spec's dependency graph without side effects",
	RunE:  runProjectValidate,
}

var projectDriftCmd = &cobra.Command{
	Use:   "drift <project-id>",
	Short: "Report divergence between the local cache and the tracker",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectDrift,
}

func runProjectInit(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	if a.initializer == nil {
		return fmt.Errorf("tracker not configured: set tracker.owner, tracker.repo, and PHASED_TRACKER_TOKEN")
	}

	spec, err := project.LoadSpec(flagSpecFile)
	if err != nil {
		return err
	}

	summary, err := a.initializer.Initialize(cmd.Context(), spec, flagConfirm)
	if err != nil {
		return err
	}

	fmt.Printf("project %s initialized\n", summary.ProjectID)
	fmt.Printf("  milestone:   %d\n", summary.Milestone)
	fmt.Printf("  parent item: #%d\n", summary.ParentItem)
	for _, phaseID := range summary.Order {
		fmt.Printf("  %-12s #%d\n", phaseID, summary.Items[phaseID])
	}
	for _, warning := range summary.Warnings {
		fmt.Printf("  warning: %s\n", warning)
	}
	return nil
}

func runProjectValidate(cmd *cobra.Command, args []string) error {
	spec, err := project.LoadSpec(flagSpecFile)
	if err != nil {
		fmt.Printf("invalid: %v\n", err)
		os.Exit(1)
	}

	order, err := spec.Order()
	if err != nil {
		fmt.Printf("invalid: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("valid: %d phases\n", len(spec.Phases))
	fmt.Print("order:")
	for _, id := range order {
		fmt.Printf(" %s", id)
	}
	fmt.Println()
	return nil
}

func runProjectDrift(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	if a.tracker == nil || a.metaStore == nil {
		return fmt.Errorf("tracker not configured: set tracker.owner, tracker.repo, and PHASED_TRACKER_TOKEN")
	}

	meta, err := a.metaStore.Get(args[0])
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("project %q not found in cache", args[0])
	}

	report, err := project.DetectDrift(cmd.Context(), a.tracker, meta)
	if err != nil {
		return err
	}

	if report.InSync {
		fmt.Println("cache is in sync with the tracker")
		return nil
	}
	for _, m := range report.Mismatches {
		fmt.Printf("mismatch: %s.%s cached %q, actual %q\n", m.PhaseID, m.Field, m.Cached, m.Actual)
	}
	for _, number := range report.MissingItems {
		fmt.Printf("missing in tracker: #%d\n", number)
	}
	os.Exit(1)
	return nil
}
