// Package tracker talks to the work-item tracking system. The GitHub
// implementation maps projects to milestones and work items to issues;
// dependency edges ride in a fenced metadata block inside the issue
// body so the tracker stays the single source of truth.
package tracker

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a work item does not exist.
	ErrNotFound = errors.New("tracker: work item not found")

	// ErrNotConfigured is returned when no tracker credentials are set.
	ErrNotConfigured = errors.New("tracker: not configured")
)

// ItemState is the lifecycle state of a work item in the tracker.
type ItemState string

const (
	ItemOpen   ItemState = "open"
	ItemClosed ItemState = "closed"
)

// WorkItem is a tracker issue as the rest of the daemon sees it.
type WorkItem struct {
	Number    int
	Title     string
	Body      string
	State     ItemState
	Labels    []string
	Milestone string

	// DependsOn holds the item numbers parsed from the metadata block
	// in Body. Empty when the item declares no dependencies.
	DependsOn []int
}

// ItemDraft is the input to CreateItem.
type ItemDraft struct {
	Title     string
	Body      string
	Labels    []string
	Milestone int

	// DependsOn is rendered into the body metadata block.
	DependsOn []int
}

// Milestone groups the work items of one initialized project.
type Milestone struct {
	Number      int
	Title       string
	Description string
}

// Client is the tracker surface the initializer, policy checks, and
// choke-point adapters depend on.
type Client interface {
	// GetItem fetches one work item, with DependsOn parsed from its
	// body. Returns ErrNotFound for an unknown number.
	GetItem(ctx context.Context, number int) (*WorkItem, error)

	// ListItems returns every work item in the repository, open and
	// closed, for duplicate detection and drift reports.
	ListItems(ctx context.Context) ([]*WorkItem, error)

	// CreateItem opens a new work item and returns it.
	CreateItem(ctx context.Context, draft *ItemDraft) (*WorkItem, error)

	// UpdateItemBody rewrites the body of an existing item.
	UpdateItemBody(ctx context.Context, number int, body string) error

	// CloseItem marks the item completed.
	CloseItem(ctx context.Context, number int) error

	// CreateMilestone creates a project milestone and returns it.
	CreateMilestone(ctx context.Context, title, description string) (*Milestone, error)

	// ListMilestones returns all milestones, open and closed.
	ListMilestones(ctx context.Context) ([]*Milestone, error)

	// EnsureLabel creates the label if it does not already exist.
	EnsureLabel(ctx context.Context, name, color string) error

	// SetPhaseLabel replaces any phase:* label on the item with the
	// one for the given phase ordinal.
	SetPhaseLabel(ctx context.Context, number int, phaseOrdinal int) error
}

// PhaseLabel returns the tracker label for a phase ordinal, e.g.
// "phase:4".
func PhaseLabel(ordinal int) string {
	return fmt.Sprintf("phase:%d", ordinal)
}
