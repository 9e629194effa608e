package project

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/phased/internal/tracker"
)

const (
	projectLabel = "phased:project"
	phaseLabel   = "phased:phase"
	labelColor   = "5319e7"
)

// ErrConfirmationRequired is returned when a moderately similar
// project already exists and the caller has not confirmed.
var ErrConfirmationRequired = errors.New("similar project exists; confirmation required")

// ErrDuplicateProject is returned when an existing project title is
// close enough to be considered the same project.
var ErrDuplicateProject = errors.New("duplicate project")

// PartialFailure reports that sub-item creation failed after some
// items were already created. No compensating deletion is attempted
// and the local cache is not written; the created numbers are returned
// for manual reconciliation.
type PartialFailure struct {
	Created []int
	Err     error
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("project initialization failed after creating items %v: %v (no cleanup attempted; reconcile manually)", e.Created, e.Err)
}

func (e *PartialFailure) Unwrap() error { return e.Err }

// Summary is the result of a successful initialization.
type Summary struct {
	ProjectID  string         `json:"project_id"`
	Milestone  int            `json:"milestone"`
	ParentItem int            `json:"parent_item"`
	Items      map[string]int `json:"items"`
	Order      []string       `json:"order"`
	Warnings   []string       `json:"warnings,omitempty"`
}

// Initializer creates a project's milestone, parent item, and one
// sub-item per phase in the tracking system, then caches the result.
type Initializer struct {
	tracker tracker.Client
	store   *MetadataStore
	logger  *zap.Logger
	now     func() time.Time
}

// NewInitializer wires an initializer over a tracker client and
// metadata store.
func NewInitializer(tc tracker.Client, store *MetadataStore, logger *zap.Logger) *Initializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Initializer{
		tracker: tc,
		store:   store,
		logger:  logger.Named("initializer"),
		now:     time.Now,
	}
}

// Initialize runs the strictly ordered creation sequence. Graph and
// duplicate validation happen before any external write; a cyclic spec
// never reaches the tracker. confirm acknowledges a moderate-similarity
// warning from a previous attempt.
func (ini *Initializer) Initialize(ctx context.Context, spec *ProjectSpec, confirm bool) (*Summary, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	order, err := spec.Order()
	if err != nil {
		return nil, err
	}

	warnings, err := ini.checkDuplicates(ctx, spec.Title, confirm)
	if err != nil {
		return nil, err
	}

	milestone, err := ini.tracker.CreateMilestone(ctx, spec.Title, spec.Description)
	if err != nil {
		return nil, fmt.Errorf("create milestone: %w", err)
	}

	if err := ini.ensureLabels(ctx); err != nil {
		ini.logger.Warn("label setup failed, continuing", zap.Error(err))
		warnings = append(warnings, fmt.Sprintf("label setup failed: %v", err))
	}

	parentNumber, parentBase, created, err := ini.resolveParent(ctx, spec, milestone.Number)
	if err != nil {
		return nil, err
	}

	// Sub-items are created dependencies-first so each body can embed
	// the already-known numbers of its upstream items.
	items := make(map[string]int, len(order))
	for _, phaseID := range order {
		ps := spec.Phase(phaseID)

		var dependsOn []int
		for _, dep := range ps.DependsOn {
			dependsOn = append(dependsOn, items[dep])
		}

		item, err := ini.tracker.CreateItem(ctx, &tracker.ItemDraft{
			Title:     fmt.Sprintf("%s: %s", spec.Title, ps.Title),
			Body:      ps.Description,
			Labels:    append([]string{phaseLabel, tracker.PhaseLabel(0)}, ps.InitialLabels...),
			Milestone: milestone.Number,
			DependsOn: dependsOn,
		})
		if err != nil {
			return nil, &PartialFailure{Created: created, Err: fmt.Errorf("create sub-item %q: %w", phaseID, err)}
		}
		created = append(created, item.Number)
		items[phaseID] = item.Number
	}

	if err := ini.tracker.UpdateItemBody(ctx, parentNumber, parentBody(parentBase, spec, order, items)); err != nil {
		return nil, &PartialFailure{Created: created, Err: fmt.Errorf("back-link parent item: %w", err)}
	}

	meta := &ProjectMetadata{
		ProjectID:   uuid.New().String(),
		Title:       spec.Title,
		ParentItem:  parentNumber,
		MilestoneID: milestone.Number,
		Phases:      make(map[string]SubItemMetadata, len(items)),
		CreatedAt:   ini.now().UTC(),
	}
	for phaseID, number := range items {
		ps := spec.Phase(phaseID)
		meta.Phases[phaseID] = SubItemMetadata{
			ItemNumber: number,
			DependsOn:  ps.DependsOn,
			Blocks:     spec.Blocks(phaseID),
			Status:     string(tracker.ItemOpen),
		}
	}
	if err := ini.store.Save(meta); err != nil {
		// Everything exists in the tracker; only the cache is stale.
		warnings = append(warnings, fmt.Sprintf("metadata cache not written: %v", err))
		ini.logger.Warn("project created but metadata cache not written", zap.Error(err))
	}

	ini.logger.Info("project initialized",
		zap.String("project_id", meta.ProjectID),
		zap.String("title", spec.Title),
		zap.Int("milestone", milestone.Number),
		zap.Int("items", len(items)))

	return &Summary{
		ProjectID:  meta.ProjectID,
		Milestone:  milestone.Number,
		ParentItem: parentNumber,
		Items:      items,
		Order:      order,
		Warnings:   warnings,
	}, nil
}

// resolveParent creates the parent item, or validates and attaches to
// an existing one when the spec names a parent_item_id. The returned
// created slice seeds partial-failure reporting: an attached parent
// was not created here and is never listed.
func (ini *Initializer) resolveParent(ctx context.Context, spec *ProjectSpec, milestone int) (int, string, []int, error) {
	if spec.ParentItemID > 0 {
		existing, err := ini.tracker.GetItem(ctx, spec.ParentItemID)
		if err != nil {
			return 0, "", nil, fmt.Errorf("validate parent item #%d: %w", spec.ParentItemID, err)
		}
		if existing.State != tracker.ItemOpen {
			return 0, "", nil, fmt.Errorf("parent item #%d is %s; the parent must be open", existing.Number, existing.State)
		}
		return existing.Number, existing.Body, nil, nil
	}

	parent, err := ini.tracker.CreateItem(ctx, &tracker.ItemDraft{
		Title:     spec.Title,
		Body:      spec.Description,
		Labels:    []string{projectLabel},
		Milestone: milestone,
	})
	if err != nil {
		return 0, "", nil, fmt.Errorf("create parent item: %w", err)
	}
	return parent.Number, spec.Description, []int{parent.Number}, nil
}

// checkDuplicates fuzzy-matches the proposed title against existing
// milestones. High similarity is a hard error; moderate similarity
// proceeds only with explicit confirmation.
func (ini *Initializer) checkDuplicates(ctx context.Context, title string, confirm bool) ([]string, error) {
	milestones, err := ini.tracker.ListMilestones(ctx)
	if err != nil {
		return nil, fmt.Errorf("list existing projects: %w", err)
	}

	var warnings []string
	for _, m := range milestones {
		score := TitleSimilarity(title, m.Title)
		switch {
		case score >= HighSimilarity:
			return nil, fmt.Errorf("%w: %q matches existing %q (similarity %.2f)",
				ErrDuplicateProject, title, m.Title, score)
		case score >= ModerateSimilarity:
			if !confirm {
				return nil, fmt.Errorf("%w: %q resembles existing %q (similarity %.2f)",
					ErrConfirmationRequired, title, m.Title, score)
			}
			warnings = append(warnings, fmt.Sprintf(
				"proceeding despite similar existing project %q (similarity %.2f)", m.Title, score))
		}
	}
	sort.Strings(warnings)
	return warnings, nil
}

func (ini *Initializer) ensureLabels(ctx context.Context) error {
	for _, name := range []string{projectLabel, phaseLabel, tracker.PhaseLabel(0)} {
		if err := ini.tracker.EnsureLabel(ctx, name, labelColor); err != nil {
			return err
		}
	}
	return nil
}

func parentBody(base string, spec *ProjectSpec, order []string, items map[string]int) string {
	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n\n## Phases\n\n")
	for _, phaseID := range order {
		ps := spec.Phase(phaseID)
		fmt.Fprintf(&sb, "- %s: #%d %s\n", phaseID, items[phaseID], ps.Title)
	}
	return sb.String()
}
