package project

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/phased/internal/tracker"
)

// fakeTracker is an in-memory tracker.Client for initializer and drift
// tests. failCreateAfter, when positive, fails item creation once that
// many items exist.
type fakeTracker struct {
	items      map[int]*tracker.WorkItem
	milestones []*tracker.Milestone
	labels     map[string]bool
	nextNumber int

	failCreateAfter int
	calls           int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		items:      map[int]*tracker.WorkItem{},
		labels:     map[string]bool{},
		nextNumber: 1,
	}
}

func (f *fakeTracker) GetItem(_ context.Context, number int) (*tracker.WorkItem, error) {
	item, ok := f.items[number]
	if !ok {
		return nil, fmt.Errorf("%w: #%d", tracker.ErrNotFound, number)
	}
	return item, nil
}

func (f *fakeTracker) ListItems(context.Context) ([]*tracker.WorkItem, error) {
	var items []*tracker.WorkItem
	for _, item := range f.items {
		items = append(items, item)
	}
	return items, nil
}

func (f *fakeTracker) CreateItem(_ context.Context, draft *tracker.ItemDraft) (*tracker.WorkItem, error) {
	f.calls++
	if f.failCreateAfter > 0 && len(f.items) >= f.failCreateAfter {
		return nil, errors.New("tracker unavailable")
	}
	item := &tracker.WorkItem{
		Number:    f.nextNumber,
		Title:     draft.Title,
		Body:      tracker.RenderDependsOn(draft.Body, draft.DependsOn),
		State:     tracker.ItemOpen,
		Labels:    draft.Labels,
		DependsOn: sortedCopy(draft.DependsOn),
	}
	f.items[item.Number] = item
	f.nextNumber++
	return item, nil
}

func (f *fakeTracker) UpdateItemBody(_ context.Context, number int, body string) error {
	item, ok := f.items[number]
	if !ok {
		return tracker.ErrNotFound
	}
	item.Body = body
	return nil
}

func (f *fakeTracker) CloseItem(_ context.Context, number int) error {
	item, ok := f.items[number]
	if !ok {
		return tracker.ErrNotFound
	}
	item.State = tracker.ItemClosed
	return nil
}

func (f *fakeTracker) CreateMilestone(_ context.Context, title, description string) (*tracker.Milestone, error) {
	m := &tracker.Milestone{Number: len(f.milestones) + 1, Title: title, Description: description}
	f.milestones = append(f.milestones, m)
	return m, nil
}

func (f *fakeTracker) ListMilestones(context.Context) ([]*tracker.Milestone, error) {
	return f.milestones, nil
}

func (f *fakeTracker) EnsureLabel(_ context.Context, name, _ string) error {
	f.labels[name] = true
	return nil
}

func (f *fakeTracker) SetPhaseLabel(_ context.Context, number int, ordinal int) error {
	item, ok := f.items[number]
	if !ok {
		return tracker.ErrNotFound
	}
	item.Labels = append(item.Labels, tracker.PhaseLabel(ordinal))
	return nil
}

func sortedCopy(values []int) []int {
	out := append([]int(nil), values...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func twoPhaseSpec() *ProjectSpec {
	return &ProjectSpec{
		Title:       "Widget pipeline",
		Description: "Build the widget pipeline end to end.",
		Phases: []PhaseSpec{
			{ID: "parser", Title: "Parser", Description: "Parse widget definitions."},
			{ID: "emitter", Title: "Emitter", Description: "Emit widget code.", DependsOn: []string{"parser"}},
		},
	}
}

func newTestInitializer(t *testing.T, tc tracker.Client) (*Initializer, *MetadataStore) {
	t.Helper()
	store, err := NewMetadataStore(t.TempDir(), nil)
	require.NoError(t, err)
	return NewInitializer(tc, store, nil), store
}

func TestInitialize_CreatesEverythingInOrder(t *testing.T) {
	ft := newFakeTracker()
	ini, store := newTestInitializer(t, ft)

	summary, err := ini.Initialize(context.Background(), twoPhaseSpec(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Milestone)
	assert.Equal(t, 1, summary.ParentItem)
	assert.Equal(t, []string{"parser", "emitter"}, summary.Order)
	assert.NotEmpty(t, summary.ProjectID)

	// Sub-items carry the dependency metadata of earlier items.
	emitter := ft.items[summary.Items["emitter"]]
	deps, err := tracker.ParseDependsOn(emitter.Body)
	require.NoError(t, err)
	assert.Equal(t, []int{summary.Items["parser"]}, deps)

	// Parent is back-linked to every sub-item.
	parent := ft.items[summary.ParentItem]
	assert.Contains(t, parent.Body, fmt.Sprintf("#%d", summary.Items["parser"]))
	assert.Contains(t, parent.Body, fmt.Sprintf("#%d", summary.Items["emitter"]))

	// Cache was written with both phases.
	meta, err := store.Get(summary.ProjectID)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Len(t, meta.Phases, 2)
	assert.Equal(t, []string{"emitter"}, meta.Phases["parser"].Blocks)
}

func TestInitialize_CyclicSpecNeverReachesTracker(t *testing.T) {
	ft := newFakeTracker()
	ini, _ := newTestInitializer(t, ft)

	spec := twoPhaseSpec()
	spec.Phases[0].DependsOn = []string{"emitter"}

	_, err := ini.Initialize(context.Background(), spec, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
	assert.Equal(t, 0, ft.calls)
	assert.Empty(t, ft.milestones)
}

func TestInitialize_DuplicateTitleIsHardError(t *testing.T) {
	ft := newFakeTracker()
	_, err := ft.CreateMilestone(context.Background(), "Widget pipeline", "")
	require.NoError(t, err)

	ini, _ := newTestInitializer(t, ft)
	_, err = ini.Initialize(context.Background(), twoPhaseSpec(), false)
	assert.ErrorIs(t, err, ErrDuplicateProject)

	// Confirmation does not override a hard duplicate.
	_, err = ini.Initialize(context.Background(), twoPhaseSpec(), true)
	assert.ErrorIs(t, err, ErrDuplicateProject)
}

func TestInitialize_SimilarTitleNeedsConfirmation(t *testing.T) {
	ft := newFakeTracker()
	_, err := ft.CreateMilestone(context.Background(), "The widget pipeline", "")
	require.NoError(t, err)

	ini, _ := newTestInitializer(t, ft)

	_, err = ini.Initialize(context.Background(), twoPhaseSpec(), false)
	assert.ErrorIs(t, err, ErrConfirmationRequired)

	summary, err := ini.Initialize(context.Background(), twoPhaseSpec(), true)
	require.NoError(t, err)
	require.NotEmpty(t, summary.Warnings)
	assert.Contains(t, summary.Warnings[0], "similar existing project")
}

func TestInitialize_AttachesToExistingParent(t *testing.T) {
	ft := newFakeTracker()
	existing, err := ft.CreateItem(context.Background(), &tracker.ItemDraft{
		Title: "Epic: widgets",
		Body:  "Tracking item filed last quarter.",
	})
	require.NoError(t, err)

	ini, store := newTestInitializer(t, ft)
	spec := twoPhaseSpec()
	spec.ParentItemID = existing.Number

	summary, err := ini.Initialize(context.Background(), spec, false)
	require.NoError(t, err)

	// No new parent: the existing item plus one sub-item per phase.
	assert.Equal(t, existing.Number, summary.ParentItem)
	assert.Len(t, ft.items, 3)

	// Back-links are appended to the existing body, not replacing it.
	parent := ft.items[existing.Number]
	assert.Contains(t, parent.Body, "Tracking item filed last quarter.")
	assert.Contains(t, parent.Body, fmt.Sprintf("#%d", summary.Items["parser"]))

	meta, err := store.Get(summary.ProjectID)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, existing.Number, meta.ParentItem)
}

func TestInitialize_MissingParentItemFails(t *testing.T) {
	ft := newFakeTracker()
	ini, _ := newTestInitializer(t, ft)

	spec := twoPhaseSpec()
	spec.ParentItemID = 42

	_, err := ini.Initialize(context.Background(), spec, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, tracker.ErrNotFound)
}

func TestInitialize_ClosedParentItemFails(t *testing.T) {
	ft := newFakeTracker()
	existing, err := ft.CreateItem(context.Background(), &tracker.ItemDraft{Title: "Epic: widgets"})
	require.NoError(t, err)
	require.NoError(t, ft.CloseItem(context.Background(), existing.Number))

	ini, _ := newTestInitializer(t, ft)
	spec := twoPhaseSpec()
	spec.ParentItemID = existing.Number

	_, err = ini.Initialize(context.Background(), spec, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be open")
}

func TestInitialize_AppliesInitialLabels(t *testing.T) {
	ft := newFakeTracker()
	ini, _ := newTestInitializer(t, ft)

	spec := twoPhaseSpec()
	spec.Phases[0].InitialLabels = []string{"backend", "good-first-issue"}

	summary, err := ini.Initialize(context.Background(), spec, false)
	require.NoError(t, err)

	parser := ft.items[summary.Items["parser"]]
	assert.Contains(t, parser.Labels, "backend")
	assert.Contains(t, parser.Labels, "good-first-issue")
	assert.Contains(t, parser.Labels, tracker.PhaseLabel(0))

	emitter := ft.items[summary.Items["emitter"]]
	assert.NotContains(t, emitter.Labels, "backend")
}

func TestInitialize_PartialFailureReturnsCreatedAndSkipsCache(t *testing.T) {
	ft := newFakeTracker()
	ft.failCreateAfter = 2 // parent + first sub-item succeed, second fails

	ini, store := newTestInitializer(t, ft)
	_, err := ini.Initialize(context.Background(), twoPhaseSpec(), false)

	var partial *PartialFailure
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []int{1, 2}, partial.Created)
	assert.Contains(t, partial.Error(), "no cleanup attempted")

	projects, err := store.All()
	require.NoError(t, err)
	assert.Empty(t, projects)
}
