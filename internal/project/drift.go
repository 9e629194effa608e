package project

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/fyrsmithlabs/phased/internal/tracker"
)

// Mismatch is one divergence between the local cache and the tracker.
type Mismatch struct {
	PhaseID string `json:"phase_id"`
	Field   string `json:"field"`
	Cached  string `json:"cached"`
	Actual  string `json:"actual"`
}

// DriftReport describes cache/tracker divergence for one project.
type DriftReport struct {
	ProjectID  string     `json:"project_id"`
	InSync     bool       `json:"in_sync"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`

	// MissingItems are cached item numbers the tracker no longer has.
	MissingItems []int `json:"missing_items,omitempty"`
}

// DetectDrift compares a cached project against the tracker. The
// tracker is authoritative; the report says what the cache gets wrong.
func DetectDrift(ctx context.Context, tc tracker.Client, meta *ProjectMetadata) (*DriftReport, error) {
	report := &DriftReport{ProjectID: meta.ProjectID, InSync: true}

	phaseIDs := make([]string, 0, len(meta.Phases))
	for id := range meta.Phases {
		phaseIDs = append(phaseIDs, id)
	}
	sort.Strings(phaseIDs)

	for _, phaseID := range phaseIDs {
		sub := meta.Phases[phaseID]

		item, err := tc.GetItem(ctx, sub.ItemNumber)
		if errors.Is(err, tracker.ErrNotFound) {
			report.InSync = false
			report.MissingItems = append(report.MissingItems, sub.ItemNumber)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("drift check for #%d: %w", sub.ItemNumber, err)
		}

		if string(item.State) != sub.Status {
			report.InSync = false
			report.Mismatches = append(report.Mismatches, Mismatch{
				PhaseID: phaseID,
				Field:   "status",
				Cached:  sub.Status,
				Actual:  string(item.State),
			})
		}

		cachedDeps := depNumbers(meta, sub.DependsOn)
		if !equalInts(cachedDeps, item.DependsOn) {
			report.InSync = false
			report.Mismatches = append(report.Mismatches, Mismatch{
				PhaseID: phaseID,
				Field:   "depends_on",
				Cached:  formatInts(cachedDeps),
				Actual:  formatInts(item.DependsOn),
			})
		}
	}
	return report, nil
}

// depNumbers maps cached phase-id dependencies to item numbers.
func depNumbers(meta *ProjectMetadata, phaseIDs []string) []int {
	var numbers []int
	for _, id := range phaseIDs {
		if sub, ok := meta.Phases[id]; ok {
			numbers = append(numbers, sub.ItemNumber)
		}
	}
	sort.Ints(numbers)
	return numbers
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func formatInts(values []int) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += strconv.Itoa(v)
	}
	return out
}
