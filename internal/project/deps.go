package project

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/fyrsmithlabs/phased/internal/tracker"
)

// DependencyChecker answers the policy engine's dependency-completion
// question from the tracker. The tracker is consulted live rather than
// from the cache so a stale cache can never unblock an item.
type DependencyChecker struct {
	tracker tracker.Client
}

// NewDependencyChecker wires a checker over a tracker client.
func NewDependencyChecker(tc tracker.Client) *DependencyChecker {
	return &DependencyChecker{tracker: tc}
}

// OpenDependencies returns the still-open upstream items of a work
// item. tracked is false when the id does not resolve to a tracker
// item, in which case dependency enforcement does not apply.
func (c *DependencyChecker) OpenDependencies(ctx context.Context, workItemID string) ([]string, bool, error) {
	number, err := strconv.Atoi(workItemID)
	if err != nil {
		return nil, false, nil
	}

	item, err := c.tracker.GetItem(ctx, number)
	if errors.Is(err, tracker.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var open []string
	for _, dep := range item.DependsOn {
		depItem, err := c.tracker.GetItem(ctx, dep)
		if err != nil {
			// A dependency that cannot be resolved must not pass.
			return nil, true, fmt.Errorf("resolve dependency #%d: %w", dep, err)
		}
		if depItem.State != tracker.ItemClosed {
			open = append(open, fmt.Sprintf("#%d", dep))
		}
	}
	return open, true, nil
}
