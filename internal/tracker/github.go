package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/phased/internal/config"
)

// GitHub implements Client against the GitHub issues API.
type GitHub struct {
	client *github.Client
	owner  string
	repo   string
	retry  *RetryConfig
	logger *zap.Logger
}

// NewGitHub creates a tracker client with token authentication.
func NewGitHub(ctx context.Context, cfg config.TrackerConfig, logger *zap.Logger) (*GitHub, error) {
	if !cfg.Token.IsSet() {
		return nil, ErrNotConfigured
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("%w: owner and repo are required", ErrNotConfigured)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
	tc := oauth2.NewClient(ctx, ts)
	return &GitHub{
		client: github.NewClient(tc),
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		retry:  DefaultRetryConfig(),
		logger: logger.Named("tracker"),
	}, nil
}

func (g *GitHub) GetItem(ctx context.Context, number int) (*WorkItem, error) {
	var issue *github.Issue
	err := withRetry(ctx, g.retry, g.logger, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		issue, resp, err = g.client.Issues.Get(ctx, g.owner, g.repo, number)
		return resp, err
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: #%d", ErrNotFound, number)
		}
		return nil, fmt.Errorf("get work item #%d: %w", number, err)
	}
	return g.toWorkItem(issue)
}

func (g *GitHub) ListItems(ctx context.Context) ([]*WorkItem, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var items []*WorkItem
	for {
		var page []*github.Issue
		var resp *github.Response
		err := withRetry(ctx, g.retry, g.logger, func() (*github.Response, error) {
			var err error
			page, resp, err = g.client.Issues.ListByRepo(ctx, g.owner, g.repo, opts)
			return resp, err
		})
		if err != nil {
			return nil, fmt.Errorf("list work items: %w", err)
		}
		for _, issue := range page {
			if issue.IsPullRequest() {
				continue
			}
			item, err := g.toWorkItem(issue)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return items, nil
}

func (g *GitHub) CreateItem(ctx context.Context, draft *ItemDraft) (*WorkItem, error) {
	body := RenderDependsOn(draft.Body, draft.DependsOn)
	req := &github.IssueRequest{
		Title:  github.String(draft.Title),
		Body:   github.String(body),
		Labels: &draft.Labels,
	}
	if draft.Milestone > 0 {
		req.Milestone = github.Int(draft.Milestone)
	}

	// Creates are sent exactly once. If the response to a POST that
	// succeeded server-side is lost, a retry would file a duplicate
	// issue, so transient failures surface to the caller instead.
	issue, _, err := g.client.Issues.Create(ctx, g.owner, g.repo, req)
	if err != nil {
		return nil, fmt.Errorf("create work item %q: %w", draft.Title, err)
	}
	return g.toWorkItem(issue)
}

func (g *GitHub) UpdateItemBody(ctx context.Context, number int, body string) error {
	err := withRetry(ctx, g.retry, g.logger, func() (*github.Response, error) {
		_, resp, err := g.client.Issues.Edit(ctx, g.owner, g.repo, number, &github.IssueRequest{
			Body: github.String(body),
		})
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("update work item #%d: %w", number, err)
	}
	return nil
}

func (g *GitHub) CloseItem(ctx context.Context, number int) error {
	err := withRetry(ctx, g.retry, g.logger, func() (*github.Response, error) {
		_, resp, err := g.client.Issues.Edit(ctx, g.owner, g.repo, number, &github.IssueRequest{
			State:       github.String("closed"),
			StateReason: github.String("completed"),
		})
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("close work item #%d: %w", number, err)
	}
	return nil
}

func (g *GitHub) CreateMilestone(ctx context.Context, title, description string) (*Milestone, error) {
	// Single-shot for the same reason as CreateItem: a lost response
	// after server-side success must not duplicate the milestone.
	created, _, err := g.client.Issues.CreateMilestone(ctx, g.owner, g.repo, &github.Milestone{
		Title:       github.String(title),
		Description: github.String(description),
	})
	if err != nil {
		return nil, fmt.Errorf("create milestone %q: %w", title, err)
	}
	return &Milestone{
		Number:      created.GetNumber(),
		Title:       created.GetTitle(),
		Description: created.GetDescription(),
	}, nil
}

func (g *GitHub) ListMilestones(ctx context.Context) ([]*Milestone, error) {
	opts := &github.MilestoneListOptions{
		State:       "all",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var milestones []*Milestone
	for {
		var page []*github.Milestone
		var resp *github.Response
		err := withRetry(ctx, g.retry, g.logger, func() (*github.Response, error) {
			var err error
			page, resp, err = g.client.Issues.ListMilestones(ctx, g.owner, g.repo, opts)
			return resp, err
		})
		if err != nil {
			return nil, fmt.Errorf("list milestones: %w", err)
		}
		for _, m := range page {
			milestones = append(milestones, &Milestone{
				Number:      m.GetNumber(),
				Title:       m.GetTitle(),
				Description: m.GetDescription(),
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return milestones, nil
}

func (g *GitHub) EnsureLabel(ctx context.Context, name, color string) error {
	var getErr error
	err := withRetry(ctx, g.retry, g.logger, func() (*github.Response, error) {
		_, resp, err := g.client.Issues.GetLabel(ctx, g.owner, g.repo, name)
		getErr = err
		return resp, err
	})
	if err == nil {
		return nil
	}
	if !isNotFound(getErr) {
		return fmt.Errorf("get label %q: %w", name, err)
	}

	// Label creation is single-shot; a duplicate create fails with 422
	// anyway, so nothing is gained by resending it.
	if _, _, err := g.client.Issues.CreateLabel(ctx, g.owner, g.repo, &github.Label{
		Name:  github.String(name),
		Color: github.String(color),
	}); err != nil {
		return fmt.Errorf("create label %q: %w", name, err)
	}
	return nil
}

func (g *GitHub) SetPhaseLabel(ctx context.Context, number int, phaseOrdinal int) error {
	item, err := g.GetItem(ctx, number)
	if err != nil {
		return err
	}

	labels := make([]string, 0, len(item.Labels)+1)
	for _, label := range item.Labels {
		if strings.HasPrefix(label, "phase:") {
			continue
		}
		labels = append(labels, label)
	}
	labels = append(labels, PhaseLabel(phaseOrdinal))

	err = withRetry(ctx, g.retry, g.logger, func() (*github.Response, error) {
		_, resp, err := g.client.Issues.Edit(ctx, g.owner, g.repo, number, &github.IssueRequest{
			Labels: &labels,
		})
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("set phase label on #%d: %w", number, err)
	}
	return nil
}

func (g *GitHub) toWorkItem(issue *github.Issue) (*WorkItem, error) {
	deps, err := ParseDependsOn(issue.GetBody())
	if err != nil {
		return nil, fmt.Errorf("work item #%d: %w", issue.GetNumber(), err)
	}

	labels := make([]string, 0, len(issue.Labels))
	for _, label := range issue.Labels {
		labels = append(labels, label.GetName())
	}

	return &WorkItem{
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		Body:      issue.GetBody(),
		State:     ItemState(issue.GetState()),
		Labels:    labels,
		Milestone: issue.GetMilestone().GetTitle(),
		DependsOn: deps,
	}, nil
}

func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) {
		return ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}
