package github

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"

	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/types"
)

// maxPerPage is the largest page size the REST API serves.
const maxPerPage = 100

// Register adds the GitHub tracker to r.
func Register(r *tracker.Registry) {
	r.Register("github", func(opts tracker.Options) tracker.IssueTracker {
		return New(opts)
	})
}

// Tracker implements tracker.IssueTracker for GitHub issues. Pull requests
// are skipped.
type Tracker struct {
	opts   tracker.Options
	client *github.Client
	repo   string // default "owner/repo" from the credentials
}

// New returns an unauthenticated GitHub tracker.
func New(opts tracker.Options) *Tracker {
	return &Tracker{opts: opts.WithDefaults()}
}

func (t *Tracker) Name() string        { return "github" }
func (t *Tracker) DisplayName() string { return "GitHub" }

// Authenticate verifies a personal access token by fetching the
// authenticated user. URL selects a GitHub Enterprise Server host.
func (t *Tracker) Authenticate(ctx context.Context, creds tracker.Credentials) error {
	token := creds.Token
	if token == "" {
		token = creds.Password
	}
	if token == "" {
		return &tracker.AuthenticationError{Tracker: "github", Message: "a personal access token is required"}
	}
	client, err := newClient(strings.TrimSpace(creds.URL), token, t.opts)
	if err != nil {
		return fmt.Errorf("github URL %q: %w", creds.URL, err)
	}
	if _, _, err := client.Users.Get(ctx, ""); err != nil {
		err = classify(ctx, "get authenticated user", err)
		if apiErr, ok := err.(*tracker.APIError); ok && apiErr.StatusCode == 404 {
			return &tracker.AuthenticationError{Tracker: "github", StatusCode: 404, Message: "no API at this URL"}
		}
		return err
	}
	t.client = client
	t.repo = strings.TrimSpace(creds.Project)
	return nil
}

// ListIssues returns one page of the repository's issues, oldest first. The
// cursor is the page number.
func (t *Tracker) ListIssues(ctx context.Context, q tracker.Query, cursor string) (*tracker.Page, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotAuthenticated{Tracker: "github"}
	}
	owner, repo, err := t.splitRepo(q.Project)
	if err != nil {
		return nil, err
	}
	pageNum := 1
	if cursor != "" {
		if pageNum, err = strconv.Atoi(cursor); err != nil || pageNum < 1 {
			return nil, fmt.Errorf("invalid github cursor %q", cursor)
		}
	}

	opts := &github.IssueListByRepoOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "asc",
		ListOptions: github.ListOptions{Page: pageNum, PerPage: min(t.opts.PageSizeFor(q), maxPerPage)},
	}
	if q.State == "open" || q.State == "closed" {
		opts.State = q.State
	}
	if q.Since != nil {
		opts.Since = *q.Since
	}

	issues, resp, err := t.client.Issues.ListByRepo(ctx, owner, repo, opts)
	if err != nil {
		return nil, classify(ctx, "list issues", err)
	}

	page := &tracker.Page{Issues: make([]tracker.RemoteIssue, 0, len(issues))}
	for _, issue := range issues {
		if issue.IsPullRequest() {
			continue
		}
		ri := toRemoteIssue(owner, repo, issue)
		if issue.GetComments() > 0 {
			if ri.Comments, err = t.comments(ctx, owner, repo, issue.GetNumber()); err != nil {
				return nil, err
			}
		}
		page.Issues = append(page.Issues, ri)
	}
	if resp.NextPage > pageNum {
		page.Next = strconv.Itoa(resp.NextPage)
	}
	return page, nil
}

// ListUsers returns the users assignable in the default repository.
func (t *Tracker) ListUsers(ctx context.Context) ([]tracker.RemoteUser, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotAuthenticated{Tracker: "github"}
	}
	owner, repo, err := t.splitRepo("")
	if err != nil {
		return nil, err
	}
	var out []tracker.RemoteUser
	opts := &github.ListOptions{PerPage: maxPerPage}
	for {
		users, resp, err := t.client.Issues.ListAssignees(ctx, owner, repo, opts)
		if err != nil {
			return nil, classify(ctx, "list assignees", err)
		}
		for _, u := range users {
			out = append(out, remoteUser(u))
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

func (t *Tracker) comments(ctx context.Context, owner, repo string, number int) ([]tracker.RemoteComment, error) {
	var out []tracker.RemoteComment
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: maxPerPage}}
	for {
		comments, resp, err := t.client.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, classify(ctx, fmt.Sprintf("list comments on #%d", number), err)
		}
		for _, c := range comments {
			out = append(out, tracker.RemoteComment{
				ID:        strconv.FormatInt(c.GetID(), 10),
				Author:    remoteUser(c.GetUser()),
				Body:      c.GetBody(),
				CreatedAt: c.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// splitRepo parses "owner/repo", falling back to the credentials' project.
func (t *Tracker) splitRepo(project string) (string, string, error) {
	project = strings.TrimSpace(project)
	if project == "" {
		project = t.repo
	}
	owner, repo, ok := strings.Cut(strings.Trim(project, "/"), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("github project must be owner/repo, got %q", project)
	}
	return owner, repo, nil
}

func toRemoteIssue(owner, repo string, issue *github.Issue) tracker.RemoteIssue {
	ri := tracker.RemoteIssue{
		ID:          strconv.FormatInt(issue.GetID(), 10),
		Identifier:  fmt.Sprintf("%s/%s#%d", owner, repo, issue.GetNumber()),
		URL:         issue.GetHTMLURL(),
		Title:       issue.GetTitle(),
		Description: issue.GetBody(),
		State:       types.StateOpen,
		Author:      remoteUser(issue.GetUser()),
		CreatedAt:   issue.GetCreatedAt().Time,
		UpdatedAt:   issue.GetUpdatedAt().Time,
	}
	if issue.GetID() == 0 {
		ri.ID = ""
	}
	if issue.GetState() == "closed" {
		ri.State = types.StateClosed
		if issue.ClosedAt != nil {
			closed := issue.ClosedAt.Time
			ri.ClosedAt = &closed
		}
	}
	if issue.Assignee != nil {
		assignee := remoteUser(issue.Assignee)
		ri.Assignee = &assignee
	}
	for _, l := range issue.Labels {
		ri.Labels = append(ri.Labels, l.GetName())
	}
	return ri
}

func remoteUser(u *github.User) tracker.RemoteUser {
	if u == nil {
		return tracker.RemoteUser{}
	}
	ru := tracker.RemoteUser{
		Username:    u.GetLogin(),
		DisplayName: u.GetName(),
		Email:       u.GetEmail(),
	}
	if u.GetID() != 0 {
		ru.ID = strconv.FormatInt(u.GetID(), 10)
	}
	return ru
}
