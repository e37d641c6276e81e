package jira

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/types"
)

// Register adds the Jira tracker to r.
func Register(r *tracker.Registry) {
	r.Register("jira", func(opts tracker.Options) tracker.IssueTracker {
		return New(opts)
	})
}

// Tracker implements tracker.IssueTracker for Jira.
type Tracker struct {
	opts   tracker.Options
	client *Client
}

// New returns an unauthenticated Jira tracker.
func New(opts tracker.Options) *Tracker {
	return &Tracker{opts: opts.WithDefaults()}
}

func (t *Tracker) Name() string        { return "jira" }
func (t *Tracker) DisplayName() string { return "Jira" }

// Client returns the underlying client, nil before Authenticate.
func (t *Tracker) Client() *Client { return t.client }

func (t *Tracker) Authenticate(ctx context.Context, creds tracker.Credentials) error {
	jiraURL, err := NormalizeURL(creds.URL)
	if err != nil {
		return err
	}
	token := creds.Token
	if token == "" {
		token = creds.Password
	}
	client := NewClient(jiraURL, t.opts)
	if err := client.Login(ctx, creds.Username, token); err != nil {
		return err
	}
	t.client = client
	return nil
}

func (t *Tracker) ListIssues(ctx context.Context, q tracker.Query, cursor string) (*tracker.Page, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotAuthenticated{Tracker: "jira"}
	}
	startAt := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid jira cursor %q", cursor)
		}
		startAt = n
	}

	result, err := t.client.SearchIssues(ctx, BuildJQL(q), startAt, t.opts.PageSizeFor(q))
	if err != nil {
		return nil, err
	}

	page := &tracker.Page{Issues: make([]tracker.RemoteIssue, 0, len(result.Issues))}
	for i := range result.Issues {
		page.Issues = append(page.Issues, t.toRemoteIssue(&result.Issues[i]))
	}
	if next := startAt + len(result.Issues); len(result.Issues) > 0 && next < result.Total {
		page.Next = strconv.Itoa(next)
	}
	return page, nil
}

// ListUsers pages through the Cloud user directory. Jira Server has no
// unfiltered user listing, so it returns nil.
func (t *Tracker) ListUsers(ctx context.Context) ([]tracker.RemoteUser, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotAuthenticated{Tracker: "jira"}
	}
	if t.client.Deployment != DeploymentCloud {
		return nil, nil
	}
	var out []tracker.RemoteUser
	for startAt := 0; ; startAt += usersPageSize {
		users, err := t.client.SearchUsers(ctx, startAt, usersPageSize)
		if err != nil {
			return nil, err
		}
		for i := range users {
			if users[i].AccountType != "" && users[i].AccountType != "atlassian" {
				continue // apps and customer portal accounts
			}
			out = append(out, remoteUser(&users[i]))
		}
		if len(users) < usersPageSize {
			return out, nil
		}
	}
}

// BuildJQL turns a query into JQL. A project that is not a plain project key
// is used as a JQL clause as-is.
func BuildJQL(q tracker.Query) string {
	var clauses []string
	switch project := strings.TrimSpace(q.Project); {
	case project == "":
	case IsProjectKey(project):
		clauses = append(clauses, fmt.Sprintf("project = %q", project))
	default:
		clauses = append(clauses, "("+project+")")
	}

	switch q.State {
	case "open":
		clauses = append(clauses, "statusCategory != Done")
	case "closed":
		clauses = append(clauses, "statusCategory = Done")
	}

	if q.Since != nil {
		clauses = append(clauses, fmt.Sprintf("updated >= %q", q.Since.Format("2006-01-02 15:04")))
	}

	// Creation order keeps offsets stable while issues are updated mid-import.
	return strings.TrimSpace(strings.Join(clauses, " AND ") + " ORDER BY created ASC, key ASC")
}

// toRemoteIssue converts a Jira API Issue to the normalized RemoteIssue.
func (t *Tracker) toRemoteIssue(ji *Issue) tracker.RemoteIssue {
	ri := tracker.RemoteIssue{
		ID:          ji.ID,
		Identifier:  ji.Key,
		Title:       ji.Fields.Summary,
		Description: DescriptionToPlainText(ji.Fields.Description),
		Labels:      ji.Fields.Labels,
		State:       types.StateOpen,
	}
	if ji.Key != "" {
		ri.URL = BrowseURL(t.client.URL, ji.Key)
	}

	if s := ji.Fields.Status; s != nil && s.StatusCategory != nil && s.StatusCategory.Key == "done" {
		ri.State = types.StateClosed
	}

	switch {
	case ji.Fields.Reporter != nil:
		ri.Author = remoteUser(ji.Fields.Reporter)
	case ji.Fields.Creator != nil:
		ri.Author = remoteUser(ji.Fields.Creator)
	}
	if ji.Fields.Assignee != nil {
		assignee := remoteUser(ji.Fields.Assignee)
		ri.Assignee = &assignee
	}

	if ts, err := ParseTimestamp(ji.Fields.Created); err == nil {
		ri.CreatedAt = ts
	}
	if ts, err := ParseTimestamp(ji.Fields.Updated); err == nil {
		ri.UpdatedAt = ts
	}
	if ts, err := ParseTimestamp(ji.Fields.ResolutionDate); err == nil && ri.State == types.StateClosed {
		ri.ClosedAt = &ts
	}

	if ji.Fields.Comment != nil {
		for _, c := range ji.Fields.Comment.Comments {
			rc := tracker.RemoteComment{ID: c.ID, Body: DescriptionToPlainText(c.Body)}
			if c.Author != nil {
				rc.Author = remoteUser(c.Author)
			}
			if ts, err := ParseTimestamp(c.Created); err == nil {
				rc.CreatedAt = ts
			}
			ri.Comments = append(ri.Comments, rc)
		}
	}
	return ri
}

func remoteUser(u *UserField) tracker.RemoteUser {
	id := u.AccountID
	if id == "" {
		id = u.Key
	}
	if id == "" {
		id = u.Name
	}
	return tracker.RemoteUser{
		ID:          id,
		Username:    u.Name,
		DisplayName: u.DisplayName,
		Email:       u.EmailAddress,
	}
}
