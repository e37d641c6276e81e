package fogbugz

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/types"
)

// Register adds the FogBugz tracker to r.
func Register(r *tracker.Registry) {
	r.Register("fogbugz", func(opts tracker.Options) tracker.IssueTracker {
		return New(opts)
	})
}

// Tracker implements tracker.IssueTracker for FogBugz.
type Tracker struct {
	opts   tracker.Options
	client *Client

	// people caches the directory; cases only carry person ids.
	people map[int]tracker.RemoteUser
}

// New returns an unauthenticated FogBugz tracker.
func New(opts tracker.Options) *Tracker {
	return &Tracker{opts: opts.WithDefaults()}
}

func (t *Tracker) Name() string        { return "fogbugz" }
func (t *Tracker) DisplayName() string { return "FogBugz" }

func (t *Tracker) Authenticate(ctx context.Context, creds tracker.Credentials) error {
	baseURL, err := NormalizeURL(creds.URL)
	if err != nil {
		return err
	}
	client := NewClient(baseURL, t.opts)
	if err := client.Logon(ctx, strings.TrimSpace(creds.Username), creds.Password, creds.Token); err != nil {
		return err
	}
	t.client = client
	t.people = nil
	return nil
}

// ListIssues searches one ixBug range. The cursor is the lowest case number
// of the next page.
func (t *Tracker) ListIssues(ctx context.Context, q tracker.Query, cursor string) (*tracker.Page, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotAuthenticated{Tracker: "fogbugz"}
	}
	from := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid fogbugz cursor %q", cursor)
		}
		from = n
	}
	if err := t.loadPeople(ctx); err != nil {
		return nil, err
	}

	size := t.opts.PageSizeFor(q)
	cases, err := t.client.Search(ctx, BuildQuery(q, from), size)
	if err != nil {
		return nil, err
	}

	page := &tracker.Page{Issues: make([]tracker.RemoteIssue, 0, len(cases))}
	last := 0
	for i := range cases {
		page.Issues = append(page.Issues, t.toRemoteIssue(&cases[i]))
		if cases[i].IxBug > last {
			last = cases[i].IxBug
		}
	}
	if len(cases) >= size && last >= from {
		page.Next = strconv.Itoa(last + 1)
	}
	return page, nil
}

func (t *Tracker) ListUsers(ctx context.Context) ([]tracker.RemoteUser, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotAuthenticated{Tracker: "fogbugz"}
	}
	people, err := t.client.ListPeople(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]tracker.RemoteUser, 0, len(people))
	for _, p := range people {
		users = append(users, personUser(p))
	}
	return users, nil
}

// BuildQuery builds the search string for one page starting at case from.
func BuildQuery(q tracker.Query, from int) string {
	var parts []string
	if p := strings.TrimSpace(q.Project); p != "" {
		parts = append(parts, fmt.Sprintf("project:%q", p))
	}
	switch q.State {
	case "open":
		parts = append(parts, "status:open")
	case "closed":
		parts = append(parts, "status:closed")
	}
	if q.Since != nil {
		parts = append(parts, fmt.Sprintf("edited:%q", q.Since.UTC().Format("2006-01-02")+".."))
	}
	parts = append(parts, fmt.Sprintf("ixBug:%d..", from), "OrderBy:ixBug")
	return strings.Join(parts, " ")
}

func (t *Tracker) loadPeople(ctx context.Context) error {
	if t.people != nil {
		return nil
	}
	people, err := t.client.ListPeople(ctx)
	if err != nil {
		return fmt.Errorf("load people: %w", err)
	}
	t.people = make(map[int]tracker.RemoteUser, len(people))
	for _, p := range people {
		t.people[p.IxPerson] = personUser(p)
	}
	return nil
}

// person resolves a person id against the directory, falling back to the
// name the payload carries.
func (t *Tracker) person(ix int, name string) tracker.RemoteUser {
	if u, ok := t.people[ix]; ok {
		return u
	}
	if ix == 0 {
		return tracker.RemoteUser{DisplayName: name}
	}
	return tracker.RemoteUser{ID: strconv.Itoa(ix), DisplayName: name}
}

func (t *Tracker) toRemoteIssue(c *Case) tracker.RemoteIssue {
	ri := tracker.RemoteIssue{
		Title:  strings.TrimSpace(c.Title),
		Labels: c.Tags,
		State:  types.StateOpen,
		Author: t.person(c.IxPersonOpenedBy, ""),
	}
	if c.IxBug > 0 {
		ri.ID = strconv.Itoa(c.IxBug)
		ri.Identifier = "Case " + ri.ID
		ri.URL = t.client.URL + "/default.asp?" + ri.ID
	}
	if !c.Open {
		ri.State = types.StateClosed
	}
	if c.IxPersonAssignedTo > 0 {
		assignee := t.person(c.IxPersonAssignedTo, c.PersonAssignedTo)
		ri.Assignee = &assignee
	}
	ri.CreatedAt = parseTime(c.Opened)
	ri.UpdatedAt = parseTime(c.LastUpdated)
	if closed := parseTime(c.Closed); !closed.IsZero() && ri.State == types.StateClosed {
		ri.ClosedAt = &closed
	}

	// The first event with text is the case description.
	described := false
	for _, ev := range c.Events {
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			continue
		}
		if !described {
			described = true
			ri.Description = text
			continue
		}
		ri.Comments = append(ri.Comments, tracker.RemoteComment{
			ID:        strconv.Itoa(ev.IxBugEvent),
			Author:    t.person(ev.IxPerson, ev.Person),
			Body:      text,
			CreatedAt: parseTime(ev.Date),
		})
	}
	return ri
}

func personUser(p Person) tracker.RemoteUser {
	return tracker.RemoteUser{
		ID:          strconv.Itoa(p.IxPerson),
		DisplayName: strings.TrimSpace(p.FullName),
		Email:       strings.TrimSpace(p.Email),
	}
}

func parseTime(s string) time.Time {
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return ts
}
