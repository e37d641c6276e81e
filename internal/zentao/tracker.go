package zentao

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/types"
)

const usersPageSize = 500

// Register adds the ZenTao tracker to r.
func Register(r *tracker.Registry) {
	r.Register("zentao", func(opts tracker.Options) tracker.IssueTracker {
		return New(opts)
	})
}

// Tracker implements tracker.IssueTracker for ZenTao bugs.
type Tracker struct {
	opts   tracker.Options
	client *Client
	policy *bluemonday.Policy

	// accounts maps account names to directory entries.
	accounts map[string]tracker.RemoteUser
}

// New returns an unauthenticated ZenTao tracker.
func New(opts tracker.Options) *Tracker {
	return &Tracker{opts: opts.WithDefaults(), policy: bluemonday.StrictPolicy()}
}

func (t *Tracker) Name() string        { return "zentao" }
func (t *Tracker) DisplayName() string { return "ZenTao" }

func (t *Tracker) Authenticate(ctx context.Context, creds tracker.Credentials) error {
	baseURL, err := NormalizeURL(creds.URL)
	if err != nil {
		return err
	}
	client := NewClient(baseURL, t.opts)
	if err := client.Login(ctx, strings.TrimSpace(creds.Username), creds.Password, creds.Token); err != nil {
		return err
	}
	t.client = client
	t.accounts = nil
	return nil
}

// ListIssues returns one page of the product's bugs. The project is the
// numeric product id and the cursor is the page number.
func (t *Tracker) ListIssues(ctx context.Context, q tracker.Query, cursor string) (*tracker.Page, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotAuthenticated{Tracker: "zentao"}
	}
	product, err := strconv.Atoi(strings.TrimSpace(q.Project))
	if err != nil || product <= 0 {
		return nil, fmt.Errorf("zentao product id is required, got %q", q.Project)
	}
	pageNum := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid zentao cursor %q", cursor)
		}
		pageNum = n
	}
	if err := t.loadAccounts(ctx); err != nil {
		return nil, err
	}

	size := t.opts.PageSizeFor(q)
	result, err := t.client.ListBugs(ctx, product, pageNum, size)
	if err != nil {
		return nil, err
	}

	page := &tracker.Page{Issues: make([]tracker.RemoteIssue, 0, len(result.Bugs))}
	for i := range result.Bugs {
		bug := &result.Bugs[i]
		if !matches(bug, q) {
			continue
		}
		if bug.ID > 0 {
			full, err := t.client.GetBug(ctx, bug.ID)
			if err != nil {
				return nil, err
			}
			bug.Actions = full.Actions
		}
		page.Issues = append(page.Issues, t.toRemoteIssue(bug))
	}
	if len(result.Bugs) > 0 && pageNum*size < result.Total {
		page.Next = strconv.Itoa(pageNum + 1)
	}
	return page, nil
}

func (t *Tracker) ListUsers(ctx context.Context) ([]tracker.RemoteUser, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotAuthenticated{Tracker: "zentao"}
	}
	var out []tracker.RemoteUser
	for page := 1; ; page++ {
		result, err := t.client.ListUsers(ctx, page, usersPageSize)
		if err != nil {
			return nil, err
		}
		for _, a := range result.Users {
			out = append(out, accountUser(a))
		}
		if len(result.Users) == 0 || page*usersPageSize >= result.Total {
			return out, nil
		}
	}
}

// loadAccounts fills the account directory once per session. Accounts
// without permission to list users import with bare account names.
func (t *Tracker) loadAccounts(ctx context.Context) error {
	if t.accounts != nil {
		return nil
	}
	users, err := t.ListUsers(ctx)
	if err != nil && !tracker.IsAuthError(err) {
		return fmt.Errorf("load users: %w", err)
	}
	t.accounts = make(map[string]tracker.RemoteUser, len(users))
	for _, u := range users {
		t.accounts[u.Username] = u
	}
	return nil
}

func (t *Tracker) account(a *Account) tracker.RemoteUser {
	if a == nil || a.Account == "" {
		return tracker.RemoteUser{}
	}
	if u, ok := t.accounts[a.Account]; ok {
		return u
	}
	return accountUser(*a)
}

func (t *Tracker) toRemoteIssue(bug *Bug) tracker.RemoteIssue {
	ri := tracker.RemoteIssue{
		Title:       bug.Title,
		Description: t.plainText(bug.Steps),
		State:       types.StateOpen,
		Author:      t.account(bug.OpenedBy),
		CreatedAt:   parseTime(bug.OpenedDate),
		UpdatedAt:   parseTime(bug.LastEdited),
	}
	if bug.ID > 0 {
		ri.ID = strconv.Itoa(bug.ID)
		ri.Identifier = "BUG-" + ri.ID
		ri.URL = fmt.Sprintf("%s/bug-view-%d.html", t.client.URL, bug.ID)
	}
	ri.Labels = strings.FieldsFunc(bug.Keywords, func(r rune) bool { return r == ',' || r == ' ' })
	if isClosed(bug.Status) {
		ri.State = types.StateClosed
		closed := parseTime(bug.ClosedDate)
		if closed.IsZero() {
			closed = parseTime(bug.ResolvedDate)
		}
		if !closed.IsZero() {
			ri.ClosedAt = &closed
		}
	}
	if assignee := t.account(bug.AssignedTo); !assignee.IsZero() && !strings.EqualFold(assignee.Username, "closed") {
		ri.Assignee = &assignee
	}
	for _, a := range bug.Actions {
		body := t.plainText(a.Comment)
		if body == "" {
			continue
		}
		ri.Comments = append(ri.Comments, tracker.RemoteComment{
			ID:        strconv.Itoa(a.ID),
			Author:    t.account(&Account{Account: a.Actor}),
			Body:      body,
			CreatedAt: parseTime(a.Date),
		})
	}
	return ri
}

var blockBreak = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>|</li>`)

// plainText reduces ZenTao's rich-text HTML to plain text.
func (t *Tracker) plainText(s string) string {
	if s == "" {
		return ""
	}
	s = blockBreak.ReplaceAllString(s, "\n")
	s = html.UnescapeString(t.policy.Sanitize(s))
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func matches(bug *Bug, q tracker.Query) bool {
	switch q.State {
	case "open":
		if isClosed(bug.Status) {
			return false
		}
	case "closed":
		if !isClosed(bug.Status) {
			return false
		}
	}
	if q.Since != nil {
		if edited := parseTime(bug.LastEdited); !edited.IsZero() && edited.Before(*q.Since) {
			return false
		}
	}
	return true
}

func isClosed(status string) bool {
	return status == "resolved" || status == "closed"
}

func accountUser(a Account) tracker.RemoteUser {
	u := tracker.RemoteUser{Username: a.Account, DisplayName: a.Realname, Email: a.Email}
	if a.ID > 0 {
		u.ID = strconv.Itoa(a.ID)
	} else {
		u.ID = a.Account
	}
	return u
}

// parseTime accepts RFC 3339 and ZenTao's "2006-01-02 15:04:05". The zero
// date ZenTao uses for unset fields parses to the zero time.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "0000-00-00") {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}
