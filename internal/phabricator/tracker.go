package phabricator

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/types"
)

// userPageSize is the largest limit Conduit search methods accept.
const userPageSize = 100

// closedStatuses are the stock Maniphest statuses that count as closed.
var closedStatuses = map[string]bool{
	"resolved":  true,
	"wontfix":   true,
	"invalid":   true,
	"duplicate": true,
	"spite":     true,
}

// Register adds the Phabricator tracker to r.
func Register(r *tracker.Registry) {
	r.Register("phabricator", func(opts tracker.Options) tracker.IssueTracker {
		return New(opts)
	})
}

// Tracker implements tracker.IssueTracker for Phabricator Maniphest.
type Tracker struct {
	opts   tracker.Options
	client *Client
	users  map[string]tracker.RemoteUser
}

// New returns an unauthenticated Phabricator tracker.
func New(opts tracker.Options) *Tracker {
	return &Tracker{opts: opts.WithDefaults()}
}

func (t *Tracker) Name() string        { return "phabricator" }
func (t *Tracker) DisplayName() string { return "Phabricator" }

// Authenticate accepts the Conduit token in Token, or in Password.
func (t *Tracker) Authenticate(ctx context.Context, creds tracker.Credentials) error {
	baseURL, err := NormalizeURL(creds.URL)
	if err != nil {
		return err
	}
	token := creds.Token
	if token == "" {
		token = creds.Password
	}
	client := NewClient(baseURL, t.opts)
	if err := client.Login(ctx, token); err != nil {
		return err
	}
	t.client = client
	t.users = make(map[string]tracker.RemoteUser)
	return nil
}

// ListIssues fetches one maniphest.search page. The cursor is Conduit's
// "after" token.
func (t *Tracker) ListIssues(ctx context.Context, q tracker.Query, cursor string) (*tracker.Page, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotAuthenticated{Tracker: "phabricator"}
	}
	form := SearchForm(q, t.opts.PageSizeFor(q))
	if cursor != "" {
		form.Set("after", cursor)
	}
	result, err := t.client.SearchTasks(ctx, form)
	if err != nil {
		return nil, err
	}

	comments := make(map[string][]Transaction, len(result.Data))
	var phids []string
	for _, task := range result.Data {
		phids = append(phids, task.Fields.AuthorPHID, task.Fields.OwnerPHID)
		txs, err := t.client.Comments(ctx, task.PHID, userPageSize)
		if err != nil {
			return nil, fmt.Errorf("comments for T%d: %w", task.ID, err)
		}
		comments[task.PHID] = txs
		for _, tx := range txs {
			phids = append(phids, tx.AuthorPHID)
		}
	}
	if err := t.resolveUsers(ctx, phids); err != nil {
		return nil, err
	}

	page := &tracker.Page{Issues: make([]tracker.RemoteIssue, 0, len(result.Data)), Next: result.Next()}
	for i := range result.Data {
		page.Issues = append(page.Issues, t.toRemoteIssue(&result.Data[i], comments[result.Data[i].PHID]))
	}
	return page, nil
}

// ListUsers pages through user.search.
func (t *Tracker) ListUsers(ctx context.Context) ([]tracker.RemoteUser, error) {
	if t.client == nil {
		return nil, &tracker.ErrNotAuthenticated{Tracker: "phabricator"}
	}
	var out []tracker.RemoteUser
	after := ""
	for {
		result, err := t.client.SearchUsers(ctx, nil, after, userPageSize)
		if err != nil {
			return nil, err
		}
		for _, u := range result.Data {
			out = append(out, remoteUser(u))
		}
		if after = result.Next(); after == "" {
			return out, nil
		}
	}
}

// SearchForm builds the maniphest.search parameters for q. The project is a
// project PHID or hashtag.
func SearchForm(q tracker.Query, limit int) url.Values {
	form := url.Values{
		"order": {"oldest"},
		"limit": {strconv.Itoa(limit)},
	}
	if p := strings.TrimSpace(q.Project); p != "" {
		form.Set("constraints[projects][0]", p)
	}
	switch q.State {
	case "open":
		form.Set("constraints[statuses][0]", "open()")
	case "closed":
		form.Set("constraints[statuses][0]", "closed()")
	}
	if q.Since != nil {
		form.Set("constraints[modifiedStart]", strconv.FormatInt(q.Since.Unix(), 10))
	}
	return form
}

// resolveUsers looks up the phids not seen yet in this session.
func (t *Tracker) resolveUsers(ctx context.Context, phids []string) error {
	var missing []string
	seen := make(map[string]bool)
	for _, phid := range phids {
		if phid == "" || seen[phid] || !strings.HasPrefix(phid, "PHID-USER-") {
			continue
		}
		seen[phid] = true
		if _, ok := t.users[phid]; !ok {
			missing = append(missing, phid)
		}
	}
	for len(missing) > 0 {
		batch := missing
		if len(batch) > userPageSize {
			batch = batch[:userPageSize]
		}
		missing = missing[len(batch):]
		result, err := t.client.SearchUsers(ctx, batch, "", userPageSize)
		if err != nil {
			return fmt.Errorf("resolve users: %w", err)
		}
		for _, u := range result.Data {
			t.users[u.PHID] = remoteUser(u)
		}
		// Remember misses so they are not looked up again.
		for _, phid := range batch {
			if _, ok := t.users[phid]; !ok {
				t.users[phid] = tracker.RemoteUser{ID: phid}
			}
		}
	}
	return nil
}

func (t *Tracker) user(phid string) tracker.RemoteUser {
	if phid == "" {
		return tracker.RemoteUser{}
	}
	if u, ok := t.users[phid]; ok {
		return u
	}
	return tracker.RemoteUser{ID: phid}
}

func (t *Tracker) toRemoteIssue(task *Task, txs []Transaction) tracker.RemoteIssue {
	f := task.Fields
	ri := tracker.RemoteIssue{
		ID:          task.PHID,
		Title:       f.Name,
		Description: f.Description.Raw,
		State:       types.StateOpen,
		Author:      t.user(f.AuthorPHID),
		CreatedAt:   unix(f.DateCreated),
		UpdatedAt:   unix(f.DateModified),
	}
	if task.ID > 0 {
		ri.Identifier = "T" + strconv.Itoa(task.ID)
		ri.URL = t.client.URL + "/" + ri.Identifier
	}
	if f.Priority.Name != "" {
		ri.Labels = []string{"priority:" + strings.ToLower(f.Priority.Name)}
	}
	if closedStatuses[f.Status.Value] {
		ri.State = types.StateClosed
		closed := ri.UpdatedAt
		if f.DateClosed != nil {
			closed = unix(*f.DateClosed)
		}
		ri.ClosedAt = &closed
	}
	if f.OwnerPHID != "" {
		owner := t.user(f.OwnerPHID)
		ri.Assignee = &owner
	}
	for _, tx := range txs {
		// Comments lists every edit of the comment, latest first.
		if len(tx.Comments) == 0 {
			continue
		}
		c := tx.Comments[0]
		if c.Removed || strings.TrimSpace(c.Content.Raw) == "" {
			continue
		}
		ri.Comments = append(ri.Comments, tracker.RemoteComment{
			ID:        strconv.Itoa(tx.ID),
			Author:    t.user(tx.AuthorPHID),
			Body:      c.Content.Raw,
			CreatedAt: unix(tx.DateCreated),
		})
	}
	return ri
}

func remoteUser(u User) tracker.RemoteUser {
	return tracker.RemoteUser{ID: u.PHID, Username: u.Fields.Username, DisplayName: u.Fields.RealName}
}

func unix(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
