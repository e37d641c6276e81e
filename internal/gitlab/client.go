package gitlab

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/transport"
)

// Client provides methods to interact with the GitLab REST API.
type Client struct {
	URL string // Instance URL without the API prefix

	http *transport.Client
}

// IssuePage is one page of a project's issues.
type IssuePage struct {
	Issues   []Issue
	NextPage int // 0 on the last page
}

// NewClient creates a client for a normalized instance URL.
func NewClient(baseURL string, opts tracker.Options) *Client {
	return &Client{URL: baseURL, http: transport.New("gitlab", baseURL+apiPath, opts)}
}

// NormalizeURL defaults to gitlab.com and strips the query, an /api/v4
// suffix and trailing slashes. A relative-root install ("/gitlab") is kept.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultURL, nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid gitlab URL %q", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimSuffix(strings.TrimRight(u.Path, "/"), apiPath)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}

// Login installs the token in the PRIVATE-TOKEN header and verifies it
// against /user.
func (c *Client) Login(ctx context.Context, token string) error {
	auth := transport.HeaderToken{Header: "PRIVATE-TOKEN", Value: token}
	_, err := c.http.Authenticate(ctx, transport.Probe(auth, "/user"))
	return err
}

// ListIssues returns one page of a project's issues, oldest first.
func (c *Client) ListIssues(ctx context.Context, project, state string, since *time.Time, page, perPage int) (*IssuePage, error) {
	params := url.Values{
		"scope":    {"all"},
		"state":    {apiState(state)},
		"order_by": {"created_at"},
		"sort":     {"asc"},
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
	}
	if since != nil {
		params.Set("updated_after", since.UTC().Format(time.RFC3339))
	}
	resp, err := c.http.Get(ctx, projectPath(project)+"/issues", params)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	out := &IssuePage{}
	if err := c.http.Parser().DecodeJSON(resp.Body, &out.Issues); err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	out.NextPage = nextPage(resp.Header.Get(nextPageHeader))
	return out, nil
}

// ListNotes returns every note on an issue, oldest first.
func (c *Client) ListNotes(ctx context.Context, project string, iid int) ([]Note, error) {
	var all []Note
	path := fmt.Sprintf("%s/issues/%d/notes", projectPath(project), iid)
	for page := 1; page > 0; {
		params := url.Values{
			"sort":     {"asc"},
			"order_by": {"created_at"},
			"page":     {strconv.Itoa(page)},
			"per_page": {strconv.Itoa(MaxPageSize)},
		}
		resp, err := c.http.Get(ctx, path, params)
		if err != nil {
			return nil, fmt.Errorf("list notes of #%d: %w", iid, err)
		}
		var notes []Note
		if err := c.http.Parser().DecodeJSON(resp.Body, &notes); err != nil {
			return nil, fmt.Errorf("list notes of #%d: %w", iid, err)
		}
		all = append(all, notes...)
		page = followingPage(page, resp.Header.Get(nextPageHeader))
	}
	return all, nil
}

// ListMembers returns the project's members, inherited ones included.
func (c *Client) ListMembers(ctx context.Context, project string) ([]User, error) {
	var all []User
	for page := 1; page > 0; {
		params := url.Values{"page": {strconv.Itoa(page)}, "per_page": {strconv.Itoa(MaxPageSize)}}
		resp, err := c.http.Get(ctx, projectPath(project)+"/members/all", params)
		if err != nil {
			return nil, fmt.Errorf("list members: %w", err)
		}
		var users []User
		if err := c.http.Parser().DecodeJSON(resp.Body, &users); err != nil {
			return nil, fmt.Errorf("list members: %w", err)
		}
		all = append(all, users...)
		page = followingPage(page, resp.Header.Get(nextPageHeader))
	}
	return all, nil
}

// projectPath addresses a project by numeric id or by its full path.
func projectPath(project string) string {
	return "/projects/" + url.PathEscape(project)
}

// followingPage returns the page after current, or 0 when done. A header
// that does not advance ends the listing.
func followingPage(current int, header string) int {
	next := nextPage(header)
	if next <= current || next > maxPages {
		return 0
	}
	return next
}

func nextPage(header string) int {
	n, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || n < 1 {
		return 0
	}
	return n
}
