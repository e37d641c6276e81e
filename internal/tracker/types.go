// Package tracker provides the plugin framework for remote issue tracker integrations.
//
// It defines the IssueTracker strategy interface, the normalized RemoteIssue
// representation every adapter produces, the error taxonomy shared by the
// transport, parser and importer layers, and a registry of tracker factories.
package tracker

import (
	"net/http"
	"strings"
	"time"

	"github.com/steveyegge/bdimport/internal/types"
)

// RemoteUser is a user identity as reported by a remote tracker.
type RemoteUser = types.RemoteIdentity

// RemoteIssue is the normalized form of one remote issue, bug or task.
// It is transient: produced by an adapter, consumed by the importer, never persisted.
type RemoteIssue struct {
	// Core identification
	ID         string // Remote tracker's internal ID; half of the dedup key
	Identifier string // Human-readable identifier (e.g., "PROJ-123", "T42")
	URL        string // Web URL to the issue

	// Content
	Title       string
	Description string
	State       types.IssueState
	Labels      []string

	// People
	Author   RemoteUser
	Assignee *RemoteUser

	// Timestamps
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time

	Comments []RemoteComment
}

// RemoteComment is a comment or note event on a remote issue.
type RemoteComment struct {
	ID        string
	Author    RemoteUser
	Body      string
	CreatedAt time.Time
}

// Page is one page of issues plus the cursor for the next page.
type Page struct {
	Issues []RemoteIssue
	// Next is the opaque cursor for the following page; empty means done.
	Next string
}

// Done reports whether this is the last page.
func (p *Page) Done() bool {
	return p == nil || p.Next == ""
}

// Identities returns every identity referenced on the page (authors,
// assignees and comment authors), deduplicated, in first-seen order.
func (p *Page) Identities() []RemoteUser {
	if p == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []RemoteUser
	add := func(u RemoteUser) {
		if u.IsZero() {
			return
		}
		key := IdentityKey(u)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, u)
	}
	for i := range p.Issues {
		issue := &p.Issues[i]
		add(issue.Author)
		if issue.Assignee != nil {
			add(*issue.Assignee)
		}
		for _, c := range issue.Comments {
			add(c.Author)
		}
	}
	return out
}

// IdentityKey returns a stable cache key for a remote identity.
func IdentityKey(u RemoteUser) string {
	if u.ID != "" {
		return "id:" + u.ID
	}
	return "u:" + strings.ToLower(u.Username) + "|e:" + strings.ToLower(u.Email) + "|n:" + strings.ToLower(u.DisplayName)
}

// Credentials holds what an adapter needs to reach and authenticate to a tracker.
type Credentials struct {
	URL      string // Base URL of the tracker instance
	Username string // Login, account or email (basic auth / token exchange)
	Password string // Password for token-exchange logins (FogBugz, ZenTao)
	Token    string // API token, personal access token or Conduit token
	Project  string // Remote project key, product id or owner/repo
}

// Secret returns the opaque credential that identifies this session.
func (c Credentials) Secret() string {
	if c.Token != "" {
		return c.Token
	}
	return c.Password
}

// Query narrows which remote issues are listed.
type Query struct {
	Project string
	// State filter: "open", "closed", or "all" (default)
	State string
	// Since limits results to issues updated at or after this time.
	Since *time.Time
	// PageSize is the requested number of issues per page (0 = adapter default).
	PageSize int
}

// Options are the transport settings injected into every adapter.
type Options struct {
	HTTPClient       *http.Client  // Optional; overrides Timeout when set
	Timeout          time.Duration // Per-request timeout
	UserAgent        string
	MaxResponseBytes int64 // Largest accepted response body
	MaxNodes         int   // Largest accepted number of parsed nodes per response
	PageSize         int   // Default page size
}

// Default transport settings.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultUserAgent        = "bdimport/1.0"
	DefaultMaxResponseBytes = 10 * 1024 * 1024
	DefaultMaxNodes         = 500_000
	DefaultPageSize         = 50
)

// DefaultOptions returns the default transport settings.
func DefaultOptions() Options {
	return Options{
		Timeout:          DefaultTimeout,
		UserAgent:        DefaultUserAgent,
		MaxResponseBytes: DefaultMaxResponseBytes,
		MaxNodes:         DefaultMaxNodes,
		PageSize:         DefaultPageSize,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	if o.MaxResponseBytes <= 0 {
		o.MaxResponseBytes = d.MaxResponseBytes
	}
	if o.MaxNodes <= 0 {
		o.MaxNodes = d.MaxNodes
	}
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	return o
}

// PageSizeFor resolves the page size for a query.
func (o Options) PageSizeFor(q Query) int {
	if q.PageSize > 0 {
		return q.PageSize
	}
	if o.PageSize > 0 {
		return o.PageSize
	}
	return DefaultPageSize
}
