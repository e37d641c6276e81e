// Package gitlab imports issues from another GitLab instance through the
// REST API (v4).
package gitlab

import "time"

const (
	// DefaultURL is used when no instance URL is configured.
	DefaultURL = "https://gitlab.com"

	// apiPath is the REST API v4 prefix.
	apiPath = "/api/v4"

	// MaxPageSize is the largest per_page the API serves.
	MaxPageSize = 100

	// maxPages bounds note and member listings against a malformed
	// X-Next-Page header.
	maxPages = 1000

	// nextPageHeader carries the following page number; empty on the last page.
	nextPageHeader = "X-Next-Page"
)

// Issue is an issue from the GitLab API.
type Issue struct {
	ID          int        `json:"id"`  // Global issue ID
	IID         int        `json:"iid"` // Project-scoped issue ID
	ProjectID   int        `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	State       string     `json:"state"` // "opened", "closed", "reopened"
	CreatedAt   *time.Time `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	Labels      []string   `json:"labels"`
	Assignee    *User      `json:"assignee,omitempty"`
	Assignees   []User     `json:"assignees,omitempty"`
	Author      *User      `json:"author,omitempty"`
	WebURL      string     `json:"web_url"`
	References  *struct {
		Full string `json:"full"`
	} `json:"references,omitempty"`
}

// User is a GitLab user. Email is only returned to administrators or for
// users with a public email.
type User struct {
	ID          int    `json:"id"`
	Username    string `json:"username"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	PublicEmail string `json:"public_email,omitempty"`
	State       string `json:"state,omitempty"` // "active", "blocked", etc.
}

// Note is a comment on an issue. System notes record state changes and are
// not imported.
type Note struct {
	ID        int        `json:"id"`
	Body      string     `json:"body"`
	Author    *User      `json:"author"`
	CreatedAt *time.Time `json:"created_at"`
	System    bool       `json:"system"`
}

// IsClosed reports whether a GitLab issue state counts as closed.
// "reopened" is an open state.
func IsClosed(state string) bool {
	return state == "closed"
}

// apiState converts an import state filter into the API's vocabulary.
func apiState(state string) string {
	switch state {
	case "open":
		return "opened"
	case "closed":
		return "closed"
	default:
		return "all"
	}
}
