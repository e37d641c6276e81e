// Package types defines the core data structures shared by the importer,
// the tracker adapters and the local store.
package types

import (
	"fmt"
	"time"
)

// IssueState is the normalized open/closed state of an issue.
type IssueState string

const (
	StateOpen   IssueState = "open"
	StateClosed IssueState = "closed"
)

// IsValid reports whether s is a known issue state.
func (s IssueState) IsValid() bool {
	return s == StateOpen || s == StateClosed
}

// Issue is a local issue created from a remote tracker issue.
// (ProjectID, RemoteID) is unique: at most one local issue per remote issue.
type Issue struct {
	ID          int64      `json:"id"`
	ProjectID   int64      `json:"project_id"`
	RemoteID    string     `json:"remote_id"`
	Identifier  string     `json:"identifier,omitempty"` // Human-readable remote key (e.g., "PROJ-12")
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	State       IssueState `json:"state"`
	AuthorID    *int64     `json:"author_id,omitempty"`
	AssigneeID  *int64     `json:"assignee_id,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	ExternalURL string     `json:"external_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	Notes       []*Note    `json:"notes,omitempty"`
}

// Note is a comment attached to a local issue.
type Note struct {
	ID        int64     `json:"id"`
	IssueID   int64     `json:"issue_id"`
	RemoteID  string    `json:"remote_id,omitempty"`
	Body      string    `json:"body"`
	AuthorID  *int64    `json:"author_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IssueAttributes carries everything needed to create a local issue.
// The dedup key (remote id, project id) is passed separately.
type IssueAttributes struct {
	Identifier  string
	Title       string
	Description string
	State       IssueState
	AuthorID    *int64
	AssigneeID  *int64
	Labels      []string
	ExternalURL string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
	Notes       []NoteAttributes
}

// NoteAttributes carries the fields of a comment created along with its issue.
type NoteAttributes struct {
	RemoteID  string
	Body      string
	AuthorID  *int64
	CreatedAt time.Time
}

// Validate checks the attributes before they reach the store.
func (a *IssueAttributes) Validate() error {
	if a.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(a.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(a.Title))
	}
	if !a.State.IsValid() {
		return fmt.Errorf("invalid state: %q", a.State)
	}
	return nil
}

// User is a local user that remote identities are mapped onto.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// MatchKind records which rule resolved a user mapping.
type MatchKind string

const (
	MatchNone     MatchKind = ""
	MatchOverride MatchKind = "override"
	MatchEmail    MatchKind = "email"
	MatchName     MatchKind = "name"
	MatchUsername MatchKind = "username"
)

// RemoteIdentity is a user as seen by a remote tracker.
type RemoteIdentity struct {
	ID          string `json:"id,omitempty"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// IsZero reports whether the identity carries nothing to match on.
func (r RemoteIdentity) IsZero() bool {
	return r.ID == "" && r.Username == "" && r.DisplayName == "" && r.Email == ""
}

// Label returns the best human-readable name for the identity.
func (r RemoteIdentity) Label() string {
	switch {
	case r.DisplayName != "":
		return r.DisplayName
	case r.Username != "":
		return r.Username
	case r.Email != "":
		return r.Email
	default:
		return r.ID
	}
}

// UserMapping pairs a remote identity with a resolved local user.
// LocalUserID is nil when no local user matched; that is not an error.
type UserMapping struct {
	Remote      RemoteIdentity `json:"remote"`
	LocalUserID *int64         `json:"local_user_id"`
	MatchedBy   MatchKind      `json:"matched_by,omitempty"`
}

// Resolved reports whether the mapping found a local user.
func (m UserMapping) Resolved() bool {
	return m.LocalUserID != nil
}
