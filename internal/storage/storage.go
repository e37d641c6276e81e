// Package storage defines the local issue store the importer writes into.
//
// Concrete implementations live in the memory and sqlstore sub-packages.
// This package holds the interface and value types referenced by both the
// implementations and their consumers (the importer, the user mapper, cmd/bdimport).
package storage

import (
	"context"
	"errors"

	"github.com/steveyegge/bdimport/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrDuplicateUser is returned when a username or email is already taken.
var ErrDuplicateUser = errors.New("user already exists")

// UserFinder looks up local users. It is the only part of the store the user
// mapper depends on.
type UserFinder interface {
	// FindUser returns the user whose email, username or name equals
	// emailOrName (case-insensitive), or ErrNotFound.
	FindUser(ctx context.Context, emailOrName string) (*types.User, error)

	// FindUsers returns every user whose email is in emails or whose
	// username or name is in names, compared case-insensitively, in one query.
	FindUsers(ctx context.Context, emails, names []string) ([]*types.User, error)
}

// Store is the local issue/user/session store.
type Store interface {
	UserFinder

	// FindOrCreateIssue returns the issue with the given (remoteID, projectID)
	// dedup key, creating it from attrs when absent. created reports whether
	// this call inserted the issue. Calling it twice with the same key never
	// produces a second issue, even under concurrent callers.
	FindOrCreateIssue(ctx context.Context, remoteID string, projectID int64, attrs *types.IssueAttributes) (issue *types.Issue, created bool, err error)
	GetIssue(ctx context.Context, id int64) (*types.Issue, error)
	ListIssues(ctx context.Context, filter IssueFilter) ([]*types.Issue, error)

	// Users
	CreateUser(ctx context.Context, user *types.User) error
	ListUsers(ctx context.Context) ([]*types.User, error)

	// Import sessions. SaveSession inserts when session.ID is zero (assigning
	// the ID) and updates otherwise. Credentials are never persisted.
	SaveSession(ctx context.Context, session *types.ImportSession) error
	GetSession(ctx context.Context, id int64) (*types.ImportSession, error)
	LatestSession(ctx context.Context, projectID int64) (*types.ImportSession, error)

	// Lifecycle
	Close() error
}

// IssueFilter narrows ListIssues.
type IssueFilter struct {
	ProjectID int64            // 0 = all projects
	State     types.IssueState // "" = any
	Limit     int              // 0 = unlimited
}

// Matches reports whether issue passes the filter.
func (f IssueFilter) Matches(issue *types.Issue) bool {
	if f.ProjectID != 0 && issue.ProjectID != f.ProjectID {
		return false
	}
	if f.State != "" && issue.State != f.State {
		return false
	}
	return true
}
