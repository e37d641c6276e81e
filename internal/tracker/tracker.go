package tracker

import (
	"context"
)

// IssueTracker is the plugin interface that every remote tracker integration implements.
// Each external system (Jira, FogBugz, Phabricator, ZenTao, GitHub, GitLab)
// provides an adapter; the importer depends only on this interface.
type IssueTracker interface {
	// Name returns the lowercase identifier for this tracker (e.g., "jira", "zentao").
	Name() string

	// DisplayName returns the human-readable name (e.g., "Jira", "ZenTao").
	DisplayName() string

	// Authenticate validates the credentials against the remote endpoint and
	// holds the resulting token for every later request. It doubles as the
	// reachability check performed before an import starts.
	Authenticate(ctx context.Context, creds Credentials) error

	// ListIssues returns one page of issues starting at cursor ("" = first page).
	// Page.Next is empty when there are no further pages.
	ListIssues(ctx context.Context, q Query, cursor string) (*Page, error)

	// ListUsers returns the remote user directory, used to enrich identities
	// that issue payloads only carry by id. Trackers without a directory
	// endpoint return nil, nil.
	ListUsers(ctx context.Context) ([]RemoteUser, error)
}
