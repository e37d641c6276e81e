// Package memory implements storage.Store in process memory. It backs tests
// and dry runs; everything is lost on Close.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/bdimport/internal/storage"
	"github.com/steveyegge/bdimport/internal/types"
)

type issueKey struct {
	projectID int64
	remoteID  string
}

// MemoryStorage is a mutex-guarded in-memory store.
type MemoryStorage struct {
	mu sync.RWMutex

	issues   map[int64]*types.Issue
	byRemote map[issueKey]int64
	users    map[int64]*types.User
	sessions map[int64]*types.ImportSession

	nextIssueID   int64
	nextNoteID    int64
	nextUserID    int64
	nextSessionID int64

	closed bool
}

var _ storage.Store = (*MemoryStorage)(nil)

// New returns an empty store.
func New() *MemoryStorage {
	return &MemoryStorage{
		issues:   make(map[int64]*types.Issue),
		byRemote: make(map[issueKey]int64),
		users:    make(map[int64]*types.User),
		sessions: make(map[int64]*types.ImportSession),
	}
}

func (m *MemoryStorage) FindOrCreateIssue(ctx context.Context, remoteID string, projectID int64, attrs *types.IssueAttributes) (*types.Issue, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if remoteID == "" {
		return nil, false, fmt.Errorf("remote id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, fmt.Errorf("store is closed")
	}

	key := issueKey{projectID: projectID, remoteID: remoteID}
	if id, ok := m.byRemote[key]; ok {
		return cloneIssue(m.issues[id]), false, nil
	}
	if err := attrs.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid issue %s: %w", remoteID, err)
	}

	now := time.Now().UTC()
	m.nextIssueID++
	issue := &types.Issue{
		ID:          m.nextIssueID,
		ProjectID:   projectID,
		RemoteID:    remoteID,
		Identifier:  attrs.Identifier,
		Title:       attrs.Title,
		Description: attrs.Description,
		State:       attrs.State,
		AuthorID:    attrs.AuthorID,
		AssigneeID:  attrs.AssigneeID,
		Labels:      append([]string(nil), attrs.Labels...),
		ExternalURL: attrs.ExternalURL,
		CreatedAt:   orNow(attrs.CreatedAt, now),
		UpdatedAt:   orNow(attrs.UpdatedAt, now),
		ClosedAt:    attrs.ClosedAt,
	}
	for _, n := range attrs.Notes {
		m.nextNoteID++
		issue.Notes = append(issue.Notes, &types.Note{
			ID:        m.nextNoteID,
			IssueID:   issue.ID,
			RemoteID:  n.RemoteID,
			Body:      n.Body,
			AuthorID:  n.AuthorID,
			CreatedAt: orNow(n.CreatedAt, now),
		})
	}
	m.issues[issue.ID] = issue
	m.byRemote[key] = issue.ID
	return cloneIssue(issue), true, nil
}

func (m *MemoryStorage) GetIssue(ctx context.Context, id int64) (*types.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	issue, ok := m.issues[id]
	if !ok {
		return nil, fmt.Errorf("issue %d: %w", id, storage.ErrNotFound)
	}
	return cloneIssue(issue), nil
}

func (m *MemoryStorage) ListIssues(ctx context.Context, filter storage.IssueFilter) ([]*types.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.Issue
	for _, issue := range m.issues {
		if filter.Matches(issue) {
			out = append(out, cloneIssue(issue))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStorage) CreateUser(ctx context.Context, user *types.User) error {
	if user.Username == "" {
		return fmt.Errorf("username is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, user.Username) ||
			(user.Email != "" && strings.EqualFold(u.Email, user.Email)) {
			return fmt.Errorf("%s: %w", user.Username, storage.ErrDuplicateUser)
		}
	}
	m.nextUserID++
	user.ID = m.nextUserID
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *MemoryStorage) ListUsers(ctx context.Context) ([]*types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStorage) FindUser(ctx context.Context, emailOrName string) (*types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *types.User
	for _, u := range m.users {
		if strings.EqualFold(u.Email, emailOrName) || strings.EqualFold(u.Username, emailOrName) ||
			strings.EqualFold(u.Name, emailOrName) {
			if best == nil || u.ID < best.ID {
				best = u
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("user %q: %w", emailOrName, storage.ErrNotFound)
	}
	cp := *best
	return &cp, nil
}

func (m *MemoryStorage) FindUsers(ctx context.Context, emails, names []string) ([]*types.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emailSet := lowerSet(emails)
	nameSet := lowerSet(names)

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.User
	for _, u := range m.users {
		if (u.Email != "" && emailSet[strings.ToLower(u.Email)]) ||
			nameSet[strings.ToLower(u.Username)] ||
			(u.Name != "" && nameSet[strings.ToLower(u.Name)]) {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStorage) SaveSession(ctx context.Context, session *types.ImportSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session.ID == 0 {
		m.nextSessionID++
		session.ID = m.nextSessionID
	} else if _, ok := m.sessions[session.ID]; !ok {
		return fmt.Errorf("session %d: %w", session.ID, storage.ErrNotFound)
	}
	cp := *session
	cp.Credential = ""
	m.sessions[session.ID] = &cp
	return nil
}

func (m *MemoryStorage) GetSession(ctx context.Context, id int64) (*types.ImportSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %d: %w", id, storage.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStorage) LatestSession(ctx context.Context, projectID int64) (*types.ImportSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *types.ImportSession
	for _, s := range m.sessions {
		if s.ProjectID == projectID && (latest == nil || s.ID > latest.ID) {
			latest = s
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("no import session for project %d: %w", projectID, storage.ErrNotFound)
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func cloneIssue(issue *types.Issue) *types.Issue {
	cp := *issue
	cp.Labels = append([]string(nil), issue.Labels...)
	cp.Notes = nil
	for _, n := range issue.Notes {
		note := *n
		cp.Notes = append(cp.Notes, &note)
	}
	return &cp
}

func lowerSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v != "" {
			set[strings.ToLower(v)] = true
		}
	}
	return set
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}
