// Package usermap resolves remote tracker identities to local users.
//
// Matching is case-insensitive and the first rule that matches wins:
// an entry in the overrides file, then email against the local email, then
// display name against the local username or name, then the remote username
// against the local username. Identities that match nothing map to a nil
// local user id; that is the normal outcome for external contributors, not
// an error.
package usermap

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/steveyegge/bdimport/internal/storage"
	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/types"
)

// Mapper maps remote identities with one store query per batch and caches
// every outcome, including misses, for its lifetime (one import session).
type Mapper struct {
	finder    storage.UserFinder
	overrides Overrides

	mu    sync.Mutex
	cache map[string]types.UserMapping
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithOverrides pins identities to local users ahead of the matching rules.
func WithOverrides(o Overrides) Option {
	return func(m *Mapper) { m.overrides = o }
}

// New returns a mapper backed by finder.
func New(finder storage.UserFinder, opts ...Option) *Mapper {
	m := &Mapper{
		finder: finder,
		cache:  make(map[string]types.UserMapping),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Map resolves each remote identity, preserving input order. An empty input
// yields an empty result. Only a store failure returns an error.
func (m *Mapper) Map(ctx context.Context, remote []tracker.RemoteUser) ([]types.UserMapping, error) {
	out := make([]types.UserMapping, len(remote))
	if len(remote) == 0 {
		return out, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []int
	for i, u := range remote {
		if cached, ok := m.cache[tracker.IdentityKey(u)]; ok {
			out[i] = types.UserMapping{Remote: u, LocalUserID: cached.LocalUserID, MatchedBy: cached.MatchedBy}
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return out, nil
	}

	batch := make([]tracker.RemoteUser, len(pending))
	for j, i := range pending {
		batch[j] = remote[i]
	}
	candidates, err := m.lookup(ctx, batch)
	if err != nil {
		return nil, err
	}

	for _, i := range pending {
		mapping := m.match(remote[i], candidates)
		m.cache[tracker.IdentityKey(remote[i])] = mapping
		out[i] = mapping
	}
	return out, nil
}

// Resolve maps a single identity and returns the local user id, or nil.
func (m *Mapper) Resolve(ctx context.Context, u tracker.RemoteUser) (*int64, error) {
	if u.IsZero() {
		return nil, nil
	}
	mappings, err := m.Map(ctx, []tracker.RemoteUser{u})
	if err != nil {
		return nil, err
	}
	return mappings[0].LocalUserID, nil
}

// lookup fetches every local user that could match any identity in batch
// with a single store query.
func (m *Mapper) lookup(ctx context.Context, batch []tracker.RemoteUser) ([]*types.User, error) {
	var emails, names []string
	for _, u := range batch {
		if u.Email != "" {
			emails = append(emails, u.Email)
		}
		if u.DisplayName != "" {
			names = append(names, u.DisplayName)
		}
		if u.Username != "" {
			names = append(names, u.Username)
		}
		if local, ok := m.overrides.target(u); ok {
			emails = append(emails, local)
			names = append(names, local)
		}
	}
	if len(emails) == 0 && len(names) == 0 {
		return nil, nil
	}
	users, err := m.finder.FindUsers(ctx, emails, names)
	if err != nil {
		return nil, fmt.Errorf("looking up local users: %w", err)
	}
	return users, nil
}

func (m *Mapper) match(u tracker.RemoteUser, candidates []*types.User) types.UserMapping {
	mapping := types.UserMapping{Remote: u}
	found := func(user *types.User, kind types.MatchKind) types.UserMapping {
		id := user.ID
		mapping.LocalUserID = &id
		mapping.MatchedBy = kind
		return mapping
	}

	if local, ok := m.overrides.target(u); ok {
		if user := first(candidates, func(c *types.User) bool {
			return strings.EqualFold(c.Email, local) || strings.EqualFold(c.Username, local)
		}); user != nil {
			return found(user, types.MatchOverride)
		}
	}
	if u.Email != "" {
		if user := first(candidates, func(c *types.User) bool {
			return c.Email != "" && strings.EqualFold(c.Email, u.Email)
		}); user != nil {
			return found(user, types.MatchEmail)
		}
	}
	if u.DisplayName != "" {
		if user := first(candidates, func(c *types.User) bool {
			return strings.EqualFold(c.Username, u.DisplayName) || (c.Name != "" && strings.EqualFold(c.Name, u.DisplayName))
		}); user != nil {
			return found(user, types.MatchName)
		}
	}
	if u.Username != "" {
		if user := first(candidates, func(c *types.User) bool {
			return strings.EqualFold(c.Username, u.Username)
		}); user != nil {
			return found(user, types.MatchUsername)
		}
	}
	return mapping
}

// first returns the lowest-id candidate satisfying pred.
func first(candidates []*types.User, pred func(*types.User) bool) *types.User {
	var best *types.User
	for _, c := range candidates {
		if pred(c) && (best == nil || c.ID < best.ID) {
			best = c
		}
	}
	return best
}

// Index returns the mappings keyed by identity, for looking up the author of
// an issue or comment after a batch has been mapped.
func Index(mappings []types.UserMapping) map[string]types.UserMapping {
	idx := make(map[string]types.UserMapping, len(mappings))
	for _, mp := range mappings {
		idx[tracker.IdentityKey(mp.Remote)] = mp
	}
	return idx
}
