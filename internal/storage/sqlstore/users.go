package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/steveyegge/bdimport/internal/storage"
	"github.com/steveyegge/bdimport/internal/types"
)

func (s *Store) CreateUser(ctx context.Context, user *types.User) error {
	if user.Username == "" {
		return fmt.Errorf("username is required")
	}
	res, err := s.execContext(ctx,
		`INSERT INTO users (username, name, email) VALUES (?, ?, ?)`,
		user.Username, user.Name, nullString(user.Email),
	)
	if isDuplicateKey(err) {
		return fmt.Errorf("%s: %w", user.Username, storage.ErrDuplicateUser)
	}
	if err != nil {
		return fmt.Errorf("creating user %s: %w", user.Username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading user id: %w", err)
	}
	user.ID = id
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*types.User, error) {
	return s.queryUsers(ctx, `SELECT id, username, name, email FROM users ORDER BY id`)
}

func (s *Store) FindUser(ctx context.Context, emailOrName string) (*types.User, error) {
	key := strings.ToLower(emailOrName)
	users, err := s.queryUsers(ctx,
		`SELECT id, username, name, email FROM users
		 WHERE lower(email) = ? OR lower(username) = ? OR lower(name) = ?
		 ORDER BY id LIMIT 1`, key, key, key)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("user %q: %w", emailOrName, storage.ErrNotFound)
	}
	return users[0], nil
}

// FindUsers resolves a whole batch of candidate emails and names in one query.
func (s *Store) FindUsers(ctx context.Context, emails, names []string) ([]*types.User, error) {
	emails = lowerNonEmpty(emails)
	names = lowerNonEmpty(names)
	if len(emails) == 0 && len(names) == 0 {
		return nil, nil
	}

	var (
		clauses []string
		args    []any
	)
	if len(emails) > 0 {
		clauses = append(clauses, `lower(email) IN (`+placeholders(len(emails))+`)`)
		for _, e := range emails {
			args = append(args, e)
		}
	}
	if len(names) > 0 {
		in := placeholders(len(names))
		clauses = append(clauses, `lower(username) IN (`+in+`)`, `lower(name) IN (`+in+`)`)
		for i := 0; i < 2; i++ {
			for _, n := range names {
				args = append(args, n)
			}
		}
	}
	return s.queryUsers(ctx,
		`SELECT id, username, name, email FROM users WHERE `+strings.Join(clauses, " OR ")+` ORDER BY id`, args...)
}

func (s *Store) queryUsers(ctx context.Context, query string, args ...any) ([]*types.User, error) {
	rows, err := s.queryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*types.User
	for rows.Next() {
		var (
			u     types.User
			email sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.Name, &email); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		u.Email = email.String
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	return users, nil
}

func lowerNonEmpty(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
