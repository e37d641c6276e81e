package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/steveyegge/bdimport/internal/storage"
	"github.com/steveyegge/bdimport/internal/types"
)

const issueColumns = `id, project_id, remote_id, identifier, title, description, state,
	author_id, assignee_id, external_url, created_at, updated_at, closed_at`

// FindOrCreateIssue inserts the issue unless (project_id, remote_id) already
// exists. The unique key makes concurrent callers converge on one row.
func (s *Store) FindOrCreateIssue(ctx context.Context, remoteID string, projectID int64, attrs *types.IssueAttributes) (*types.Issue, bool, error) {
	if remoteID == "" {
		return nil, false, fmt.Errorf("remote id is required")
	}

	var (
		id      int64
		created bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		created = false
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM issues WHERE project_id = ? AND remote_id = ?`, projectID, remoteID,
		).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("looking up issue %s: %w", remoteID, err)
		}
		if err := attrs.Validate(); err != nil {
			return fmt.Errorf("invalid issue %s: %w", remoteID, err)
		}

		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			s.dialect.insertIgnore+` INTO issues (project_id, remote_id, identifier, title, description, state,
				author_id, assignee_id, external_url, created_at, updated_at, closed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			projectID, remoteID, attrs.Identifier, attrs.Title, attrs.Description, string(attrs.State),
			nullInt(attrs.AuthorID), nullInt(attrs.AssigneeID), attrs.ExternalURL,
			formatTime(orNow(attrs.CreatedAt, now)), formatTime(orNow(attrs.UpdatedAt, now)), formatTimePtr(attrs.ClosedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting issue %s: %w", remoteID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("inserting issue %s: %w", remoteID, err)
		}
		if affected == 0 {
			// Lost a race with another writer; return its row.
			return tx.QueryRowContext(ctx,
				`SELECT id FROM issues WHERE project_id = ? AND remote_id = ?`, projectID, remoteID,
			).Scan(&id)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("reading issue id: %w", err)
		}
		created = true

		for i, label := range attrs.Labels {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO issue_labels (issue_id, position, label) VALUES (?, ?, ?)`, id, i, label,
			); err != nil {
				return fmt.Errorf("adding label %q: %w", label, err)
			}
		}
		for _, n := range attrs.Notes {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO notes (issue_id, remote_id, body, author_id, created_at) VALUES (?, ?, ?, ?, ?)`,
				id, n.RemoteID, n.Body, nullInt(n.AuthorID), formatTime(orNow(n.CreatedAt, now)),
			); err != nil {
				return fmt.Errorf("adding note %s: %w", n.RemoteID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	issue, err := s.GetIssue(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return issue, created, nil
}

func (s *Store) GetIssue(ctx context.Context, id int64) (*types.Issue, error) {
	var issue *types.Issue
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		var scanErr error
		issue, scanErr = scanIssue(row)
		return scanErr
	}, `SELECT `+issueColumns+` FROM issues WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("issue %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting issue %d: %w", id, err)
	}
	if err := s.loadChildren(ctx, []*types.Issue{issue}); err != nil {
		return nil, err
	}
	return issue, nil
}

func (s *Store) ListIssues(ctx context.Context, filter storage.IssueFilter) ([]*types.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE 1=1`
	var args []any
	if filter.ProjectID != 0 {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.queryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing issues: %w", err)
	}

	var issues []*types.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		issues = append(issues, issue)
	}
	// Release the connection before loading children; SQLite runs on one.
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing issues: %w", err)
	}
	if err := s.loadChildren(ctx, issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// loadChildren fills labels and notes for the given issues.
func (s *Store) loadChildren(ctx context.Context, issues []*types.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	byID := make(map[int64]*types.Issue, len(issues))
	args := make([]any, 0, len(issues))
	for _, issue := range issues {
		byID[issue.ID] = issue
		args = append(args, issue.ID)
	}
	in := placeholders(len(args))

	rows, err := s.queryContext(ctx,
		`SELECT issue_id, label FROM issue_labels WHERE issue_id IN (`+in+`) ORDER BY issue_id, position`, args...)
	if err != nil {
		return fmt.Errorf("loading labels: %w", err)
	}
	for rows.Next() {
		var (
			issueID int64
			label   string
		)
		if err := rows.Scan(&issueID, &label); err != nil {
			rows.Close()
			return fmt.Errorf("scanning label: %w", err)
		}
		byID[issueID].Labels = append(byID[issueID].Labels, label)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("loading labels: %w", err)
	}

	rows, err = s.queryContext(ctx,
		`SELECT id, issue_id, remote_id, body, author_id, created_at FROM notes WHERE issue_id IN (`+in+`) ORDER BY issue_id, id`, args...)
	if err != nil {
		return fmt.Errorf("loading notes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			n        types.Note
			authorID sql.NullInt64
			created  string
		)
		if err := rows.Scan(&n.ID, &n.IssueID, &n.RemoteID, &n.Body, &authorID, &created); err != nil {
			return fmt.Errorf("scanning note: %w", err)
		}
		n.AuthorID = intPtr(authorID)
		if n.CreatedAt, err = parseTime(created); err != nil {
			return err
		}
		byID[n.IssueID].Notes = append(byID[n.IssueID].Notes, &n)
	}
	return rows.Err()
}

func scanIssue(row scanner) (*types.Issue, error) {
	var (
		issue              types.Issue
		state              string
		authorID, assignee sql.NullInt64
		created, updated   string
		closed             sql.NullString
	)
	err := row.Scan(&issue.ID, &issue.ProjectID, &issue.RemoteID, &issue.Identifier, &issue.Title,
		&issue.Description, &state, &authorID, &assignee, &issue.ExternalURL, &created, &updated, &closed)
	if err != nil {
		return nil, err
	}
	issue.State = types.IssueState(state)
	issue.AuthorID = intPtr(authorID)
	issue.AssigneeID = intPtr(assignee)
	if issue.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if issue.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if issue.ClosedAt, err = parseTimePtr(closed); err != nil {
		return nil, err
	}
	return &issue, nil
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}
