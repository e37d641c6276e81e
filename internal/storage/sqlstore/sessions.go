package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/steveyegge/bdimport/internal/storage"
	"github.com/steveyegge/bdimport/internal/types"
)

const sessionColumns = `id, project_id, tracker, endpoint, next_cursor, status, last_error,
	pages_fetched, issues_imported, created_at, started_at, finished_at, updated_at`

// SaveSession inserts a new session or updates an existing one. The
// credential is never written.
func (s *Store) SaveSession(ctx context.Context, session *types.ImportSession) error {
	if session.ID == 0 {
		res, err := s.execContext(ctx,
			`INSERT INTO import_sessions (project_id, tracker, endpoint, next_cursor, status, last_error,
				pages_fetched, issues_imported, created_at, started_at, finished_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ProjectID, session.Tracker, session.Endpoint, session.Cursor, string(session.Status),
			session.Error, session.PagesFetched, session.IssuesImported, formatTime(session.CreatedAt),
			formatTimePtr(session.StartedAt), formatTimePtr(session.FinishedAt), formatTime(session.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting import session: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading session id: %w", err)
		}
		session.ID = id
		return nil
	}

	res, err := s.execContext(ctx,
		`UPDATE import_sessions SET next_cursor = ?, status = ?, last_error = ?, pages_fetched = ?,
			issues_imported = ?, started_at = ?, finished_at = ?, updated_at = ?
		 WHERE id = ?`,
		session.Cursor, string(session.Status), session.Error, session.PagesFetched, session.IssuesImported,
		formatTimePtr(session.StartedAt), formatTimePtr(session.FinishedAt), formatTime(session.UpdatedAt),
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("updating import session %d: %w", session.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// MySQL reports zero affected rows for no-op updates; confirm the row exists.
		if _, getErr := s.GetSession(ctx, session.ID); getErr != nil {
			return getErr
		}
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id int64) (*types.ImportSession, error) {
	session, err := s.scanOneSession(ctx, `SELECT `+sessionColumns+` FROM import_sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %d: %w", id, storage.ErrNotFound)
	}
	return session, err
}

func (s *Store) LatestSession(ctx context.Context, projectID int64) (*types.ImportSession, error) {
	session, err := s.scanOneSession(ctx,
		`SELECT `+sessionColumns+` FROM import_sessions WHERE project_id = ? ORDER BY id DESC LIMIT 1`, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no import session for project %d: %w", projectID, storage.ErrNotFound)
	}
	return session, err
}

func (s *Store) scanOneSession(ctx context.Context, query string, args ...any) (*types.ImportSession, error) {
	var session *types.ImportSession
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		var scanErr error
		session, scanErr = scanSession(row)
		return scanErr
	}, query, args...)
	return session, err
}

func scanSession(row scanner) (*types.ImportSession, error) {
	var (
		session           types.ImportSession
		status            string
		created, updated  string
		started, finished sql.NullString
	)
	err := row.Scan(&session.ID, &session.ProjectID, &session.Tracker, &session.Endpoint, &session.Cursor,
		&status, &session.Error, &session.PagesFetched, &session.IssuesImported,
		&created, &started, &finished, &updated)
	if err != nil {
		return nil, err
	}
	session.Status = types.SessionStatus(status)
	if session.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if session.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if session.StartedAt, err = parseTimePtr(started); err != nil {
		return nil, err
	}
	if session.FinishedAt, err = parseTimePtr(finished); err != nil {
		return nil, err
	}
	return &session, nil
}
