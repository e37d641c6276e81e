package types

import (
	"fmt"
	"time"
)

// SessionStatus is the lifecycle state of an import session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// IsValid reports whether s is a known status.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionPending, SessionRunning, SessionCompleted, SessionFailed:
		return true
	}
	return false
}

// allowedTransitions lists the edges of the session state machine.
// pending -> failed covers precondition failures (bad credentials, unreachable endpoint).
var allowedTransitions = map[SessionStatus][]SessionStatus{
	SessionPending: {SessionRunning, SessionFailed},
	SessionRunning: {SessionCompleted, SessionFailed},
}

// ImportSession is one run of an import for one project against one remote tracker.
type ImportSession struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	Tracker   string `json:"tracker"`
	Endpoint  string `json:"endpoint"`
	// Credential is the opaque auth token for this run. It is held in memory only.
	Credential     string        `json:"-" yaml:"-"`
	Cursor         string        `json:"cursor,omitempty"`
	Status         SessionStatus `json:"status"`
	Error          string        `json:"error,omitempty"`
	PagesFetched   int           `json:"pages_fetched"`
	IssuesImported int           `json:"issues_imported"`
	CreatedAt      time.Time     `json:"created_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// NewImportSession returns a pending session for the given project.
func NewImportSession(projectID int64, tracker, endpoint string) *ImportSession {
	now := time.Now().UTC()
	return &ImportSession{
		ProjectID: projectID,
		Tracker:   tracker,
		Endpoint:  endpoint,
		Status:    SessionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the session to the given status, stamping timestamps.
// Terminal sessions never change; a new session is required to retry.
func (s *ImportSession) Transition(to SessionStatus) error {
	for _, next := range allowedTransitions[s.Status] {
		if next != to {
			continue
		}
		now := time.Now().UTC()
		s.Status = to
		s.UpdatedAt = now
		switch {
		case to == SessionRunning:
			s.StartedAt = &now
		case to.IsTerminal():
			s.FinishedAt = &now
		}
		return nil
	}
	return fmt.Errorf("invalid session transition %s -> %s", s.Status, to)
}

// Fail transitions the session to failed and records the error message.
func (s *ImportSession) Fail(err error) error {
	if terr := s.Transition(SessionFailed); terr != nil {
		return terr
	}
	if err != nil {
		s.Error = err.Error()
	}
	return nil
}

// Advance records a fully processed page and moves the cursor forward.
func (s *ImportSession) Advance(next string, imported int) {
	s.Cursor = next
	s.PagesFetched++
	s.IssuesImported += imported
	s.UpdatedAt = time.Now().UTC()
}

// Duration returns how long the session ran, or ran so far.
func (s *ImportSession) Duration() time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	if s.FinishedAt != nil {
		return s.FinishedAt.Sub(*s.StartedAt)
	}
	return time.Since(*s.StartedAt)
}
