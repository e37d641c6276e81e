package importer

import (
	"sync"

	"github.com/steveyegge/bdimport/internal/tracker"
)

// ProjectLocks guarantees at most one active import per project within this
// process. Acquire never blocks: a busy project is reported as a ConflictError.
type ProjectLocks struct {
	mu     sync.Mutex
	active map[int64]int64 // project id -> session id (0 until persisted)
}

// NewProjectLocks returns an empty lock table.
func NewProjectLocks() *ProjectLocks {
	return &ProjectLocks{active: make(map[int64]int64)}
}

// Acquire claims projectID or returns a *tracker.ConflictError naming the
// session that holds it.
func (l *ProjectLocks) Acquire(projectID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sessionID, busy := l.active[projectID]; busy {
		return &tracker.ConflictError{ProjectID: projectID, SessionID: sessionID}
	}
	l.active[projectID] = 0
	return nil
}

// Bind records which session holds the lock for projectID.
func (l *ProjectLocks) Bind(projectID, sessionID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.active[projectID]; held {
		l.active[projectID] = sessionID
	}
}

// Release frees projectID.
func (l *ProjectLocks) Release(projectID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, projectID)
}

// Holder returns the session holding projectID and whether it is held.
func (l *ProjectLocks) Holder(projectID int64) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, held := l.active[projectID]
	return id, held
}
