// Package importer runs import sessions: it pages through a remote tracker,
// maps remote identities onto local users and creates local issues.
//
// A session moves pending -> running -> completed or failed. Pages are
// processed sequentially and the cursor is persisted after every page, so a
// failed session can be resumed from where it stopped. Issues created before
// a failure are kept; the (remote id, project id) dedup key in the store makes
// re-importing a page harmless.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/bdimport/internal/storage"
	"github.com/steveyegge/bdimport/internal/telemetry"
	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/types"
	"github.com/steveyegge/bdimport/internal/usermap"
)

const maxTitleLength = 500

// Request asks for one project to be imported from one remote tracker.
type Request struct {
	ProjectID   int64
	Tracker     string // Registry name, e.g. "jira"
	Credentials tracker.Credentials
	Query       tracker.Query
}

// Status is the poll view of a project's import.
type Status struct {
	Session *types.ImportSession `json:"session"` // Latest session, nil if the project was never imported
	Active  bool                 `json:"active"`  // Whether an import is running in this process
}

// BatchResult is the outcome of one request in RunBatch.
type BatchResult struct {
	Request Request
	Session *types.ImportSession // nil when the session could not be created
	Err     error
}

// Service orchestrates import sessions against a local store.
type Service struct {
	store    storage.Store
	registry *tracker.Registry
	locks    *ProjectLocks

	logger         *slog.Logger
	maxRetries     int
	retryInterval  time.Duration
	fallbackAuthor *int64
	overrides      usermap.Overrides
	concurrency    int
	transport      tracker.Options

	tracer  trace.Tracer
	metrics *importMetrics

	// Callbacks for UI feedback (optional).
	OnMessage func(msg string)
	OnWarning func(msg string)
}

// New returns a Service writing into store and building trackers from registry.
func New(store storage.Store, registry *tracker.Registry, opts ...Option) *Service {
	s := &Service{
		store:         store,
		registry:      registry,
		locks:         NewProjectLocks(),
		logger:        discardLogger(),
		maxRetries:    DefaultMaxRetries,
		retryInterval: DefaultRetryInterval,
		concurrency:   DefaultConcurrency,
		transport:     tracker.DefaultOptions(),
		tracer:        telemetry.Tracer(importScopeName),
		metrics:       newImportMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartImport builds the requested tracker and runs a new session to a
// terminal state. The returned session is nil only when no session could be
// created (unknown tracker, conflicting import); otherwise a failed session is
// returned together with the error that failed it.
func (s *Service) StartImport(ctx context.Context, req Request) (*types.ImportSession, error) {
	tr, err := s.registry.New(req.Tracker, s.transport)
	if err != nil {
		return nil, err
	}
	sess := types.NewImportSession(req.ProjectID, tr.Name(), req.Credentials.URL)
	return s.Start(ctx, sess, tr, req)
}

// Resume continues the project's latest failed session from its cursor in a
// new session. A running session left behind by a crashed process is marked
// failed first.
func (s *Service) Resume(ctx context.Context, req Request) (*types.ImportSession, error) {
	latest, err := s.store.LatestSession(ctx, req.ProjectID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("project %d has no import to resume", req.ProjectID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest session: %w", err)
	}

	switch latest.Status {
	case types.SessionFailed:
	case types.SessionCompleted:
		return nil, fmt.Errorf("project %d: session %d already completed; nothing to resume", req.ProjectID, latest.ID)
	default:
		if holder, held := s.locks.Holder(req.ProjectID); held {
			return nil, &tracker.ConflictError{ProjectID: req.ProjectID, SessionID: holder}
		}
		if err := latest.Fail(errors.New("interrupted")); err != nil {
			return nil, err
		}
		if err := s.store.SaveSession(ctx, latest); err != nil {
			return nil, fmt.Errorf("marking stale session %d failed: %w", latest.ID, err)
		}
	}

	if req.Tracker == "" {
		req.Tracker = latest.Tracker
	}
	if req.Credentials.URL == "" {
		req.Credentials.URL = latest.Endpoint
	}
	tr, err := s.registry.New(req.Tracker, s.transport)
	if err != nil {
		return nil, err
	}
	return s.Start(ctx, latest, tr, req)
}

// Start runs sess against tr until it completes or fails. A failed session is
// never reused: a new pending session inheriting its cursor is started in its
// place and returned. Only one session per project runs at a time; a second
// start returns a *tracker.ConflictError and leaves the running session alone.
func (s *Service) Start(ctx context.Context, sess *types.ImportSession, tr tracker.IssueTracker, req Request) (*types.ImportSession, error) {
	if sess.Status == types.SessionFailed {
		sess = successor(sess)
	}
	if sess.Status != types.SessionPending {
		return sess, fmt.Errorf("session %d is %s; only pending or failed sessions can be started", sess.ID, sess.Status)
	}
	if err := s.locks.Acquire(sess.ProjectID); err != nil {
		return nil, err
	}
	defer s.locks.Release(sess.ProjectID)

	ctx, span := s.tracer.Start(ctx, "import.session", trace.WithAttributes(
		attribute.Int64("bdimport.project.id", sess.ProjectID),
		attribute.String("bdimport.tracker", tr.Name()),
	))
	defer span.End()

	sess.Credential = req.Credentials.Secret()
	if err := s.store.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("saving import session: %w", err)
	}
	s.locks.Bind(sess.ProjectID, sess.ID)
	span.SetAttributes(attribute.Int64("bdimport.session.id", sess.ID))

	log := s.logger.With("project", sess.ProjectID, "tracker", tr.Name(), "session", sess.ID)
	log.Info("import started", "cursor", sess.Cursor)

	runErr := s.run(ctx, sess, tr, req, log)
	s.finish(ctx, sess, runErr, log)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	return sess, runErr
}

// ImportStatus reports the latest session for a project.
func (s *Service) ImportStatus(ctx context.Context, projectID int64) (*Status, error) {
	_, active := s.locks.Holder(projectID)
	latest, err := s.store.LatestSession(ctx, projectID)
	if errors.Is(err, storage.ErrNotFound) {
		return &Status{Active: active}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading import status: %w", err)
	}
	return &Status{Session: latest, Active: active}, nil
}

// RunBatch imports several projects concurrently, at most Concurrency at a
// time. Per-project failures are reported in the results and recorded on
// their sessions; they never stop the other imports.
func (s *Service) RunBatch(ctx context.Context, reqs []Request) []BatchResult {
	results := make([]BatchResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			sess, err := s.StartImport(ctx, req)
			results[i] = BatchResult{Request: req, Session: sess, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) run(ctx context.Context, sess *types.ImportSession, tr tracker.IssueTracker, req Request, log *slog.Logger) error {
	if err := s.retry(ctx, log, "authenticate", func() error {
		return tr.Authenticate(ctx, req.Credentials)
	}); err != nil {
		return fmt.Errorf("authenticating with %s: %w", tr.DisplayName(), err)
	}

	if err := sess.Transition(types.SessionRunning); err != nil {
		return err
	}
	if err := s.store.SaveSession(ctx, sess); err != nil {
		return fmt.Errorf("saving import session: %w", err)
	}
	s.msg("Importing %s issues into project %d", tr.DisplayName(), sess.ProjectID)

	query := req.Query
	if query.Project == "" {
		query.Project = req.Credentials.Project
	}
	mapper := usermap.New(s.store, usermap.WithOverrides(s.overrides))

	for {
		created, next, err := s.importPage(ctx, sess, tr, mapper, query, log)
		if err != nil {
			return err
		}
		sess.Advance(next, created)
		if err := s.store.SaveSession(ctx, sess); err != nil {
			return fmt.Errorf("saving cursor: %w", err)
		}
		log.Debug("page imported", "page", sess.PagesFetched, "created", created, "next", next)
		s.msg("  page %d: %d new issues", sess.PagesFetched, created)
		if next == "" {
			return nil
		}
	}
}

// importPage fetches the page at sess.Cursor and creates its issues. It
// returns the number of issues created and the cursor of the following page.
func (s *Service) importPage(ctx context.Context, sess *types.ImportSession, tr tracker.IssueTracker, mapper *usermap.Mapper, q tracker.Query, log *slog.Logger) (created int, next string, err error) {
	ctx, span := s.tracer.Start(ctx, "import.page", trace.WithAttributes(
		attribute.Int("bdimport.page", sess.PagesFetched+1),
	))
	defer func() {
		s.metrics.issuesCreated(ctx, sess.Tracker, created)
		span.SetAttributes(attribute.Int("bdimport.issues.created", created))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var page *tracker.Page
	err = s.retry(ctx, log, "list issues", func() error {
		p, err := tr.ListIssues(ctx, q, sess.Cursor)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return 0, "", fmt.Errorf("fetching page %d: %w", sess.PagesFetched+1, err)
	}
	if page == nil {
		page = &tracker.Page{}
	}
	if page.Next != "" && page.Next == sess.Cursor {
		return 0, "", fmt.Errorf("fetching page %d: cursor %q did not advance", sess.PagesFetched+1, page.Next)
	}

	mappings, err := mapper.Map(ctx, page.Identities())
	if err != nil {
		return 0, "", fmt.Errorf("mapping users: %w", err)
	}
	users := usermap.Index(mappings)

	for i := range page.Issues {
		remote := &page.Issues[i]
		if remote.ID == "" {
			s.warn("Skipping %s issue without an id (%q)", tr.DisplayName(), remote.Title)
			continue
		}
		issue, isNew, err := s.store.FindOrCreateIssue(ctx, remote.ID, sess.ProjectID, s.issueAttributes(remote, users))
		if err != nil {
			return created, "", fmt.Errorf("importing %s: %w", issueLabel(remote), err)
		}
		if isNew {
			created++
		} else {
			log.Debug("issue already imported", "remote_id", remote.ID, "issue", issue.ID)
		}
	}
	return created, page.Next, nil
}

// finish moves sess to its terminal state and persists it, even when ctx has
// been cancelled.
func (s *Service) finish(ctx context.Context, sess *types.ImportSession, runErr error, log *slog.Logger) {
	ctx = context.WithoutCancel(ctx)
	sess.Credential = ""

	if runErr != nil {
		if err := sess.Fail(runErr); err != nil {
			log.Error("failing session", "error", err)
		}
		log.Warn("import failed", "error", runErr, "cursor", sess.Cursor, "issues", sess.IssuesImported)
		s.warn("Import of project %d failed: %v", sess.ProjectID, runErr)
	} else {
		if err := sess.Transition(types.SessionCompleted); err != nil {
			log.Error("completing session", "error", err)
		}
		log.Info("import completed", "pages", sess.PagesFetched, "issues", sess.IssuesImported, "duration", sess.Duration())
		s.msg("Imported %d issues into project %d", sess.IssuesImported, sess.ProjectID)
	}

	if err := s.store.SaveSession(ctx, sess); err != nil {
		log.Error("saving final session state", "error", err)
	}
	s.metrics.finished(ctx, sess)
}

// retry runs op, retrying retryable tracker errors with exponential backoff
// up to maxRetries times.
func (s *Service) retry(ctx context.Context, log *slog.Logger, what string, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.maxRetries)), ctx)

	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !tracker.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		log.Warn("retrying", "op", what, "error", err, "wait", wait)
	})
}

// issueAttributes converts a remote issue into local attributes. Authors that
// do not map to a local user fall back to the configured author, and the
// content is attributed to them in its first line.
func (s *Service) issueAttributes(remote *tracker.RemoteIssue, users map[string]types.UserMapping) *types.IssueAttributes {
	attrs := &types.IssueAttributes{
		Identifier:  remote.Identifier,
		Title:       issueTitle(remote),
		Description: remote.Description,
		State:       remote.State,
		Labels:      remote.Labels,
		ExternalURL: remote.URL,
		CreatedAt:   remote.CreatedAt,
		UpdatedAt:   remote.UpdatedAt,
		ClosedAt:    remote.ClosedAt,
	}
	if !attrs.State.IsValid() {
		attrs.State = types.StateOpen
	}
	if attrs.CreatedAt.IsZero() {
		attrs.CreatedAt = time.Now().UTC()
	}
	if attrs.UpdatedAt.IsZero() {
		attrs.UpdatedAt = attrs.CreatedAt
	}

	attrs.AuthorID, attrs.Description = s.attribute(remote.Author, remote.Description, users)
	if remote.Assignee != nil {
		attrs.AssigneeID = localUser(*remote.Assignee, users)
	}

	for _, c := range remote.Comments {
		author, body := s.attribute(c.Author, c.Body, users)
		created := c.CreatedAt
		if created.IsZero() {
			created = attrs.CreatedAt
		}
		attrs.Notes = append(attrs.Notes, types.NoteAttributes{
			RemoteID:  c.ID,
			Body:      body,
			AuthorID:  author,
			CreatedAt: created,
		})
	}
	return attrs
}

// attribute resolves the local author for content written by who.
func (s *Service) attribute(who tracker.RemoteUser, body string, users map[string]types.UserMapping) (*int64, string) {
	if id := localUser(who, users); id != nil {
		return id, body
	}
	if who.IsZero() {
		return s.fallbackAuthor, body
	}
	line := fmt.Sprintf("*Created by: %s*", who.Label())
	if body == "" {
		return s.fallbackAuthor, line
	}
	return s.fallbackAuthor, line + "\n\n" + body
}

func localUser(u tracker.RemoteUser, users map[string]types.UserMapping) *int64 {
	if u.IsZero() {
		return nil
	}
	return users[tracker.IdentityKey(u)].LocalUserID
}

func successor(prev *types.ImportSession) *types.ImportSession {
	next := types.NewImportSession(prev.ProjectID, prev.Tracker, prev.Endpoint)
	next.Cursor = prev.Cursor
	return next
}

func issueTitle(remote *tracker.RemoteIssue) string {
	title := strings.TrimSpace(remote.Title)
	if title == "" {
		title = issueLabel(remote)
	}
	for len(title) > maxTitleLength {
		_, size := utf8.DecodeLastRuneInString(title)
		title = title[:len(title)-size]
	}
	return title
}

func issueLabel(remote *tracker.RemoteIssue) string {
	if remote.Identifier != "" {
		return remote.Identifier
	}
	return "issue " + remote.ID
}

func (s *Service) msg(format string, args ...interface{}) {
	if s.OnMessage != nil {
		s.OnMessage(fmt.Sprintf(format, args...))
	}
}

func (s *Service) warn(format string, args ...interface{}) {
	if s.OnWarning != nil {
		s.OnWarning(fmt.Sprintf(format, args...))
	}
}
