package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/bdimport/internal/storage"
	"github.com/steveyegge/bdimport/internal/types"
)

const storageScopeName = "github.com/steveyegge/bdimport/storage"

// InstrumentedStore wraps storage.Store with OTel tracing and metrics.
// Every method gets a span and is counted in bdimport.storage.* metrics.
// Use WrapStore to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStore struct {
	inner  storage.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

var _ storage.Store = (*InstrumentedStore)(nil)

// WrapStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStore(s storage.Store) storage.Store {
	if !Enabled() {
		return s
	}
	return newInstrumentedStore(s)
}

func newInstrumentedStore(s storage.Store) *InstrumentedStore {
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("bdimport.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("bdimport.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("bdimport.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// Unwrap returns the decorated store.
func (s *InstrumentedStore) Unwrap() storage.Store { return s.inner }

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

// ── Issues ──────────────────────────────────────────────────────────────────

func (s *InstrumentedStore) FindOrCreateIssue(ctx context.Context, remoteID string, projectID int64, attrs *types.IssueAttributes) (*types.Issue, bool, error) {
	kv := []attribute.KeyValue{
		attribute.Int64("bdimport.project.id", projectID),
		attribute.String("bdimport.remote.id", remoteID),
	}
	ctx, span, t := s.op(ctx, "FindOrCreateIssue", kv...)
	issue, created, err := s.inner.FindOrCreateIssue(ctx, remoteID, projectID, attrs)
	span.SetAttributes(attribute.Bool("bdimport.issue.created", created))
	s.done(ctx, span, t, err, kv[:1]...)
	return issue, created, err
}

func (s *InstrumentedStore) GetIssue(ctx context.Context, id int64) (*types.Issue, error) {
	kv := []attribute.KeyValue{attribute.Int64("bdimport.issue.id", id)}
	ctx, span, t := s.op(ctx, "GetIssue", kv...)
	v, err := s.inner.GetIssue(ctx, id)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) ListIssues(ctx context.Context, filter storage.IssueFilter) ([]*types.Issue, error) {
	kv := []attribute.KeyValue{attribute.Int64("bdimport.project.id", filter.ProjectID)}
	ctx, span, t := s.op(ctx, "ListIssues", kv...)
	v, err := s.inner.ListIssues(ctx, filter)
	span.SetAttributes(attribute.Int("bdimport.result.count", len(v)))
	s.done(ctx, span, t, err, kv...)
	return v, err
}

// ── Users ───────────────────────────────────────────────────────────────────

func (s *InstrumentedStore) CreateUser(ctx context.Context, user *types.User) error {
	ctx, span, t := s.op(ctx, "CreateUser")
	err := s.inner.CreateUser(ctx, user)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStore) ListUsers(ctx context.Context) ([]*types.User, error) {
	ctx, span, t := s.op(ctx, "ListUsers")
	v, err := s.inner.ListUsers(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) FindUser(ctx context.Context, emailOrName string) (*types.User, error) {
	ctx, span, t := s.op(ctx, "FindUser")
	v, err := s.inner.FindUser(ctx, emailOrName)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) FindUsers(ctx context.Context, emails, names []string) ([]*types.User, error) {
	kv := []attribute.KeyValue{attribute.Int("bdimport.lookup.count", len(emails)+len(names))}
	ctx, span, t := s.op(ctx, "FindUsers", kv...)
	v, err := s.inner.FindUsers(ctx, emails, names)
	span.SetAttributes(attribute.Int("bdimport.result.count", len(v)))
	s.done(ctx, span, t, err)
	return v, err
}

// ── Sessions ────────────────────────────────────────────────────────────────

func (s *InstrumentedStore) SaveSession(ctx context.Context, session *types.ImportSession) error {
	kv := []attribute.KeyValue{
		attribute.Int64("bdimport.project.id", session.ProjectID),
		attribute.String("bdimport.session.status", string(session.Status)),
	}
	ctx, span, t := s.op(ctx, "SaveSession", kv...)
	err := s.inner.SaveSession(ctx, session)
	s.done(ctx, span, t, err, kv[:1]...)
	return err
}

func (s *InstrumentedStore) GetSession(ctx context.Context, id int64) (*types.ImportSession, error) {
	ctx, span, t := s.op(ctx, "GetSession", attribute.Int64("bdimport.session.id", id))
	v, err := s.inner.GetSession(ctx, id)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) LatestSession(ctx context.Context, projectID int64) (*types.ImportSession, error) {
	kv := []attribute.KeyValue{attribute.Int64("bdimport.project.id", projectID)}
	ctx, span, t := s.op(ctx, "LatestSession", kv...)
	v, err := s.inner.LatestSession(ctx, projectID)
	s.done(ctx, span, t, err, kv...)
	return v, err
}

// ── Lifecycle ───────────────────────────────────────────────────────────────

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
