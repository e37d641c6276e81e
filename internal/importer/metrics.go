package importer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/steveyegge/bdimport/internal/telemetry"
	"github.com/steveyegge/bdimport/internal/types"
)

const importScopeName = "github.com/steveyegge/bdimport/importer"

type importMetrics struct {
	issues   metric.Int64Counter
	sessions metric.Int64Counter
	duration metric.Float64Histogram
}

func newImportMetrics() *importMetrics {
	m := telemetry.Meter(importScopeName)
	issues, _ := m.Int64Counter("bdimport.import.issues",
		metric.WithDescription("Local issues created by imports"),
	)
	sessions, _ := m.Int64Counter("bdimport.import.sessions",
		metric.WithDescription("Import sessions finished, by outcome"),
	)
	duration, _ := m.Float64Histogram("bdimport.import.duration",
		metric.WithDescription("Import session duration in seconds"),
		metric.WithUnit("s"),
	)
	return &importMetrics{issues: issues, sessions: sessions, duration: duration}
}

func (m *importMetrics) issuesCreated(ctx context.Context, trackerName string, n int) {
	if n == 0 {
		return
	}
	m.issues.Add(ctx, int64(n), metric.WithAttributes(attribute.String("bdimport.tracker", trackerName)))
}

func (m *importMetrics) finished(ctx context.Context, sess *types.ImportSession) {
	attrs := metric.WithAttributes(
		attribute.String("bdimport.tracker", sess.Tracker),
		attribute.String("bdimport.session.status", string(sess.Status)),
	)
	m.sessions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, sess.Duration().Seconds(), attrs)
}
