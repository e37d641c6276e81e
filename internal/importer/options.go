package importer

import (
	"io"
	"log/slog"
	"time"

	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/usermap"
)

// Defaults for a Service.
const (
	DefaultMaxRetries    = 3
	DefaultRetryInterval = 500 * time.Millisecond
	DefaultConcurrency   = 4
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCallbacks sets the progress and warning callbacks used for CLI output.
func WithCallbacks(onMessage, onWarning func(msg string)) Option {
	return func(s *Service) {
		s.OnMessage = onMessage
		s.OnWarning = onWarning
	}
}

// WithMaxRetries bounds how many times a retryable page fetch is retried.
// Zero disables retries.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithRetryInterval sets the initial backoff interval between retries.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retryInterval = d
		}
	}
}

// WithFallbackAuthor sets the local user recorded as author when a remote
// author cannot be mapped. nil leaves such issues without an author.
func WithFallbackAuthor(id *int64) Option {
	return func(s *Service) { s.fallbackAuthor = id }
}

// WithOverrides pins remote identities to local users for every session.
func WithOverrides(o usermap.Overrides) Option {
	return func(s *Service) { s.overrides = o }
}

// WithConcurrency bounds how many sessions RunBatch runs at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithTransportOptions sets the options injected into every tracker built
// from the registry.
func WithTransportOptions(opts tracker.Options) Option {
	return func(s *Service) { s.transport = opts }
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
