package tracker

import (
	"context"
	"errors"
	"testing"
)

type stubTracker struct {
	name string
	opts Options
}

func (s *stubTracker) Name() string                                    { return s.name }
func (s *stubTracker) DisplayName() string                             { return s.name }
func (s *stubTracker) Authenticate(context.Context, Credentials) error { return nil }
func (s *stubTracker) ListUsers(context.Context) ([]RemoteUser, error) { return nil, nil }
func (s *stubTracker) ListIssues(context.Context, Query, string) (*Page, error) {
	return &Page{}, nil
}

func TestRegistry(t *testing.T) {
	t.Run("empty registry", func(t *testing.T) {
		r := NewRegistry()
		if got := r.List(); len(got) != 0 {
			t.Errorf("List() = %v, want empty", got)
		}
		if got := r.Get("jira"); got != nil {
			t.Error("Get() returned non-nil for unregistered tracker")
		}
		_, err := r.New("jira", Options{})
		var unknown *ErrUnknownTracker
		if !errors.As(err, &unknown) {
			t.Fatalf("New() error = %v, want ErrUnknownTracker", err)
		}
	})

	t.Run("list returns sorted names", func(t *testing.T) {
		r := NewRegistry()
		r.Register("zentao", func(Options) IssueTracker { return &stubTracker{name: "zentao"} })
		r.Register("fogbugz", func(Options) IssueTracker { return &stubTracker{name: "fogbugz"} })
		r.Register("jira", func(Options) IssueTracker { return &stubTracker{name: "jira"} })

		got := r.List()
		want := []string{"fogbugz", "jira", "zentao"}
		if len(got) != len(want) {
			t.Fatalf("List() = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("List()[%d] = %q, want %q", i, got[i], want[i])
			}
		}
		if !r.IsRegistered("jira") || r.IsRegistered("linear") {
			t.Error("IsRegistered mismatch")
		}
	})

	t.Run("New returns fresh instance with defaulted options", func(t *testing.T) {
		r := NewRegistry()
		calls := 0
		r.Register("stub", func(opts Options) IssueTracker {
			calls++
			return &stubTracker{name: "stub", opts: opts}
		})

		a, err := r.New("stub", Options{PageSize: 10})
		if err != nil {
			t.Fatal(err)
		}
		b, _ := r.New("stub", Options{})
		if calls != 2 || a == b {
			t.Errorf("factory called %d times, want 2 distinct instances", calls)
		}
		opts := a.(*stubTracker).opts
		if opts.PageSize != 10 {
			t.Errorf("PageSize = %d, want 10", opts.PageSize)
		}
		if opts.Timeout != DefaultTimeout || opts.MaxResponseBytes != DefaultMaxResponseBytes {
			t.Errorf("defaults not applied: %+v", opts)
		}
	})
}
