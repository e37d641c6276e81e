package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/bdimport/internal/config"
	"github.com/steveyegge/bdimport/internal/importer"
	"github.com/steveyegge/bdimport/internal/storage"
	"github.com/steveyegge/bdimport/internal/timeparsing"
	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/types"
)

// importFlags are the flags shared by run and resume.
type importFlags struct {
	projectID int64
	creds     tracker.Credentials
	remote    string
	state     string
	since     string
	pageSize  int
}

func (f *importFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.Int64Var(&f.projectID, "project-id", 0, "Local project to import into (required)")
	fl.StringVar(&f.creds.URL, "url", "", "Tracker base URL (default: <tracker>.url)")
	fl.StringVar(&f.creds.Username, "username", "", "Login name or email")
	fl.StringVar(&f.creds.Password, "password", "", "Password")
	fl.StringVar(&f.creds.Token, "token", "", "API token")
	fl.StringVar(&f.remote, "remote-project", "", "Remote project, product or repository (default: <tracker>.project)")
	fl.StringVar(&f.state, "state", "", "Only import open or closed issues")
	fl.StringVar(&f.since, "since", "", `Only issues updated since, e.g. "7d", "2024-01-31" or "last monday"`)
	fl.IntVar(&f.pageSize, "page-size", 0, "Issues per page (default: import.page_size)")
	_ = cmd.MarkFlagRequired("project-id")
}

// request resolves credentials for trackerName and builds the import request.
func (f *importFlags) request(trackerName string, now time.Time) (importer.Request, error) {
	if f.projectID <= 0 {
		return importer.Request{}, fmt.Errorf("--project-id must be a positive id")
	}
	q, err := buildQuery(f.remote, f.state, f.since, f.pageSize, now)
	if err != nil {
		return importer.Request{}, err
	}
	return importer.Request{
		ProjectID:   f.projectID,
		Tracker:     trackerName,
		Credentials: config.Tracker(trackerName).LoadCredentials(f.creds),
		Query:       q,
	}, nil
}

func buildQuery(remote, state, since string, pageSize int, now time.Time) (tracker.Query, error) {
	q := tracker.Query{Project: strings.TrimSpace(remote), PageSize: pageSize}
	switch s := strings.ToLower(strings.TrimSpace(state)); s {
	case "", "all":
	case "open", "closed":
		q.State = s
	default:
		return q, fmt.Errorf("invalid --state %q (want open, closed or all)", state)
	}
	if since != "" {
		t, err := timeparsing.ParseSince(since, now)
		if err != nil {
			return q, fmt.Errorf("invalid --since: %w", err)
		}
		q.Since = &t
	}
	if pageSize < 0 {
		return q, fmt.Errorf("--page-size must not be negative")
	}
	return q, nil
}

func (a *app) newRunCmd() *cobra.Command {
	f := &importFlags{}
	cmd := &cobra.Command{
		Use:   "run <tracker>",
		Short: "Start a new import session",
		Long: `Start a new import of one remote project into a local project.

The import runs until every page has been imported or an error stops it.
A failed import keeps the issues it created and can be continued with
'bdimport resume'.

Examples:
  bdimport run jira --project-id 4 --remote-project OPS
  bdimport run github --project-id 9 --remote-project acme/widgets --state open
  bdimport run zentao --project-id 2 --remote-project 3 --since 30d`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(strings.ToLower(args[0]), time.Now())
			if err != nil {
				return a.fail(err)
			}
			svc, err := a.newService(&progress{w: a.errOut, quiet: a.jsonOutput})
			if err != nil {
				return a.fail(err)
			}
			sess, err := svc.StartImport(cmd.Context(), req)
			return a.reportSession(sess, err)
		},
	}
	f.bind(cmd)
	return cmd
}

func (a *app) newResumeCmd() *cobra.Command {
	f := &importFlags{}
	var trackerName string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue the latest failed import of a project",
		Long: `Continue a project's latest failed import from its saved cursor in a new
session. An import left running by a crashed process is marked failed and
continued. Credentials are not stored, so they are loaded from config again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if trackerName == "" && f.projectID > 0 {
				latest, err := a.store.LatestSession(ctx, f.projectID)
				if errors.Is(err, storage.ErrNotFound) {
					return a.fail(fmt.Errorf("project %d has no import to resume", f.projectID))
				}
				if err != nil {
					return a.fail(err)
				}
				trackerName = latest.Tracker
			}
			req, err := f.request(trackerName, time.Now())
			if err != nil {
				return a.fail(err)
			}
			svc, err := a.newService(&progress{w: a.errOut, quiet: a.jsonOutput})
			if err != nil {
				return a.fail(err)
			}
			sess, err := svc.Resume(ctx, req)
			return a.reportSession(sess, err)
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVar(&trackerName, "tracker", "", "Tracker name (default: the tracker of the failed session)")
	return cmd
}

// reportSession prints the session an import ended with and fails the
// command when err is set.
func (a *app) reportSession(sess *types.ImportSession, err error) error {
	if sess != nil {
		if a.jsonOutput {
			_ = outputJSON(a.out, sess)
		} else {
			writeSession(a.out, sess)
		}
	}
	if err != nil {
		return a.fail(err)
	}
	return nil
}
