package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/bdimport/internal/config"
	"github.com/steveyegge/bdimport/internal/importer"
	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/ui"
)

// batchFile is the YAML document read by 'bdimport batch'.
//
//	imports:
//	  - project_id: 4
//	    tracker: jira
//	    remote_project: OPS
//	    since: 30d
//	  - project_id: 9
//	    tracker: github
//	    remote_project: acme/widgets
//	    state: open
type batchFile struct {
	Imports []batchEntry `yaml:"imports"`
}

type batchEntry struct {
	ProjectID     int64  `yaml:"project_id"`
	Tracker       string `yaml:"tracker"`
	URL           string `yaml:"url"`
	Username      string `yaml:"username"`
	RemoteProject string `yaml:"remote_project"`
	State         string `yaml:"state"`
	Since         string `yaml:"since"`
	PageSize      int    `yaml:"page_size"`
}

// parseBatch decodes a batch file into import requests. Secrets come from
// config, never from the batch file.
func parseBatch(r io.Reader, now time.Time) ([]importer.Request, error) {
	var f batchFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing batch file: %w", err)
	}
	if len(f.Imports) == 0 {
		return nil, fmt.Errorf("batch file lists no imports")
	}

	seen := make(map[int64]int, len(f.Imports))
	reqs := make([]importer.Request, 0, len(f.Imports))
	for i, e := range f.Imports {
		if e.ProjectID <= 0 {
			return nil, fmt.Errorf("imports[%d]: project_id must be a positive id", i)
		}
		if prev, dup := seen[e.ProjectID]; dup {
			return nil, fmt.Errorf("imports[%d]: project %d is already imported by imports[%d]", i, e.ProjectID, prev)
		}
		seen[e.ProjectID] = i
		name := strings.ToLower(strings.TrimSpace(e.Tracker))
		if name == "" {
			return nil, fmt.Errorf("imports[%d]: tracker is required", i)
		}
		q, err := buildQuery(e.RemoteProject, e.State, e.Since, e.PageSize, now)
		if err != nil {
			return nil, fmt.Errorf("imports[%d]: %w", i, err)
		}
		reqs = append(reqs, importer.Request{
			ProjectID:   e.ProjectID,
			Tracker:     name,
			Credentials: config.Tracker(name).LoadCredentials(tracker.Credentials{URL: e.URL, Username: e.Username}),
			Query:       q,
		})
	}
	return reqs, nil
}

type batchResultJSON struct {
	ProjectID int64  `json:"project_id"`
	Tracker   string `json:"tracker"`
	Session   any    `json:"session,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (a *app) newBatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch <file.yaml>",
		Short: "Import several projects concurrently",
		Long: `Run the imports listed in a YAML file, at most import.concurrency at a
time. A failing import never stops the others; the command fails if any
import failed.

  imports:
    - project_id: 4
      tracker: jira
      remote_project: OPS
    - project_id: 9
      tracker: github
      remote_project: acme/widgets`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fh, err := os.Open(args[0])
			if err != nil {
				return a.fail(err)
			}
			defer fh.Close()
			reqs, err := parseBatch(fh, time.Now())
			if err != nil {
				return a.fail(err)
			}
			svc, err := a.newService(&progress{w: a.errOut, quiet: a.jsonOutput})
			if err != nil {
				return a.fail(err)
			}

			results := svc.RunBatch(cmd.Context(), reqs)
			failed := 0
			out := make([]batchResultJSON, 0, len(results))
			for _, r := range results {
				row := batchResultJSON{ProjectID: r.Request.ProjectID, Tracker: r.Request.Tracker}
				if r.Session != nil {
					row.Session = r.Session
				}
				if r.Err != nil {
					failed++
					row.Error = r.Err.Error()
				}
				out = append(out, row)
			}

			if a.jsonOutput {
				_ = outputJSON(a.out, out)
			} else {
				for _, r := range results {
					icon := ui.RenderPass(ui.IconPass)
					detail := ""
					if r.Session != nil {
						detail = fmt.Sprintf("%d issues", r.Session.IssuesImported)
					}
					if r.Err != nil {
						icon = ui.RenderFail(ui.IconFail)
						detail = firstLine(r.Err.Error())
					}
					fmt.Fprintf(a.out, "%s project %d (%s) %s\n", icon, r.Request.ProjectID, r.Request.Tracker, ui.RenderMuted(detail))
				}
			}
			if failed > 0 {
				return a.fail(fmt.Errorf("%d of %d imports failed", failed, len(results)))
			}
			return nil
		},
	}
}
