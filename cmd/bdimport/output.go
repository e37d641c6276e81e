package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/types"
	"github.com/steveyegge/bdimport/internal/ui"
)

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// errorCode classifies err for JSON error output.
func errorCode(err error) string {
	var conflict *tracker.ConflictError
	var unknown *tracker.ErrUnknownTracker
	switch {
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &unknown):
		return "unknown_tracker"
	case tracker.IsAuthError(err):
		return "authentication"
	case tracker.IsRetryable(err):
		return "unavailable"
	}
	return ""
}

// fail reports err on stderr, as JSON when --json is set, and returns it so
// cobra exits non-zero.
func (a *app) fail(err error) error {
	if a.jsonOutput {
		obj := map[string]string{"error": err.Error()}
		if code := errorCode(err); code != "" {
			obj["code"] = code
		}
		_ = outputJSON(a.errOut, obj)
		return err
	}
	fmt.Fprintf(a.errOut, "%s %v\n", ui.RenderFail("Error:"), err)
	if tracker.IsAuthError(err) {
		fmt.Fprintf(a.errOut, "%s check <tracker>.username, <tracker>.password or <tracker>.api_token\n", ui.RenderMuted("Hint:"))
	}
	return err
}

// progress prints importer callbacks unless output is JSON.
type progress struct {
	w     io.Writer
	quiet bool
}

func (p *progress) message(msg string) {
	if !p.quiet {
		fmt.Fprintln(p.w, msg)
	}
}

func (p *progress) warning(msg string) {
	if !p.quiet {
		fmt.Fprintf(p.w, "%s %s\n", ui.RenderWarn(ui.IconWarn), msg)
	}
}

// writeSession renders one session as a key/value block.
func writeSession(w io.Writer, s *types.ImportSession) {
	fmt.Fprintf(w, "%s\n", ui.RenderCategory(fmt.Sprintf("session %d", s.ID)))
	fmt.Fprintln(w, ui.RenderField("status", ui.RenderStatus(s.Status)))
	fmt.Fprintln(w, ui.RenderField("project", fmt.Sprint(s.ProjectID)))
	fmt.Fprintln(w, ui.RenderField("tracker", s.Tracker))
	if s.Endpoint != "" {
		fmt.Fprintln(w, ui.RenderField("endpoint", s.Endpoint))
	}
	fmt.Fprintln(w, ui.RenderField("pages", humanize.Comma(int64(s.PagesFetched))))
	fmt.Fprintln(w, ui.RenderField("imported", humanize.Comma(int64(s.IssuesImported))))
	if s.Cursor != "" {
		fmt.Fprintln(w, ui.RenderField("cursor", ui.RenderMuted(s.Cursor)))
	}
	if s.StartedAt != nil {
		fmt.Fprintln(w, ui.RenderField("started", humanize.Time(*s.StartedAt)))
	}
	if s.FinishedAt != nil {
		fmt.Fprintln(w, ui.RenderField("finished", humanize.Time(*s.FinishedAt)))
		fmt.Fprintln(w, ui.RenderField("took", s.Duration().Round(10*time.Millisecond).String()))
	}
	if s.Error != "" {
		fmt.Fprintln(w, ui.RenderField("error", ui.RenderFail(firstLine(s.Error))))
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
