package ui

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/term"
)

// PagerOptions controls ToPager.
type PagerOptions struct {
	NoPager bool // --no-pager
}

// shouldUsePager is false for --no-pager, BDIMPORT_NO_PAGER, or when w is
// not the terminal's stdout.
func shouldUsePager(w io.Writer, opts PagerOptions) bool {
	if opts.NoPager || os.Getenv("BDIMPORT_NO_PAGER") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && f == os.Stdout && term.IsTerminal(int(f.Fd()))
}

// pagerCommand checks BDIMPORT_PAGER, then PAGER, and defaults to less.
func pagerCommand() string {
	if pager := os.Getenv("BDIMPORT_PAGER"); pager != "" {
		return pager
	}
	if pager := os.Getenv("PAGER"); pager != "" {
		return pager
	}
	return "less"
}

func terminalHeight() int {
	_, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return height
}

// ToPager writes content to w, through a pager when w is an interactive
// terminal and content does not fit on one screen.
func ToPager(w io.Writer, content string, opts PagerOptions) error {
	if !shouldUsePager(w, opts) {
		_, err := fmt.Fprint(w, content)
		return err
	}
	if h := terminalHeight(); h > 0 && strings.Count(content, "\n")+1 < h {
		_, err := fmt.Fprint(w, content)
		return err
	}

	parts := strings.Fields(pagerCommand())
	if len(parts) == 0 {
		_, err := fmt.Fprint(w, content)
		return err
	}
	cmd := exec.Command(parts[0], parts[1:]...) // #nosec G204 - pager is user-configured
	cmd.Stdin = strings.NewReader(content)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	// -R keeps colors, -F quits when the content fits, -X keeps the screen.
	if os.Getenv("LESS") == "" {
		cmd.Env = append(cmd.Env, "LESS=-RFX")
	}
	return cmd.Run()
}
