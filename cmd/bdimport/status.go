package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/steveyegge/bdimport/internal/types"
	"github.com/steveyegge/bdimport/internal/ui"
)

func (a *app) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <project-id>",
		Short: "Show the latest import session of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || projectID <= 0 {
				return a.fail(fmt.Errorf("invalid project id %q", args[0]))
			}
			svc, err := a.newService(nil)
			if err != nil {
				return a.fail(err)
			}
			st, err := svc.ImportStatus(cmd.Context(), projectID)
			if err != nil {
				return a.fail(err)
			}

			if a.jsonOutput {
				return outputJSON(a.out, st)
			}
			if st.Session == nil {
				fmt.Fprintf(a.out, "Project %d has never been imported.\n", projectID)
				return nil
			}
			writeSession(a.out, st.Session)
			if st.Session.Status == types.SessionFailed {
				fmt.Fprintf(a.out, "\n%s bdimport resume --project-id %d\n", ui.RenderMuted("Continue with:"), projectID)
			}
			return nil
		},
	}
}
