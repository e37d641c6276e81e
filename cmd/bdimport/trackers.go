package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/steveyegge/bdimport/internal/config"
	"github.com/steveyegge/bdimport/internal/storage"
	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/types"
	"github.com/steveyegge/bdimport/internal/ui"
)

type trackerInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

func (a *app) newTrackersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trackers",
		Short: "List the supported remote trackers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := registry()
			var infos []trackerInfo
			for _, name := range r.List() {
				tr, err := r.New(name, tracker.Options{})
				if err != nil {
					return a.fail(err)
				}
				infos = append(infos, trackerInfo{Name: name, DisplayName: tr.DisplayName()})
			}
			if a.jsonOutput {
				return outputJSON(a.out, infos)
			}
			for _, info := range infos {
				fmt.Fprintf(a.out, "%-12s %s\n", info.Name, ui.RenderMuted(info.DisplayName))
			}
			return nil
		},
	}
}

func (a *app) newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage local users and preview user mapping",
	}

	var user types.User
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a local user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u := user
			if strings.TrimSpace(u.Username) == "" {
				return a.fail(fmt.Errorf("--username is required"))
			}
			if err := a.store.CreateUser(cmd.Context(), &u); err != nil {
				return a.fail(err)
			}
			if a.jsonOutput {
				return outputJSON(a.out, u)
			}
			fmt.Fprintf(a.out, "%s Created user %d (%s)\n", ui.RenderPass(ui.IconPass), u.ID, u.Username)
			return nil
		},
	}
	add.Flags().StringVar(&user.Username, "username", "", "Username (required)")
	add.Flags().StringVar(&user.Name, "name", "", "Display name")
	add.Flags().StringVar(&user.Email, "email", "", "Email address")

	list := &cobra.Command{
		Use:   "list",
		Short: "List local users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			users, err := a.store.ListUsers(cmd.Context())
			if err != nil {
				return a.fail(err)
			}
			if a.jsonOutput {
				return outputJSON(a.out, users)
			}
			for _, u := range users {
				fmt.Fprintf(a.out, "%5d  %-20s %s\n", u.ID, u.Username, ui.RenderMuted(strings.TrimSpace(u.Name+" "+u.Email)))
			}
			return nil
		},
	}

	var creds tracker.Credentials
	mapCmd := &cobra.Command{
		Use:   "map <tracker>",
		Short: "Show how the tracker's users map onto local users",
		Long: `Authenticate with a tracker, list its users and show which local user
each one maps to. Nothing is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := strings.ToLower(args[0])
			tr, err := registry().New(name, config.TransportOptions())
			if err != nil {
				return a.fail(err)
			}
			if err := tr.Authenticate(ctx, config.Tracker(name).LoadCredentials(creds)); err != nil {
				return a.fail(err)
			}
			remote, err := tr.ListUsers(ctx)
			if err != nil {
				return a.fail(err)
			}
			mappings, err := a.userMapper().Map(ctx, remote)
			if err != nil {
				return a.fail(err)
			}
			if a.jsonOutput {
				return outputJSON(a.out, mappings)
			}
			for _, m := range mappings {
				local := ui.RenderWarn("unmapped")
				if m.Resolved() {
					local = fmt.Sprintf("user %d %s", *m.LocalUserID, ui.RenderMuted("("+string(m.MatchedBy)+")"))
				}
				fmt.Fprintf(a.out, "%-32s %s\n", m.Remote.Label(), local)
			}
			return nil
		},
	}
	mapCmd.Flags().StringVar(&creds.URL, "url", "", "Tracker base URL")
	mapCmd.Flags().StringVar(&creds.Username, "username", "", "Login name or email")
	mapCmd.Flags().StringVar(&creds.Password, "password", "", "Password")
	mapCmd.Flags().StringVar(&creds.Token, "token", "", "API token")
	mapCmd.Flags().StringVar(&creds.Project, "remote-project", "", "Remote project (needed by GitHub, GitLab)")

	cmd.AddCommand(add, list, mapCmd)
	return cmd
}

func (a *app) newIssuesCmd() *cobra.Command {
	var (
		projectID int64
		state     string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "issues",
		Short: "List imported issues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := storage.IssueFilter{ProjectID: projectID, State: types.IssueState(state), Limit: limit}
			if state != "" && !filter.State.IsValid() {
				return a.fail(fmt.Errorf("invalid --state %q (want open or closed)", state))
			}
			issues, err := a.store.ListIssues(cmd.Context(), filter)
			if err != nil {
				return a.fail(err)
			}
			if a.jsonOutput {
				return outputJSON(a.out, issues)
			}
			for _, is := range issues {
				mark := ui.RenderPass("open  ")
				if is.State == types.StateClosed {
					mark = ui.RenderMuted("closed")
				}
				fmt.Fprintf(a.out, "%5d %s %-14s %s\n", is.ID, mark, is.Identifier, ui.TruncateSimple(is.Title, 72))
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&projectID, "project-id", 0, "Only issues of this project")
	cmd.Flags().StringVar(&state, "state", "", "Only open or closed issues")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum issues to list (0 = all)")
	cmd.AddCommand(a.newIssueShowCmd())
	return cmd
}

func (a *app) newIssueShowCmd() *cobra.Command {
	var full, noPager bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one imported issue with its notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return a.fail(fmt.Errorf("invalid issue id %q", args[0]))
			}
			issue, err := a.store.GetIssue(cmd.Context(), id)
			if err != nil {
				return a.fail(err)
			}
			if a.jsonOutput {
				return outputJSON(a.out, issue)
			}
			return ui.ToPager(a.out, formatIssue(issue, full), ui.PagerOptions{NoPager: noPager})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Show the whole description")
	cmd.Flags().BoolVar(&noPager, "no-pager", false, "Do not page the output")
	return cmd
}

// formatIssue renders an issue for the terminal. Descriptions and notes are
// treated as markdown.
func formatIssue(is *types.Issue, full bool) string {
	var b strings.Builder
	title := is.Title
	if is.Identifier != "" {
		title = is.Identifier + " " + title
	}
	fmt.Fprintf(&b, "%s\n", ui.RenderCategory(fmt.Sprintf("issue %d", is.ID)))
	fmt.Fprintln(&b, title)
	fmt.Fprintln(&b, ui.RenderSeparator())
	fmt.Fprintln(&b, ui.RenderField("state", string(is.State)))
	fmt.Fprintln(&b, ui.RenderField("project", strconv.FormatInt(is.ProjectID, 10)))
	if is.AuthorID != nil {
		fmt.Fprintln(&b, ui.RenderField("author", "user "+strconv.FormatInt(*is.AuthorID, 10)))
	}
	if is.AssigneeID != nil {
		fmt.Fprintln(&b, ui.RenderField("assignee", "user "+strconv.FormatInt(*is.AssigneeID, 10)))
	}
	if len(is.Labels) > 0 {
		fmt.Fprintln(&b, ui.RenderField("labels", strings.Join(is.Labels, ", ")))
	}
	fmt.Fprintln(&b, ui.RenderField("created", humanize.Time(is.CreatedAt)))
	if is.ClosedAt != nil {
		fmt.Fprintln(&b, ui.RenderField("closed", humanize.Time(*is.ClosedAt)))
	}
	if is.ExternalURL != "" {
		fmt.Fprintln(&b, ui.RenderField("remote", ui.RenderAccent(is.ExternalURL)))
	}

	if desc := strings.TrimSpace(is.Description); desc != "" {
		if !full {
			desc = ui.TruncateLines(desc, ui.DefaultMaxLines, ui.DefaultContextLines)
		}
		fmt.Fprintf(&b, "\n%s\n", ui.RenderMarkdown(desc))
	}
	for _, n := range is.Notes {
		who := "unknown"
		if n.AuthorID != nil {
			who = "user " + strconv.FormatInt(*n.AuthorID, 10)
		}
		fmt.Fprintf(&b, "\n%s\n%s\n", ui.RenderMuted(who+", "+humanize.Time(n.CreatedAt)), ui.RenderMarkdown(n.Body))
	}
	return b.String()
}
