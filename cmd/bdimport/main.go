// Command bdimport imports issues from remote trackers (Jira, FogBugz,
// Phabricator, ZenTao, GitHub, GitLab) into a local issue store.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/bdimport/internal/config"
	"github.com/steveyegge/bdimport/internal/fogbugz"
	"github.com/steveyegge/bdimport/internal/github"
	"github.com/steveyegge/bdimport/internal/gitlab"
	"github.com/steveyegge/bdimport/internal/importer"
	"github.com/steveyegge/bdimport/internal/jira"
	"github.com/steveyegge/bdimport/internal/phabricator"
	"github.com/steveyegge/bdimport/internal/storage"
	"github.com/steveyegge/bdimport/internal/storage/sqlstore"
	"github.com/steveyegge/bdimport/internal/telemetry"
	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/usermap"
	"github.com/steveyegge/bdimport/internal/zentao"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// app holds the state shared by every command of one invocation.
type app struct {
	configPath string
	dbDriver   string
	dbPath     string
	jsonOutput bool
	verbose    bool

	out    io.Writer
	errOut io.Writer
	logger *slog.Logger
	store  storage.Store
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// execute runs one invocation and releases the store and telemetry
// afterwards, whether or not the command failed.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{out: stdout, errOut: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	a.teardown(ctx)
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bdimport",
		Short: "Import issues from remote trackers into a local store",
		Long: `bdimport pages through a remote issue tracker, maps remote users onto
local users and creates local issues. Imports are resumable: the cursor is
saved after every page.

Configuration is read from bdimport.yaml (working directory,
$XDG_CONFIG_HOME/bdimport or ~/.config/bdimport), BDIMPORT_* environment
variables and a .env file. Tracker credentials use <tracker>.url,
<tracker>.username, <tracker>.password, <tracker>.api_token and
<tracker>.project, or JIRA_API_TOKEN style variables.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Config file (default: search for bdimport.yaml)")
	pf.StringVar(&a.dbDriver, "db-driver", "", "Storage backend: sqlite or mysql")
	pf.StringVar(&a.dbPath, "db", "", "SQLite database file")
	pf.BoolVar(&a.jsonOutput, "json", false, "Output in JSON format")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		a.newRunCmd(),
		a.newResumeCmd(),
		a.newStatusCmd(),
		a.newBatchCmd(),
		a.newTrackersCmd(),
		a.newUsersCmd(),
		a.newIssuesCmd(),
		newVersionCmd(),
	)
	return root
}

// setup loads config, applies global flags and opens the store.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	a.out, a.errOut = cmd.OutOrStdout(), cmd.ErrOrStderr()
	if !needsStore(cmd) {
		return a.setupLogging()
	}
	if err := config.Initialize(a.configPath); err != nil {
		return a.fail(err)
	}
	if a.dbDriver != "" {
		config.Set("db.driver", a.dbDriver)
	}
	if a.dbPath != "" {
		config.Set("db.path", a.dbPath)
	}
	if cmd.Flags().Changed("json") {
		config.Set("json", a.jsonOutput)
	}
	a.jsonOutput = config.GetBool("json")
	a.verbose = a.verbose || config.GetBool("verbose")
	if err := a.setupLogging(); err != nil {
		return err
	}

	if err := telemetry.Init(cmd.Context(), config.Telemetry("bdimport", Version)); err != nil {
		a.logger.Warn("telemetry disabled", "error", err)
	}

	st, err := sqlstore.Open(cmd.Context(), config.Store())
	if err != nil {
		return a.fail(fmt.Errorf("opening store: %w", err))
	}
	a.store = telemetry.WrapStore(st)
	a.logger.Debug("store opened", "driver", st.Driver(), "config", config.ConfigFileUsed())
	return nil
}

// needsStore reports whether cmd reads or writes the local store.
func needsStore(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "version", "trackers", "help", "completion":
			return false
		}
	}
	return true
}

func (a *app) setupLogging() error {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: level}))
	return nil
}

func (a *app) teardown(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil && a.logger != nil {
			a.logger.Warn("closing store", "error", err)
		}
		a.store = nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := telemetry.Shutdown(shutdownCtx); err != nil && a.logger != nil {
		a.logger.Warn("flushing telemetry", "error", err)
	}
}

// registry returns every tracker bdimport can import from.
func registry() *tracker.Registry {
	r := tracker.NewRegistry()
	jira.Register(r)
	fogbugz.Register(r)
	phabricator.Register(r)
	zentao.Register(r)
	github.Register(r)
	gitlab.Register(r)
	return r
}

// newService builds the import service from configuration.
func (a *app) newService(out *progress) (*importer.Service, error) {
	settings := config.ImportSettings()
	opts := []importer.Option{
		importer.WithLogger(a.logger),
		importer.WithMaxRetries(settings.MaxRetries),
		importer.WithRetryInterval(settings.RetryInterval),
		importer.WithConcurrency(settings.Concurrency),
		importer.WithFallbackAuthor(settings.FallbackAuthor),
		importer.WithTransportOptions(config.TransportOptions()),
	}
	if settings.OverridesFile != "" {
		overrides, err := usermap.LoadOverrides(settings.OverridesFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, importer.WithOverrides(overrides))
	}
	if out != nil {
		opts = append(opts, importer.WithCallbacks(out.message, out.warning))
	}
	return importer.New(a.store, registry(), opts...), nil
}

// userMapper returns a mapper over the store with configured overrides. An
// unreadable overrides file is logged and ignored.
func (a *app) userMapper() *usermap.Mapper {
	var opts []usermap.Option
	if path := config.ImportSettings().OverridesFile; path != "" {
		overrides, err := usermap.LoadOverrides(path)
		if err != nil {
			a.logger.Warn("ignoring user overrides", "error", err)
		} else {
			opts = append(opts, usermap.WithOverrides(overrides))
		}
	}
	return usermap.New(a.store, opts...)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the bdimport version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bdimport %s\n", Version)
		},
	}
}
