// Package cmd implements the hubcache command line. Each command opens the
// local data service, builds a session for the configured user and hub, runs
// one store operation and prints the reconciled cache.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"hubcache/backend"
	"hubcache/backend/sqlite"
	"hubcache/internal/config"
	"hubcache/internal/session"
	"hubcache/internal/utils"
)

// Version is set at build time
var Version = "dev"

// Result codes for CLI output (used in no-prompt mode)
const (
	ResultActionCompleted = "ACTION_COMPLETED"
	ResultInfoOnly        = "INFO_ONLY"
	ResultError           = "ERROR"
)

// Config holds invocation settings that do not come from the config file.
type Config struct {
	NoPrompt bool
	Verbose  bool
	In       io.Reader        // prompt input; defaults to stdin
	Now      func() time.Time // defaults to time.Now
	// Options passed to every session, for tests.
	SessionOptions []session.Option
}

// Execute runs the CLI with the given arguments and IO writers
func Execute(args []string, stdout, stderr io.Writer, cfg *Config) int {
	rootCmd := NewHubCache(stdout, stderr, cfg)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		if containsJSONFlag(args) {
			outputErrorJSON(err, stdout)
		} else {
			_, _ = fmt.Fprintln(stderr, "Error:", err)
			if cfg != nil && cfg.NoPrompt {
				_, _ = fmt.Fprintln(stdout, ResultError)
			}
		}
		return 1
	}
	return 0
}

// containsJSONFlag checks if args contain --json flag
func containsJSONFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--json" {
			return true
		}
	}
	return false
}

// NewHubCache creates the root command with injectable IO
func NewHubCache(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	cmd := &cobra.Command{
		Use:     "hubcache",
		Short:   "A household hub from the command line",
		Long:    "hubcache keeps a local cache of a household hub's events, tasks, shopping lists and notifications in step with the data service.",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("db", "", "Path to the database file (overrides database.path)")
	cmd.PersistentFlags().String("config", "", "Path to the config file")
	cmd.PersistentFlags().String("user", "", "Signed-in user id (overrides session.user_id)")
	cmd.PersistentFlags().String("hub", "", "Active hub id (overrides session.hub_id)")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().BoolP("verbose", "V", false, "Enable verbose/debug output")
	cmd.PersistentFlags().BoolP("no-prompt", "y", false, "Disable interactive prompts")

	cmd.AddCommand(newMemberCmd(stdout, stderr, cfg))
	cmd.AddCommand(newEventCmd(stdout, stderr, cfg))
	cmd.AddCommand(newCalendarCmd(stdout, stderr, cfg))
	cmd.AddCommand(newTaskCmd(stdout, stderr, cfg))
	cmd.AddCommand(newShopCmd(stdout, stderr, cfg))
	cmd.AddCommand(newNotifyCmd(stdout, stderr, cfg))
	cmd.AddCommand(newReminderCmd(stdout, stderr, cfg))
	cmd.AddCommand(newWatchCmd(stdout, stderr, cfg))
	cmd.AddCommand(newVersionCmd(stdout))

	return cmd
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _ = fmt.Fprintf(stdout, "hubcache Version: %s\n", Version)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// app is what every command works with once flags and config are resolved.
type app struct {
	conf    *config.Config
	cfg     *Config
	client  *sqlite.Backend
	sess    *session.Session
	log     *utils.Logger
	stdout  io.Writer
	stdin   io.Reader
	json    bool
	noInput bool
}

// openApp loads the configuration, applies flag overrides and opens the data
// service. wrap, when set, decorates the client the stores talk to. The
// caller must close the returned app.
func openApp(cmd *cobra.Command, stdout, stderr io.Writer, cfg *Config, wrap func(backend.Client) backend.Client) (*app, error) {
	flags := cmd.Flags()
	configPath, _ := flags.GetString("config")
	dbPath, _ := flags.GetString("db")
	userID, _ := flags.GetString("user")
	hubID, _ := flags.GetString("hub")
	jsonOutput, _ := flags.GetBool("json")
	verbose, _ := flags.GetBool("verbose")
	noPrompt, _ := flags.GetBool("no-prompt")

	conf, err := config.Load(config.ExpandPath(configPath))
	if err != nil {
		return nil, err
	}
	format := ""
	if jsonOutput {
		format = "json"
	}
	conf.ApplyFlags(dbPath, userID, hubID, format, verbose || cfg.Verbose)
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	log := utils.NewLogger(stderr, conf.Logging.Verbose)

	dbPath = conf.GetDatabasePath()
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	client, err := sqlite.New(dbPath)
	if err != nil {
		return nil, utils.ErrBackendUnavailable(err.Error())
	}

	var storeClient backend.Client = client
	if wrap != nil {
		storeClient = wrap(client)
	}
	opts := append([]session.Option{session.WithLogger(log)}, cfg.SessionOptions...)
	sess, err := session.New(conf, storeClient, opts...)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	log.Debug("opened %s as %s in hub %q", dbPath, conf.Session.UserID, conf.Session.HubID)

	in := cfg.In
	if in == nil {
		in = os.Stdin
	}
	return &app{
		conf:    conf,
		cfg:     cfg,
		client:  client,
		sess:    sess,
		log:     log,
		stdout:  stdout,
		stdin:   in,
		json:    conf.OutputFormat == "json",
		noInput: noPrompt || cfg.NoPrompt,
	}, nil
}

func (a *app) Close() error {
	return errors.Join(a.sess.SignOut(), a.client.Close())
}

func (a *app) hub() (string, error) {
	if a.sess.HubID == "" {
		return "", utils.WrapWithSuggestion(errors.New("no hub selected"), "Pass --hub or set session.hub_id in the config file")
	}
	return a.sess.HubID, nil
}

func (a *app) now() time.Time {
	return a.cfg.Now()
}

// run opens the app, runs fn and closes the app.
func run(cmd *cobra.Command, stdout, stderr io.Writer, cfg *Config, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(cmd, stdout, stderr, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(cmd.Context(), a)
}

// call invokes a procedure directly on the data service.
func (a *app) call(ctx context.Context, proc string, params backend.Params) (json.RawMessage, error) {
	return a.client.Call(ctx, proc, params)
}
