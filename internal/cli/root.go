package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"plugin-jobs/internal/config"
	"plugin-jobs/internal/logger"
)

// app carries the state shared by every subcommand of one invocation.
type app struct {
	v        *viper.Viper
	cfgFile  string
	settings config.Settings
	log      logger.Logger
	out      io.Writer
}

// Run executes the command line and returns the first error.
func Run(args []string) error {
	return execute(context.Background(), args, os.Stdout)
}

func execute(ctx context.Context, args []string, out io.Writer) error {
	root := newRootCmd(out)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{v: config.NewViper(), out: out, log: logger.NewNop()}

	root := &cobra.Command{
		Use:   "plugin-jobs",
		Short: "Run chat command plugins as tracked background jobs",
		Long: `plugin-jobs admits chat command invocations, runs the configured plugin
programs in a sandbox and tracks each run as a job. Transcription plugins fan a
playlist out into one aggregate job with per-video progress.

Quick start:
  plugin-jobs plugins validate --plugins plugins.yaml
  plugin-jobs serve --plugins plugins.yaml
  plugin-jobs watch --user <id>`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "settings file (YAML)")
	pf.String("data-dir", "", "data directory (default data)")
	pf.String("plugins", "", "plugin definitions file (default plugins.yaml)")
	pf.String("log-level", "", "log level: debug|info|warn|error (default info)")
	pf.StringSlice("allowed-programs", nil, "programs plugins may run (default yt-dlp,ffmpeg,ffprobe)")
	_ = a.v.BindPFlag(config.KeyDataDir, pf.Lookup("data-dir"))
	_ = a.v.BindPFlag(config.KeyPluginsFile, pf.Lookup("plugins"))
	_ = a.v.BindPFlag(config.KeyLogLevel, pf.Lookup("log-level"))
	_ = a.v.BindPFlag(config.KeyAllowedPrograms, pf.Lookup("allowed-programs"))

	root.AddCommand(
		newServeCmd(a),
		newRunCmd(a),
		newResolveCmd(a),
		newEnumerateCmd(a),
		newPluginsCmd(a),
		newJobsCmd(a),
		newHistoryCmd(a),
		newWatchCmd(a),
		newDoctorCmd(a),
	)
	return root
}

// load reads .env files and settings, then builds the logger.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	if err := config.LoadEnvFiles(); err != nil {
		return err
	}
	settings, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Config{Level: settings.LogLevel})
	if err != nil {
		return err
	}
	a.settings = settings
	a.log = log
	return nil
}
