package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"plugin-jobs/internal/config"
	"plugin-jobs/internal/logger"
	"plugin-jobs/internal/runstore"
	"plugin-jobs/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the command dispatch HTTP API",
		Long: `Serve the command dispatch HTTP API until interrupted.

The data directory is locked for the lifetime of the server. Finished jobs are
forgotten after cleanup.max_age; their journal rows and transcripts remain.`,
		Args: cobra.NoArgs,
		RunE: a.runServe,
	}
	cmd.Flags().String("addr", "", "listen address (default :8080)")
	_ = a.v.BindPFlag(config.KeyServerAddr, cmd.Flags().Lookup("addr"))
	return cmd
}

func (a *app) runServe(cmd *cobra.Command, _ []string) error {
	lock, err := runstore.AcquireDataDir(a.settings.DataDir, a.settings.ServerAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			a.log.Warn("release data directory lock", logger.Error(err))
		}
	}()

	st, err := buildStack(a.settings, a.log)
	if err != nil {
		return err
	}
	defer st.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go a.cleanupLoop(ctx, st)

	srv := server.New(server.Config{Address: a.settings.ServerAddr}, st.manager, st.jobs, st.metrics.Handler(), a.log)
	a.log.Info("serving plugins",
		logger.Int("plugins", len(st.plugins)),
		logger.String("data_dir", a.settings.DataDir),
		logger.Strings("allowed_programs", st.exec.AllowList()),
	)
	runErr := srv.Run(ctx)

	a.log.Info("waiting for running jobs to finish")
	st.manager.Wait()
	return runErr
}

func (a *app) cleanupLoop(ctx context.Context, st *stack) {
	interval := a.settings.CleanupInterval
	if interval <= 0 || a.settings.CleanupMaxAge <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := st.manager.Cleanup(a.settings.CleanupMaxAge); removed > 0 {
				a.log.Info("cleaned up finished jobs", logger.Int("removed", removed))
			}
		}
	}
}
