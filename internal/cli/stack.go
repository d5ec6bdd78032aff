package cli

import (
	"fmt"
	"path/filepath"

	"plugin-jobs/internal/config"
	"plugin-jobs/internal/journal"
	"plugin-jobs/internal/logger"
	"plugin-jobs/internal/metrics"
	"plugin-jobs/internal/plugin"
	"plugin-jobs/internal/registry"
	"plugin-jobs/internal/resolver"
	"plugin-jobs/internal/runstore"
	"plugin-jobs/internal/sandbox"
	"plugin-jobs/internal/transcribe"
	"plugin-jobs/internal/ytdlp"
)

// stack is every runtime component of one process, wired from settings.
type stack struct {
	settings config.Settings
	plugins  []config.Plugin
	metrics  *metrics.Metrics
	journal  *journal.Journal
	jobs     *registry.Registry
	exec     *sandbox.Executor
	orch     *transcribe.Orchestrator
	manager  *plugin.Manager
	store    *runstore.TranscriptStore
	log      logger.Logger
}

func toolOptions(s config.Settings) ytdlp.Options {
	return ytdlp.Options{
		CookiesPath: s.CookiesPath,
		ProxyURL:    s.Proxy,
		JSRuntime:   s.JSRuntime,
	}
}

func newExecutor(s config.Settings, m *metrics.Metrics, log logger.Logger) *sandbox.Executor {
	opts := []sandbox.Option{sandbox.WithLogger(log)}
	if m != nil {
		opts = append(opts, sandbox.WithObserver(m))
	}
	return sandbox.New(s.AllowedPrograms, opts...)
}

func newEnumerator(s config.Settings, r resolver.Runner, log logger.Logger) *resolver.Enumerator {
	return resolver.NewEnumerator(r,
		resolver.WithToolOptions(toolOptions(s)),
		resolver.WithTimeout(s.EnumerateTimeout),
		resolver.WithLogger(log),
	)
}

func buildStack(s config.Settings, log logger.Logger) (*stack, error) {
	plugins, err := config.LoadPlugins(s.PluginsFile)
	if err != nil {
		return nil, err
	}

	st := &stack{
		settings: s,
		plugins:  plugins,
		metrics:  metrics.New(),
		store:    runstore.NewTranscriptStore(s.DataDir),
		log:      log,
	}

	regOpts := []registry.Option{registry.WithLogger(log), registry.WithObserver(st.metrics)}
	if s.JournalEnabled {
		j, err := journal.Open(s.DataDir, log)
		if err != nil {
			return nil, err
		}
		st.journal = j
		regOpts = append(regOpts, registry.WithObserver(j))
	}
	st.jobs = registry.New(regOpts...)
	st.exec = newExecutor(s, st.metrics, log)

	st.orch = transcribe.New(st.jobs, newEnumerator(s, st.exec, log),
		transcribe.WithStore(st.store),
		transcribe.WithItemObserver(st.metrics),
		transcribe.WithMinInterval(s.ProgressMinInterval),
		transcribe.WithLogger(log),
	)

	st.manager, err = plugin.NewManager(plugins, st.jobs, st.exec, st.orch,
		plugin.WithEvents(plugin.NewEvents(0)),
		plugin.WithRejectionObserver(st.metrics),
		plugin.WithWindowObserver(st.metrics),
		plugin.WithToolOptions(toolOptions(s)),
		plugin.WithWorkRoot(filepath.Join(s.DataDir, "work")),
		plugin.WithLogger(log),
	)
	if err != nil {
		st.close()
		return nil, fmt.Errorf("plugins file %s: %w", s.PluginsFile, err)
	}
	return st, nil
}

func (st *stack) close() {
	if st.journal == nil {
		return
	}
	if err := st.journal.Close(); err != nil {
		st.log.Warn("close journal", logger.Error(err))
	}
}
