// Package plugin is the dispatch layer: it maps a command invocation to a
// plugin, admits or refuses it, and starts the matching kind of job.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"plugin-jobs/internal/config"
	"plugin-jobs/internal/logger"
	"plugin-jobs/internal/model"
	"plugin-jobs/internal/registry"
	"plugin-jobs/internal/resolver"
	"plugin-jobs/internal/sandbox"
	"plugin-jobs/internal/transcribe"
	"plugin-jobs/internal/ytdlp"
)

// Executor is the sandbox surface the manager needs.
type Executor interface {
	Run(ctx context.Context, c sandbox.Command) (sandbox.Output, error)
	Allowed(program string) bool
}

// RejectionObserver is told about every refused invocation.
type RejectionObserver interface {
	ObserveRejection(plugin, reason string)
}

// Outcome is what the caller is told about an invocation. A refusal that
// the caller can simply retry later (cooldown) is an Outcome, not an error.
type Outcome struct {
	Accepted   bool          `json:"accepted"`
	JobID      string        `json:"job_id,omitempty"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"-"`
}

type Manager struct {
	plugins  []config.Plugin
	commands map[string]Command

	jobs        *registry.Registry
	exec        Executor
	orch        *transcribe.Orchestrator
	events      *Events
	rejections  RejectionObserver
	windows     transcribe.WindowObserver
	toolOptions ytdlp.Options
	workRoot    string
	log         logger.Logger

	wg sync.WaitGroup
}

type Option func(*Manager)

func WithEvents(e *Events) Option {
	return func(m *Manager) { m.events = e }
}

func WithRejectionObserver(o RejectionObserver) Option {
	return func(m *Manager) { m.rejections = o }
}

func WithWindowObserver(o transcribe.WindowObserver) Option {
	return func(m *Manager) { m.windows = o }
}

func WithToolOptions(opts ytdlp.Options) Option {
	return func(m *Manager) { m.toolOptions = opts }
}

// WithWorkRoot sets where audio work directories are created.
func WithWorkRoot(dir string) Option {
	return func(m *Manager) { m.workRoot = dir }
}

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager builds the dispatch table. Every program an enabled plugin can
// spawn must be on the executor's allow-list.
func NewManager(plugins []config.Plugin, jobs *registry.Registry, exec Executor, orch *transcribe.Orchestrator, opts ...Option) (*Manager, error) {
	m := &Manager{
		plugins:  slices.Clone(plugins),
		commands: make(map[string]Command, len(plugins)),
		jobs:     jobs,
		exec:     exec,
		orch:     orch,
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.events == nil {
		m.events = NewEvents(0)
	}

	var errs []error
	for _, p := range m.plugins {
		m.commands[p.Command.Name] = m.commandFor(p)
		if !p.IsEnabled() {
			continue
		}
		for _, prog := range programsFor(p) {
			if !exec.Allowed(prog) {
				errs = append(errs, fmt.Errorf("plugin %s: %w", p.Name, &sandbox.DisallowedProgramError{Program: prog}))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) Plugins() []config.Plugin {
	return slices.Clone(m.plugins)
}

func (m *Manager) Events() *Events {
	return m.events
}

// Wait blocks until every started job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
	if m.orch != nil {
		m.orch.Wait()
	}
}

// Dispatch admits an invocation and runs its command.
func (m *Manager) Dispatch(ctx context.Context, inv Invocation) (Outcome, error) {
	cmd, ok := m.commands[inv.Command]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownCommand, inv.Command)
	}
	p := cmd.plugin()
	log := m.log.With(logger.String("plugin", p.Name), logger.String("owner_id", inv.UserID))

	if rej := checkAccess(p, inv); rej != nil {
		return Outcome{}, m.reject(log, rej)
	}
	params, rej := validateParams(p, inv.Params)
	if rej != nil {
		return Outcome{}, m.reject(log, rej)
	}
	release, remaining, ok := m.jobs.ReserveCooldown(inv.UserID, p.Name, p.Security.CooldownSeconds)
	if !ok {
		m.observeRejection(p.Name, ReasonCooldown)
		return cooldownOutcome(remaining), nil
	}

	switch c := cmd.(type) {
	case ExternalProgram:
		return m.startExternal(ctx, log, c, inv, params, release)
	case ChunkedTranscription:
		return m.startTranscription(ctx, log, c, inv, params, release)
	case ListJobs:
		return Outcome{Accepted: true, Message: m.StatusText(inv.UserID)}, nil
	case CancelJob:
		return m.CancelJob(inv.UserID, params["job_id"])
	default:
		release()
		return Outcome{}, fmt.Errorf("unhandled command kind %T", cmd)
	}
}

func (m *Manager) reject(log logger.Logger, rej *RejectionError) error {
	log.Info("invocation rejected", logger.String("reason", rej.Reason), logger.String("message", rej.Message))
	m.observeRejection(rej.Plugin, rej.Reason)
	return rej
}

func (m *Manager) observeRejection(plugin, reason string) {
	if m.rejections != nil {
		m.rejections.ObserveRejection(plugin, reason)
	}
}

func spec(p config.Plugin, inv Invocation, params map[string]string) registry.Spec {
	return registry.Spec{OwnerID: inv.UserID, GuildID: inv.GuildID, PluginName: p.Name, Params: params}
}

// startExternal and startTranscription call release when the invocation is
// refused after its cooldown was reserved.
func (m *Manager) startExternal(ctx context.Context, log logger.Logger, c ExternalProgram, inv Invocation, params map[string]string, release func()) (Outcome, error) {
	p := c.Plugin
	args, err := sandbox.ExpandArgs(p.Execution.Args, params)
	if err != nil {
		release()
		return Outcome{}, m.reject(log, &RejectionError{p.Name, ReasonInvalidParams, err.Error()})
	}

	id := m.jobs.Create(spec(p, inv, params))
	log = log.With(logger.String("job_id", id))
	log.Info("external job accepted")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runExternal(context.WithoutCancel(ctx), log, id, p, args)
	}()
	return Outcome{
		Accepted: true,
		JobID:    id,
		Message:  fmt.Sprintf("Started /%s as job `%s`", p.Command.Name, model.ShortID(id)),
	}, nil
}

func (m *Manager) runExternal(ctx context.Context, log logger.Logger, id string, p config.Plugin, args []string) {
	if err := m.jobs.Start(id); err != nil {
		log.Info("job not started", logger.Error(err))
		return
	}
	out, err := m.exec.Run(ctx, sandbox.Command{
		Program:        p.Execution.Command,
		Args:           args,
		Timeout:        p.Execution.Timeout(),
		Dir:            p.Execution.WorkingDirectory,
		Env:            p.Execution.Env,
		MaxOutputBytes: p.Execution.MaxOutputBytes,
	})
	if m.jobs.IsCancelled(id) {
		log.Info("job cancelled while running, output discarded")
		return
	}

	ev := Event{Type: EventResult, JobID: id}
	if err != nil {
		msg := failureMessage(p, err)
		if ferr := m.jobs.Fail(id, msg); ferr != nil {
			log.Warn("mark job failed", logger.Error(ferr))
		}
		ev.Status, ev.Message = model.StatusFailed, msg
	} else {
		if cerr := m.jobs.Complete(id, out.Stdout); cerr != nil {
			log.Warn("mark job completed", logger.Error(cerr))
		}
		ev.Status, ev.Message = model.StatusCompleted, truncate(out.Stdout, p.Output.ResultPreviewChars)
	}
	m.events.Add(ev)
	log.Info("external job finished", logger.String("status", ev.Status), logger.Duration("elapsed", out.Duration))
}

// failureMessage is the error text kept on a failed job.
func failureMessage(p config.Plugin, err error) string {
	var timeout *sandbox.TimeoutError
	var exit *sandbox.ExitError
	switch {
	case errors.As(err, &timeout):
		return fmt.Sprintf("Command timed out after %d seconds", p.Execution.TimeoutSeconds)
	case errors.As(err, &exit):
		return strings.TrimRight(fmt.Sprintf("Command failed (exit code: %d)\n%s", exit.Code, strings.TrimSpace(exit.Stderr)), "\n")
	default:
		return "Execution error: " + err.Error()
	}
}

func (m *Manager) startTranscription(ctx context.Context, log logger.Logger, c ChunkedTranscription, inv Invocation, params map[string]string, release func()) (Outcome, error) {
	p := c.Plugin
	url := params["url"]
	if url == "" {
		release()
		return Outcome{}, m.reject(log, &RejectionError{p.Name, ReasonInvalidParams, "Missing required parameter: url"})
	}
	if m.orch == nil {
		release()
		return Outcome{}, fmt.Errorf("plugin %s: transcription is not configured", p.Name)
	}

	b, err := m.orch.Prepare(ctx, transcribe.Request{
		Spec:        spec(p, inv, params),
		URL:         url,
		Params:      params,
		MaxItems:    p.Execution.Chunking.MaxPlaylistItems,
		Transcriber: c.Transcriber,
	})
	if err != nil {
		release()
		log.Info("transcription not started", logger.Error(err))
		return Outcome{}, err
	}
	m.orch.Launch(ctx, b, m.events)

	n := len(b.Playlist.Items)
	noun := "videos"
	if n == 1 {
		noun = "video"
	}
	return Outcome{
		Accepted: true,
		JobID:    b.JobID,
		Message: fmt.Sprintf("Transcribing %q: %d %s, estimated %s. Job `%s`",
			b.Playlist.Title, n, noun, resolver.FormatDuration(b.Estimate), model.ShortID(b.JobID)),
	}, nil
}

// Cleanup forgets finished jobs older than maxAge along with their events.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	removed := m.jobs.Cleanup(maxAge)
	m.events.Prune(func(id string) bool {
		_, err := m.jobs.Get(id)
		return err == nil
	})
	return removed
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
