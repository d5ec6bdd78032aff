package plugin

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plugin-jobs/internal/config"
	"plugin-jobs/internal/model"
	"plugin-jobs/internal/registry"
	"plugin-jobs/internal/resolver"
	"plugin-jobs/internal/sandbox"
	"plugin-jobs/internal/transcribe"
)

const pluginsYAML = `
plugins:
  - name: echo
    description: Echo text
    command:
      name: echo
      description: Echo text back
      options:
        - name: text
          description: Text to echo
          required: true
          validation:
            max_length: 20
        - name: format
          description: Output format
          default: plain
          choices:
            - {name: Plain, value: plain}
            - {name: Loud, value: loud}
    execution:
      command: echo
      args: ["${format}", "${text}"]
    security:
      cooldown_seconds: 60
  - name: transcribe
    kind: transcribe
    command:
      name: transcribe
      description: Transcribe a video or playlist
      options:
        - name: url
          description: Video or playlist URL
          required: true
    execution:
      command: summarize
      args: ["${url}"]
  - name: transcribe_status
    kind: job_status
    command:
      name: transcribe_status
      description: Show your jobs
  - name: transcribe_cancel
    kind: job_cancel
    command:
      name: transcribe_cancel
      description: Cancel a job
      options:
        - name: job_id
          description: Job id
  - name: admin
    command:
      name: admin
      description: Admin only
    execution:
      command: echo
      args: ["ok"]
    security:
      allowed_roles: [admin]
      guild_only: true
      blocked_users: [mallory]
  - name: off
    enabled: false
    command:
      name: off
      description: Disabled
    execution:
      command: rm
`

type stubExecutor struct {
	mu      sync.Mutex
	allowed []string
	calls   []sandbox.Command
	run     func(c sandbox.Command) (sandbox.Output, error)
}

func (s *stubExecutor) Allowed(program string) bool {
	return slices.Contains(s.allowed, program)
}

func (s *stubExecutor) Run(_ context.Context, c sandbox.Command) (sandbox.Output, error) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
	if s.run != nil {
		return s.run(c)
	}
	return sandbox.Output{Stdout: "ok\n"}, nil
}

type rejectionRecorder struct {
	mu      sync.Mutex
	reasons []string
}

func (r *rejectionRecorder) ObserveRejection(plugin, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, plugin+":"+reason)
}

type fixture struct {
	mgr        *Manager
	reg        *registry.Registry
	exec       *stubExecutor
	rejections *rejectionRecorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	plugins, err := config.ParsePlugins([]byte(pluginsYAML))
	require.NoError(t, err)

	reg := registry.New()
	exec := &stubExecutor{allowed: []string{"echo", "summarize"}}
	orch := transcribe.New(reg, nil, transcribe.WithMinInterval(0))
	rec := &rejectionRecorder{}
	mgr, err := NewManager(plugins, reg, exec, orch, WithRejectionObserver(rec))
	require.NoError(t, err)
	return fixture{mgr: mgr, reg: reg, exec: exec, rejections: rec}
}

func TestDispatchUnknownCommand(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Dispatch(context.Background(), Invocation{Command: "nope", UserID: "u1"})
	require.ErrorIs(t, err, ErrUnknownCommand)
}

func TestNewManagerRejectsDisallowedPrograms(t *testing.T) {
	plugins, err := config.ParsePlugins([]byte(pluginsYAML))
	require.NoError(t, err)

	_, err = NewManager(plugins, registry.New(), &stubExecutor{allowed: []string{"echo"}}, nil)
	require.ErrorIs(t, err, sandbox.ErrDisallowedProgram)
	assert.Contains(t, err.Error(), "summarize")
	assert.NotContains(t, err.Error(), `"rm"`)
}

func TestDispatchAccessRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		inv    Invocation
		reason string
	}{
		{"disabled", Invocation{Command: "off", UserID: "u1"}, ReasonDisabled},
		{"blocked", Invocation{Command: "admin", UserID: "mallory", GuildID: "g1", Roles: []string{"admin"}}, ReasonBlocked},
		{"missing role", Invocation{Command: "admin", UserID: "u1", GuildID: "g1", Roles: []string{"member"}}, ReasonMissingRole},
		{"guild only", Invocation{Command: "admin", UserID: "u1", Roles: []string{"admin"}}, ReasonGuildOnly},
		{"missing param", Invocation{Command: "echo", UserID: "u1"}, ReasonInvalidParams},
		{"too long", Invocation{Command: "echo", UserID: "u1", Params: map[string]string{"text": "this text is far too long"}}, ReasonInvalidParams},
		{"bad choice", Invocation{Command: "echo", UserID: "u1", Params: map[string]string{"text": "hi", "format": "xml"}}, ReasonInvalidParams},
		{"shell chars", Invocation{Command: "echo", UserID: "u1", Params: map[string]string{"text": "hi; rm -rf"}}, ReasonInvalidParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.mgr.Dispatch(ctx, tc.inv)
			require.ErrorIs(t, err, ErrRejected)
			var rej *RejectionError
			require.True(t, errors.As(err, &rej))
			assert.Equal(t, tc.reason, rej.Reason)
		})
	}
	assert.Empty(t, f.reg.All())
	assert.Empty(t, f.exec.calls)
	assert.Len(t, f.rejections.reasons, len(cases))
}

func TestDispatchExternalProgram(t *testing.T) {
	f := newFixture(t)
	f.exec.run = func(c sandbox.Command) (sandbox.Output, error) {
		return sandbox.Output{Stdout: "plain hello\n"}, nil
	}

	out, err := f.mgr.Dispatch(context.Background(), Invocation{Command: "admin", UserID: "u1", GuildID: "g1", Roles: []string{"admin"}})
	require.NoError(t, err)
	assert.True(t, out.Accepted)

	out, err = f.mgr.Dispatch(context.Background(), Invocation{Command: "echo", UserID: "u2", Params: map[string]string{"text": "hello"}})
	require.NoError(t, err)
	require.True(t, out.Accepted)
	assert.Contains(t, out.Message, model.ShortID(out.JobID))
	f.mgr.Wait()

	require.Len(t, f.exec.calls, 2)
	var args [][]string
	for _, c := range f.exec.calls {
		args = append(args, c.Args)
	}
	assert.ElementsMatch(t, [][]string{{"ok"}, {"plain", "hello"}}, args)

	job, err := f.reg.Get(out.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, job.Status)
	assert.Equal(t, "plain hello\n", job.ResultPreview)

	events := f.mgr.Events().For(out.JobID)
	require.Len(t, events, 1)
	assert.Equal(t, EventResult, events[0].Type)
	assert.Equal(t, model.StatusCompleted, events[0].Status)
}

func TestDispatchExternalFailure(t *testing.T) {
	f := newFixture(t)
	f.exec.run = func(c sandbox.Command) (sandbox.Output, error) {
		return sandbox.Output{Stderr: "boom\n"}, &sandbox.ExitError{Program: c.Program, Code: 2, Stderr: "boom\n"}
	}

	out, err := f.mgr.Dispatch(context.Background(), Invocation{Command: "echo", UserID: "u1", Params: map[string]string{"text": "hi"}})
	require.NoError(t, err)
	f.mgr.Wait()

	job, err := f.reg.Get(out.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, job.Status)
	assert.Equal(t, "Command failed (exit code: 2)\nboom", job.Error)
}

func TestDispatchCooldownIsAnOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := Invocation{Command: "echo", UserID: "u1", Params: map[string]string{"text": "hi"}}

	first, err := f.mgr.Dispatch(ctx, inv)
	require.NoError(t, err)
	require.True(t, first.Accepted)

	second, err := f.mgr.Dispatch(ctx, inv)
	require.NoError(t, err)
	assert.False(t, second.Accepted)
	assert.Positive(t, second.RetryAfter)
	assert.Contains(t, second.Message, "Please wait")
	assert.Contains(t, f.rejections.reasons, "echo:"+ReasonCooldown)

	other, err := f.mgr.Dispatch(ctx, Invocation{Command: "echo", UserID: "u2", Params: map[string]string{"text": "hi"}})
	require.NoError(t, err)
	assert.True(t, other.Accepted)
	f.mgr.Wait()
}

const cooledTranscribeYAML = `
plugins:
  - name: transcribe
    kind: transcribe
    command:
      name: transcribe
      description: Transcribe a playlist
      options:
        - name: url
          description: Playlist URL
          required: true
    execution:
      command: summarize
      args: ["${url}"]
    security:
      cooldown_seconds: 600
`

type slowEnumerator struct {
	delay time.Duration
	calls atomic.Int32
	err   error
}

func (s *slowEnumerator) Enumerate(_ context.Context, id string, _ int) (resolver.PlaylistInfo, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	if s.err != nil {
		return resolver.PlaylistInfo{}, s.err
	}
	return resolver.PlaylistInfo{ID: id, Title: "Talks", VideoCount: 1, Items: []resolver.Item{
		{VideoID: "dQw4w9WgXcQ", Title: "One", URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
	}}, nil
}

func newCooledFixture(t *testing.T, enum *slowEnumerator) fixture {
	t.Helper()
	plugins, err := config.ParsePlugins([]byte(cooledTranscribeYAML))
	require.NoError(t, err)
	reg := registry.New()
	exec := &stubExecutor{allowed: []string{"summarize"}}
	orch := transcribe.New(reg, enum, transcribe.WithMinInterval(0))
	mgr, err := NewManager(plugins, reg, exec, orch)
	require.NoError(t, err)
	return fixture{mgr: mgr, reg: reg, exec: exec}
}

func TestDispatchConcurrentInvocationsShareOneCooldown(t *testing.T) {
	enum := &slowEnumerator{delay: 200 * time.Millisecond}
	f := newCooledFixture(t, enum)
	inv := Invocation{Command: "transcribe", UserID: "u1", Params: map[string]string{"url": "https://www.youtube.com/playlist?list=PLtalks"}}

	outcomes := make([]Outcome, 2)
	var wg sync.WaitGroup
	for i := range outcomes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.mgr.Dispatch(context.Background(), inv)
			assert.NoError(t, err)
			outcomes[i] = out
		}()
	}
	wg.Wait()
	f.mgr.Wait()

	accepted := 0
	for _, out := range outcomes {
		if out.Accepted {
			accepted++
		} else {
			assert.Positive(t, out.RetryAfter)
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, int32(1), enum.calls.Load(), "the refused caller never enumerates")
	assert.Len(t, f.reg.All(), 1)
}

func TestDispatchFailedPrepareKeepsCooldownFree(t *testing.T) {
	enum := &slowEnumerator{err: resolver.ErrEmptyPlaylist}
	f := newCooledFixture(t, enum)
	inv := Invocation{Command: "transcribe", UserID: "u1", Params: map[string]string{"url": "https://www.youtube.com/playlist?list=PLtalks"}}

	_, err := f.mgr.Dispatch(context.Background(), inv)
	require.ErrorIs(t, err, resolver.ErrEmptyPlaylist)
	assert.True(t, f.reg.CheckCooldown("u1", "transcribe", 600))

	enum.err = nil
	out, err := f.mgr.Dispatch(context.Background(), inv)
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	f.mgr.Wait()
	assert.False(t, f.reg.CheckCooldown("u1", "transcribe", 600))
}

func TestDispatchTranscriptionSingleVideo(t *testing.T) {
	f := newFixture(t)
	f.exec.run = func(c sandbox.Command) (sandbox.Output, error) {
		return sandbox.Output{Stdout: "transcript of " + c.Args[0]}, nil
	}

	out, err := f.mgr.Dispatch(context.Background(), Invocation{
		Command: "transcribe",
		UserID:  "u1",
		Params:  map[string]string{"url": "https://youtu.be/dQw4w9WgXcQ"},
	})
	require.NoError(t, err)
	require.True(t, out.Accepted)
	assert.Contains(t, out.Message, "1 video,")
	f.mgr.Wait()

	job, err := f.reg.Get(out.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, job.Status)
	require.NotNil(t, job.Playlist)
	assert.Equal(t, 1, job.Playlist.Completed)
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", f.exec.calls[0].Args[0])

	events := f.mgr.Events().For(out.JobID)
	require.NotEmpty(t, events)
	assert.Equal(t, EventResult, events[len(events)-1].Type)
}

func TestDispatchTranscriptionBadURL(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Dispatch(context.Background(), Invocation{
		Command: "transcribe",
		UserID:  "u1",
		Params:  map[string]string{"url": "https://example.com/watch"},
	})
	require.Error(t, err)
	assert.Empty(t, f.reg.All())
}

func TestCancelJobMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.mgr.Dispatch(ctx, Invocation{Command: "transcribe_cancel", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "No active transcription job found to cancel.", out.Message)

	id := f.reg.CreateBatch(registry.Spec{OwnerID: "u1", PluginName: "transcribe"}, 3, "Lectures")
	require.NoError(t, f.reg.Start(id))
	f.reg.RecordItem(id, true)

	out, err = f.mgr.Dispatch(ctx, Invocation{Command: "transcribe_cancel", UserID: "u1", Params: map[string]string{"job_id": model.ShortID(id)}})
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.Equal(t, "Cancelled transcription job `"+model.ShortID(id)+"` (Lectures)\nProgress: 1/3 videos completed", out.Message)

	out, err = f.mgr.CancelJob("u1", id)
	require.NoError(t, err)
	assert.Equal(t, "Job `"+model.ShortID(id)+"` is no longer active (status: cancelled)", out.Message)

	out, err = f.mgr.CancelJob("someone-else", id)
	require.NoError(t, err)
	assert.Equal(t, "No active transcription job found to cancel.", out.Message)
}

func TestStatusText(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "You have no active transcription jobs.", f.mgr.StatusText("u1"))

	batch := f.reg.CreateBatch(registry.Spec{OwnerID: "u1", PluginName: "transcribe"}, 4, "Lectures")
	require.NoError(t, f.reg.Start(batch))
	f.reg.RecordItem(batch, true)
	single := f.reg.Create(registry.Spec{OwnerID: "u1", PluginName: "echo", Params: map[string]string{"url": "https://example.com/a"}})

	text := f.mgr.StatusText("u1")
	assert.Contains(t, text, "• `"+model.ShortID(batch)+"` \"Lectures\" - 1/4 videos (25%)")
	assert.Contains(t, text, "• `"+model.ShortID(single)+"` https://example.com/a - pending")
	assert.Contains(t, text, "/transcribe_cancel [job_id]")

	out, err := f.mgr.Dispatch(context.Background(), Invocation{Command: "transcribe_status", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, text, out.Message)
}

func TestCleanupPrunesEvents(t *testing.T) {
	f := newFixture(t)
	f.mgr.Events().Add(Event{Type: EventResult, JobID: "gone"})
	f.mgr.Cleanup(0)
	assert.Empty(t, f.mgr.Events().For("gone"))
}
