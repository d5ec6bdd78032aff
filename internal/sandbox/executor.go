// Package sandbox runs allow-listed external programs with argument vectors,
// a per-invocation timeout and bounded output capture.
package sandbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"plugin-jobs/internal/logger"
)

type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

const (
	DefaultTimeout        = 300 * time.Second
	DefaultMaxOutputBytes = 10 * 1024 * 1024
	maxStderrKeep         = 8192
	maxLineBytes          = 1024 * 1024
	waitDelay             = 2 * time.Second
)

// Command describes one invocation. Args are passed verbatim, never through a shell.
type Command struct {
	Program        string
	Args           []string
	Timeout        time.Duration
	Dir            string
	Env            map[string]string
	MaxOutputBytes int
	OnLine         func(stream OutputStream, line string)
}

type Output struct {
	Stdout    string
	Stderr    string
	Truncated bool
	Duration  time.Duration
}

// Spawner builds the process for a command. Tests replace it to observe spawns.
type Spawner func(ctx context.Context, name string, args ...string) *exec.Cmd

// CommandObserver is told about every command that was spawned.
type CommandObserver interface {
	ObserveCommand(program string, d time.Duration, err error)
}

type Executor struct {
	allowed  []string
	spawn    Spawner
	log      logger.Logger
	observer CommandObserver
}

type Option func(*Executor)

func WithSpawner(s Spawner) Option {
	return func(e *Executor) { e.spawn = s }
}

func WithLogger(l logger.Logger) Option {
	return func(e *Executor) { e.log = l }
}

func WithObserver(o CommandObserver) Option {
	return func(e *Executor) { e.observer = o }
}

// New builds an executor that only runs programs named in allowed.
func New(allowed []string, opts ...Option) *Executor {
	e := &Executor{
		spawn: exec.CommandContext,
		log:   logger.NewNop(),
	}
	for _, p := range allowed {
		p = strings.TrimSpace(p)
		if p != "" && !slices.Contains(e.allowed, p) {
			e.allowed = append(e.allowed, p)
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Allowed reports whether program matches an allow-list entry exactly.
func (e *Executor) Allowed(program string) bool {
	return slices.Contains(e.allowed, program)
}

func (e *Executor) AllowList() []string {
	return slices.Clone(e.allowed)
}

// Run executes one command. The allow-list is checked before anything is spawned.
// A timeout kills the process; cancellation of ctx surfaces as ctx's error.
func (e *Executor) Run(ctx context.Context, c Command) (Output, error) {
	if !e.Allowed(c.Program) {
		e.log.Warn("rejected program outside allow-list", logger.String("program", c.Program))
		return Output{}, &DisallowedProgramError{Program: c.Program}
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxOut := c.MaxOutputBytes
	if maxOut <= 0 {
		maxOut = DefaultMaxOutputBytes
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := e.spawn(runCtx, c.Program, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(c.Env)...)
	}
	cmd.WaitDelay = waitDelay

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW

	e.log.Debug("running command",
		logger.String("program", c.Program),
		logger.Strings("args", c.Args),
		logger.Duration("timeout", timeout),
	)

	started := time.Now()
	if err := cmd.Start(); err != nil {
		_ = outW.Close()
		_ = errW.Close()
		return Output{}, fmt.Errorf("start %s: %w", c.Program, err)
	}

	capture := &captureBuffer{maxStdout: maxOut}
	var wg sync.WaitGroup
	wg.Add(2)
	go capture.read(&wg, StreamStdout, outR, c.OnLine)
	go capture.read(&wg, StreamStderr, errR, c.OnLine)

	waitErr := cmd.Wait()
	_ = outW.Close()
	_ = errW.Close()
	wg.Wait()

	out := capture.output(maxOut)
	out.Duration = time.Since(started)

	err := classify(ctx, runCtx, c.Program, timeout, out, waitErr)
	if err != nil {
		e.log.Warn("command failed",
			logger.String("program", c.Program),
			logger.Duration("elapsed", out.Duration),
			logger.Error(err),
		)
	}
	if e.observer != nil {
		e.observer.ObserveCommand(c.Program, out.Duration, err)
	}
	return out, err
}

func classify(ctx, runCtx context.Context, program string, timeout time.Duration, out Output, waitErr error) error {
	if waitErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", program, ctx.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Program: program, Timeout: timeout, Stderr: out.Stderr}
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return &ExitError{Program: program, Code: exitErr.ExitCode(), Stderr: out.Stderr}
	}
	return fmt.Errorf("%s failed: %w", program, waitErr)
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// captureBuffer keeps the raw bytes of both streams up to their limits.
// Line splitting only feeds OnLine and never rewrites the captured text.
type captureBuffer struct {
	mu        sync.Mutex
	maxStdout int
	stdout    strings.Builder
	stderr    strings.Builder
	truncated bool
}

// streamSink is the tee target for one stream. It always reports a full write
// so the child never blocks on a full buffer.
type streamSink struct {
	buf    *captureBuffer
	stream OutputStream
}

func (s streamSink) Write(p []byte) (int, error) {
	s.buf.mu.Lock()
	s.buf.appendLimited(s.stream, p)
	s.buf.mu.Unlock()
	return len(p), nil
}

func (b *captureBuffer) read(wg *sync.WaitGroup, stream OutputStream, r io.Reader, onLine func(OutputStream, string)) {
	defer wg.Done()
	tee := io.TeeReader(r, streamSink{buf: b, stream: stream})
	for {
		scanner := bufio.NewScanner(tee)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			if onLine != nil {
				onLine(stream, scanner.Text())
			}
		}
		// an oversized line only costs its progress callback
		if !errors.Is(scanner.Err(), bufio.ErrTooLong) {
			break
		}
	}
	_, _ = io.Copy(io.Discard, tee)
}

func (b *captureBuffer) appendLimited(stream OutputStream, p []byte) {
	if stream == StreamStderr {
		if remain := maxStderrKeep - b.stderr.Len(); remain > 0 {
			b.stderr.Write(p[:min(len(p), remain)])
		}
		return
	}
	remain := b.maxStdout - b.stdout.Len()
	if len(p) > remain {
		b.truncated = true
		p = p[:max(remain, 0)]
	}
	b.stdout.Write(p)
}

func (b *captureBuffer) output(maxOut int) Output {
	b.mu.Lock()
	defer b.mu.Unlock()
	stdout := b.stdout.String()
	if b.truncated {
		stdout = fmt.Sprintf("%s...\n\n[Output truncated at %d bytes]", stdout, maxOut)
	}
	return Output{
		Stdout:    stdout,
		Stderr:    b.stderr.String(),
		Truncated: b.truncated,
	}
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
