package transcribe

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"plugin-jobs/internal/logger"
	"plugin-jobs/internal/resolver"
	"plugin-jobs/internal/sandbox"
	"plugin-jobs/internal/ytdlp"
)

// Runner is the part of the sandbox executor the transcribers need.
type Runner interface {
	Run(ctx context.Context, c sandbox.Command) (sandbox.Output, error)
}

// WindowObserver is told about every transcription window.
type WindowObserver interface {
	ObserveWindow(ok bool)
}

// PipelineConfig drives one plugin's audio pipeline.
type PipelineConfig struct {
	Window          time.Duration
	Threshold       time.Duration
	DownloadTimeout time.Duration
	SplitTimeout    time.Duration
	WindowTimeout   time.Duration
	FileCommand     string
	FileArgs        []string
	MaxOutputBytes  int
	Env             map[string]string
	WorkRoot        string
	ToolOptions     ytdlp.Options
}

// AudioPipeline downloads an item's audio, splits it into fixed windows when
// it is long and runs the plugin's transcription command on every window.
type AudioPipeline struct {
	runner  Runner
	cfg     PipelineConfig
	windows WindowObserver
	log     logger.Logger
}

func NewAudioPipeline(r Runner, cfg PipelineConfig, obs WindowObserver, log logger.Logger) *AudioPipeline {
	if cfg.Window <= 0 {
		cfg.Window = 600 * time.Second
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = cfg.Window
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &AudioPipeline{runner: r, cfg: cfg, windows: obs, log: log}
}

type window struct {
	file  string
	start int
	end   int
}

func (p *AudioPipeline) TranscribeItem(ctx context.Context, ic ItemContext, item resolver.Item) (ItemResult, error) {
	log := p.log.With(logger.String("job_id", ic.JobID), logger.String("video_id", item.VideoID))
	tracker := newPhaseTracker(ic.Position, ic.OnPhase)

	root := p.cfg.WorkRoot
	if root == "" {
		root = os.TempDir()
	}
	work := filepath.Join(root, "plugin-jobs-"+uuid.NewString())
	if err := os.MkdirAll(work, 0o755); err != nil {
		return ItemResult{}, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(work); err != nil {
			log.Warn("remove work dir", logger.String("dir", work), logger.Error(err))
		}
	}()

	tracker.Set("downloading")
	args, err := ytdlp.AudioDownloadArgs(item.URL, work, p.cfg.ToolOptions)
	if err != nil {
		return ItemResult{}, err
	}
	if _, err := p.runner.Run(ctx, sandbox.Command{
		Program: ytdlp.Program,
		Args:    args,
		Timeout: p.cfg.DownloadTimeout,
		OnLine:  tracker.Handle,
	}); err != nil {
		return ItemResult{}, fmt.Errorf("download audio: %w", err)
	}
	audio, err := findOne(work, ytdlp.AudioGlob())
	if err != nil {
		return ItemResult{}, err
	}

	duration := item.DurationSecs
	if duration <= 0 {
		tracker.Set("probing duration")
		duration = p.probe(ctx, audio, log)
	}

	windows, err := p.split(ctx, work, audio, duration, tracker)
	if err != nil {
		return ItemResult{}, err
	}

	res := ItemResult{Windows: len(windows)}
	parts := make([]string, 0, len(windows))
	for i, w := range windows {
		if ic.Cancelled != nil && ic.Cancelled() {
			return res, ErrCancelled
		}
		tracker.Set(fmt.Sprintf("transcribing window %d/%d", i+1, len(windows)))
		text, err := p.transcribeWindow(ctx, ic, work, i, w.file)
		if p.windows != nil {
			p.windows.ObserveWindow(err == nil)
		}
		if err != nil {
			if errors.Is(err, sandbox.ErrDisallowedProgram) || ctx.Err() != nil {
				return res, err
			}
			log.Warn("window failed", logger.Int("window", i), logger.Error(err))
			parts = append(parts, gapMarker(w.start, w.end))
			res.FailedWindows++
			continue
		}
		parts = append(parts, text)
	}
	if res.FailedWindows == len(windows) {
		return res, fmt.Errorf("all %d windows failed: %w", len(windows), ErrEmptyTranscript)
	}
	res.Text = strings.Join(parts, "\n\n")
	return res, nil
}

// probe returns the audio duration in seconds, or -1 when it cannot be read.
func (p *AudioPipeline) probe(ctx context.Context, audio string, log logger.Logger) int {
	out, err := p.runner.Run(ctx, sandbox.Command{
		Program: ytdlp.FFprobe,
		Args:    ytdlp.ProbeDurationArgs(audio),
		Timeout: p.cfg.SplitTimeout,
	})
	if err != nil {
		log.Warn("probe duration", logger.Error(err))
		return -1
	}
	secs, err := ytdlp.ParseProbeDuration(out.Stdout)
	if err != nil {
		log.Warn("probe duration", logger.Error(err))
		return -1
	}
	return secs
}

// split returns the windows to transcribe. Short audio is a single window;
// unknown durations are always split.
func (p *AudioPipeline) split(ctx context.Context, work, audio string, duration int, tracker *phaseTracker) ([]window, error) {
	windowSecs := int(p.cfg.Window / time.Second)
	if duration >= 0 && time.Duration(duration)*time.Second <= p.cfg.Threshold {
		return []window{{file: audio, start: 0, end: duration}}, nil
	}

	tracker.Set("splitting audio")
	chunks := filepath.Join(work, "chunks")
	if err := os.MkdirAll(chunks, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	if _, err := p.runner.Run(ctx, sandbox.Command{
		Program: ytdlp.FFmpeg,
		Args:    ytdlp.SegmentArgs(audio, chunks, windowSecs),
		Timeout: p.cfg.SplitTimeout,
	}); err != nil {
		return nil, fmt.Errorf("split audio: %w", err)
	}
	files, err := doublestar.Glob(os.DirFS(chunks), ytdlp.SegmentGlob())
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("split audio: no chunks produced")
	}
	slices.Sort(files)

	windows := make([]window, 0, len(files))
	for i, f := range files {
		w := window{file: filepath.Join(chunks, f), start: i * windowSecs, end: (i + 1) * windowSecs}
		if duration > 0 && w.end > duration {
			w.end = duration
		}
		windows = append(windows, w)
	}
	return windows, nil
}

func (p *AudioPipeline) transcribeWindow(ctx context.Context, ic ItemContext, work string, index int, file string) (string, error) {
	outDir := filepath.Join(work, fmt.Sprintf("out_%03d", index))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	params := maps.Clone(ic.Params)
	if params == nil {
		params = map[string]string{}
	}
	params["file"] = file
	params["output_dir"] = outDir

	args, err := sandbox.ExpandArgs(p.cfg.FileArgs, params)
	if err != nil {
		return "", err
	}
	out, err := p.runner.Run(ctx, sandbox.Command{
		Program:        p.cfg.FileCommand,
		Args:           args,
		Timeout:        p.cfg.WindowTimeout,
		Dir:            work,
		Env:            p.cfg.Env,
		MaxOutputBytes: p.cfg.MaxOutputBytes,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.Stdout)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

func findOne(dir, pattern string) (string, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), pattern)
	if err != nil {
		return "", fmt.Errorf("find %s: %w", pattern, err)
	}
	matches = slices.DeleteFunc(matches, func(m string) bool {
		return strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".ytdl")
	})
	if len(matches) == 0 {
		return "", fmt.Errorf("download audio: no file matching %s", pattern)
	}
	slices.Sort(matches)
	return filepath.Join(dir, matches[0]), nil
}

// gapMarker stands in for a window whose transcription failed.
func gapMarker(start, end int) string {
	return fmt.Sprintf("[transcription gap %s-%s]", clock(start), clock(end))
}

func clock(secs int) string {
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
}

// DirectTranscriber runs the plugin's own command once per item with ${url}
// set to the item's canonical URL and prints the transcript on stdout.
type DirectTranscriber struct {
	Runner         Runner
	Program        string
	Args           []string
	Timeout        time.Duration
	Dir            string
	Env            map[string]string
	MaxOutputBytes int
}

func (d *DirectTranscriber) TranscribeItem(ctx context.Context, ic ItemContext, item resolver.Item) (ItemResult, error) {
	params := maps.Clone(ic.Params)
	if params == nil {
		params = map[string]string{}
	}
	params["url"] = item.URL
	params["video_id"] = item.VideoID

	args, err := sandbox.ExpandArgs(d.Args, params)
	if err != nil {
		return ItemResult{}, err
	}
	if ic.OnPhase != nil {
		ic.OnPhase(ic.Position + ": running " + d.Program)
	}
	out, err := d.Runner.Run(ctx, sandbox.Command{
		Program:        d.Program,
		Args:           args,
		Timeout:        d.Timeout,
		Dir:            d.Dir,
		Env:            d.Env,
		MaxOutputBytes: d.MaxOutputBytes,
	})
	if err != nil {
		return ItemResult{Windows: 1, FailedWindows: 1}, err
	}
	return ItemResult{Text: out.Stdout, Windows: 1}, nil
}
