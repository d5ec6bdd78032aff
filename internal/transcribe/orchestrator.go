// Package transcribe runs a transcription over every item of a playlist (or a
// single video) as one aggregate job, reporting progress as items finish.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"plugin-jobs/internal/logger"
	"plugin-jobs/internal/model"
	"plugin-jobs/internal/registry"
	"plugin-jobs/internal/resolver"
	"plugin-jobs/internal/runstore"
)

var (
	ErrCancelled       = errors.New("job cancelled")
	ErrEmptyTranscript = errors.New("no usable transcript text")
)

// Request is one transcription invocation.
type Request struct {
	Spec     registry.Spec
	URL      string
	Params   map[string]string
	MaxItems int
	// Transcriber overrides the orchestrator's default for this request.
	Transcriber ItemTranscriber
}

// ItemContext is what a transcriber may use while working on one item.
type ItemContext struct {
	JobID     string
	Position  string
	Params    map[string]string
	OnPhase   func(string)
	Cancelled func() bool
}

type ItemResult struct {
	Text          string
	Windows       int
	FailedWindows int
}

// ItemTranscriber produces the transcript of one item.
type ItemTranscriber interface {
	TranscribeItem(ctx context.Context, ic ItemContext, item resolver.Item) (ItemResult, error)
}

// Jobs is the part of the registry the orchestrator drives.
type Jobs interface {
	CreateBatch(spec registry.Spec, total int, title string) string
	Start(id string) error
	RecordItem(id string, ok bool) (model.Job, bool)
	FinalizeBatch(id, preview string) (model.Job, error)
	IsCancelled(id string) bool
	SetPhase(id, phase string)
	Get(id string) (model.Job, error)
}

type Enumerator interface {
	Enumerate(ctx context.Context, playlistID string, maxItems int) (resolver.PlaylistInfo, error)
}

// TitleLookup is implemented by enumerators that can name a single video.
type TitleLookup interface {
	Title(ctx context.Context, videoID string) (string, error)
}

// ItemObserver is told about every item outcome.
type ItemObserver interface {
	ObserveItem(plugin string, ok bool)
}

// ProgressEvent is emitted after every recorded item.
type ProgressEvent struct {
	JobID     string  `json:"job_id"`
	Index     int     `json:"index"`
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Percent   float64 `json:"percent"`
	VideoID   string  `json:"video_id"`
	Title     string  `json:"title"`
	OK        bool    `json:"ok"`
	Error     string  `json:"error,omitempty"`
}

type ItemOutcome struct {
	Index         int    `json:"index"`
	VideoID       string `json:"video_id"`
	Title         string `json:"title"`
	URL           string `json:"url"`
	OK            bool   `json:"ok"`
	Error         string `json:"error,omitempty"`
	Windows       int    `json:"windows,omitempty"`
	FailedWindows int    `json:"failed_windows,omitempty"`
	Transcript    string `json:"-"`
}

// Result is delivered once, when the batch reaches a terminal state.
type Result struct {
	JobID         string        `json:"job_id"`
	Status        string        `json:"status"`
	Title         string        `json:"title"`
	Total         int           `json:"total"`
	Completed     int           `json:"completed"`
	Failed        int           `json:"failed"`
	Summary       string        `json:"summary"`
	Items         []ItemOutcome `json:"items"`
	Transcript    string        `json:"-"`
	ArtifactsDir  string        `json:"artifacts_dir,omitempty"`
	Elapsed       time.Duration `json:"elapsed"`
	FinalJobState model.Job     `json:"job"`
}

// Sink receives the events of one job, in order, from a single goroutine.
type Sink interface {
	Progress(ev ProgressEvent)
	Result(res Result)
}

// Batch is a registered job ready to execute.
type Batch struct {
	JobID    string
	Ref      resolver.Reference
	Playlist resolver.PlaylistInfo
	Estimate time.Duration

	req Request
}

type Orchestrator struct {
	jobs        Jobs
	enumerator  Enumerator
	transcriber ItemTranscriber
	store       *runstore.TranscriptStore
	items       ItemObserver
	minInterval time.Duration
	log         logger.Logger

	wg sync.WaitGroup
}

type Option func(*Orchestrator)

func WithTranscriber(t ItemTranscriber) Option {
	return func(o *Orchestrator) { o.transcriber = t }
}

func WithStore(s *runstore.TranscriptStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

func WithItemObserver(obs ItemObserver) Option {
	return func(o *Orchestrator) { o.items = obs }
}

// WithMinInterval sets the minimum spacing between progress events of a job.
func WithMinInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.minInterval = d }
}

func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

func New(jobs Jobs, enumerator Enumerator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		jobs:        jobs,
		enumerator:  enumerator,
		minInterval: 2 * time.Second,
		log:         logger.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// videoTitle asks the enumerator for a video's title. Failures only cost the
// title; SingleItem substitutes a placeholder for "".
func (o *Orchestrator) videoTitle(ctx context.Context, videoID string) string {
	lookup, ok := o.enumerator.(TitleLookup)
	if !ok {
		return ""
	}
	title, err := lookup.Title(ctx, videoID)
	if err != nil {
		o.log.Info("video title unavailable", logger.String("video_id", videoID), logger.Error(err))
		return ""
	}
	return title
}

// Prepare resolves the URL, enumerates playlists and registers the job.
// Nothing is registered when resolution or enumeration fails.
func (o *Orchestrator) Prepare(ctx context.Context, req Request) (*Batch, error) {
	ref, err := resolver.Resolve(req.URL)
	if err != nil {
		return nil, err
	}

	var info resolver.PlaylistInfo
	if ref.Kind == resolver.KindPlaylist {
		info, err = o.enumerator.Enumerate(ctx, ref.PlaylistID, req.MaxItems)
		if err != nil {
			return nil, err
		}
	} else {
		info = resolver.SingleItem(ref, o.videoTitle(ctx, ref.VideoID))
	}

	if req.Transcriber == nil {
		req.Transcriber = o.transcriber
	}
	if req.Transcriber == nil {
		return nil, fmt.Errorf("no transcriber configured for %s", req.Spec.PluginName)
	}
	req.Params = maps.Clone(req.Params)

	id := o.jobs.CreateBatch(req.Spec, len(info.Items), info.Title)
	o.log.Info("transcription job prepared",
		logger.String("job_id", id),
		logger.String("plugin", req.Spec.PluginName),
		logger.String("owner_id", req.Spec.OwnerID),
		logger.String("kind", string(ref.Kind)),
		logger.Int("items", len(info.Items)),
	)
	return &Batch{
		JobID:    id,
		Ref:      ref,
		Playlist: info,
		Estimate: resolver.EstimateDuration(info.Items),
		req:      req,
	}, nil
}

// Start prepares the job and executes it on its own goroutine.
func (o *Orchestrator) Start(ctx context.Context, req Request, sink Sink) (string, error) {
	b, err := o.Prepare(ctx, req)
	if err != nil {
		return "", err
	}
	o.Launch(ctx, b, sink)
	return b.JobID, nil
}

// Launch executes a prepared batch on its own goroutine. The batch outlives
// ctx's cancellation; cancel it through the registry.
func (o *Orchestrator) Launch(ctx context.Context, b *Batch, sink Sink) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.Execute(context.WithoutCancel(ctx), b, sink)
	}()
}

// Wait blocks until every job started with Start has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Execute processes the items in order. Item failures are counted and the
// loop moves on; cancellation is checked before every item.
func (o *Orchestrator) Execute(ctx context.Context, b *Batch, sink Sink) Result {
	started := time.Now()
	plugin := b.req.Spec.PluginName
	log := o.log.With(logger.String("job_id", b.JobID), logger.String("plugin", plugin))

	if err := o.jobs.Start(b.JobID); err != nil {
		log.Warn("job not started", logger.Error(err))
	}

	limit := rate.Inf
	if o.minInterval > 0 {
		limit = rate.Every(o.minInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	total := len(b.Playlist.Items)
	cancelled := func() bool { return ctx.Err() != nil || o.jobs.IsCancelled(b.JobID) }
	var outcomes []ItemOutcome

	for i, item := range b.Playlist.Items {
		if cancelled() {
			log.Info("job cancelled, stopping", logger.Int("attempted", len(outcomes)))
			break
		}
		position := fmt.Sprintf("item %d/%d", i+1, total)
		o.jobs.SetPhase(b.JobID, position+": "+item.Title)

		ic := ItemContext{
			JobID:     b.JobID,
			Position:  position,
			Params:    maps.Clone(b.req.Params),
			OnPhase:   func(p string) { o.jobs.SetPhase(b.JobID, p) },
			Cancelled: cancelled,
		}
		res, err := b.req.Transcriber.TranscribeItem(ctx, ic, item)
		if err == nil && strings.TrimSpace(res.Text) == "" {
			err = ErrEmptyTranscript
		}
		ok := err == nil

		snap, recorded := o.jobs.RecordItem(b.JobID, ok)
		if !recorded {
			// The job left running while this item was in flight.
			log.Info("item result discarded", logger.String("video_id", item.VideoID))
			break
		}
		if o.items != nil {
			o.items.ObserveItem(plugin, ok)
		}

		out := ItemOutcome{
			Index:         item.Index,
			VideoID:       item.VideoID,
			Title:         item.Title,
			URL:           item.URL,
			OK:            ok,
			Windows:       res.Windows,
			FailedWindows: res.FailedWindows,
		}
		if ok {
			out.Transcript = strings.TrimSpace(res.Text)
		} else {
			out.Error = err.Error()
			log.Warn("item failed", logger.String("video_id", item.VideoID), logger.Error(err))
		}
		outcomes = append(outcomes, out)

		if sink != nil {
			_ = limiter.Wait(ctx)
			sink.Progress(progressEvent(snap, out))
		}
	}

	transcript := stitch(outcomes, total > 1)
	final, err := o.jobs.FinalizeBatch(b.JobID, transcript)
	if err != nil {
		log.Error("finalize job", logger.Error(err))
		final, _ = o.jobs.Get(b.JobID)
	}

	result := Result{
		JobID:         b.JobID,
		Status:        final.Status,
		Title:         b.Playlist.Title,
		Total:         total,
		Summary:       model.Summary(final),
		Items:         outcomes,
		Transcript:    transcript,
		Elapsed:       time.Since(started),
		FinalJobState: final,
	}
	if final.Playlist != nil {
		result.Completed = final.Playlist.Completed
		result.Failed = final.Playlist.Failed
	}
	if o.store != nil {
		dir, err := o.save(b, result)
		if err != nil {
			log.Error("save transcripts", logger.Error(err))
		}
		result.ArtifactsDir = dir
	}

	log.Info("transcription job finished",
		logger.String("status", result.Status),
		logger.Int("completed", result.Completed),
		logger.Int("failed", result.Failed),
		logger.Int("total", total),
		logger.Duration("elapsed", result.Elapsed),
	)
	if sink != nil {
		sink.Result(result)
	}
	return result
}

func progressEvent(job model.Job, out ItemOutcome) ProgressEvent {
	ev := ProgressEvent{
		JobID:   job.ID,
		Index:   out.Index,
		Percent: model.ProgressPercent(job),
		VideoID: out.VideoID,
		Title:   out.Title,
		OK:      out.OK,
		Error:   out.Error,
	}
	if job.Playlist != nil {
		ev.Total = job.Playlist.Total
		ev.Completed = job.Playlist.Completed
		ev.Failed = job.Playlist.Failed
	}
	return ev
}

// stitch joins the successful transcripts in item order, with a heading per
// item when there is more than one.
func stitch(outcomes []ItemOutcome, headings bool) string {
	var b strings.Builder
	for _, out := range outcomes {
		if !out.OK {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if headings {
			fmt.Fprintf(&b, "## %d. %s\n\n", out.Index+1, out.Title)
		}
		b.WriteString(out.Transcript)
	}
	return b.String()
}

func (o *Orchestrator) save(b *Batch, res Result) (string, error) {
	meta := runstore.TranscriptMeta{
		JobID:      res.JobID,
		OwnerID:    b.req.Spec.OwnerID,
		PluginName: b.req.Spec.PluginName,
		Title:      res.Title,
		Status:     res.Status,
		CreatedAt:  res.FinalJobState.CreatedAt.Format(time.RFC3339),
		FinishedAt: res.FinalJobState.FinishedAt.Format(time.RFC3339),
		Total:      res.Total,
		Completed:  res.Completed,
		Failed:     res.Failed,
		Summary:    res.Summary,
		SourceURL:  b.Ref.OriginalURL,
		PlaylistID: b.Ref.PlaylistID,
	}
	var texts []runstore.TranscriptText
	for _, out := range res.Items {
		meta.Files = append(meta.Files, runstore.TranscriptEntry{
			Index:   out.Index,
			VideoID: out.VideoID,
			Title:   out.Title,
			OK:      out.OK,
			Error:   out.Error,
		})
		if out.OK {
			texts = append(texts, runstore.TranscriptText{Index: out.Index, VideoID: out.VideoID, Text: out.Transcript})
		}
	}
	return o.store.Save(meta, texts)
}
