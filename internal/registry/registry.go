// Package registry owns every job record and cooldown for the process lifetime.
//
// Each job has its own lock; the map lock is only held to insert, look up or
// remove entries, so independent jobs never serialize behind each other.
// Cooldowns live under a separate lock.
package registry

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"plugin-jobs/internal/logger"
	"plugin-jobs/internal/model"
)

// ErrNotFound covers both a missing id and a job owned by someone else.
var ErrNotFound = errors.New("job not found")

const previewChars = 500

// Spec is what the caller knows about a job at admission time.
type Spec struct {
	OwnerID    string
	GuildID    string
	PluginName string
	Params     map[string]string
}

// Observer is notified after a job changes status, outside any registry lock.
type Observer interface {
	JobTransitioned(job model.Job, from string)
}

type entry struct {
	mu  sync.Mutex
	job model.Job
}

type cooldownKey struct {
	owner  string
	plugin string
}

type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*entry

	cooldownMu sync.Mutex
	cooldowns  map[cooldownKey]time.Time

	observers []Observer
	now       func() time.Time
	log       logger.Logger
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithLogger(l logger.Logger) Option {
	return func(r *Registry) { r.log = l }
}

func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		jobs:      make(map[string]*entry),
		cooldowns: make(map[cooldownKey]time.Time),
		now:       time.Now,
		log:       logger.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Create registers a single job in the pending state.
func (r *Registry) Create(spec Spec) string {
	return r.insert(spec, nil)
}

// CreateBatch registers an aggregate job over total items.
func (r *Registry) CreateBatch(spec Spec, total int, title string) string {
	return r.insert(spec, &model.BatchProgress{Total: max(total, 0), Title: title})
}

func (r *Registry) insert(spec Spec, batch *model.BatchProgress) string {
	job := model.Job{
		ID:         newID(),
		OwnerID:    spec.OwnerID,
		GuildID:    spec.GuildID,
		PluginName: spec.PluginName,
		Params:     maps.Clone(spec.Params),
		Status:     model.StatusPending,
		CreatedAt:  r.now().UTC(),
		Playlist:   batch,
	}

	r.mu.Lock()
	r.jobs[job.ID] = &entry{job: job}
	r.mu.Unlock()

	r.log.Debug("job created",
		logger.String("job_id", job.ID),
		logger.String("plugin", job.PluginName),
		logger.String("owner_id", job.OwnerID),
	)
	r.notify(job, "")
	return job.ID
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	return e, ok
}

// update runs fn under the job's lock and notifies observers if the status changed.
func (r *Registry) update(id string, fn func(job *model.Job) error) (model.Job, error) {
	e, ok := r.lookup(id)
	if !ok {
		return model.Job{}, ErrNotFound
	}
	e.mu.Lock()
	from := e.job.Status
	err := fn(&e.job)
	snap := e.job.Clone()
	e.mu.Unlock()

	if err == nil && snap.Status != from {
		r.notify(snap, from)
	}
	return snap, err
}

func (r *Registry) notify(job model.Job, from string) {
	for _, o := range r.observers {
		o.JobTransitioned(job, from)
	}
}

func (r *Registry) Start(id string) error {
	_, err := r.update(id, func(job *model.Job) error {
		if err := model.TransitionJobStatus(job, model.StatusRunning, ""); err != nil {
			return err
		}
		job.StartedAt = r.now().UTC()
		return nil
	})
	return err
}

// Complete finishes a single job, keeping a preview of its output.
func (r *Registry) Complete(id, result string) error {
	_, err := r.update(id, func(job *model.Job) error {
		if err := model.TransitionJobStatus(job, model.StatusCompleted, ""); err != nil {
			return err
		}
		job.ResultPreview = Preview(result)
		job.FinishedAt = r.now().UTC()
		return nil
	})
	return err
}

func (r *Registry) Fail(id, msg string) error {
	_, err := r.update(id, func(job *model.Job) error {
		if err := model.TransitionJobStatus(job, model.StatusFailed, msg); err != nil {
			return err
		}
		job.FinishedAt = r.now().UTC()
		return nil
	})
	return err
}

// RecordItem counts one item outcome on a running batch. It returns false,
// without changing anything, when the job is no longer running or every item
// is already accounted for.
func (r *Registry) RecordItem(id string, ok bool) (model.Job, bool) {
	recorded := false
	snap, err := r.update(id, func(job *model.Job) error {
		if job.Status != model.StatusRunning || job.Playlist == nil {
			return nil
		}
		if job.Playlist.Attempted() >= job.Playlist.Total {
			return nil
		}
		if ok {
			job.Playlist.Completed++
		} else {
			job.Playlist.Failed++
		}
		recorded = true
		return nil
	})
	if err != nil {
		return model.Job{}, false
	}
	return snap, recorded
}

// FinalizeBatch derives the terminal status of a batch. A running batch with
// every item attempted becomes completed if any item succeeded, otherwise
// failed. A running batch that stopped early is cancelled. Terminal jobs are
// returned unchanged.
func (r *Registry) FinalizeBatch(id, preview string) (model.Job, error) {
	return r.update(id, func(job *model.Job) error {
		if model.IsTerminal(job.Status) {
			return nil
		}
		to := model.StatusCancelled
		reason := ""
		if job.Playlist != nil && job.Playlist.Attempted() >= job.Playlist.Total {
			if job.Playlist.Completed > 0 {
				to = model.StatusCompleted
			} else {
				to = model.StatusFailed
				reason = "all items failed"
			}
		} else {
			reason = "interrupted before all items were attempted"
		}
		if job.Status == model.StatusPending && to != model.StatusCancelled {
			if err := model.TransitionJobStatus(job, model.StatusRunning, ""); err != nil {
				return err
			}
		}
		if err := model.TransitionJobStatus(job, to, reason); err != nil {
			return err
		}
		job.ResultPreview = Preview(preview)
		job.FinishedAt = r.now().UTC()
		return nil
	})
}

// Cancel moves an owned, active job to cancelled. It returns false when the
// job is already terminal. A job owned by someone else is reported as not found.
func (r *Registry) Cancel(id, ownerID string) (bool, error) {
	cancelled := false
	_, err := r.update(id, func(job *model.Job) error {
		if job.OwnerID != ownerID {
			return ErrNotFound
		}
		if !model.CanTransition(job.Status, model.StatusCancelled) {
			return nil
		}
		if err := model.TransitionJobStatus(job, model.StatusCancelled, ""); err != nil {
			return err
		}
		job.FinishedAt = r.now().UTC()
		cancelled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if cancelled {
		r.log.Info("job cancelled", logger.String("job_id", id), logger.String("owner_id", ownerID))
	}
	return cancelled, nil
}

// IsCancelled is the cooperative cancellation check. Unknown ids count as cancelled.
func (r *Registry) IsCancelled(id string) bool {
	e, ok := r.lookup(id)
	if !ok {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Status == model.StatusCancelled
}

// SetPhase records a free-form progress note on an active job.
func (r *Registry) SetPhase(id, phase string) {
	_, _ = r.update(id, func(job *model.Job) error {
		if model.IsActive(job.Status) {
			job.Phase = phase
		}
		return nil
	})
}

func (r *Registry) Get(id string) (model.Job, error) {
	e, ok := r.lookup(id)
	if !ok {
		return model.Job{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), nil
}

// GetOwned is Get restricted to jobs owned by ownerID.
func (r *Registry) GetOwned(id, ownerID string) (model.Job, error) {
	job, err := r.Get(id)
	if err != nil || job.OwnerID != ownerID {
		return model.Job{}, ErrNotFound
	}
	return job, nil
}

// snapshot copies every job matching keep, oldest first.
func (r *Registry) snapshot(keep func(model.Job) bool) []model.Job {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]model.Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		job := e.job.Clone()
		e.mu.Unlock()
		if keep == nil || keep(job) {
			out = append(out, job)
		}
	}
	slices.SortFunc(out, func(a, b model.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (r *Registry) All() []model.Job {
	return r.snapshot(nil)
}

func (r *Registry) UserJobs(ownerID string) []model.Job {
	return r.snapshot(func(j model.Job) bool { return j.OwnerID == ownerID })
}

func (r *Registry) UserActiveJobs(ownerID string) []model.Job {
	return r.snapshot(func(j model.Job) bool {
		return j.OwnerID == ownerID && model.IsActive(j.Status)
	})
}

// UserActivePlaylistJobs returns the owner's pending or running batches, newest first.
func (r *Registry) UserActivePlaylistJobs(ownerID string) []model.Job {
	jobs := r.snapshot(func(j model.Job) bool {
		return j.OwnerID == ownerID && j.IsBatch() && model.IsActive(j.Status)
	})
	slices.Reverse(jobs)
	return jobs
}

// PluginJobs returns the newest limit jobs for a plugin; limit <= 0 means all.
func (r *Registry) PluginJobs(plugin string, limit int) []model.Job {
	jobs := r.snapshot(func(j model.Job) bool { return j.PluginName == plugin })
	slices.Reverse(jobs)
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

func (r *Registry) Stats() Stats {
	s := Stats{ByStatus: map[string]int{}}
	for _, j := range r.snapshot(nil) {
		s.Total++
		s.ByStatus[j.Status]++
	}
	return s
}

// Cleanup drops terminal jobs finished more than maxAge ago, and cooldown
// records older than maxAge. It returns the number of jobs removed.
func (r *Registry) Cleanup(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	removed := 0
	for id, e := range r.jobs {
		e.mu.Lock()
		stale := model.IsTerminal(e.job.Status) && !e.job.FinishedAt.IsZero() && e.job.FinishedAt.Before(cutoff)
		e.mu.Unlock()
		if stale {
			delete(r.jobs, id)
			removed++
		}
	}
	r.mu.Unlock()

	r.cooldownMu.Lock()
	for k, at := range r.cooldowns {
		if at.Before(cutoff) {
			delete(r.cooldowns, k)
		}
	}
	r.cooldownMu.Unlock()

	if removed > 0 {
		r.log.Info("cleaned up finished jobs", logger.Int("removed", removed))
	}
	return removed
}

// CheckCooldown reports whether ownerID may invoke plugin now. It does not
// record the invocation; admission goes through ReserveCooldown.
func (r *Registry) CheckCooldown(ownerID, plugin string, seconds int) bool {
	return r.CooldownRemaining(ownerID, plugin, seconds) == 0
}

// MarkInvoked starts the cooldown window for ownerID and plugin.
func (r *Registry) MarkInvoked(ownerID, plugin string) {
	r.cooldownMu.Lock()
	r.cooldowns[cooldownKey{owner: ownerID, plugin: plugin}] = r.now()
	r.cooldownMu.Unlock()
}

// CooldownRemaining is the time left before ownerID may invoke plugin again.
func (r *Registry) CooldownRemaining(ownerID, plugin string, seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	r.cooldownMu.Lock()
	defer r.cooldownMu.Unlock()
	return r.remainingLocked(cooldownKey{owner: ownerID, plugin: plugin}, seconds)
}

// ReserveCooldown checks and starts the cooldown window in one step, so two
// concurrent invocations cannot both pass. When ok is false, remaining is the
// time left. The returned release undoes the reservation for an invocation
// that was not started after all; it is a no-op once a later reservation
// replaced this one.
func (r *Registry) ReserveCooldown(ownerID, plugin string, seconds int) (release func(), remaining time.Duration, ok bool) {
	if seconds <= 0 {
		return func() {}, 0, true
	}
	key := cooldownKey{owner: ownerID, plugin: plugin}
	r.cooldownMu.Lock()
	defer r.cooldownMu.Unlock()
	if remaining := r.remainingLocked(key, seconds); remaining > 0 {
		return nil, remaining, false
	}
	prev, hadPrev := r.cooldowns[key]
	stamp := r.now()
	r.cooldowns[key] = stamp
	var once sync.Once
	return func() {
		once.Do(func() {
			r.cooldownMu.Lock()
			defer r.cooldownMu.Unlock()
			if cur, ok := r.cooldowns[key]; !ok || !cur.Equal(stamp) {
				return
			}
			if hadPrev {
				r.cooldowns[key] = prev
			} else {
				delete(r.cooldowns, key)
			}
		})
	}, 0, true
}

func (r *Registry) remainingLocked(key cooldownKey, seconds int) time.Duration {
	last, ok := r.cooldowns[key]
	if !ok {
		return 0
	}
	remaining := time.Duration(seconds)*time.Second - r.now().Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Preview keeps the first previewChars characters of s.
func Preview(s string) string {
	r := []rune(s)
	if len(r) <= previewChars {
		return s
	}
	return string(r[:previewChars])
}
