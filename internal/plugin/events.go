package plugin

import (
	"slices"
	"sync"
	"time"

	"plugin-jobs/internal/transcribe"
)

type EventType string

const (
	EventProgress EventType = "progress"
	EventResult   EventType = "result"
)

// Event is one entry in a job's recent history.
type Event struct {
	Type     EventType                 `json:"type"`
	JobID    string                    `json:"job_id"`
	Time     time.Time                 `json:"time"`
	Status   string                    `json:"status,omitempty"`
	Message  string                    `json:"message,omitempty"`
	Progress *transcribe.ProgressEvent `json:"progress,omitempty"`
	Result   *transcribe.Result        `json:"result,omitempty"`
}

// Events keeps the most recent events of every job in memory. It is the
// transcribe.Sink every batch reports to.
type Events struct {
	mu     sync.Mutex
	perJob int
	byJob  map[string][]Event
	now    func() time.Time
}

func NewEvents(perJob int) *Events {
	if perJob <= 0 {
		perJob = 50
	}
	return &Events{perJob: perJob, byJob: map[string][]Event{}, now: time.Now}
}

func (e *Events) Progress(ev transcribe.ProgressEvent) {
	e.Add(Event{Type: EventProgress, JobID: ev.JobID, Progress: &ev})
}

func (e *Events) Result(res transcribe.Result) {
	e.Add(Event{Type: EventResult, JobID: res.JobID, Status: res.Status, Message: res.Summary, Result: &res})
}

func (e *Events) Add(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = e.now().UTC()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	list := append(e.byJob[ev.JobID], ev)
	if len(list) > e.perJob {
		list = slices.Clone(list[len(list)-e.perJob:])
	}
	e.byJob[ev.JobID] = list
}

// For returns a copy of the job's events, oldest first.
func (e *Events) For(jobID string) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.byJob[jobID])
}

// Prune drops the events of every job keep rejects.
func (e *Events) Prune(keep func(jobID string) bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for id := range e.byJob {
		if !keep(id) {
			delete(e.byJob, id)
			removed++
		}
	}
	return removed
}
