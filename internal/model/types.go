package model

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Job is one tracked unit of requested work.
type Job struct {
	ID            string            `json:"id"`
	OwnerID       string            `json:"owner_id"`
	GuildID       string            `json:"guild_id,omitempty"`
	PluginName    string            `json:"plugin_name"`
	Params        map[string]string `json:"params,omitempty"`
	Status        string            `json:"status"`
	Phase         string            `json:"phase,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	StartedAt     time.Time         `json:"started_at,omitzero"`
	FinishedAt    time.Time         `json:"finished_at,omitzero"`
	ResultPreview string            `json:"result_preview,omitempty"`
	Error         string            `json:"error,omitempty"`
	Playlist      *BatchProgress    `json:"playlist,omitempty"`
}

// BatchProgress makes a job an aggregate over a fan-out of items.
type BatchProgress struct {
	Total     int    `json:"total_videos"`
	Completed int    `json:"completed_videos"`
	Failed    int    `json:"failed_videos"`
	Title     string `json:"playlist_title,omitempty"`
}

// Attempted is the number of items that reached an outcome.
func (b BatchProgress) Attempted() int {
	return b.Completed + b.Failed
}

func (j Job) IsBatch() bool {
	return j.Playlist != nil
}

// Clone returns a copy that shares no mutable state with j.
func (j Job) Clone() Job {
	out := j
	if j.Params != nil {
		out.Params = maps.Clone(j.Params)
	}
	if j.Playlist != nil {
		p := *j.Playlist
		out.Playlist = &p
	}
	return out
}

// ProgressPercent is (completed+failed)/total*100, or 0 for jobs without items.
func ProgressPercent(job Job) float64 {
	if job.Playlist == nil || job.Playlist.Total == 0 {
		return 0
	}
	return float64(job.Playlist.Attempted()) / float64(job.Playlist.Total) * 100
}

// ShortID is the display form of a job id. Ids are UUIDv7, whose leading
// characters are a timestamp shared by jobs created close together, so the
// random tail is shown instead.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}

// MatchesID reports whether ref is the full id or its short form.
func MatchesID(id, ref string) bool {
	if ref == "" {
		return false
	}
	return id == ref || (len(ref) >= 8 && strings.HasSuffix(id, ref))
}

// Title is the playlist title when known, otherwise the plugin name.
func (j Job) Title() string {
	if j.Playlist != nil && j.Playlist.Title != "" {
		return j.Playlist.Title
	}
	return j.PluginName
}

// Summary is the one-line outcome of a job, e.g. "cancelled, 1/5 completed".
func Summary(job Job) string {
	if job.Playlist == nil {
		return job.Status
	}
	s := fmt.Sprintf("%s, %d/%d completed", job.Status, job.Playlist.Completed, job.Playlist.Total)
	if job.Playlist.Failed > 0 {
		s += fmt.Sprintf(", %d failed", job.Playlist.Failed)
	}
	return s
}
