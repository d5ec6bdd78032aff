package plugin

import (
	"fmt"
	"strings"

	"plugin-jobs/internal/config"
	"plugin-jobs/internal/logger"
	"plugin-jobs/internal/model"
)

const (
	maxListedTitle = 40
	maxListedURL   = 50
)

// StatusText lists the owner's active playlist jobs with their progress,
// followed by active single jobs.
func (m *Manager) StatusText(ownerID string) string {
	batches := m.jobs.UserActivePlaylistJobs(ownerID)
	var singles []model.Job
	for _, job := range m.jobs.UserActiveJobs(ownerID) {
		if !job.IsBatch() {
			singles = append(singles, job)
		}
	}
	if len(batches) == 0 && len(singles) == 0 {
		return "You have no active transcription jobs."
	}

	lines := []string{"Your transcription jobs:"}
	if len(batches) > 0 {
		lines = append(lines, "", "Playlist jobs:")
		for _, job := range batches {
			title := job.Playlist.Title
			if title == "" {
				title = "Untitled playlist"
			}
			lines = append(lines, fmt.Sprintf("• `%s` %q - %d/%d videos (%.0f%%)",
				model.ShortID(job.ID),
				clip(title, maxListedTitle),
				job.Playlist.Attempted(),
				job.Playlist.Total,
				model.ProgressPercent(job),
			))
		}
	}
	if len(singles) > 0 {
		lines = append(lines, "", "Video jobs:")
		for _, job := range singles {
			url := job.Params["url"]
			if url == "" {
				url = job.PluginName
			}
			lines = append(lines, fmt.Sprintf("• `%s` %s - %s", model.ShortID(job.ID), clip(url, maxListedURL), job.Status))
		}
	}
	if name := m.commandOfKind(config.KindJobCancel); name != "" {
		lines = append(lines, "", fmt.Sprintf("To cancel a job, use /%s [job_id]", name))
	}
	return strings.Join(lines, "\n")
}

// CancelJob cancels the owner's job matching ref (a full id or a suffix of
// at least 8 chars). An empty ref picks the most recent active playlist job.
func (m *Manager) CancelJob(ownerID, ref string) (Outcome, error) {
	ref = strings.TrimSpace(ref)

	var target *model.Job
	if ref == "" {
		if batches := m.jobs.UserActivePlaylistJobs(ownerID); len(batches) > 0 {
			target = &batches[0]
		}
	} else {
		for _, job := range m.jobs.UserJobs(ownerID) {
			if model.MatchesID(job.ID, ref) {
				target = &job
				break
			}
		}
	}
	if target == nil {
		return Outcome{Message: "No active transcription job found to cancel."}, nil
	}

	short := model.ShortID(target.ID)
	if !model.IsActive(target.Status) {
		return Outcome{JobID: target.ID, Message: fmt.Sprintf("Job `%s` is no longer active (status: %s)", short, target.Status)}, nil
	}
	ok, err := m.jobs.Cancel(target.ID, ownerID)
	if err != nil {
		return Outcome{}, err
	}
	job, err := m.jobs.Get(target.ID)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{JobID: job.ID, Message: fmt.Sprintf("Job `%s` is no longer active (status: %s)", short, job.Status)}, nil
	}

	m.log.Info("job cancelled", logger.String("job_id", job.ID), logger.String("owner_id", ownerID))
	msg := fmt.Sprintf("Cancelled transcription job `%s` (%s)", short, job.Title())
	if job.Playlist != nil {
		msg += fmt.Sprintf("\nProgress: %d/%d videos completed", job.Playlist.Completed, job.Playlist.Total)
	}
	return Outcome{Accepted: true, JobID: job.ID, Message: msg}, nil
}

func (m *Manager) commandOfKind(kind config.PluginKind) string {
	for _, p := range m.plugins {
		if p.Kind == kind && p.IsEnabled() {
			return p.Command.Name
		}
	}
	return ""
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
