package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plugin-jobs/internal/model"
	"plugin-jobs/internal/sandbox"
)

func TestJobTransitionedTracksActiveGauge(t *testing.T) {
	m := New()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := model.Job{PluginName: "transcribe", CreatedAt: created, Status: model.StatusPending}

	m.JobTransitioned(job, "")
	job.Status = model.StatusRunning
	m.JobTransitioned(job, model.StatusPending)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveJobs.WithLabelValues("transcribe")))

	job.Status = model.StatusCompleted
	job.FinishedAt = created.Add(90 * time.Second)
	m.JobTransitioned(job, model.StatusRunning)

	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveJobs.WithLabelValues("transcribe")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobTransitions.WithLabelValues("transcribe", model.StatusCompleted)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.JobDuration))
}

func TestCommandOutcome(t *testing.T) {
	assert.Equal(t, "success", commandOutcome(nil))
	assert.Equal(t, "timeout", commandOutcome(&sandbox.TimeoutError{Program: "yt-dlp"}))
	assert.Equal(t, "exit_error", commandOutcome(&sandbox.ExitError{Program: "yt-dlp", Code: 1}))
	assert.Equal(t, "disallowed", commandOutcome(&sandbox.DisallowedProgramError{Program: "rm"}))
	assert.Equal(t, "error", commandOutcome(errors.New("boom")))
}

func TestHandlerServesOwnRegistry(t *testing.T) {
	m := New()
	m.ObserveItem("transcribe", true)
	m.ObserveWindow(false)
	m.ObserveRejection("transcribe", "cooldown")
	m.ObserveCommand("yt-dlp", time.Second, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `plugin_jobs_batch_items_total{outcome="success",plugin="transcribe"} 1`)
	assert.Contains(t, body, `plugin_jobs_transcription_windows_total{outcome="failure"} 1`)
	assert.Contains(t, body, `plugin_jobs_admission_rejected_total{plugin="transcribe",reason="cooldown"} 1`)

	// a second instance must not collide with the first
	assert.NotPanics(t, func() { New() })
}
