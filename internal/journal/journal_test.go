package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plugin-jobs/internal/logger"
	"plugin-jobs/internal/model"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir(), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestAppendAndRecent(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, owner := range []string{"u1", "u2", "u1"} {
		require.NoError(t, j.Append(ctx, Entry{
			JobID:      string(rune('a' + i)),
			OwnerID:    owner,
			PluginName: "transcribe",
			Status:     model.StatusCompleted,
			Summary:    "completed",
			CreatedAt:  base,
			FinishedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := j.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].JobID)

	mine, err := j.Recent(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, []string{"c", "a"}, []string{mine[0].JobID, mine[1].JobID})
	assert.Equal(t, base.Add(2*time.Minute), mine[0].FinishedAt)

	limited, err := j.Recent(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestObserverOnlyJournalsTerminalJobs(t *testing.T) {
	j := openTest(t)
	job := model.Job{
		ID:         "job-1",
		OwnerID:    "u1",
		PluginName: "transcribe",
		Status:     model.StatusRunning,
		CreatedAt:  time.Now().UTC(),
		Playlist:   &model.BatchProgress{Total: 3, Title: "Talks"},
	}
	j.JobTransitioned(job, model.StatusPending)

	entries, err := j.Recent(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	job.Status = model.StatusCancelled
	job.Playlist.Completed = 1
	job.FinishedAt = time.Now().UTC()
	j.JobTransitioned(job, model.StatusRunning)

	entries, err = j.Recent(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cancelled, 1/3 completed", entries[0].Summary)
	assert.Equal(t, "Talks", entries[0].Title)
	assert.Equal(t, 3, entries[0].Total)
}

func TestEntryFromSingleJob(t *testing.T) {
	e := EntryFromJob(model.Job{ID: "x", PluginName: "echo", Status: model.StatusFailed, Error: "exit 1"})
	assert.Equal(t, "failed", e.Summary)
	assert.Equal(t, "echo", e.Title)
	assert.False(t, e.FinishedAt.IsZero())
}
