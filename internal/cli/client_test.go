package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cannedJobs = `{"count":2,"jobs":[
 {"id":"0190a5c2-0000-7000-8000-00000000aaaa","owner_id":"ana","plugin_name":"transcribe","status":"running","created_at":"2026-10-17T10:00:00Z",
  "playlist":{"total_videos":4,"completed_videos":1,"failed_videos":1,"playlist_title":"Conference talks"},"short_id":"0000aaaa","progress_percent":50},
 {"id":"0190a5c2-0000-7000-8000-00000000bbbb","owner_id":"bob","plugin_name":"echo","status":"completed","created_at":"2026-10-17T10:01:00Z","short_id":"0000bbbb"}
]}`

type fakeAPI struct {
	*httptest.Server
	lastQuery  string
	cancelBody map[string]string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		f.lastQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(cannedJobs))
	})
	mux.HandleFunc("GET /v1/jobs/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"job_id":"` + r.PathValue("id") + `","events":[{"type":"result","job_id":"` + r.PathValue("id") + `","status":"completed","message":"done"}]}`))
	})
	mux.HandleFunc("POST /v1/jobs/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.cancelBody)
		switch r.PathValue("id") {
		case "0000aaaa":
			_, _ = w.Write([]byte(`{"accepted":true,"job_id":"0190a5c2-0000-7000-8000-00000000aaaa","short_id":"0000aaaa","message":"Cancelled job 0000aaaa"}`))
		case "0000bbbb":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"accepted":false,"job_id":"0190a5c2-0000-7000-8000-00000000bbbb","message":"Job 0000bbbb is no longer active (status: completed)"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"job not found"}}`))
		}
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func TestAPIClientBaseAddress(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8080", newAPIClient(":8080").base)
	assert.Equal(t, "http://jobs.local:9000", newAPIClient("jobs.local:9000/").base)
	assert.Equal(t, "https://jobs.example.com", newAPIClient(" https://jobs.example.com ").base)
}

func TestAPIClientRoundTrips(t *testing.T) {
	api := newFakeAPI(t)
	c := newAPIClient(api.URL)
	ctx := context.Background()

	jobs, err := c.ListJobs(ctx, "ana", "running")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "status=running&user_id=ana", api.lastQuery)
	assert.Equal(t, "0000aaaa", jobs[0].ShortID)
	assert.InDelta(t, 50.0, jobs[0].Progress, 0.001)
	require.NotNil(t, jobs[0].Playlist)
	assert.Equal(t, 2, jobs[0].Playlist.Attempted())

	events, err := c.Events(ctx, "0000aaaa")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "done", events[0].Message)

	out, err := c.Cancel(ctx, "0000bbbb", "bob")
	require.NoError(t, err, "409 carries an outcome, not an error")
	assert.False(t, out.Accepted)
	assert.Equal(t, map[string]string{"user_id": "bob"}, api.cancelBody)

	_, err = c.Cancel(ctx, "missing0", "bob")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
}

func TestJobsCommands(t *testing.T) {
	newHarness(t, externalPlugins, "echo", "summarize")
	api := newFakeAPI(t)
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, execute(ctx, []string{"jobs", "--server", api.URL, "list", "--user", "ana"}, &buf))
	text := buf.String()
	assert.Contains(t, text, "JOB")
	assert.Contains(t, text, "0000aaaa")
	assert.Contains(t, text, "2/4 (50%)")
	assert.Contains(t, text, "Conference talks")
	assert.Equal(t, "user_id=ana", api.lastQuery)

	buf.Reset()
	require.NoError(t, execute(ctx, []string{"jobs", "cancel", "0000aaaa", "--user", "ana", "--server", api.URL}, &buf))
	assert.Contains(t, buf.String(), "Cancelled job 0000aaaa")

	buf.Reset()
	err := execute(ctx, []string{"jobs", "cancel", "0000bbbb", "--user", "bob", "--server", api.URL}, &buf)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "no longer active")

	err = execute(ctx, []string{"jobs", "cancel", "0000aaaa", "--server", api.URL}, &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user")
}
