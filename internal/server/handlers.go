package server

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"plugin-jobs/internal/model"
	"plugin-jobs/internal/plugin"
	"plugin-jobs/internal/registry"
)

const maxBodyBytes = 1 << 20

type commandRequest struct {
	UserID  string            `json:"user_id"`
	GuildID string            `json:"guild_id"`
	Roles   []string          `json:"roles"`
	Params  map[string]string `json:"params"`
}

type outcomeResponse struct {
	Accepted          bool   `json:"accepted"`
	JobID             string `json:"job_id,omitempty"`
	ShortID           string `json:"short_id,omitempty"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func newOutcomeResponse(out plugin.Outcome) outcomeResponse {
	resp := outcomeResponse{Accepted: out.Accepted, JobID: out.JobID, Message: out.Message}
	if out.JobID != "" {
		resp.ShortID = model.ShortID(out.JobID)
	}
	if out.RetryAfter > 0 {
		resp.RetryAfterSeconds = int(math.Ceil(out.RetryAfter.Seconds()))
	}
	return resp
}

type jobView struct {
	model.Job
	ShortID  string  `json:"short_id"`
	Progress float64 `json:"progress_percent"`
}

func newJobView(job model.Job) jobView {
	return jobView{Job: job, ShortID: model.ShortID(job.ID), Progress: model.ProgressPercent(job)}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.jobs.Stats())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "user_id is required")
		return
	}

	out, err := s.dispatcher.Dispatch(r.Context(), plugin.Invocation{
		Command: chi.URLParam(r, "command"),
		UserID:  req.UserID,
		GuildID: req.GuildID,
		Roles:   req.Roles,
		Params:  req.Params,
	})
	if err != nil {
		respondErr(w, err)
		return
	}

	resp := newOutcomeResponse(out)
	switch {
	case out.Accepted && out.JobID != "":
		respondJSON(w, http.StatusAccepted, resp)
	case out.RetryAfter > 0:
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
		respondJSON(w, http.StatusTooManyRequests, resp)
	default:
		respondJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var jobs []model.Job
	if owner := r.URL.Query().Get("user_id"); owner != "" {
		jobs = s.jobs.UserJobs(owner)
	} else {
		jobs = s.jobs.All()
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := jobs[:0]
		for _, job := range jobs {
			if job.Status == status {
				filtered = append(filtered, job)
			}
		}
		jobs = filtered
	}
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, newJobView(job))
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": views, "count": len(views)})
}

// findJob accepts a full id or a short id suffix.
func (s *Server) findJob(ref string) (model.Job, error) {
	if job, err := s.jobs.Get(ref); err == nil {
		return job, nil
	}
	for _, job := range s.jobs.All() {
		if model.MatchesID(job.ID, ref) {
			return job, nil
		}
	}
	return model.Job{}, registry.ErrNotFound
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.findJob(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newJobView(job))
}

func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	job, err := s.findJob(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	events := s.dispatcher.Events().For(job.ID)
	if events == nil {
		events = []plugin.Event{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"job_id": job.ID, "events": events})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "user_id is required")
		return
	}
	out, err := s.dispatcher.CancelJob(req.UserID, chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	switch {
	case out.JobID == "":
		respondError(w, http.StatusNotFound, "NOT_FOUND", out.Message)
	case !out.Accepted:
		respondJSON(w, http.StatusConflict, newOutcomeResponse(out))
	default:
		respondJSON(w, http.StatusOK, newOutcomeResponse(out))
	}
}
