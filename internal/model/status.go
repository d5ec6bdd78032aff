package model

import (
	"errors"
	"fmt"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ErrInvalidTransition is returned when a status change is not in the lifecycle table.
var ErrInvalidTransition = errors.New("invalid job status transition")

var allowedTransitions = map[string]map[string]bool{
	"": {
		StatusPending: true,
	},
	StatusPending: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

func IsKnownStatus(status string) bool {
	_, ok := allowedTransitions[status]
	return ok
}

func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status string) bool {
	next, ok := allowedTransitions[status]
	return ok && status != "" && len(next) == 0
}

// IsActive reports whether the job has not started or is still running.
func IsActive(status string) bool {
	return status == StatusPending || status == StatusRunning
}

func TransitionJobStatus(job *Job, toStatus string, reason string) error {
	from := job.Status
	if !CanTransition(from, toStatus) {
		return fmt.Errorf("%w: %q -> %q (job_id=%s plugin=%s)", ErrInvalidTransition, from, toStatus, job.ID, job.PluginName)
	}
	job.Status = toStatus
	if reason != "" {
		job.Error = reason
	}
	return nil
}
