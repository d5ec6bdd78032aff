package model

import (
	"errors"
	"testing"
)

func TestCanTransition_AllowsExpectedPaths(t *testing.T) {
	cases := []struct {
		from string
		to   string
	}{
		{"", StatusPending},
		{StatusPending, StatusRunning},
		{StatusPending, StatusCancelled},
		{StatusRunning, StatusCompleted},
		{StatusRunning, StatusFailed},
		{StatusRunning, StatusCancelled},
	}

	for _, tc := range cases {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("expected transition %q -> %q to be allowed", tc.from, tc.to)
		}
	}
}

func TestCanTransition_RejectsInvalidPaths(t *testing.T) {
	cases := []struct {
		from string
		to   string
	}{
		{StatusPending, StatusCompleted},
		{StatusPending, StatusFailed},
		{StatusCompleted, StatusRunning},
		{StatusCompleted, StatusCancelled},
		{StatusFailed, StatusCancelled},
		{StatusCancelled, StatusRunning},
		{StatusCancelled, StatusCancelled},
		{"not_a_state", StatusPending},
	}

	for _, tc := range cases {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("expected transition %q -> %q to be rejected", tc.from, tc.to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []string{StatusCompleted, StatusFailed, StatusCancelled} {
		if !IsTerminal(s) {
			t.Fatalf("expected %q to be terminal", s)
		}
	}
	for _, s := range []string{"", StatusPending, StatusRunning, "bogus"} {
		if IsTerminal(s) {
			t.Fatalf("expected %q not to be terminal", s)
		}
	}
}

func TestTransitionJobStatus_BlocksIllegalTransition(t *testing.T) {
	job := Job{
		ID:         "job-1",
		PluginName: "transcribe",
		Status:     StatusPending,
	}

	err := TransitionJobStatus(&job, StatusCompleted, "")
	if err == nil {
		t.Fatalf("expected illegal transition error")
	}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if job.Status != StatusPending {
		t.Fatalf("status changed on rejected transition: %q", job.Status)
	}
}

func TestTransitionJobStatus_RecordsReason(t *testing.T) {
	job := Job{ID: "job-1", Status: StatusRunning}
	if err := TransitionJobStatus(&job, StatusFailed, "exit status 2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != StatusFailed || job.Error != "exit status 2" {
		t.Fatalf("unexpected job after transition: %+v", job)
	}
}
