// Package metrics exposes Prometheus collectors for jobs, items and commands.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"plugin-jobs/internal/model"
	"plugin-jobs/internal/sandbox"
)

const namespace = "plugin_jobs"

// Metrics holds every collector. Each instance owns its registry so several
// can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	JobTransitions    *prometheus.CounterVec
	ActiveJobs        *prometheus.GaugeVec
	JobDuration       *prometheus.HistogramVec
	ItemsProcessed    *prometheus.CounterVec
	WindowsProcessed  *prometheus.CounterVec
	CommandDuration   *prometheus.HistogramVec
	AdmissionRejected *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		JobTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Job status transitions by plugin and target status",
		}, []string{"plugin", "status"}),
		ActiveJobs: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Jobs currently pending or running",
		}, []string{"plugin"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time from job creation to a terminal status",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"plugin", "status"}),
		ItemsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_items_total",
			Help:      "Batch items by outcome",
		}, []string{"plugin", "outcome"}),
		WindowsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_windows_total",
			Help:      "Transcription windows by outcome",
		}, []string{"outcome"}),
		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Sandboxed command wall time by program and outcome",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"program", "outcome"}),
		AdmissionRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejected_total",
			Help:      "Plugin invocations refused before a job was created",
		}, []string{"plugin", "reason"}),
	}
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// JobTransitioned implements registry.Observer.
func (m *Metrics) JobTransitioned(job model.Job, from string) {
	m.JobTransitions.WithLabelValues(job.PluginName, job.Status).Inc()
	wasActive := model.IsActive(from)
	isActive := model.IsActive(job.Status)
	switch {
	case isActive && !wasActive:
		m.ActiveJobs.WithLabelValues(job.PluginName).Inc()
	case wasActive && !isActive:
		m.ActiveJobs.WithLabelValues(job.PluginName).Dec()
	}
	if model.IsTerminal(job.Status) && !job.FinishedAt.IsZero() {
		m.JobDuration.WithLabelValues(job.PluginName, job.Status).Observe(job.FinishedAt.Sub(job.CreatedAt).Seconds())
	}
}

// ObserveCommand implements sandbox.CommandObserver.
func (m *Metrics) ObserveCommand(program string, d time.Duration, err error) {
	m.CommandDuration.WithLabelValues(program, commandOutcome(err)).Observe(d.Seconds())
}

func (m *Metrics) ObserveItem(plugin string, ok bool) {
	m.ItemsProcessed.WithLabelValues(plugin, outcome(ok)).Inc()
}

func (m *Metrics) ObserveWindow(ok bool) {
	m.WindowsProcessed.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) ObserveRejection(plugin, reason string) {
	m.AdmissionRejected.WithLabelValues(plugin, reason).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func commandOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, sandbox.ErrTimeout):
		return "timeout"
	case errors.Is(err, sandbox.ErrNonZeroExit):
		return "exit_error"
	case errors.Is(err, sandbox.ErrDisallowedProgram):
		return "disallowed"
	default:
		return "error"
	}
}
