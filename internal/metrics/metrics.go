// Package metrics exposes Prometheus collectors for the selfie pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "selfie"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	admitted      prometheus.Counter
	replayed      prometheus.Counter
	rejected      *prometheus.CounterVec
	inflight      prometheus.Gauge
	running       prometheus.Gauge
	outcomes      *prometheus.CounterVec
	duration      prometheus.Histogram
	reaped        prometheus.Counter
	sweptJobs     prometheus.Counter
	sweptBlobs    *prometheus.CounterVec
	sweepFailures prometheus.Counter
}

// New registers all collectors on a fresh registry, together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		admitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_admitted_total",
			Help: "Submissions admitted into the generation queue.",
		}),
		replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_replayed_total",
			Help: "Submissions answered from an existing idempotent record.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_rejected_total",
			Help: "Submissions rejected before admission, by reason.",
		}, []string{"reason"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "jobs_inflight",
			Help: "Jobs queued or running.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "jobs_running",
			Help: "Jobs holding a generation slot.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_finished_total",
			Help: "Jobs that reached a terminal state, by status and error code.",
		}, []string{"status", "code"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_duration_seconds",
			Help:    "Wall time from worker start to terminal state.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
		}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_timed_out_total",
			Help: "Processing jobs failed by the stale-processing reaper.",
		}),
		sweptJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweeper_jobs_deleted_total",
			Help: "Expired job records deleted by the sweeper.",
		}),
		sweptBlobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweeper_blobs_total",
			Help: "Blob deletions attempted by the sweeper, by result.",
		}, []string{"result"}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweeper_runs_failed_total",
			Help: "Sweeper iterations that ended with an error.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.admitted, m.replayed, m.rejected, m.inflight, m.running,
		m.outcomes, m.duration, m.reaped,
		m.sweptJobs, m.sweptBlobs, m.sweepFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) JobAdmitted() {
	if m == nil {
		return
	}
	m.admitted.Inc()
}

func (m *Metrics) JobReplayed() {
	if m == nil {
		return
	}
	m.replayed.Inc()
}

// JobRejected counts a rejection; reason is one of rate_limited, overloaded,
// invalid, too_large, storage.
func (m *Metrics) JobRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

// SetQueue mirrors the admission controller's counters.
func (m *Metrics) SetQueue(inflight, running int) {
	if m == nil {
		return
	}
	m.inflight.Set(float64(inflight))
	m.running.Set(float64(running))
}

func (m *Metrics) JobFinished(status, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(status, code).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) JobTimedOut() {
	if m == nil {
		return
	}
	m.reaped.Inc()
}

func (m *Metrics) Swept(jobs, blobsDeleted, blobsFailed int) {
	if m == nil {
		return
	}
	m.sweptJobs.Add(float64(jobs))
	m.sweptBlobs.WithLabelValues("deleted").Add(float64(blobsDeleted))
	m.sweptBlobs.WithLabelValues("failed").Add(float64(blobsFailed))
}

func (m *Metrics) SweepFailed() {
	if m == nil {
		return
	}
	m.sweepFailures.Inc()
}
