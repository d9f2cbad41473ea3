package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the conversion pipeline instrumentation
type Metrics struct {
	jobsSubmitted prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	activeJobs    prometheus.Gauge
	stageDuration *prometheus.HistogramVec
	cleanupFiles  prometheus.Counter
	cleanupBytes  prometheus.Counter
}

// New creates the instrument set on the given registerer
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		jobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "audiblez",
			Name:      "jobs_submitted_total",
			Help:      "Total number of conversion jobs accepted",
		}),

		jobsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "audiblez",
				Name:      "jobs_finished_total",
				Help:      "Total number of jobs by terminal status",
			},
			[]string{"status"},
		),

		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "audiblez",
			Name:      "active_jobs",
			Help:      "Number of jobs currently owning an external process",
		}),

		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "audiblez",
				Name:      "stage_duration_seconds",
				Help:      "Wall-clock duration of pipeline stages",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
			},
			[]string{"stage"},
		),

		cleanupFiles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "audiblez",
			Name:      "cleanup_files_deleted_total",
			Help:      "Total number of temporary files removed by cleanup",
		}),

		cleanupBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "audiblez",
			Name:      "cleanup_bytes_freed_total",
			Help:      "Total bytes reclaimed by cleanup",
		}),
	}
}

// JobSubmitted records an accepted conversion request
func (m *Metrics) JobSubmitted() {
	m.jobsSubmitted.Inc()
}

// JobFinished records a terminal transition
func (m *Metrics) JobFinished(status string) {
	m.jobsFinished.WithLabelValues(status).Inc()
}

// JobActive tracks the number of jobs holding a process slot
func (m *Metrics) JobActive(delta int) {
	m.activeJobs.Add(float64(delta))
}

// ObserveStage records one stage's wall-clock duration
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// CleanupRemoved records the outcome of a cleanup pass
func (m *Metrics) CleanupRemoved(files int, bytes int64) {
	m.cleanupFiles.Add(float64(files))
	m.cleanupBytes.Add(float64(bytes))
}
