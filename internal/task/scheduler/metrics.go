package scheduler

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"coinbot/internal/task/registry"
)

// Metrics are the loop's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	lateness prometheus.Histogram
	jobs     prometheus.Gauge
	prunes   prometheus.Counter
}

// NewMetrics registers the scheduler collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinbot",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Job executions by job family and result.",
		}, []string{"job", "result"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coinbot",
			Subsystem: "scheduler",
			Name:      "job_failures_total",
			Help:      "Job executions that returned an error or panicked.",
		}, []string{"job"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coinbot",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Job execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"job"}),
		lateness: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "coinbot",
			Subsystem: "scheduler",
			Name:      "tick_lateness_seconds",
			Help:      "Delay between a tick instant and the loop waking for it.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		jobs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "coinbot",
			Subsystem: "scheduler",
			Name:      "jobs",
			Help:      "Jobs currently registered.",
		}),
		prunes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "coinbot",
			Subsystem: "scheduler",
			Name:      "jobs_pruned_total",
			Help:      "Exhausted jobs removed from the registry.",
		}),
	}
}

func (m *Metrics) observeRun(job string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		m.failures.WithLabelValues(job).Inc()
	}
	m.runs.WithLabelValues(job, result).Inc()
	m.duration.WithLabelValues(job).Observe(took.Seconds())
}

func (m *Metrics) observeLateness(d time.Duration) {
	if m == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	m.lateness.Observe(d.Seconds())
}

func (m *Metrics) setJobs(n int) {
	if m == nil {
		return
	}
	m.jobs.Set(float64(n))
}

func (m *Metrics) pruned(n int) {
	if m == nil {
		return
	}
	m.prunes.Add(float64(n))
}

// metricLabel keeps label cardinality bounded: grouped jobs report the group
// family ("remind" for "remind_42"), ungrouped jobs their id.
func metricLabel(j registry.Job) string {
	if j.Group == "" {
		return j.ID
	}
	family, _, _ := strings.Cut(j.Group, "_")
	return family
}
