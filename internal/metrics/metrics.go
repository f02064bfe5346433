package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "versebot"

// Metrics holds the bot's prometheus instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	quotaCalls     *prometheus.CounterVec
	quotaRemaining prometheus.Gauge
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	outcomes       *prometheus.CounterVec
	triage         *prometheus.CounterVec
}

// New registers every instrument on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		quotaCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_calls_total",
			Help:      "Remote feed read calls made in this process.",
		}, []string{"kind"}),
		quotaRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_calls_remaining",
			Help:      "Advisory remaining monthly feed call budget.",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job executions by result.",
		}, []string{"job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Scheduled job wall time.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"job"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interaction_outcomes_total",
			Help:      "Ledger outcomes recorded, by outcome.",
		}, []string{"outcome"}),
		triage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triage_exclusions_total",
			Help:      "Candidates dropped by triage, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.quotaCalls, m.quotaRemaining, m.jobRuns, m.jobDuration, m.outcomes, m.triage)
	return m
}

func (m *Metrics) FeedCall(kind string, remaining int) {
	if m == nil {
		return
	}
	m.quotaCalls.WithLabelValues(kind).Inc()
	m.quotaRemaining.Set(float64(remaining))
}

func (m *Metrics) JobRun(job string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) Outcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Excluded(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.triage.WithLabelValues(reason).Add(float64(n))
}
