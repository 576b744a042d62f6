package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cacheLookups *prometheus.CounterVec
	resolves     *prometheus.CounterVec
	chainReads   *prometheus.HistogramVec
	chainErrors  *prometheus.CounterVec
	jobs         *prometheus.HistogramVec
	rateLimits   *prometheus.CounterVec
}

// New creates a recorder registered on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lendpulse_cache_lookups_total",
				Help: "Cache lookups by namespace and result (hit, miss, join)",
			},
			[]string{"namespace", "result"},
		),
		resolves: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lendpulse_endpoint_resolutions_total",
				Help: "Endpoint resolutions by network and outcome",
			},
			[]string{"network", "outcome"},
		),
		chainReads: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lendpulse_chain_read_duration_seconds",
				Help:    "Duration of protocol read sequences",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"network", "op"},
		),
		chainErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lendpulse_chain_read_errors_total",
				Help: "Failed protocol read sequences",
			},
			[]string{"network", "op"},
		),
		jobs: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lendpulse_job_duration_seconds",
				Help:    "Job attempt duration by queue, job and outcome",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"queue", "job", "outcome"},
		),
		rateLimits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lendpulse_rate_limit_decisions_total",
				Help: "Rate limiter decisions by action",
			},
			[]string{"action", "decision"},
		),
	}
}

// RecordCacheLookup counts a cache lookup.
func (r *Recorder) RecordCacheLookup(namespace, result string) {
	r.cacheLookups.WithLabelValues(namespace, result).Inc()
}

// RecordResolve counts an endpoint resolution.
func (r *Recorder) RecordResolve(network, outcome string) {
	r.resolves.WithLabelValues(network, outcome).Inc()
}

// RecordChainRead observes a read sequence.
func (r *Recorder) RecordChainRead(network, op string, seconds float64, err error) {
	r.chainReads.WithLabelValues(network, op).Observe(seconds)
	if err != nil {
		r.chainErrors.WithLabelValues(network, op).Inc()
	}
}

// RecordJob observes a job attempt.
func (r *Recorder) RecordJob(queue, job, outcome string, seconds float64) {
	r.jobs.WithLabelValues(queue, job, outcome).Observe(seconds)
}

// RecordRateLimit counts a limiter decision.
func (r *Recorder) RecordRateLimit(action string, allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "rejected"
	}
	r.rateLimits.WithLabelValues(action, decision).Inc()
}
