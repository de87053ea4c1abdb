package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements Metrics with counters and histograms for
// the enforcement pipeline and Management API, modeled on the teacher's
// policy.Metrics singleton (registry-per-instance rather than a
// sync.Once-guarded process-wide global, so multiple Enforcers in one
// process can each bring their own registry).
type Prometheus struct {
	checksTotal          *prometheus.CounterVec
	cacheHitsTotal       prometheus.Counter
	cacheMissesTotal     prometheus.Counter
	evaluationErrors     *prometheus.CounterVec
	mutationsTotal       *prometheus.CounterVec
	checkDuration        prometheus.Histogram
	roleGraphRebuildDur  *prometheus.HistogramVec

	registry *prometheus.Registry
}

var _ Metrics = (*Prometheus)(nil)

// NewPrometheus builds a Prometheus metrics instance registered under
// namespace, backed by its own registry so callers can mount it at
// whatever scrape path they choose.
func NewPrometheus(namespace string) *Prometheus {
	registry := prometheus.NewRegistry()

	checksTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enforce_checks_total",
		Help:      "Total enforce decisions by outcome.",
	}, []string{"decision"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "decision_cache_hits_total", Help: "Decision cache hits.",
	})
	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "decision_cache_misses_total", Help: "Decision cache misses.",
	})

	evalErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "evaluation_errors_total", Help: "Matcher/builtin evaluation failures by kind.",
	}, []string{"kind"})

	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "management_mutations_total", Help: "Management API mutations by operation.",
	}, []string{"op"})

	checkDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "enforce_duration_seconds", Help: "enforce() latency.",
		Buckets: prometheus.ExponentialBuckets(0.000001, 4, 12),
	})

	roleGraphRebuildDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "role_graph_rebuild_duration_seconds", Help: "Role graph rebuild latency by kind (full/incremental).",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	registry.MustRegister(checksTotal, cacheHits, cacheMisses, evalErrors, mutations, checkDuration, roleGraphRebuildDur)

	return &Prometheus{
		checksTotal:         checksTotal,
		cacheHitsTotal:      cacheHits,
		cacheMissesTotal:    cacheMisses,
		evaluationErrors:    evalErrors,
		mutationsTotal:      mutations,
		checkDuration:       checkDuration,
		roleGraphRebuildDur: roleGraphRebuildDur,
		registry:            registry,
	}
}

// Registry exposes the underlying prometheus.Registry for an embedding
// application to scrape; this package does not mount an HTTP handler
// itself.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

func (p *Prometheus) RecordCheck(decision string, duration time.Duration) {
	p.checksTotal.WithLabelValues(decision).Inc()
	p.checkDuration.Observe(duration.Seconds())
}

func (p *Prometheus) RecordCacheHit()  { p.cacheHitsTotal.Inc() }
func (p *Prometheus) RecordCacheMiss() { p.cacheMissesTotal.Inc() }

func (p *Prometheus) RecordEvaluationError(kind string) {
	p.evaluationErrors.WithLabelValues(kind).Inc()
}

func (p *Prometheus) RecordMutation(op string) {
	p.mutationsTotal.WithLabelValues(op).Inc()
}

func (p *Prometheus) RecordRoleGraphRebuild(kind string, duration time.Duration) {
	p.roleGraphRebuildDur.WithLabelValues(kind).Observe(duration.Seconds())
}
