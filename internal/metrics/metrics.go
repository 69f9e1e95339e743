package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the monitor and the service
type Metrics struct {
	// Service counters
	TransitionsTotal prometheus.Counter
	StoreHits        prometheus.Counter
	CacheHits        prometheus.Counter
	Inliers          prometheus.Counter
	Outliers         prometheus.Counter
	UsageErrors      prometheus.Counter
	StoreErrors      prometheus.Counter
	WALErrors        prometheus.Counter

	// Per-source labeled metrics
	TransitionsBySource *prometheus.CounterVec
	OutliersBySource    *prometheus.CounterVec
	RateLimitedBySource *prometheus.CounterVec

	// Monitor internals
	SolveOutcomes     *prometheus.CounterVec
	EvaluationSeconds prometheus.Histogram
	Worlds            prometheus.Gauge
	Variables         prometheus.Gauge
}

// New creates all metrics and registers them on the default registerer
func New() *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewWithRegistry registers all metrics on reg. Tests use a fresh registry
// per case so collectors never collide.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetrics(promauto.With(reg))
}

func newMetrics(f promauto.Factory) *Metrics {
	return &Metrics{
		TransitionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "bouncer_transitions_total",
			Help: "Total number of transitions submitted for evaluation",
		}),
		StoreHits: f.NewCounter(prometheus.CounterOpts{
			Name: "bouncer_store_hits",
			Help: "Number of resubmitted transitions answered from the verdict store",
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "bouncer_cache_hits",
			Help: "Number of transitions answered from the verdict cache",
		}),
		Inliers: f.NewCounter(prometheus.CounterOpts{
			Name: "bouncer_inliers",
			Help: "Number of transitions explained by at least one possible world (200)",
		}),
		Outliers: f.NewCounter(prometheus.CounterOpts{
			Name: "bouncer_outliers",
			Help: "Number of transitions explained by no possible world (202)",
		}),
		UsageErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "bouncer_usage_errors",
			Help: "Number of transitions rejected for missing or unknown signals (422)",
		}),
		StoreErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "bouncer_store_errors",
			Help: "Number of verdict store read or write failures",
		}),
		WALErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "bouncer_wal_errors",
			Help: "Number of WAL write errors",
		}),

		TransitionsBySource: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bouncer_transitions_by_source",
				Help: "Total number of transitions received per source",
			},
			[]string{"source"},
		),
		OutliersBySource: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bouncer_outliers_by_source",
				Help: "Number of outlier transitions per source",
			},
			[]string{"source"},
		),
		RateLimitedBySource: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bouncer_rate_limited_by_source",
				Help: "Number of requests rejected by the rate limiter per source",
			},
			[]string{"source"},
		),

		SolveOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bouncer_world_solves",
				Help: "Per-world feasibility checks by outcome",
			},
			[]string{"outcome"},
		),
		EvaluationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bouncer_evaluation_seconds",
			Help:    "Latency of one transition evaluation across all possible worlds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		Worlds: f.NewGauge(prometheus.GaugeOpts{
			Name: "bouncer_possible_worlds",
			Help: "Number of possible worlds of the loaded model",
		}),
		Variables: f.NewGauge(prometheus.GaugeOpts{
			Name: "bouncer_lp_variables",
			Help: "Number of LP variables of the loaded model",
		}),
	}
}
