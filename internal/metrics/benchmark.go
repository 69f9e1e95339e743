package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BenchmarkTracker keeps the headline numbers of dataset runs: how many
// transitions each dataset flagged and how fast.
type BenchmarkTracker struct {
	mu sync.RWMutex

	transitions *prometheus.GaugeVec
	inliers     *prometheus.GaugeVec
	outliers    *prometheus.GaugeVec
	errors      *prometheus.GaugeVec
	inlierRate  *prometheus.GaugeVec
	duration    *prometheus.GaugeVec
	throughput  *prometheus.GaugeVec

	runs map[string]BenchmarkRun
}

// BenchmarkRun is one recorded dataset run.
type BenchmarkRun struct {
	Dataset     string
	Transitions int
	Inliers     int
	Outliers    int
	Errors      int
	Duration    time.Duration
}

// InlierRate is Inliers over Inliers + Outliers.
func (r BenchmarkRun) InlierRate() float64 {
	n := r.Inliers + r.Outliers
	if n == 0 {
		return 0
	}
	return float64(r.Inliers) / float64(n)
}

// NewBenchmarkTracker creates the tracker and registers its gauges on reg
func NewBenchmarkTracker(reg prometheus.Registerer) *BenchmarkTracker {
	f := promauto.With(reg)
	gauge := func(name, help string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, []string{"dataset"})
	}
	return &BenchmarkTracker{
		transitions: gauge("bouncer_benchmark_transitions", "Transitions evaluated in the last run of the dataset"),
		inliers:     gauge("bouncer_benchmark_inliers", "Inliers in the last run of the dataset"),
		outliers:    gauge("bouncer_benchmark_outliers", "Outliers in the last run of the dataset"),
		errors:      gauge("bouncer_benchmark_errors", "Usage errors in the last run of the dataset"),
		inlierRate:  gauge("bouncer_benchmark_inlier_rate", "Share of evaluated transitions found to be inliers"),
		duration:    gauge("bouncer_benchmark_duration_seconds", "Wall time of the last run of the dataset"),
		throughput:  gauge("bouncer_benchmark_transitions_per_second", "Evaluation throughput of the last run"),
		runs:        make(map[string]BenchmarkRun),
	}
}

// Record stores a run, replacing any earlier run of the same dataset
func (t *BenchmarkTracker) Record(r BenchmarkRun) {
	t.mu.Lock()
	t.runs[r.Dataset] = r
	t.mu.Unlock()

	t.transitions.WithLabelValues(r.Dataset).Set(float64(r.Transitions))
	t.inliers.WithLabelValues(r.Dataset).Set(float64(r.Inliers))
	t.outliers.WithLabelValues(r.Dataset).Set(float64(r.Outliers))
	t.errors.WithLabelValues(r.Dataset).Set(float64(r.Errors))
	t.inlierRate.WithLabelValues(r.Dataset).Set(r.InlierRate())
	t.duration.WithLabelValues(r.Dataset).Set(r.Duration.Seconds())
	if s := r.Duration.Seconds(); s > 0 {
		t.throughput.WithLabelValues(r.Dataset).Set(float64(r.Transitions) / s)
	}
}

// Run returns the recorded run of dataset.
func (t *BenchmarkTracker) Run(dataset string) (BenchmarkRun, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.runs[dataset]
	return r, ok
}

// Separation is the inlier rate of the conforming dataset minus that of
// faulty: how much better the monitor accepts good runs than bad ones.
// It is 0 when either run is missing.
func (t *BenchmarkTracker) Separation(conforming, faulty string) float64 {
	c, ok1 := t.Run(conforming)
	f, ok2 := t.Run(faulty)
	if !ok1 || !ok2 {
		return 0
	}
	return c.InlierRate() - f.InlierRate()
}
