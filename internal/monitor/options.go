package monitor

import (
	"log/slog"
	"time"

	"github.com/fractal-lba/bouncer/internal/lp"
	"github.com/fractal-lba/bouncer/internal/metrics"
)

// Config holds the tunables of a Monitor.
type Config struct {
	// Parallelism bounds the number of worlds solved concurrently.
	Parallelism int
	// SolveTimeout bounds a single world's solve; 0 disables it.
	SolveTimeout time.Duration
	Solver       lp.Solver
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// DefaultConfig evaluates worlds one at a time in enumeration order.
func DefaultConfig() Config {
	return Config{
		Parallelism: 1,
		Solver:      lp.NewSimplexSolver(lp.DefaultTolerance),
		Logger:      slog.Default(),
	}
}

// Option customizes a Monitor.
type Option func(*Config)

// WithParallelism solves up to n worlds at once. Values below 1 are ignored.
func WithParallelism(n int) Option {
	return func(c *Config) {
		if n >= 1 {
			c.Parallelism = n
		}
	}
}

// WithSolveTimeout bounds every per-world solve by d.
func WithSolveTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.SolveTimeout = d
	}
}

// WithSolver replaces the default simplex solver.
func WithSolver(s lp.Solver) Option {
	return func(c *Config) {
		if s != nil {
			c.Solver = s
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithMetrics records solve outcomes and latencies on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}
