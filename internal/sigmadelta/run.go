package sigmadelta

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fractal-lba/bouncer/internal/monitor"
)

// Report summarizes a monitor run over a dataset.
type Report struct {
	Name        string
	Transitions int
	Inliers     int
	Outliers    int
	Errors      int
	Duration    time.Duration
}

// InlierRate is Inliers over evaluated transitions.
func (r Report) InlierRate() float64 {
	n := r.Inliers + r.Outliers
	if n == 0 {
		return 0
	}
	return float64(r.Inliers) / float64(n)
}

func (r Report) String() string {
	return fmt.Sprintf("%s: %d transitions, %d inliers, %d outliers, %d errors (%.2f%% inliers) in %s",
		r.Name, r.Transitions, r.Inliers, r.Outliers, r.Errors, 100*r.InlierRate(), r.Duration.Round(time.Millisecond))
}

// Run evaluates every transition with up to workers concurrent evaluations.
// It stops early when ctx ends and returns the partial report with ctx's
// error.
func Run(ctx context.Context, m *monitor.Monitor, name string, transitions []monitor.Transition, workers int) (Report, error) {
	if workers < 1 {
		workers = 1
	}
	start := time.Now()
	var inliers, outliers, errs atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, tr := range transitions {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			ok, err := m.Evaluate(gctx, tr)
			switch {
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				errs.Add(1)
			case ok:
				inliers.Add(1)
			default:
				outliers.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()

	r := Report{
		Name:        name,
		Transitions: len(transitions),
		Inliers:     int(inliers.Load()),
		Outliers:    int(outliers.Load()),
		Errors:      int(errs.Load()),
		Duration:    time.Since(start),
	}
	if err == nil {
		err = ctx.Err()
	}
	return r, err
}
