package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fractal-lba/bouncer/internal/lp"
	botel "github.com/fractal-lba/bouncer/pkg/otel"
)

const tracerName = "bouncer/monitor"

// Observation is one measured signal value before and after a step.
type Observation struct {
	Before float64 `json:"before"`
	After  float64 `json:"after"`
}

// Transition maps signal names to observations. Signals the monitor does not
// track are ignored.
type Transition map[string]Observation

// Outcome is the result of checking one world.
type Outcome int

const (
	// OutcomeSkipped: not solved because another world explained the
	// transition first.
	OutcomeSkipped Outcome = iota
	OutcomeFeasible
	OutcomeInfeasible
	OutcomeUnbounded
	// OutcomeFault: the problem could not be built or the solver failed.
	OutcomeFault
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFeasible:
		return "feasible"
	case OutcomeInfeasible:
		return "infeasible"
	case OutcomeUnbounded:
		return "unbounded"
	case OutcomeFault:
		return "fault"
	case OutcomeTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Verdict is the detailed result of an evaluation.
type Verdict struct {
	Inlier bool
	// World is the lowest-index world found feasible, or -1.
	World    int
	Outcomes []Outcome
	Duration time.Duration
}

// Evaluate reports whether some possible world explains t. Solver failures
// count as "not explained" for that world; only usage errors and a
// cancelled ctx are returned as errors.
func (m *Monitor) Evaluate(ctx context.Context, t Transition) (bool, error) {
	v, err := m.EvaluateDetailed(ctx, t)
	if err != nil {
		return false, err
	}
	return v.Inlier, nil
}

// EvaluateDetailed is Evaluate with per-world outcomes.
func (m *Monitor) EvaluateDetailed(ctx context.Context, t Transition) (*Verdict, error) {
	if err := m.checkTransition(t); err != nil {
		return nil, err
	}

	ctx, span := botel.StartSpan(ctx, tracerName, "monitor.Evaluate",
		botel.AttrDelta.Float64(m.delta),
		botel.AttrWorlds.Int(len(m.worlds)),
	)
	defer span.End()

	start := time.Now()

	// Pre-state constraints are the same in every world.
	pre := make([]lp.Constraint, 0, 2*len(m.continuous))
	for _, name := range m.continuous {
		c := measurement(m.vars, m.worlds[0].Pre[name], t[name].Before, m.delta)
		pre = append(pre, c[:]...)
	}

	verdict := &Verdict{World: -1, Outcomes: make([]Outcome, len(m.worlds))}
	var mu sync.Mutex

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(m.cfg.Parallelism)

	for i := range m.worlds {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			out := m.checkWorld(gctx, i, pre, t)

			mu.Lock()
			verdict.Outcomes[i] = out
			if out == OutcomeFeasible && (verdict.World < 0 || i < verdict.World) {
				verdict.World = i
				verdict.Inlier = true
			}
			mu.Unlock()

			if out == OutcomeFeasible {
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()

	verdict.Duration = time.Since(start)

	if !verdict.Inlier {
		if err := ctx.Err(); err != nil {
			botel.RecordError(span, err, "evaluation aborted")
			return nil, fmt.Errorf("monitor: evaluation aborted: %w", err)
		}
	}

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.EvaluationSeconds.Observe(verdict.Duration.Seconds())
		for _, out := range verdict.Outcomes {
			m.cfg.Metrics.SolveOutcomes.WithLabelValues(out.String()).Inc()
		}
	}
	span.SetAttributes(botel.VerdictAttributes(verdict.Inlier, verdict.World)...)
	return verdict, nil
}

func (m *Monitor) checkTransition(t Transition) error {
	for _, name := range m.continuous {
		obs, ok := t[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrMissingSignal, name)
		}
		if !finite(obs.Before) || !finite(obs.After) {
			return fmt.Errorf("%w: %q has non-finite value (%v, %v)", ErrInvalidObservation, name, obs.Before, obs.After)
		}
	}
	return nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// checkWorld builds and solves the feasibility problem of world i.
func (m *Monitor) checkWorld(ctx context.Context, i int, pre []lp.Constraint, t Transition) Outcome {
	w := m.worlds[i]

	b := lp.NewBuilder(len(m.vars.list), len(m.bounds)+len(w.Path)+len(pre)+2*len(m.continuous))
	for _, v := range m.vars.list {
		b.AddVariable(v)
	}
	b.AddConstraints(m.bounds)
	for _, id := range w.Path {
		if c, ok := m.paths[id]; ok {
			b.AddConstraint(c)
		}
	}
	b.AddConstraints(pre)
	for _, name := range m.continuous {
		c := measurement(m.vars, w.Post[name], t[name].After, m.delta)
		b.AddConstraints(c[:])
	}
	b.SetObjective(lp.ConstantObjective(1))

	p, err := b.Build()
	if err != nil {
		m.log.Debug("world problem rejected", "world", i, "error", err)
		return OutcomeFault
	}

	solveCtx := ctx
	if m.cfg.SolveTimeout > 0 {
		var cancel context.CancelFunc
		solveCtx, cancel = context.WithTimeout(ctx, m.cfg.SolveTimeout)
		defer cancel()
	}

	sol, err := m.cfg.Solver.Solve(solveCtx, p)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return OutcomeSkipped
		case errors.Is(err, context.DeadlineExceeded):
			m.log.Debug("world solve timed out", "world", i, "timeout", m.cfg.SolveTimeout)
			return OutcomeTimeout
		default:
			m.log.Debug("world solve failed", "world", i, "error", err)
			return OutcomeFault
		}
	}

	switch sol.Status {
	case lp.StatusFeasible:
		return OutcomeFeasible
	case lp.StatusUnbounded:
		return OutcomeUnbounded
	default:
		return OutcomeInfeasible
	}
}
