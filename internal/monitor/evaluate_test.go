package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/fractal-lba/bouncer/internal/affine"
	"github.com/fractal-lba/bouncer/internal/dd"
	"github.com/fractal-lba/bouncer/internal/lp"
	"github.com/fractal-lba/bouncer/internal/metrics"
)

// newTwoWorlds builds x' = e_3 in both branches of the guard e_3 + 0.25 >= 0,
// so world 0 needs e_3 >= -0.25 and world 1 needs e_3 <= -0.25.
func newTwoWorlds(t *testing.T, delta float64, opts ...Option) *Monitor {
	t.Helper()
	tbl := dd.NewTable()
	guard := tbl.NewReal(affine.New(0.25, 0, map[int]float64{3: 1}))
	same := dd.Continuous(affine.New(0, 0, map[int]float64{3: 1}))

	pre := map[string]*dd.Node{"x": dd.Continuous(affine.Scalar(0))}
	post := map[string]*dd.Node{"x": dd.Ite(guard, same, same)}

	m, err := New(tbl, pre, post, delta, append([]Option{quiet()}, opts...)...)
	require.NoError(t, err)
	return m
}

type solverFunc func(ctx context.Context, p *lp.Problem) (*lp.Solution, error)

func (f solverFunc) Solve(ctx context.Context, p *lp.Problem) (*lp.Solution, error) {
	return f(ctx, p)
}

type EvaluateSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *EvaluateSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *EvaluateSuite) TestSecondWorldExplains() {
	m := newTwoWorlds(s.T(), 0.0625)
	s.Require().Equal(2, m.NumWorlds())

	v, err := m.EvaluateDetailed(s.ctx, Transition{"x": {Before: 0, After: -0.75}})
	s.Require().NoError(err)
	s.True(v.Inlier)
	s.Equal(1, v.World)
	s.Equal([]Outcome{OutcomeInfeasible, OutcomeFeasible}, v.Outcomes)
}

func (s *EvaluateSuite) TestFirstFeasibleSkipsRest() {
	m := newTwoWorlds(s.T(), 0.0625)

	v, err := m.EvaluateDetailed(s.ctx, Transition{"x": {Before: 0, After: 0.5}})
	s.Require().NoError(err)
	s.True(v.Inlier)
	s.Equal(0, v.World)
	s.Equal([]Outcome{OutcomeFeasible, OutcomeSkipped}, v.Outcomes)
}

func (s *EvaluateSuite) TestNoWorldExplains() {
	m := newTwoWorlds(s.T(), 0.0625)

	// e_3 would have to exceed 1
	v, err := m.EvaluateDetailed(s.ctx, Transition{"x": {Before: 0, After: 1.5}})
	s.Require().NoError(err)
	s.False(v.Inlier)
	s.Equal(-1, v.World)
	s.Equal([]Outcome{OutcomeInfeasible, OutcomeInfeasible}, v.Outcomes)
}

func (s *EvaluateSuite) TestParallelMatchesSequential() {
	seq := newTwoWorlds(s.T(), 0.0625)
	par := newTwoWorlds(s.T(), 0.0625, WithParallelism(4))

	for _, after := range []float64{-1.5, -0.75, -0.25, 0, 0.5, 1, 1.5} {
		tr := Transition{"x": {Before: 0, After: after}}
		want, err := seq.Evaluate(s.ctx, tr)
		s.Require().NoError(err)
		got, err := par.Evaluate(s.ctx, tr)
		s.Require().NoError(err)
		s.Equal(want, got, "after %v", after)
	}
}

func (s *EvaluateSuite) TestSolverFaultIsContained() {
	var calls atomic.Int32
	simplex := lp.NewSimplexSolver(0)
	faulty := solverFunc(func(ctx context.Context, p *lp.Problem) (*lp.Solution, error) {
		if calls.Add(1) == 1 {
			return nil, lp.ErrSolverFault
		}
		return simplex.Solve(ctx, p)
	})
	m := newTwoWorlds(s.T(), 0.0625, WithSolver(faulty))

	v, err := m.EvaluateDetailed(s.ctx, Transition{"x": {Before: 0, After: -0.75}})
	s.Require().NoError(err)
	s.True(v.Inlier)
	s.Equal([]Outcome{OutcomeFault, OutcomeFeasible}, v.Outcomes)
}

func (s *EvaluateSuite) TestEveryWorldFaultingIsOutlier() {
	broken := solverFunc(func(context.Context, *lp.Problem) (*lp.Solution, error) {
		return nil, errors.New("singular basis")
	})
	m := newTwoWorlds(s.T(), 0.0625, WithSolver(broken))

	ok, err := m.Evaluate(s.ctx, Transition{"x": {Before: 0, After: 0}})
	s.Require().NoError(err)
	s.False(ok)
}

func (s *EvaluateSuite) TestUnboundedIsNotExplaining() {
	unbounded := solverFunc(func(context.Context, *lp.Problem) (*lp.Solution, error) {
		return &lp.Solution{Status: lp.StatusUnbounded}, nil
	})
	m := newTwoWorlds(s.T(), 0.0625, WithSolver(unbounded))

	v, err := m.EvaluateDetailed(s.ctx, Transition{"x": {Before: 0, After: 0}})
	s.Require().NoError(err)
	s.False(v.Inlier)
	s.Equal([]Outcome{OutcomeUnbounded, OutcomeUnbounded}, v.Outcomes)
}

func (s *EvaluateSuite) TestSolveTimeout() {
	stuck := solverFunc(func(ctx context.Context, _ *lp.Problem) (*lp.Solution, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	m := newTwoWorlds(s.T(), 0.0625, WithSolver(stuck), WithSolveTimeout(5*time.Millisecond))

	v, err := m.EvaluateDetailed(s.ctx, Transition{"x": {Before: 0, After: 0}})
	s.Require().NoError(err)
	s.False(v.Inlier)
	s.Equal([]Outcome{OutcomeTimeout, OutcomeTimeout}, v.Outcomes)
}

func TestEvaluateSuite(t *testing.T) {
	suite.Run(t, new(EvaluateSuite))
}

func TestWideningDeltaIsMonotone(t *testing.T) {
	deltas := []float64{0, 0.03125, 0.0625, 0.125, 0.25, 0.5, 1}
	afters := []float64{-2.5, -1.25, -1.0625, -0.75, 0, 0.3, 1.0625, 1.25, 2.5}

	for _, after := range afters {
		seen := false
		for _, delta := range deltas {
			m := newTwoWorlds(t, delta)
			ok, err := m.Evaluate(context.Background(), Transition{"x": {Before: 0.0625, After: after}})
			require.NoError(t, err)
			if seen {
				require.True(t, ok, "after %v lost inlier status at delta %v", after, delta)
			}
			seen = seen || ok
		}
	}
}

func TestMetricsRecordOutcomes(t *testing.T) {
	met := metrics.NewWithRegistry(prometheus.NewRegistry())
	m := newTwoWorlds(t, 0.0625, WithMetrics(met))

	require.Equal(t, 2.0, testutil.ToFloat64(met.Worlds))
	require.Equal(t, 1.0, testutil.ToFloat64(met.Variables))

	_, err := m.Evaluate(context.Background(), Transition{"x": {Before: 0, After: -0.75}})
	require.NoError(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(met.SolveOutcomes.WithLabelValues("infeasible")))
	require.Equal(t, 1.0, testutil.ToFloat64(met.SolveOutcomes.WithLabelValues("feasible")))
	require.Equal(t, 1, testutil.CollectAndCount(met.EvaluationSeconds))
}
