package sigmadelta

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fractal-lba/bouncer/internal/dd"
	"github.com/fractal-lba/bouncer/internal/monitor"
)

func newMonitor(t *testing.T, opts ...monitor.Option) *monitor.Monitor {
	t.Helper()
	opts = append(opts, monitor.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	m, err := SymbolicModel(DefaultModelRanges()).Monitor(0.001, opts...)
	require.NoError(t, err)
	return m
}

func step(before State, u float64) monitor.Transition {
	after := Step(before, u, DefaultParams())
	tr := make(monitor.Transition, len(Signals))
	for i, name := range Signals {
		tr[name] = monitor.Observation{Before: before.X[i], After: after.X[i]}
	}
	return tr
}

func TestStep(t *testing.T) {
	tests := []struct {
		name    string
		in      State
		u       float64
		wantX   [3]float64
		wantPos bool
	}{
		{"positive stays", State{Pos: true}, 0.5, [3]float64{-0.0222, -0.14405, -0.39985}, true},
		{"positive drops", State{Pos: true}, -0.5, [3]float64{-0.0666, -0.43215, -1.19955}, false},
		{"negative rises", State{Pos: false}, 0.5, [3]float64{0.0666, 0.43215, 1.19955}, true},
		{"negative stays", State{Pos: false}, -0.5, [3]float64{0.0222, 0.14405, 0.39985}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Step(tt.in, tt.u, DefaultParams())
			for i := range got.X {
				require.InDelta(t, tt.wantX[i], got.X[i], 1e-12, "x%d", i)
			}
			require.Equal(t, tt.wantPos, got.Pos)
		})
	}
}

func TestSimulateLength(t *testing.T) {
	tr := Simulate([3]float64{0.001, 0, -0.001}, 0.1, 7, true, DefaultParams())
	require.Len(t, tr.States, 8)
	require.Equal(t, [3]float64{0.001, 0, -0.001}, tr.States[0].X)
	require.Equal(t, Step(tr.States[3], 0.1, DefaultParams()), tr.States[4])
}

func TestSymbolicModelWorlds(t *testing.T) {
	model := SymbolicModel(DefaultModelRanges())
	require.Equal(t, 10, model.Symbols)
	require.Equal(t, 3, model.Table.Len())

	m := newMonitor(t)
	require.Equal(t, 4, m.NumWorlds())
	require.Equal(t, 10, m.NumVariables())
	require.Equal(t, 4, m.NumPathConstraints())
	require.Equal(t, []string{"x0", "x1", "x2"}, m.MonitoredContinuous())
	require.Equal(t, []string{"d"}, m.MonitoredDiscrete())

	paths := make([][]dd.CondID, 0, 4)
	for _, w := range m.Worlds() {
		paths = append(paths, w.Path)
	}
	require.Equal(t, [][]dd.CondID{{1, 2}, {1, -2}, {-1, 3}, {-1, -3}}, paths)
}

func TestNominalTransitionsAreInliers(t *testing.T) {
	m := newMonitor(t)
	x := [3]float64{0.001, -0.002, 0.003}

	for _, pos := range []bool{true, false} {
		for _, u := range []float64{-0.4, 0, 0.25} {
			ok, err := m.Evaluate(context.Background(), step(State{X: x, Pos: pos}, u))
			require.NoError(t, err)
			require.True(t, ok, "pos=%v u=%v", pos, u)
		}
	}
}

func TestPerturbedTransitionIsOutlier(t *testing.T) {
	m := newMonitor(t)
	tr := step(State{X: [3]float64{0.001, -0.002, 0.003}, Pos: true}, 0.25)
	obs := tr["x0"]
	obs.After += 1
	tr["x0"] = obs

	ok, err := m.Evaluate(context.Background(), tr)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDatasets(t *testing.T) {
	c := DatasetC(4, 5, 42)
	require.Equal(t, "C", c.Name)
	require.Len(t, c.Trajectories, 4)
	for i, tr := range c.Trajectories {
		require.Len(t, tr.States, 6)
		require.Equal(t, i%2 != 0, tr.States[0].Pos)
		require.Equal(t, tr.Params.A1, tr.Params.B1)
		require.True(t, Around(0.0444, 0.01).Contains(tr.Params.A1))
		require.True(t, Range{-0.5, 0.5}.Contains(tr.U))
	}
	require.Len(t, Transitions(c), 20)
	require.Equal(t, c, DatasetC(4, 5, 42))

	spe := DatasetSPE(4, 1, 7)
	require.True(t, Range{0.0545, 0.06}.Contains(spe.Trajectories[0].Params.A1))
	require.True(t, Range{0.0545, 0.06}.Contains(spe.Trajectories[1].Params.A1))
	require.True(t, Range{0.02, 0.0343}.Contains(spe.Trajectories[2].Params.A1))
	require.True(t, Range{0.6, 0.6997}.Contains(spe.Trajectories[3].Params.A3))

	lpe := DatasetLPE(3, 1, 7)
	require.Len(t, lpe.Trajectories, 3)
	require.True(t, Range{0.8997, 1.6}.Contains(lpe.Trajectories[0].Params.A3))
	require.True(t, Range{0.01, 0.6997}.Contains(lpe.Trajectories[2].Params.A3))
}

func TestRunCountsVerdicts(t *testing.T) {
	m := newMonitor(t, monitor.WithParallelism(2))
	x := [3]float64{0.001, -0.002, 0.003}

	outlier := step(State{X: x, Pos: true}, 0.25)
	obs := outlier["x1"]
	obs.After -= 2
	outlier["x1"] = obs

	transitions := []monitor.Transition{
		step(State{X: x, Pos: true}, 0.25),
		step(State{X: x, Pos: false}, -0.25),
		outlier,
		{"x0": {}, "x1": {}},
	}

	r, err := Run(context.Background(), m, "mixed", transitions, 2)
	require.NoError(t, err)
	require.Equal(t, Report{Name: "mixed", Transitions: 4, Inliers: 2, Outliers: 1, Errors: 1, Duration: r.Duration}, r)
	require.InDelta(t, 2.0/3.0, r.InlierRate(), 1e-12)
	require.Contains(t, r.String(), "mixed: 4 transitions, 2 inliers, 1 outliers, 1 errors")
}

func TestRunStopsOnCancel(t *testing.T) {
	m := newMonitor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := Run(ctx, m, "C", Transitions(DatasetC(2, 3, 1)), 1)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, r.Inliers+r.Outliers)
}

func TestNamed(t *testing.T) {
	for _, name := range []string{"C", "spe", "LPE"} {
		ds, err := Named(name, 2, 2, 3)
		require.NoError(t, err)
		require.Len(t, ds.Trajectories, 2)
	}
	ds, err := Named("c", 3, 4, 9)
	require.NoError(t, err)
	require.Equal(t, DatasetC(3, 4, 9), ds)

	_, err = Named("huge", 1, 1, 1)
	require.Error(t, err)
}
