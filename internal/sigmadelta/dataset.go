package sigmadelta

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/fractal-lba/bouncer/internal/monitor"
)

const (
	// DefaultTrajectories and DefaultSteps size the published datasets.
	DefaultTrajectories = 1000
	DefaultSteps        = 100
)

// Segment is a group of trajectories whose gains a_i = b_i are drawn
// uniformly from Gains[i].
type Segment struct {
	Trajectories int
	Gains        [3]Range
}

// DatasetSpec describes how to generate a dataset.
type DatasetSpec struct {
	Name     string
	Steps    int
	Segments []Segment
	// Initial integrator states and inputs are drawn from these ranges.
	XInit Range
	UInit Range
}

// Dataset is a set of simulated trajectories.
type Dataset struct {
	Name         string
	Trajectories []Trajectory
}

func newDatasetSpec(name string, n, steps int, segments ...[3]Range) DatasetSpec {
	s := DatasetSpec{
		Name:  name,
		Steps: steps,
		XInit: Range{-0.01, 0.01},
		UInit: Range{-0.5, 0.5},
	}
	per := n / len(segments)
	for i, g := range segments {
		count := per
		if i == len(segments)-1 {
			count = n - per*(len(segments)-1)
		}
		s.Segments = append(s.Segments, Segment{Trajectories: count, Gains: g})
	}
	return s
}

// SpecC draws gains inside the model tolerances.
func SpecC(n, steps int) DatasetSpec {
	return newDatasetSpec("C", n, steps,
		[3]Range{Around(0.0444, 0.01), Around(0.2881, 0.1), Around(0.7997, 0.1)})
}

// SpecSPE draws gains just outside the tolerances: the first half above,
// the second half below.
func SpecSPE(n, steps int) DatasetSpec {
	return newDatasetSpec("SPE", n, steps,
		[3]Range{{0.0545, 0.06}, {0.3882, 0.4}, {0.8997, 0.9}},
		[3]Range{{0.02, 0.0343}, {0.1, 0.188}, {0.6, 0.6997}})
}

// SpecLPE draws gains far outside the tolerances.
func SpecLPE(n, steps int) DatasetSpec {
	return newDatasetSpec("LPE", n, steps,
		[3]Range{{0.0545, 0.5}, {0.3882, 0.7}, {0.8997, 1.6}},
		[3]Range{{0.001, 0.0343}, {0.01, 0.188}, {0.01, 0.6997}})
}

// Generate simulates every trajectory of s. Odd-numbered trajectories start
// in the positive mode.
func Generate(s DatasetSpec, rng *rand.Rand) *Dataset {
	ds := &Dataset{Name: s.Name}
	i := 0
	for _, seg := range s.Segments {
		for range seg.Trajectories {
			var x [3]float64
			for k := range x {
				x[k] = uniform(rng, s.XInit)
			}
			u := uniform(rng, s.UInit)
			var g [3]float64
			for k := range g {
				g[k] = uniform(rng, seg.Gains[k])
			}
			ds.Trajectories = append(ds.Trajectories, Simulate(x, u, s.Steps, i%2 != 0, Matched(g)))
			i++
		}
	}
	return ds
}

// DatasetC, DatasetSPE and DatasetLPE generate the benchmark datasets from a
// fixed seed.
func DatasetC(n, steps int, seed int64) *Dataset {
	return Generate(SpecC(n, steps), newRand(seed))
}

func DatasetSPE(n, steps int, seed int64) *Dataset {
	return Generate(SpecSPE(n, steps), newRand(seed))
}

func DatasetLPE(n, steps int, seed int64) *Dataset {
	return Generate(SpecLPE(n, steps), newRand(seed))
}

// Named generates the dataset called name (C, SPE or LPE, any case).
func Named(name string, n, steps int, seed int64) (*Dataset, error) {
	switch strings.ToUpper(name) {
	case "C":
		return DatasetC(n, steps, seed), nil
	case "SPE":
		return DatasetSPE(n, steps, seed), nil
	case "LPE":
		return DatasetLPE(n, steps, seed), nil
	default:
		return nil, fmt.Errorf("unknown dataset %q (want C, SPE or LPE)", name)
	}
}

// Transitions splits every trajectory into consecutive (before, after)
// pairs of the continuous signals.
func Transitions(ds *Dataset) []monitor.Transition {
	var out []monitor.Transition
	for _, t := range ds.Trajectories {
		for j := 1; j < len(t.States); j++ {
			tr := make(monitor.Transition, len(Signals))
			for k, name := range Signals {
				tr[name] = monitor.Observation{Before: t.States[j-1].X[k], After: t.States[j].X[k]}
			}
			out = append(out, tr)
		}
	}
	return out
}

func uniform(rng *rand.Rand, r Range) float64 {
	return r.Lo + rng.Float64()*(r.Hi-r.Lo)
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = 1
	}
	return rand.New(rand.NewSource(seed))
}
