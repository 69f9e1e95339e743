// Package sigmadelta is the third-order sigma-delta modulator benchmark: a
// numeric simulator that produces measurement trajectories, the symbolic
// one-step model the monitor checks them against, and the C, SPE and LPE
// datasets.
package sigmadelta

// Signals are the continuous state names, in state-vector order.
var Signals = [3]string{"x0", "x1", "x2"}

// Mode is the name of the discrete output bit.
const Mode = "d"

// Params are the integrator gains: A is fed back with the output bit and B
// scales the input.
type Params struct {
	A1, A2, A3 float64
	B1, B2, B3 float64
}

// DefaultParams are the nominal gains of the modulator.
func DefaultParams() Params {
	return Params{
		A1: 0.0444, A2: 0.2881, A3: 0.7997,
		B1: 0.0444, B2: 0.2881, B3: 0.7997,
	}
}

// Matched returns parameters with a_i = b_i = g[i].
func Matched(g [3]float64) Params {
	return Params{A1: g[0], A2: g[1], A3: g[2], B1: g[0], B2: g[1], B3: g[2]}
}

func (p Params) a() []float64 { return []float64{p.A1, p.A2, p.A3} }
func (p Params) b() []float64 { return []float64{p.B1, p.B2, p.B3} }

// Range is a closed interval.
type Range struct {
	Lo, Hi float64
}

// Around returns [c-r, c+r].
func Around(c, r float64) Range {
	return Range{Lo: c - r, Hi: c + r}
}

// Contains reports whether x lies in r.
func (r Range) Contains(x float64) bool {
	return x >= r.Lo && x <= r.Hi
}

// ModelRanges bound every uncertain quantity of the symbolic model.
type ModelRanges struct {
	A [3]Range
	B [3]Range
	X [3]Range
	U Range
}

// DefaultModelRanges covers the nominal gains with their tolerances and the
// reachable integrator states.
func DefaultModelRanges() ModelRanges {
	gains := [3]Range{Around(0.0444, 0.01), Around(0.2881, 0.1), Around(0.7997, 0.1)}
	return ModelRanges{
		A: gains,
		B: gains,
		X: [3]Range{{-1.6, 1.6}, {-2.4, 2.4}, {-2.8, 2.8}},
		U: Range{-0.5, 0.5},
	}
}
