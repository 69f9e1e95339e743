package sigmadelta

import (
	"gonum.org/v1/gonum/mat"
)

// integrators is the state transition matrix shared by both modes.
var integrators = mat.NewDense(3, 3, []float64{
	1, 0, 0,
	1, 1, 0,
	0, 1, 1,
})

// State is one sample of the modulator.
type State struct {
	X   [3]float64
	Pos bool
}

// Trajectory is a simulated run; States[0] is the initial state.
type Trajectory struct {
	States []State
	U      float64
	Params Params
}

// Step advances s by one sample with constant input u: the continuous update
// x' = A·x + b·u ∓ a, then the output bit switches on the sign of x2' + u.
func Step(s State, u float64, p Params) State {
	x := mat.NewVecDense(3, s.X[:])
	next := mat.NewVecDense(3, nil)
	next.MulVec(integrators, x)
	next.AddScaledVec(next, u, mat.NewVecDense(3, p.b()))
	feedback := 1.0
	if s.Pos {
		feedback = -1.0
	}
	next.AddScaledVec(next, feedback, mat.NewVecDense(3, p.a()))

	out := State{Pos: s.Pos}
	for i := range out.X {
		out.X[i] = next.AtVec(i)
	}

	in := out.X[2] + u
	if s.Pos && in < 0 {
		out.Pos = false
	} else if !s.Pos && in >= 0 {
		out.Pos = true
	}
	return out
}

// Simulate runs steps samples from x with constant input u.
func Simulate(x [3]float64, u float64, steps int, pos bool, p Params) Trajectory {
	t := Trajectory{States: make([]State, 0, steps+1), U: u, Params: p}
	s := State{X: x, Pos: pos}
	t.States = append(t.States, s)
	for range steps {
		s = Step(s, u, p)
		t.States = append(t.States, s)
	}
	return t
}
