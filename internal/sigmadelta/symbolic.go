package sigmadelta

import (
	"github.com/fractal-lba/bouncer/internal/affine"
	"github.com/fractal-lba/bouncer/internal/dd"
	"github.com/fractal-lba/bouncer/internal/monitor"
)

// Model is the symbolic one-step model of the modulator.
type Model struct {
	Table *dd.Table
	Pre   map[string]*dd.Node
	Post  map[string]*dd.Node
	// Symbols is the number of noise symbols allocated.
	Symbols int
}

// SymbolicModel simulates one step over the boxes in r. The decision "init"
// selects the mode; in the positive mode the bit drops when x2' + u <= 0,
// in the negative mode it rises when x2' + u >= 0.
func SymbolicModel(r ModelRanges) *Model {
	noise := affine.NewNoise()
	tbl := dd.NewTable()

	var a, b, x [3]affine.Form
	for i := range a {
		a[i] = noise.Range(r.A[i].Lo, r.A[i].Hi)
	}
	for i := range b {
		b[i] = noise.Range(r.B[i].Lo, r.B[i].Hi)
	}
	for i := range x {
		x[i] = noise.Range(r.X[i].Lo, r.X[i].Hi)
	}
	pos := tbl.NewDecision("init")
	u := noise.Range(r.U.Lo, r.U.Hi)

	// Ax + bu is shared by both modes; only the sign of a differs.
	var drift [3]affine.Form
	for i := range drift {
		sum := affine.Scalar(0)
		for j := range x {
			if k := integrators.At(i, j); k != 0 {
				sum = sum.Add(x[j].Scale(k))
			}
		}
		drift[i] = sum.Add(b[i].Mul(u))
	}

	var xp, xn [3]affine.Form
	for i := range drift {
		xp[i] = drift[i].Sub(a[i])
		xn[i] = drift[i].Add(a[i])
	}

	// conditions are stored as "form >= 0"
	drop := tbl.NewReal(xp[2].Add(u).Neg())
	rise := tbl.NewReal(xn[2].Add(u))

	m := &Model{
		Table: tbl,
		Pre:   make(map[string]*dd.Node, len(Signals)+1),
		Post:  make(map[string]*dd.Node, len(Signals)+1),
	}
	for i, name := range Signals {
		m.Pre[name] = dd.Continuous(x[i])
		m.Post[name] = dd.Ite(pos, dd.Continuous(xp[i]), dd.Continuous(xn[i]))
	}
	m.Pre[Mode] = dd.Ite(pos, dd.Discrete(true), dd.Discrete(false))
	m.Post[Mode] = dd.Ite(pos,
		dd.Ite(drop, dd.Discrete(false), dd.Discrete(true)),
		dd.Ite(rise, dd.Discrete(true), dd.Discrete(false)),
	)
	m.Symbols = noise.Count()
	return m
}

// Monitor builds a monitor for m with tolerance delta.
func (m *Model) Monitor(delta float64, opts ...monitor.Option) (*monitor.Monitor, error) {
	return monitor.New(m.Table, m.Pre, m.Post, delta, opts...)
}
