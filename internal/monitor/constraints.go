package monitor

import (
	"fmt"

	"github.com/fractal-lba/bouncer/internal/affine"
	"github.com/fractal-lba/bouncer/internal/dd"
	"github.com/fractal-lba/bouncer/internal/lp"
)

// noiseBounds returns -1 <= e <= 1 for every variable.
func noiseBounds(vs *variableSpace) []lp.Constraint {
	out := make([]lp.Constraint, 0, 2*len(vs.list))
	for _, v := range vs.list {
		expr := lp.NewExpression(map[lp.Variable]float64{v: 1}, 0)
		out = append(out,
			lp.Constraint{Expr: expr, Sign: lp.GreaterOrEqual, RHS: -1},
			lp.Constraint{Expr: expr, Sign: lp.LessOrEqual, RHS: 1},
		)
	}
	return out
}

// pathConstraints compiles every signed condition id found in any world.
// The true branch of a real condition af >= 0 becomes
// expr >= -(central + radius); the false branch flips the comparison.
// Decision ids are reported in skipped and get no constraint.
func pathConstraints(worlds []World, table dd.ConditionTable, vs *variableSpace) (compiled map[dd.CondID]lp.Constraint, skipped map[dd.CondID]dd.Condition, err error) {
	compiled = make(map[dd.CondID]lp.Constraint)
	skipped = make(map[dd.CondID]dd.Condition)
	for i, w := range worlds {
		for _, id := range w.Path {
			if _, ok := compiled[id]; ok {
				continue
			}
			if _, ok := skipped[id]; ok {
				continue
			}
			cond, err := table.Constraint(id)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: world %d: %v", ErrModelLookup, i, err)
			}
			if !cond.IsReal() {
				skipped[id] = cond
				continue
			}
			sign := lp.GreaterOrEqual
			if id < 0 {
				sign = lp.LessOrEqual
			}
			compiled[id] = lp.Constraint{
				Expr: vs.expression(cond.Form),
				Sign: sign,
				RHS:  -(cond.Form.Central + cond.Form.Radius),
			}
		}
	}
	return compiled, skipped, nil
}

// measurement returns the pair of constraints stating that f, widened by its
// radius, lies within delta of the measured value.
func measurement(vs *variableSpace, f affine.Form, measured, delta float64) [2]lp.Constraint {
	expr := vs.expression(f)
	return [2]lp.Constraint{
		{Expr: expr, Sign: lp.GreaterOrEqual, RHS: (measured - delta) - f.Central - f.Radius},
		{Expr: expr, Sign: lp.LessOrEqual, RHS: (measured + delta) - f.Central + f.Radius},
	}
}
