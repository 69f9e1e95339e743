package monitor

import (
	"fmt"
	"sort"

	"github.com/fractal-lba/bouncer/internal/affine"
	"github.com/fractal-lba/bouncer/internal/dd"
	"github.com/fractal-lba/bouncer/internal/lp"
)

// variableSpace maps every noise symbol of the model to its LP variable.
// It is frozen once built.
type variableSpace struct {
	byID map[int]lp.Variable
	list []lp.Variable
}

// buildVariableSpace collects the noise symbols of every pre form, post form
// and real-valued path condition across all worlds. Conditions are looked
// up by magnitude; decision conditions carry no symbols.
func buildVariableSpace(worlds []World, table dd.ConditionTable) (*variableSpace, error) {
	ids := make(map[int]struct{})
	add := func(f affine.Form) {
		for id := range f.Coeffs {
			ids[id] = struct{}{}
		}
	}

	for i, w := range worlds {
		for _, f := range w.Pre {
			add(f)
		}
		for _, f := range w.Post {
			add(f)
		}
		for _, id := range w.Path {
			cond, err := table.Condition(id.Abs())
			if err != nil {
				return nil, fmt.Errorf("%w: world %d: %v", ErrModelLookup, i, err)
			}
			if cond.IsReal() {
				add(cond.Form)
			}
		}
	}

	sorted := make([]int, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Ints(sorted)

	vs := &variableSpace{
		byID: make(map[int]lp.Variable, len(sorted)),
		list: make([]lp.Variable, 0, len(sorted)),
	}
	for _, id := range sorted {
		v := lp.NewVariable(id)
		vs.byID[id] = v
		vs.list = append(vs.list, v)
	}
	return vs, nil
}

// expression is the linear part of f over the variable space.
func (vs *variableSpace) expression(f affine.Form) lp.Expression {
	terms := make(map[lp.Variable]float64, len(f.Coeffs))
	for id, c := range f.Coeffs {
		terms[vs.byID[id]] = c
	}
	return lp.Expression{Terms: terms}
}

func (vs *variableSpace) ids() []int {
	out := make([]int, len(vs.list))
	for i, v := range vs.list {
		out[i] = v.ID
	}
	return out
}
