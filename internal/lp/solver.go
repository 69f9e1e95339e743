package lp

import (
	"context"
	"errors"
	"fmt"

	gonumlp "gonum.org/v1/gonum/optimize/convex/lp"
	"gonum.org/v1/gonum/mat"
)

// Status is the outcome of a successful solve.
type Status int

const (
	StatusFeasible Status = iota
	StatusInfeasible
	StatusUnbounded
)

func (s Status) String() string {
	switch s {
	case StatusFeasible:
		return "feasible"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Solution is the result of solving a Problem. Values and Objective are only
// meaningful when Status is StatusFeasible.
type Solution struct {
	Status    Status
	Values    map[Variable]float64
	Objective float64
}

// Err maps a non-feasible status to ErrInfeasible or ErrUnbounded.
func (s *Solution) Err() error {
	switch s.Status {
	case StatusInfeasible:
		return ErrInfeasible
	case StatusUnbounded:
		return ErrUnbounded
	}
	return nil
}

// Solver decides LP problems. Infeasible and unbounded problems are reported
// through Solution.Status with a nil error; a non-nil error means the solver
// could not decide (ErrSolverFault) or the context ended first.
type Solver interface {
	Solve(ctx context.Context, p *Problem) (*Solution, error)
}

// DefaultTolerance is the simplex pivot tolerance used by NewSimplexSolver.
const DefaultTolerance = 1e-10

// SimplexSolver converts problems to standard form and runs gonum's simplex.
type SimplexSolver struct {
	tol float64
}

// NewSimplexSolver returns a solver using tol as the simplex tolerance;
// tol <= 0 selects DefaultTolerance.
func NewSimplexSolver(tol float64) *SimplexSolver {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	return &SimplexSolver{tol: tol}
}

// Solve runs the simplex method on p. gonum's simplex cannot be interrupted,
// so when ctx ends first the solve keeps running in the background and its
// result is discarded.
func (s *SimplexSolver) Solve(ctx context.Context, p *Problem) (*Solution, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("lp: solve not started: %w", err)
	}
	if ctx.Done() == nil {
		return s.solve(p)
	}

	type result struct {
		sol *Solution
		err error
	}
	ch := make(chan result, 1)
	go func() {
		sol, err := s.solve(p)
		ch <- result{sol: sol, err: err}
	}()

	select {
	case r := <-ch:
		return r.sol, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("lp: solve aborted: %w", ctx.Err())
	}
}

func (s *SimplexSolver) solve(p *Problem) (sol *Solution, err error) {
	defer func() {
		if r := recover(); r != nil {
			sol, err = nil, fmt.Errorf("%w: panic: %v", ErrSolverFault, r)
		}
	}()

	n := len(p.Variables)
	if n == 0 {
		return s.solveFixed(p, nil), nil
	}

	c := make([]float64, n)
	for v, coeff := range p.Objective.Expr.Terms {
		col, _ := p.Column(v)
		c[col] = coeff
	}
	if p.Objective.Direction == Maximize {
		for i := range c {
			c[i] = -c[i]
		}
	}

	// gonum rejects all-zero columns, so variables that no constraint
	// mentions are solved here: free with a non-zero cost means unbounded,
	// otherwise they stay at 0.
	used := make([]int, n)
	for i := range used {
		used[i] = -1
	}
	k := 0
	for _, con := range p.Constraints {
		for v, coeff := range con.Expr.Terms {
			col, _ := p.Column(v)
			if coeff != 0 && used[col] < 0 {
				used[col] = 0
			}
		}
	}
	for col := range used {
		if used[col] < 0 {
			if c[col] != 0 {
				return &Solution{Status: StatusUnbounded}, nil
			}
			continue
		}
		used[col] = k
		k++
	}
	if k == 0 {
		return s.solveFixed(p, make([]float64, n)), nil
	}

	// Every constraint becomes a row of G·x <= h over the used columns.
	m := len(p.Constraints)
	g := mat.NewDense(m, k, nil)
	h := make([]float64, m)
	cUsed := make([]float64, k)
	for col, j := range used {
		if j >= 0 {
			cUsed[j] = c[col]
		}
	}
	for i, con := range p.Constraints {
		sign := 1.0
		if con.Sign == GreaterOrEqual {
			sign = -1.0
		}
		for v, coeff := range con.Expr.Terms {
			col, _ := p.Column(v)
			if j := used[col]; j >= 0 {
				g.Set(i, j, g.At(i, j)+sign*coeff)
			}
		}
		h[i] = sign * (con.RHS - con.Expr.Constant)
	}

	cNew, aNew, bNew := gonumlp.Convert(cUsed, g, h, nil, nil)
	_, xNew, err := gonumlp.Simplex(cNew, aNew, bNew, s.tol, nil)
	switch {
	case err == nil:
	case errors.Is(err, gonumlp.ErrInfeasible):
		return &Solution{Status: StatusInfeasible}, nil
	case errors.Is(err, gonumlp.ErrUnbounded):
		return &Solution{Status: StatusUnbounded}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrSolverFault, err)
	}

	// Convert lays variables out as [x+, x-, slack].
	x := make([]float64, n)
	for col, j := range used {
		if j >= 0 {
			x[col] = xNew[j] - xNew[k+j]
		}
	}
	values := valuesOf(p, x)
	return &Solution{
		Status:    StatusFeasible,
		Values:    values,
		Objective: p.Objective.Expr.Eval(values),
	}, nil
}

// solveFixed decides a problem whose constraints do not depend on any
// variable by evaluating them at x.
func (s *SimplexSolver) solveFixed(p *Problem, x []float64) *Solution {
	values := valuesOf(p, x)
	if !p.Satisfied(values, s.tol) {
		return &Solution{Status: StatusInfeasible}
	}
	return &Solution{
		Status:    StatusFeasible,
		Values:    values,
		Objective: p.Objective.Expr.Eval(values),
	}
}

func valuesOf(p *Problem, x []float64) map[Variable]float64 {
	values := make(map[Variable]float64, len(p.Variables))
	for i, v := range p.Variables {
		values[v] = x[i]
	}
	return values
}
