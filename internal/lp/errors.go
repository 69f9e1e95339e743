package lp

import "errors"

var (
	// ErrInfeasible is returned by Solution.Err when no assignment satisfies
	// the constraints.
	ErrInfeasible = errors.New("lp: problem is infeasible")

	// ErrUnbounded is returned by Solution.Err when the objective is unbounded.
	ErrUnbounded = errors.New("lp: problem is unbounded")

	// ErrSolverFault covers every internal solver failure (singular bases,
	// numerical breakdown, recovered panics).
	ErrSolverFault = errors.New("lp: solver fault")

	// ErrInvalidProblem is returned by Builder.Build for malformed problems.
	ErrInvalidProblem = errors.New("lp: invalid problem")
)
