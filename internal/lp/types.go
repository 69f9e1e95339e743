// Package lp holds the linear-programming primitives used by the monitor and
// a feasibility solver backed by gonum's simplex implementation.
package lp

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Variable is a continuous LP variable. It has no bounds of its own; bounds
// are expressed as explicit constraints.
type Variable struct {
	ID   int
	Name string
}

// NewVariable returns the variable for noise symbol id.
func NewVariable(id int) Variable {
	return Variable{ID: id, Name: fmt.Sprintf("e_%d", id)}
}

func (v Variable) String() string {
	if v.Name != "" {
		return v.Name
	}
	return fmt.Sprintf("v%d", v.ID)
}

// Sign is the comparison of a constraint.
type Sign int

const (
	LessOrEqual Sign = iota
	GreaterOrEqual
)

func (s Sign) String() string {
	switch s {
	case LessOrEqual:
		return "<="
	case GreaterOrEqual:
		return ">="
	default:
		return fmt.Sprintf("Sign(%d)", int(s))
	}
}

// Flip returns the opposite comparison.
func (s Sign) Flip() Sign {
	if s == LessOrEqual {
		return GreaterOrEqual
	}
	return LessOrEqual
}

// Expression is Σ coeff·var + Constant.
type Expression struct {
	Terms    map[Variable]float64
	Constant float64
}

// NewExpression copies terms into a fresh expression.
func NewExpression(terms map[Variable]float64, constant float64) Expression {
	e := Expression{Terms: make(map[Variable]float64, len(terms)), Constant: constant}
	for v, c := range terms {
		e.Terms[v] = c
	}
	return e
}

// Eval evaluates the expression at values; missing variables count as 0.
func (e Expression) Eval(values map[Variable]float64) float64 {
	sum := e.Constant
	for v, c := range e.Terms {
		sum += c * values[v]
	}
	return sum
}

func (e Expression) String() string {
	vars := make([]Variable, 0, len(e.Terms))
	for v := range e.Terms {
		vars = append(vars, v)
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].ID < vars[j].ID })

	parts := make([]string, 0, len(vars)+1)
	for _, v := range vars {
		parts = append(parts, fmt.Sprintf("%g·%s", e.Terms[v], v))
	}
	if e.Constant != 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%g", e.Constant))
	}
	return strings.Join(parts, " + ")
}

// Constraint is Expr <Sign> RHS.
type Constraint struct {
	Expr Expression
	Sign Sign
	RHS  float64
}

// Satisfied reports whether values satisfy c up to tol.
func (c Constraint) Satisfied(values map[Variable]float64, tol float64) bool {
	lhs := c.Expr.Eval(values)
	if c.Sign == LessOrEqual {
		return lhs <= c.RHS+tol
	}
	return lhs >= c.RHS-tol
}

func (c Constraint) String() string {
	return fmt.Sprintf("%s %s %g", c.Expr, c.Sign, c.RHS)
}

// Direction of an objective.
type Direction int

const (
	Minimize Direction = iota
	Maximize
)

// Objective is the function optimized by the solver. A constant-only
// objective turns the problem into a pure feasibility query.
type Objective struct {
	Expr      Expression
	Direction Direction
}

// ConstantObjective is the trivial objective used for feasibility checks.
func ConstantObjective(c float64) Objective {
	return Objective{Expr: Expression{Constant: c}, Direction: Maximize}
}

// Problem is an immutable LP built by a Builder.
type Problem struct {
	Variables   []Variable
	Constraints []Constraint
	Objective   Objective

	column map[Variable]int
}

// Column returns the column index of v.
func (p *Problem) Column(v Variable) (int, bool) {
	i, ok := p.column[v]
	return i, ok
}

// Satisfied reports whether values satisfy every constraint up to tol.
func (p *Problem) Satisfied(values map[Variable]float64, tol float64) bool {
	for _, c := range p.Constraints {
		if !c.Satisfied(values, tol) {
			return false
		}
	}
	return true
}

// Builder accumulates variables and constraints. It is not safe for
// concurrent use; build one problem per goroutine.
type Builder struct {
	variables   []Variable
	column      map[Variable]int
	constraints []Constraint
	objective   Objective
}

// NewBuilder preallocates room for nVars variables and nCons constraints.
func NewBuilder(nVars, nCons int) *Builder {
	return &Builder{
		variables:   make([]Variable, 0, nVars),
		column:      make(map[Variable]int, nVars),
		constraints: make([]Constraint, 0, nCons),
	}
}

// AddVariable declares v. Declaring the same variable twice is a no-op.
func (b *Builder) AddVariable(v Variable) {
	if _, ok := b.column[v]; ok {
		return
	}
	b.column[v] = len(b.variables)
	b.variables = append(b.variables, v)
}

// AddConstraint appends c.
func (b *Builder) AddConstraint(c Constraint) {
	b.constraints = append(b.constraints, c)
}

// AddConstraints appends all of cs.
func (b *Builder) AddConstraints(cs []Constraint) {
	b.constraints = append(b.constraints, cs...)
}

// SetObjective replaces the objective.
func (b *Builder) SetObjective(o Objective) {
	b.objective = o
}

// Build validates the accumulated problem. Every variable referenced by a
// constraint or the objective must have been declared, and every number
// must be finite.
func (b *Builder) Build() (*Problem, error) {
	check := func(where string, e Expression) error {
		if math.IsNaN(e.Constant) || math.IsInf(e.Constant, 0) {
			return fmt.Errorf("%w: %s has non-finite constant", ErrInvalidProblem, where)
		}
		for v, c := range e.Terms {
			if _, ok := b.column[v]; !ok {
				return fmt.Errorf("%w: %s references undeclared variable %s", ErrInvalidProblem, where, v)
			}
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return fmt.Errorf("%w: %s has non-finite coefficient for %s", ErrInvalidProblem, where, v)
			}
		}
		return nil
	}

	for i, c := range b.constraints {
		if err := check(fmt.Sprintf("constraint %d", i), c.Expr); err != nil {
			return nil, err
		}
		if math.IsNaN(c.RHS) || math.IsInf(c.RHS, 0) {
			return nil, fmt.Errorf("%w: constraint %d has non-finite right-hand side", ErrInvalidProblem, i)
		}
	}
	if err := check("objective", b.objective.Expr); err != nil {
		return nil, err
	}

	column := make(map[Variable]int, len(b.column))
	for v, i := range b.column {
		column[v] = i
	}
	return &Problem{
		Variables:   append([]Variable(nil), b.variables...),
		Constraints: append([]Constraint(nil), b.constraints...),
		Objective:   b.objective,
		column:      column,
	}, nil
}
