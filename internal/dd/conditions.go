package dd

import (
	"fmt"

	"github.com/fractal-lba/bouncer/internal/affine"
)

// ConditionKind tells real-valued inequalities from boolean decisions.
type ConditionKind int

const (
	// Real conditions hold on the true branch when Form >= 0.
	Real ConditionKind = iota
	// Decision conditions are free boolean variables.
	Decision
)

func (k ConditionKind) String() string {
	if k == Real {
		return "real"
	}
	return "decision"
}

// Condition is one entry of the condition table.
type Condition struct {
	ID   CondID
	Kind ConditionKind
	Form affine.Form
	Name string
}

// IsReal reports whether c carries an affine form.
func (c Condition) IsReal() bool {
	return c.Kind == Real
}

func (c Condition) String() string {
	if c.IsReal() {
		return fmt.Sprintf("%s >= 0", c.Form)
	}
	return c.Name
}

// ConditionTable resolves condition ids.
type ConditionTable interface {
	// Condition looks up a positive id.
	Condition(id CondID) (Condition, error)
	// Constraint looks up a signed path id by its magnitude.
	Constraint(id CondID) (Condition, error)
}

// Table is the in-memory ConditionTable. Registration is not safe for
// concurrent use; lookups are once registration is done.
type Table struct {
	conds []Condition
}

// NewTable returns an empty table. The first registered condition gets id 1.
func NewTable() *Table {
	return &Table{}
}

// NewReal registers the condition form >= 0.
func (t *Table) NewReal(form affine.Form) CondID {
	id := CondID(len(t.conds) + 1)
	t.conds = append(t.conds, Condition{ID: id, Kind: Real, Form: form.Clone()})
	return id
}

// NewDecision registers a named boolean decision variable.
func (t *Table) NewDecision(name string) CondID {
	id := CondID(len(t.conds) + 1)
	t.conds = append(t.conds, Condition{ID: id, Kind: Decision, Name: name})
	return id
}

// Len is the number of registered conditions.
func (t *Table) Len() int {
	return len(t.conds)
}

func (t *Table) Condition(id CondID) (Condition, error) {
	if id <= 0 || int(id) > len(t.conds) {
		return Condition{}, fmt.Errorf("%w: %d", ErrUnknownCondition, id)
	}
	return t.conds[id-1], nil
}

func (t *Table) Constraint(id CondID) (Condition, error) {
	return t.Condition(id.Abs())
}
