// Package dd is a small decision-diagram engine: per-signal if-then-else
// diagrams over a shared condition table, and the merge of several diagrams
// into one branch structure whose leaves are the possible post-states.
package dd

import (
	"fmt"

	"github.com/fractal-lba/bouncer/internal/affine"
)

// CondID identifies a branch condition. Along a path the sign records the
// branch taken (positive = true); the magnitude indexes the Table.
type CondID int

// Abs returns the unsigned table index of c.
func (c CondID) Abs() CondID {
	if c < 0 {
		return -c
	}
	return c
}

// Kind distinguishes leaves from internal nodes.
type Kind int

const (
	KindContinuous Kind = iota
	KindDiscrete
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindContinuous:
		return "continuous"
	case KindDiscrete:
		return "discrete"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Node is an immutable decision-diagram node.
type Node struct {
	kind  Kind
	form  affine.Form
	value bool
	cond  CondID
	then  *Node
	els   *Node
}

// Continuous returns a leaf holding an affine form.
func Continuous(f affine.Form) *Node {
	return &Node{kind: KindContinuous, form: f.Clone()}
}

// Discrete returns a boolean leaf.
func Discrete(v bool) *Node {
	return &Node{kind: KindDiscrete, value: v}
}

// Ite returns "if cond then t else e". A negative cond swaps the branches so
// stored conditions are always positive.
func Ite(cond CondID, t, e *Node) *Node {
	if cond < 0 {
		cond, t, e = -cond, e, t
	}
	return &Node{kind: KindInternal, cond: cond, then: t, els: e}
}

func (n *Node) Kind() Kind { return n.kind }
func (n *Node) IsLeaf() bool { return n.kind != KindInternal }
func (n *Node) Form() affine.Form { return n.form }
func (n *Node) Value() bool { return n.value }
func (n *Node) Cond() CondID { return n.cond }
func (n *Node) Then() *Node { return n.then }
func (n *Node) Else() *Node { return n.els }

// Leaves counts the leaves reachable from n.
func (n *Node) Leaves() int {
	if n.IsLeaf() {
		return 1
	}
	return n.then.Leaves() + n.els.Leaves()
}

func (n *Node) String() string {
	switch n.kind {
	case KindContinuous:
		return n.form.String()
	case KindDiscrete:
		return fmt.Sprintf("%t", n.value)
	default:
		return fmt.Sprintf("ITE(%d, %s, %s)", n.cond, n.then, n.els)
	}
}

func (n *Node) validate() error {
	if n == nil {
		return ErrNilNode
	}
	if n.IsLeaf() {
		return nil
	}
	if n.cond == 0 {
		return ErrInvalidCondition
	}
	if err := n.then.validate(); err != nil {
		return err
	}
	return n.els.validate()
}
