package dd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fractal-lba/bouncer/internal/affine"
)

// StateTuple is the value of every signal at one leaf of a merged tree.
type StateTuple struct {
	Continuous map[string]affine.Form
	Discrete   map[string]bool
}

// ContinuousForms returns a copy of the continuous part of s.
func (s StateTuple) ContinuousForms() map[string]affine.Form {
	out := make(map[string]affine.Form, len(s.Continuous))
	for name, f := range s.Continuous {
		out[name] = f.Clone()
	}
	return out
}

func (s StateTuple) String() string {
	names := make([]string, 0, len(s.Continuous)+len(s.Discrete))
	for name := range s.Continuous {
		names = append(names, name)
	}
	for name := range s.Discrete {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		if f, ok := s.Continuous[name]; ok {
			parts = append(parts, fmt.Sprintf("%s=%s", name, f))
		} else {
			parts = append(parts, fmt.Sprintf("%s=%t", name, s.Discrete[name]))
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// LeafPath is a leaf together with the signed condition ids leading to it,
// outermost first.
type LeafPath struct {
	Leaf StateTuple
	Path []CondID
}

type treeNode struct {
	cond CondID
	then *treeNode
	els  *treeNode
	leaf *StateTuple
}

// Tree is the merged branch structure of several per-signal diagrams.
type Tree struct {
	root   *treeNode
	leaves int
}

// BuildPostStateModel merges the post-state diagrams into a single tree by
// expanding all of them simultaneously on the smallest undecided condition.
// Signals present only in pre keep their pre-state diagram.
func BuildPostStateModel(pre, post map[string]*Node) (*Tree, error) {
	nodes := make(map[string]*Node, len(pre)+len(post))
	for name, n := range pre {
		if _, ok := post[name]; !ok {
			nodes[name] = n
		}
	}
	for name, n := range post {
		nodes[name] = n
	}
	for name, n := range nodes {
		if err := n.validate(); err != nil {
			return nil, fmt.Errorf("signal %q: %w", name, err)
		}
	}

	t := &Tree{}
	t.root = t.expand(nodes, make(map[CondID]bool))
	return t, nil
}

func (t *Tree) expand(nodes map[string]*Node, assign map[CondID]bool) *treeNode {
	var split CondID
	restricted := make(map[string]*Node, len(nodes))
	for name, n := range nodes {
		// follow conditions already decided on this path
		for !n.IsLeaf() {
			v, ok := assign[n.cond]
			if !ok {
				break
			}
			if v {
				n = n.then
			} else {
				n = n.els
			}
		}
		restricted[name] = n
		if !n.IsLeaf() && (split == 0 || n.cond < split) {
			split = n.cond
		}
	}

	if split == 0 {
		leaf := &StateTuple{
			Continuous: make(map[string]affine.Form),
			Discrete:   make(map[string]bool),
		}
		for name, n := range restricted {
			if n.Kind() == KindContinuous {
				leaf.Continuous[name] = n.form
			} else {
				leaf.Discrete[name] = n.value
			}
		}
		t.leaves++
		return &treeNode{leaf: leaf}
	}

	assign[split] = true
	then := t.expand(restricted, assign)
	assign[split] = false
	els := t.expand(restricted, assign)
	delete(assign, split)
	return &treeNode{cond: split, then: then, els: els}
}

// NumLeaves is the number of leaves of t.
func (t *Tree) NumLeaves() int {
	return t.leaves
}

// LeavesWithPaths lists every leaf depth-first, then-branch before
// else-branch.
func (t *Tree) LeavesWithPaths() []LeafPath {
	out := make([]LeafPath, 0, t.leaves)
	var walk func(n *treeNode, path []CondID)
	walk = func(n *treeNode, path []CondID) {
		if n.leaf != nil {
			out = append(out, LeafPath{Leaf: *n.leaf, Path: append([]CondID(nil), path...)})
			return
		}
		walk(n.then, append(path, n.cond))
		walk(n.els, append(path, -n.cond))
	}
	walk(t.root, nil)
	return out
}

// String renders t as nested ITE terms.
func (t *Tree) String() string {
	var sb strings.Builder
	var walk func(n *treeNode)
	walk = func(n *treeNode) {
		if n.leaf != nil {
			sb.WriteString(n.leaf.String())
			return
		}
		fmt.Fprintf(&sb, "ITE(%d, ", n.cond)
		walk(n.then)
		sb.WriteString(", ")
		walk(n.els)
		sb.WriteString(")")
	}
	walk(t.root)
	return sb.String()
}
