package monitor

import (
	"github.com/fractal-lba/bouncer/internal/affine"
	"github.com/fractal-lba/bouncer/internal/dd"
)

// World is one possible world: a branch of the post-state model together
// with the pre-state it starts from.
type World struct {
	// Pre is identical in every world.
	Pre  map[string]affine.Form
	Post map[string]affine.Form
	// Path is the conjunction of signed conditions leading to this branch.
	Path []dd.CondID
}

func (w World) clone() World {
	out := World{
		Pre:  make(map[string]affine.Form, len(w.Pre)),
		Post: make(map[string]affine.Form, len(w.Post)),
		Path: append([]dd.CondID(nil), w.Path...),
	}
	for name, f := range w.Pre {
		out.Pre[name] = f.Clone()
	}
	for name, f := range w.Post {
		out.Post[name] = f.Clone()
	}
	return out
}

// enumerateWorlds turns every leaf of tree into a World. Leaves are kept even
// when their forms coincide; discrete leaf values are dropped.
func enumerateWorlds(tree *dd.Tree, pre map[string]affine.Form, continuous []string) []World {
	leaves := tree.LeavesWithPaths()
	worlds := make([]World, 0, len(leaves))
	for _, leaf := range leaves {
		forms := leaf.Leaf.ContinuousForms()
		post := make(map[string]affine.Form, len(continuous))
		for _, name := range continuous {
			post[name] = forms[name]
		}
		worlds = append(worlds, World{Pre: pre, Post: post, Path: leaf.Path})
	}
	return worlds
}
