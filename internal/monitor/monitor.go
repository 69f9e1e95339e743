// Package monitor decides whether an observed (before, after) transition of
// a hybrid system is explained by a symbolic one-step model.
//
// The model is a set of per-signal decision diagrams whose leaves are affine
// forms. At construction the post-state diagrams are merged into possible
// worlds, one LP variable is allocated per noise symbol, and the noise bounds
// and path constraints are compiled once. Evaluate then checks, per world,
// whether the measurements are consistent with the world's affine forms
// within delta. A transition is an inlier iff at least one world is feasible.
package monitor

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/fractal-lba/bouncer/internal/affine"
	"github.com/fractal-lba/bouncer/internal/dd"
	"github.com/fractal-lba/bouncer/internal/lp"
)

// Monitor is immutable after New and safe for concurrent Evaluate calls.
type Monitor struct {
	cfg   Config
	log   *slog.Logger
	delta float64

	table dd.ConditionTable
	pre   map[string]*dd.Node
	tree  *dd.Tree

	continuous []string
	discrete   []string

	worlds    []World
	vars      *variableSpace
	bounds    []lp.Constraint
	paths     map[dd.CondID]lp.Constraint
	decisions map[dd.CondID]dd.Condition

	fingerprint string
}

// New builds a monitor for the model given by pre and post, which must name
// the same signals. Continuous pre-states must be single affine leaves.
func New(table dd.ConditionTable, pre, post map[string]*dd.Node, delta float64, opts ...Option) (*Monitor, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if table == nil {
		return nil, fmt.Errorf("%w: nil condition table", ErrConfig)
	}
	if math.IsNaN(delta) || math.IsInf(delta, 0) || delta < 0 {
		return nil, fmt.Errorf("%w: delta must be a finite non-negative number, got %v", ErrConfig, delta)
	}
	if !sameKeys(pre, post) {
		return nil, fmt.Errorf("%w: pre-state signals %v do not match post-state signals %v",
			ErrConfig, sortedKeys(pre), sortedKeys(post))
	}

	var continuous, discrete []string
	preForms := make(map[string]affine.Form)
	for _, name := range sortedKeys(pre) {
		kind, err := signalKind(name, pre[name], post[name])
		if err != nil {
			return nil, err
		}
		if kind == dd.KindDiscrete {
			discrete = append(discrete, name)
			continue
		}
		if !pre[name].IsLeaf() {
			return nil, fmt.Errorf("%w: pre-state of %q must be a single affine leaf", ErrConfig, name)
		}
		continuous = append(continuous, name)
		preForms[name] = pre[name].Form()
	}

	tree, err := dd.BuildPostStateModel(pre, post)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	worlds := enumerateWorlds(tree, preForms, continuous)
	vars, err := buildVariableSpace(worlds, table)
	if err != nil {
		return nil, err
	}
	paths, decisions, err := pathConstraints(worlds, table, vars)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:        cfg,
		log:        cfg.Logger,
		delta:      delta,
		table:      table,
		pre:        pre,
		tree:       tree,
		continuous: continuous,
		discrete:   discrete,
		worlds:     worlds,
		vars:       vars,
		bounds:     noiseBounds(vars),
		paths:      paths,
		decisions:  decisions,
	}
	m.fingerprint = fingerprint(delta, continuous, worlds, paths)

	if cfg.Metrics != nil {
		cfg.Metrics.Worlds.Set(float64(len(worlds)))
		cfg.Metrics.Variables.Set(float64(len(vars.list)))
	}
	m.log.Info("monitor ready",
		"worlds", len(worlds),
		"variables", len(vars.list),
		"path_constraints", len(paths),
		"skipped_decisions", len(decisions),
		"continuous", continuous,
		"discrete", discrete,
		"delta", delta,
	)
	return m, nil
}

// signalKind checks that both diagrams of a signal hold leaves of one kind.
func signalKind(name string, pre, post *dd.Node) (dd.Kind, error) {
	pk, err := leafKind(pre)
	if err != nil {
		return 0, fmt.Errorf("%w: pre-state of %q: %v", ErrConfig, name, err)
	}
	qk, err := leafKind(post)
	if err != nil {
		return 0, fmt.Errorf("%w: post-state of %q: %v", ErrConfig, name, err)
	}
	if pk != qk {
		return 0, fmt.Errorf("%w: %q is %s in the pre-state but %s in the post-state", ErrConfig, name, pk, qk)
	}
	return pk, nil
}

func leafKind(n *dd.Node) (dd.Kind, error) {
	if n == nil {
		return 0, dd.ErrNilNode
	}
	if n.IsLeaf() {
		return n.Kind(), nil
	}
	if n.Then() == nil || n.Else() == nil {
		return 0, dd.ErrNilNode
	}
	t, err := leafKind(n.Then())
	if err != nil {
		return 0, err
	}
	e, err := leafKind(n.Else())
	if err != nil {
		return 0, err
	}
	if t != e {
		return 0, fmt.Errorf("mixes %s and %s leaves", t, e)
	}
	return t, nil
}

func sameKeys(a, b map[string]*dd.Node) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Delta is the measurement tolerance.
func (m *Monitor) Delta() float64 { return m.delta }

// Fingerprint identifies the model and delta: two monitors with the same
// fingerprint return the same verdict for every transition.
func (m *Monitor) Fingerprint() string { return m.fingerprint }

// Parallelism is the maximum number of worlds solved concurrently.
func (m *Monitor) Parallelism() int { return m.cfg.Parallelism }

// NumWorlds is the number of possible worlds.
func (m *Monitor) NumWorlds() int { return len(m.worlds) }

// NumVariables is the number of LP variables, one per noise symbol.
func (m *Monitor) NumVariables() int { return len(m.vars.list) }

// NumPathConstraints is the number of compiled signed path constraints.
func (m *Monitor) NumPathConstraints() int { return len(m.paths) }

// NumBoundConstraints is the number of noise bound constraints.
func (m *Monitor) NumBoundConstraints() int { return len(m.bounds) }

// Variables returns the noise symbol ids in ascending order.
func (m *Monitor) Variables() []int { return m.vars.ids() }

// MonitoredContinuous returns the continuous signal names, sorted.
func (m *Monitor) MonitoredContinuous() []string {
	return append([]string(nil), m.continuous...)
}

// MonitoredDiscrete returns the discrete signal names, sorted. Discrete
// signals are tracked but not checked.
func (m *Monitor) MonitoredDiscrete() []string {
	return append([]string(nil), m.discrete...)
}

// Worlds returns a deep copy of the possible worlds.
func (m *Monitor) Worlds() []World {
	out := make([]World, len(m.worlds))
	for i, w := range m.worlds {
		out[i] = w.clone()
	}
	return out
}
