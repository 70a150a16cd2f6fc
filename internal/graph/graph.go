package graph

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/born-ml/cvgraph/internal/value"
)

// Graph owns a set of operations and the values they produce.
//
// Operations are added in construction order; each constructor resolves its
// arguments through the graph, so an operation can only consume values of
// operations added before it. Finalize orders the operations, assigns the
// global root derivative slots and discovers chains.
type Graph struct {
	ops     []Operation
	byLabel map[string]Operation
	values  map[string]*value.Value
	owners  map[*value.Value]Operation

	order  []Operation
	chains []*Chain
	roots  []*value.Value
	nslots int

	finalized bool
	logger    *slog.Logger
}

// New creates an empty graph. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{
		byLabel: make(map[string]Operation),
		values:  make(map[string]*value.Value),
		owners:  make(map[*value.Value]Operation),
		logger:  logger,
	}
}

// Logger returns the graph's diagnostic sink.
func (g *Graph) Logger() *slog.Logger { return g.logger }

// Value returns the value registered under name.
func (g *Graph) Value(name string) (*value.Value, error) {
	v, ok := g.values[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownValue, name)
	}
	return v, nil
}

// Owner returns the operation that produced v, or nil.
func (g *Graph) Owner(v *value.Value) Operation {
	return g.owners[v]
}

// Operation returns the operation registered under label.
func (g *Graph) Operation(label string) (Operation, bool) {
	op, ok := g.byLabel[label]
	return op, ok
}

// Operations returns the operations in construction order.
func (g *Graph) Operations() []Operation { return g.ops }

// Order returns the operations in evaluation order (after Finalize).
func (g *Graph) Order() []Operation { return g.order }

// Chains returns the chains in evaluation order (after Finalize).
func (g *Graph) Chains() []*Chain { return g.chains }

// Roots returns the root values in slot order (after Finalize).
func (g *Graph) Roots() []*value.Value { return g.roots }

// NumSlots returns the size of the global root derivative slot space.
func (g *Graph) NumSlots() int { return g.nslots }

// Finalized reports whether Finalize has completed.
func (g *Graph) Finalized() bool { return g.finalized }

// Add registers an operation and its outputs.
func (g *Graph) Add(op Operation) error {
	if g.finalized {
		return ErrFinalized
	}
	b := op.Base()
	if b.label == "" {
		return Configf(b.kind, "operation has no label")
	}
	if _, dup := g.byLabel[b.label]; dup {
		return &ConfigError{Operation: b.label, Dimension: -1, Details: "label already in use", Err: ErrDuplicateLabel}
	}
	for _, out := range b.outputs {
		if _, dup := g.values[out.Name()]; dup {
			return &ConfigError{Operation: b.label, Argument: out.Name(), Dimension: -1,
				Details: "value name already in use", Err: ErrDuplicateLabel}
		}
	}
	for _, a := range b.args {
		if _, ok := g.owners[a]; !ok {
			return ArgumentError(b.label, a.Name(), ErrUnknownValue, "argument is not produced by this graph")
		}
	}

	g.ops = append(g.ops, op)
	g.byLabel[b.label] = op
	for _, out := range b.outputs {
		g.values[out.Name()] = out
		g.owners[out] = op
	}

	g.logger.Info("operation configured",
		slog.String("label", b.label),
		slog.String("type", b.kind),
		slog.String("arguments", names(b.args)),
		slog.String("outputs", describe(b.outputs)),
	)
	return nil
}

// Finalize orders the operations, assigns root slots and builds chains.
// It must be called once, after every operation has been added.
func (g *Graph) Finalize() error {
	if g.finalized {
		return ErrFinalized
	}
	order, err := g.topologicalSort()
	if err != nil {
		return err
	}
	g.order = order

	for _, op := range g.order {
		for _, out := range op.Base().outputs {
			if !out.IsRoot() {
				continue
			}
			if !out.Shape().Resolved() {
				return ArgumentError(op.Base().label, out.Name(), nil, "root value has unresolved shape %s", out.Shape())
			}
			out.SetRootOffset(g.nslots)
			g.nslots += out.Size()
			g.roots = append(g.roots, out)
		}
	}

	g.buildChains()
	g.finalized = true

	for _, c := range g.chains {
		labels := make([]string, 0, len(c.ops))
		for _, op := range c.ops {
			labels = append(labels, op.Base().label)
		}
		g.logger.Debug("chain built",
			slog.Int("chain", c.index),
			slog.String("operations", strings.Join(labels, ",")),
			slog.Int("nderivatives", c.nderivatives),
		)
	}
	return nil
}

// topologicalSort orders operations with Kahn's algorithm. Ties are broken by
// construction order, so a graph built in dependency order keeps its order.
func (g *Graph) topologicalSort() ([]Operation, error) {
	index := make(map[Operation]int, len(g.ops))
	for i, op := range g.ops {
		index[op] = i
	}
	inDegree := make([]int, len(g.ops))
	dependents := make([][]int, len(g.ops))
	for i, op := range g.ops {
		seen := make(map[int]bool)
		for _, a := range op.Base().args {
			j := index[g.owners[a]]
			if j == i || seen[j] {
				continue
			}
			seen[j] = true
			inDegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	ready := make([]int, 0, len(g.ops))
	for i := range g.ops {
		if inDegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	order := make([]Operation, 0, len(g.ops))
	for len(ready) > 0 {
		// Pick the earliest constructed ready operation.
		best := 0
		for k := range ready {
			if ready[k] < ready[best] {
				best = k
			}
		}
		i := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		order = append(order, g.ops[i])
		for _, d := range dependents[i] {
			inDegree[d]--
			if inDegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	if len(order) != len(g.ops) {
		return nil, fmt.Errorf("%w: %d operations unreachable", ErrCycle, len(g.ops)-len(order))
	}
	return order, nil
}

func names(vs []*value.Value) string {
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		parts = append(parts, v.Name())
	}
	return strings.Join(parts, " ")
}

func describe(vs []*value.Value) string {
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		parts = append(parts, v.Name()+v.Shape().String())
	}
	return strings.Join(parts, " ")
}
