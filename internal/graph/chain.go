package graph

import "github.com/born-ml/cvgraph/internal/value"

// Chain is a run of operations that share one task loop and one derivative
// slot allocation. Chains are discovered once by Graph.Finalize and are not
// modified afterwards.
type Chain struct {
	index        int
	ops          []Operation
	streams      []*value.Value
	roots        []*value.Value
	nderivatives int
	reserved     []bool
}

// Index returns the chain's position in evaluation order.
func (c *Chain) Index() int { return c.index }

// Head returns the operation whose task list drives the chain.
func (c *Chain) Head() Operation { return c.ops[0] }

// Operations returns the chain members in evaluation order.
func (c *Chain) Operations() []Operation { return c.ops }

// Streams returns every output of every member; value.Stream() indexes it.
func (c *Chain) Streams() []*value.Value { return c.streams }

// Roots returns the distinct root values the chain depends on.
func (c *Chain) Roots() []*value.Value { return c.roots }

// NumDerivatives returns the combined number of distinct root slots.
func (c *Chain) NumDerivatives() int { return c.nderivatives }

// Reserved returns the global slot mask the chain may write derivatives to.
func (c *Chain) Reserved() []bool { return c.reserved }

// TaskCount returns the number of possible tasks of the chain head.
func (c *Chain) TaskCount() int { return c.Head().TaskCount() }

// rootSet is an insertion-ordered set of root values.
type rootSet struct {
	seen  map[*value.Value]bool
	order []*value.Value
}

func newRootSet() *rootSet {
	return &rootSet{seen: make(map[*value.Value]bool)}
}

func (s *rootSet) add(vs ...*value.Value) {
	for _, v := range vs {
		if !s.seen[v] {
			s.seen[v] = true
			s.order = append(s.order, v)
		}
	}
}

func countSlots(roots []*value.Value) int {
	n := 0
	for _, r := range roots {
		n += r.Size()
	}
	return n
}

// computeRoots walks the dependency graph from op to the roots, deduplicating
// roots reached through several arguments.
func (g *Graph) computeRoots(op Operation, memo map[Operation][]*value.Value) []*value.Value {
	if roots, ok := memo[op]; ok {
		return roots
	}
	set := newRootSet()
	for _, out := range op.Base().outputs {
		if out.IsRoot() {
			set.add(out)
		}
	}
	for _, a := range op.Base().args {
		switch {
		case !a.HasDerivatives():
		case a.IsRoot():
			set.add(a)
		default:
			if owner := g.owners[a]; owner != nil {
				set.add(g.computeRoots(owner, memo)...)
			}
		}
	}
	memo[op] = set.order
	return set.order
}

// buildChains groups the ordered operations into chains.
//
// An operation joins the most recently created chain when it is chainable,
// reads at least one elementwise output of that chain, has the same task count
// as the chain head, and takes at most one computed argument from outside it.
// Everything else starts a new chain.
func (g *Graph) buildChains() {
	memo := make(map[Operation][]*value.Value)
	var current *Chain
	for _, op := range g.order {
		b := op.Base()
		b.roots = g.computeRoots(op, memo)
		b.nderivatives = countSlots(b.roots)
		if b.source {
			continue
		}
		if current != nil && g.canJoin(current, op) {
			current.ops = append(current.ops, op)
		} else {
			current = &Chain{index: len(g.chains), ops: []Operation{op}}
			g.chains = append(g.chains, current)
		}
		b.chain = current
		for _, out := range b.outputs {
			out.Bind(current.index, len(current.streams))
			current.streams = append(current.streams, out)
		}
	}

	for _, c := range g.chains {
		set := newRootSet()
		for _, op := range c.ops {
			set.add(op.Base().roots...)
		}
		c.roots = set.order
		c.nderivatives = countSlots(c.roots)
		c.reserved = make([]bool, g.nslots)
		for _, r := range c.roots {
			for i := 0; i < r.Size(); i++ {
				c.reserved[r.RootOffset()+i] = true
			}
		}
		if len(c.ops) > 1 {
			for _, op := range c.ops {
				op.Base().nderivatives = c.nderivatives
			}
		}
	}
}

func (g *Graph) canJoin(c *Chain, op Operation) bool {
	b := op.Base()
	n := c.Head().TaskCount()
	if !b.chainable || n == 0 || op.TaskCount() != n {
		return false
	}
	inside, outside := 0, 0
	for i, a := range b.args {
		owner := g.owners[a]
		if owner == nil || owner.Base().source {
			continue
		}
		if owner.Base().chain == c {
			if a.Size() != n || b.requiresComplete(i) {
				return false
			}
			inside++
		} else {
			outside++
		}
	}
	return inside > 0 && outside <= 1
}
