// Package graph defines the operation contract and the machinery that wires
// operations into an evaluation graph: argument resolution, shape checking,
// derivative slot bookkeeping and chain discovery.
//
// Each operation implements the Operation interface, which provides:
//   - Setup: one-time lazy derivation of metadata (gated by firstStep)
//   - BuildTaskList: the active task indices for the next pass
//   - PerformTask: value and direct partial derivatives for one task
//
// Operations never compose derivatives themselves. They record the partial
// derivative of each output with respect to the argument elements they read,
// and OperationBase.ApplyChainRule turns those into root derivatives.
package graph

import (
	"fmt"

	"github.com/born-ml/cvgraph/internal/derivs"
	"github.com/born-ml/cvgraph/internal/value"
)

// Operation is a node of the evaluation graph.
//
// Task t of an operation writes element t of every output, except for rank-0
// outputs of operations with more than one task: those are reductions whose
// per-task contributions are summed after the pass.
type Operation interface {
	// Base returns the shared bookkeeping embedded in every operation.
	Base() *OperationBase

	// TaskCount returns the number of possible tasks (0 for sources or while
	// the output shape is still unresolved).
	TaskCount() int

	// Setup performs one-time lazy setup. Repeat calls are no-ops.
	Setup() error

	// BuildTaskList returns the active tasks for the next pass, in order.
	BuildTaskList() ([]int, error)

	// PerformTask computes task into buf. Values go to the output streams,
	// direct partials go through OperationBase.AddArgDerivative.
	PerformTask(task int, buf *derivs.Buffer)
}

// OperationBase holds the state shared by all operations. Embed it and
// implement the remaining Operation methods.
type OperationBase struct {
	label string
	kind  string

	args    []*value.Value
	argEnds []int
	outputs []*value.Value

	roots        []*value.Value
	nderivatives int

	firstStep bool
	chainable bool
	source    bool
	complete  []bool
	chain     *Chain
}

// NewBase creates the bookkeeping for an operation of the given kind.
func NewBase(label, kind string) OperationBase {
	return OperationBase{label: label, kind: kind, firstStep: true}
}

// Base returns b itself so that embedding types satisfy Operation.
func (b *OperationBase) Base() *OperationBase { return b }

// Label returns the operation's label.
func (b *OperationBase) Label() string { return b.label }

// Kind returns the registered type name, e.g. "TETRAHEDRAL".
func (b *OperationBase) Kind() string { return b.kind }

// RequestArguments sets the ordered argument list. Argument ends default to a
// single group spanning all arguments.
func (b *OperationBase) RequestArguments(args ...*value.Value) {
	b.args = append(b.args[:0], args...)
	b.argEnds = []int{0, len(args)}
}

// SetArgEnds partitions the argument list into groups: group k is
// args[ends[k]:ends[k+1]].
func (b *OperationBase) SetArgEnds(ends ...int) error {
	if len(ends) < 2 || ends[0] != 0 || ends[len(ends)-1] != len(b.args) {
		return Configf(b.label, "argument ends %v do not span %d arguments", ends, len(b.args))
	}
	for i := 1; i < len(ends); i++ {
		if ends[i] < ends[i-1] {
			return Configf(b.label, "argument ends %v are not ordered", ends)
		}
	}
	b.argEnds = append([]int(nil), ends...)
	return nil
}

// ArgEnds returns the argument group boundaries.
func (b *OperationBase) ArgEnds() []int { return b.argEnds }

// ArgumentGroup returns the arguments of group k.
func (b *OperationBase) ArgumentGroup(k int) []*value.Value {
	return b.args[b.argEnds[k]:b.argEnds[k+1]]
}

// Arguments returns the ordered argument list.
func (b *OperationBase) Arguments() []*value.Value { return b.args }

// NumArguments returns the number of arguments.
func (b *OperationBase) NumArguments() int { return len(b.args) }

// Argument returns argument i.
func (b *OperationBase) Argument(i int) *value.Value { return b.args[i] }

// Outputs returns the owned output values.
func (b *OperationBase) Outputs() []*value.Value { return b.outputs }

// Output returns output i.
func (b *OperationBase) Output(i int) *value.Value { return b.outputs[i] }

// AnyArgumentHasDerivatives reports whether derivatives can flow through b.
func (b *OperationBase) AnyArgumentHasDerivatives() bool {
	for _, a := range b.args {
		if a.HasDerivatives() {
			return true
		}
	}
	return false
}

// AddValue creates the single output named after the operation. Derivatives
// are tracked when any argument tracks them.
func (b *OperationBase) AddValue(shape value.Shape) *value.Value {
	v := value.New(b.label, b.label, shape, b.AnyArgumentHasDerivatives())
	b.outputs = append(b.outputs, v)
	return v
}

// AddComponent creates an output named label.name.
func (b *OperationBase) AddComponent(name string, shape value.Shape) *value.Value {
	v := value.New(b.label+"."+name, b.label, shape, b.AnyArgumentHasDerivatives())
	b.outputs = append(b.outputs, v)
	return v
}

// AddOutput registers a value built by the operation itself (roots, constants).
func (b *OperationBase) AddOutput(v *value.Value) {
	b.outputs = append(b.outputs, v)
}

// SetChainable allows the operation to share the task loop of the operation
// producing its arguments.
func (b *OperationBase) SetChainable() { b.chainable = true }

// RequireComplete marks argument arg as read at arbitrary elements, so it
// must be fully computed before the operation's task loop starts.
func (b *OperationBase) RequireComplete(arg int) {
	for len(b.complete) <= arg {
		b.complete = append(b.complete, false)
	}
	b.complete[arg] = true
}

func (b *OperationBase) requiresComplete(arg int) bool {
	return arg < len(b.complete) && b.complete[arg]
}

// Chainable reports whether the operation may join an existing chain.
func (b *OperationBase) Chainable() bool { return b.chainable }

// MarkSource flags an operation whose outputs are set by the host.
// Sources are never scheduled.
func (b *OperationBase) MarkSource() { b.source = true }

// IsSource reports whether the operation is a source.
func (b *OperationBase) IsSource() bool { return b.source }

// FirstStep reports whether one-time setup is still pending.
func (b *OperationBase) FirstStep() bool { return b.firstStep }

// RunOnce runs fn if setup is still pending and clears the flag on success.
func (b *OperationBase) RunOnce(fn func() error) error {
	if !b.firstStep {
		return nil
	}
	if err := fn(); err != nil {
		return err
	}
	b.firstStep = false
	return nil
}

// DistinctArguments returns the number of distinct root values b depends on.
func (b *OperationBase) DistinctArguments() int { return len(b.roots) }

// Roots returns the distinct root values b depends on, in discovery order.
func (b *OperationBase) Roots() []*value.Value { return b.roots }

// NumDerivatives returns the number of root derivative slots b exposes.
// Operations inside a multi-operation chain share the chain's count.
func (b *OperationBase) NumDerivatives() int { return b.nderivatives }

// Chain returns the chain b was placed in by Graph.Finalize.
func (b *OperationBase) Chain() *Chain { return b.chain }

// ArgValue reads element elem of argument arg for the task held by buf.
// Arguments computed earlier in the same chain are read from buf.
func (b *OperationBase) ArgValue(buf *derivs.Buffer, arg, elem int) float64 {
	if arg < 0 || arg >= len(b.args) {
		b.fail(buf, fmt.Sprintf("argument %d out of range", arg))
		return 0
	}
	v := b.args[arg]
	if b.inChain(v) {
		if elem != buf.Task() {
			b.fail(buf, fmt.Sprintf("element %d of in-chain argument %s read by task %d", elem, v.Name(), buf.Task()))
			return 0
		}
		return buf.Value(v.Stream())
	}
	if elem < 0 || elem >= v.Size() {
		b.fail(buf, fmt.Sprintf("element %d of argument %s out of range", elem, v.Name()))
		return 0
	}
	return v.Get(elem)
}

// AddToValue accumulates x into output out for the current task.
func (b *OperationBase) AddToValue(buf *derivs.Buffer, out int, x float64) {
	buf.AddValue(b.outputs[out].Stream(), x)
}

// AddArgDerivative records d(output out)/d(element elem of argument arg).
func (b *OperationBase) AddArgDerivative(buf *derivs.Buffer, out, arg, elem int, d float64) {
	if !buf.DerivativesEnabled() || !b.outputs[out].HasDerivatives() {
		return
	}
	if arg >= 0 && arg < len(b.args) && !b.args[arg].HasDerivatives() {
		return
	}
	buf.AddLocal(b.outputs[out].Stream(), arg, elem, d)
}

// ApplyChainRule composes the direct partials recorded after position from
// with the root derivatives of the arguments they refer to.
func (b *OperationBase) ApplyChainRule(buf *derivs.Buffer, from int) {
	if !buf.DerivativesEnabled() {
		return
	}
	locals := buf.Locals()
	for _, l := range locals[from:] {
		if l.Arg < 0 || l.Arg >= len(b.args) {
			b.fail(buf, fmt.Sprintf("derivative for argument %d out of range", l.Arg))
			return
		}
		v := b.args[l.Arg]
		switch {
		case !v.HasDerivatives():
		case v.IsRoot():
			if l.Elem < 0 || l.Elem >= v.Size() {
				b.fail(buf, fmt.Sprintf("derivative for element %d of %s out of range", l.Elem, v.Name()))
				return
			}
			buf.AddDerivative(l.Stream, v.RootOffset()+l.Elem, l.D)
		case b.inChain(v):
			if l.Elem != buf.Task() {
				b.fail(buf, fmt.Sprintf("derivative for element %d of in-chain argument %s", l.Elem, v.Name()))
				return
			}
			buf.AddScaledRow(l.Stream, v.Stream(), l.D)
		default:
			if l.Elem < 0 || l.Elem >= v.Size() {
				b.fail(buf, fmt.Sprintf("derivative for element %d of %s out of range", l.Elem, v.Name()))
				return
			}
			row := v.Row(l.Elem)
			for k, slot := range row.Slots {
				buf.AddDerivative(l.Stream, slot, l.D*row.Derivs[k])
			}
		}
	}
}

func (b *OperationBase) inChain(v *value.Value) bool {
	return b.chain != nil && v.Chain() == b.chain.index && v.Stream() >= 0
}

func (b *OperationBase) fail(buf *derivs.Buffer, details string) {
	buf.Fail(&InvariantError{Operation: b.label, Task: buf.Task(), Details: details})
}
