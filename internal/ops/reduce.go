package ops

import (
	"github.com/born-ml/cvgraph/internal/derivs"
	"github.com/born-ml/cvgraph/internal/graph"
	"github.com/born-ml/cvgraph/internal/value"
)

// ReduceOptions configures SUM and MEAN.
type ReduceOptions struct {
	Arg string `yaml:"arg" validate:"required"`
}

// Reduce sums the elements of its argument into a scalar, optionally
// dividing by the element count. Task t contributes element t; the
// contributions are merged in task order after the pass.
type Reduce struct {
	graph.OperationBase
	mean bool
}

// NewSum creates a SUM.
func NewSum(label string, lk graph.Lookup, opts ReduceOptions) (*Reduce, error) {
	return newReduce(label, "SUM", lk, opts, false)
}

// NewMean creates a MEAN.
func NewMean(label string, lk graph.Lookup, opts ReduceOptions) (*Reduce, error) {
	return newReduce(label, "MEAN", lk, opts, true)
}

func newReduce(label, kind string, lk graph.Lookup, opts ReduceOptions, mean bool) (*Reduce, error) {
	args, err := graph.ResolveArguments(lk, label, opts.Arg)
	if err != nil {
		return nil, err
	}
	if args[0].Rank() == 0 {
		return nil, graph.ArgumentError(label, args[0].Name(), nil, "cannot reduce a scalar")
	}
	r := &Reduce{OperationBase: graph.NewBase(label, kind), mean: mean}
	r.RequestArguments(args...)
	r.AddValue(value.Shape{}).SetNotPeriodic()
	r.SetChainable()
	return r, nil
}

// TaskCount returns the number of argument elements.
func (r *Reduce) TaskCount() int { return r.Argument(0).Size() }

// Setup is a no-op.
func (r *Reduce) Setup() error { return nil }

// BuildTaskList returns every argument element.
func (r *Reduce) BuildTaskList() ([]int, error) {
	return allTasks(r.TaskCount()), nil
}

// PerformTask adds the contribution of element t.
func (r *Reduce) PerformTask(t int, buf *derivs.Buffer) {
	scale := 1.0
	if r.mean {
		scale /= float64(r.TaskCount())
	}
	r.AddToValue(buf, 0, scale*r.ArgValue(buf, 0, t))
	r.AddArgDerivative(buf, 0, 0, t, scale)
}
