package ops

import (
	"fmt"

	"github.com/born-ml/cvgraph/internal/derivs"
	"github.com/born-ml/cvgraph/internal/graph"
	"github.com/born-ml/cvgraph/internal/switching"
)

// Kernel evaluates a pointwise function of one element of each argument.
// It writes the partial derivative with respect to argument k into der[k].
// Kernels are called concurrently and must not retain x or der.
type Kernel func(x, der []float64) float64

// FunctionOptions configures a pointwise FUNCTION.
type FunctionOptions struct {
	Args []string `yaml:"args" validate:"required,min=1,dive,required"`
	// Func is one of ratio, product, combine.
	Func string `yaml:"func,omitempty"`
	// Coefficients of combine; default to 1.
	Coefficients []float64 `yaml:"coefficients,omitempty"`
	// Period is the (min, max) domain of a periodic result.
	Period []float64 `yaml:"period,omitempty" validate:"omitempty,len=2"`

	// Kernel overrides Func.
	Kernel Kernel `yaml:"-"`
}

// Function applies a kernel elementwise to arguments of matching shape.
// Task t writes element t of the output.
type Function struct {
	graph.OperationBase
	kernel Kernel
}

// NewFunction creates a FUNCTION.
func NewFunction(label string, lk graph.Lookup, opts FunctionOptions) (*Function, error) {
	kernel := opts.Kernel
	if kernel == nil {
		var err error
		kernel, err = namedKernel(opts.Func, len(opts.Args), opts.Coefficients)
		if err != nil {
			return nil, graph.ArgumentError(label, "func", err, "invalid function")
		}
	}
	return newPointwise(label, "FUNCTION", lk, opts.Args, opts.Period, kernel)
}

func newPointwise(label, kind string, lk graph.Lookup, names []string, period []float64, kernel Kernel) (*Function, error) {
	if len(names) == 0 {
		return nil, graph.Configf(label, "no arguments")
	}
	args, err := graph.ResolveArguments(lk, label, names...)
	if err != nil {
		return nil, err
	}
	if err := graph.CheckMatchingShapes(label, args); err != nil {
		return nil, err
	}
	f := &Function{OperationBase: graph.NewBase(label, kind), kernel: kernel}
	f.RequestArguments(args...)
	out := f.AddValue(args[0].Shape())
	if len(period) == 2 {
		if err := out.SetPeriodic(period[0], period[1]); err != nil {
			return nil, graph.ArgumentError(label, "period", err, "invalid period")
		}
	} else {
		out.SetNotPeriodic()
	}
	f.SetChainable()
	return f, nil
}

// TaskCount returns the number of output elements.
func (f *Function) TaskCount() int { return f.Output(0).Size() }

// Setup resolves the output shape of a function of grid-valued arguments.
func (f *Function) Setup() error {
	return f.RunOnce(func() error {
		out := f.Output(0)
		if out.Shape().Resolved() {
			return nil
		}
		if err := out.Resize(f.Argument(0).Shape()); err != nil {
			return graph.ArgumentError(f.Label(), f.Argument(0).Name(), err, "cannot resolve output shape")
		}
		return nil
	})
}

// BuildTaskList returns every element.
func (f *Function) BuildTaskList() ([]int, error) {
	return allTasks(f.TaskCount()), nil
}

// PerformTask evaluates element t.
func (f *Function) PerformTask(t int, buf *derivs.Buffer) {
	n := f.NumArguments()
	var scratch [8]float64
	var x, der []float64
	if 2*n <= len(scratch) {
		x, der = scratch[:n], scratch[n:2*n]
	} else {
		x, der = make([]float64, n), make([]float64, n)
	}
	for k := 0; k < n; k++ {
		x[k] = f.ArgValue(buf, k, t)
		der[k] = 0
	}
	f.AddToValue(buf, 0, f.kernel(x, der))
	for k := 0; k < n; k++ {
		f.AddArgDerivative(buf, 0, k, t, der[k])
	}
}

func namedKernel(name string, nargs int, coeffs []float64) (Kernel, error) {
	switch name {
	case "ratio":
		if nargs != 2 {
			return nil, fmt.Errorf("ratio takes 2 arguments, got %d", nargs)
		}
		return Ratio, nil
	case "product":
		return Product, nil
	case "combine", "":
		if len(coeffs) == 0 {
			coeffs = make([]float64, nargs)
			for i := range coeffs {
				coeffs[i] = 1
			}
		}
		if len(coeffs) != nargs {
			return nil, fmt.Errorf("combine has %d coefficients for %d arguments", len(coeffs), nargs)
		}
		return Combine(coeffs), nil
	default:
		return nil, fmt.Errorf("unknown function %q", name)
	}
}

// Ratio is x/y. A zero denominator gives zero.
func Ratio(x, der []float64) float64 {
	if x[1] == 0 {
		return 0
	}
	der[0] = 1 / x[1]
	der[1] = -x[0] / (x[1] * x[1])
	return x[0] / x[1]
}

// Product multiplies every argument.
func Product(x, der []float64) float64 {
	p := 1.0
	for k := range x {
		p *= x[k]
	}
	for k := range x {
		d := 1.0
		for j := range x {
			if j != k {
				d *= x[j]
			}
		}
		der[k] = d
	}
	return p
}

// Combine returns the linear combination sum_k c[k] x[k].
func Combine(c []float64) Kernel {
	c = append([]float64(nil), c...)
	return func(x, der []float64) float64 {
		s := 0.0
		for k := range x {
			s += c[k] * x[k]
			der[k] = c[k]
		}
		return s
	}
}

// ThresholdOptions configures MORE_THAN and LESS_THAN.
type ThresholdOptions struct {
	Arg    string             `yaml:"arg" validate:"required"`
	Switch switching.Rational `yaml:"switch"`
}

// NewLessThan creates a LESS_THAN: s(x) for the switching function s.
func NewLessThan(label string, lk graph.Lookup, opts ThresholdOptions) (*Function, error) {
	sw, err := thresholdSwitch(label, opts)
	if err != nil {
		return nil, err
	}
	return newPointwise(label, "LESS_THAN", lk, []string{opts.Arg}, nil, func(x, der []float64) float64 {
		s, ds := sw.Calculate(x[0])
		der[0] = ds
		return s
	})
}

// NewMoreThan creates a MORE_THAN: 1 - s(x) for the switching function s.
func NewMoreThan(label string, lk graph.Lookup, opts ThresholdOptions) (*Function, error) {
	sw, err := thresholdSwitch(label, opts)
	if err != nil {
		return nil, err
	}
	return newPointwise(label, "MORE_THAN", lk, []string{opts.Arg}, nil, func(x, der []float64) float64 {
		s, ds := sw.Calculate(x[0])
		der[0] = -ds
		return 1 - s
	})
}

func thresholdSwitch(label string, opts ThresholdOptions) (switching.Rational, error) {
	sw := opts.Switch.Defaults()
	if err := sw.Validate(); err != nil {
		return sw, graph.ArgumentError(label, "switch", err, "invalid switching function")
	}
	return sw, nil
}
