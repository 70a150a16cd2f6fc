package ops

import (
	"fmt"

	"github.com/born-ml/cvgraph/internal/derivs"
	"github.com/born-ml/cvgraph/internal/graph"
	"github.com/born-ml/cvgraph/internal/value"
)

// source implements the scheduling methods of operations whose outputs are
// written by the host.
type source struct {
	graph.OperationBase
}

func newSource(label, kind string) source {
	s := source{OperationBase: graph.NewBase(label, kind)}
	s.MarkSource()
	return s
}

// TaskCount is always zero.
func (s *source) TaskCount() int { return 0 }

// Setup is a no-op.
func (s *source) Setup() error { return nil }

// BuildTaskList returns no tasks.
func (s *source) BuildTaskList() ([]int, error) { return nil, nil }

// PerformTask is never called for sources.
func (s *source) PerformTask(int, *derivs.Buffer) {}

// Positions holds the (N,3) atomic coordinates. Every coordinate is a root
// derivative slot.
type Positions struct {
	source
	natoms int
	out    *value.Value
}

// NewPositions creates a POSITIONS source for natoms atoms.
func NewPositions(label string, natoms int) (*Positions, error) {
	if natoms <= 0 {
		return nil, graph.Configf(label, "number of atoms must be positive, got %d", natoms)
	}
	p := &Positions{source: newSource(label, "POSITIONS"), natoms: natoms}
	p.out = value.NewRoot(label, label, value.Shape{natoms, 3})
	p.AddOutput(p.out)
	return p, nil
}

// NumAtoms returns the number of atoms.
func (p *Positions) NumAtoms() int { return p.natoms }

// Value returns the coordinates value.
func (p *Positions) Value() *value.Value { return p.out }

// Atom returns the coordinates of atom i.
func (p *Positions) Atom(i int) []float64 {
	return p.out.Data()[3*i : 3*i+3]
}

// Set copies flattened xyz coordinates into the value.
func (p *Positions) Set(xyz []float64) error {
	if err := p.out.SetData(xyz); err != nil {
		return fmt.Errorf("positions %s: %w", p.Label(), err)
	}
	return nil
}

// InputOptions configures an INPUT source.
type InputOptions struct {
	Shape []int `yaml:"shape"`
	// Values are the initial contents; defaults to zeros.
	Values []float64 `yaml:"values,omitempty"`
	// Constant inputs carry no derivative slots.
	Constant bool `yaml:"constant"`
	// Period is the (min, max) domain of a periodic input.
	Period []float64 `yaml:"period,omitempty" validate:"omitempty,len=2"`
}

// Input is a host-provided scalar or array.
type Input struct {
	source
	out *value.Value
}

// NewInput creates an INPUT source.
func NewInput(label string, opts InputOptions) (*Input, error) {
	shape := value.Shape(opts.Shape)
	if err := shape.Validate(); err != nil {
		return nil, graph.ArgumentError(label, "shape", err, "invalid input shape")
	}
	in := &Input{source: newSource(label, "INPUT")}
	if opts.Constant {
		in.out = value.NewConstant(label, label, shape)
	} else {
		in.out = value.NewRoot(label, label, shape)
	}
	if len(opts.Period) == 2 {
		if err := in.out.SetPeriodic(opts.Period[0], opts.Period[1]); err != nil {
			return nil, graph.ArgumentError(label, "period", err, "invalid period")
		}
	}
	if len(opts.Values) > 0 {
		if err := in.out.SetData(opts.Values); err != nil {
			return nil, graph.ArgumentError(label, "values", err, "invalid initial values")
		}
	}
	in.AddOutput(in.out)
	return in, nil
}

// Value returns the input value.
func (in *Input) Value() *value.Value { return in.out }

// Set replaces the contents of the input.
func (in *Input) Set(xs []float64) error {
	if err := in.out.SetData(xs); err != nil {
		return fmt.Errorf("input %s: %w", in.Label(), err)
	}
	return nil
}
