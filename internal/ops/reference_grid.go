package ops

import (
	"github.com/born-ml/cvgraph/internal/graph"
	"github.com/born-ml/cvgraph/internal/grid"
	"github.com/born-ml/cvgraph/internal/value"
)

// GridOptions describes the axes of a grid.
type GridOptions struct {
	// Type is flat (default) or fibonacci.
	Type string `yaml:"type,omitempty" validate:"omitempty,oneof=flat fibonacci"`
	// Args name the coordinate values the grid is a function of.
	Args    []string  `yaml:"args" validate:"required,min=1"`
	Min     []float64 `yaml:"min,omitempty"`
	Max     []float64 `yaml:"max,omitempty"`
	NBin    []int     `yaml:"nbins,omitempty"`
	Spacing []float64 `yaml:"spacing,omitempty"`
	PBC     []bool    `yaml:"pbc,omitempty"`
}

func (o GridOptions) header() grid.Header {
	h := grid.Header{
		Type:     o.Type,
		ArgNames: append([]string(nil), o.Args...),
		Min:      append([]float64(nil), o.Min...),
		Max:      append([]float64(nil), o.Max...),
		NBin:     append([]int(nil), o.NBin...),
		Spacing:  append([]float64(nil), o.Spacing...),
		PBC:      append([]bool(nil), o.PBC...),
	}
	if h.Type == "" {
		h.Type = grid.TypeFlat
	}
	if len(h.PBC) == 0 {
		h.PBC = make([]bool, len(h.ArgNames))
	}
	return h
}

// ReferenceGridOptions configures a REFERENCE_GRID.
type ReferenceGridOptions struct {
	GridOptions `yaml:",inline"`
	// Values are the function values at the grid points in row-major order.
	Values []float64 `yaml:"values,omitempty"`
	// Constant grids carry no derivative slots.
	Constant bool `yaml:"constant"`
}

// ReferenceGrid is a host-provided function tabulated on a grid.
type ReferenceGrid struct {
	source
	header grid.Header
	out    *value.Value
}

// NewReferenceGrid creates a REFERENCE_GRID. A fibonacci grid is a rank-1
// list of NBin[0] points on the unit sphere.
func NewReferenceGrid(label string, opts ReferenceGridOptions) (*ReferenceGrid, error) {
	h := opts.header()
	var shape value.Shape
	if h.Type == grid.TypeFibonacci {
		if len(h.NBin) != 1 || h.NBin[0] <= 0 {
			return nil, graph.Configf(label, "fibonacci grid needs one positive point count")
		}
		shape = value.Shape{h.NBin[0]}
	} else {
		resolved, err := h.Resolve()
		if err != nil {
			return nil, graph.ArgumentError(label, "grid", err, "invalid grid")
		}
		h = resolved
		shape = h.Points()
	}

	g := &ReferenceGrid{source: newSource(label, "REFERENCE_GRID"), header: h}
	if opts.Constant {
		g.out = value.NewConstant(label, label, shape)
	} else {
		g.out = value.NewRoot(label, label, shape)
	}
	if len(opts.Values) > 0 {
		if err := g.out.SetData(opts.Values); err != nil {
			return nil, graph.ArgumentError(label, "values", err, "grid values do not match %s points", shape)
		}
	}
	g.AddOutput(g.out)
	return g, nil
}

// GridHeader returns the grid metadata.
func (g *ReferenceGrid) GridHeader() grid.Header { return g.header.Clone() }

// Value returns the tabulated values.
func (g *ReferenceGrid) Value() *value.Value { return g.out }

// Set replaces the tabulated values.
func (g *ReferenceGrid) Set(xs []float64) error { return g.out.SetData(xs) }
