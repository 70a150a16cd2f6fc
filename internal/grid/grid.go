// Package grid describes regular coordinate grids: the header metadata that a
// grid-valued operation publishes, index arithmetic over the grid points, and
// multilinear interpolation with derivatives.
//
// Axis d has NBin[d] bins between Min[d] and Max[d]. A periodic axis has
// NBin[d] points (the point at Max wraps onto Min); a non-periodic axis has
// NBin[d]+1 points.
package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/born-ml/cvgraph/internal/value"
)

// Grid topologies.
const (
	TypeFlat      = "flat"
	TypeFibonacci = "fibonacci"
)

// MaxRank is the largest number of axes a grid may have.
const MaxRank = 6

// ErrInvalidHeader is returned for inconsistent header metadata.
var ErrInvalidHeader = errors.New("invalid grid header")

// Header is the metadata published by a grid-valued operation.
type Header struct {
	Type     string
	ArgNames []string
	Min      []float64
	Max      []float64
	NBin     []int
	Spacing  []float64
	PBC      []bool
}

// HeaderProvider is implemented by operations whose output is a grid.
type HeaderProvider interface {
	GridHeader() Header
}

// Rank returns the number of axes.
func (h Header) Rank() int { return len(h.ArgNames) }

// Clone returns a deep copy of the header.
func (h Header) Clone() Header {
	return Header{
		Type:     h.Type,
		ArgNames: append([]string(nil), h.ArgNames...),
		Min:      append([]float64(nil), h.Min...),
		Max:      append([]float64(nil), h.Max...),
		NBin:     append([]int(nil), h.NBin...),
		Spacing:  append([]float64(nil), h.Spacing...),
		PBC:      append([]bool(nil), h.PBC...),
	}
}

// Resolve completes the header: bins are derived from the spacing when
// NBin[d] is zero, and the spacing is always recomputed from the bins.
func (h Header) Resolve() (Header, error) {
	out := h.Clone()
	d := out.Rank()
	if d > MaxRank {
		return out, fmt.Errorf("%w: %d axes exceed the maximum of %d", ErrInvalidHeader, d, MaxRank)
	}
	if len(out.Min) != d || len(out.Max) != d || len(out.PBC) != d {
		return out, fmt.Errorf("%w: %d axes but %d/%d/%d bounds/periodicity entries",
			ErrInvalidHeader, d, len(out.Min), len(out.Max), len(out.PBC))
	}
	if len(out.NBin) == 0 {
		out.NBin = make([]int, d)
	}
	if len(out.Spacing) == 0 {
		out.Spacing = make([]float64, d)
	}
	if len(out.NBin) != d || len(out.Spacing) != d {
		return out, fmt.Errorf("%w: bins/spacing do not match %d axes", ErrInvalidHeader, d)
	}
	for i := 0; i < d; i++ {
		width := out.Max[i] - out.Min[i]
		if width <= 0 {
			return out, fmt.Errorf("%w: axis %s has empty range [%g, %g]", ErrInvalidHeader, out.ArgNames[i], out.Min[i], out.Max[i])
		}
		if out.NBin[i] <= 0 {
			if out.Spacing[i] <= 0 {
				return out, fmt.Errorf("%w: axis %s needs bins or spacing", ErrInvalidHeader, out.ArgNames[i])
			}
			out.NBin[i] = int(math.Ceil(width/out.Spacing[i] - 1e-9))
		}
		if out.PBC[i] && out.NBin[i] < 2 {
			return out, fmt.Errorf("%w: periodic axis %s needs at least 2 bins", ErrInvalidHeader, out.ArgNames[i])
		}
		out.Spacing[i] = width / float64(out.NBin[i])
	}
	return out, nil
}

// Points returns the number of grid points per axis.
// Entries are zero while the bins are unresolved.
func (h Header) Points() value.Shape {
	shape := make(value.Shape, h.Rank())
	for i := range shape {
		if i >= len(h.NBin) || h.NBin[i] <= 0 {
			continue
		}
		shape[i] = h.NBin[i]
		if !h.PBC[i] {
			shape[i]++
		}
	}
	return shape
}

// Grid is a resolved grid ready for indexing and interpolation.
type Grid struct {
	h       Header
	shape   value.Shape
	strides []int
	size    int
}

// New resolves h and builds a grid.
func New(h Header) (*Grid, error) {
	if h.Type == TypeFibonacci {
		return nil, fmt.Errorf("%w: cannot index a fibonacci sphere as a regular grid", ErrInvalidHeader)
	}
	r, err := h.Resolve()
	if err != nil {
		return nil, err
	}
	shape := r.Points()
	return &Grid{h: r, shape: shape, strides: shape.ComputeStrides(), size: shape.NumElements()}, nil
}

// Header returns the resolved header.
func (g *Grid) Header() Header { return g.h }

// Shape returns the number of points per axis.
func (g *Grid) Shape() value.Shape { return g.shape }

// Rank returns the number of axes.
func (g *Grid) Rank() int { return len(g.shape) }

// NumPoints returns the total number of grid points.
func (g *Grid) NumPoints() int { return g.size }

// Indices converts a flat point index into per-axis indices.
func (g *Grid) Indices(flat int, out []int) {
	for d := range g.shape {
		out[d] = flat / g.strides[d]
		flat %= g.strides[d]
	}
}

// Flat converts per-axis indices into a flat point index.
func (g *Grid) Flat(idx []int) int {
	flat := 0
	for d, i := range idx {
		flat += i * g.strides[d]
	}
	return flat
}

// Point writes the coordinates of grid point flat into out.
func (g *Grid) Point(flat int, out []float64) {
	for d := range g.shape {
		i := flat / g.strides[d]
		flat %= g.strides[d]
		out[d] = g.h.Min[d] + float64(i)*g.h.Spacing[d]
	}
}

// Difference returns x - y along axis d, using the minimum image on periodic axes.
func (g *Grid) Difference(d int, x, y float64) float64 {
	diff := x - y
	if g.h.PBC[d] {
		width := g.h.Max[d] - g.h.Min[d]
		diff -= width * math.Round(diff/width)
	}
	return diff
}

// Corner is a grid point contributing to an interpolated value with the
// given weight, which is also the derivative of the value with respect to
// the grid value at that point.
type Corner struct {
	Index  int
	Weight float64
}

// Interpolate evaluates the multilinear interpolant of values at x.
// grad receives d(value)/dx per axis. The contributing corners are appended
// to corners[:0] and returned; a corners slice with capacity 1<<Rank() is
// never reallocated. Points outside a non-periodic axis give zero with zero
// derivatives and no corners.
func (g *Grid) Interpolate(values []float64, x, grad []float64, corners []Corner) (float64, []Corner) {
	corners = corners[:0]
	rank := len(g.shape)
	for d := range grad {
		grad[d] = 0
	}

	var lo, hi [MaxRank]int
	var frac [MaxRank]float64
	for d := 0; d < rank; d++ {
		u := (x[d] - g.h.Min[d]) / g.h.Spacing[d]
		nbin := g.h.NBin[d]
		if g.h.PBC[d] {
			u = math.Mod(u, float64(nbin))
			if u < 0 {
				u += float64(nbin)
			}
			k := int(math.Floor(u))
			if k >= nbin {
				k = nbin - 1
			}
			lo[d], hi[d], frac[d] = k, (k+1)%nbin, u-float64(k)
			continue
		}
		if u < 0 || u > float64(nbin) {
			return 0, corners
		}
		k := int(math.Floor(u))
		if k >= nbin {
			k = nbin - 1
		}
		lo[d], hi[d], frac[d] = k, k+1, u-float64(k)
	}

	var idx [MaxRank]int
	total := 0.0
	for mask := 0; mask < 1<<rank; mask++ {
		w := 1.0
		for d := 0; d < rank; d++ {
			if mask&(1<<d) != 0 {
				idx[d] = hi[d]
				w *= frac[d]
			} else {
				idx[d] = lo[d]
				w *= 1 - frac[d]
			}
		}
		flat := g.Flat(idx[:rank])
		v := values[flat]
		total += w * v
		corners = append(corners, Corner{Index: flat, Weight: w})

		for d := 0; d < rank; d++ {
			dw := 1 / g.h.Spacing[d]
			if mask&(1<<d) == 0 {
				dw = -dw
			}
			for e := 0; e < rank; e++ {
				if e == d {
					continue
				}
				if mask&(1<<e) != 0 {
					dw *= frac[e]
				} else {
					dw *= 1 - frac[e]
				}
			}
			grad[d] += dw * v
		}
	}
	return total, corners
}
