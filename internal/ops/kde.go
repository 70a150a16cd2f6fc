package ops

import (
	"log/slog"
	"math"

	"github.com/born-ml/cvgraph/internal/derivs"
	"github.com/born-ml/cvgraph/internal/graph"
	"github.com/born-ml/cvgraph/internal/grid"
	"github.com/born-ml/cvgraph/internal/value"
)

// kernelRange is the squared scaled distance beyond which a Gaussian
// contribution is dropped (5 bandwidths).
const kernelRange = 25.0

// KDEOptions configures a KDE.
type KDEOptions struct {
	GridOptions `yaml:",inline"`
	// Bandwidth is the Gaussian width per axis.
	Bandwidth []float64 `yaml:"bandwidth" validate:"required,dive,gt=0"`
	// Normalize divides the density by the number of samples.
	Normalize bool `yaml:"normalize"`
}

// KDE accumulates a Gaussian kernel density estimate of per-atom values on a
// grid. Task p writes grid point p.
//
// Missing bounds are taken from the periodic domain of the argument, or from
// the range of the first frame's samples padded by 5 bandwidths; the grid
// shape is then resolved once at setup from the spacing.
type KDE struct {
	graph.OperationBase
	header    grid.Header
	grid      *grid.Grid
	bandwidth []float64
	normalize bool
	logger    *slog.Logger
}

// NewKDE creates a KDE over the arguments named in opts.Args.
func NewKDE(label string, lk graph.Lookup, opts KDEOptions) (*KDE, error) {
	h := opts.header()
	if h.Type == grid.TypeFibonacci {
		return nil, graph.Configf(label, "density estimation on a fibonacci sphere is not supported")
	}
	args, err := graph.ResolveArguments(lk, label, h.ArgNames...)
	if err != nil {
		return nil, err
	}
	if err := graph.CheckMatchingShapes(label, args); err != nil {
		return nil, err
	}
	rank := len(args)
	if len(opts.Bandwidth) != rank {
		return nil, graph.Configf(label, "need %d bandwidths, got %d", rank, len(opts.Bandwidth))
	}
	if len(h.PBC) != rank {
		return nil, graph.Configf(label, "need %d periodicity flags, got %d", rank, len(h.PBC))
	}
	for d, a := range args {
		if a.IsPeriodic() {
			h.PBC[d] = true
		}
	}
	bounded := len(h.Min) == rank && len(h.Max) == rank
	if !bounded {
		if len(h.Min) != 0 || len(h.Max) != 0 {
			return nil, graph.Configf(label, "need %d bounds per side, got %d and %d", rank, len(h.Min), len(h.Max))
		}
		if len(h.Spacing) != rank {
			return nil, graph.Configf(label, "grid without bounds needs a spacing per axis")
		}
	}

	k := &KDE{
		OperationBase: graph.NewBase(label, "KDE"),
		header:        h,
		bandwidth:     append([]float64(nil), opts.Bandwidth...),
		normalize:     opts.Normalize,
		logger:        lk.Logger(),
	}
	k.RequestArguments(args...)
	for i := range args {
		k.RequireComplete(i)
	}

	shape := make(value.Shape, rank)
	if bounded {
		resolved, err := h.Resolve()
		if err != nil {
			return nil, graph.ArgumentError(label, "grid", err, "invalid grid")
		}
		k.header = resolved
		shape = resolved.Points()
	}
	k.AddValue(shape).SetNotPeriodic()
	return k, nil
}

// GridHeader returns the grid metadata. Bounds and bins may be unset until
// the first pass.
func (k *KDE) GridHeader() grid.Header { return k.header.Clone() }

// TaskCount returns the number of grid points, or 0 before setup.
func (k *KDE) TaskCount() int { return k.Output(0).Size() }

// Setup resolves the grid on the first pass.
func (k *KDE) Setup() error {
	return k.RunOnce(func() error {
		h := k.header.Clone()
		if len(h.Min) == 0 {
			k.bounds(&h)
		}
		g, err := grid.New(h)
		if err != nil {
			return graph.ArgumentError(k.Label(), "grid", err, "cannot resolve grid")
		}
		out := k.Output(0)
		if !out.Shape().Resolved() {
			if err := out.Resize(g.Shape()); err != nil {
				return graph.ArgumentError(k.Label(), out.Name(), err, "cannot resize grid")
			}
		}
		k.header = g.Header()
		k.grid = g
		k.logger.Debug("grid resolved",
			slog.String("operation", k.Label()),
			slog.String("shape", g.Shape().String()),
			slog.Int("points", g.NumPoints()))
		return nil
	})
}

func (k *KDE) bounds(h *grid.Header) {
	rank := h.Rank()
	h.Min = make([]float64, rank)
	h.Max = make([]float64, rank)
	for d := 0; d < rank; d++ {
		a := k.Argument(d)
		if a.IsPeriodic() {
			h.Min[d], h.Max[d] = a.Domain()
			continue
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, x := range a.Data() {
			lo, hi = math.Min(lo, x), math.Max(hi, x)
		}
		if lo > hi {
			lo, hi = 0, 0
		}
		pad := 5 * k.bandwidth[d]
		h.Min[d], h.Max[d] = lo-pad, hi+pad
	}
}

// BuildTaskList returns every grid point.
func (k *KDE) BuildTaskList() ([]int, error) {
	return allTasks(k.TaskCount()), nil
}

// PerformTask accumulates the density at grid point p.
func (k *KDE) PerformTask(p int, buf *derivs.Buffer) {
	rank := k.grid.Rank()
	var pt, dx [grid.MaxRank]float64
	k.grid.Point(p, pt[:rank])

	nsamples := k.Argument(0).Size()
	weight := 1.0
	if k.normalize && nsamples > 0 {
		weight /= float64(nsamples)
	}
	for i := 0; i < nsamples; i++ {
		r2 := 0.0
		for d := 0; d < rank; d++ {
			dx[d] = k.grid.Difference(d, pt[d], k.ArgValue(buf, d, i))
			u := dx[d] / k.bandwidth[d]
			r2 += u * u
		}
		if r2 > kernelRange {
			continue
		}
		e := weight * math.Exp(-0.5*r2)
		k.AddToValue(buf, 0, e)
		for d := 0; d < rank; d++ {
			h := k.bandwidth[d]
			k.AddArgDerivative(buf, 0, d, i, e*dx[d]/(h*h))
		}
	}
}
