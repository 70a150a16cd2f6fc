package ops

import (
	"log/slog"
	"strings"

	"github.com/born-ml/cvgraph/internal/derivs"
	"github.com/born-ml/cvgraph/internal/graph"
	"github.com/born-ml/cvgraph/internal/grid"
)

// EvaluateGridOptions configures an EVALUATE_FUNCTION_FROM_GRID.
type EvaluateGridOptions struct {
	// Grid names a value produced by a grid-valued operation.
	Grid string `yaml:"grid" validate:"required"`
}

// EvaluateGrid interpolates a grid-valued function at coordinates read from
// the values named in the grid header. Argument 0 is the grid; arguments
// 1..rank are the coordinates. Task t writes element t.
type EvaluateGrid struct {
	graph.OperationBase
	provider grid.HeaderProvider
	grid     *grid.Grid
}

// NewEvaluateGrid creates an EVALUATE_FUNCTION_FROM_GRID.
func NewEvaluateGrid(label string, lk graph.Lookup, opts EvaluateGridOptions) (*EvaluateGrid, error) {
	gargs, err := graph.ResolveArguments(lk, label, opts.Grid)
	if err != nil {
		return nil, err
	}
	gval := gargs[0]
	provider, ok := lk.Owner(gval).(grid.HeaderProvider)
	if !ok {
		return nil, graph.ArgumentError(label, gval.Name(), nil, "argument is not a grid")
	}
	h := provider.GridHeader()
	if h.Type == grid.TypeFibonacci {
		return nil, graph.ArgumentError(label, gval.Name(), nil, "cannot interpolate on fibonacci sphere")
	}
	if gval.Rank() != h.Rank() {
		return nil, graph.ArgumentError(label, gval.Name(), nil,
			"grid has rank %d but its header names %d arguments", gval.Rank(), h.Rank())
	}

	argv, err := graph.ResolveArguments(lk, label, h.ArgNames...)
	if err != nil {
		return nil, err
	}
	if err := graph.CheckMatchingShapes(label, argv); err != nil {
		return nil, err
	}
	names := make([]string, len(argv))
	for i, a := range argv {
		names[i] = a.Name()
	}
	lk.Logger().Info("arguments for grid are "+strings.Join(names, " "),
		slog.String("operation", label), slog.String("grid", gval.Name()))

	e := &EvaluateGrid{OperationBase: graph.NewBase(label, "EVALUATE_FUNCTION_FROM_GRID"), provider: provider}
	e.RequestArguments(append(gargs, argv...)...)
	ends := make([]int, len(argv)+2)
	for i := range ends {
		ends[i] = i
	}
	if err := e.SetArgEnds(ends...); err != nil {
		return nil, err
	}
	e.RequireComplete(0)
	e.AddValue(argv[0].Shape()).SetNotPeriodic()
	e.SetChainable()
	return e, nil
}

// TaskCount returns the number of coordinate elements.
func (e *EvaluateGrid) TaskCount() int { return e.Argument(1).Size() }

// Setup builds the interpolation grid from the header on the first pass.
func (e *EvaluateGrid) Setup() error {
	return e.RunOnce(func() error {
		g, err := grid.New(e.provider.GridHeader())
		if err != nil {
			return graph.ArgumentError(e.Label(), e.Argument(0).Name(), err, "cannot set up grid")
		}
		if !g.Shape().Equal(e.Argument(0).Shape()) {
			return graph.ArgumentError(e.Label(), e.Argument(0).Name(), nil,
				"grid header describes %s points but value has shape %s", g.Shape(), e.Argument(0).Shape())
		}
		e.grid = g
		return nil
	})
}

// BuildTaskList returns every coordinate element.
func (e *EvaluateGrid) BuildTaskList() ([]int, error) {
	return allTasks(e.TaskCount()), nil
}

// PerformTask interpolates at the coordinates of element t.
func (e *EvaluateGrid) PerformTask(t int, buf *derivs.Buffer) {
	rank := e.grid.Rank()
	var x, grad [grid.MaxRank]float64
	var scratch [1 << grid.MaxRank]grid.Corner
	for d := 0; d < rank; d++ {
		x[d] = e.ArgValue(buf, 1+d, t)
	}
	val, corners := e.grid.Interpolate(e.Argument(0).Data(), x[:rank], grad[:rank], scratch[:0])
	e.AddToValue(buf, 0, val)
	for d := 0; d < rank; d++ {
		e.AddArgDerivative(buf, 0, 1+d, t, grad[d])
	}
	for _, c := range corners {
		e.AddArgDerivative(buf, 0, 0, c.Index, c.Weight)
	}
}
