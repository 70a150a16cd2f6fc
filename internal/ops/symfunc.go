package ops

import (
	"math"

	"github.com/born-ml/cvgraph/internal/derivs"
	"github.com/born-ml/cvgraph/internal/graph"
	"github.com/born-ml/cvgraph/internal/value"
)

// BondFunction evaluates the per-bond part of a symmetry function and its
// gradient with respect to the bond vector.
type BondFunction func(d [3]float64) (float64, [3]float64)

// SymmetryOptions names the matrices a symmetry function reads.
type SymmetryOptions struct {
	// Weight is the (NA,NB) switched adjacency matrix, e.g. "cm.w".
	Weight string `yaml:"weight" validate:"required"`
	// Vectors are the bond component matrices x, y, z.
	Vectors []string `yaml:"vectors,omitempty" validate:"omitempty,len=3"`
}

// SymmetryFunction computes, for each atom i,
//
//	s(i) = sum_j w(i,j) f(d(i,j))
//
// over the columns j with non-zero weight. The weight matrix may be
// rectangular: rows are the central atoms and columns their candidate
// neighbors. Task i writes element i.
type SymmetryFunction struct {
	graph.OperationBase
	rows int
	cols int
	bond BondFunction
}

func newSymmetryFunction(label, kind string, lk graph.Lookup, opts SymmetryOptions, bond BondFunction) (*SymmetryFunction, error) {
	if bond != nil && len(opts.Vectors) != 3 {
		return nil, graph.Configf(label, "%s needs the three bond vector matrices", kind)
	}
	names := append([]string{opts.Weight}, opts.Vectors...)
	args, err := graph.ResolveArguments(lk, label, names...)
	if err != nil {
		return nil, err
	}
	if err := graph.CheckRank(label, args[0], 2); err != nil {
		return nil, err
	}
	if err := graph.CheckMatchingShapes(label, args); err != nil {
		return nil, err
	}

	sf := &SymmetryFunction{
		OperationBase: graph.NewBase(label, kind),
		rows:          args[0].Shape()[0],
		cols:          args[0].Shape()[1],
		bond:          bond,
	}
	sf.RequestArguments(args...)
	for i := range args {
		sf.RequireComplete(i)
	}
	sf.AddValue(value.Shape{sf.rows}).SetNotPeriodic()
	return sf, nil
}

// NewTetrahedral creates a TETRAHEDRAL symmetry function.
func NewTetrahedral(label string, lk graph.Lookup, opts SymmetryOptions) (*SymmetryFunction, error) {
	return newSymmetryFunction(label, "TETRAHEDRAL", lk, opts, Tetrahedral)
}

// NewCoordinationNumber creates a COORDINATIONNUMBER symmetry function: the
// sum of the weights in each row.
func NewCoordinationNumber(label string, lk graph.Lookup, opts SymmetryOptions) (*SymmetryFunction, error) {
	opts.Vectors = nil
	return newSymmetryFunction(label, "COORDINATIONNUMBER", lk, opts, nil)
}

// TaskCount returns the number of rows.
func (sf *SymmetryFunction) TaskCount() int { return sf.rows }

// Setup is a no-op.
func (sf *SymmetryFunction) Setup() error { return nil }

// BuildTaskList returns every row.
func (sf *SymmetryFunction) BuildTaskList() ([]int, error) {
	return allTasks(sf.rows), nil
}

// PerformTask accumulates row i.
func (sf *SymmetryFunction) PerformTask(i int, buf *derivs.Buffer) {
	for j := 0; j < sf.cols; j++ {
		elem := i*sf.cols + j
		w := sf.ArgValue(buf, 0, elem)
		if w == 0 {
			continue
		}
		if sf.bond == nil {
			sf.AddToValue(buf, 0, w)
			sf.AddArgDerivative(buf, 0, 0, elem, 1)
			continue
		}
		var d [3]float64
		for k := 0; k < 3; k++ {
			d[k] = sf.ArgValue(buf, 1+k, elem)
		}
		f, df := sf.bond(d)
		sf.AddToValue(buf, 0, w*f)
		sf.AddArgDerivative(buf, 0, 0, elem, f)
		for k := 0; k < 3; k++ {
			sf.AddArgDerivative(buf, 0, 1+k, elem, w*df[k])
		}
	}
}

// Tetrahedral returns the cubic tetrahedral order term of bond vector d
//
//	((x+y+z)^3 + (x-y-z)^3 + (-x+y-z)^3 + (-x-y+z)^3) / r^3
//
// and its gradient. A zero vector gives zero.
func Tetrahedral(d [3]float64) (float64, [3]float64) {
	var grad [3]float64
	r := math.Sqrt(d[0]*d[0] + d[1]*d[1] + d[2]*d[2])
	if r == 0 {
		return 0, grad
	}
	// Signs of x, y, z in each of the four tetrahedral directions.
	signs := [4][3]float64{
		{1, 1, 1},
		{1, -1, -1},
		{-1, 1, -1},
		{-1, -1, 1},
	}
	r3 := r * r * r
	r5 := r3 * r * r
	val := 0.0
	for _, sg := range signs {
		sp := sg[0]*d[0] + sg[1]*d[1] + sg[2]*d[2]
		sp2 := sp * sp
		sp3 := sp2 * sp
		val += sp3 / r3
		for k := 0; k < 3; k++ {
			grad[k] += sg[k]*3*sp2/r3 - d[k]*3*sp3/r5
		}
	}
	return val, grad
}

func allTasks(n int) []int {
	tasks := make([]int, n)
	for i := range tasks {
		tasks[i] = i
	}
	return tasks
}
