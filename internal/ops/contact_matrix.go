package ops

import (
	"math"
	"slices"

	"github.com/born-ml/cvgraph/internal/derivs"
	"github.com/born-ml/cvgraph/internal/graph"
	"github.com/born-ml/cvgraph/internal/neighbors"
	"github.com/born-ml/cvgraph/internal/parallel"
	"github.com/born-ml/cvgraph/internal/switching"
	"github.com/born-ml/cvgraph/internal/value"
)

// Contact matrix outputs.
const (
	MatrixWeight = iota
	MatrixX
	MatrixY
	MatrixZ
)

// ContactMatrixOptions configures a CONTACT_MATRIX.
//
// Atom selections are 0-based indices into the positions. With no selection
// the matrix is (N,N) over every atom; Species gives an (NS,NS) matrix over
// a subset; SpeciesA and SpeciesB give an (NA,NB) matrix whose rows are the
// A atoms and whose columns are the B atoms.
type ContactMatrixOptions struct {
	Positions string             `yaml:"positions" validate:"required"`
	Switch    switching.Rational `yaml:"switch"`
	Species   []int              `yaml:"species,omitempty" validate:"omitempty,dive,gte=0"`
	SpeciesA  []int              `yaml:"species_a,omitempty" validate:"omitempty,dive,gte=0"`
	SpeciesB  []int              `yaml:"species_b,omitempty" validate:"omitempty,dive,gte=0"`
	// Skin is added to the switching cutoff when building the neighbor list.
	Skin float64 `yaml:"skin,omitempty" validate:"gte=0"`
	// Stride is the number of passes between neighbor list rebuilds.
	Stride int        `yaml:"stride,omitempty" validate:"gte=0"`
	Box    [3]float64 `yaml:"box,omitempty"`

	// Neighbors overrides the default cutoff list. Its pairs index the row
	// and column selections; a square matrix expects pairs with I < J.
	Neighbors neighbors.Provider `yaml:"-"`
	// Parallel configures the rebuilds of the default cutoff list.
	Parallel *parallel.Config `yaml:"-"`
}

// ContactMatrix computes the switched adjacency matrix w and the bond vector
// components x, y, z for every pair supplied by its neighbor provider.
// Task i*NB+j writes element (i,j) of each output, the bond from row atom
// i to column atom j.
type ContactMatrix struct {
	graph.OperationBase
	rows     []int
	cols     []int
	square   bool
	sw       switching.Rational
	box      neighbors.Box
	provider neighbors.Provider
}

// NewContactMatrix creates a CONTACT_MATRIX over the positions named in opts.
func NewContactMatrix(label string, lk graph.Lookup, opts ContactMatrixOptions) (*ContactMatrix, error) {
	args, err := graph.ResolveArguments(lk, label, opts.Positions)
	if err != nil {
		return nil, err
	}
	pos := args[0]
	if err := graph.CheckRank(label, pos, 2); err != nil {
		return nil, err
	}
	if pos.Shape()[1] != 3 {
		return nil, graph.ArgumentError(label, pos.Name(), nil, "positions must have shape (N,3), got %s", pos.Shape())
	}
	sw := opts.Switch.Defaults()
	if err := sw.Validate(); err != nil {
		return nil, graph.ArgumentError(label, "switch", err, "invalid switching function")
	}
	natoms := pos.Shape()[0]

	var rowSel, colSel []int
	switch {
	case len(opts.Species) > 0 && (len(opts.SpeciesA) > 0 || len(opts.SpeciesB) > 0):
		return nil, graph.Configf(label, "species cannot be combined with species_a and species_b")
	case (len(opts.SpeciesA) > 0) != (len(opts.SpeciesB) > 0):
		return nil, graph.Configf(label, "species_a and species_b must be given together")
	case len(opts.Species) > 0:
		rowSel = opts.Species
	case len(opts.SpeciesA) > 0:
		rowSel, colSel = opts.SpeciesA, opts.SpeciesB
	}
	list, err := neighbors.NewGroupList(natoms, rowSel, colSel, sw.Cutoff(), opts.Skin, opts.Stride, neighbors.Box(opts.Box))
	if err != nil {
		return nil, graph.ArgumentError(label, "species", err, "invalid atom selection")
	}
	if opts.Parallel != nil {
		list.SetParallel(*opts.Parallel)
	}

	m := &ContactMatrix{
		OperationBase: graph.NewBase(label, "CONTACT_MATRIX"),
		square:        colSel == nil,
		sw:            sw,
		box:           neighbors.Box(opts.Box),
		provider:      list,
	}
	m.rows = append([]int(nil), rowSel...)
	if rowSel == nil {
		m.rows = allTasks(natoms)
	}
	m.cols = m.rows
	if colSel != nil {
		m.cols = append([]int(nil), colSel...)
	}
	if opts.Neighbors != nil {
		m.provider = opts.Neighbors
	}

	m.RequestArguments(pos)
	shape := value.Shape{len(m.rows), len(m.cols)}
	for _, name := range []string{"w", "x", "y", "z"} {
		m.AddComponent(name, shape).SetNotPeriodic()
	}
	return m, nil
}

// Neighbors returns the provider of the active pairs.
func (m *ContactMatrix) Neighbors() neighbors.Provider { return m.provider }

// TaskCount returns NA*NB.
func (m *ContactMatrix) TaskCount() int { return len(m.rows) * len(m.cols) }

// Setup is a no-op.
func (m *ContactMatrix) Setup() error { return nil }

// BuildTaskList refreshes the neighbor provider and returns the elements of
// every pair, sorted. A square matrix lists both orderings of each pair.
func (m *ContactMatrix) BuildTaskList() ([]int, error) {
	if err := m.provider.Update(m.Argument(0).Data()); err != nil {
		return nil, graph.ArgumentError(m.Label(), m.Argument(0).Name(), err, "neighbor list update failed")
	}
	pairs := m.provider.Pairs()
	nc := len(m.cols)
	tasks := make([]int, 0, 2*len(pairs))
	for _, p := range pairs {
		tasks = append(tasks, p.I*nc+p.J)
		if m.square {
			tasks = append(tasks, p.J*nc+p.I)
		}
	}
	slices.Sort(tasks)
	return tasks, nil
}

// PerformTask evaluates element (i,j).
func (m *ContactMatrix) PerformTask(task int, buf *derivs.Buffer) {
	nc := len(m.cols)
	ai, bj := m.rows[task/nc], m.cols[task%nc]
	var a, b [3]float64
	for k := 0; k < 3; k++ {
		a[k] = m.ArgValue(buf, 0, 3*ai+k)
		b[k] = m.ArgValue(buf, 0, 3*bj+k)
	}
	d := m.box.Separation(a[:], b[:])
	r := math.Sqrt(d[0]*d[0] + d[1]*d[1] + d[2]*d[2])
	s, ds := m.sw.Calculate(r)

	m.AddToValue(buf, MatrixWeight, s)
	for k := 0; k < 3; k++ {
		m.AddToValue(buf, MatrixX+k, d[k])
	}

	if r > 0 && ds != 0 {
		for k := 0; k < 3; k++ {
			g := ds * d[k] / r
			m.AddArgDerivative(buf, MatrixWeight, 0, 3*bj+k, g)
			m.AddArgDerivative(buf, MatrixWeight, 0, 3*ai+k, -g)
		}
	}
	for k := 0; k < 3; k++ {
		m.AddArgDerivative(buf, MatrixX+k, 0, 3*bj+k, 1)
		m.AddArgDerivative(buf, MatrixX+k, 0, 3*ai+k, -1)
	}
}
