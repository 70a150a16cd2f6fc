package ops_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cvgraph/internal/graph"
	"github.com/born-ml/cvgraph/internal/neighbors"
	"github.com/born-ml/cvgraph/internal/ops"
	"github.com/born-ml/cvgraph/internal/switching"
	"github.com/born-ml/cvgraph/internal/value"
)

func TestTetrahedral_KnownDirections(t *testing.T) {
	tests := []struct {
		name string
		d    [3]float64
		want float64
	}{
		{"x axis", [3]float64{1, 0, 0}, 0},
		{"scaled x axis", [3]float64{2.5, 0, 0}, 0},
		{"body diagonal", [3]float64{1 / math.Sqrt(3), 1 / math.Sqrt(3), 1 / math.Sqrt(3)}, 8 / math.Sqrt(3)},
		{"zero vector", [3]float64{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := ops.Tetrahedral(tt.d)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestTetrahedral_Gradient(t *testing.T) {
	const h = 1e-6
	for _, d := range [][3]float64{{0.3, -1.2, 0.7}, {1, 0.1, 0.05}, {-0.4, -0.4, 2}} {
		_, grad := ops.Tetrahedral(d)
		for k := 0; k < 3; k++ {
			plus, minus := d, d
			plus[k] += h
			minus[k] -= h
			fp, _ := ops.Tetrahedral(plus)
			fm, _ := ops.Tetrahedral(minus)
			assert.InDelta(t, (fp-fm)/(2*h), grad[k], 1e-6, "component %d of %v", k, d)
		}
	}
}

// buildTetrahedral wires positions -> contact matrix -> tetrahedral and
// coordination number -> ratio -> mean, as the TETRAHEDRAL shortcut does.
func buildTetrahedral(t *testing.T, xyz []float64) *builder {
	return buildTetrahedralWith(t, xyz, ops.ContactMatrixOptions{})
}

// buildTetrahedralWith takes the atom selections of the contact matrix from
// sel.
func buildTetrahedralWith(t *testing.T, xyz []float64, sel ops.ContactMatrixOptions) *builder {
	b := newBuilder(t)
	natoms := len(xyz) / 3
	pos, err := ops.NewPositions("pos", natoms)
	b.add(pos, err)
	require.NoError(t, pos.Set(xyz))
	b.add(ops.NewContactMatrix("cm", b.g, ops.ContactMatrixOptions{
		Positions: "pos",
		Switch:    switching.Rational{R0: 1.5},
		Species:   sel.Species,
		SpeciesA:  sel.SpeciesA,
		SpeciesB:  sel.SpeciesB,
	}))
	b.add(ops.NewTetrahedral("tt", b.g, ops.SymmetryOptions{
		Weight:  "cm.w",
		Vectors: []string{"cm.x", "cm.y", "cm.z"},
	}))
	b.add(ops.NewCoordinationNumber("tt_denom", b.g, ops.SymmetryOptions{Weight: "cm.w"}))
	b.add(ops.NewFunction("tt_n", b.g, ops.FunctionOptions{Args: []string{"tt", "tt_denom"}, Func: "ratio"}))
	b.add(ops.NewMean("tt_mean", b.g, ops.ReduceOptions{Arg: "tt_n"}))
	return b
}

var cluster = []float64{
	0, 0, 0,
	1.1, 0.1, -0.2,
	-0.3, 1.2, 0.4,
	0.2, -0.5, 1.3,
	-1.0, -0.6, -0.7,
}

func TestTetrahedral_Pipeline(t *testing.T) {
	b := buildTetrahedral(t, cluster)
	s := b.finalize()
	calculate(t, s)

	tt, denom, ratio, mean := b.value("tt"), b.value("tt_denom"), b.value("tt_n"), b.value("tt_mean")
	natoms := len(cluster) / 3
	sum := 0.0
	for i := 0; i < natoms; i++ {
		want := 0.0
		wsum := 0.0
		for j := 0; j < natoms; j++ {
			if i == j {
				continue
			}
			var d [3]float64
			r2 := 0.0
			for k := 0; k < 3; k++ {
				d[k] = cluster[3*j+k] - cluster[3*i+k]
				r2 += d[k] * d[k]
			}
			w, _ := switching.Rational{R0: 1.5}.Defaults().Calculate(math.Sqrt(r2))
			f, _ := ops.Tetrahedral(d)
			want += w * f
			wsum += w
		}
		assert.InDelta(t, want, tt.Get(i), 1e-12, "tetrahedral of atom %d", i)
		assert.InDelta(t, wsum, denom.Get(i), 1e-12, "coordination of atom %d", i)
		assert.InDelta(t, want/wsum, ratio.Get(i), 1e-12, "ratio of atom %d", i)
		sum += want / wsum
	}
	assert.InDelta(t, sum/float64(natoms), mean.Get(0), 1e-12)
}

// referenceTetrahedral computes the tetrahedral sums and coordination
// numbers of the row atoms over the column atoms directly.
func referenceTetrahedral(xyz []float64, rows, cols []int) (tt, cn []float64) {
	sw := switching.Rational{R0: 1.5}.Defaults()
	for _, i := range rows {
		sum, wsum := 0.0, 0.0
		for _, j := range cols {
			if i == j {
				continue
			}
			var d [3]float64
			r2 := 0.0
			for k := 0; k < 3; k++ {
				d[k] = xyz[3*j+k] - xyz[3*i+k]
				r2 += d[k] * d[k]
			}
			w, _ := sw.Calculate(math.Sqrt(r2))
			f, _ := ops.Tetrahedral(d)
			sum += w * f
			wsum += w
		}
		tt = append(tt, sum)
		cn = append(cn, wsum)
	}
	return tt, cn
}

func TestTetrahedral_Species(t *testing.T) {
	species := []int{4, 0, 2}
	b := buildTetrahedralWith(t, cluster, ops.ContactMatrixOptions{Species: species})
	s := b.finalize()
	calculate(t, s)

	assert.Equal(t, value.Shape{3, 3}, b.value("cm.w").Shape())
	assert.Equal(t, value.Shape{3}, b.value("tt").Shape())
	wantTT, wantCN := referenceTetrahedral(cluster, species, species)
	assert.InDeltaSlice(t, wantTT, b.value("tt").Data(), 1e-12)
	assert.InDeltaSlice(t, wantCN, b.value("tt_denom").Data(), 1e-12)
	assert.Zero(t, b.value("cm.w").Get(1*3+1))

	pos := b.value("pos")
	for i := range species {
		checkGradient(t, s, pos, b.value("tt_n"), i, 1e-6)
	}
	// Atoms 1 and 3 are not selected.
	row := b.value("tt_mean").Row(0)
	for k, slot := range row.Slots {
		atom := (slot - pos.RootOffset()) / 3
		if atom == 1 || atom == 3 {
			assert.Zero(t, row.Derivs[k], "slot %d", slot)
		}
	}
}

func TestTetrahedral_SpeciesAB(t *testing.T) {
	rows, cols := []int{0, 3}, []int{1, 2, 3, 4}
	b := buildTetrahedralWith(t, cluster, ops.ContactMatrixOptions{SpeciesA: rows, SpeciesB: cols})
	s := b.finalize()
	calculate(t, s)

	cm, ok := b.g.Operation("cm")
	require.True(t, ok)
	assert.Equal(t, 8, cm.TaskCount())
	assert.Equal(t, value.Shape{2, 4}, b.value("cm.w").Shape())
	assert.Equal(t, value.Shape{2}, b.value("tt_n").Shape())

	wantTT, wantCN := referenceTetrahedral(cluster, rows, cols)
	assert.InDeltaSlice(t, wantTT, b.value("tt").Data(), 1e-12)
	assert.InDeltaSlice(t, wantCN, b.value("tt_denom").Data(), 1e-12)
	// Row atom 3 and column atom 3 are the same atom.
	assert.Zero(t, b.value("cm.w").Get(1*4+2))
	// Element (0,1) is the bond from atom 0 to atom 2.
	assert.InDelta(t, cluster[3*2+1]-cluster[1], b.value("cm.y").Get(0*4+1), 1e-12)

	pos := b.value("pos")
	checkGradient(t, s, pos, b.value("tt_n"), 0, 1e-6)
	checkGradient(t, s, pos, b.value("tt_n"), 1, 1e-6)
	checkGradient(t, s, pos, b.value("tt_mean"), 0, 1e-6)
}

func TestContactMatrix_SelectionErrors(t *testing.T) {
	b := newBuilder(t)
	pos, err := ops.NewPositions("pos", 3)
	b.add(pos, err)

	tests := []struct {
		name string
		opts ops.ContactMatrixOptions
		msg  string
	}{
		{"species with groups", ops.ContactMatrixOptions{Species: []int{0}, SpeciesA: []int{1}, SpeciesB: []int{2}}, "cannot be combined"},
		{"group a alone", ops.ContactMatrixOptions{SpeciesA: []int{1}}, "must be given together"},
		{"atom out of range", ops.ContactMatrixOptions{Species: []int{0, 3}}, "invalid atom selection"},
		{"repeated atom", ops.ContactMatrixOptions{SpeciesA: []int{0}, SpeciesB: []int{1, 1}}, "invalid atom selection"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Positions = "pos"
			tt.opts.Switch = switching.Rational{R0: 1}
			_, err := ops.NewContactMatrix("cm", b.g, tt.opts)
			require.ErrorIs(t, err, graph.ErrConfiguration)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestTetrahedral_Chains(t *testing.T) {
	b := buildTetrahedral(t, cluster)
	b.finalize()

	chains := b.g.Chains()
	require.Len(t, chains, 3)
	var labels []string
	for _, op := range chains[2].Operations() {
		labels = append(labels, op.Base().Label())
	}
	assert.Equal(t, []string{"tt_denom", "tt_n", "tt_mean"}, labels)

	ratio, ok := b.g.Operation("tt_n")
	require.True(t, ok)
	assert.Equal(t, 1, ratio.Base().DistinctArguments())
	assert.Equal(t, 15, ratio.Base().NumDerivatives())
	assert.Equal(t, 15, chains[2].NumDerivatives())
}

func TestTetrahedral_ChainRuleMatchesFiniteDifferences(t *testing.T) {
	b := buildTetrahedral(t, cluster)
	s := b.finalize()
	pos := b.value("pos")

	checkGradient(t, s, pos, b.value("tt_mean"), 0, 1e-6)
	for i := 0; i < 3; i++ {
		checkGradient(t, s, pos, b.value("tt_n"), i, 1e-6)
	}
	checkGradient(t, s, pos, b.value("cm.w"), 0*5+1, 1e-6)
}

func TestTetrahedral_DeterministicAcrossWorkers(t *testing.T) {
	run := func(workers int) ([]float64, []float64) {
		b := buildTetrahedral(t, cluster)
		s := b.finalizeWith(parallelConfig(workers))
		calculate(t, s)
		mean := b.value("tt_mean")
		row := mean.Row(0)
		return append([]float64(nil), b.value("tt_n").Data()...), append([]float64{mean.Get(0)}, row.Derivs...)
	}
	seqValues, seqMean := run(1)
	for _, workers := range []int{2, 3, 8} {
		values, mean := run(workers)
		assert.Equal(t, seqValues, values, "workers=%d", workers)
		assert.Equal(t, seqMean, mean, "workers=%d", workers)
	}
}

func TestTetrahedral_RepeatEvaluationIsBitIdentical(t *testing.T) {
	b := buildTetrahedral(t, cluster)
	s := b.finalize()
	calculate(t, s)
	first := append([]float64(nil), b.value("tt_n").Data()...)
	firstRow := b.value("tt_mean").Row(0)
	firstSlots := append([]int(nil), firstRow.Slots...)
	firstDerivs := append([]float64(nil), firstRow.Derivs...)

	calculate(t, s)
	assert.Equal(t, first, b.value("tt_n").Data())
	assert.Equal(t, firstSlots, b.value("tt_mean").Row(0).Slots)
	assert.Equal(t, firstDerivs, b.value("tt_mean").Row(0).Derivs)
	assert.Equal(t, 2, s.Step())
}

func TestContactMatrix_NoPairs(t *testing.T) {
	b := newBuilder(t)
	pos, err := ops.NewPositions("pos", 3)
	b.add(pos, err)
	require.NoError(t, pos.Set([]float64{0, 0, 0, 50, 0, 0, 0, 50, 0}))
	list, err := neighbors.NewCutoffList(3, 2, 0, 1, neighbors.Box{})
	require.NoError(t, err)
	cm := b.add(ops.NewContactMatrix("cm", b.g, ops.ContactMatrixOptions{
		Positions: "pos",
		Switch:    switching.Rational{R0: 0.5, DMax: 2},
		Neighbors: list,
	}))
	s := b.finalize()

	tasks, err := cm.BuildTaskList()
	require.NoError(t, err)
	assert.Empty(t, tasks)

	calculate(t, s)
	for _, x := range b.value("cm.w").Data() {
		assert.Zero(t, x)
	}
}

func TestContactMatrix_TaskList(t *testing.T) {
	b := newBuilder(t)
	pos, err := ops.NewPositions("pos", 3)
	b.add(pos, err)
	require.NoError(t, pos.Set([]float64{0, 0, 0, 1, 0, 0, 0, 9, 0}))
	list, err := neighbors.NewCutoffList(3, 2, 0.5, 1, neighbors.Box{})
	require.NoError(t, err)
	cm := b.add(ops.NewContactMatrix("cm", b.g, ops.ContactMatrixOptions{
		Positions: "pos",
		Switch:    switching.Rational{R0: 1, DMax: 2},
		Neighbors: list,
	}))

	tasks, err := cm.BuildTaskList()
	require.NoError(t, err)
	assert.Equal(t, []int{0*3 + 1, 1*3 + 0}, tasks)
	assert.Equal(t, 9, cm.TaskCount())
}

func TestContactMatrix_PeriodicBox(t *testing.T) {
	b := newBuilder(t)
	pos, err := ops.NewPositions("pos", 2)
	b.add(pos, err)
	require.NoError(t, pos.Set([]float64{0.5, 0, 0, 9.5, 0, 0}))
	b.add(ops.NewContactMatrix("cm", b.g, ops.ContactMatrixOptions{
		Positions: "pos",
		Switch:    switching.Rational{R0: 1},
		Box:       [3]float64{10, 0, 0},
	}))
	s := b.finalize()
	calculate(t, s)

	// Minimum image puts atom 1 at -1 from atom 0.
	assert.InDelta(t, -1, b.value("cm.x").Get(0*2+1), 1e-12)
	assert.InDelta(t, 1, b.value("cm.x").Get(1*2+0), 1e-12)
}

func TestSymmetryFunction_Errors(t *testing.T) {
	b := newBuilder(t)
	b.add(ops.NewInput("vec", ops.InputOptions{Shape: []int{3}}))
	b.add(ops.NewInput("rect", ops.InputOptions{Shape: []int{3, 4}}))
	b.add(ops.NewInput("sq", ops.InputOptions{Shape: []int{3, 3}}))

	_, err := ops.NewCoordinationNumber("cn", b.g, ops.SymmetryOptions{Weight: "vec"})
	require.ErrorIs(t, err, graph.ErrConfiguration)

	_, err = ops.NewTetrahedral("tt", b.g, ops.SymmetryOptions{Weight: "rect"})
	require.ErrorIs(t, err, graph.ErrConfiguration)
	assert.Contains(t, err.Error(), "bond vector")

	_, err = ops.NewTetrahedral("tt", b.g, ops.SymmetryOptions{Weight: "rect", Vectors: []string{"rect", "rect", "sq"}})
	require.ErrorIs(t, err, graph.ErrConfiguration)
	assert.Contains(t, err.Error(), "mismatched shapes")

	_, err = ops.NewCoordinationNumber("cn", b.g, ops.SymmetryOptions{Weight: "missing"})
	require.ErrorIs(t, err, graph.ErrUnknownValue)
}
