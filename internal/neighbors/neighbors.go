// Package neighbors supplies the active pair sets that pair-based operations
// use as their task lists.
package neighbors

import (
	"errors"
	"fmt"
	"math"

	"github.com/born-ml/cvgraph/internal/parallel"
)

// ErrPositions is returned when the positions do not match the list size.
var ErrPositions = errors.New("positions do not match neighbor list")

// Pair is a pair of indices into the row and column groups of a provider.
type Pair struct {
	I, J int
}

// Provider supplies the currently relevant pairs. The engine treats the
// result as opaque and only asks for it between passes.
type Provider interface {
	// Update refreshes the pair set from flattened (N,3) positions.
	Update(positions []float64) error
	// Pairs returns the current pairs in a deterministic order.
	Pairs() []Pair
}

// Box is an orthorhombic periodic cell. A zero edge disables periodicity
// along that axis.
type Box [3]float64

// Separation returns the minimum-image vector from a to b.
func (box Box) Separation(a, b []float64) [3]float64 {
	var d [3]float64
	for k := 0; k < 3; k++ {
		d[k] = b[k] - a[k]
		if box[k] > 0 {
			d[k] -= box[k] * math.Round(d[k]/box[k])
		}
	}
	return d
}

// CutoffList is a brute-force neighbor list rebuilt every Stride updates.
// Pairs closer than Cutoff+Skin at rebuild time are kept.
//
// The list pairs a row group of atoms with a column group. Pair indices are
// positions within the groups, not atom indices. When the column group is
// the row group itself only pairs with I < J are listed; otherwise every
// (I, J) whose atoms differ is a candidate.
//
// Rows are scanned in parallel; each row i collects its partners and the
// rows are concatenated in order, so Pairs is sorted by (I, J).
type CutoffList struct {
	natoms int
	a, b   []int
	square bool
	cutoff float64
	skin   float64
	stride int
	box    Box
	par    parallel.Config

	updates int
	rows    [][]int
	pairs   []Pair
}

// NewCutoffList creates a list over every pair of natoms atoms.
func NewCutoffList(natoms int, cutoff, skin float64, stride int, box Box) (*CutoffList, error) {
	return NewGroupList(natoms, nil, nil, cutoff, skin, stride, box)
}

// NewGroupList creates a list between the atoms in a (rows) and b (columns)
// out of natoms atoms. A nil a selects every atom; a nil b pairs a with
// itself.
func NewGroupList(natoms int, a, b []int, cutoff, skin float64, stride int, box Box) (*CutoffList, error) {
	if natoms < 0 {
		return nil, fmt.Errorf("neighbor list: negative atom count %d", natoms)
	}
	if cutoff <= 0 || skin < 0 {
		return nil, fmt.Errorf("neighbor list: cutoff %g and skin %g must be positive", cutoff, skin)
	}
	if stride <= 0 {
		stride = 1
	}
	if a == nil {
		a = make([]int, natoms)
		for i := range a {
			a[i] = i
		}
	}
	if err := checkGroup(natoms, a); err != nil {
		return nil, err
	}
	square := b == nil
	if square {
		b = a
	} else if err := checkGroup(natoms, b); err != nil {
		return nil, err
	}
	return &CutoffList{
		natoms: natoms,
		a:      a,
		b:      b,
		square: square,
		cutoff: cutoff,
		skin:   skin,
		stride: stride,
		box:    box,
		par:    parallel.DefaultConfig(),
		rows:   make([][]int, len(a)),
	}, nil
}

func checkGroup(natoms int, group []int) error {
	seen := make(map[int]bool, len(group))
	for _, i := range group {
		if i < 0 || i >= natoms {
			return fmt.Errorf("neighbor list: atom %d out of range [0, %d)", i, natoms)
		}
		if seen[i] {
			return fmt.Errorf("neighbor list: atom %d listed twice", i)
		}
		seen[i] = true
	}
	return nil
}

// SetParallel replaces the parallel settings of the rebuild.
func (l *CutoffList) SetParallel(cfg parallel.Config) { l.par = cfg }

// Parallel returns the parallel settings of the rebuild.
func (l *CutoffList) Parallel() parallel.Config { return l.par }

// Box returns the periodic cell used for distances.
func (l *CutoffList) Box() Box { return l.box }

// Update rebuilds the list on every Stride-th call.
func (l *CutoffList) Update(positions []float64) error {
	if len(positions) != 3*l.natoms {
		return fmt.Errorf("%w: got %d coordinates for %d atoms", ErrPositions, len(positions), l.natoms)
	}
	rebuild := l.updates%l.stride == 0
	l.updates++
	if !rebuild {
		return nil
	}
	rc := l.cutoff + l.skin
	rc2 := rc * rc
	parallel.For(len(l.a), func(i int) {
		row := l.rows[i][:0]
		ai := l.a[i]
		first := 0
		if l.square {
			first = i + 1
		}
		for j := first; j < len(l.b); j++ {
			bj := l.b[j]
			if ai == bj {
				continue
			}
			d := l.box.Separation(positions[3*ai:3*ai+3], positions[3*bj:3*bj+3])
			if d[0]*d[0]+d[1]*d[1]+d[2]*d[2] < rc2 {
				row = append(row, j)
			}
		}
		l.rows[i] = row
	}, l.par)
	l.pairs = l.pairs[:0]
	for i, row := range l.rows {
		for _, j := range row {
			l.pairs = append(l.pairs, Pair{I: i, J: j})
		}
	}
	return nil
}

// Pairs returns the pairs found at the last rebuild.
func (l *CutoffList) Pairs() []Pair { return l.pairs }

// AllPairs is a provider returning every pair I < J of natoms indices, for
// small systems.
type AllPairs struct {
	pairs []Pair
}

// NewAllPairs creates a provider over natoms atoms.
func NewAllPairs(natoms int) *AllPairs {
	a := &AllPairs{}
	for i := 0; i < natoms; i++ {
		for j := i + 1; j < natoms; j++ {
			a.pairs = append(a.pairs, Pair{I: i, J: j})
		}
	}
	return a
}

// Update is a no-op.
func (a *AllPairs) Update([]float64) error { return nil }

// Pairs returns every pair.
func (a *AllPairs) Pairs() []Pair { return a.pairs }
