// Package value implements the named, shaped numeric outputs that operations
// produce and consume.
//
// A Value is owned by exactly one operation. It stores one number per element
// and, when derivatives are enabled, one sparse row of root derivatives per
// element. Root values (atom positions, external inputs) carry no rows: their
// element i is itself root slot RootOffset()+i.
package value

import (
	"errors"
	"fmt"
)

// ErrAlreadyResized is returned when a value's shape is set a second time.
var ErrAlreadyResized = errors.New("value shape already resolved")

// Row is the sparse set of root derivatives recorded for a single element.
// Slots and Derivs have equal length; Slots are global root slot indices.
type Row struct {
	Slots  []int
	Derivs []float64
}

// Len returns the number of recorded slots.
func (r Row) Len() int {
	return len(r.Slots)
}

// Derivative returns the derivative stored for slot, or 0.
func (r Row) Derivative(slot int) float64 {
	for k, s := range r.Slots {
		if s == slot {
			return r.Derivs[k]
		}
	}
	return 0
}

// Value is a named, ranked numeric output.
type Value struct {
	name  string
	owner string
	shape Shape

	periodic bool
	min, max float64

	derivatives bool
	root        bool
	rootOffset  int

	data []float64
	rows []Row

	resized bool
	stream  int
	chain   int
}

// New creates a value owned by the operation labelled owner.
// A shape with unresolved (zero) dimensions may be fixed once later with Resize.
func New(name, owner string, shape Shape, withDerivatives bool) *Value {
	v := &Value{
		name:        name,
		owner:       owner,
		shape:       shape.Clone(),
		derivatives: withDerivatives,
		stream:      -1,
		chain:       -1,
	}
	v.allocate()
	return v
}

// NewRoot creates a value whose elements are root derivative slots.
func NewRoot(name, owner string, shape Shape) *Value {
	v := New(name, owner, shape, true)
	v.root = true
	return v
}

// NewConstant creates a value that never carries derivatives.
func NewConstant(name, owner string, shape Shape) *Value {
	return New(name, owner, shape, false)
}

func (v *Value) allocate() {
	if !v.shape.Resolved() {
		v.data = nil
		v.rows = nil
		return
	}
	n := v.shape.NumElements()
	v.data = make([]float64, n)
	if v.derivatives && !v.root {
		v.rows = make([]Row, n)
	}
}

// Name returns the value's name, e.g. "cm.w".
func (v *Value) Name() string { return v.name }

// Owner returns the label of the operation that owns the value.
func (v *Value) Owner() string { return v.owner }

// Shape returns the value's shape. Callers must not modify it.
func (v *Value) Shape() Shape { return v.shape }

// Rank returns the number of dimensions (0 for scalars).
func (v *Value) Rank() int { return len(v.shape) }

// Size returns the number of stored elements; 0 while the shape is unresolved.
func (v *Value) Size() int { return len(v.data) }

// Resize fixes the shape of a value created with unresolved dimensions.
// It may be called only once, during one-time setup.
func (v *Value) Resize(shape Shape) error {
	if v.resized || v.shape.Resolved() && len(v.shape) > 0 && !shape.Equal(v.shape) {
		return fmt.Errorf("%w: %s has shape %s", ErrAlreadyResized, v.name, v.shape)
	}
	if len(shape) != len(v.shape) {
		return fmt.Errorf("resize %s: rank %d does not match declared rank %d", v.name, len(shape), len(v.shape))
	}
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("resize %s: %w", v.name, err)
	}
	v.shape = shape.Clone()
	v.resized = true
	v.allocate()
	return nil
}

// IsPeriodic reports whether the value lives on a periodic domain.
func (v *Value) IsPeriodic() bool { return v.periodic }

// Domain returns the periodic domain bounds.
func (v *Value) Domain() (lo, hi float64) { return v.min, v.max }

// SetPeriodic marks the value periodic on [lo, hi).
func (v *Value) SetPeriodic(lo, hi float64) error {
	if hi <= lo {
		return fmt.Errorf("periodic domain of %s is empty: [%g, %g)", v.name, lo, hi)
	}
	v.periodic, v.min, v.max = true, lo, hi
	return nil
}

// SetNotPeriodic marks the value non-periodic.
func (v *Value) SetNotPeriodic() {
	v.periodic, v.min, v.max = false, 0, 0
}

// HasDerivatives reports whether root derivatives are tracked for this value.
func (v *Value) HasDerivatives() bool { return v.derivatives }

// IsRoot reports whether the value's elements are themselves root slots.
func (v *Value) IsRoot() bool { return v.root }

// RootOffset returns the global slot of element 0 for a root value.
func (v *Value) RootOffset() int { return v.rootOffset }

// SetRootOffset assigns the global slot range of a root value.
func (v *Value) SetRootOffset(offset int) { v.rootOffset = offset }

// Stream returns the value's position in its chain's derivative buffer.
func (v *Value) Stream() int { return v.stream }

// Chain returns the index of the chain that computes the value, or -1.
func (v *Value) Chain() int { return v.chain }

// Bind records the chain and stream position assigned by the chain builder.
func (v *Value) Bind(chain, stream int) {
	v.chain, v.stream = chain, stream
}

// Get returns element i.
func (v *Value) Get(i int) float64 { return v.data[i] }

// Set stores element i.
func (v *Value) Set(i int, x float64) { v.data[i] = x }

// Data returns the backing storage. Distinct tasks write disjoint elements.
func (v *Value) Data() []float64 { return v.data }

// SetData copies xs into the value; len(xs) must equal Size().
func (v *Value) SetData(xs []float64) error {
	if len(xs) != len(v.data) {
		return fmt.Errorf("set %s: got %d elements, want %d", v.name, len(xs), len(v.data))
	}
	copy(v.data, xs)
	return nil
}

// Row returns the root derivatives of element i.
// For a root value the row is the unit vector on slot RootOffset()+i.
func (v *Value) Row(i int) Row {
	if v.root {
		return Row{Slots: []int{v.rootOffset + i}, Derivs: []float64{1}}
	}
	if v.rows == nil {
		return Row{}
	}
	return v.rows[i]
}

// Derivative returns d(element i)/d(root slot).
func (v *Value) Derivative(i, slot int) float64 {
	return v.Row(i).Derivative(slot)
}

// SetRow replaces the derivative row of element i, reusing its storage.
func (v *Value) SetRow(i int, slots []int, derivs []float64) {
	if v.rows == nil {
		return
	}
	r := &v.rows[i]
	r.Slots = append(r.Slots[:0], slots...)
	r.Derivs = append(r.Derivs[:0], derivs...)
}

// Reset zeroes every element and empties every derivative row.
// Root values keep their data: it is set by the host, not by a pass.
func (v *Value) Reset() {
	if v.root {
		return
	}
	for i := range v.data {
		v.data[i] = 0
	}
	for i := range v.rows {
		v.rows[i].Slots = v.rows[i].Slots[:0]
		v.rows[i].Derivs = v.rows[i].Derivs[:0]
	}
}
