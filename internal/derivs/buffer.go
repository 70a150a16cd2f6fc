// Package derivs implements the per-task derivative scratch buffer.
//
// A Buffer holds, for every output stream of a chain, the value computed for
// the current task, the direct partial derivatives an operation recorded with
// respect to its own argument elements ("locals"), and the accumulated root
// derivatives after the chain rule has been applied. Root derivatives are kept
// in a dense array with an active list so that Reset only touches the slots a
// task actually wrote; no maps are used in the per-task loop.
//
// A Buffer is owned by one worker at a time and must be Reset at task entry.
package derivs

import (
	"errors"
	"fmt"
)

// Invariant violations recorded by a Buffer.
var (
	ErrStreamOutOfRange = errors.New("stream index out of range")
	ErrSlotOutOfRange   = errors.New("derivative slot outside reserved range")
)

// Local is a direct partial derivative of an output stream with respect to
// element Elem of argument Arg of the operation that owns the stream.
type Local struct {
	Stream int
	Arg    int
	Elem   int
	D      float64
}

// SlotError describes an out-of-range write.
type SlotError struct {
	Task   int
	Stream int
	Slot   int
	Err    error
}

// Error implements the error interface.
func (e *SlotError) Error() string {
	return fmt.Sprintf("task %d: stream %d slot %d: %v", e.Task, e.Stream, e.Slot, e.Err)
}

// Unwrap returns the sentinel error.
func (e *SlotError) Unwrap() error { return e.Err }

type sparseRow struct {
	dense  []float64
	set    []bool
	active []int
}

// Buffer is the per-task derivative scratch.
type Buffer struct {
	task     int
	nslots   int
	values   []float64
	rows     []sparseRow
	locals   []Local
	reserved []bool
	enabled  bool
	err      error
}

// New creates a buffer for nstreams output streams over nslots global root slots.
func New(nstreams, nslots int) *Buffer {
	b := &Buffer{
		task:    -1,
		nslots:  nslots,
		values:  make([]float64, nstreams),
		rows:    make([]sparseRow, nstreams),
		locals:  make([]Local, 0, 16),
		enabled: true,
	}
	for i := range b.rows {
		b.rows[i] = sparseRow{
			dense:  make([]float64, nslots),
			set:    make([]bool, nslots),
			active: make([]int, 0, 8),
		}
	}
	return b
}

// Reset clears every trace of the previous task and starts task.
func (b *Buffer) Reset(task int) {
	b.task = task
	for i := range b.values {
		b.values[i] = 0
	}
	for i := range b.rows {
		r := &b.rows[i]
		for _, s := range r.active {
			r.dense[s] = 0
			r.set[s] = false
		}
		r.active = r.active[:0]
	}
	b.locals = b.locals[:0]
	b.err = nil
}

// Task returns the task the buffer was last reset for.
func (b *Buffer) Task() int { return b.task }

// NumStreams returns the number of output streams.
func (b *Buffer) NumStreams() int { return len(b.values) }

// NumSlots returns the size of the global root slot space.
func (b *Buffer) NumSlots() int { return b.nslots }

// SetReserved restricts derivative writes to the slots marked true.
// A nil mask allows every slot.
func (b *Buffer) SetReserved(mask []bool) { b.reserved = mask }

// EnableDerivatives switches derivative recording on or off.
func (b *Buffer) EnableDerivatives(on bool) { b.enabled = on }

// DerivativesEnabled reports whether operations should record partials.
func (b *Buffer) DerivativesEnabled() bool { return b.enabled }

// Fail records the first invariant violation of the task.
func (b *Buffer) Fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Err returns the first violation recorded since Reset.
func (b *Buffer) Err() error { return b.err }

func (b *Buffer) checkStream(stream int) bool {
	if stream < 0 || stream >= len(b.values) {
		b.Fail(&SlotError{Task: b.task, Stream: stream, Slot: -1, Err: ErrStreamOutOfRange})
		return false
	}
	return true
}

// AddValue adds x to the value of stream.
func (b *Buffer) AddValue(stream int, x float64) {
	if !b.checkStream(stream) {
		return
	}
	b.values[stream] += x
}

// Value returns the value accumulated on stream for the current task.
func (b *Buffer) Value(stream int) float64 {
	if !b.checkStream(stream) {
		return 0
	}
	return b.values[stream]
}

// AddLocal records a direct partial derivative of stream with respect to
// element elem of argument arg.
func (b *Buffer) AddLocal(stream, arg, elem int, d float64) {
	if !b.enabled || !b.checkStream(stream) {
		return
	}
	b.locals = append(b.locals, Local{Stream: stream, Arg: arg, Elem: elem, D: d})
}

// Locals returns the direct partials recorded since Reset, in insertion order.
func (b *Buffer) Locals() []Local { return b.locals }

// TruncateLocals drops locals recorded after position n.
func (b *Buffer) TruncateLocals(n int) { b.locals = b.locals[:n] }

// AddDerivative accumulates d into root slot of stream.
func (b *Buffer) AddDerivative(stream, slot int, d float64) {
	if !b.enabled || !b.checkStream(stream) {
		return
	}
	if slot < 0 || slot >= b.nslots || b.reserved != nil && !b.reserved[slot] {
		b.Fail(&SlotError{Task: b.task, Stream: stream, Slot: slot, Err: ErrSlotOutOfRange})
		return
	}
	r := &b.rows[stream]
	if !r.set[slot] {
		r.set[slot] = true
		r.active = append(r.active, slot)
	}
	r.dense[slot] += d
}

// AddScaledRow accumulates scale × (root derivatives of src) into dst.
func (b *Buffer) AddScaledRow(dst, src int, scale float64) {
	if !b.enabled || !b.checkStream(dst) || !b.checkStream(src) {
		return
	}
	r := &b.rows[src]
	for _, s := range r.active {
		b.AddDerivative(dst, s, scale*r.dense[s])
	}
}

// Active returns the root slots touched on stream, in first-write order.
func (b *Buffer) Active(stream int) []int {
	if !b.checkStream(stream) {
		return nil
	}
	return b.rows[stream].active
}

// Derivative returns the accumulated root derivative of stream for slot.
func (b *Buffer) Derivative(stream, slot int) float64 {
	if !b.checkStream(stream) || slot < 0 || slot >= b.nslots {
		return 0
	}
	return b.rows[stream].dense[slot]
}

// CopyRow appends the active slots and derivatives of stream to the given slices.
func (b *Buffer) CopyRow(stream int, slots []int, derivs []float64) ([]int, []float64) {
	if !b.checkStream(stream) {
		return slots, derivs
	}
	r := &b.rows[stream]
	for _, s := range r.active {
		slots = append(slots, s)
		derivs = append(derivs, r.dense[s])
	}
	return slots, derivs
}
