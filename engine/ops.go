// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package engine

import (
	"github.com/born-ml/cvgraph/internal/neighbors"
	"github.com/born-ml/cvgraph/internal/ops"
	"github.com/born-ml/cvgraph/internal/switching"
)

// Sources

// Positions is the (N,3) root holding atomic coordinates.
type Positions = ops.Positions

// NewPositions creates a positions source for natoms atoms.
func NewPositions(label string, natoms int) (*Positions, error) {
	return ops.NewPositions(label, natoms)
}

// Input is a host-supplied root or constant.
type Input = ops.Input

// InputOptions configures an Input.
type InputOptions = ops.InputOptions

// NewInput creates an input source.
func NewInput(label string, opts InputOptions) (*Input, error) {
	return ops.NewInput(label, opts)
}

// Pair-based operations

// Rational is the rational switching function s(r).
type Rational = switching.Rational

// NeighborProvider supplies the active pairs of a contact matrix.
type NeighborProvider = neighbors.Provider

// Box is an orthorhombic periodic cell.
type Box = neighbors.Box

// ContactMatrix computes pairwise switching weights and bond vectors.
type ContactMatrix = ops.ContactMatrix

// ContactMatrixOptions configures a ContactMatrix.
type ContactMatrixOptions = ops.ContactMatrixOptions

// NewContactMatrix creates a contact matrix over a positions value.
func NewContactMatrix(label string, lk Lookup, opts ContactMatrixOptions) (*ContactMatrix, error) {
	return ops.NewContactMatrix(label, lk, opts)
}

// NewCutoffList creates a neighbor list rebuilt every stride updates.
func NewCutoffList(natoms int, cutoff, skin float64, stride int, box Box) (*neighbors.CutoffList, error) {
	return neighbors.NewCutoffList(natoms, cutoff, skin, stride, box)
}

// NewGroupList creates a neighbor list between the atoms in a and b.
// A nil b pairs a with itself.
func NewGroupList(natoms int, a, b []int, cutoff, skin float64, stride int, box Box) (*neighbors.CutoffList, error) {
	return neighbors.NewGroupList(natoms, a, b, cutoff, skin, stride, box)
}

// SymmetryFunction sums a bond function over the rows of a contact matrix.
type SymmetryFunction = ops.SymmetryFunction

// SymmetryOptions configures a SymmetryFunction.
type SymmetryOptions = ops.SymmetryOptions

// NewTetrahedral creates the per-atom tetrahedral order parameter.
func NewTetrahedral(label string, lk Lookup, opts SymmetryOptions) (*SymmetryFunction, error) {
	return ops.NewTetrahedral(label, lk, opts)
}

// NewCoordinationNumber creates the per-atom coordination number.
func NewCoordinationNumber(label string, lk Lookup, opts SymmetryOptions) (*SymmetryFunction, error) {
	return ops.NewCoordinationNumber(label, lk, opts)
}

// Elementwise functions and reductions

// Kernel evaluates a function of one element of each argument and writes
// its partial derivatives into der.
type Kernel = ops.Kernel

// Function applies a Kernel elementwise.
type Function = ops.Function

// FunctionOptions configures a Function.
type FunctionOptions = ops.FunctionOptions

// NewFunction creates an elementwise function.
func NewFunction(label string, lk Lookup, opts FunctionOptions) (*Function, error) {
	return ops.NewFunction(label, lk, opts)
}

// ThresholdOptions configures LESS_THAN and MORE_THAN.
type ThresholdOptions = ops.ThresholdOptions

// NewLessThan creates s(x) elementwise.
func NewLessThan(label string, lk Lookup, opts ThresholdOptions) (*Function, error) {
	return ops.NewLessThan(label, lk, opts)
}

// NewMoreThan creates 1-s(x) elementwise.
func NewMoreThan(label string, lk Lookup, opts ThresholdOptions) (*Function, error) {
	return ops.NewMoreThan(label, lk, opts)
}

// Reduce sums or averages every element of its argument.
type Reduce = ops.Reduce

// ReduceOptions configures a Reduce.
type ReduceOptions = ops.ReduceOptions

// NewSum creates a sum reduction.
func NewSum(label string, lk Lookup, opts ReduceOptions) (*Reduce, error) {
	return ops.NewSum(label, lk, opts)
}

// NewMean creates a mean reduction.
func NewMean(label string, lk Lookup, opts ReduceOptions) (*Reduce, error) {
	return ops.NewMean(label, lk, opts)
}

// Grids

// GridOptions describes the axes of a grid.
type GridOptions = ops.GridOptions

// ReferenceGrid is a host-supplied function on a grid.
type ReferenceGrid = ops.ReferenceGrid

// ReferenceGridOptions configures a ReferenceGrid.
type ReferenceGridOptions = ops.ReferenceGridOptions

// NewReferenceGrid creates a grid source.
func NewReferenceGrid(label string, opts ReferenceGridOptions) (*ReferenceGrid, error) {
	return ops.NewReferenceGrid(label, opts)
}

// KDE accumulates Gaussian kernels on a grid.
type KDE = ops.KDE

// KDEOptions configures a KDE.
type KDEOptions = ops.KDEOptions

// NewKDE creates a kernel density estimate.
func NewKDE(label string, lk Lookup, opts KDEOptions) (*KDE, error) {
	return ops.NewKDE(label, lk, opts)
}

// EvaluateGrid interpolates a grid-valued argument at coordinate values.
type EvaluateGrid = ops.EvaluateGrid

// EvaluateGridOptions configures an EvaluateGrid.
type EvaluateGridOptions = ops.EvaluateGridOptions

// NewEvaluateGrid creates a grid evaluator.
func NewEvaluateGrid(label string, lk Lookup, opts EvaluateGridOptions) (*EvaluateGrid, error) {
	return ops.NewEvaluateGrid(label, lk, opts)
}
