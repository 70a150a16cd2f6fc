// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package engine

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/born-ml/cvgraph/internal/derivs"
	"github.com/born-ml/cvgraph/internal/graph"
	"github.com/born-ml/cvgraph/internal/parallel"
	"github.com/born-ml/cvgraph/internal/scheduler"
	"github.com/born-ml/cvgraph/internal/telemetry"
	"github.com/born-ml/cvgraph/internal/value"
)

// Graph holds operations and the chains discovered when it is finalized.
type Graph = graph.Graph

// Operation is a node of the graph. Custom operations embed OperationBase.
type Operation = graph.Operation

// OperationBase is the shared bookkeeping of every operation.
type OperationBase = graph.OperationBase

// Lookup resolves upstream values while an operation is constructed.
type Lookup = graph.Lookup

// Chain is a run of operations sharing one task loop.
type Chain = graph.Chain

// Value is a named n-dimensional array with optional derivative rows.
type Value = value.Value

// Shape is the size of each dimension of a value. Rank 0 is a scalar.
type Shape = value.Shape

// Row holds the derivatives of one element with respect to root slots.
type Row = value.Row

// Buffer is the per-worker scratch an operation writes a task into.
type Buffer = derivs.Buffer

// NewGraph creates an empty graph. A nil logger uses slog.Default().
func NewGraph(logger *slog.Logger) *Graph {
	return graph.New(logger)
}

// NewBase creates the bookkeeping for a custom operation.
func NewBase(label, kind string) OperationBase {
	return graph.NewBase(label, kind)
}

// ResolveArguments looks up every argument name for operation op.
func ResolveArguments(lk Lookup, op string, names ...string) ([]*Value, error) {
	return graph.ResolveArguments(lk, op, names...)
}

// CheckMatchingShapes verifies that all arguments share the first one's shape.
func CheckMatchingShapes(op string, args []*Value) error {
	return graph.CheckMatchingShapes(op, args)
}

// Errors

// ConfigError reports a problem found while constructing an operation.
type ConfigError = graph.ConfigError

// InvariantError reports a defect found during a pass.
type InvariantError = graph.InvariantError

// Common errors.
var (
	ErrConfiguration  = graph.ErrConfiguration
	ErrInvariant      = graph.ErrInvariant
	ErrUnknownValue   = graph.ErrUnknownValue
	ErrDuplicateLabel = graph.ErrDuplicateLabel
	ErrCycle          = graph.ErrCycle
	ErrFinalized      = graph.ErrFinalized
	ErrNotFinalized   = graph.ErrNotFinalized
)

// Evaluation

// Scheduler evaluates a finalized graph.
type Scheduler = scheduler.Scheduler

// Config controls pass execution.
type Config = scheduler.Config

// ParallelConfig controls how tasks are spread across workers.
type ParallelConfig = parallel.Config

// SchedulerOption configures a Scheduler.
type SchedulerOption = scheduler.Option

// Metrics holds the prometheus collectors for evaluation passes.
type Metrics = telemetry.Metrics

// DefaultConfig evaluates derivatives with the default parallel settings.
func DefaultConfig() Config {
	return scheduler.DefaultConfig()
}

// SequentialConfig evaluates every task on the calling goroutine.
func SequentialConfig() Config {
	return Config{Parallel: parallel.Sequential(), Derivatives: true}
}

// NewScheduler creates a scheduler for a finalized graph.
func NewScheduler(g *Graph, cfg Config, opts ...SchedulerOption) (*Scheduler, error) {
	return scheduler.New(g, cfg, opts...)
}

// WithLogger sets the scheduler's logger.
func WithLogger(logger *slog.Logger) SchedulerOption {
	return scheduler.WithLogger(logger)
}

// WithMetrics records pass statistics in m.
func WithMetrics(m *Metrics) SchedulerOption {
	return scheduler.WithMetrics(m)
}

// NewMetrics creates the pass collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	return telemetry.NewMetrics(reg)
}
