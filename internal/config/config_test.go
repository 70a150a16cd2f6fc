package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cvgraph/internal/config"
	"github.com/born-ml/cvgraph/internal/graph"
	"github.com/born-ml/cvgraph/internal/neighbors"
	"github.com/born-ml/cvgraph/internal/ops"
	"github.com/born-ml/cvgraph/internal/parallel"
	"github.com/born-ml/cvgraph/internal/registry"
	"github.com/born-ml/cvgraph/internal/scheduler"
	"github.com/born-ml/cvgraph/internal/telemetry"
)

const gridFile = `
logging: {level: debug, format: json}
parallel: {enabled: true, workers: 2, min_chunk_size: 1}
steps: 3
operations:
  - label: ref
    type: REFERENCE_GRID
    options:
      args: [x]
      min: [0]
      max: [4]
      nbins: [4]
      values: [0, 1, 4, 9, 16]
  - label: x
    type: INPUT
    options: {shape: [2], values: [1.5, 3.25]}
  - label: f
    type: EVALUATE_FUNCTION_FROM_GRID
    options: {grid: ref}
`

func TestParse(t *testing.T) {
	f, err := config.Parse([]byte(gridFile))
	require.NoError(t, err)

	assert.Equal(t, "debug", f.Logging.Level)
	assert.Equal(t, "json", f.Logging.Format)
	assert.Equal(t, 3, f.Steps)
	assert.True(t, f.DerivativesEnabled())
	assert.Len(t, f.Operations, 3)

	cfg := f.SchedulerConfig()
	assert.True(t, cfg.Parallel.Enabled)
	assert.Equal(t, 2, cfg.Parallel.NumWorkers)
	assert.True(t, cfg.Derivatives)
}

func TestParse_Defaults(t *testing.T) {
	f, err := config.Parse([]byte(`
derivatives: false
operations:
  - {label: x, type: INPUT, options: {shape: [1]}}
`))
	require.NoError(t, err)
	assert.Equal(t, 1, f.Steps)
	assert.False(t, f.DerivativesEnabled())
	assert.Positive(t, f.Parallel.MinChunkSize)
}

func TestParse_CollectsEveryProblem(t *testing.T) {
	_, err := config.Parse([]byte(`
logging: {level: loud}
steps: -1
operations:
  - {label: a, type: INPUT}
  - {label: a, type: INPUT}
  - {label: b, type: MATHEVAL}
`))
	require.ErrorIs(t, err, config.ErrInvalid)
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 4)
	assert.ErrorIs(t, err, graph.ErrDuplicateLabel)
	assert.ErrorIs(t, err, registry.ErrUnknownType)
	assert.Contains(t, err.Error(), "File.Logging.Level")
	assert.Contains(t, err.Error(), "File.Steps")
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"unknown key", "operation: []"},
		{"no operations", "steps: 2"},
		{"not yaml", "operations: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(gridFile), 0o600))

	f, err := config.Load(path)
	require.NoError(t, err)

	g, err := f.BuildGraph(telemetry.Discard(), registry.Hooks{})
	require.NoError(t, err)
	assert.True(t, g.Finalized())

	s, err := scheduler.New(g, f.SchedulerConfig())
	require.NoError(t, err)
	for i := 0; i < f.Steps; i++ {
		require.NoError(t, s.Calculate(context.Background()))
	}
	out, err := g.Value("f")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2.5, 10.75}, out.Data(), 1e-12)
	assert.Equal(t, 3, s.Step())

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuildGraph_ConstructionErrorDiscardsGraph(t *testing.T) {
	f, err := config.Parse([]byte(`
operations:
  - {label: a, type: INPUT, options: {shape: [10]}}
  - {label: b, type: INPUT, options: {shape: [12]}}
  - {label: r, type: FUNCTION, options: {args: [a, b], func: ratio}}
`))
	require.NoError(t, err)

	g, err := f.BuildGraph(telemetry.Discard(), registry.Hooks{})
	require.ErrorIs(t, err, graph.ErrConfiguration)
	assert.Contains(t, err.Error(), "mismatched shapes")
	assert.Nil(t, g)
}

func TestBuildGraph_NeighborListFollowsParallelSettings(t *testing.T) {
	f, err := config.Parse([]byte(`
parallel: {enabled: false, workers: 1, min_chunk_size: 1}
operations:
  - {label: pos, type: POSITIONS, options: {atoms: 3}}
  - {label: tt, type: TETRAHEDRAL, options: {positions: pos, switch: {r0: 1}}}
`))
	require.NoError(t, err)

	g, err := f.BuildGraph(telemetry.Discard(), registry.Hooks{})
	require.NoError(t, err)
	op, ok := g.Operation("tt_mat")
	require.True(t, ok)
	list, ok := op.(*ops.ContactMatrix).Neighbors().(*neighbors.CutoffList)
	require.True(t, ok)
	assert.Equal(t, parallel.Config{Enabled: false, NumWorkers: 1, MinChunkSize: 1}, list.Parallel())

	override := parallel.Config{Enabled: true, NumWorkers: 3, MinChunkSize: 8}
	g, err = f.BuildGraph(telemetry.Discard(), registry.Hooks{Parallel: &override})
	require.NoError(t, err)
	op, _ = g.Operation("tt_mat")
	assert.Equal(t, override, op.(*ops.ContactMatrix).Neighbors().(*neighbors.CutoffList).Parallel())
}
