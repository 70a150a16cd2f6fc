package ops_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/born-ml/cvgraph/internal/graph"
	"github.com/born-ml/cvgraph/internal/parallel"
	"github.com/born-ml/cvgraph/internal/scheduler"
	"github.com/born-ml/cvgraph/internal/telemetry"
	"github.com/born-ml/cvgraph/internal/value"
)

// builder collects operations into a graph, failing the test on any error.
type builder struct {
	t *testing.T
	g *graph.Graph
}

func newBuilder(t *testing.T) *builder {
	return &builder{t: t, g: graph.New(telemetry.Discard())}
}

// add accepts the result of an operation constructor.
func (b *builder) add(op graph.Operation, err error) graph.Operation {
	b.t.Helper()
	require.NoError(b.t, err)
	require.NoError(b.t, b.g.Add(op))
	return op
}

func (b *builder) value(name string) *value.Value {
	b.t.Helper()
	v, err := b.g.Value(name)
	require.NoError(b.t, err)
	return v
}

// finalize finalizes the graph and returns a sequential scheduler computing
// derivatives.
func (b *builder) finalize() *scheduler.Scheduler {
	b.t.Helper()
	return b.finalizeWith(parallel.Sequential())
}

func (b *builder) finalizeWith(cfg parallel.Config) *scheduler.Scheduler {
	b.t.Helper()
	require.NoError(b.t, b.g.Finalize())
	s, err := scheduler.New(b.g, scheduler.Config{Parallel: cfg, Derivatives: true})
	require.NoError(b.t, err)
	return s
}

func calculate(t *testing.T, s *scheduler.Scheduler) {
	t.Helper()
	require.NoError(t, s.Calculate(context.Background()))
}

// checkGradient compares the derivatives of out[elem] with respect to every
// element of root against central differences obtained by perturbing root.
func checkGradient(t *testing.T, s *scheduler.Scheduler, root, out *value.Value, elem int, tol float64) {
	t.Helper()
	const h = 1e-5
	calculate(t, s)
	analytic := make([]float64, root.Size())
	for k := range analytic {
		analytic[k] = out.Derivative(elem, root.RootOffset()+k)
	}

	data := append([]float64(nil), root.Data()...)
	for k := range data {
		orig := data[k]

		data[k] = orig + h
		require.NoError(t, root.SetData(data))
		calculate(t, s)
		plus := out.Get(elem)

		data[k] = orig - h
		require.NoError(t, root.SetData(data))
		calculate(t, s)
		minus := out.Get(elem)

		data[k] = orig
		require.NoError(t, root.SetData(data))

		numeric := (plus - minus) / (2 * h)
		if math.Abs(numeric-analytic[k]) > tol {
			t.Errorf("d%s[%d]/d%s[%d]: analytic %.10g, numeric %.10g",
				out.Name(), elem, root.Name(), k, analytic[k], numeric)
		}
	}
	calculate(t, s)
}

func parallelConfig(workers int) parallel.Config {
	return parallel.Config{Enabled: workers > 1, NumWorkers: workers, MinChunkSize: 1}
}
