// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/born-ml/cvgraph/engine"
)

// square is a custom operation built only from the public API.
type square struct {
	engine.OperationBase
}

func newSquare(label string, lk engine.Lookup, arg string) (*square, error) {
	args, err := engine.ResolveArguments(lk, label, arg)
	if err != nil {
		return nil, err
	}
	s := &square{OperationBase: engine.NewBase(label, "SQUARE")}
	s.RequestArguments(args...)
	s.AddValue(args[0].Shape()).SetNotPeriodic()
	s.SetChainable()
	return s, nil
}

func (s *square) TaskCount() int { return s.Output(0).Size() }

func (s *square) Setup() error { return nil }

func (s *square) BuildTaskList() ([]int, error) {
	tasks := make([]int, s.TaskCount())
	for i := range tasks {
		tasks[i] = i
	}
	return tasks, nil
}

func (s *square) PerformTask(t int, buf *engine.Buffer) {
	x := s.ArgValue(buf, 0, t)
	s.AddToValue(buf, 0, x*x)
	s.AddArgDerivative(buf, 0, 0, t, 2*x)
}

// TestCustomOperation verifies that an operation written against the public
// API chains with built-in ones and gets root derivatives.
func TestCustomOperation(t *testing.T) {
	g := engine.NewGraph(nil)

	x, err := engine.NewInput("x", engine.InputOptions{Shape: []int{3}, Values: []float64{1, 2, 3}})
	if err != nil {
		t.Fatalf("NewInput failed: %v", err)
	}
	if err := g.Add(x); err != nil {
		t.Fatalf("Add(x) failed: %v", err)
	}
	sq, err := newSquare("sq", g, "x")
	if err != nil {
		t.Fatalf("newSquare failed: %v", err)
	}
	if err := g.Add(sq); err != nil {
		t.Fatalf("Add(sq) failed: %v", err)
	}
	total, err := engine.NewSum("total", g, engine.ReduceOptions{Arg: "sq"})
	if err != nil {
		t.Fatalf("NewSum failed: %v", err)
	}
	if err := g.Add(total); err != nil {
		t.Fatalf("Add(total) failed: %v", err)
	}
	if err := g.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if got := len(g.Chains()); got != 1 {
		t.Fatalf("len(Chains()) = %d, want 1", got)
	}

	s, err := engine.NewScheduler(g, engine.SequentialConfig())
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	if err := s.Calculate(context.Background()); err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	out := total.Output(0)
	if got := out.Get(0); got != 14 {
		t.Errorf("total = %v, want 14", got)
	}
	root := x.Value()
	for i, want := range []float64{2, 4, 6} {
		if got := out.Derivative(0, root.RootOffset()+i); got != want {
			t.Errorf("d total/d x[%d] = %v, want %v", i, got, want)
		}
	}
}

// TestParseWithHooks verifies that graph files resolve custom kernels.
func TestParseWithHooks(t *testing.T) {
	f, err := engine.Parse([]byte(`
parallel: {enabled: false}
operations:
  - {label: a, type: INPUT, options: {shape: [2], values: [2, 3]}}
  - {label: c, type: FUNCTION, options: {args: [a], func: cube}}
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	cube := func(x, der []float64) float64 {
		der[0] = 3 * x[0] * x[0]
		return x[0] * x[0] * x[0]
	}
	g, err := f.BuildGraph(nil, engine.Hooks{Kernels: map[string]engine.Kernel{"cube": cube}})
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}
	s, err := engine.NewScheduler(g, f.SchedulerConfig())
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	if err := s.Calculate(context.Background()); err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	c, err := g.Value("c")
	if err != nil {
		t.Fatalf("Value(c) failed: %v", err)
	}
	if got := c.Data(); got[0] != 8 || got[1] != 27 {
		t.Errorf("c = %v, want [8 27]", got)
	}
}

// TestErrors verifies that configuration errors match the exported sentinels.
func TestErrors(t *testing.T) {
	g := engine.NewGraph(nil)
	_, err := engine.NewSum("s", g, engine.ReduceOptions{Arg: "missing"})
	if !errors.Is(err, engine.ErrConfiguration) {
		t.Errorf("errors.Is(err, ErrConfiguration) = false for %v", err)
	}
	if !errors.Is(err, engine.ErrUnknownValue) {
		t.Errorf("errors.Is(err, ErrUnknownValue) = false for %v", err)
	}
	var cfgErr *engine.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Operation != "s" {
		t.Errorf("errors.As(err, *ConfigError) failed for %v", err)
	}

	if _, err := engine.NewScheduler(g, engine.DefaultConfig()); !errors.Is(err, engine.ErrNotFinalized) {
		t.Errorf("NewScheduler on unfinalized graph: got %v, want ErrNotFinalized", err)
	}
}
