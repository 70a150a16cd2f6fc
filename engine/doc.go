// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package engine is the public API of cvgraph: build a graph of operations on
// atomic positions and other inputs, then evaluate their values and their
// derivatives with respect to every root input.
//
// # Overview
//
// A graph is built once, operation by operation, and finalized. Finalize
// orders the operations, assigns a global derivative slot range to every root
// value and groups operations into chains that share one task loop.
// A Scheduler then evaluates the chains, in parallel within each chain.
//
// # Basic Usage
//
//	import "github.com/born-ml/cvgraph/engine"
//
//	func main() {
//	    g := engine.NewGraph(nil)
//
//	    pos, _ := engine.NewPositions("pos", 64)
//	    g.Add(pos)
//	    cm, _ := engine.NewContactMatrix("cm", g, engine.ContactMatrixOptions{
//	        Positions: "pos",
//	        Switch:    engine.Rational{R0: 0.2, D0: 1.3},
//	    })
//	    g.Add(cm)
//	    // ... more operations ...
//	    g.Finalize()
//
//	    s, _ := engine.NewScheduler(g, engine.DefaultConfig())
//	    for step := range 100 {
//	        pos.Set(frame(step))
//	        s.Calculate(ctx)
//	    }
//	}
//
// # Graph files
//
// Graphs can also be described in YAML and built with Parse or Load:
//
//	f, _ := engine.Load("graph.yaml")
//	g, _ := f.BuildGraph(f.Logger(os.Stderr), engine.Hooks{})
//
// The TETRAHEDRAL type in a graph file is a shortcut that expands into the
// contact matrix, tetrahedral, coordination-number and ratio operations.
package engine
