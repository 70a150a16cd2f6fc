// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package engine

import (
	"github.com/born-ml/cvgraph/internal/config"
	"github.com/born-ml/cvgraph/internal/registry"
)

// File is a decoded graph file.
type File = config.File

// Spec is one operation entry of a graph file.
type Spec = registry.Spec

// Hooks supplies host callbacks referenced by name from a graph file.
type Hooks = registry.Hooks

// ErrInvalid is returned when a graph file fails validation.
var ErrInvalid = config.ErrInvalid

// ErrUnknownType is returned for an unregistered operation type.
var ErrUnknownType = registry.ErrUnknownType

// Load reads and validates the graph file at path.
func Load(path string) (*File, error) {
	return config.Load(path)
}

// Parse decodes and validates a graph file.
func Parse(data []byte) (*File, error) {
	return config.Parse(data)
}

// Build expands shortcuts and adds the operations of specs to g.
func Build(g *Graph, specs []Spec, hooks Hooks) error {
	return registry.Build(g, specs, hooks)
}

// Types returns every registered operation type.
func Types() []string {
	return registry.Types()
}
