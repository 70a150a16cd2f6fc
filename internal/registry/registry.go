// Package registry maps operation type names to their constructors and
// expands shortcut types into the operations they stand for.
//
// The table is static: every type is listed in builtins and nothing
// registers itself at init time.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/cvgraph/internal/graph"
	"github.com/born-ml/cvgraph/internal/ops"
	"github.com/born-ml/cvgraph/internal/parallel"
)

// ErrUnknownType is returned for a type name that is neither an operation
// nor a shortcut.
var ErrUnknownType = errors.New("unknown operation type")

// Spec is one entry of a graph description: a labelled operation of a given
// type with type-specific options.
type Spec struct {
	Label   string    `yaml:"label" validate:"required"`
	Type    string    `yaml:"type" validate:"required"`
	Options yaml.Node `yaml:"options"`
}

// Hooks are host-side objects and settings handed to the constructors.
type Hooks struct {
	// Kernels are custom FUNCTION kernels selected by func name.
	Kernels map[string]ops.Kernel
	// Parallel, when set, configures the neighbor list rebuilds of every
	// CONTACT_MATRIX.
	Parallel *parallel.Config
}

// Constructor builds an operation from its decoded spec.
type Constructor func(label string, lk graph.Lookup, opts *yaml.Node, hooks Hooks) (graph.Operation, error)

// Shortcut expands a spec into the specs it stands for.
type Shortcut func(label string, opts *yaml.Node) ([]Spec, error)

var validate = validator.New()

// decode reads opts into a typed options struct and validates its tags.
func decode[T any](label string, opts *yaml.Node) (T, error) {
	var out T
	if opts != nil && opts.Kind != 0 {
		if err := opts.Decode(&out); err != nil {
			return out, graph.ArgumentError(label, "options", err, "cannot decode options")
		}
	}
	if err := validate.Struct(&out); err != nil {
		return out, graph.ArgumentError(label, "options", err, "invalid options")
	}
	return out, nil
}

// build adapts a typed constructor to the table signature.
func build[T any, O graph.Operation](fn func(label string, lk graph.Lookup, opts T) (O, error)) Constructor {
	return func(label string, lk graph.Lookup, node *yaml.Node, _ Hooks) (graph.Operation, error) {
		opts, err := decode[T](label, node)
		if err != nil {
			return nil, err
		}
		op, err := fn(label, lk, opts)
		if err != nil {
			return nil, err
		}
		return op, nil
	}
}

type positionsOptions struct {
	Atoms     int       `yaml:"atoms" validate:"gt=0"`
	Positions []float64 `yaml:"positions"`
}

func newPositions(label string, _ graph.Lookup, node *yaml.Node, _ Hooks) (graph.Operation, error) {
	opts, err := decode[positionsOptions](label, node)
	if err != nil {
		return nil, err
	}
	p, err := ops.NewPositions(label, opts.Atoms)
	if err != nil {
		return nil, err
	}
	if len(opts.Positions) > 0 {
		if err := p.Set(opts.Positions); err != nil {
			return nil, graph.ArgumentError(label, "positions", err, "invalid initial positions")
		}
	}
	return p, nil
}

func newInput(label string, _ graph.Lookup, node *yaml.Node, _ Hooks) (graph.Operation, error) {
	opts, err := decode[ops.InputOptions](label, node)
	if err != nil {
		return nil, err
	}
	in, err := ops.NewInput(label, opts)
	if err != nil {
		return nil, err
	}
	return in, nil
}

func newReferenceGrid(label string, _ graph.Lookup, node *yaml.Node, _ Hooks) (graph.Operation, error) {
	opts, err := decode[ops.ReferenceGridOptions](label, node)
	if err != nil {
		return nil, err
	}
	g, err := ops.NewReferenceGrid(label, opts)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// newFunction resolves custom kernels from the hooks by func name.
func newFunction(label string, lk graph.Lookup, node *yaml.Node, hooks Hooks) (graph.Operation, error) {
	opts, err := decode[ops.FunctionOptions](label, node)
	if err != nil {
		return nil, err
	}
	if k, ok := hooks.Kernels[opts.Func]; ok {
		opts.Kernel = k
	}
	f, err := ops.NewFunction(label, lk, opts)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func newContactMatrix(label string, lk graph.Lookup, node *yaml.Node, hooks Hooks) (graph.Operation, error) {
	opts, err := decode[ops.ContactMatrixOptions](label, node)
	if err != nil {
		return nil, err
	}
	opts.Parallel = hooks.Parallel
	m, err := ops.NewContactMatrix(label, lk, opts)
	if err != nil {
		return nil, err
	}
	return m, nil
}

var builtins = map[string]Constructor{
	"POSITIONS":                   newPositions,
	"INPUT":                       newInput,
	"REFERENCE_GRID":              newReferenceGrid,
	"CONTACT_MATRIX":              newContactMatrix,
	"TETRAHEDRAL":                 build(ops.NewTetrahedral),
	"COORDINATIONNUMBER":          build(ops.NewCoordinationNumber),
	"FUNCTION":                    newFunction,
	"MORE_THAN":                   build(ops.NewMoreThan),
	"LESS_THAN":                   build(ops.NewLessThan),
	"SUM":                         build(ops.NewSum),
	"MEAN":                        build(ops.NewMean),
	"KDE":                         build(ops.NewKDE),
	"EVALUATE_FUNCTION_FROM_GRID": build(ops.NewEvaluateGrid),
}

var shortcuts = map[string]Shortcut{
	"TETRAHEDRAL": expandTetrahedral,
}

// Types returns every registered operation type, sorted.
func Types() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Shortcuts returns every shortcut type, sorted.
func Shortcuts() []string {
	names := make([]string, 0, len(shortcuts))
	for name := range shortcuts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Lookup returns the constructor of a type.
func Lookup(typ string) (Constructor, bool) {
	c, ok := builtins[typ]
	return c, ok
}

// Expand replaces shortcut specs by their expansion. A spec whose options
// select the shortcut form (see IsShortcut) is expanded; everything else
// passes through unchanged.
func Expand(specs []Spec) ([]Spec, error) {
	out := make([]Spec, 0, len(specs))
	for _, s := range specs {
		sc, ok := shortcuts[s.Type]
		if !ok || !IsShortcut(&s.Options) {
			out = append(out, s)
			continue
		}
		expanded, err := sc(s.Label, &s.Options)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// Build expands specs and adds the resulting operations to g in order.
// The first construction error aborts the build.
func Build(g *graph.Graph, specs []Spec, hooks Hooks) error {
	expanded, err := Expand(specs)
	if err != nil {
		return err
	}
	logger := g.Logger()
	for _, s := range expanded {
		ctor, ok := builtins[s.Type]
		if !ok {
			return graph.ArgumentError(s.Label, s.Type, ErrUnknownType, "cannot build operation")
		}
		op, err := ctor(s.Label, g, &s.Options, hooks)
		if err != nil {
			return err
		}
		if err := g.Add(op); err != nil {
			return err
		}
	}
	logger.Debug("graph built", slog.Int("operations", len(expanded)))
	return nil
}

// Validate reports every problem in specs without building anything:
// missing fields, duplicate labels and unknown types.
func Validate(specs []Spec) []error {
	var errs []error
	seen := make(map[string]bool)
	for i, s := range specs {
		if err := validate.Struct(&s); err != nil {
			errs = append(errs, fmt.Errorf("operation %d (%q): %w", i, s.Label, err))
			continue
		}
		if seen[s.Label] {
			errs = append(errs, fmt.Errorf("operation %d: %w: %s", i, graph.ErrDuplicateLabel, s.Label))
		}
		seen[s.Label] = true
		_, isOp := builtins[s.Type]
		_, isShortcut := shortcuts[s.Type]
		if !isOp && !isShortcut {
			errs = append(errs, fmt.Errorf("operation %q: %w %q", s.Label, ErrUnknownType, s.Type))
		}
	}
	return errs
}
