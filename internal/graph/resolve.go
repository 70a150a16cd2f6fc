package graph

import (
	"fmt"
	"log/slog"

	"github.com/born-ml/cvgraph/internal/value"
)

// Lookup resolves upstream values while an operation is being constructed.
type Lookup interface {
	// Value returns the value registered under name.
	Value(name string) (*value.Value, error)

	// Owner returns the operation that produced v, or nil.
	Owner(v *value.Value) Operation

	// Logger returns the diagnostic sink for configuration summaries.
	Logger() *slog.Logger
}

// ResolveArguments looks up every name for operation op.
func ResolveArguments(lk Lookup, op string, names ...string) ([]*value.Value, error) {
	out := make([]*value.Value, 0, len(names))
	for _, name := range names {
		v, err := lk.Value(name)
		if err != nil {
			return nil, ArgumentError(op, name, err, "cannot resolve argument")
		}
		out = append(out, v)
	}
	return out, nil
}

// CheckMatchingShapes verifies that every argument has the rank and shape of
// the first one. The error names both arguments and the offending dimension.
func CheckMatchingShapes(op string, args []*value.Value) error {
	if len(args) < 2 {
		return nil
	}
	ref := args[0]
	for _, a := range args[1:] {
		if a.Rank() != ref.Rank() {
			return &ConfigError{
				Operation: op,
				Argument:  ref.Name(),
				Argument2: a.Name(),
				Dimension: -1,
				Details:   fmt.Sprintf("mismatched ranks for arguments (%d vs %d)", ref.Rank(), a.Rank()),
			}
		}
		if dim := ref.Shape().FirstMismatch(a.Shape()); dim >= 0 {
			return &ConfigError{
				Operation: op,
				Argument:  ref.Name(),
				Argument2: a.Name(),
				Dimension: dim,
				Details: fmt.Sprintf("mismatched shapes for arguments %s vs %s (%d vs %d)",
					ref.Shape(), a.Shape(), ref.Shape()[dim], a.Shape()[dim]),
			}
		}
	}
	return nil
}

// CheckRank verifies that v has the given rank.
func CheckRank(op string, v *value.Value, rank int) error {
	if v.Rank() != rank {
		return ArgumentError(op, v.Name(), nil, "expected rank %d, got rank %d with shape %s", rank, v.Rank(), v.Shape())
	}
	return nil
}
