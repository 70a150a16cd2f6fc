package registry

import (
	"gopkg.in/yaml.v3"

	"github.com/born-ml/cvgraph/internal/graph"
	"github.com/born-ml/cvgraph/internal/ops"
	"github.com/born-ml/cvgraph/internal/switching"
)

// IsShortcut reports whether the options of a type that is both an
// operation and a shortcut select the shortcut form. The operation form
// reads precomputed matrices and names a weight; the shortcut form starts
// from positions.
func IsShortcut(opts *yaml.Node) bool {
	if opts == nil || opts.Kind != yaml.MappingNode {
		return true
	}
	for i := 0; i+1 < len(opts.Content); i += 2 {
		if opts.Content[i].Value == "weight" {
			return false
		}
	}
	return true
}

// TetrahedralShortcut is the shortcut form of TETRAHEDRAL.
type TetrahedralShortcut struct {
	ops.ContactMatrixOptions `yaml:",inline"`

	// Mean adds <label>_mean, the average over atoms.
	Mean bool `yaml:"mean"`
	// Sum adds <label>_sum, the sum over atoms.
	Sum bool `yaml:"sum"`
	// MoreThan adds <label>_morethan and its sum <label>_morethan_sum.
	MoreThan *switching.Rational `yaml:"more_than"`
	// LessThan adds <label>_lessthan and its sum <label>_lessthan_sum.
	LessThan *switching.Rational `yaml:"less_than"`
}

// expandTetrahedral builds the normalized tetrahedral order parameter
//
//	<label>_mat      CONTACT_MATRIX     positions -> w, x, y, z
//	<label>          TETRAHEDRAL        sum_j w f(x, y, z)
//	<label>_denom    COORDINATIONNUMBER sum_j w
//	<label>_n        FUNCTION           <label> / <label>_denom
//
// followed by the requested reductions of <label>_n. The atom selections
// of the options (species, or species_a and species_b) pass through to the
// contact matrix, so <label> has one element per selected central atom.
func expandTetrahedral(label string, node *yaml.Node) ([]Spec, error) {
	opts, err := decode[TetrahedralShortcut](label, node)
	if err != nil {
		return nil, err
	}
	mat := label + "_mat"
	norm := label + "_n"

	type step struct {
		label, typ string
		opts       any
	}
	steps := []step{
		{mat, "CONTACT_MATRIX", opts.ContactMatrixOptions},
		{label, "TETRAHEDRAL", ops.SymmetryOptions{Weight: mat + ".w", Vectors: []string{mat + ".x", mat + ".y", mat + ".z"}}},
		{label + "_denom", "COORDINATIONNUMBER", ops.SymmetryOptions{Weight: mat + ".w"}},
		{norm, "FUNCTION", ops.FunctionOptions{Args: []string{label, label + "_denom"}, Func: "ratio"}},
	}
	if opts.Mean {
		steps = append(steps, step{label + "_mean", "MEAN", ops.ReduceOptions{Arg: norm}})
	}
	if opts.Sum {
		steps = append(steps, step{label + "_sum", "SUM", ops.ReduceOptions{Arg: norm}})
	}
	thresholds := []struct {
		name, typ string
		sw        *switching.Rational
	}{
		{"morethan", "MORE_THAN", opts.MoreThan},
		{"lessthan", "LESS_THAN", opts.LessThan},
	}
	for _, th := range thresholds {
		if th.sw == nil {
			continue
		}
		lab := label + "_" + th.name
		steps = append(steps,
			step{lab, th.typ, ops.ThresholdOptions{Arg: norm, Switch: *th.sw}},
			step{lab + "_sum", "SUM", ops.ReduceOptions{Arg: lab}},
		)
	}

	specs := make([]Spec, 0, len(steps))
	for _, st := range steps {
		s := Spec{Label: st.label, Type: st.typ}
		if err := s.Options.Encode(st.opts); err != nil {
			return nil, graph.ArgumentError(label, st.label, err, "cannot expand shortcut")
		}
		specs = append(specs, s)
	}
	return specs, nil
}
