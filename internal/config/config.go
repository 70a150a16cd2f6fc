// Package config loads YAML graph descriptions.
//
// A graph file holds the run settings and the ordered list of operations:
//
//	logging: {level: info, format: text}
//	parallel: {enabled: true, workers: 4, min_chunk_size: 16}
//	derivatives: true
//	steps: 10
//	operations:
//	  - label: pos
//	    type: POSITIONS
//	    options: {atoms: 64}
//	  - label: tt
//	    type: TETRAHEDRAL
//	    options: {positions: pos, switch: {r0: 0.2, d0: 1.3}, mean: true}
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/cvgraph/internal/graph"
	"github.com/born-ml/cvgraph/internal/parallel"
	"github.com/born-ml/cvgraph/internal/registry"
	"github.com/born-ml/cvgraph/internal/scheduler"
	"github.com/born-ml/cvgraph/internal/telemetry"
)

// MaxFileSize bounds the size of a graph file.
const MaxFileSize = 16 << 20

// ErrInvalid is returned when a graph file fails validation.
var ErrInvalid = errors.New("invalid graph file")

// File is a decoded graph file.
type File struct {
	Logging  telemetry.LogConfig `yaml:"logging"`
	Parallel parallel.Config     `yaml:"parallel"`
	// Derivatives defaults to true.
	Derivatives *bool `yaml:"derivatives"`
	// Steps is the number of passes the CLI runs; defaults to 1.
	Steps      int             `yaml:"steps" validate:"gte=0"`
	Operations []registry.Spec `yaml:"operations" validate:"required,min=1"`
}

var validate = validator.New()

// Load reads and validates the graph file at path.
func Load(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat graph file: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("graph file too large: %d bytes (max %d)", info.Size(), MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading graph file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a graph file. Unknown top-level keys are
// rejected.
func Parse(data []byte) (*File, error) {
	f := &File{Parallel: parallel.DefaultConfig()}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalid)
		}
		return nil, fmt.Errorf("unmarshaling YAML: %w", err)
	}
	if f.Steps == 0 {
		f.Steps = 1
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate reports every problem in the file at once.
func (f *File) Validate() error {
	var result *multierror.Error
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				result = multierror.Append(result, fmt.Errorf("%s: failed %q check", fe.Namespace(), fe.Tag()))
			}
		} else {
			result = multierror.Append(result, err)
		}
	}
	for _, err := range registry.Validate(f.Operations) {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// DerivativesEnabled reports whether passes compute derivatives.
func (f *File) DerivativesEnabled() bool {
	return f.Derivatives == nil || *f.Derivatives
}

// SchedulerConfig returns the pass settings of the file.
func (f *File) SchedulerConfig() scheduler.Config {
	return scheduler.Config{Parallel: f.Parallel, Derivatives: f.DerivativesEnabled()}
}

// Logger builds the logger described by the file.
func (f *File) Logger(w io.Writer) *slog.Logger {
	return telemetry.NewLogger(w, f.Logging)
}

// BuildGraph constructs and finalizes the graph. Neighbor list rebuilds use
// the parallel settings of the file unless hooks override them. Any
// construction error discards the partially built graph.
func (f *File) BuildGraph(logger *slog.Logger, hooks registry.Hooks) (*graph.Graph, error) {
	if hooks.Parallel == nil {
		par := f.Parallel
		hooks.Parallel = &par
	}
	g := graph.New(logger)
	if err := registry.Build(g, f.Operations, hooks); err != nil {
		return nil, err
	}
	if err := g.Finalize(); err != nil {
		return nil, err
	}
	return g, nil
}
