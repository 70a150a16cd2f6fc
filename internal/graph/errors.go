package graph

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrConfiguration  = errors.New("configuration error")
	ErrInvariant      = errors.New("internal invariant violation")
	ErrUnknownValue   = errors.New("unknown value")
	ErrDuplicateLabel = errors.New("duplicate label")
	ErrCycle          = errors.New("dependency cycle")
	ErrFinalized      = errors.New("graph already finalized")
	ErrNotFinalized   = errors.New("graph not finalized")
)

// ConfigError reports a problem detected while constructing an operation.
// Configuration errors are fatal to the whole graph build.
type ConfigError struct {
	Operation string // Label of the operation being constructed
	Argument  string // Primary argument involved
	Argument2 string // Second argument (for mismatches)
	Dimension int    // Mismatched dimension, or -1
	Details   string
	Err       error // Optional cause
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("configuration error in %q", e.Operation)
	switch {
	case e.Argument2 != "" && e.Dimension >= 0:
		msg += fmt.Sprintf(": arguments %q and %q, dimension %d", e.Argument, e.Argument2, e.Dimension)
	case e.Argument2 != "":
		msg += fmt.Sprintf(": arguments %q and %q", e.Argument, e.Argument2)
	case e.Argument != "":
		msg += fmt.Sprintf(": argument %q", e.Argument)
	}
	msg += ": " + e.Details
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap allows errors.Is(err, ErrConfiguration) and matching the cause.
func (e *ConfigError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConfiguration, e.Err}
	}
	return []error{ErrConfiguration}
}

// Configf builds a ConfigError with no argument attached.
func Configf(op, format string, args ...any) *ConfigError {
	return &ConfigError{Operation: op, Dimension: -1, Details: fmt.Sprintf(format, args...)}
}

// ArgumentError builds a ConfigError about a single argument.
func ArgumentError(op, arg string, err error, format string, args ...any) *ConfigError {
	return &ConfigError{Operation: op, Argument: arg, Dimension: -1, Details: fmt.Sprintf(format, args...), Err: err}
}

// InvariantError reports a defect found while running a pass.
// It aborts the pass: continuing would corrupt downstream derivatives.
type InvariantError struct {
	Operation string
	Task      int
	Details   string
	Err       error
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	msg := fmt.Sprintf("internal invariant violation in %q", e.Operation)
	if e.Task >= 0 {
		msg += fmt.Sprintf(" (task %d)", e.Task)
	}
	msg += ": " + e.Details
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap allows errors.Is(err, ErrInvariant) and matching the cause.
func (e *InvariantError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvariant, e.Err}
	}
	return []error{ErrInvariant}
}
