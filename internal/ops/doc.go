// Package ops implements the concrete operations of the engine.
//
// Sources (POSITIONS, INPUT, REFERENCE_GRID) hold host-provided data and are
// never scheduled. Every other operation declares its arguments at
// construction, owns its outputs, and computes one task at a time, recording
// direct partial derivatives through graph.OperationBase.
package ops
