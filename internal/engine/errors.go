package engine

import (
	"errors"
	"fmt"
)

// ErrBusy is returned by Run when the engine already has a run in flight.
var ErrBusy = errors.New("a run is already in flight")

// MissingPackError reports a mandatory input pin that reached its node's
// turn with no Packs to consume.
type MissingPackError struct {
	// Node is the canonical path of the starved node.
	Node string
	// Pin is the input pin's name.
	Pin string
}

func (e *MissingPackError) Error() string {
	return fmt.Sprintf("node %s: mandatory input %q received no packs", e.Node, e.Pin)
}

// ExecutionFailure wraps the error that ended a run together with the node
// and iteration it happened on.
type ExecutionFailure struct {
	// Node is the canonical path of the failed node.
	Node string
	// Iteration is the loop pass the failure happened on, -1 outside a
	// ForEach region.
	Iteration int
	Err       error
}

func (e *ExecutionFailure) Error() string {
	if e.Iteration >= 0 {
		return fmt.Sprintf("node %s failed on iteration %d: %s", e.Node, e.Iteration, e.Err)
	}
	return fmt.Sprintf("node %s failed: %s", e.Node, e.Err)
}

func (e *ExecutionFailure) Unwrap() error {
	return e.Err
}
