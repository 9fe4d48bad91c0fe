package graph

import "fmt"

// ValidationError reports why a graph mutation was rejected. Whenever one is
// returned the graph is exactly as it was before the call; rejected
// mutations never enter stored state.
type ValidationError struct {
	// Op names the rejected operation, e.g. "connect" or "add node".
	Op string
	// Reason is the specific, actionable cause of the rejection.
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Reason)
}

func rejectf(op, format string, args ...any) *ValidationError {
	return &ValidationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}
