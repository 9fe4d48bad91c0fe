package expr

import "fmt"

// Reason classifies an EvaluationError for callers that need to branch on
// the failure mode rather than match message text.
type Reason int

const (
	// ReasonParse covers scan and syntax failures.
	ReasonParse Reason = iota
	// ReasonUnresolvedPath covers references to nodes or parameters that do
	// not exist, or relative paths that escape the graph.
	ReasonUnresolvedPath
	// ReasonArity covers calls with the wrong number of arguments.
	ReasonArity
	// ReasonType covers operand and argument type mismatches.
	ReasonType
	// ReasonDivByZero covers division and modulo by zero.
	ReasonDivByZero
)

func (r Reason) String() string {
	switch r {
	case ReasonParse:
		return "parse error"
	case ReasonUnresolvedPath:
		return "unresolved path"
	case ReasonArity:
		return "wrong arity"
	case ReasonType:
		return "type mismatch"
	case ReasonDivByZero:
		return "division by zero"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// EvaluationError is the typed failure of a formula parse or evaluation. It
// never aborts the caller; every failure path returns one.
type EvaluationError struct {
	Reason Reason
	// Pos is the byte offset into the formula source where the failure was
	// detected, or -1 when it has no meaningful location.
	Pos int
	Msg string
}

func (e *EvaluationError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("%s at offset %d: %s", e.Reason, e.Pos, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Msg)
}

func errf(reason Reason, pos int, format string, args ...any) *EvaluationError {
	return &EvaluationError{Reason: reason, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// DependencyCycleError reports a formula assignment that would close a
// reference cycle in the parameter dependency graph. The assignment is
// rejected before any stored state changes.
type DependencyCycleError struct {
	// Param is the parameter the formula was being assigned to.
	Param string
	// Ref is the referenced parameter that completes the cycle.
	Ref string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("formula on %s would close a dependency cycle through %s", e.Param, e.Ref)
}

// UnresolvedPackReferenceError reports a pack or detail accessor that names
// a node which has not executed in the current run.
type UnresolvedPackReferenceError struct {
	Node string
	Pin  string
}

func (e *UnresolvedPackReferenceError) Error() string {
	if e.Pin != "" {
		return fmt.Sprintf("node %s has not executed in this run; pin %q holds no packs", e.Node, e.Pin)
	}
	return fmt.Sprintf("node %s has not executed in this run", e.Node)
}
