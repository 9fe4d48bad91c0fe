package engine

import (
	"fmt"
	"sync"
)

// State tracks one node's progress through a run.
type State int32

const (
	// StatePending marks a node the current run has not planned yet.
	StatePending State = iota
	// StateReady marks a planned node waiting for its turn.
	StateReady
	// StateRunning marks a node whose compute is executing. Loop members
	// hold Running across every pass of their region.
	StateRunning
	// StateDone marks a node whose outputs are routed and final.
	StateDone
	// StateFailed marks the node whose execution ended the run.
	StateFailed
)

var stateNames = map[State]string{
	StatePending: "pending",
	StateReady:   "ready",
	StateRunning: "running",
	StateDone:    "done",
	StateFailed:  "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// stateTable holds the per-node states of the current run, keyed by node
// path. The engine is the only writer; everyone else reads snapshots
// through Result.
type stateTable struct {
	mu     sync.RWMutex
	byPath map[string]State
}

func newStateTable() *stateTable {
	return &stateTable{byPath: make(map[string]State)}
}

func (t *stateTable) reset(paths []string) {
	t.mu.Lock()
	t.byPath = make(map[string]State, len(paths))
	for _, p := range paths {
		t.byPath[p] = StatePending
	}
	t.mu.Unlock()
}

func (t *stateTable) set(path string, s State) {
	t.mu.Lock()
	t.byPath[path] = s
	t.mu.Unlock()
}

func (t *stateTable) setAll(paths []string, s State) {
	t.mu.Lock()
	for _, p := range paths {
		t.byPath[p] = s
	}
	t.mu.Unlock()
}

func (t *stateTable) snapshot() map[string]State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]State, len(t.byPath))
	for k, v := range t.byPath {
		out[k] = v
	}
	return out
}
