package graph

import (
	"fmt"
	"sync"
)

// EventType enumerates the change notifications the graph emits.
type EventType int

const (
	EventNodeAdded EventType = iota
	EventNodeRemoved
	EventConnectionAdded
	EventConnectionRemoved
	EventParameterChanged
	EventParameterReevaluated
	EventForEachFormed
	EventForEachDissolved
	EventRunStarted
	EventNodeFinished
	EventIterationFinished
	EventRunFailed
	EventRunCompleted
)

var eventTypeNames = map[EventType]string{
	EventNodeAdded:            "node_added",
	EventNodeRemoved:          "node_removed",
	EventConnectionAdded:      "connection_added",
	EventConnectionRemoved:    "connection_removed",
	EventParameterChanged:     "parameter_changed",
	EventParameterReevaluated: "parameter_reevaluated",
	EventForEachFormed:        "foreach_formed",
	EventForEachDissolved:     "foreach_dissolved",
	EventRunStarted:           "run_started",
	EventNodeFinished:         "node_finished",
	EventIterationFinished:    "iteration_finished",
	EventRunFailed:            "run_failed",
	EventRunCompleted:         "run_completed",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Event is one change notification. Fields beyond Type are filled only when
// they apply.
type Event struct {
	Type EventType
	// Node is the canonical path of the node concerned.
	Node string
	// Param names the parameter concerned, for parameter events.
	Param string
	// Conn is the connection id, for connection events.
	Conn string
	// Iteration is the loop iteration index, for run events inside a
	// ForEach region; -1 outside one.
	Iteration int
	// Err carries the failure for parameter_reevaluated and run_failed.
	Err error
}

// Observer receives events synchronously, in subscription order. Observers
// must not mutate the graph from inside the callback.
type Observer func(Event)

// observerRegistry is the graph-owned subscriber list. Explicit and
// per-graph; there is no process-wide bus.
type observerRegistry struct {
	mu      sync.Mutex
	nextID  int
	entries []observerEntry
}

type observerEntry struct {
	id int
	fn Observer
}

// Subscribe registers an observer and returns its unsubscribe function.
func (g *Graph) Subscribe(fn Observer) (unsubscribe func()) {
	g.observers.mu.Lock()
	defer g.observers.mu.Unlock()

	id := g.observers.nextID
	g.observers.nextID++
	g.observers.entries = append(g.observers.entries, observerEntry{id: id, fn: fn})
	return func() {
		g.observers.mu.Lock()
		defer g.observers.mu.Unlock()
		for i, e := range g.observers.entries {
			if e.id == id {
				g.observers.entries = append(g.observers.entries[:i], g.observers.entries[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers an event to every subscriber. The engine publishes its run
// progress through here so that graph and execution changes share one
// notification stream.
func (g *Graph) Emit(ev Event) {
	g.observers.mu.Lock()
	entries := make([]observerEntry, len(g.observers.entries))
	copy(entries, g.observers.entries)
	g.observers.mu.Unlock()

	for _, e := range entries {
		e.fn(ev)
	}
}
