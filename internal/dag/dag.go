package dag

import (
	"fmt"
	"sync"
)

// Graph is a mutable directed graph over string-identified vertices. All
// operations are concurrency-safe.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*node
	// seq hands out insertion sequence numbers, which the topological sort
	// uses to break ordering ties deterministically.
	seq int
}

// node is a single vertex. It is unexported to force interaction through
// the string-ID API rather than direct struct manipulation.
type node struct {
	id         string
	seq        int
	deps       map[string]*node
	dependents map[string]*node
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// AddNode adds a new vertex with the given ID. Adding an existing ID does
// nothing, preserving its original insertion order.
func (g *Graph) AddNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = &node{
		id:         id,
		seq:        g.seq,
		deps:       make(map[string]*node),
		dependents: make(map[string]*node),
	}
	g.seq++
}

// HasNode reports whether the given ID is present.
func (g *Graph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// RemoveNode deletes a vertex and every edge touching it. Removing an
// unknown ID does nothing.
func (g *Graph) RemoveNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return
	}
	for _, dep := range n.deps {
		delete(dep.dependents, id)
	}
	for _, dependent := range n.dependents {
		delete(dependent.deps, id)
	}
	delete(g.nodes, id)
}

// AddEdge creates a directed edge from fromID to toID, meaning toID depends
// on fromID and must run after it. An error is returned if either vertex is
// missing or the edge would be a self-reference.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, fromID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}
	toNode, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}

	toNode.deps[fromID] = fromNode
	fromNode.dependents[toID] = toNode
	return nil
}

// RemoveEdge deletes the edge from fromID to toID if it exists.
func (g *Graph) RemoveEdge(fromID, toID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return
	}
	toNode, ok := g.nodes[toID]
	if !ok {
		return
	}
	delete(toNode.deps, fromID)
	delete(fromNode.dependents, toID)
}

// Dependencies returns the IDs the given vertex depends on.
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	deps := make([]string, 0, len(n.deps))
	for depID := range n.deps {
		deps = append(deps, depID)
	}
	return deps, nil
}

// Dependents returns the IDs that depend on the given vertex.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	dependents := make([]string, 0, len(n.dependents))
	for depID := range n.dependents {
		dependents = append(dependents, depID)
	}
	return dependents, nil
}

// Len returns the number of vertices.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}
