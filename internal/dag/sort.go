package dag

import (
	"fmt"
	"sort"
)

// DetectCycles checks the graph for any cycle. It returns a non-nil error if
// one is found, naming the first node discovered to be part of it.
func (g *Graph) DetectCycles() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// Classic depth-first search over three node sets:
	// permanent: fully visited, known not to be part of a cycle.
	// temporary: currently on the recursion stack.
	// unvisited: everything else.
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(n *node) error
	visit = func(n *node) error {
		if permanent[n.id] {
			return nil
		}
		if temporary[n.id] {
			return fmt.Errorf("cycle detected involving node '%s'", n.id)
		}

		temporary[n.id] = true
		for _, dependent := range sortedBySeq(n.dependents) {
			if err := visit(dependent); err != nil {
				return err
			}
		}
		delete(temporary, n.id)
		permanent[n.id] = true
		return nil
	}

	for _, n := range g.sortedNodes() {
		if !permanent[n.id] {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reaches reports whether a directed path exists from fromID to toID.
// Unknown IDs are unreachable by definition.
func (g *Graph) Reaches(fromID, toID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	start, ok := g.nodes[fromID]
	if !ok {
		return false
	}
	if _, ok := g.nodes[toID]; !ok {
		return false
	}

	seen := make(map[string]bool)
	stack := []*node{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.id == toID {
			return true
		}
		if seen[n.id] {
			continue
		}
		seen[n.id] = true
		for _, dependent := range n.dependents {
			stack = append(stack, dependent)
		}
	}
	return false
}

// WouldCycle reports whether adding an edge from fromID to toID would close
// a cycle. The graph itself is not modified.
func (g *Graph) WouldCycle(fromID, toID string) bool {
	if fromID == toID {
		return true
	}
	return g.Reaches(toID, fromID)
}

// TopoSort returns every vertex in dependency order. Vertices with no
// relative ordering appear in insertion order, so the result is stable
// across runs. A cycle is reported as an error.
func (g *Graph) TopoSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegree := make(map[string]int, len(g.nodes))
	for id, n := range g.nodes {
		inDegree[id] = len(n.deps)
	}

	var ready []*node
	for _, n := range g.sortedNodes() {
		if inDegree[n.id] == 0 {
			ready = append(ready, n)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		// ready is kept sorted by insertion sequence; take the oldest.
		n := ready[0]
		ready = ready[1:]
		order = append(order, n.id)

		for _, dependent := range sortedBySeq(n.dependents) {
			inDegree[dependent.id]--
			if inDegree[dependent.id] == 0 {
				ready = insertBySeq(ready, dependent)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return nil, fmt.Errorf("cycle detected: only %d of %d nodes could be ordered", len(order), len(g.nodes))
	}
	return order, nil
}

// SortedDependents returns the transitive dependents of the given vertex in
// stable topological order, excluding the vertex itself.
func (g *Graph) SortedDependents(id string) ([]string, error) {
	g.mu.RLock()
	start, ok := g.nodes[id]
	if !ok {
		g.mu.RUnlock()
		return nil, fmt.Errorf("node not found: %s", id)
	}

	affected := make(map[string]bool)
	stack := []*node{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for depID, dependent := range n.dependents {
			if !affected[depID] {
				affected[depID] = true
				stack = append(stack, dependent)
			}
		}
	}
	g.mu.RUnlock()

	order, err := g.TopoSort()
	if err != nil {
		return nil, err
	}
	result := make([]string, 0, len(affected))
	for _, oid := range order {
		if affected[oid] {
			result = append(result, oid)
		}
	}
	return result, nil
}

func (g *Graph) sortedNodes() []*node {
	nodes := make([]*node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].seq < nodes[j].seq })
	return nodes
}

func sortedBySeq(set map[string]*node) []*node {
	nodes := make([]*node, 0, len(set))
	for _, n := range set {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].seq < nodes[j].seq })
	return nodes
}

func insertBySeq(ready []*node, n *node) []*node {
	i := sort.Search(len(ready), func(i int) bool { return ready[i].seq > n.seq })
	ready = append(ready, nil)
	copy(ready[i+1:], ready[i:])
	ready[i] = n
	return ready
}
