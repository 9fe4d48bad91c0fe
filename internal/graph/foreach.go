package graph

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/tensorgrid/tensorgrid/internal/nodepath"
)

// Loop-group formation contract. Any node kind can take any of the three
// roles; the graph cares only that these parameters exist and resolve.
const (
	// ForEachEndPathParam is the path-to-End parameter required on the
	// Begin and Data nodes. Relative values resolve against the owning
	// node's path, so a sibling End is written "../end".
	ForEachEndPathParam = "end_path"
	// ForEachIterationsParam is the iteration-bound parameter required on
	// the End node.
	ForEachIterationsParam = "iterations"
)

// ForEachGroup is one registered loop region: the Begin/Data/End triple
// plus the set of nodes enclosed between Begin and End. The enclosed set
// follows connection changes; the triple is fixed at registration.
//
// Accessors are not synchronized. They are stable while a run holds the
// graph, which is when the engine reads them.
type ForEachGroup struct {
	begin string
	data  string
	end   string

	// beginPath is kept for event reporting after members are gone.
	beginPath string

	enclosed map[string]bool
	ordered  []string
}

func (f *ForEachGroup) BeginID() string { return f.begin }
func (f *ForEachGroup) DataID() string  { return f.data }
func (f *ForEachGroup) EndID() string   { return f.end }

// Contains reports whether the node id lies in the loop region, triple
// included.
func (f *ForEachGroup) Contains(id string) bool {
	return f.enclosed[id]
}

// EnclosedIDs returns the region's node ids in graph-insertion order.
func (f *ForEachGroup) EnclosedIDs() []string {
	return append([]string(nil), f.ordered...)
}

// isMember reports whether the node id is one of the triple. Deleting a
// member dissolves the group; deleting an ordinary enclosed node only
// shrinks it.
func (f *ForEachGroup) isMember(id string) bool {
	return id == f.begin || id == f.data || id == f.end
}

// RegisterForEach registers the Begin/Data/End triple as a loop region.
// Formation requires the three nodes to be mutually correctly wired: Begin
// and Data each carry an end_path parameter resolving to the End node, and
// End carries the iteration bound. Regions may not overlap.
func (g *Graph) RegisterForEach(beginID, dataID, endID string) (*ForEachGroup, error) {
	g.mu.Lock()
	if verr := g.mutableLocked("register foreach"); verr != nil {
		g.mu.Unlock()
		return nil, verr
	}
	if beginID == dataID || beginID == endID || dataID == endID {
		g.mu.Unlock()
		return nil, rejectf("register foreach", "begin, data and end must be three distinct nodes")
	}
	begin, ok := g.byID[beginID]
	if !ok {
		g.mu.Unlock()
		return nil, rejectf("register foreach", "no node with id %s", beginID)
	}
	data, ok := g.byID[dataID]
	if !ok {
		g.mu.Unlock()
		return nil, rejectf("register foreach", "no node with id %s", dataID)
	}
	end, ok := g.byID[endID]
	if !ok {
		g.mu.Unlock()
		return nil, rejectf("register foreach", "no node with id %s", endID)
	}
	for _, grp := range g.foreach {
		for _, id := range []string{beginID, dataID, endID} {
			if grp.isMember(id) {
				g.mu.Unlock()
				return nil, rejectf("register foreach", "node %s already anchors the loop group at %s", id, grp.beginPath)
			}
		}
	}

	var events []Event
	if err := g.endRefErrLocked(begin, end, &events); err != nil {
		g.mu.Unlock()
		return nil, rejectf("register foreach", "%s", err)
	}
	if err := g.endRefErrLocked(data, end, &events); err != nil {
		g.mu.Unlock()
		return nil, rejectf("register foreach", "%s", err)
	}
	if !end.params.Has(ForEachIterationsParam) {
		g.mu.Unlock()
		return nil, rejectf("register foreach", "end node %s has no %q parameter", end.path.String(), ForEachIterationsParam)
	}

	enclosed, ordered := g.enclosedSetLocked(begin, data, end)
	for _, grp := range g.foreach {
		for id := range enclosed {
			if grp.Contains(id) {
				g.mu.Unlock()
				return nil, rejectf("register foreach", "loop regions may not overlap: node %s already belongs to the group at %s", id, grp.beginPath)
			}
		}
	}

	grp := &ForEachGroup{
		begin:     beginID,
		data:      dataID,
		end:       endID,
		beginPath: begin.path.String(),
		enclosed:  enclosed,
		ordered:   ordered,
	}
	g.foreach = append(g.foreach, grp)
	events = append(events, Event{Type: EventForEachFormed, Node: grp.beginPath, Iteration: -1})
	g.mu.Unlock()

	g.emitAll(events)
	return grp, nil
}

// DissolveForEach unregisters the loop group anchored at the given Begin
// node id. The member nodes and their connections stay.
func (g *Graph) DissolveForEach(beginID string) error {
	g.mu.Lock()
	if verr := g.mutableLocked("dissolve foreach"); verr != nil {
		g.mu.Unlock()
		return verr
	}
	var grp *ForEachGroup
	for _, existing := range g.foreach {
		if existing.begin == beginID {
			grp = existing
			break
		}
	}
	if grp == nil {
		g.mu.Unlock()
		return rejectf("dissolve foreach", "no loop group begins at node id %s", beginID)
	}
	g.dissolveLocked(grp)
	g.mu.Unlock()

	g.Emit(Event{Type: EventForEachDissolved, Node: grp.beginPath, Iteration: -1})
	return nil
}

// ForEachGroups returns every registered loop group in registration order.
func (g *Graph) ForEachGroups() []*ForEachGroup {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*ForEachGroup(nil), g.foreach...)
}

// GroupOf returns the loop group whose region contains the node id.
func (g *Graph) GroupOf(id string) (*ForEachGroup, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.groupOfLocked(id)
}

func (g *Graph) groupOfLocked(id string) (*ForEachGroup, bool) {
	for _, grp := range g.foreach {
		if grp.Contains(id) {
			return grp, true
		}
	}
	return nil, false
}

func (g *Graph) dissolveLocked(grp *ForEachGroup) {
	for i, existing := range g.foreach {
		if existing == grp {
			g.foreach = append(g.foreach[:i], g.foreach[i+1:]...)
			return
		}
	}
}

// refreshForEachLocked dissolves groups whose formation contract went
// stale, then recomputes the surviving regions. Called after mutations
// that can move a path reference or delete a member.
func (g *Graph) refreshForEachLocked(events *[]Event) {
	for _, grp := range append([]*ForEachGroup(nil), g.foreach...) {
		if g.groupStaleLocked(grp, events) {
			g.dissolveLocked(grp)
			*events = append(*events, Event{Type: EventForEachDissolved, Node: grp.beginPath, Iteration: -1})
		}
	}
	g.recomputeEnclosedLocked()
}

func (g *Graph) groupStaleLocked(grp *ForEachGroup, events *[]Event) bool {
	begin, bok := g.byID[grp.begin]
	data, dok := g.byID[grp.data]
	end, eok := g.byID[grp.end]
	if !bok || !dok || !eok {
		return true
	}
	if g.endRefErrLocked(begin, end, events) != nil {
		return true
	}
	if g.endRefErrLocked(data, end, events) != nil {
		return true
	}
	return !end.params.Has(ForEachIterationsParam)
}

// endRefErrLocked checks that n's end_path parameter resolves to the end
// node.
func (g *Graph) endRefErrLocked(n, end *Node, events *[]Event) error {
	p, ok := n.params.Get(ForEachEndPathParam)
	if !ok {
		return fmt.Errorf("node %s has no %q parameter", n.path.String(), ForEachEndPathParam)
	}
	v, err := g.paramValueLocked(n, p, events)
	if err != nil {
		return fmt.Errorf("%s of %s: %w", ForEachEndPathParam, n.path.String(), err)
	}
	if !v.Type().Equals(cty.String) {
		return fmt.Errorf("%s of %s must be a string path", ForEachEndPathParam, n.path.String())
	}
	target, err := nodepath.Parse(v.AsString())
	if err != nil {
		return fmt.Errorf("%s of %s: %w", ForEachEndPathParam, n.path.String(), err)
	}
	resolved, err := target.ResolveFrom(n.path)
	if err != nil {
		return fmt.Errorf("%s of %s: %w", ForEachEndPathParam, n.path.String(), err)
	}
	if !resolved.Equal(end.path) {
		return fmt.Errorf("%s of %s resolves to %s, not the end node at %s",
			ForEachEndPathParam, n.path.String(), resolved.String(), end.path.String())
	}
	return nil
}

// recomputeEnclosedLocked refreshes every group's enclosed set from the
// current connections.
func (g *Graph) recomputeEnclosedLocked() {
	for _, grp := range g.foreach {
		begin, bok := g.byID[grp.begin]
		data, dok := g.byID[grp.data]
		end, eok := g.byID[grp.end]
		if !bok || !dok || !eok {
			// refreshForEachLocked dissolves these.
			continue
		}
		grp.enclosed, grp.ordered = g.enclosedSetLocked(begin, data, end)
	}
}

// enclosedSetLocked computes a region: the triple plus every node both
// reachable from Begin and able to reach End through connections.
func (g *Graph) enclosedSetLocked(begin, data, end *Node) (map[string]bool, []string) {
	forward := g.reachLocked(begin, true)
	backward := g.reachLocked(end, false)

	enclosed := map[string]bool{begin.id: true, data.id: true, end.id: true}
	for id := range forward {
		if backward[id] {
			enclosed[id] = true
		}
	}
	ordered := make([]string, 0, len(enclosed))
	for _, n := range g.order {
		if enclosed[n.id] {
			ordered = append(ordered, n.id)
		}
	}
	return enclosed, ordered
}

// reachLocked walks connections breadth-first from start, downstream when
// forward is true, upstream otherwise. The result includes start itself.
func (g *Graph) reachLocked(start *Node, forward bool) map[string]bool {
	return g.reachWithEdgeLocked(start, forward, nil, nil)
}

// reachWithEdgeLocked is reachLocked with one hypothetical extra edge from
// extraSrc to extraTgt, for judging a connection before it exists.
func (g *Graph) reachWithEdgeLocked(start *Node, forward bool, extraSrc, extraTgt *Node) map[string]bool {
	seen := map[string]bool{start.id: true}
	queue := []*Node{start}
	visit := func(next *Node) {
		if !seen[next.id] {
			seen[next.id] = true
			queue = append(queue, next)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		var pins []*Pin
		if forward {
			pins = n.outputs
		} else {
			pins = n.inputs
		}
		for _, pin := range pins {
			for _, c := range pin.conns {
				if forward {
					visit(c.target.owner)
				} else {
					visit(c.source.owner)
				}
			}
		}
		if forward && n == extraSrc && extraTgt != nil {
			visit(extraTgt)
		}
		if !forward && n == extraTgt && extraSrc != nil {
			visit(extraSrc)
		}
	}
	return seen
}
