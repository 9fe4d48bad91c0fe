package graph

import (
	"github.com/tensorgrid/tensorgrid/internal/dag"
)

// CanConnect reports whether connecting source to target would be legal,
// returning the specific rejection otherwise. The graph is not modified.
func (g *Graph) CanConnect(source, target *Pin) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if verr := g.canConnectLocked(source, target); verr != nil {
		return verr
	}
	return nil
}

// canConnectLocked runs the connection checks in feedback order: direction,
// node identity, kind compatibility, input occupancy, then cycles. The
// cycle check contracts each loop region to one vertex, so the loop's
// logical return to Begin, which is only a path reference and never a real
// connection, can never look like a cycle. The contraction is taken over
// the region membership as it would stand with the edge in place.
func (g *Graph) canConnectLocked(source, target *Pin) *ValidationError {
	if source.direction == target.direction {
		return rejectf("connect", "both pins are %ss", source.direction)
	}
	if source.direction != DirOutput {
		return rejectf("connect", "connections run from an output to an input, got %s to %s", source.direction, target.direction)
	}
	if source.owner == target.owner {
		return rejectf("connect", "cannot connect %s to itself", source.owner.path.String())
	}
	if g.byID[source.owner.id] != source.owner {
		return rejectf("connect", "pin %s does not belong to this graph", source.Addr())
	}
	if g.byID[target.owner.id] != target.owner {
		return rejectf("connect", "pin %s does not belong to this graph", target.Addr())
	}
	if !source.kind.Compatible(target.kind) {
		return rejectf("connect", "data kind %s cannot feed %s", source.kind, target.kind)
	}
	if target.Connected() {
		return rejectf("connect", "input %s already has a connection", target.Addr())
	}

	// Enclosure follows connections, so the edge is judged against the
	// membership it would itself create. An edge that pulls its endpoint
	// back into a loop region is intra-region; the current contraction
	// would misread the endpoint's surviving region edges as leaving and
	// re-entering the loop vertex.
	members := g.membersWithEdgeLocked(source.owner, target.owner)
	key := func(n *Node) string {
		if grp := members[n.id]; grp != nil {
			return "loop:" + grp.begin
		}
		return "node:" + n.id
	}

	if grp := members[source.owner.id]; grp != nil && grp == members[target.owner.id] {
		region := dag.New()
		for _, n := range g.order {
			if members[n.id] == grp {
				region.AddNode(n.id)
			}
		}
		for _, c := range g.connOrder {
			s, t := c.source.owner.id, c.target.owner.id
			if members[s] == grp && members[t] == grp {
				_ = region.AddEdge(s, t)
			}
		}
		if region.WouldCycle(source.owner.id, target.owner.id) {
			return rejectf("connect", "connecting %s to %s would close a cycle inside the loop region at %s",
				source.Addr(), target.Addr(), grp.beginPath)
		}
		return nil
	}

	contracted := dag.New()
	for _, n := range g.order {
		contracted.AddNode(key(n))
	}
	for _, c := range g.connOrder {
		from, to := key(c.source.owner), key(c.target.owner)
		if from == to {
			continue
		}
		_ = contracted.AddEdge(from, to)
	}
	if contracted.WouldCycle(key(source.owner), key(target.owner)) {
		return rejectf("connect", "connecting %s to %s would create a cycle", source.Addr(), target.Addr())
	}
	return nil
}

// membersWithEdgeLocked computes every loop region's enclosure as it would
// stand once the source-to-target edge exists: the triple plus every node
// both reachable from Begin and able to reach End, counting the candidate
// edge. Triple nodes are members unconditionally.
func (g *Graph) membersWithEdgeLocked(src, tgt *Node) map[string]*ForEachGroup {
	members := make(map[string]*ForEachGroup)
	for _, grp := range g.foreach {
		begin, bok := g.byID[grp.begin]
		end, eok := g.byID[grp.end]
		if !bok || !eok {
			continue
		}
		forward := g.reachWithEdgeLocked(begin, true, src, tgt)
		backward := g.reachWithEdgeLocked(end, false, src, tgt)
		members[grp.begin] = grp
		members[grp.data] = grp
		members[grp.end] = grp
		for id := range forward {
			if backward[id] {
				members[id] = grp
			}
		}
	}
	return members
}

// Validate re-checks the graph's structural invariants as a whole:
// connection direction and kind compatibility, contracted acyclicity,
// loop-region acyclicity, and the parameter dependency registry. Mutations
// enforce all of these one change at a time; Validate covers graphs
// assembled by document restore.
func (g *Graph) Validate() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, c := range g.connOrder {
		if c.source.direction != DirOutput || c.target.direction != DirInput {
			return rejectf("validate", "connection %s runs %s to %s", c.id, c.source.direction, c.target.direction)
		}
		if !c.source.kind.Compatible(c.target.kind) {
			return rejectf("validate", "connection %s: data kind %s cannot feed %s", c.id, c.source.kind, c.target.kind)
		}
	}
	if err := g.contractedDagLocked().DetectCycles(); err != nil {
		return rejectf("validate", "%s", err)
	}
	for _, grp := range g.foreach {
		if err := g.regionDagLocked(grp).DetectCycles(); err != nil {
			return rejectf("validate", "loop region at %s: %s", grp.beginPath, err)
		}
	}
	if err := g.deps.DetectCycles(); err != nil {
		return rejectf("validate", "parameter dependencies: %s", err)
	}
	return nil
}

// contractedDagLocked builds the connection graph with every loop region
// collapsed to a single vertex. Intra-region edges are omitted; they
// belong to regionDagLocked.
func (g *Graph) contractedDagLocked() *dag.Graph {
	d := dag.New()
	for _, n := range g.order {
		d.AddNode(g.contractionKeyLocked(n))
	}
	for _, c := range g.connOrder {
		from := g.contractionKeyLocked(c.source.owner)
		to := g.contractionKeyLocked(c.target.owner)
		if from == to {
			continue
		}
		_ = d.AddEdge(from, to)
	}
	return d
}

func (g *Graph) contractionKeyLocked(n *Node) string {
	if grp, ok := g.groupOfLocked(n.id); ok {
		return "loop:" + grp.begin
	}
	return "node:" + n.id
}

// regionDagLocked builds one loop region's internal connection graph.
func (g *Graph) regionDagLocked(grp *ForEachGroup) *dag.Graph {
	d := dag.New()
	for _, id := range grp.ordered {
		d.AddNode(id)
	}
	for _, c := range g.connOrder {
		s, t := c.source.owner.id, c.target.owner.id
		if grp.Contains(s) && grp.Contains(t) {
			_ = d.AddEdge(s, t)
		}
	}
	return d
}
