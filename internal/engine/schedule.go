package engine

import (
	"fmt"
	"strings"

	"github.com/tensorgrid/tensorgrid/internal/dag"
	"github.com/tensorgrid/tensorgrid/internal/graph"
)

// unit is one schedulable step of a run: a single node, or a whole ForEach
// region that executes as one block.
type unit struct {
	node *graph.Node

	group   *graph.ForEachGroup
	members []*graph.Node
}

func (u *unit) isLoop() bool {
	return u.group != nil
}

// plan orders the graph for execution. Every loop region is contracted to
// one vertex, the contracted dag is sorted topologically, and each region
// is expanded back into its members in intra-region dependency order. Ties
// fall back to node insertion order, so the plan is stable run over run.
func plan(g *graph.Graph) ([]*unit, error) {
	contracted := dag.New()
	for _, n := range g.Nodes() {
		contracted.AddNode(unitKey(g, n))
	}
	for _, c := range g.Connections() {
		from := unitKey(g, c.Source().Node())
		to := unitKey(g, c.Target().Node())
		if from == to {
			continue
		}
		if err := contracted.AddEdge(from, to); err != nil {
			return nil, err
		}
	}
	order, err := contracted.TopoSort()
	if err != nil {
		return nil, err
	}

	units := make([]*unit, 0, len(order))
	for _, key := range order {
		id := key[strings.IndexByte(key, ':')+1:]
		if strings.HasPrefix(key, "node:") {
			n, ok := g.NodeByID(id)
			if !ok {
				return nil, fmt.Errorf("planned node %s is gone", id)
			}
			units = append(units, &unit{node: n})
			continue
		}
		grp, ok := g.GroupOf(id)
		if !ok {
			return nil, fmt.Errorf("planned loop region %s is gone", id)
		}
		members, err := regionOrder(g, grp)
		if err != nil {
			return nil, err
		}
		units = append(units, &unit{group: grp, members: members})
	}
	return units, nil
}

// unitKey names a node's vertex in the contracted dag. Every node of a
// loop region shares its region's vertex.
func unitKey(g *graph.Graph, n *graph.Node) string {
	if grp, ok := g.GroupOf(n.ID()); ok {
		return "loop:" + grp.BeginID()
	}
	return "node:" + n.ID()
}

// regionOrder sorts one loop region's members by the connections running
// inside it.
func regionOrder(g *graph.Graph, grp *graph.ForEachGroup) ([]*graph.Node, error) {
	region := dag.New()
	for _, id := range grp.EnclosedIDs() {
		region.AddNode(id)
	}
	for _, c := range g.Connections() {
		s := c.Source().Node().ID()
		t := c.Target().Node().ID()
		if s != t && grp.Contains(s) && grp.Contains(t) {
			if err := region.AddEdge(s, t); err != nil {
				return nil, err
			}
		}
	}
	ids, err := region.TopoSort()
	if err != nil {
		return nil, err
	}
	members := make([]*graph.Node, 0, len(ids))
	for _, id := range ids {
		n, ok := g.NodeByID(id)
		if !ok {
			return nil, fmt.Errorf("loop member %s is gone", id)
		}
		members = append(members, n)
	}
	return members, nil
}
