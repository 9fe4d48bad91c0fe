package graph

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tensorgrid/tensorgrid/internal/dag"
	"github.com/tensorgrid/tensorgrid/internal/nodepath"
)

// Graph is the document model: nodes addressed by hierarchical path,
// connections between their pins, parameter dependency tracking, loop group
// registrations and the observer registry. Every mutation validates first
// and leaves the graph untouched when it rejects.
type Graph struct {
	mu sync.Mutex

	nodes map[string]*Node // keyed by canonical path string
	byID  map[string]*Node
	order []*Node
	seq   int

	conns     map[string]*Connection
	connOrder []*Connection

	// deps tracks parameter→parameter dependencies. Vertices are canonical
	// parameter reference strings; an edge runs dependency → dependent.
	deps *dag.Graph

	foreach []*ForEachGroup

	policy     EvalPolicy
	running    atomic.Bool
	packSource PackSource

	observers observerRegistry
}

// New returns an empty graph with the eager evaluation policy.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		byID:  make(map[string]*Node),
		conns: make(map[string]*Connection),
		deps:  dag.New(),
	}
}

// SetEvalPolicy switches between eager and lazy re-evaluation of dependent
// formula parameters.
func (g *Graph) SetEvalPolicy(p EvalPolicy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policy = p
}

func (g *Graph) EvalPolicy() EvalPolicy {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.policy
}

// AddNode creates a node at the given absolute path.
func (g *Graph) AddNode(path nodepath.Path, spec Spec) (*Node, error) {
	return g.AddNodeWithID(uuid.NewString(), path, spec)
}

// AddNodeWithID is AddNode with a caller-supplied node id, used when
// restoring a document.
func (g *Graph) AddNodeWithID(id string, path nodepath.Path, spec Spec) (*Node, error) {
	g.mu.Lock()
	if verr := g.mutableLocked("add node"); verr != nil {
		g.mu.Unlock()
		return nil, verr
	}
	if !path.IsAbsolute() || path.IsRoot() {
		g.mu.Unlock()
		return nil, rejectf("add node", "node path must be absolute and below the root, got %q", path.String())
	}
	for _, seg := range path.Segments() {
		if !nodepath.ValidSegment(seg) {
			g.mu.Unlock()
			return nil, rejectf("add node", "path segment %q is not a valid node name", seg)
		}
	}
	key := path.String()
	if _, exists := g.nodes[key]; exists {
		g.mu.Unlock()
		return nil, rejectf("add node", "a node already exists at %s", key)
	}
	if _, exists := g.byID[id]; exists {
		g.mu.Unlock()
		return nil, rejectf("add node", "node id %s is already in use", id)
	}

	n, err := newNode(id, path, spec)
	if err != nil {
		g.mu.Unlock()
		return nil, rejectf("add node", "%s", err)
	}
	n.seq = g.seq
	g.seq++
	g.nodes[key] = n
	g.byID[id] = n
	g.order = append(g.order, n)

	// A new node can satisfy formulas that referenced its path before it
	// existed.
	var events []Event
	for _, name := range n.params.Names() {
		events = append(events, g.propagateLocked(paramKey(n.path, name))...)
	}
	g.refreshForEachLocked(&events)
	g.mu.Unlock()

	g.Emit(Event{Type: EventNodeAdded, Node: key, Iteration: -1})
	g.emitAll(events)
	return n, nil
}

// Node returns the node at the given path.
func (g *Graph) Node(path nodepath.Path) (*Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[path.String()]
	return n, ok
}

// NodeByID returns the node with the given id.
func (g *Graph) NodeByID(id string) (*Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.byID[id]
	return n, ok
}

// Nodes returns every node in insertion order.
func (g *Graph) Nodes() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Node(nil), g.order...)
}

func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.order)
}

// RemoveNode deletes the node at path, cascading onto every connection
// attached to its pins and dissolving any loop group it is a member of.
func (g *Graph) RemoveNode(path nodepath.Path) error {
	g.mu.Lock()
	if verr := g.mutableLocked("remove node"); verr != nil {
		g.mu.Unlock()
		return verr
	}
	key := path.String()
	n, ok := g.nodes[key]
	if !ok {
		g.mu.Unlock()
		return rejectf("remove node", "no node at %s", key)
	}

	var events []Event
	for _, pin := range n.pins() {
		for _, c := range pin.Connections() {
			if _, still := g.conns[c.id]; still {
				g.removeConnectionLocked(c)
				events = append(events, Event{Type: EventConnectionRemoved, Conn: c.id, Iteration: -1})
			}
		}
	}

	for _, grp := range append([]*ForEachGroup(nil), g.foreach...) {
		if grp.isMember(n.id) {
			g.dissolveLocked(grp)
			events = append(events, Event{Type: EventForEachDissolved, Node: grp.beginPath, Iteration: -1})
		}
	}

	delete(g.nodes, key)
	delete(g.byID, n.id)
	for i, ordered := range g.order {
		if ordered == n {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	events = append(events, Event{Type: EventNodeRemoved, Node: key, Iteration: -1})

	// Sever the removed node's own dependency edges, then wake dependents
	// of its parameters; their next evaluation reports the dangling
	// reference.
	names := n.params.Names()
	for _, name := range names {
		if p, ok := n.params.Get(name); ok {
			g.dropFormulaLocked(p, paramKey(n.path, name))
		}
	}
	for _, name := range names {
		events = append(events, g.propagateLocked(paramKey(n.path, name))...)
	}
	g.refreshForEachLocked(&events)
	g.mu.Unlock()

	g.emitAll(events)
	return nil
}

// Connect creates a validated connection from an output pin to an input
// pin.
func (g *Graph) Connect(source, target *Pin) (*Connection, error) {
	return g.connect(uuid.NewString(), source, target)
}

// ConnectWithID is Connect with a caller-supplied connection id, used when
// restoring a document.
func (g *Graph) ConnectWithID(id string, source, target *Pin) (*Connection, error) {
	return g.connect(id, source, target)
}

func (g *Graph) connect(id string, source, target *Pin) (*Connection, error) {
	g.mu.Lock()
	if verr := g.mutableLocked("connect"); verr != nil {
		g.mu.Unlock()
		return nil, verr
	}
	if _, exists := g.conns[id]; exists {
		g.mu.Unlock()
		return nil, rejectf("connect", "connection id %s is already in use", id)
	}
	if verr := g.canConnectLocked(source, target); verr != nil {
		g.mu.Unlock()
		return nil, verr
	}

	c := &Connection{id: id, source: source, target: target}
	source.conns = append(source.conns, c)
	target.conns = append(target.conns, c)
	g.conns[id] = c
	g.connOrder = append(g.connOrder, c)
	g.recomputeEnclosedLocked()
	g.mu.Unlock()

	g.Emit(Event{Type: EventConnectionAdded, Conn: id, Node: source.owner.path.String(), Iteration: -1})
	return c, nil
}

// RemoveConnection deletes a connection by id.
func (g *Graph) RemoveConnection(id string) error {
	g.mu.Lock()
	if verr := g.mutableLocked("disconnect"); verr != nil {
		g.mu.Unlock()
		return verr
	}
	c, ok := g.conns[id]
	if !ok {
		g.mu.Unlock()
		return rejectf("disconnect", "no connection with id %s", id)
	}
	g.removeConnectionLocked(c)
	g.recomputeEnclosedLocked()
	g.mu.Unlock()

	g.Emit(Event{Type: EventConnectionRemoved, Conn: id, Iteration: -1})
	return nil
}

func (g *Graph) removeConnectionLocked(c *Connection) {
	c.source.detach(c)
	c.target.detach(c)
	delete(g.conns, c.id)
	for i, ordered := range g.connOrder {
		if ordered == c {
			g.connOrder = append(g.connOrder[:i], g.connOrder[i+1:]...)
			break
		}
	}
}

// Connection returns the connection with the given id.
func (g *Graph) Connection(id string) (*Connection, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.conns[id]
	return c, ok
}

// Connections returns every connection in creation order.
func (g *Graph) Connections() []*Connection {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Connection(nil), g.connOrder...)
}

// LockRun marks the graph as executing: structural mutations are rejected
// until the returned release function runs, and pack accessors resolve
// through the given source. A second LockRun before release fails.
func (g *Graph) LockRun(source PackSource) (release func(), err error) {
	if !g.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("a run is already in flight")
	}
	g.mu.Lock()
	g.packSource = source
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		g.packSource = nil
		g.mu.Unlock()
		g.running.Store(false)
	}, nil
}

// Running reports whether a run currently holds the graph.
func (g *Graph) Running() bool {
	return g.running.Load()
}

// ResetRunState clears every pin's Packs and every node's details. The
// engine calls this at run start so stale results never leak into pack
// accessors.
func (g *Graph) ResetRunState() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.order {
		n.ClearPacks()
		n.ClearDetails()
	}
}

func (g *Graph) mutableLocked(op string) *ValidationError {
	if g.running.Load() {
		return rejectf(op, "the graph is locked by a run in flight")
	}
	return nil
}

func (g *Graph) emitAll(events []Event) {
	for _, ev := range events {
		g.Emit(ev)
	}
}
