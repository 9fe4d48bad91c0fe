package graph

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/tensorgrid/tensorgrid/internal/nodepath"
)

// Position is a node's location on the editor canvas. The core never
// interprets it; it only round-trips through the document.
type Position struct {
	X float64
	Y float64
}

// Spec declares the structure of a node: its kind tag and the pins and
// parameters every node of that kind starts with. Kind registries build
// these; the graph only consumes them.
type Spec struct {
	Kind    string
	Inputs  []PinDecl
	Outputs []PinDecl
	Params  []ParamDecl
}

// Node is one vertex of the graph. Its kind tag and path are fixed at
// creation; everything else mutates through the owning Graph so that
// validation and change notification stay in one place.
type Node struct {
	id   string
	kind string
	path nodepath.Path
	seq  int

	inputs  []*Pin
	outputs []*Pin
	params  *ParamSet

	details map[string]cty.Value
	compute any
	pos     Position
}

func newNode(id string, path nodepath.Path, spec Spec) (*Node, error) {
	n := &Node{
		id:      id,
		kind:    spec.Kind,
		path:    path,
		params:  NewParamSet(),
		details: make(map[string]cty.Value),
	}
	seen := make(map[string]bool)
	for _, d := range spec.Inputs {
		if !nodepath.ValidSegment(d.Name) {
			return nil, fmt.Errorf("invalid pin name %q", d.Name)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate pin name %q", d.Name)
		}
		seen[d.Name] = true
		n.inputs = append(n.inputs, &Pin{
			name:      d.Name,
			direction: DirInput,
			kind:      d.Kind,
			required:  d.Required,
			owner:     n,
		})
	}
	for _, d := range spec.Outputs {
		if !nodepath.ValidSegment(d.Name) {
			return nil, fmt.Errorf("invalid pin name %q", d.Name)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate pin name %q", d.Name)
		}
		seen[d.Name] = true
		n.outputs = append(n.outputs, &Pin{
			name:      d.Name,
			direction: DirOutput,
			kind:      d.Kind,
			owner:     n,
		})
	}
	for _, d := range spec.Params {
		if _, err := n.params.Declare(d); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Validate smoke-checks the declaration set without touching any graph:
// pin names must be unique valid segments and every parameter must declare
// cleanly, defaults and guards included.
func (s Spec) Validate() error {
	_, err := newNode("", nodepath.Root(), s)
	return err
}

func (n *Node) ID() string {
	return n.id
}

// Kind returns the immutable kind tag the node was created with.
func (n *Node) Kind() string {
	return n.kind
}

func (n *Node) Path() nodepath.Path {
	return n.path
}

// Name returns the final path segment.
func (n *Node) Name() string {
	return n.path.Name()
}

// Seq is the node's graph-insertion sequence number. Scheduling ties break
// on it.
func (n *Node) Seq() int {
	return n.seq
}

// Inputs returns the node's input pins in declaration order.
func (n *Node) Inputs() []*Pin {
	return append([]*Pin(nil), n.inputs...)
}

// Outputs returns the node's output pins in declaration order.
func (n *Node) Outputs() []*Pin {
	return append([]*Pin(nil), n.outputs...)
}

// Input returns the named input pin.
func (n *Node) Input(name string) (*Pin, bool) {
	for _, p := range n.inputs {
		if p.name == name {
			return p, true
		}
	}
	return nil, false
}

// Output returns the named output pin.
func (n *Node) Output(name string) (*Pin, bool) {
	for _, p := range n.outputs {
		if p.name == name {
			return p, true
		}
	}
	return nil, false
}

// Params returns the node's parameter set. Set values and formulas through
// the Graph, which owns dependency tracking, not directly.
func (n *Node) Params() *ParamSet {
	return n.params
}

func (n *Node) Position() Position {
	return n.pos
}

func (n *Node) SetPosition(pos Position) {
	n.pos = pos
}

// Compute returns the opaque compute-layer instance bound to this node.
// The core never inspects it.
func (n *Node) Compute() any {
	return n.compute
}

// BindCompute attaches the compute-layer instance. The binder owns its
// lifecycle.
func (n *Node) BindCompute(handle any) {
	n.compute = handle
}

// Detail reads one entry of the node's detail table, which compute
// primitives populate during a run (e.g. a loss scalar) and formulas read
// through get-node-detail.
func (n *Node) Detail(key string) (cty.Value, bool) {
	v, ok := n.details[key]
	return v, ok
}

// SetDetail writes one detail entry.
func (n *Node) SetDetail(key string, v cty.Value) {
	n.details[key] = v
}

// Details returns a copy of the detail table.
func (n *Node) Details() map[string]cty.Value {
	out := make(map[string]cty.Value, len(n.details))
	for k, v := range n.details {
		out[k] = v
	}
	return out
}

// ClearDetails empties the detail table. The engine does this at run start.
func (n *Node) ClearDetails() {
	n.details = make(map[string]cty.Value)
}

// ClearPacks drops the execution-scoped Packs of every pin.
func (n *Node) ClearPacks() {
	for _, p := range n.inputs {
		p.ClearPacks()
	}
	for _, p := range n.outputs {
		p.ClearPacks()
	}
}

func (n *Node) pins() []*Pin {
	pins := make([]*Pin, 0, len(n.inputs)+len(n.outputs))
	pins = append(pins, n.inputs...)
	pins = append(pins, n.outputs...)
	return pins
}
