package graph

import (
	"fmt"

	"github.com/tensorgrid/tensorgrid/internal/pack"
)

// Direction tells whether a pin consumes or produces data.
type Direction int

const (
	DirInput Direction = iota
	DirOutput
)

func (d Direction) String() string {
	switch d {
	case DirInput:
		return "input"
	case DirOutput:
		return "output"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// PinDecl declares one pin of a node kind.
type PinDecl struct {
	Name string
	Kind PinKind
	// Required marks an input that must receive at least one Pack by the
	// time its node executes. Meaningless on outputs.
	Required bool
}

// Pin is a typed connection point owned by exactly one node. Its Pack list
// is execution-scoped: the engine fills it during a run and it survives
// afterwards only as a cache for inspection.
type Pin struct {
	name      string
	direction Direction
	kind      PinKind
	required  bool
	owner     *Node

	conns []*Connection
	packs []pack.Pack
}

func (p *Pin) Name() string {
	return p.name
}

func (p *Pin) Direction() Direction {
	return p.direction
}

func (p *Pin) Kind() PinKind {
	return p.kind
}

func (p *Pin) Required() bool {
	return p.required
}

// Node returns the pin's owner.
func (p *Pin) Node() *Node {
	return p.owner
}

// Addr returns the pin's address in `<node path>.<pin name>` form, the key
// format used for run results.
func (p *Pin) Addr() string {
	return p.owner.Path().String() + "." + p.name
}

// Connections returns the attached connections in attachment order. Input
// pins hold at most one.
func (p *Pin) Connections() []*Connection {
	return append([]*Connection(nil), p.conns...)
}

func (p *Pin) Connected() bool {
	return len(p.conns) > 0
}

// Packs returns the pin's currently-held Packs in arrival order.
func (p *Pin) Packs() []pack.Pack {
	return append([]pack.Pack(nil), p.packs...)
}

// SetPacks replaces the pin's held Packs. Called by the engine while routing
// a run; node logic never mutates a Pack, only produces new ones.
func (p *Pin) SetPacks(packs []pack.Pack) {
	p.packs = append([]pack.Pack(nil), packs...)
}

// ClearPacks drops the held Packs, returning the pin to its pre-run state.
func (p *Pin) ClearPacks() {
	p.packs = nil
}

func (p *Pin) detach(c *Connection) {
	for i, attached := range p.conns {
		if attached == c {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			return
		}
	}
}
