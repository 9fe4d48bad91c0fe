package engine

import (
	"github.com/tensorgrid/tensorgrid/internal/pack"
)

// Result is one run's outcome. A failed run carries whatever was produced
// before the failure.
type Result struct {
	// Outputs holds the Packs left on output pins with no outgoing
	// connection, keyed `<node path>.<pin name>`. Pins that produced
	// nothing are absent.
	Outputs map[string][]pack.Pack
	// States is the final state of every node, keyed by path.
	States map[string]State
}

func (e *Engine) collectResult() *Result {
	outputs := make(map[string][]pack.Pack)
	for _, n := range e.g.Nodes() {
		for _, out := range n.Outputs() {
			if out.Connected() {
				continue
			}
			if packs := out.Packs(); len(packs) > 0 {
				outputs[out.Addr()] = packs
			}
		}
	}
	return &Result{Outputs: outputs, States: e.states.snapshot()}
}
