package engine

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/tensorgrid/tensorgrid/internal/graph"
	"github.com/tensorgrid/tensorgrid/internal/kind"
	"github.com/tensorgrid/tensorgrid/internal/pack"
)

// routeInputs pulls each input pin's Packs from the output pins feeding
// it, in connection order, and leaves them on the pin for inspection. A
// mandatory pin with nothing to consume fails the node before its compute
// runs.
func routeInputs(n *graph.Node) (map[string][]pack.Pack, error) {
	inputs := make(map[string][]pack.Pack, len(n.Inputs()))
	for _, in := range n.Inputs() {
		var packs []pack.Pack
		for _, c := range in.Connections() {
			packs = append(packs, c.Source().Packs()...)
		}
		if len(packs) == 0 && in.Required() {
			return nil, &MissingPackError{Node: n.Path().String(), Pin: in.Name()}
		}
		in.SetPacks(packs)
		inputs[in.Name()] = packs
	}
	return inputs, nil
}

// collectParams flattens the node's evaluated parameter values. Evaluation
// is forced here, so a lazily dirty formula fails the node instead of
// feeding it a stale value.
func collectParams(g *graph.Graph, n *graph.Node) (map[string]cty.Value, error) {
	params := n.Params()
	values := make(map[string]cty.Value, params.Len())
	for _, name := range params.Names() {
		p, ok := params.Get(name)
		if !ok || p.IsFolder() {
			continue
		}
		v, err := g.ParamValue(n.Path(), name)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		values[name] = v
	}
	return values, nil
}

// applyOutputs stores the produced Packs on the node's output pins. Every
// declared output is set, so a pin the compute skipped reads as empty. A
// key naming no declared output fails the node.
func applyOutputs(n *graph.Node, produced map[string][]pack.Pack) error {
	for name := range produced {
		if _, ok := n.Output(name); !ok {
			return fmt.Errorf("compute produced packs for unknown output %q", name)
		}
	}
	for _, out := range n.Outputs() {
		out.SetPacks(produced[out.Name()])
	}
	return nil
}

// executeNode drives one node through a single pass: inputs routed, params
// flattened, compute called, outputs applied.
func (e *Engine) executeNode(ctx context.Context, n *graph.Node, iteration, total int) error {
	inputs, err := routeInputs(n)
	if err != nil {
		return err
	}
	values, err := collectParams(e.g, n)
	if err != nil {
		return err
	}
	compute, ok := n.Compute().(kind.Compute)
	if !ok {
		return fmt.Errorf("kind %q has no compute bound", n.Kind())
	}
	produced, err := compute.Forward(ctx, &kind.Call{
		Node:      n.Path().String(),
		Kind:      n.Kind(),
		Params:    values,
		Inputs:    inputs,
		Iteration: iteration,
		Total:     total,
		SetDetail: n.SetDetail,
	})
	if err != nil {
		return err
	}
	return applyOutputs(n, produced)
}
