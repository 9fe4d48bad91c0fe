package kind

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/tensorgrid/tensorgrid/internal/graph"
	"github.com/tensorgrid/tensorgrid/internal/pack"
)

// VariantPolicy declares what an output pin emits relative to the Pack
// variants feeding the node.
type VariantPolicy int

const (
	// VariantPreserve outputs re-emit the variant of the Packs they were
	// derived from.
	VariantPreserve VariantPolicy = iota
	// VariantProduce outputs emit a fixed variant regardless of inputs.
	VariantProduce
)

func (v VariantPolicy) String() string {
	switch v {
	case VariantPreserve:
		return "preserve"
	case VariantProduce:
		return "produce"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// PinManifest is one pin declared by a kind manifest. Mandatory applies to
// inputs, Variant to outputs.
type PinManifest struct {
	Name      string
	Kind      graph.PinKind
	Mandatory bool
	Variant   VariantPolicy
}

// ParamManifest is one parameter declared by a kind manifest.
type ParamManifest struct {
	Name      string
	Label     string
	Type      graph.ParamType
	Category  string
	Default   cty.Value
	Folder    string
	VisibleIf string
	EnabledIf string
}

// Definition is one fully parsed kind manifest.
type Definition struct {
	Tag         string
	Description string
	Category    string
	Inputs      []PinManifest
	Outputs     []PinManifest
	Params      []ParamManifest
}

// Input returns the declared input pin by name.
func (d *Definition) Input(name string) (*PinManifest, bool) {
	for i := range d.Inputs {
		if d.Inputs[i].Name == name {
			return &d.Inputs[i], true
		}
	}
	return nil, false
}

// Output returns the declared output pin by name.
func (d *Definition) Output(name string) (*PinManifest, bool) {
	for i := range d.Outputs {
		if d.Outputs[i].Name == name {
			return &d.Outputs[i], true
		}
	}
	return nil, false
}

// Spec converts the manifest into the graph-facing node declaration.
func (d *Definition) Spec() graph.Spec {
	spec := graph.Spec{Kind: d.Tag}
	for _, p := range d.Inputs {
		spec.Inputs = append(spec.Inputs, graph.PinDecl{
			Name:     p.Name,
			Kind:     p.Kind,
			Required: p.Mandatory,
		})
	}
	for _, p := range d.Outputs {
		spec.Outputs = append(spec.Outputs, graph.PinDecl{
			Name: p.Name,
			Kind: p.Kind,
		})
	}
	for _, p := range d.Params {
		spec.Params = append(spec.Params, graph.ParamDecl{
			Name:      p.Name,
			Label:     p.Label,
			Type:      p.Type,
			Category:  p.Category,
			Default:   p.Default,
			Folder:    p.Folder,
			VisibleIf: p.VisibleIf,
			EnabledIf: p.EnabledIf,
		})
	}
	return spec
}

// Call carries everything one node execution may read. The core hands it to
// the compute primitive and never inspects payloads itself.
type Call struct {
	// Node is the executing node's path.
	Node string
	// Kind is the node's kind tag.
	Kind string
	// Params is the flattened parameter view, formulas already evaluated.
	Params map[string]cty.Value
	// Inputs holds the Packs collected per input pin, in connection order.
	Inputs map[string][]pack.Pack
	// Iteration and Total describe the enclosing ForEach pass. Outside a
	// loop Iteration is -1 and Total is 0.
	Iteration int
	Total     int
	// SetDetail publishes a named value on the node, readable through
	// get-node-detail and the inspection surface. May be nil.
	SetDetail func(key string, v cty.Value)
}

// Detail publishes a detail value, tolerating a nil sink.
func (c *Call) Detail(key string, v cty.Value) {
	if c.SetDetail != nil {
		c.SetDetail(key, v)
	}
}

// Param returns a parameter value from the flattened view.
func (c *Call) Param(name string) (cty.Value, error) {
	v, ok := c.Params[name]
	if !ok {
		return cty.NilVal, fmt.Errorf("node %s has no parameter %q", c.Node, name)
	}
	return v, nil
}

// Float reads a numeric parameter as float64.
func (c *Call) Float(name string) (float64, error) {
	v, err := c.Param(name)
	if err != nil {
		return 0, err
	}
	if v.IsNull() || !v.Type().Equals(cty.Number) {
		return 0, fmt.Errorf("parameter %q of %s is not a number", name, c.Node)
	}
	f, _ := v.AsBigFloat().Float64()
	return f, nil
}

// Int reads a numeric parameter as int.
func (c *Call) Int(name string) (int, error) {
	f, err := c.Float(name)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// String reads a string parameter.
func (c *Call) String(name string) (string, error) {
	v, err := c.Param(name)
	if err != nil {
		return "", err
	}
	if v.IsNull() || !v.Type().Equals(cty.String) {
		return "", fmt.Errorf("parameter %q of %s is not a string", name, c.Node)
	}
	return v.AsString(), nil
}

// Bool reads a boolean parameter.
func (c *Call) Bool(name string) (bool, error) {
	v, err := c.Param(name)
	if err != nil {
		return false, err
	}
	if v.IsNull() || !v.Type().Equals(cty.Bool) {
		return false, fmt.Errorf("parameter %q of %s is not a bool", name, c.Node)
	}
	return v.True(), nil
}

// Compute is the opaque compute primitive behind one node occurrence.
// Forward reads input Packs and returns output Packs keyed by output pin
// name. Instances live for the node's lifetime, so a kind may keep state
// across loop iterations within a run.
type Compute interface {
	Forward(ctx context.Context, call *Call) (map[string][]pack.Pack, error)
}

// Resettable computes carry per-run state; the engine resets them when a
// run starts.
type Resettable interface {
	Reset()
}

// Construct builds one compute instance for one node occurrence.
type Construct func() Compute

// ComputeFunc adapts a function to the Compute interface for stateless
// kinds.
type ComputeFunc func(ctx context.Context, call *Call) (map[string][]pack.Pack, error)

func (f ComputeFunc) Forward(ctx context.Context, call *Call) (map[string][]pack.Pack, error) {
	return f(ctx, call)
}
