package testutil

import (
	"context"
	"errors"
	"fmt"

	"github.com/tensorgrid/tensorgrid/internal/kind"
	"github.com/tensorgrid/tensorgrid/internal/pack"
)

// testManifest declares the deterministic kinds tests build graphs from:
// a scalar source, a pass-through, a mandatory-input sink and a kind that
// always fails.
const testManifest = `
kind "test.emit" {
  description = "Emits one scalar pack holding the value parameter."
  category    = "test"

  output "out" {
    kind    = tensor
    variant = produce
  }

  param "value" {
    type    = float
    default = 1
    label   = "Value"
  }
}

kind "test.pass" {
  description = "Re-emits every arriving pack unchanged."
  category    = "test"

  input "in" {
    kind      = any
    mandatory = true
  }

  output "out" {
    kind    = any
    variant = preserve
  }
}

kind "test.sink" {
  description = "Consumes its mandatory input and produces nothing."
  category    = "test"

  input "in" {
    kind      = any
    mandatory = true
  }
}

kind "test.fail" {
  description = "Fails every forward pass."
  category    = "test"

  input "in" {
    kind      = any
    mandatory = false
  }
}
`

// ErrForcedFailure is what the test.fail kind returns from every pass.
var ErrForcedFailure = errors.New("forced failure")

// Module registers the test kinds.
type Module struct{}

// Register wires the test manifest and its compute handlers.
func (Module) Register(r *kind.Registry) {
	r.MustDefine("testutil.hcl", []byte(testManifest))
	r.RegisterCompute("test.emit", func() kind.Compute { return kind.ComputeFunc(emit) })
	r.RegisterCompute("test.pass", func() kind.Compute { return kind.ComputeFunc(passThrough) })
	r.RegisterCompute("test.sink", func() kind.Compute { return kind.ComputeFunc(sink) })
	r.RegisterCompute("test.fail", func() kind.Compute { return kind.ComputeFunc(fail) })
}

func emit(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
	v, err := call.Float("value")
	if err != nil {
		return nil, err
	}
	p, err := pack.NewTensor("", []float64{v}, []int{1}, nil)
	if err != nil {
		return nil, err
	}
	return map[string][]pack.Pack{"out": {p}}, nil
}

func passThrough(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
	return map[string][]pack.Pack{"out": call.Inputs["in"]}, nil
}

func sink(_ context.Context, _ *kind.Call) (map[string][]pack.Pack, error) {
	return nil, nil
}

func fail(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
	return nil, fmt.Errorf("%w at node %s", ErrForcedFailure, call.Node)
}
