package train

import (
	"context"
	"fmt"

	"github.com/tensorgrid/tensorgrid/internal/kind"
	"github.com/tensorgrid/tensorgrid/internal/pack"
)

// sgd applies one gradient descent step, p' = p - lr * v with
// v = momentum * v + g. The velocity buffer lives for the node's
// lifetime and is cleared between runs, so loop iterations within a run
// accumulate momentum while separate runs start cold.
type sgd struct {
	velocity []float64
}

func (s *sgd) Reset() { s.velocity = nil }

func (s *sgd) Forward(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
	params, err := single(call, "parameters")
	if err != nil {
		return nil, err
	}
	grads, err := single(call, "gradients")
	if err != nil {
		return nil, err
	}
	if params.Len() != grads.Len() {
		return nil, fmt.Errorf("parameters hold %d elements but gradients hold %d", params.Len(), grads.Len())
	}
	lr, err := call.Float("lr")
	if err != nil {
		return nil, err
	}
	momentum, err := call.Float("momentum")
	if err != nil {
		return nil, err
	}

	if len(s.velocity) != params.Len() {
		s.velocity = make([]float64, params.Len())
	}
	data := make([]float64, params.Len())
	for i := range data {
		p, err := params.Value(i)
		if err != nil {
			return nil, err
		}
		g, err := grads.Value(i)
		if err != nil {
			return nil, err
		}
		v := momentum*s.velocity[i] + g
		s.velocity[i] = v
		data[i] = p - lr*v
	}

	out, err := pack.NewTensor(deviceOf(params), data, params.Shape(), params.Metadata())
	if err != nil {
		return nil, err
	}
	return map[string][]pack.Pack{"updated_parameters": {out}}, nil
}
