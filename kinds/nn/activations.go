package nn

import (
	"context"
	"math"

	"github.com/tensorgrid/tensorgrid/internal/kind"
	"github.com/tensorgrid/tensorgrid/internal/pack"
)

func relu(x float64) float64    { return math.Max(0, x) }
func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
func tanh(x float64) float64    { return math.Tanh(x) }

// activation wraps an elementwise function as a stateless compute
// constructor mapping every pack on the input pin.
func activation(f func(float64) float64) kind.Construct {
	return func() kind.Compute {
		return kind.ComputeFunc(func(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
			var outputs []pack.Pack
			for _, p := range call.Inputs["input"] {
				mapped, err := elementwise(p, f)
				if err != nil {
					return nil, err
				}
				outputs = append(outputs, mapped)
			}
			return map[string][]pack.Pack{"output": outputs}, nil
		})
	}
}

// elementwise maps f over a pack, preserving shape, metadata and variant.
func elementwise(p pack.Pack, f func(float64) float64) (pack.Pack, error) {
	data := make([]float64, p.Len())
	for i := range data {
		v, err := p.Value(i)
		if err != nil {
			return nil, err
		}
		data[i] = f(v)
	}
	if t, ok := p.(*pack.TensorPack); ok {
		return pack.NewTensor(t.Device(), data, t.Shape(), t.Metadata())
	}
	return pack.NewNumericArray(data, p.Shape(), p.Metadata())
}
