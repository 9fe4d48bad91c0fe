package nn

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/tensorgrid/tensorgrid/internal/kind"
	"github.com/tensorgrid/tensorgrid/internal/pack"
)

// linear is the nn.linear compute. The weight matrix and bias vector are
// built lazily on first use and kept for the node's lifetime, so repeated
// runs see the same layer. Changing the feature counts or the seed
// re-initializes.
type linear struct {
	in, out int
	seed    int
	w       []float64 // out rows of in columns
	b       []float64
}

func (l *linear) Forward(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
	in, err := call.Int("in_features")
	if err != nil {
		return nil, err
	}
	out, err := call.Int("out_features")
	if err != nil {
		return nil, err
	}
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("feature counts must be positive, got %d in and %d out", in, out)
	}
	withBias, err := call.Bool("bias")
	if err != nil {
		return nil, err
	}
	seed, err := call.Int("seed")
	if err != nil {
		return nil, err
	}
	l.ensure(in, out, seed)

	var outputs []pack.Pack
	for _, p := range call.Inputs["input"] {
		mapped, err := l.apply(p, withBias)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, mapped)
	}
	return map[string][]pack.Pack{"output": outputs}, nil
}

// ensure builds the layer weights once per (in, out, seed) triple. Values
// follow the usual uniform [-k, k) with k = 1/sqrt(in).
func (l *linear) ensure(in, out, seed int) {
	if l.w != nil && l.in == in && l.out == out && l.seed == seed {
		return
	}
	rng := rand.New(rand.NewSource(int64(seed)))
	k := 1 / math.Sqrt(float64(in))
	l.w = make([]float64, out*in)
	for i := range l.w {
		l.w[i] = (rng.Float64()*2 - 1) * k
	}
	l.b = make([]float64, out)
	for i := range l.b {
		l.b[i] = (rng.Float64()*2 - 1) * k
	}
	l.in, l.out, l.seed = in, out, seed
}

// apply runs the forward pass over one pack. The trailing shape dimension
// is the feature axis; leading dimensions are treated as batch rows.
func (l *linear) apply(p pack.Pack, withBias bool) (pack.Pack, error) {
	shape := p.Shape()
	features := 1
	if len(shape) > 0 {
		features = shape[len(shape)-1]
	}
	if features != l.in {
		return nil, fmt.Errorf("input carries %d features, the layer expects %d", features, l.in)
	}
	rows := 1
	if features > 0 {
		rows = p.Len() / features
	}

	data := make([]float64, rows*l.out)
	for r := 0; r < rows; r++ {
		for o := 0; o < l.out; o++ {
			sum := 0.0
			for i := 0; i < l.in; i++ {
				v, err := p.Value(r*l.in + i)
				if err != nil {
					return nil, err
				}
				sum += l.w[o*l.in+i] * v
			}
			if withBias {
				sum += l.b[o]
			}
			data[r*l.out+o] = sum
		}
	}

	outShape := append([]int(nil), shape...)
	if len(outShape) == 0 {
		outShape = []int{l.out}
	} else {
		outShape[len(outShape)-1] = l.out
	}
	return pack.NewTensor(deviceOf(p), data, outShape, p.Metadata())
}

// deviceOf keeps tensor outputs on the device their input came from.
func deviceOf(p pack.Pack) string {
	if t, ok := p.(*pack.TensorPack); ok {
		return t.Device()
	}
	return ""
}
