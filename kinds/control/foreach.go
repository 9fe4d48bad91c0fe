package control

import (
	"context"
	"fmt"

	"github.com/tensorgrid/tensorgrid/internal/kind"
	"github.com/tensorgrid/tensorgrid/internal/pack"
)

func begin(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
	return map[string][]pack.Pack{
		"output":     append([]pack.Pack(nil), call.Inputs["input"]...),
		"end_signal": nil,
	}, nil
}

func iterationData(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
	return map[string][]pack.Pack{
		"current": {pack.NewScalar(float64(call.Iteration))},
		"total":   {pack.NewScalar(float64(call.Total))},
		"output":  append([]pack.Pack(nil), call.Inputs["input"]...),
	}, nil
}

// collector is the control.foreach_end compute. It accumulates every pack
// arriving on its input across the run and emits the aggregate on every
// pass, so a run that fails mid-loop still leaves the earlier iterations
// readable.
type collector struct {
	collected []pack.Pack
}

func (c *collector) Reset() { c.collected = nil }

func (c *collector) Forward(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
	c.collected = append(c.collected, call.Inputs["input"]...)

	mode, err := call.String("collect_mode")
	if err != nil {
		return nil, err
	}
	switch mode {
	case "", "list":
		return map[string][]pack.Pack{"output": append([]pack.Pack(nil), c.collected...)}, nil
	case "concat":
		p, err := concat(c.collected)
		if err != nil {
			return nil, err
		}
		return map[string][]pack.Pack{"output": {p}}, nil
	case "stack":
		p, err := stack(c.collected)
		if err != nil {
			return nil, err
		}
		return map[string][]pack.Pack{"output": {p}}, nil
	default:
		return nil, fmt.Errorf("unknown collect mode %q", mode)
	}
}

// concat flattens the collected packs into one vector.
func concat(packs []pack.Pack) (pack.Pack, error) {
	var data []float64
	for _, p := range packs {
		for i := 0; i < p.Len(); i++ {
			v, err := p.Value(i)
			if err != nil {
				return nil, err
			}
			data = append(data, v)
		}
	}
	return buildLike(packs, data, []int{len(data)})
}

// stack joins the collected packs along a new leading axis. Every pack
// must share one shape.
func stack(packs []pack.Pack) (pack.Pack, error) {
	if len(packs) == 0 {
		return buildLike(packs, nil, []int{0})
	}
	elem := packs[0].Shape()
	var data []float64
	for _, p := range packs {
		if !sameShape(p.Shape(), elem) {
			return nil, fmt.Errorf("cannot stack shape %v onto %v", p.Shape(), elem)
		}
		for i := 0; i < p.Len(); i++ {
			v, err := p.Value(i)
			if err != nil {
				return nil, err
			}
			data = append(data, v)
		}
	}
	return buildLike(packs, data, append([]int{len(packs)}, elem...))
}

// buildLike constructs the aggregate in the variant of the first collected
// pack, defaulting to a tensor when nothing was collected.
func buildLike(packs []pack.Pack, data []float64, shape []int) (pack.Pack, error) {
	if len(packs) > 0 {
		if _, ok := packs[0].(*pack.NumericArrayPack); ok {
			return pack.NewNumericArray(data, shape, nil)
		}
		if t, ok := packs[0].(*pack.TensorPack); ok {
			return pack.NewTensor(t.Device(), data, shape, nil)
		}
	}
	return pack.NewTensor("", data, shape, nil)
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
