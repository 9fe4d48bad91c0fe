package train

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/tensorgrid/tensorgrid/internal/kind"
	"github.com/tensorgrid/tensorgrid/internal/pack"
)

// mseLoss averages the squared difference between the first predictions
// pack and the first targets pack. The mean is also published as the
// "loss" detail so formulas can read it.
func mseLoss(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
	preds, err := single(call, "predictions")
	if err != nil {
		return nil, err
	}
	targets, err := single(call, "targets")
	if err != nil {
		return nil, err
	}
	if preds.Len() != targets.Len() {
		return nil, fmt.Errorf("predictions hold %d elements but targets hold %d", preds.Len(), targets.Len())
	}
	if preds.Len() == 0 {
		return nil, fmt.Errorf("node %s cannot average a loss over zero elements", call.Node)
	}

	sum := 0.0
	for i := 0; i < preds.Len(); i++ {
		p, err := preds.Value(i)
		if err != nil {
			return nil, err
		}
		t, err := targets.Value(i)
		if err != nil {
			return nil, err
		}
		d := p - t
		sum += d * d
	}
	mean := sum / float64(preds.Len())
	call.Detail("loss", cty.NumberFloatVal(mean))

	out, err := pack.NewTensor(deviceOf(preds), []float64{mean}, []int{1}, nil)
	if err != nil {
		return nil, err
	}
	return map[string][]pack.Pack{"loss": {out}}, nil
}

// single returns the first pack on a pin.
func single(call *kind.Call, pin string) (pack.Pack, error) {
	packs := call.Inputs[pin]
	if len(packs) == 0 {
		return nil, fmt.Errorf("node %s has no pack on pin %q", call.Node, pin)
	}
	return packs[0], nil
}

// deviceOf keeps tensor outputs on the device their input came from.
func deviceOf(p pack.Pack) string {
	if t, ok := p.(*pack.TensorPack); ok {
		return t.Device()
	}
	return ""
}
