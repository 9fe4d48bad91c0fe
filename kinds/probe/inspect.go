package probe

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/tensorgrid/tensorgrid/internal/ctxlog"
	"github.com/tensorgrid/tensorgrid/internal/kind"
	"github.com/tensorgrid/tensorgrid/internal/pack"
)

// inspect logs one line per arriving pack. The head field carries at
// most the first four elements.
func inspect(ctx context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
	logger := ctxlog.FromContext(ctx)
	label, err := call.String("label")
	if err != nil {
		return nil, err
	}
	if label == "" {
		label = call.Node
	}

	packs := call.Inputs["input"]
	for i, p := range packs {
		logger.Info("Pack inspected.",
			"label", label,
			"index", i,
			"kind", p.Kind().String(),
			"shape", p.Shape(),
			"elements", p.Len(),
			"head", head(p))
	}
	call.Detail("packs", cty.NumberIntVal(int64(len(packs))))
	return nil, nil
}

func head(p pack.Pack) []float64 {
	n := p.Len()
	if n > 4 {
		n = 4
	}
	vals := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		v, err := p.Value(i)
		if err != nil {
			break
		}
		vals = append(vals, v)
	}
	return vals
}
