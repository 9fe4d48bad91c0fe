// Package nn provides the toy neural building blocks: a dense layer and
// the elementwise activations. Forward passes run over float64 tensor
// packs; weights are initialized deterministically from a seed parameter
// and live as long as the node does.
package nn

import (
	_ "embed"

	"github.com/tensorgrid/tensorgrid/internal/kind"
)

//go:embed manifest.hcl
var manifest []byte

// Module registers the nn kinds.
type Module struct{}

func (Module) Register(r *kind.Registry) {
	r.MustDefine("nn.hcl", manifest)
	r.RegisterCompute("nn.linear", func() kind.Compute { return &linear{} })
	r.RegisterCompute("nn.relu", activation(relu))
	r.RegisterCompute("nn.sigmoid", activation(sigmoid))
	r.RegisterCompute("nn.tanh", activation(tanh))
}
