// Package probe provides the inspection sink. Wire any output into a
// probe.inspect node to see what flows through it in the run log without
// disturbing the graph.
package probe

import (
	_ "embed"

	"github.com/tensorgrid/tensorgrid/internal/kind"
)

//go:embed manifest.hcl
var manifest []byte

// Module registers the probe kinds.
type Module struct{}

func (Module) Register(r *kind.Registry) {
	r.MustDefine("probe.hcl", manifest)
	r.RegisterCompute("probe.inspect", func() kind.Compute { return kind.ComputeFunc(inspect) })
}
