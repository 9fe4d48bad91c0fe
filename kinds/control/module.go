// Package control provides the ForEach loop triple. Begin opens the
// region and passes data in, Data feeds the body the current iteration
// index and bound, End holds the bound and collects the body's output
// across iterations. The engine drives the region; these kinds only move
// and accumulate packs.
package control

import (
	_ "embed"

	"github.com/tensorgrid/tensorgrid/internal/kind"
)

//go:embed manifest.hcl
var manifest []byte

// Module registers the control kinds.
type Module struct{}

func (Module) Register(r *kind.Registry) {
	r.MustDefine("control.hcl", manifest)
	r.RegisterCompute("control.foreach_begin", func() kind.Compute { return kind.ComputeFunc(begin) })
	r.RegisterCompute("control.foreach_data", func() kind.Compute { return kind.ComputeFunc(iterationData) })
	r.RegisterCompute("control.foreach_end", func() kind.Compute { return &collector{} })
}
