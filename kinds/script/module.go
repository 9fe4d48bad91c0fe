// Package script provides the Lua compute kind. Each forward pass runs
// the node's source in a fresh sandboxed interpreter, so scripts cannot
// leak globals into each other or reach the host beyond the packs they
// are handed.
package script

import (
	_ "embed"

	"github.com/tensorgrid/tensorgrid/internal/kind"
)

//go:embed manifest.hcl
var manifest []byte

// Module registers the script kinds.
type Module struct{}

func (Module) Register(r *kind.Registry) {
	r.MustDefine("script.hcl", manifest)
	r.RegisterCompute("script.lua", func() kind.Compute { return kind.ComputeFunc(runLua) })
}
