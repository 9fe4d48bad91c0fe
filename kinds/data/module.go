// Package data provides the pack producers: constant and random tensor
// sources plus an HTTP dataset source that downloads numeric CSV payloads
// through a shared, cached client.
package data

import (
	_ "embed"

	"github.com/tensorgrid/tensorgrid/internal/kind"
)

//go:embed manifest.hcl
var manifest []byte

// Module registers the data kinds.
type Module struct{}

func (Module) Register(r *kind.Registry) {
	r.MustDefine("data.hcl", manifest)
	r.RegisterCompute("data.constant", func() kind.Compute { return kind.ComputeFunc(constant) })
	r.RegisterCompute("data.random", func() kind.Compute { return kind.ComputeFunc(random) })
	r.RegisterCompute("data.http_source", func() kind.Compute { return kind.ComputeFunc(httpSource) })
}
