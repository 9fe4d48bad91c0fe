// Package train provides the optimization kinds: the mean squared error
// loss, a gradient descent step and checkpoint persistence. Checkpoints
// are single-tensor JSON files; save keeps either the best file seen or
// a bounded history of timestamped ones.
package train

import (
	_ "embed"
	"time"

	"github.com/tensorgrid/tensorgrid/internal/kind"
)

//go:embed manifest.hcl
var manifest []byte

// Module registers the train kinds.
type Module struct{}

func (Module) Register(r *kind.Registry) {
	r.MustDefine("train.hcl", manifest)
	r.RegisterCompute("train.mse_loss", func() kind.Compute { return kind.ComputeFunc(mseLoss) })
	r.RegisterCompute("train.sgd", func() kind.Compute { return &sgd{} })
	r.RegisterCompute("train.checkpoint_save", func() kind.Compute {
		return &checkpointSave{now: time.Now}
	})
	r.RegisterCompute("train.checkpoint_load", func() kind.Compute { return kind.ComputeFunc(checkpointLoad) })
}
