package app

import (
	"github.com/tensorgrid/tensorgrid/internal/kind"
	"github.com/tensorgrid/tensorgrid/kinds/control"
	"github.com/tensorgrid/tensorgrid/kinds/data"
	"github.com/tensorgrid/tensorgrid/kinds/nn"
	"github.com/tensorgrid/tensorgrid/kinds/probe"
	"github.com/tensorgrid/tensorgrid/kinds/script"
	"github.com/tensorgrid/tensorgrid/kinds/train"
)

// coreModules is the definitive list of all node-kind families that are
// compiled into the tensorgrid binary.
var coreModules = []kind.Module{
	nn.Module{},
	data.Module{},
	control.Module{},
	train.Module{},
	script.Module{},
	probe.Module{},
}
