package graph

import "fmt"

// PinKind is the declared data kind of a pin, from a closed set. Connection
// legality between pins is decided by Compatible.
type PinKind int

const (
	PinExec PinKind = iota
	PinTensor
	PinInt
	PinFloat
	PinString
	PinBool
	PinAny
	PinDataset
	PinOptimizer
	PinLoss
)

var pinKindNames = map[PinKind]string{
	PinExec:      "exec",
	PinTensor:    "tensor",
	PinInt:       "int",
	PinFloat:     "float",
	PinString:    "string",
	PinBool:      "bool",
	PinAny:       "any",
	PinDataset:   "dataset",
	PinOptimizer: "optimizer",
	PinLoss:      "loss",
}

func (k PinKind) String() string {
	if name, ok := pinKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("pinkind(%d)", int(k))
}

// ParsePinKind maps a serialized kind name back to its PinKind.
func ParsePinKind(name string) (PinKind, error) {
	for k, n := range pinKindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown pin kind %q", name)
}

// Compatible reports whether data flowing from an output of kind k may enter
// an input of kind other. Exec pins only pair with Exec; Any pairs with any
// non-Exec kind; Int and Float convert into each other; everything else
// requires an exact match.
func (k PinKind) Compatible(other PinKind) bool {
	if k == other {
		return true
	}
	if k == PinExec || other == PinExec {
		return false
	}
	if k == PinAny || other == PinAny {
		return true
	}
	if (k == PinInt && other == PinFloat) || (k == PinFloat && other == PinInt) {
		return true
	}
	return false
}
