package pack

import (
	"fmt"
)

// Kind is the variant tag of a pack.
type Kind int

const (
	// NumericArray is a raw numeric buffer with shape and metadata, used for
	// labels, indices, and small measurement payloads.
	NumericArray Kind = iota
	// Tensor is a device-tagged n-dimensional buffer produced and consumed
	// by the compute layer.
	Tensor
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case NumericArray:
		return "numeric_array"
	case Tensor:
		return "tensor"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Pack is an immutable payload flowing between pins. Implementations copy
// on construction and on every accessor, so a held Pack can never observe
// later writes to the slices it was built from.
type Pack interface {
	// Kind returns the variant tag.
	Kind() Kind
	// Shape returns a copy of the dimensional shape. An empty shape is a
	// scalar holding exactly one element.
	Shape() []int
	// Len returns the number of elements in the buffer.
	Len() int
	// Value returns the element at the given flat index.
	Value(index int) (float64, error)
	// Metadata returns a copy of the string metadata map.
	Metadata() map[string]string
}

// NumericArrayPack is the NumericArray variant.
type NumericArrayPack struct {
	data  []float64
	shape []int
	meta  map[string]string
}

// NewNumericArray builds a NumericArray pack. The element count must match
// the shape's volume.
func NewNumericArray(data []float64, shape []int, meta map[string]string) (*NumericArrayPack, error) {
	if err := checkShape(data, shape); err != nil {
		return nil, err
	}
	return &NumericArrayPack{
		data:  append([]float64(nil), data...),
		shape: append([]int(nil), shape...),
		meta:  copyMeta(meta),
	}, nil
}

// NewScalar builds a one-element NumericArray pack, the shape used for
// loop indices and counters.
func NewScalar(v float64) *NumericArrayPack {
	return &NumericArrayPack{data: []float64{v}, shape: []int{1}}
}

func (p *NumericArrayPack) Kind() Kind                  { return NumericArray }
func (p *NumericArrayPack) Shape() []int                { return append([]int(nil), p.shape...) }
func (p *NumericArrayPack) Len() int                    { return len(p.data) }
func (p *NumericArrayPack) Metadata() map[string]string { return copyMeta(p.meta) }

// Value returns the element at the given flat index.
func (p *NumericArrayPack) Value(index int) (float64, error) {
	if index < 0 || index >= len(p.data) {
		return 0, fmt.Errorf("index %d out of range for pack of %d elements", index, len(p.data))
	}
	return p.data[index], nil
}

// Data returns a copy of the underlying buffer.
func (p *NumericArrayPack) Data() []float64 {
	return append([]float64(nil), p.data...)
}

// TensorPack is the Tensor variant.
type TensorPack struct {
	device string
	data   []float64
	shape  []int
	meta   map[string]string
}

// NewTensor builds a Tensor pack on the named device. An empty device
// defaults to "cpu".
func NewTensor(device string, data []float64, shape []int, meta map[string]string) (*TensorPack, error) {
	if err := checkShape(data, shape); err != nil {
		return nil, err
	}
	if device == "" {
		device = "cpu"
	}
	return &TensorPack{
		device: device,
		data:   append([]float64(nil), data...),
		shape:  append([]int(nil), shape...),
		meta:   copyMeta(meta),
	}, nil
}

func (p *TensorPack) Kind() Kind                  { return Tensor }
func (p *TensorPack) Shape() []int                { return append([]int(nil), p.shape...) }
func (p *TensorPack) Len() int                    { return len(p.data) }
func (p *TensorPack) Metadata() map[string]string { return copyMeta(p.meta) }

// Device returns the device tag, e.g. "cpu".
func (p *TensorPack) Device() string { return p.device }

// Value returns the element at the given flat index.
func (p *TensorPack) Value(index int) (float64, error) {
	if index < 0 || index >= len(p.data) {
		return 0, fmt.Errorf("index %d out of range for pack of %d elements", index, len(p.data))
	}
	return p.data[index], nil
}

// Data returns a copy of the underlying buffer.
func (p *TensorPack) Data() []float64 {
	return append([]float64(nil), p.data...)
}

func checkShape(data []float64, shape []int) error {
	volume := 1
	for _, dim := range shape {
		if dim < 0 {
			return fmt.Errorf("negative dimension %d in shape %v", dim, shape)
		}
		volume *= dim
	}
	if volume != len(data) {
		return fmt.Errorf("shape %v holds %d elements but buffer has %d", shape, volume, len(data))
	}
	return nil
}

func copyMeta(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
