package data

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/tensorgrid/tensorgrid/internal/kind"
	"github.com/tensorgrid/tensorgrid/internal/pack"
)

func constant(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
	value, err := call.Float("value")
	if err != nil {
		return nil, err
	}
	shape, err := shapeParam(call)
	if err != nil {
		return nil, err
	}
	data := make([]float64, volume(shape))
	for i := range data {
		data[i] = value
	}
	p, err := pack.NewTensor("", data, shape, nil)
	if err != nil {
		return nil, err
	}
	return map[string][]pack.Pack{"out": {p}}, nil
}

func random(_ context.Context, call *kind.Call) (map[string][]pack.Pack, error) {
	shape, err := shapeParam(call)
	if err != nil {
		return nil, err
	}
	seed, err := call.Int("seed")
	if err != nil {
		return nil, err
	}
	lo, err := call.Float("min")
	if err != nil {
		return nil, err
	}
	hi, err := call.Float("max")
	if err != nil {
		return nil, err
	}
	if lo > hi {
		return nil, fmt.Errorf("min %v lies above max %v", lo, hi)
	}

	// Reproducible per seed, fresh per loop iteration.
	stream := int64(seed)
	if call.Iteration >= 0 {
		stream = stream*31 + int64(call.Iteration) + 1
	}
	rng := rand.New(rand.NewSource(stream))

	data := make([]float64, volume(shape))
	for i := range data {
		data[i] = lo + rng.Float64()*(hi-lo)
	}
	p, err := pack.NewTensor("", data, shape, nil)
	if err != nil {
		return nil, err
	}
	return map[string][]pack.Pack{"out": {p}}, nil
}

// shapeParam parses the "shape" parameter, a comma-separated dimension
// list such as "32,10".
func shapeParam(call *kind.Call) ([]int, error) {
	raw, err := call.String("shape")
	if err != nil {
		return nil, err
	}
	return parseShape(raw)
}

func parseShape(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []int{1}, nil
	}
	parts := strings.Split(raw, ",")
	shape := make([]int, 0, len(parts))
	for _, part := range parts {
		dim, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || dim <= 0 {
			return nil, fmt.Errorf("shape %q: dimension %q is not a positive integer", raw, strings.TrimSpace(part))
		}
		shape = append(shape, dim)
	}
	return shape, nil
}

func volume(shape []int) int {
	v := 1
	for _, dim := range shape {
		v *= dim
	}
	return v
}
