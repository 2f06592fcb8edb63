package vocoder

import (
	"math/rand"

	"github.com/example/go-wavenet-vocoder/internal/runtime/autodiff"
	"github.com/example/go-wavenet-vocoder/internal/runtime/tensor"
)

// randnParam creates a trainable tensor with N(0, std^2) entries.
func randnParam(rng *rand.Rand, shape []int64, std float64) *autodiff.Var {
	t, err := tensor.Zeros(shape)
	if err != nil {
		// Shapes are derived from a validated Config; a failure here is a bug.
		panic(err)
	}

	data := t.RawData()
	for i := range data {
		data[i] = float32(rng.NormFloat64() * std)
	}

	return autodiff.NewParam(t)
}

// constParam creates a trainable tensor filled with a constant.
func constParam(shape []int64, v float32) *autodiff.Var {
	t, err := tensor.Full(shape, v)
	if err != nil {
		panic(err)
	}

	return autodiff.NewParam(t)
}

// newResult wraps an op output computed in this package, allocating a
// gradient buffer only when a live tape will flow gradients into it.
func newResult(tape *autodiff.Tape, val *tensor.Tensor, requiresGrad bool) *autodiff.Var {
	if tape != nil && requiresGrad {
		return autodiff.NewParam(val)
	}

	return autodiff.NewVar(val)
}
