package vocoder

import (
	"math"
	"strings"
	"testing"

	"github.com/example/go-wavenet-vocoder/internal/runtime/autodiff"
	"github.com/example/go-wavenet-vocoder/internal/runtime/tensor"
)

func mustTensorT(t *testing.T, data []float32, shape []int64) *tensor.Tensor {
	t.Helper()

	tt, err := tensor.New(data, shape)
	if err != nil {
		t.Fatalf("tensor.New(%v, %v): %v", data, shape, err)
	}

	return tt
}

func mustVarT(t *testing.T, data []float32, shape []int64) *autodiff.Var {
	t.Helper()

	return autodiff.NewVar(mustTensorT(t, data, shape))
}

func autodiffVar(tt *tensor.Tensor) *autodiff.Var {
	return autodiff.NewVar(tt)
}

func equalApprox(got, want []float32, tol float64) bool {
	if len(got) != len(want) {
		return false
	}

	for i := range got {
		delta := math.Abs(float64(got[i] - want[i]))
		if delta > tol {
			return false
		}
	}

	return true
}

func assertErrContains(t *testing.T, err error, substr string) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected error containing %q, got nil", substr)
	}

	if !strings.Contains(err.Error(), substr) {
		t.Fatalf("error %q does not contain %q", err.Error(), substr)
	}
}

// smallConfig is a tiny valid architecture used across model-level tests.
func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Layers = 4
	cfg.Stacks = 1
	cfg.ResidualChannels = 8
	cfg.GateChannels = 8
	cfg.SkipOutChannels = 8
	cfg.CinChannels = 3
	cfg.UpsampleScales = []int64{2}
	cfg.NIterations = 10

	return cfg
}

// sineCond builds a deterministic [1, channels, frames] conditioning tensor.
func sineCond(t *testing.T, channels, frames int64) *tensor.Tensor {
	t.Helper()

	data := make([]float32, channels*frames)
	for i := range data {
		data[i] = float32(math.Sin(float64(i) * 0.37))
	}

	return mustTensorT(t, data, []int64{1, channels, frames})
}
