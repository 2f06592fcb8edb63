package ops

import (
	"testing"
)

func TestConvTranspose1D(t *testing.T) {
	input := mustTensorT(t, []float32{1, 2, 3}, []int64{1, 1, 3})
	kernel := mustTensorT(t, []float32{1, 1}, []int64{1, 1, 2})

	out, err := ConvTranspose1D(input, kernel, nil, 1, 0, 0, 1, 1)
	if err != nil {
		t.Fatalf("convtranspose1d: %v", err)
	}

	// Scatter: out[t] and out[t+1] each receive x[t].
	want := []float32{1, 3, 5, 3}
	if got := out.Data(); !equalApprox(got, want, 0) {
		t.Fatalf("convtranspose1d = %v, want %v", got, want)
	}
}

func TestConvTranspose1DStrideLengthLaw(t *testing.T) {
	// kernel == stride == s gives output length exactly L*s.
	for _, s := range []int64{1, 2, 3, 5} {
		for _, length := range []int64{1, 4, 7} {
			input := mustTensorT(t, seqDataT(int(2*length)), []int64{1, 2, length})
			kernel := mustTensorT(t, seqDataT(int(2*s)), []int64{2, 1, s})

			out, err := ConvTranspose1D(input, kernel, nil, s, 0, 0, 1, 2)
			if err != nil {
				t.Fatalf("ConvTranspose1D(s=%d, L=%d): %v", s, length, err)
			}

			if got := out.Shape()[2]; got != length*s {
				t.Fatalf("ConvTranspose1D(s=%d, L=%d) length = %d, want %d", s, length, got, length*s)
			}
		}
	}
}

func TestConvTranspose1DBias(t *testing.T) {
	input := mustTensorT(t, []float32{1, 1}, []int64{1, 1, 2})
	kernel := mustTensorT(t, []float32{1, 1}, []int64{1, 1, 2})
	bias := mustTensorT(t, []float32{10}, []int64{1})

	out, err := ConvTranspose1D(input, kernel, bias, 1, 0, 0, 1, 1)
	if err != nil {
		t.Fatalf("convtranspose1d bias: %v", err)
	}

	want := []float32{11, 12, 11}
	if got := out.Data(); !equalApprox(got, want, 0) {
		t.Fatalf("convtranspose1d bias = %v, want %v", got, want)
	}
}

func TestConvTranspose1DErrors(t *testing.T) {
	validInput := mustTensorT(t, []float32{1, 2}, []int64{1, 1, 2})
	validKernel := mustTensorT(t, []float32{1, 1}, []int64{1, 1, 2})

	t.Run("nil input", func(t *testing.T) {
		_, err := ConvTranspose1D(nil, validKernel, nil, 1, 0, 0, 1, 1)
		assertErrContains(t, err, "non-nil")
	})

	t.Run("output padding out of range", func(t *testing.T) {
		_, err := ConvTranspose1D(validInput, validKernel, nil, 1, 0, 1, 1, 1)
		assertErrContains(t, err, "output_padding")
	})

	t.Run("kernel channel mismatch", func(t *testing.T) {
		badKernel := mustTensorT(t, []float32{1, 1, 1, 1}, []int64{2, 1, 2})
		_, err := ConvTranspose1D(validInput, badKernel, nil, 1, 0, 0, 1, 1)
		assertErrContains(t, err, "in_channels mismatch")
	})
}
