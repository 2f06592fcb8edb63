package vocoder

import (
	"math"
	"testing"
)

func TestMuLawRoundTrip(t *testing.T) {
	const channels = 256

	for x := float32(-1); x <= 1; x += 0.01 {
		y := MuLawEncode(x, channels)
		if y < -1 || y > 1 {
			t.Fatalf("MuLawEncode(%v) = %v out of [-1, 1]", x, y)
		}

		back := MuLawDecode(y, channels)
		if math.Abs(float64(back-x)) > 1e-5 {
			t.Fatalf("MuLawDecode(MuLawEncode(%v)) = %v", x, back)
		}
	}
}

func TestMuLawQuantizeRoundTrip(t *testing.T) {
	const channels = 256

	// Rounding to the nearest bin keeps the companded error within half
	// a bin width.
	binWidth := 2.0 / float64(channels-1)

	for x := float32(-1); x <= 1; x += 0.007 {
		label := MuLawQuantize(x, channels)
		if label < 0 || label >= channels {
			t.Fatalf("MuLawQuantize(%v) = %d out of range", x, label)
		}

		back := MuLawDequantize(label, channels)

		yWant := float64(MuLawEncode(x, channels))
		yGot := float64(MuLawEncode(back, channels))

		if math.Abs(yGot-yWant) > binWidth/2+1e-4 {
			t.Fatalf("MuLawDequantize(MuLawQuantize(%v)) = %v, companded error %v > half bin %v",
				x, back, math.Abs(yGot-yWant), binWidth/2)
		}
	}
}

func TestMuLawQuantizeReferenceLabels(t *testing.T) {
	// Labels match torchaudio's MuLawEncoding at 256 channels.
	cases := []struct {
		x     float32
		label int64
	}{
		{-1, 0},
		{-0.5, 16},
		{-0.1, 52},
		{0, 128},
		{0.1, 203},
		{0.5, 239},
		{1, 255},
	}

	for _, tc := range cases {
		if got := MuLawQuantize(tc.x, 256); got != tc.label {
			t.Fatalf("MuLawQuantize(%v) = %d, want %d", tc.x, got, tc.label)
		}
	}
}

func TestMuLawZeroIsStable(t *testing.T) {
	const channels = 256

	if got := MuLawEncode(0, channels); got != 0 {
		t.Fatalf("MuLawEncode(0) = %v, want 0", got)
	}

	label := MuLawQuantize(0, channels)
	if label != channels/2 {
		t.Fatalf("MuLawQuantize(0) = %d, want %d", label, channels/2)
	}

	if back := MuLawDequantize(label, channels); math.Abs(float64(back)) > 0.01 {
		t.Fatalf("zero does not survive quantization: label %d -> %v", label, back)
	}
}

func TestLabelFloatConversionClamps(t *testing.T) {
	const classes = 256

	if got := FloatToLabel(-1, classes); got != 0 {
		t.Fatalf("FloatToLabel(-1) = %d, want 0", got)
	}

	if got := FloatToLabel(1, classes); got != classes-1 {
		t.Fatalf("FloatToLabel(1) = %d, want %d", got, classes-1)
	}

	// Out-of-range amplitudes clamp at the boundary labels.
	if got := FloatToLabel(-1.5, classes); got != 0 {
		t.Fatalf("FloatToLabel(-1.5) = %d, want 0", got)
	}

	if got := FloatToLabel(1.5, classes); got != classes-1 {
		t.Fatalf("FloatToLabel(1.5) = %d, want %d", got, classes-1)
	}

	for label := int64(0); label < classes; label += 17 {
		x := LabelToFloat(label, classes)
		if back := FloatToLabel(x, classes); back != label {
			t.Fatalf("FloatToLabel(LabelToFloat(%d)) = %d", label, back)
		}
	}
}

func TestOneHot(t *testing.T) {
	out, err := OneHot([][]int64{{0, 2}, {1, 1}}, 3)
	if err != nil {
		t.Fatalf("onehot: %v", err)
	}

	want := []float32{
		1, 0, // class 0
		0, 0, // class 1
		0, 1, // class 2

		0, 0,
		1, 1,
		0, 0,
	}
	if got := out.Data(); !equalApprox(got, want, 0) {
		t.Fatalf("onehot = %v, want %v", got, want)
	}

	_, err = OneHot([][]int64{{3}}, 3)
	assertErrContains(t, err, "out of range")

	_, err = OneHot([][]int64{{0, 1}, {0}}, 3)
	assertErrContains(t, err, "length")
}
