package audio

import (
	"errors"
	"math"
	"testing"
)

func sineSamples(n int, freq, rate float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}

	return out
}

func TestEncodeDecodeWAVRoundTrip(t *testing.T) {
	const rate = 22050

	samples := sineSamples(2000, 440, rate)

	data, err := EncodeWAV(samples, rate)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeWAV(data, rate)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(decoded) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(decoded), len(samples))
	}

	// 16-bit quantization bounds the round-trip error.
	for i := range samples {
		if d := math.Abs(float64(decoded[i] - samples[i])); d > 1.0/16384 {
			t.Fatalf("sample %d: %v -> %v, error %v", i, samples[i], decoded[i], d)
		}
	}
}

func TestEncodeWAVRejectsBadRate(t *testing.T) {
	_, err := EncodeWAV([]float32{0}, 0)
	if err == nil {
		t.Fatalf("expected error for zero sample rate")
	}
}

func TestDecodeWAVFormatMismatch(t *testing.T) {
	data, err := EncodeWAV(sineSamples(100, 440, 22050), 22050)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	_, err = DecodeWAV(data, 16000)
	if !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("sample-rate mismatch error = %v, want ErrFormatMismatch", err)
	}

	// wantRate 0 skips the rate check.
	if _, err := DecodeWAV(data, 0); err != nil {
		t.Fatalf("decode without rate check: %v", err)
	}

	if _, err := DecodeWAV(nil, 0); err == nil {
		t.Fatalf("expected error for empty input")
	}

	if _, err := DecodeWAV([]byte("not a wav file at all"), 0); err == nil {
		t.Fatalf("expected error for garbage input")
	}
}

func TestDCBlockRemovesOffset(t *testing.T) {
	const rate = 22050

	samples := sineSamples(8000, 440, rate)
	for i := range samples {
		samples[i] += 0.25
	}

	out := DCBlock(samples, rate)

	// Mean over the tail, after the filter settles.
	var mean float64
	for _, v := range out[4000:] {
		mean += float64(v)
	}

	mean /= 4000

	if math.Abs(mean) > 0.01 {
		t.Fatalf("residual DC offset %v", mean)
	}
}

func TestPeakNormalize(t *testing.T) {
	samples := []float32{0.1, -0.5, 0.25}

	out := PeakNormalize(samples, 1)

	var peak float32
	for _, v := range out {
		if v < 0 {
			v = -v
		}

		if v > peak {
			peak = v
		}
	}

	if math.Abs(float64(peak)-1) > 1e-6 {
		t.Fatalf("peak after normalize = %v, want 1", peak)
	}

	// Silence is untouched.
	silent := []float32{0, 0, 0}
	out = PeakNormalize(silent, 1)

	for _, v := range out {
		if v != 0 {
			t.Fatalf("silence changed: %v", out)
		}
	}
}

func TestFades(t *testing.T) {
	const rate = 1000

	samples := make([]float32, 100)
	for i := range samples {
		samples[i] = 1
	}

	// 10ms at 1kHz is a 10-sample ramp.
	out := FadeIn(samples, rate, 10)

	if out[0] != 0 {
		t.Fatalf("fade-in start = %v, want 0", out[0])
	}

	if out[5] >= out[9] {
		t.Fatalf("fade-in not increasing: %v vs %v", out[5], out[9])
	}

	if out[50] != 1 {
		t.Fatalf("fade-in altered interior sample: %v", out[50])
	}

	out = FadeOut(out, rate, 10)

	if last := out[len(out)-1]; last != 0 {
		t.Fatalf("fade-out end = %v, want 0", last)
	}

	if out[50] != 1 {
		t.Fatalf("fade-out altered interior sample: %v", out[50])
	}
}

func TestPostProcess(t *testing.T) {
	const rate = 1000

	samples := make([]float32, 100)
	for i := range samples {
		samples[i] = 0.5
	}

	out := PostProcess(samples, rate, PostOptions{
		Normalize: true,
		FadeInMs:  5,
		FadeOutMs: 5,
	})

	// Normalization runs before the fades: the interior reaches the peak,
	// the ends are ramped down to silence.
	if out[50] != 1 {
		t.Fatalf("interior sample = %v, want 1 after normalization", out[50])
	}

	if out[0] != 0 || out[len(out)-1] != 0 {
		t.Fatalf("fades not applied: ends %v, %v", out[0], out[len(out)-1])
	}

	// All stages disabled leaves the signal untouched.
	plain := []float32{0.1, -0.2, 0.3}

	out = PostProcess(plain, rate, PostOptions{})
	for i, v := range out {
		if v != plain[i] {
			t.Fatalf("disabled chain changed sample %d: %v", i, v)
		}
	}
}

func TestApplyHooks(t *testing.T) {
	samples := []float32{0.1, -0.5, 0.25}

	out := ApplyHooks(samples,
		func(s []float32) []float32 { return PeakNormalize(s, 0.5) },
		func(s []float32) []float32 { return FadeIn(s, 1000, 1) },
	)

	if out[0] != 0 {
		t.Fatalf("hooks not applied in order: %v", out)
	}

	var peak float32
	for _, v := range out {
		if v < 0 {
			v = -v
		}

		if v > peak {
			peak = v
		}
	}

	if peak > 0.5+1e-6 {
		t.Fatalf("peak = %v, want <= 0.5", peak)
	}
}
