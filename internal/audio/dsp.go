package audio

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
)

// Hook is a sample-domain post-processing stage.
type Hook func(samples []float32) []float32

// ApplyHooks runs hooks left to right over samples.
func ApplyHooks(samples []float32, hooks ...Hook) []float32 {
	out := samples
	for _, hook := range hooks {
		out = hook(out)
	}

	return out
}

// PostOptions selects the post-synthesis processing stages.
type PostOptions struct {
	Normalize bool
	DCBlock   bool
	FadeInMs  float64
	FadeOutMs float64
}

// PostProcess runs the enabled stages in order: peak normalization, DC
// blocking, fade-in, fade-out.
func PostProcess(samples []float32, sampleRate int, opts PostOptions) []float32 {
	var hooks []Hook

	if opts.Normalize {
		hooks = append(hooks, func(s []float32) []float32 { return PeakNormalize(s, 1) })
	}

	if opts.DCBlock {
		hooks = append(hooks, func(s []float32) []float32 { return DCBlock(s, sampleRate) })
	}

	if opts.FadeInMs > 0 {
		hooks = append(hooks, func(s []float32) []float32 { return FadeIn(s, sampleRate, opts.FadeInMs) })
	}

	if opts.FadeOutMs > 0 {
		hooks = append(hooks, func(s []float32) []float32 { return FadeOut(s, sampleRate, opts.FadeOutMs) })
	}

	return ApplyHooks(samples, hooks...)
}

// PeakNormalize scales samples so the peak amplitude reaches target.
// Silence is returned unchanged.
func PeakNormalize(samples []float32, target float32) []float32 {
	var peak float32

	for _, v := range samples {
		a := v
		if a < 0 {
			a = -a
		}

		if a > peak {
			peak = a
		}
	}

	if peak == 0 {
		return samples
	}

	gain := target / peak
	for i := range samples {
		samples[i] *= gain
	}

	return samples
}

// DCBlock removes DC offset with a 2nd-order RBJ high-pass around 20 Hz.
func DCBlock(samples []float32, sampleRate int) []float32 {
	const cutoff = 20.0

	if sampleRate <= 0 || cutoff >= float64(sampleRate)/2 {
		return samples
	}

	section := biquad.NewSection(highpass(cutoff, float64(sampleRate)))

	for i, v := range samples {
		samples[i] = float32(section.ProcessSample(float64(v)))
	}

	return samples
}

// highpass computes RBJ high-pass biquad coefficients at Butterworth Q.
func highpass(freq, sampleRate float64) biquad.Coefficients {
	w0 := 2 * math.Pi * freq / sampleRate
	cw := math.Cos(w0)
	sw := math.Sin(w0)

	const q = 0.7071067811865476 // Butterworth

	alpha := sw / (2 * q)

	a0 := 1 + alpha
	inv := 1.0 / a0

	return biquad.Coefficients{
		B0: ((1 + cw) * 0.5) * inv,
		B1: -(1 + cw) * inv,
		B2: ((1 + cw) * 0.5) * inv,
		A1: (-2 * cw) * inv,
		A2: (1 - alpha) * inv,
	}
}

// FadeIn applies a linear fade-in ramp over the given duration in
// milliseconds.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	n := rampLen(len(samples), sampleRate, ms)
	for i := range n {
		samples[i] *= float32(i) / float32(n)
	}

	return samples
}

// FadeOut applies a linear fade-out ramp over the given duration in
// milliseconds.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	n := rampLen(len(samples), sampleRate, ms)

	total := len(samples)
	for i := range n {
		samples[total-1-i] *= float32(i) / float32(n)
	}

	return samples
}

func rampLen(total, sampleRate int, ms float64) int {
	n := int(float64(sampleRate) * ms / 1000)
	if n > total {
		n = total
	}

	if n < 0 {
		n = 0
	}

	return n
}
