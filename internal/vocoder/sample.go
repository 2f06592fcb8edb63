package vocoder

import (
	"fmt"
	"math"
	"math/rand"
)

// Sampler draws the next sample from one timestep's distribution parameters.
// The three implementations form a closed set selected at model
// construction.
//
// For the categorical family the returned value is the quantization label
// (as a float32 integer); for the mixture families it is the amplitude in
// [-1, 1].  Sampling is stochastic; passing the same *rand.Rand state yields
// identical draws.
type Sampler interface {
	// Sample consumes one parameter vector of NumParams() values.
	Sample(params []float32, rng *rand.Rand) float32
	NumParams() int64
}

// NewSampler selects the sampler for the configured input encoding and
// output distribution.
func NewSampler(cfg Config) (Sampler, error) {
	if cfg.InputType == InputMuLawQuantize {
		return &CategoricalSampler{Classes: cfg.QuantizeChannels}, nil
	}

	k := cfg.OutChannels / 3

	switch cfg.OutputDistribution {
	case DistLogistic:
		return &MixtureLogisticSampler{Components: k}, nil
	case DistNormal:
		return &MixtureGaussianSampler{Components: k}, nil
	default:
		return nil, fmt.Errorf("vocoder: unsupported output_distribution %q", cfg.OutputDistribution)
	}
}

// CategoricalSampler draws a quantization label from softmax-normalized
// logits.  With Argmax set it returns the most likely label instead.
type CategoricalSampler struct {
	Classes int64
	Argmax  bool
}

func (s *CategoricalSampler) NumParams() int64 { return s.Classes }

func (s *CategoricalSampler) Sample(params []float32, rng *rand.Rand) float32 {
	if s.Argmax {
		best := 0
		for i := 1; i < len(params); i++ {
			if params[i] > params[best] {
				best = i
			}
		}

		return float32(best)
	}

	maxV := params[0]
	for _, v := range params[1:] {
		if v > maxV {
			maxV = v
		}
	}

	var sum float64
	for _, v := range params {
		sum += math.Exp(float64(v - maxV))
	}

	u := rng.Float64() * sum

	var acc float64
	for i, v := range params {
		acc += math.Exp(float64(v - maxV))
		if u < acc {
			return float32(i)
		}
	}

	return float32(len(params) - 1)
}

// mixture parameter layout: [K logits, K means, K log_scales].

// MixtureLogisticSampler draws from a mixture of logistics: component by
// gumbel-argmax over the mixture logits, then an inverse-CDF logistic draw,
// clamped to [-1, 1].
type MixtureLogisticSampler struct {
	Components int64
}

func (s *MixtureLogisticSampler) NumParams() int64 { return 3 * s.Components }

func (s *MixtureLogisticSampler) Sample(params []float32, rng *rand.Rand) float32 {
	k := pickComponent(params[:s.Components], rng)

	mean := float64(params[s.Components+int64(k)])
	logScale := math.Max(float64(params[2*s.Components+int64(k)]), logScaleMin)

	u := clampUnit(rng.Float64())
	x := mean + math.Exp(logScale)*(math.Log(u)-math.Log(1-u))

	return clampAmplitude(x)
}

// MixtureGaussianSampler draws from a mixture of Gaussians, clamped to
// [-1, 1].
type MixtureGaussianSampler struct {
	Components int64
}

func (s *MixtureGaussianSampler) NumParams() int64 { return 3 * s.Components }

func (s *MixtureGaussianSampler) Sample(params []float32, rng *rand.Rand) float32 {
	k := pickComponent(params[:s.Components], rng)

	mean := float64(params[s.Components+int64(k)])
	logScale := math.Max(float64(params[2*s.Components+int64(k)]), logScaleMin)

	x := mean + math.Exp(logScale)*rng.NormFloat64()

	return clampAmplitude(x)
}

// pickComponent selects a mixture component by gumbel-argmax over its
// logits, equivalent to sampling from their softmax.
func pickComponent(logits []float32, rng *rand.Rand) int {
	best := 0
	bestV := math.Inf(-1)

	for i, l := range logits {
		u := clampUnit(rng.Float64())

		v := float64(l) - math.Log(-math.Log(u))
		if v > bestV {
			best = i
			bestV = v
		}
	}

	return best
}

func clampUnit(u float64) float64 {
	const eps = 1e-5

	if u < eps {
		return eps
	}

	if u > 1-eps {
		return 1 - eps
	}

	return u
}

func clampAmplitude(x float64) float32 {
	if x < -1 {
		return -1
	}

	if x > 1 {
		return 1
	}

	return float32(x)
}
