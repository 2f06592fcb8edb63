package vocoder

import (
	"math/rand"
	"testing"
)

func TestNewSamplerDispatch(t *testing.T) {
	cfg := DefaultConfig()

	s, err := NewSampler(cfg)
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}

	if _, ok := s.(*CategoricalSampler); !ok {
		t.Fatalf("mulaw-quantize sampler = %T, want *CategoricalSampler", s)
	}

	if got := s.NumParams(); got != cfg.QuantizeChannels {
		t.Fatalf("NumParams = %d, want %d", got, cfg.QuantizeChannels)
	}

	cfg.InputType = InputRaw
	cfg.OutChannels = 30

	s, err = NewSampler(cfg)
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}

	if _, ok := s.(*MixtureLogisticSampler); !ok {
		t.Fatalf("Logistic sampler = %T, want *MixtureLogisticSampler", s)
	}

	if got := s.NumParams(); got != 30 {
		t.Fatalf("NumParams = %d, want 30", got)
	}

	cfg.OutputDistribution = DistNormal

	s, err = NewSampler(cfg)
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}

	if _, ok := s.(*MixtureGaussianSampler); !ok {
		t.Fatalf("Normal sampler = %T, want *MixtureGaussianSampler", s)
	}
}

func TestCategoricalSampler(t *testing.T) {
	s := &CategoricalSampler{Classes: 4}

	// One dominant logit: almost every draw lands on it.
	params := []float32{-20, 15, -20, -20}
	rng := rand.New(rand.NewSource(7))

	for range 50 {
		if got := s.Sample(params, rng); got != 1 {
			t.Fatalf("dominant-logit draw = %v, want 1", got)
		}
	}

	s.Argmax = true
	if got := s.Sample([]float32{0.5, 0.1, 2.5, -1}, rng); got != 2 {
		t.Fatalf("argmax = %v, want 2", got)
	}
}

func TestCategoricalSamplerDeterministic(t *testing.T) {
	s := &CategoricalSampler{Classes: 8}

	params := []float32{0, 0.5, 1, 1.5, 1, 0.5, 0, -0.5}

	a := rand.New(rand.NewSource(42))
	b := rand.New(rand.NewSource(42))

	for range 100 {
		if x, y := s.Sample(params, a), s.Sample(params, b); x != y {
			t.Fatalf("same seed diverged: %v != %v", x, y)
		}
	}
}

func TestMixtureSamplersClampAndFollowMean(t *testing.T) {
	samplers := []Sampler{
		&MixtureLogisticSampler{Components: 2},
		&MixtureGaussianSampler{Components: 2},
	}

	for _, s := range samplers {
		if got := s.NumParams(); got != 6 {
			t.Fatalf("%T NumParams = %d, want 6", s, got)
		}

		// Component 0 dominant, mean 0.5, very small scale: draws cluster
		// tightly around the mean.
		params := []float32{10, -10, 0.5, -0.9, -12, -12}
		rng := rand.New(rand.NewSource(3))

		for range 200 {
			x := s.Sample(params, rng)
			if x < -1 || x > 1 {
				t.Fatalf("%T draw %v out of [-1, 1]", s, x)
			}

			if x < 0.45 || x > 0.55 {
				t.Fatalf("%T tight-scale draw %v far from mean 0.5", s, x)
			}
		}

		// Huge scale: draws still clamp to [-1, 1].
		wide := []float32{10, -10, 0, 0, 8, 8}
		for range 200 {
			x := s.Sample(wide, rng)
			if x < -1 || x > 1 {
				t.Fatalf("%T wide-scale draw %v out of [-1, 1]", s, x)
			}
		}
	}
}

func TestMixtureSamplerDeterministic(t *testing.T) {
	s := &MixtureLogisticSampler{Components: 3}
	params := []float32{0, 1, -1, -0.3, 0.2, 0.6, -3, -4, -2}

	a := rand.New(rand.NewSource(11))
	b := rand.New(rand.NewSource(11))

	for range 100 {
		if x, y := s.Sample(params, a), s.Sample(params, b); x != y {
			t.Fatalf("same seed diverged: %v != %v", x, y)
		}
	}
}
