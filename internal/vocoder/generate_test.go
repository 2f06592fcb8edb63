package vocoder

import (
	"context"
	"math/rand"
	"testing"

	"github.com/example/go-wavenet-vocoder/internal/runtime/autodiff"
	"github.com/example/go-wavenet-vocoder/internal/runtime/tensor"
)

func TestGenerateDeterministic(t *testing.T) {
	cfg := smallConfig()
	cfg.QuantizeChannels = 32
	cfg.OutChannels = 32

	m, err := NewModel(cfg, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	cond := sineCond(t, cfg.CinChannels, 5)

	a, err := m.Generate(context.Background(), cond, GenerateOptions{}, rand.New(rand.NewSource(9)))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	b, err := m.Generate(context.Background(), cond, GenerateOptions{}, rand.New(rand.NewSource(9)))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("batch sizes = %d, %d, want 1", len(a), len(b))
	}

	// 5 frames x scale 2
	if len(a[0]) != 10 {
		t.Fatalf("generated %d samples, want 10", len(a[0]))
	}

	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("same seed diverged at sample %d: %v != %v", i, a[0][i], b[0][i])
		}

		if a[0][i] < -1 || a[0][i] > 1 {
			t.Fatalf("sample %d = %v out of [-1, 1]", i, a[0][i])
		}
	}
}

func TestGenerateMaxSamples(t *testing.T) {
	cfg := smallConfig()
	cfg.QuantizeChannels = 32
	cfg.OutChannels = 32

	m, err := NewModel(cfg, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	cond := sineCond(t, cfg.CinChannels, 5)

	out, err := m.Generate(context.Background(), cond, GenerateOptions{MaxSamples: 4}, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if len(out[0]) != 4 {
		t.Fatalf("generated %d samples, want 4", len(out[0]))
	}
}

func TestGenerateCancellation(t *testing.T) {
	cfg := smallConfig()
	cfg.QuantizeChannels = 32
	cfg.OutChannels = 32

	m, err := NewModel(cfg, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := m.Generate(ctx, sineCond(t, cfg.CinChannels, 5), GenerateOptions{}, rand.New(rand.NewSource(1)))
	if err == nil {
		t.Fatalf("expected cancellation error")
	}

	if out != nil {
		t.Fatalf("cancelled generation returned samples")
	}
}

func TestGenerateScalarStaysInRange(t *testing.T) {
	cfg := scalarConfig()

	m, err := NewModel(cfg, rand.New(rand.NewSource(4)))
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	out, err := m.Generate(context.Background(), sineCond(t, cfg.CinChannels, 8), GenerateOptions{}, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if len(out[0]) != 16 {
		t.Fatalf("generated %d samples, want 16", len(out[0]))
	}

	for i, v := range out[0] {
		if v < -1 || v > 1 {
			t.Fatalf("sample %d = %v out of [-1, 1]", i, v)
		}
	}
}

func TestGenerateArgmaxDeterministicWithoutSeed(t *testing.T) {
	cfg := smallConfig()
	cfg.QuantizeChannels = 32
	cfg.OutChannels = 32

	m, err := NewModel(cfg, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	cond := sineCond(t, cfg.CinChannels, 4)
	opts := GenerateOptions{Argmax: true}

	// Argmax ignores the random source entirely.
	a, err := m.Generate(context.Background(), cond, opts, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	b, err := m.Generate(context.Background(), cond, opts, rand.New(rand.NewSource(99)))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("argmax generation diverged at sample %d", i)
		}
	}
}

func TestGenerateSeedsFromZeroInput(t *testing.T) {
	// The first incremental step conditions on an all-zero input vector,
	// not a one-hot at the silence label, so it must match a parallel
	// forward pass over a single zero timestep.
	cfg := smallConfig()
	cfg.QuantizeChannels = 32
	cfg.OutChannels = 32

	m, err := NewModel(cfg, rand.New(rand.NewSource(11)))
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	cond := sineCond(t, cfg.CinChannels, 2)

	out, err := m.Generate(context.Background(), cond, GenerateOptions{Argmax: true, MaxSamples: 1}, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	up, err := m.UpsampleCond(nil, autodiffVar(cond))
	if err != nil {
		t.Fatalf("upsample: %v", err)
	}

	up1, err := autodiff.Narrow(nil, up, 2, 0, 1)
	if err != nil {
		t.Fatalf("narrow: %v", err)
	}

	zero, err := tensor.Zeros([]int64{1, cfg.InChannels(), 1})
	if err != nil {
		t.Fatalf("zeros: %v", err)
	}

	logits, err := m.Forward(nil, autodiff.NewVar(zero), up1, nil)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	var best int64

	ld := logits.Value.RawData()
	for c := int64(1); c < cfg.OutChannels; c++ {
		if ld[c] > ld[best] {
			best = c
		}
	}

	if want := MuLawDequantize(best, cfg.QuantizeChannels); out[0][0] != want {
		t.Fatalf("first sample %v does not match zero-input forward pass (want %v, label %d)", out[0][0], want, best)
	}
}

func TestGenerateSpeakerValidation(t *testing.T) {
	cfg := scalarConfig()
	cfg.GinChannels = 4
	cfg.NSpeakers = 2

	m, err := NewModel(cfg, rand.New(rand.NewSource(6)))
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	cond := sineCond(t, cfg.CinChannels, 4)

	_, err = m.Generate(context.Background(), cond, GenerateOptions{}, rand.New(rand.NewSource(1)))
	assertErrContains(t, err, "speaker")

	out, err := m.Generate(context.Background(), cond, GenerateOptions{Speakers: []int64{1}}, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("generate with speaker: %v", err)
	}

	if len(out[0]) != 8 {
		t.Fatalf("generated %d samples, want 8", len(out[0]))
	}
}

func TestGenerateAndScoreEndToEnd(t *testing.T) {
	// Small categorical model, unit upsampling: 10 conditioning frames
	// produce exactly 10 samples, and the same model scores a waveform
	// with a finite non-negative loss.
	cfg := DefaultConfig()
	cfg.Layers = 4
	cfg.Stacks = 1
	cfg.ResidualChannels = 8
	cfg.GateChannels = 8
	cfg.SkipOutChannels = 8
	cfg.CinChannels = 3
	cfg.UpsampleScales = []int64{1}

	m, err := NewModel(cfg, rand.New(rand.NewSource(8)))
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	cond := sineCond(t, cfg.CinChannels, 10)

	out, err := m.Generate(context.Background(), cond, GenerateOptions{}, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if len(out[0]) != 10 {
		t.Fatalf("generated %d samples, want 10", len(out[0]))
	}

	for i, v := range out[0] {
		if v < -1 || v > 1 {
			t.Fatalf("sample %d = %v out of [-1, 1]", i, v)
		}
	}

	tr, err := NewTrainer(m)
	if err != nil {
		t.Fatalf("NewTrainer: %v", err)
	}

	wave := mustTensorT(t, out[0], []int64{1, 10})

	losses, err := tr.ValidationLosses(cond, wave, nil)
	if err != nil {
		t.Fatalf("validation: %v", err)
	}

	if v := losses["nll_loss"]; v < 0 || v != v {
		t.Fatalf("nll_loss = %v, want finite non-negative", v)
	}
}

func TestGenerateInputValidation(t *testing.T) {
	cfg := smallConfig()
	cfg.QuantizeChannels = 32
	cfg.OutChannels = 32

	m, err := NewModel(cfg, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	_, err = m.Generate(context.Background(), nil, GenerateOptions{}, rand.New(rand.NewSource(1)))
	assertErrContains(t, err, "conditioning")

	_, err = m.Generate(context.Background(), sineCond(t, cfg.CinChannels, 4), GenerateOptions{}, nil)
	assertErrContains(t, err, "random source")
}
