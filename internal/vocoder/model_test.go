package vocoder

import (
	"math"
	"math/rand"
	"testing"
)

// scalarConfig is a small mixture-output architecture with a single scalar
// input channel, convenient for feeding arbitrary amplitudes.
func scalarConfig() Config {
	cfg := smallConfig()
	cfg.InputType = InputRaw
	cfg.OutChannels = 6

	return cfg
}

func TestNewModelRejectsInvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.InputType = "pcm"

	_, err := NewModel(cfg, rand.New(rand.NewSource(1)))
	assertErrContains(t, err, "input_type")
}

func TestReceptiveField(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	cfg := scalarConfig()

	m, err := NewModel(cfg, rng)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	// kernel 2, dilations 1,2,4,8
	if got := m.ReceptiveField(); got != 16 {
		t.Fatalf("ReceptiveField = %d, want 16", got)
	}

	cfg.Stacks = 2

	m, err = NewModel(cfg, rng)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	// dilations 1,2,1,2
	if got := m.ReceptiveField(); got != 7 {
		t.Fatalf("ReceptiveField = %d, want 7", got)
	}
}

func TestForwardIsCausal(t *testing.T) {
	const steps = 12

	rng := rand.New(rand.NewSource(2))
	cfg := scalarConfig()

	m, err := NewModel(cfg, rng)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	xData := make([]float32, steps)
	for i := range xData {
		xData[i] = rng.Float32()*2 - 1
	}

	c := autodiffVar(sineCond(t, cfg.CinChannels, steps))

	base, err := m.Forward(nil, mustVarT(t, xData, []int64{1, 1, steps}), c, nil)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	// Rewriting the future must not change the past.
	const cut = 5

	perturbed := append([]float32(nil), xData...)
	for i := cut + 1; i < steps; i++ {
		perturbed[i] = -perturbed[i] + 0.3
	}

	out, err := m.Forward(nil, mustVarT(t, perturbed, []int64{1, 1, steps}), c, nil)
	if err != nil {
		t.Fatalf("forward perturbed: %v", err)
	}

	bd := base.Value.RawData()
	od := out.Value.RawData()

	for ch := range cfg.OutChannels {
		for tt := int64(0); tt <= cut; tt++ {
			i := ch*steps + tt
			if bd[i] != od[i] {
				t.Fatalf("output (ch=%d, t=%d) changed from %v to %v after future-only perturbation", ch, tt, bd[i], od[i])
			}
		}
	}

	// The perturbation must reach at least one later output.
	var changed bool

	for i := range bd {
		if bd[i] != od[i] {
			changed = true
			break
		}
	}

	if !changed {
		t.Fatalf("perturbation had no effect at all")
	}
}

func TestIncrementalMatchesParallel(t *testing.T) {
	const steps = 20

	rng := rand.New(rand.NewSource(3))
	cfg := scalarConfig()
	cfg.Layers = 6
	cfg.Stacks = 2

	m, err := NewModel(cfg, rng)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	xData := make([]float32, steps)
	for i := range xData {
		xData[i] = rng.Float32()*2 - 1
	}

	cond := sineCond(t, cfg.CinChannels, steps)

	parallel, err := m.Forward(nil, mustVarT(t, xData, []int64{1, 1, steps}), autodiffVar(cond), nil)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	pd := parallel.Value.RawData()
	cd := cond.RawData()

	st := m.newGenState(1)
	condFrame := make([]float32, cfg.CinChannels)

	for tt := int64(0); tt < steps; tt++ {
		for c := range cfg.CinChannels {
			condFrame[c] = cd[c*steps+tt]
		}

		params := m.stepOnce(st, []float32{xData[tt]}, condFrame, nil, 1)

		for ch := range cfg.OutChannels {
			want := float64(pd[ch*steps+tt])
			got := float64(params[ch])

			if math.Abs(got-want) > 1e-3 {
				t.Fatalf("incremental (ch=%d, t=%d) = %v, parallel %v", ch, tt, got, want)
			}
		}
	}
}

func TestIncrementalMatchesParallelOneHot(t *testing.T) {
	const steps = 10

	rng := rand.New(rand.NewSource(4))
	cfg := smallConfig()
	cfg.QuantizeChannels = 16
	cfg.OutChannels = 16

	m, err := NewModel(cfg, rng)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	labels := make([]int64, steps)
	for i := range labels {
		labels[i] = rng.Int63n(cfg.QuantizeChannels)
	}

	oneHot, err := OneHot([][]int64{labels}, cfg.QuantizeChannels)
	if err != nil {
		t.Fatalf("onehot: %v", err)
	}

	cond := sineCond(t, cfg.CinChannels, steps)

	parallel, err := m.Forward(nil, autodiffVar(oneHot), autodiffVar(cond), nil)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	pd := parallel.Value.RawData()
	cd := cond.RawData()

	st := m.newGenState(1)

	x := make([]float32, cfg.QuantizeChannels)
	condFrame := make([]float32, cfg.CinChannels)

	for tt := int64(0); tt < steps; tt++ {
		for i := range x {
			x[i] = 0
		}

		x[labels[tt]] = 1

		for c := range cfg.CinChannels {
			condFrame[c] = cd[c*steps+tt]
		}

		params := m.stepOnce(st, x, condFrame, nil, 1)

		for ch := range cfg.OutChannels {
			want := float64(pd[ch*steps+tt])
			got := float64(params[ch])

			if math.Abs(got-want) > 1e-3 {
				t.Fatalf("incremental (ch=%d, t=%d) = %v, parallel %v", ch, tt, got, want)
			}
		}
	}
}

func TestNamedParamsUniqueAndComplete(t *testing.T) {
	cfg := scalarConfig()
	cfg.GinChannels = 4
	cfg.NSpeakers = 3

	m, err := NewModel(cfg, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	named := m.NamedParams()
	seen := make(map[string]bool, len(named))

	var total int64

	for _, p := range named {
		if seen[p.name] {
			t.Fatalf("duplicate parameter name %q", p.name)
		}

		seen[p.name] = true
		total += int64(p.v.Value.ElemCount())
	}

	for _, want := range []string{
		"first.weight",
		"blocks.0.conv.weight",
		"blocks.3.gcond.weight",
		"out1.weight",
		"out2.bias",
		"upsample.0.weight",
		"embed.weight",
	} {
		if !seen[want] {
			t.Fatalf("missing parameter %q", want)
		}
	}

	if got := m.ParamCount(); got != total {
		t.Fatalf("ParamCount = %d, want %d", got, total)
	}
}

func TestSpeakerEmbeddingShape(t *testing.T) {
	cfg := scalarConfig()
	cfg.GinChannels = 4
	cfg.NSpeakers = 3

	m, err := NewModel(cfg, rand.New(rand.NewSource(6)))
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	g, err := m.SpeakerEmbedding(nil, []int64{2, 0}, 5)
	if err != nil {
		t.Fatalf("SpeakerEmbedding: %v", err)
	}

	shape := g.Value.Shape()
	if shape[0] != 2 || shape[1] != 4 || shape[2] != 5 {
		t.Fatalf("SpeakerEmbedding shape = %v, want [2 4 5]", shape)
	}

	// Without global conditioning the embedding is absent.
	plain, err := NewModel(scalarConfig(), rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	g, err = plain.SpeakerEmbedding(nil, []int64{0}, 5)
	if err != nil || g != nil {
		t.Fatalf("SpeakerEmbedding without gin = (%v, %v), want (nil, nil)", g, err)
	}
}

func TestForwardLengthMismatch(t *testing.T) {
	cfg := scalarConfig()

	m, err := NewModel(cfg, rand.New(rand.NewSource(8)))
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	x := mustVarT(t, make([]float32, 4), []int64{1, 1, 4})
	c := autodiffVar(sineCond(t, cfg.CinChannels, 5))

	_, err = m.Forward(nil, x, c, nil)
	assertErrContains(t, err, "does not match conditioning length")
}
