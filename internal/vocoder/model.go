package vocoder

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/example/go-wavenet-vocoder/internal/runtime/autodiff"
)

// namedParam pairs a trainable tensor with its checkpoint key.
type namedParam struct {
	name string
	v    *autodiff.Var
}

// Model is the autoregressive vocoder: conditioning upsampler, dilated
// gated-residual stack, and output projection.  Parameters are read-only
// during forward passes; only the optimizer mutates them.
type Model struct {
	cfg Config

	upsampler *Upsampler
	blocks    []*ResidualBlock

	firstW, firstB *autodiff.Var // [residual, in, 1] input pointwise conv
	out1W, out1B   *autodiff.Var // [skip, skip, 1]
	out2W, out2B   *autodiff.Var // [out, skip, 1]

	embed *autodiff.Var // [n_speakers, gin], nil without global conditioning

	sampler   Sampler
	skipScale float32
}

// NewModel validates cfg and builds a model with rng-initialized weights.
// Unsupported input_type or output_distribution values fail here, never
// during generation.
func NewModel(cfg Config, rng *rand.Rand) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sampler, err := NewSampler(cfg)
	if err != nil {
		return nil, err
	}

	upsampler, err := NewUpsampler(cfg)
	if err != nil {
		return nil, err
	}

	m := &Model{
		cfg:       cfg,
		upsampler: upsampler,
		sampler:   sampler,
		skipScale: float32(math.Sqrt(1 / float64(cfg.Layers))),
	}

	inCh := cfg.InChannels()
	m.firstW = randnParam(rng, []int64{cfg.ResidualChannels, inCh, 1}, 1/math.Sqrt(float64(inCh)))
	m.firstB = constParam([]int64{cfg.ResidualChannels}, 0)

	layersPerStack := cfg.Layers / cfg.Stacks
	for layer := range cfg.Layers {
		dilation := int64(1) << (layer % layersPerStack)
		m.blocks = append(m.blocks, newResidualBlock(cfg, dilation, rng))
	}

	skipStd := 1 / math.Sqrt(float64(cfg.SkipOutChannels))
	m.out1W = randnParam(rng, []int64{cfg.SkipOutChannels, cfg.SkipOutChannels, 1}, skipStd)
	m.out1B = constParam([]int64{cfg.SkipOutChannels}, 0)
	m.out2W = randnParam(rng, []int64{cfg.OutChannels, cfg.SkipOutChannels, 1}, skipStd)
	m.out2B = constParam([]int64{cfg.OutChannels}, 0)

	if cfg.GinChannels > 0 {
		m.embed = randnParam(rng, []int64{cfg.NSpeakers, cfg.GinChannels}, 0.1)
	}

	return m, nil
}

// Config returns the model configuration.
func (m *Model) Config() Config { return m.cfg }

// ReceptiveField returns the number of past samples the stack's output at a
// given timestep depends on.
func (m *Model) ReceptiveField() int64 {
	field := int64(1)
	for _, b := range m.blocks {
		field += (b.kernelSize - 1) * b.dilation
	}

	return field
}

// UpsampleCond expands conditioning frames to sample rate.
func (m *Model) UpsampleCond(tape *autodiff.Tape, c *autodiff.Var) (*autodiff.Var, error) {
	return m.upsampler.Forward(tape, c)
}

// SpeakerEmbedding returns the [batch, gin, steps] global conditioning
// tensor for per-sequence speaker ids, or nil when the model has no global
// conditioning.
func (m *Model) SpeakerEmbedding(tape *autodiff.Tape, speakers []int64, steps int64) (*autodiff.Var, error) {
	if m.embed == nil {
		return nil, nil
	}

	g, err := autodiff.EmbedRows(tape, m.embed, speakers)
	if err != nil {
		return nil, err
	}

	return autodiff.ExpandTime(tape, g, steps)
}

// Forward runs the stack in parallel mode over the whole time axis.
// x: encoded waveform [batch, in, T]; c: upsampled conditioning
// [batch, cin, T]; g: [batch, gin, T] or nil.  Returns distribution
// parameters [batch, out, T].  Output at time t depends only on x at
// times <= t and conditioning at t.
func (m *Model) Forward(tape *autodiff.Tape, x, c, g *autodiff.Var) (*autodiff.Var, error) {
	if x == nil || c == nil {
		return nil, fmt.Errorf("vocoder: forward requires non-nil input and conditioning")
	}

	if xt, ct := x.Value.Dim(2), c.Value.Dim(2); xt != ct {
		return nil, fmt.Errorf("vocoder: input length %d does not match conditioning length %d", xt, ct)
	}

	h, err := autodiff.Conv1D(tape, x, m.firstW, m.firstB, 1, 0, 1, 1)
	if err != nil {
		return nil, err
	}

	var skips *autodiff.Var

	for _, blk := range m.blocks {
		var s *autodiff.Var

		h, s, err = blk.Forward(tape, h, c, g)
		if err != nil {
			return nil, err
		}

		if skips == nil {
			skips = s
			continue
		}

		skips, err = autodiff.Add(tape, skips, s)
		if err != nil {
			return nil, err
		}
	}

	skips, err = autodiff.Scale(tape, skips, m.skipScale)
	if err != nil {
		return nil, err
	}

	return m.project(tape, skips)
}

func (m *Model) project(tape *autodiff.Tape, skips *autodiff.Var) (*autodiff.Var, error) {
	h, err := autodiff.ReLU(tape, skips)
	if err != nil {
		return nil, err
	}

	h, err = autodiff.Conv1D(tape, h, m.out1W, m.out1B, 1, 0, 1, 1)
	if err != nil {
		return nil, err
	}

	h, err = autodiff.ReLU(tape, h)
	if err != nil {
		return nil, err
	}

	return autodiff.Conv1D(tape, h, m.out2W, m.out2B, 1, 0, 1, 1)
}

// NamedParams returns every trainable tensor with a stable checkpoint key.
func (m *Model) NamedParams() []namedParam {
	out := []namedParam{
		{"first.weight", m.firstW},
		{"first.bias", m.firstB},
	}

	for i, blk := range m.blocks {
		out = append(out, blk.params(fmt.Sprintf("blocks.%d", i))...)
	}

	out = append(out,
		namedParam{"out1.weight", m.out1W},
		namedParam{"out1.bias", m.out1B},
		namedParam{"out2.weight", m.out2W},
		namedParam{"out2.bias", m.out2B},
	)

	for i, w := range m.upsampler.Params() {
		out = append(out, namedParam{fmt.Sprintf("upsample.%d.weight", i), w})
	}

	if m.embed != nil {
		out = append(out, namedParam{"embed.weight", m.embed})
	}

	return out
}

// Params returns the trainable tensors in NamedParams order.
func (m *Model) Params() []*autodiff.Var {
	named := m.NamedParams()

	out := make([]*autodiff.Var, len(named))
	for i, p := range named {
		out[i] = p.v
	}

	return out
}

// ParamCount returns the total number of trainable scalars.
func (m *Model) ParamCount() int64 {
	var total int64
	for _, p := range m.Params() {
		total += int64(p.Value.ElemCount())
	}

	return total
}

// genState is the per-call mutable state of one incremental generation:
// one ring buffer per block plus reusable scratch.  It is created by
// Generate and discarded when the call returns; nothing here is shared
// between calls or stored on the model.
type genState struct {
	queues []*convQueue

	h      []float32 // [batch*gate]
	gated  []float32 // [batch*gate/2]
	resIn  []float32 // [batch*residual]
	resOut []float32 // [batch*residual]
	skip   []float32 // [batch*skip]
	skips  []float32 // [batch*skip] running sum
	params []float32 // [batch*out]
}

func (m *Model) newGenState(batch int64) *genState {
	cfg := m.cfg

	st := &genState{
		h:      make([]float32, batch*cfg.GateChannels),
		gated:  make([]float32, batch*cfg.GateChannels/2),
		resIn:  make([]float32, batch*cfg.ResidualChannels),
		resOut: make([]float32, batch*cfg.ResidualChannels),
		skip:   make([]float32, batch*cfg.SkipOutChannels),
		skips:  make([]float32, batch*cfg.SkipOutChannels),
		params: make([]float32, batch*cfg.OutChannels),
	}

	for _, blk := range m.blocks {
		st.queues = append(st.queues, newConvQueue(blk.window(), batch, cfg.ResidualChannels))
	}

	return st
}

// stepOnce advances the whole stack by one timestep in incremental mode.
// x is the encoded current sample [batch*in]; cond the conditioning frame
// [batch*cin]; gcond the global embedding [batch*gin] or nil.  The returned
// slice aliases st.params and holds the distribution parameters
// [batch*out] for this timestep.
func (m *Model) stepOnce(st *genState, x, cond, gcond []float32, batch int64) []float32 {
	cfg := m.cfg

	// Input pointwise conv.
	firstW := m.firstW.Value.RawData()
	firstB := m.firstB.Value.RawData()
	matVec(firstW, firstB, x, st.resIn, batch, cfg.ResidualChannels, cfg.InChannels())

	for i := range st.skips {
		st.skips[i] = 0
	}

	cur, next := st.resIn, st.resOut

	for i, blk := range m.blocks {
		blk.incrementalStep(st.queues[i], cur, cond, gcond, batch, st.h, st.gated, next, st.skip)

		for j, v := range st.skip {
			st.skips[j] += v
		}

		cur, next = next, cur
	}

	for i := range st.skips {
		st.skips[i] *= m.skipScale
		if st.skips[i] < 0 {
			st.skips[i] = 0
		}
	}

	// Output head: relu already applied to the scaled skip sum above.
	out1W := m.out1W.Value.RawData()
	out1B := m.out1B.Value.RawData()
	matVec(out1W, out1B, st.skips, st.skip, batch, cfg.SkipOutChannels, cfg.SkipOutChannels)

	for i := range st.skip {
		if st.skip[i] < 0 {
			st.skip[i] = 0
		}
	}

	out2W := m.out2W.Value.RawData()
	out2B := m.out2B.Value.RawData()
	matVec(out2W, out2B, st.skip, st.params, batch, cfg.OutChannels, cfg.SkipOutChannels)

	return st.params
}

// matVec applies a pointwise conv (a per-batch matrix-vector product) with
// weight [outCh, inCh, 1] flattened row-major.
func matVec(w, b, in, out []float32, batch, outCh, inCh int64) {
	for n := range batch {
		for oc := range outCh {
			acc := float64(b[oc])

			wBase := oc * inCh
			for ic := range inCh {
				acc += float64(w[wBase+ic]) * float64(in[n*inCh+ic])
			}

			out[n*outCh+oc] = float32(acc)
		}
	}
}
