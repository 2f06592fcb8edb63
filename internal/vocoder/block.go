package vocoder

import (
	"math"
	"math/rand"

	"github.com/example/go-wavenet-vocoder/internal/runtime/autodiff"
)

const sqrtHalf = 0.7071067811865476

// ResidualBlock is one gated residual unit of the dilated stack.
//
// The dilated causal conv projects the block input to gate_channels, the
// result is split into filter/gate halves, conditioning projections are
// added per half, and tanh x sigmoid gating feeds two pointwise convs: one
// back onto the residual path, one onto the shared skip path.  The residual
// output is (x + input) * sqrt(0.5).
type ResidualBlock struct {
	kernelSize int64
	dilation   int64

	residualChannels int64
	gateChannels     int64
	skipChannels     int64
	cinChannels      int64
	ginChannels      int64

	convW, convB *autodiff.Var // [gate, residual, kernel]
	condW        *autodiff.Var // [gate, cin, 1]
	gcondW       *autodiff.Var // [gate, gin, 1], nil without global conditioning
	outW, outB   *autodiff.Var // [residual, gate/2, 1]
	skipW, skipB *autodiff.Var // [skip, gate/2, 1]
}

func newResidualBlock(cfg Config, dilation int64, rng *rand.Rand) *ResidualBlock {
	b := &ResidualBlock{
		kernelSize:       cfg.KernelSize,
		dilation:         dilation,
		residualChannels: cfg.ResidualChannels,
		gateChannels:     cfg.GateChannels,
		skipChannels:     cfg.SkipOutChannels,
		cinChannels:      cfg.CinChannels,
		ginChannels:      cfg.GinChannels,
	}

	half := b.gateChannels / 2

	convStd := 1 / math.Sqrt(float64(b.residualChannels*b.kernelSize))
	b.convW = randnParam(rng, []int64{b.gateChannels, b.residualChannels, b.kernelSize}, convStd)
	b.convB = constParam([]int64{b.gateChannels}, 0)

	b.condW = randnParam(rng, []int64{b.gateChannels, b.cinChannels, 1}, 1/math.Sqrt(float64(b.cinChannels)))

	if b.ginChannels > 0 {
		b.gcondW = randnParam(rng, []int64{b.gateChannels, b.ginChannels, 1}, 1/math.Sqrt(float64(b.ginChannels)))
	}

	halfStd := 1 / math.Sqrt(float64(half))
	b.outW = randnParam(rng, []int64{b.residualChannels, half, 1}, halfStd)
	b.outB = constParam([]int64{b.residualChannels}, 0)
	b.skipW = randnParam(rng, []int64{b.skipChannels, half, 1}, halfStd)
	b.skipB = constParam([]int64{b.skipChannels}, 0)

	return b
}

// window returns the receptive extent of the block's dilated conv, which is
// also the slot count of its incremental queue.
func (b *ResidualBlock) window() int64 {
	return (b.kernelSize-1)*b.dilation + 1
}

// Forward runs the block over the whole time axis (parallel mode).
// x: [batch, residual, T], c: [batch, cin, T], g: [batch, gin, T] or nil.
// Returns the next residual input and the skip contribution.
func (b *ResidualBlock) Forward(tape *autodiff.Tape, x, c, g *autodiff.Var) (*autodiff.Var, *autodiff.Var, error) {
	pad := (b.kernelSize - 1) * b.dilation

	h, err := autodiff.Conv1DCausal(tape, x, b.convW, b.convB, 1, pad, b.dilation, 1)
	if err != nil {
		return nil, nil, err
	}

	cproj, err := autodiff.Conv1D(tape, c, b.condW, nil, 1, 0, 1, 1)
	if err != nil {
		return nil, nil, err
	}

	h, err = autodiff.Add(tape, h, cproj)
	if err != nil {
		return nil, nil, err
	}

	if g != nil && b.gcondW != nil {
		gproj, err := autodiff.Conv1D(tape, g, b.gcondW, nil, 1, 0, 1, 1)
		if err != nil {
			return nil, nil, err
		}

		h, err = autodiff.Add(tape, h, gproj)
		if err != nil {
			return nil, nil, err
		}
	}

	half := b.gateChannels / 2

	filt, err := autodiff.Narrow(tape, h, 1, 0, half)
	if err != nil {
		return nil, nil, err
	}

	gate, err := autodiff.Narrow(tape, h, 1, half, half)
	if err != nil {
		return nil, nil, err
	}

	filt, err = autodiff.Tanh(tape, filt)
	if err != nil {
		return nil, nil, err
	}

	gate, err = autodiff.Sigmoid(tape, gate)
	if err != nil {
		return nil, nil, err
	}

	gated, err := autodiff.Mul(tape, filt, gate)
	if err != nil {
		return nil, nil, err
	}

	skip, err := autodiff.Conv1D(tape, gated, b.skipW, b.skipB, 1, 0, 1, 1)
	if err != nil {
		return nil, nil, err
	}

	out, err := autodiff.Conv1D(tape, gated, b.outW, b.outB, 1, 0, 1, 1)
	if err != nil {
		return nil, nil, err
	}

	res, err := autodiff.Add(tape, out, x)
	if err != nil {
		return nil, nil, err
	}

	res, err = autodiff.Scale(tape, res, sqrtHalf)
	if err != nil {
		return nil, nil, err
	}

	return res, skip, nil
}

// incrementalStep advances the block by exactly one timestep.
//
// x is the current block input [batch*residual]; cond the conditioning frame
// [batch*cin]; gcond the global embedding [batch*gin] or nil.  h and gated
// are caller-owned scratch of sizes [batch*gate] and [batch*gate/2].
// Results land in resOut [batch*residual] and skipOut [batch*skip].
//
// The work per call is O(kernel x channels), independent of how many steps
// have been generated: history lives in q and is never reprocessed.
func (b *ResidualBlock) incrementalStep(q *convQueue, x, cond, gcond []float32, batch int64, h, gated, resOut, skipOut []float32) {
	q.push(x)

	k := b.kernelSize
	rc := b.residualChannels
	gc := b.gateChannels
	half := gc / 2

	convW := b.convW.Value.RawData()
	convB := b.convB.Value.RawData()
	condW := b.condW.Value.RawData()
	outW := b.outW.Value.RawData()
	outB := b.outB.Value.RawData()
	skipW := b.skipW.Value.RawData()
	skipB := b.skipB.Value.RawData()

	// One tap per kernel position: kx reaches (k-1-kx)*dilation steps back,
	// the same offsets the left-padded parallel conv reads.
	taps := make([][]float32, k)
	for kx := range k {
		taps[kx] = q.tap((k - 1 - kx) * b.dilation)
	}

	for n := range batch {
		hBase := n * gc

		for oc := range gc {
			acc := float64(convB[oc])

			wBase := oc * rc * k
			for ic := range rc {
				for kx := range k {
					acc += float64(convW[wBase+ic*k+kx]) * float64(taps[kx][n*rc+ic])
				}
			}

			cBase := oc * b.cinChannels
			for ic := range b.cinChannels {
				acc += float64(condW[cBase+ic]) * float64(cond[n*b.cinChannels+ic])
			}

			h[hBase+oc] = float32(acc)
		}

		if gcond != nil && b.gcondW != nil {
			gcondW := b.gcondW.Value.RawData()

			for oc := range gc {
				acc := float64(h[hBase+oc])

				gBase := oc * b.ginChannels
				for ic := range b.ginChannels {
					acc += float64(gcondW[gBase+ic]) * float64(gcond[n*b.ginChannels+ic])
				}

				h[hBase+oc] = float32(acc)
			}
		}

		gBase := n * half
		for i := range half {
			filt := math.Tanh(float64(h[hBase+i]))
			gate := 1 / (1 + math.Exp(-float64(h[hBase+half+i])))
			gated[gBase+i] = float32(filt * gate)
		}

		for os := range b.skipChannels {
			acc := float64(skipB[os])

			wBase := os * half
			for i := range half {
				acc += float64(skipW[wBase+i]) * float64(gated[gBase+i])
			}

			skipOut[n*b.skipChannels+os] = float32(acc)
		}

		for oc := range rc {
			acc := float64(outB[oc])

			wBase := oc * half
			for i := range half {
				acc += float64(outW[wBase+i]) * float64(gated[gBase+i])
			}

			resOut[n*rc+oc] = float32((acc + float64(x[n*rc+oc])) * sqrtHalf)
		}
	}
}

// params returns the block's trainable tensors with stable names.
func (b *ResidualBlock) params(prefix string) []namedParam {
	out := []namedParam{
		{prefix + ".conv.weight", b.convW},
		{prefix + ".conv.bias", b.convB},
		{prefix + ".cond.weight", b.condW},
		{prefix + ".out.weight", b.outW},
		{prefix + ".out.bias", b.outB},
		{prefix + ".skip.weight", b.skipW},
		{prefix + ".skip.bias", b.skipB},
	}

	if b.gcondW != nil {
		out = append(out, namedParam{prefix + ".gcond.weight", b.gcondW})
	}

	return out
}
