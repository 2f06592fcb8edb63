package vocoder

import (
	"fmt"

	"github.com/example/go-wavenet-vocoder/internal/runtime/autodiff"
	"github.com/example/go-wavenet-vocoder/internal/runtime/tensor"
)

// Upsampler expands a conditioning sequence of length L to length
// L x product(scales), channel count unchanged.  Two modes:
//
//   - "stretch": nearest-neighbor repeat by s followed by a same-length
//     depthwise smoothing conv (kernel 2s+1, padding s, weights 1/(2s+1)).
//   - "transposed": depthwise ConvTranspose1D with kernel == stride == s.
//
// When cinPad > 0, cinPad x product(scales) frames are trimmed from each
// side of the output.
type Upsampler struct {
	mode     string
	channels int64
	scales   []int64
	cinPad   int64
	weights  []*autodiff.Var
}

// NewUpsampler builds the per-scale layer cascade.
func NewUpsampler(cfg Config) (*Upsampler, error) {
	u := &Upsampler{
		mode:     cfg.UpsampleMode,
		channels: cfg.CinChannels,
		scales:   append([]int64(nil), cfg.UpsampleScales...),
		cinPad:   cfg.CinPad,
	}

	for _, s := range u.scales {
		switch u.mode {
		case UpsampleStretch:
			k := 2*s + 1
			u.weights = append(u.weights, constParam([]int64{u.channels, 1, k}, float32(1)/float32(k)))
		case UpsampleTransposed:
			u.weights = append(u.weights, constParam([]int64{u.channels, 1, s}, 1))
		default:
			return nil, fmt.Errorf("vocoder: unsupported upsample_mode %q", u.mode)
		}
	}

	return u, nil
}

// TotalScale returns the product of the scale factors.
func (u *Upsampler) TotalScale() int64 {
	total := int64(1)
	for _, s := range u.scales {
		total *= s
	}

	return total
}

// Forward upsamples c [batch, channels, frames] to [batch, channels,
// frames x TotalScale], minus the trimmed cin_pad margin.
func (u *Upsampler) Forward(tape *autodiff.Tape, c *autodiff.Var) (*autodiff.Var, error) {
	if c == nil {
		return nil, fmt.Errorf("vocoder: upsample requires non-nil conditioning")
	}

	if got := c.Value.Dim(1); got != u.channels {
		return nil, fmt.Errorf("vocoder: upsample expects %d conditioning channels, got %d", u.channels, got)
	}

	h := c

	for i, s := range u.scales {
		var err error

		switch u.mode {
		case UpsampleStretch:
			h, err = repeatTime(tape, h, s)
			if err != nil {
				return nil, err
			}

			h, err = autodiff.Conv1D(tape, h, u.weights[i], nil, 1, s, 1, u.channels)
		case UpsampleTransposed:
			h, err = autodiff.ConvTranspose1D(tape, h, u.weights[i], nil, s, 0, 0, 1, u.channels)
		}

		if err != nil {
			return nil, err
		}
	}

	if u.cinPad > 0 {
		margin := u.cinPad * u.TotalScale()

		length := h.Value.Dim(2) - 2*margin
		if length <= 0 {
			return nil, fmt.Errorf("vocoder: conditioning too short to trim cin_pad margin %d", margin)
		}

		var err error

		h, err = autodiff.Narrow(tape, h, 2, margin, length)
		if err != nil {
			return nil, err
		}
	}

	return h, nil
}

// Params returns the trainable layer weights in cascade order.
func (u *Upsampler) Params() []*autodiff.Var {
	return append([]*autodiff.Var(nil), u.weights...)
}

// repeatTime repeats every timestep s times along dim 2; gradients sum over
// each repeated group.
func repeatTime(tape *autodiff.Tape, x *autodiff.Var, s int64) (*autodiff.Var, error) {
	if s == 1 {
		return x, nil
	}

	shape := x.Value.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("vocoder: repeatTime expects rank 3, got %v", shape)
	}

	b, c, steps := shape[0], shape[1], shape[2]

	val, err := tensor.Zeros([]int64{b, c, steps * s})
	if err != nil {
		return nil, err
	}

	xd := x.Value.RawData()
	vd := val.RawData()

	sI := int(s)
	for i, v := range xd {
		base := i * sI
		for r := range sI {
			vd[base+r] = v
		}
	}

	out := newResult(tape, val, x.RequiresGrad())
	if out.RequiresGrad() {
		tape.Record(func() {
			for i := range x.Grad {
				base := i * sI

				var sum float32
				for r := range sI {
					sum += out.Grad[base+r]
				}

				x.Grad[i] += sum
			}
		})
	}

	return out, nil
}
