package autodiff

import (
	"errors"

	"github.com/example/go-wavenet-vocoder/internal/runtime/ops"
	"github.com/example/go-wavenet-vocoder/internal/runtime/tensor"
)

// Conv1D is the differentiable form of ops.Conv1D (symmetric zero padding).
// bias may be nil.
func Conv1D(t *Tape, x, weight, bias *Var, stride, padding, dilation, groups int64) (*Var, error) {
	return conv1D(t, x, weight, bias, stride, padding, padding, dilation, groups)
}

// Conv1DCausal is the differentiable form of ops.Conv1DLeftPad: zero padding
// only on the left of the time axis.
func Conv1DCausal(t *Tape, x, weight, bias *Var, stride, leftPad, dilation, groups int64) (*Var, error) {
	return conv1D(t, x, weight, bias, stride, leftPad, 0, dilation, groups)
}

func conv1D(t *Tape, x, weight, bias *Var, stride, leftPad, rightPad, dilation, groups int64) (*Var, error) {
	if x == nil || weight == nil {
		return nil, errors.New("autodiff: conv1d requires non-nil input/weight")
	}

	var biasT *tensor.Tensor
	if bias != nil {
		biasT = bias.Value
	}

	var (
		val *tensor.Tensor
		err error
	)

	if rightPad == 0 {
		val, err = ops.Conv1DLeftPad(x.Value, weight.Value, biasT, stride, leftPad, dilation, groups)
	} else {
		val, err = ops.Conv1D(x.Value, weight.Value, biasT, stride, leftPad, dilation, groups)
	}

	if err != nil {
		return nil, err
	}

	out := result(t, val, x, weight, bias)
	if !out.RequiresGrad() {
		return out, nil
	}

	inShape := x.Value.Shape()
	outShape := val.Shape()
	kShape := weight.Value.Shape()

	batch := inShape[0]
	inChannels := inShape[1]
	length := inShape[2]
	outChannels := outShape[1]
	outLength := outShape[2]
	kInChannels := kShape[1]
	kernelSize := kShape[2]

	inPerGroup := inChannels / groups
	outPerGroup := outChannels / groups

	xd := x.Value.RawData()
	wd := weight.Value.RawData()

	t.Record(func() {
		for b := range batch {
			for oc := range outChannels {
				g := oc / outPerGroup
				inStart := g * inPerGroup

				for ox := range outLength {
					gout := out.Grad[((b*outChannels+oc)*outLength)+ox]
					if gout == 0 {
						continue
					}

					if bias.RequiresGrad() {
						bias.Grad[oc] += gout
					}

					for ic := range inPerGroup {
						inC := inStart + ic

						for kx := range kernelSize {
							inPos := ox*stride - leftPad + kx*dilation
							if inPos < 0 || inPos >= length {
								continue
							}

							inputIdx := ((b*inChannels + inC) * length) + inPos
							kernelIdx := ((oc*kInChannels + ic) * kernelSize) + kx

							if x.RequiresGrad() {
								x.Grad[inputIdx] += gout * wd[kernelIdx]
							}

							if weight.RequiresGrad() {
								weight.Grad[kernelIdx] += gout * xd[inputIdx]
							}
						}
					}
				}
			}
		}
	})

	return out, nil
}

// ConvTranspose1D is the differentiable form of ops.ConvTranspose1D.
// bias may be nil.
func ConvTranspose1D(t *Tape, x, weight, bias *Var, stride, padding, outputPadding, dilation, groups int64) (*Var, error) {
	if x == nil || weight == nil {
		return nil, errors.New("autodiff: convtranspose1d requires non-nil input/weight")
	}

	var biasT *tensor.Tensor
	if bias != nil {
		biasT = bias.Value
	}

	val, err := ops.ConvTranspose1D(x.Value, weight.Value, biasT, stride, padding, outputPadding, dilation, groups)
	if err != nil {
		return nil, err
	}

	out := result(t, val, x, weight, bias)
	if !out.RequiresGrad() {
		return out, nil
	}

	inShape := x.Value.Shape()
	outShape := val.Shape()
	kShape := weight.Value.Shape()

	batch := inShape[0]
	inChannels := inShape[1]
	inLength := inShape[2]
	outChannels := outShape[1]
	outLength := outShape[2]
	outPerGroup := kShape[1]
	kernelSize := kShape[2]

	inPerGroup := inChannels / groups

	xd := x.Value.RawData()
	wd := weight.Value.RawData()

	t.Record(func() {
		if bias.RequiresGrad() {
			for b := range batch {
				for oc := range outChannels {
					base := (b*outChannels + oc) * outLength
					for ox := range outLength {
						bias.Grad[oc] += out.Grad[base+ox]
					}
				}
			}
		}

		for b := range batch {
			for ic := range inChannels {
				g := ic / inPerGroup
				ocBase := g * outPerGroup

				for ix := range inLength {
					inputIdx := ((b*inChannels + ic) * inLength) + ix

					for ocg := range outPerGroup {
						oc := ocBase + ocg

						for kx := range kernelSize {
							outPos := ix*stride - padding + kx*dilation
							if outPos < 0 || outPos >= outLength {
								continue
							}

							kernelIdx := ((ic*outPerGroup + ocg) * kernelSize) + kx
							gout := out.Grad[((b*outChannels+oc)*outLength)+outPos]

							if x.RequiresGrad() {
								x.Grad[inputIdx] += gout * wd[kernelIdx]
							}

							if weight.RequiresGrad() {
								weight.Grad[kernelIdx] += gout * xd[inputIdx]
							}
						}
					}
				}
			}
		}
	})

	return out, nil
}
