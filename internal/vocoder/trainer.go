package vocoder

import (
	"fmt"

	"github.com/example/go-wavenet-vocoder/internal/runtime/autodiff"
	"github.com/example/go-wavenet-vocoder/internal/runtime/tensor"
)

// Trainer drives optimization of a model: per-batch loss, backprop, and the
// Adam step, one atomic unit per TrainStep call.  Training calls must be
// serialized against generation calls on the same model.
type Trainer struct {
	model *Model
	crit  Criterion
	opt   *autodiff.Adam

	iteration int64
	maxIters  int64
}

// NewTrainer builds the criterion and optimizer for the model's
// configuration.
func NewTrainer(m *Model) (*Trainer, error) {
	crit, err := NewCriterion(m.cfg)
	if err != nil {
		return nil, err
	}

	opt, err := autodiff.NewAdam(m.Params(), float32(m.cfg.LearningRate))
	if err != nil {
		return nil, err
	}

	return &Trainer{
		model:    m,
		crit:     crit,
		opt:      opt,
		maxIters: m.cfg.NIterations,
	}, nil
}

// Model returns the trained model.
func (tr *Trainer) Model() *Model { return tr.model }

// Optimizer exposes the Adam state for checkpointing.
func (tr *Trainer) Optimizer() *autodiff.Adam { return tr.opt }

// Iteration returns the number of completed TrainStep calls.
func (tr *Trainer) Iteration() int64 { return tr.iteration }

// SetIteration restores the step counter when resuming from a checkpoint.
func (tr *Trainer) SetIteration(n int64) { tr.iteration = n }

// IsDone reports whether the iteration budget is exhausted.
func (tr *Trainer) IsDone() bool { return tr.iteration >= tr.maxIters }

// Loss encodes the batch, runs the parallel forward pass, and computes the
// configured negative log-likelihood.  cond: [batch, cin, frames]; wave:
// [batch, T] raw amplitudes in [-1, 1]; speakers: one id per batch entry
// (nil without global conditioning).
//
// The target is the input shifted by one sample, and the loss covers every
// timestep except the last (there is no target beyond the window).  NaN or
// Inf losses are returned as-is; the caller decides whether to retry the
// batch.
func (tr *Trainer) Loss(tape *autodiff.Tape, cond, wave *tensor.Tensor, speakers []int64) (*autodiff.Var, error) {
	input, target, err := tr.encode(wave)
	if err != nil {
		return nil, err
	}

	m := tr.model
	steps := input.Value.Dim(2)

	up, err := m.UpsampleCond(tape, autodiff.NewVar(cond))
	if err != nil {
		return nil, err
	}

	if got := up.Value.Dim(2); got < steps {
		return nil, fmt.Errorf("vocoder: upsampled conditioning length %d is shorter than waveform length %d", got, steps)
	} else if got > steps {
		up, err = autodiff.Narrow(tape, up, 2, 0, steps)
		if err != nil {
			return nil, err
		}
	}

	var g *autodiff.Var

	if m.embed != nil {
		g, err = m.SpeakerEmbedding(tape, speakers, steps)
		if err != nil {
			return nil, err
		}
	}

	logits, err := m.Forward(tape, input, up, g)
	if err != nil {
		return nil, err
	}

	// Predict sample t+1 from samples <= t: score positions [0, T-1)
	// against the target shifted left by one.
	logits, err = autodiff.Narrow(tape, logits, 2, 0, steps-1)
	if err != nil {
		return nil, err
	}

	shifted, err := target.Narrow(1, 1, steps-1)
	if err != nil {
		return nil, err
	}

	return tr.crit.Loss(tape, logits, shifted)
}

// TrainStep runs one atomic optimization step: loss, zero-grad, backprop,
// Adam update.  Returns the scalar loss value.
func (tr *Trainer) TrainStep(cond, wave *tensor.Tensor, speakers []int64) (float32, error) {
	tape := autodiff.NewTape()

	loss, err := tr.Loss(tape, cond, wave, speakers)
	if err != nil {
		return 0, err
	}

	tr.opt.ZeroGrad()

	if err := tape.Backward(loss); err != nil {
		return 0, err
	}

	tr.opt.Step()
	tr.iteration++

	return loss.Value.RawData()[0], nil
}

// ValidationLosses computes the loss without touching gradients or
// parameters.
func (tr *Trainer) ValidationLosses(cond, wave *tensor.Tensor, speakers []int64) (map[string]float32, error) {
	loss, err := tr.Loss(nil, cond, wave, speakers)
	if err != nil {
		return nil, err
	}

	return map[string]float32{"nll_loss": loss.Value.RawData()[0]}, nil
}

// encode converts a raw waveform [batch, T] to the network input
// [batch, in, T] and the loss target [batch, T] for the configured
// encoding.
func (tr *Trainer) encode(wave *tensor.Tensor) (*autodiff.Var, *tensor.Tensor, error) {
	if wave == nil || wave.Rank() != 2 {
		return nil, nil, fmt.Errorf("vocoder: training expects waveform [batch, T]")
	}

	cfg := tr.model.cfg
	batch, steps := wave.Dim(0), wave.Dim(1)
	wd := wave.RawData()

	switch cfg.InputType {
	case InputRaw, InputMuLaw:
		encoded := wave.Clone()

		ed := encoded.RawData()
		if cfg.InputType == InputMuLaw {
			// Compand through the label grid so inputs and targets sit on
			// the same quantize_channels levels the sampler produces.
			for i, v := range wd {
				label := MuLawQuantize(v, cfg.QuantizeChannels)
				ed[i] = LabelToFloat(label, cfg.QuantizeChannels)
			}
		}

		input, err := encoded.Reshape([]int64{batch, 1, steps})
		if err != nil {
			return nil, nil, err
		}

		return autodiff.NewVar(input), encoded, nil

	case InputMuLawQuantize:
		labels := make([][]int64, batch)
		target, err := tensor.Zeros([]int64{batch, steps})
		if err != nil {
			return nil, nil, err
		}

		td := target.RawData()

		for b := range batch {
			labels[b] = make([]int64, steps)

			for t := range steps {
				label := MuLawQuantize(wd[b*steps+t], cfg.QuantizeChannels)
				labels[b][t] = label
				td[b*steps+t] = float32(label)
			}
		}

		input, err := OneHot(labels, cfg.QuantizeChannels)
		if err != nil {
			return nil, nil, err
		}

		return autodiff.NewVar(input), target, nil

	default:
		return nil, nil, fmt.Errorf("vocoder: unsupported input_type %q", cfg.InputType)
	}
}
