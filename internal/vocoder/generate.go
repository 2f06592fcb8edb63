package vocoder

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/schollz/progressbar/v3"

	"github.com/example/go-wavenet-vocoder/internal/runtime/autodiff"
	"github.com/example/go-wavenet-vocoder/internal/runtime/tensor"
)

// GenerateOptions tunes one generation call.
type GenerateOptions struct {
	// Speakers holds one speaker id per batch entry; required when the
	// model uses global conditioning, ignored otherwise.
	Speakers []int64

	// MaxSamples caps the generated length; 0 means the full upsampled
	// conditioning length.
	MaxSamples int64

	// Argmax replaces the categorical draw with the most likely label.
	// Ignored by the mixture families.
	Argmax bool

	// Progress renders a per-timestep progress bar on stderr.
	Progress bool
}

// Generate synthesizes one waveform per batch entry from conditioning
// frames [batch, cin, frames].
//
// The loop is strictly sequential: the sample drawn at t seeds the input at
// t+1, starting from silence.  All per-block caches live in a state value
// created here and dropped on return, so concurrent generation calls on the
// same model cannot interfere.  Cancellation via ctx is honored between
// timesteps; a cancelled call returns ctx's error and no samples.
func (m *Model) Generate(ctx context.Context, cond *tensor.Tensor, opts GenerateOptions, rng *rand.Rand) ([][]float32, error) {
	if cond == nil || cond.Rank() != 3 {
		return nil, fmt.Errorf("vocoder: generate expects conditioning [batch, channels, frames]")
	}

	if rng == nil {
		return nil, fmt.Errorf("vocoder: generate requires a random source")
	}

	batch := cond.Dim(0)

	upsampled, err := m.UpsampleCond(nil, autodiff.NewVar(cond))
	if err != nil {
		return nil, err
	}

	steps := upsampled.Value.Dim(2)
	if opts.MaxSamples > 0 && steps > opts.MaxSamples {
		steps = opts.MaxSamples
	}

	gcond, err := m.generateGlobalCond(opts.Speakers, batch)
	if err != nil {
		return nil, err
	}

	sampler := m.sampler
	if cat, ok := sampler.(*CategoricalSampler); ok && opts.Argmax {
		sampler = &CategoricalSampler{Classes: cat.Classes, Argmax: true}
	}

	cfg := m.cfg
	st := m.newGenState(batch)

	inCh := cfg.InChannels()
	x := make([]float32, batch*inCh)
	condFrame := make([]float32, batch*cfg.CinChannels)
	upData := upsampled.Value.RawData()
	upSteps := upsampled.Value.Dim(2)

	history := make([][]float32, batch)
	for n := range history {
		history[n] = make([]float32, 0, steps)
	}

	// x starts all-zero: the first step sees a zero input vector for both
	// the scalar and one-hot encodings.

	var bar *progressbar.ProgressBar
	if opts.Progress {
		bar = progressbar.Default(steps, "synth")
	}

	for t := range steps {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("vocoder: generation cancelled at step %d: %w", t, err)
		}

		for n := range batch {
			for c := range cfg.CinChannels {
				condFrame[n*cfg.CinChannels+c] = upData[(n*cfg.CinChannels+c)*upSteps+t]
			}
		}

		params := m.stepOnce(st, x, condFrame, gcond, batch)

		for n := range batch {
			sample := sampler.Sample(params[n*cfg.OutChannels:(n+1)*cfg.OutChannels], rng)
			history[n] = append(history[n], sample)

			// The drawn sample becomes the next input.
			if cfg.ScalarInput() {
				x[n] = sample
			} else {
				for c := range inCh {
					x[n*inCh+c] = 0
				}

				x[n*inCh+int64(sample)] = 1
			}
		}

		if bar != nil {
			_ = bar.Add(1)
		}
	}

	if bar != nil {
		_ = bar.Finish()
	}

	return m.decodeHistory(history), nil
}

func (m *Model) generateGlobalCond(speakers []int64, batch int64) ([]float32, error) {
	if m.embed == nil {
		return nil, nil
	}

	if int64(len(speakers)) != batch {
		return nil, fmt.Errorf("vocoder: expected %d speaker ids, got %d", batch, len(speakers))
	}

	rows, err := m.embed.Value.Gather(0, speakers)
	if err != nil {
		return nil, err
	}

	return rows.RawData(), nil
}

// decodeHistory applies the inverse label transform of the configured input
// encoding to the accumulated samples.
func (m *Model) decodeHistory(history [][]float32) [][]float32 {
	switch m.cfg.InputType {
	case InputMuLawQuantize:
		for _, seq := range history {
			for i, label := range seq {
				seq[i] = MuLawDequantize(int64(label), m.cfg.QuantizeChannels)
			}
		}
	case InputMuLaw:
		// Snap the continuous draw to the label grid before expanding,
		// mirroring the training-side encoding.
		for _, seq := range history {
			for i, v := range seq {
				seq[i] = MuLawDequantize(FloatToLabel(v, m.cfg.QuantizeChannels), m.cfg.QuantizeChannels)
			}
		}
	}

	return history
}
