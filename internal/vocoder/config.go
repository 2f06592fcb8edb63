package vocoder

import (
	"errors"
	"fmt"
)

// Input encodings for the waveform fed to the network.
const (
	InputRaw           = "raw"
	InputMuLaw         = "mulaw"
	InputMuLawQuantize = "mulaw-quantize"
)

// Output distributions for scalar input encodings.
const (
	DistLogistic = "Logistic"
	DistNormal   = "Normal"
)

// Upsampler modes.
const (
	UpsampleStretch    = "stretch"
	UpsampleTransposed = "transposed"
)

// Config describes the model architecture and training hyperparameters.
// It is validated once, before construction, and immutable afterwards.
type Config struct {
	QuantizeChannels int64 `mapstructure:"quantize_channels"`
	OutChannels      int64 `mapstructure:"out_channels"`

	Layers           int64 `mapstructure:"layers"`
	Stacks           int64 `mapstructure:"stacks"`
	ResidualChannels int64 `mapstructure:"residual_channels"`
	GateChannels     int64 `mapstructure:"gate_channels"`
	SkipOutChannels  int64 `mapstructure:"skip_out_channels"`
	KernelSize       int64 `mapstructure:"kernel_size"`

	CinChannels int64 `mapstructure:"cin_channels"`
	CinPad      int64 `mapstructure:"cin_pad"`
	GinChannels int64 `mapstructure:"gin_channels"`
	NSpeakers   int64 `mapstructure:"n_speakers"`

	Dropout float64 `mapstructure:"dropout"`

	UpsampleScales []int64 `mapstructure:"upsample_scales"`
	UpsampleMode   string  `mapstructure:"upsample_mode"`

	InputType          string `mapstructure:"input_type"`
	OutputDistribution string `mapstructure:"output_distribution"`

	LearningRate float64 `mapstructure:"learning_rate"`
	NIterations  int64   `mapstructure:"n_iterations"`
}

// DefaultConfig returns a small but complete model configuration.
func DefaultConfig() Config {
	return Config{
		QuantizeChannels:   256,
		OutChannels:        256,
		Layers:             12,
		Stacks:             2,
		ResidualChannels:   64,
		GateChannels:       64,
		SkipOutChannels:    64,
		KernelSize:         2,
		CinChannels:        80,
		CinPad:             0,
		GinChannels:        0,
		NSpeakers:          0,
		Dropout:            0.05,
		UpsampleScales:     []int64{4, 4, 4, 4},
		UpsampleMode:       UpsampleStretch,
		InputType:          InputMuLawQuantize,
		OutputDistribution: DistLogistic,
		LearningRate:       1e-3,
		NIterations:        1000,
	}
}

// ScalarInput reports whether the network consumes a single scalar amplitude
// channel (raw / mulaw) rather than a one-hot quantized vector.
func (c Config) ScalarInput() bool {
	return c.InputType != InputMuLawQuantize
}

// InChannels returns the channel count of the network input.
func (c Config) InChannels() int64 {
	if c.ScalarInput() {
		return 1
	}

	return c.QuantizeChannels
}

// MixtureComponents returns K for the mixture families, 0 for categorical.
func (c Config) MixtureComponents() int64 {
	if !c.ScalarInput() {
		return 0
	}

	return c.OutChannels / 3
}

// TotalScale returns the product of the upsample scale factors.
func (c Config) TotalScale() int64 {
	total := int64(1)
	for _, s := range c.UpsampleScales {
		total *= s
	}

	return total
}

// Validate checks the configuration; any violation is a fatal configuration
// error reported before model construction.
func (c Config) Validate() error {
	switch c.InputType {
	case InputRaw, InputMuLaw, InputMuLawQuantize:
	default:
		return fmt.Errorf("vocoder: unsupported input_type %q", c.InputType)
	}

	if c.ScalarInput() {
		switch c.OutputDistribution {
		case DistLogistic, DistNormal:
		default:
			return fmt.Errorf("vocoder: unsupported output_distribution %q", c.OutputDistribution)
		}

		if c.OutChannels <= 0 || c.OutChannels%3 != 0 {
			return fmt.Errorf("vocoder: out_channels must be a positive multiple of 3 for mixture outputs, got %d", c.OutChannels)
		}
	} else {
		if c.QuantizeChannels < 2 {
			return fmt.Errorf("vocoder: quantize_channels must be >= 2, got %d", c.QuantizeChannels)
		}

		if c.OutChannels != c.QuantizeChannels {
			return fmt.Errorf("vocoder: out_channels %d must equal quantize_channels %d for %s input", c.OutChannels, c.QuantizeChannels, InputMuLawQuantize)
		}
	}

	if c.Layers <= 0 || c.Stacks <= 0 {
		return errors.New("vocoder: layers and stacks must be > 0")
	}

	if c.Layers%c.Stacks != 0 {
		return fmt.Errorf("vocoder: layers %d must be divisible by stacks %d", c.Layers, c.Stacks)
	}

	if c.KernelSize < 2 {
		return fmt.Errorf("vocoder: kernel_size must be >= 2, got %d", c.KernelSize)
	}

	if c.ResidualChannels <= 0 || c.SkipOutChannels <= 0 {
		return errors.New("vocoder: residual_channels and skip_out_channels must be > 0")
	}

	if c.GateChannels <= 0 || c.GateChannels%2 != 0 {
		return fmt.Errorf("vocoder: gate_channels must be positive and even, got %d", c.GateChannels)
	}

	if c.CinChannels <= 0 {
		return fmt.Errorf("vocoder: cin_channels must be > 0, got %d", c.CinChannels)
	}

	if c.CinPad < 0 {
		return fmt.Errorf("vocoder: cin_pad must be >= 0, got %d", c.CinPad)
	}

	if c.GinChannels < 0 {
		return fmt.Errorf("vocoder: gin_channels must be >= 0, got %d", c.GinChannels)
	}

	if c.GinChannels > 0 && c.NSpeakers <= 0 {
		return errors.New("vocoder: global conditioning requires n_speakers > 0")
	}

	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("vocoder: dropout must be in [0, 1), got %g", c.Dropout)
	}

	if len(c.UpsampleScales) == 0 {
		return errors.New("vocoder: upsample_scales must not be empty")
	}

	for i, s := range c.UpsampleScales {
		if s <= 0 {
			return fmt.Errorf("vocoder: upsample_scales[%d] must be > 0, got %d", i, s)
		}
	}

	switch c.UpsampleMode {
	case UpsampleStretch, UpsampleTransposed:
	default:
		return fmt.Errorf("vocoder: unsupported upsample_mode %q", c.UpsampleMode)
	}

	if c.LearningRate <= 0 {
		return fmt.Errorf("vocoder: learning_rate must be > 0, got %g", c.LearningRate)
	}

	if c.NIterations < 0 {
		return fmt.Errorf("vocoder: n_iterations must be >= 0, got %d", c.NIterations)
	}

	return nil
}
