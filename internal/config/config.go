// Package config loads the wavevoc configuration from defaults, an optional
// config file, environment variables (WAVEVOC_ prefix), and CLI flags, in
// increasing order of precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/go-wavenet-vocoder/internal/vocoder"
)

type Config struct {
	Paths   PathsConfig    `mapstructure:"paths"`
	Runtime RuntimeConfig  `mapstructure:"runtime"`
	Model   vocoder.Config `mapstructure:"model"`
	Synth   SynthConfig    `mapstructure:"synth"`
}

type PathsConfig struct {
	Checkpoint string `mapstructure:"checkpoint"`
	Data       string `mapstructure:"data"`
	Features   string `mapstructure:"features"`
	Output     string `mapstructure:"output"`
}

type RuntimeConfig struct {
	ConvWorkers int   `mapstructure:"conv_workers"`
	Seed        int64 `mapstructure:"seed"`
	SampleRate  int   `mapstructure:"sample_rate"`
}

type SynthConfig struct {
	Speaker    int64   `mapstructure:"speaker"`
	MaxSamples int64   `mapstructure:"max_samples"`
	Argmax     bool    `mapstructure:"argmax"`
	Normalize  bool    `mapstructure:"normalize"`
	DCBlock    bool    `mapstructure:"dc_block"`
	FadeInMs   float64 `mapstructure:"fade_in_ms"`
	FadeOutMs  float64 `mapstructure:"fade_out_ms"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			Checkpoint: "checkpoint.safetensors",
			Data:       "data",
			Features:   "",
			Output:     "out.wav",
		},
		Runtime: RuntimeConfig{
			ConvWorkers: 0,
			Seed:        0,
			SampleRate:  22050,
		},
		Model: vocoder.DefaultConfig(),
		Synth: SynthConfig{
			Speaker:    0,
			MaxSamples: 0,
			Argmax:     false,
			Normalize:  false,
			DCBlock:    true,
			FadeInMs:   0,
			FadeOutMs:  0,
		},
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-checkpoint", defaults.Paths.Checkpoint, "Path to model checkpoint (.safetensors)")
	fs.String("paths-data", defaults.Paths.Data, "Training data directory with paired .safetensors/.wav files")
	fs.String("paths-features", defaults.Paths.Features, "Conditioning features file (.safetensors)")
	fs.String("paths-output", defaults.Paths.Output, "Output WAV path")
	fs.Int("runtime-conv-workers", defaults.Runtime.ConvWorkers, "Goroutines for parallel convolution (<=1 sequential)")
	fs.Int64("runtime-seed", defaults.Runtime.Seed, "Random seed for init and sampling")
	fs.Int("runtime-sample-rate", defaults.Runtime.SampleRate, "Audio sample rate in Hz")
	fs.Int64("model-quantize-channels", defaults.Model.QuantizeChannels, "Quantization bin count")
	fs.Int64("model-out-channels", defaults.Model.OutChannels, "Output distribution parameter channels")
	fs.Int64("model-layers", defaults.Model.Layers, "Total residual blocks")
	fs.Int64("model-stacks", defaults.Model.Stacks, "Dilation stack groups")
	fs.Int64("model-residual-channels", defaults.Model.ResidualChannels, "Residual path width")
	fs.Int64("model-gate-channels", defaults.Model.GateChannels, "Gated activation width")
	fs.Int64("model-skip-out-channels", defaults.Model.SkipOutChannels, "Skip path width")
	fs.Int64("model-kernel-size", defaults.Model.KernelSize, "Dilated conv kernel size")
	fs.Int64("model-cin-channels", defaults.Model.CinChannels, "Local conditioning channels")
	fs.Int64("model-cin-pad", defaults.Model.CinPad, "Conditioning padding frames")
	fs.Int64("model-gin-channels", defaults.Model.GinChannels, "Global conditioning channels (0 disables)")
	fs.Int64("model-n-speakers", defaults.Model.NSpeakers, "Speaker embedding rows")
	fs.Float64("model-dropout", defaults.Model.Dropout, "Dropout rate")
	fs.Int64Slice("model-upsample-scales", defaults.Model.UpsampleScales, "Per-layer conditioning upsample factors")
	fs.String("model-upsample-mode", defaults.Model.UpsampleMode, "Upsampler mode: stretch or transposed")
	fs.String("model-input-type", defaults.Model.InputType, "Input encoding: raw, mulaw, or mulaw-quantize")
	fs.String("model-output-distribution", defaults.Model.OutputDistribution, "Mixture family: Logistic or Normal")
	fs.Float64("model-learning-rate", defaults.Model.LearningRate, "Adam learning rate")
	fs.Int64("model-n-iterations", defaults.Model.NIterations, "Training iteration budget")
	fs.Int64("synth-speaker", defaults.Synth.Speaker, "Speaker id for global conditioning")
	fs.Int64("synth-max-samples", defaults.Synth.MaxSamples, "Cap on generated samples (0 = conditioning length)")
	fs.Bool("synth-argmax", defaults.Synth.Argmax, "Use argmax instead of sampling (categorical only)")
	fs.Bool("synth-normalize", defaults.Synth.Normalize, "Peak-normalize the output before WAV write")
	fs.Bool("synth-dc-block", defaults.Synth.DCBlock, "Apply DC-blocking high-pass before WAV write")
	fs.Float64("synth-fade-in-ms", defaults.Synth.FadeInMs, "Linear fade-in duration in milliseconds (0 disables)")
	fs.Float64("synth-fade-out-ms", defaults.Synth.FadeOutMs, "Linear fade-out duration in milliseconds (0 disables)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)

	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	registerAliases(v)

	v.SetEnvPrefix("WAVEVOC")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("wavevoc")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.checkpoint", c.Paths.Checkpoint)
	v.SetDefault("paths.data", c.Paths.Data)
	v.SetDefault("paths.features", c.Paths.Features)
	v.SetDefault("paths.output", c.Paths.Output)
	v.SetDefault("runtime.conv_workers", c.Runtime.ConvWorkers)
	v.SetDefault("runtime.seed", c.Runtime.Seed)
	v.SetDefault("runtime.sample_rate", c.Runtime.SampleRate)
	v.SetDefault("model.quantize_channels", c.Model.QuantizeChannels)
	v.SetDefault("model.out_channels", c.Model.OutChannels)
	v.SetDefault("model.layers", c.Model.Layers)
	v.SetDefault("model.stacks", c.Model.Stacks)
	v.SetDefault("model.residual_channels", c.Model.ResidualChannels)
	v.SetDefault("model.gate_channels", c.Model.GateChannels)
	v.SetDefault("model.skip_out_channels", c.Model.SkipOutChannels)
	v.SetDefault("model.kernel_size", c.Model.KernelSize)
	v.SetDefault("model.cin_channels", c.Model.CinChannels)
	v.SetDefault("model.cin_pad", c.Model.CinPad)
	v.SetDefault("model.gin_channels", c.Model.GinChannels)
	v.SetDefault("model.n_speakers", c.Model.NSpeakers)
	v.SetDefault("model.dropout", c.Model.Dropout)
	v.SetDefault("model.upsample_scales", c.Model.UpsampleScales)
	v.SetDefault("model.upsample_mode", c.Model.UpsampleMode)
	v.SetDefault("model.input_type", c.Model.InputType)
	v.SetDefault("model.output_distribution", c.Model.OutputDistribution)
	v.SetDefault("model.learning_rate", c.Model.LearningRate)
	v.SetDefault("model.n_iterations", c.Model.NIterations)
	v.SetDefault("synth.speaker", c.Synth.Speaker)
	v.SetDefault("synth.max_samples", c.Synth.MaxSamples)
	v.SetDefault("synth.argmax", c.Synth.Argmax)
	v.SetDefault("synth.normalize", c.Synth.Normalize)
	v.SetDefault("synth.dc_block", c.Synth.DCBlock)
	v.SetDefault("synth.fade_in_ms", c.Synth.FadeInMs)
	v.SetDefault("synth.fade_out_ms", c.Synth.FadeOutMs)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("paths.checkpoint", "paths-checkpoint")
	v.RegisterAlias("paths.data", "paths-data")
	v.RegisterAlias("paths.features", "paths-features")
	v.RegisterAlias("paths.output", "paths-output")
	v.RegisterAlias("runtime.conv_workers", "runtime-conv-workers")
	v.RegisterAlias("runtime.seed", "runtime-seed")
	v.RegisterAlias("runtime.sample_rate", "runtime-sample-rate")
	v.RegisterAlias("model.quantize_channels", "model-quantize-channels")
	v.RegisterAlias("model.out_channels", "model-out-channels")
	v.RegisterAlias("model.layers", "model-layers")
	v.RegisterAlias("model.stacks", "model-stacks")
	v.RegisterAlias("model.residual_channels", "model-residual-channels")
	v.RegisterAlias("model.gate_channels", "model-gate-channels")
	v.RegisterAlias("model.skip_out_channels", "model-skip-out-channels")
	v.RegisterAlias("model.kernel_size", "model-kernel-size")
	v.RegisterAlias("model.cin_channels", "model-cin-channels")
	v.RegisterAlias("model.cin_pad", "model-cin-pad")
	v.RegisterAlias("model.gin_channels", "model-gin-channels")
	v.RegisterAlias("model.n_speakers", "model-n-speakers")
	v.RegisterAlias("model.dropout", "model-dropout")
	v.RegisterAlias("model.upsample_scales", "model-upsample-scales")
	v.RegisterAlias("model.upsample_mode", "model-upsample-mode")
	v.RegisterAlias("model.input_type", "model-input-type")
	v.RegisterAlias("model.output_distribution", "model-output-distribution")
	v.RegisterAlias("model.learning_rate", "model-learning-rate")
	v.RegisterAlias("model.n_iterations", "model-n-iterations")
	v.RegisterAlias("synth.speaker", "synth-speaker")
	v.RegisterAlias("synth.max_samples", "synth-max-samples")
	v.RegisterAlias("synth.argmax", "synth-argmax")
	v.RegisterAlias("synth.normalize", "synth-normalize")
	v.RegisterAlias("synth.dc_block", "synth-dc-block")
	v.RegisterAlias("synth.fade_in_ms", "synth-fade-in-ms")
	v.RegisterAlias("synth.fade_out_ms", "synth-fade-out-ms")
}
