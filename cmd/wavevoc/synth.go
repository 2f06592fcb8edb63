package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-wavenet-vocoder/internal/audio"
	"github.com/example/go-wavenet-vocoder/internal/runtime/tensor"
	"github.com/example/go-wavenet-vocoder/internal/safetensors"
	"github.com/example/go-wavenet-vocoder/internal/vocoder"
)

func newSynthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "synth",
		Short: "Synthesize a waveform from conditioning features",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if cfg.Paths.Features == "" {
				return fmt.Errorf("synth: --paths-features is required")
			}

			rng := rand.New(rand.NewSource(cfg.Runtime.Seed))

			model, err := vocoder.NewModel(cfg.Model, rng)
			if err != nil {
				return err
			}

			if _, err := os.Stat(cfg.Paths.Checkpoint); err == nil {
				if err := vocoder.LoadCheckpoint(cfg.Paths.Checkpoint, model, nil); err != nil {
					return err
				}

				slog.Info("checkpoint loaded", "path", cfg.Paths.Checkpoint)
			} else {
				slog.Warn("no checkpoint found, synthesizing with random weights", "path", cfg.Paths.Checkpoint)
			}

			feat, shape, err := safetensors.LoadConditioning(cfg.Paths.Features)
			if err != nil {
				return err
			}

			cond, err := tensor.New(feat, shape)
			if err != nil {
				return err
			}

			if !cond.IsFinite() {
				return fmt.Errorf("synth: %s contains non-finite values", cfg.Paths.Features)
			}

			opts := vocoder.GenerateOptions{
				MaxSamples: cfg.Synth.MaxSamples,
				Argmax:     cfg.Synth.Argmax,
				Progress:   true,
			}
			if cfg.Model.GinChannels > 0 {
				opts.Speakers = []int64{cfg.Synth.Speaker}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			start := time.Now()

			waves, err := model.Generate(ctx, cond, opts, rng)
			if err != nil {
				return err
			}

			samples := waves[0]
			slog.Info("synthesis done",
				"samples", len(samples),
				"duration", time.Since(start).String(),
				"receptive_field", model.ReceptiveField())

			samples = audio.PostProcess(samples, cfg.Runtime.SampleRate, audio.PostOptions{
				Normalize: cfg.Synth.Normalize,
				DCBlock:   cfg.Synth.DCBlock,
				FadeInMs:  cfg.Synth.FadeInMs,
				FadeOutMs: cfg.Synth.FadeOutMs,
			})

			wav, err := audio.EncodeWAV(samples, cfg.Runtime.SampleRate)
			if err != nil {
				return err
			}

			if err := os.WriteFile(cfg.Paths.Output, wav, 0o644); err != nil {
				return fmt.Errorf("synth: write output: %w", err)
			}

			slog.Info("wrote waveform", "path", cfg.Paths.Output)

			return nil
		},
	}
}
