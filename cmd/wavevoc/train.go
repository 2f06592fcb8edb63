package main

import (
	"log/slog"
	"math"
	"math/rand"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/example/go-wavenet-vocoder/internal/vocoder"
)

func newTrainCmd() *cobra.Command {
	var synthetic bool

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the vocoder on paired feature/waveform files",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			rng := rand.New(rand.NewSource(cfg.Runtime.Seed))

			model, err := vocoder.NewModel(cfg.Model, rng)
			if err != nil {
				return err
			}

			trainer, err := vocoder.NewTrainer(model)
			if err != nil {
				return err
			}

			if _, err := os.Stat(cfg.Paths.Checkpoint); err == nil {
				if err := vocoder.LoadCheckpoint(cfg.Paths.Checkpoint, model, trainer); err != nil {
					return err
				}

				slog.Info("resumed from checkpoint",
					"path", cfg.Paths.Checkpoint,
					"iteration", trainer.Iteration())
			}

			var ds vocoder.Dataset
			if synthetic {
				ds = vocoder.NewSyntheticDataset(cfg.Model, 8)
			} else {
				ds, err = vocoder.NewDirDataset(cfg.Paths.Data, cfg.Model, cfg.Runtime.SampleRate)
				if err != nil {
					return err
				}
			}

			slog.Info("training",
				"examples", ds.Len(),
				"iterations", cfg.Model.NIterations,
				"parameters", model.ParamCount())

			bar := progressbar.Default(cfg.Model.NIterations-trainer.Iteration(), "train")

			for !trainer.IsDone() {
				batch, err := ds.Next()
				if err != nil {
					return err
				}

				loss, err := trainer.TrainStep(batch.Cond, batch.Wave, batch.Speakers)
				if err != nil {
					return err
				}

				if math.IsNaN(float64(loss)) || math.IsInf(float64(loss), 0) {
					slog.Error("non-finite loss, stopping", "iteration", trainer.Iteration())
					break
				}

				_ = bar.Add(1)

				if trainer.Iteration()%100 == 0 {
					val, err := trainer.ValidationLosses(batch.Cond, batch.Wave, batch.Speakers)
					if err != nil {
						return err
					}

					slog.Info("progress",
						"iteration", trainer.Iteration(),
						"loss", loss,
						"nll_loss", val["nll_loss"])
				}
			}

			_ = bar.Finish()

			if err := vocoder.SaveCheckpoint(cfg.Paths.Checkpoint, model, trainer); err != nil {
				return err
			}

			slog.Info("checkpoint saved",
				"path", cfg.Paths.Checkpoint,
				"iteration", trainer.Iteration())

			return nil
		},
	}

	cmd.Flags().BoolVar(&synthetic, "synthetic", false, "Train on the built-in synthetic dataset")

	return cmd
}
