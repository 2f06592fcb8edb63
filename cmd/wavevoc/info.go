package main

import (
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/example/go-wavenet-vocoder/internal/vocoder"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print model architecture summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			model, err := vocoder.NewModel(cfg.Model, rand.New(rand.NewSource(cfg.Runtime.Seed)))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "input type:          %s\n", cfg.Model.InputType)

			if cfg.Model.ScalarInput() {
				fmt.Fprintf(out, "output distribution: %s (K=%d)\n", cfg.Model.OutputDistribution, cfg.Model.MixtureComponents())
			} else {
				fmt.Fprintf(out, "output distribution: categorical (%d bins)\n", cfg.Model.QuantizeChannels)
			}

			fmt.Fprintf(out, "layers:              %d (%d stacks)\n", cfg.Model.Layers, cfg.Model.Stacks)
			fmt.Fprintf(out, "upsample:            %v (%s, total %d)\n", cfg.Model.UpsampleScales, cfg.Model.UpsampleMode, cfg.Model.TotalScale())
			fmt.Fprintf(out, "receptive field:     %d samples\n", model.ReceptiveField())
			fmt.Fprintf(out, "parameters:          %d\n", model.ParamCount())

			return nil
		},
	}
}
