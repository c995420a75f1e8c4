package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/born-ml/yolo/internal/input"
	"github.com/born-ml/yolo/internal/pipeline"
	"github.com/born-ml/yolo/internal/weights"
)

func newSynthCmd(a *app) *cobra.Command {
	var (
		outDir      string
		seed        int64
		compression string
	)
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Write a deterministic random weight file and a blank image",
		Long: "Generates every tensor the network reads with seeded Xavier initialisation,\n" +
			"plus a letterbox-grey preprocessed image, sized for the configured input.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			comp, err := weights.ParseCompression(compression)
			if err != nil {
				return err
			}
			plan, err := pipeline.NewPlan(cfg.InputSize, cfg.NumClasses)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o750); err != nil {
				return err
			}

			name := "weights.bin"
			switch comp {
			case weights.CompressionZstd:
				name += ".zst"
			case weights.CompressionLZ4:
				name += ".lz4"
			}
			weightsPath := filepath.Join(outDir, name)
			tensors := pipeline.SyntheticWeights(plan, seed)
			if err := weights.WriteFile(weightsPath, tensors, comp); err != nil {
				return err
			}

			imagePath := filepath.Join(outDir, "image.bin")
			//nolint:gosec // G304: output path is user supplied
			f, err := os.Create(imagePath)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := f.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()
			if err := input.Blank(cfg.InputSize).Encode(f); err != nil {
				return err
			}

			a.logger.Info().Int64("seed", seed).Int("tensors", len(tensors)).Msg("synthetic weights written")
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", weightsPath, imagePath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", ".", "Output directory")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Random seed")
	cmd.Flags().StringVar(&compression, "compression", "none", "Weight compression: none|zstd|lz4")
	return cmd
}
