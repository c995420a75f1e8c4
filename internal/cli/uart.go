package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/born-ml/yolo/internal/input"
	"github.com/born-ml/yolo/internal/platform"
	"github.com/born-ml/yolo/internal/postprocess"
)

func newUARTCmd(a *app) *cobra.Command {
	var (
		in     string
		outDir string
		image  string
	)
	cmd := &cobra.Command{
		Use:   "uart",
		Short: "Decode a captured serial detection dump",
		Long: "Reads a serial capture containing a YOLO hex dump (boot and log lines are\n" +
			"skipped), optionally saves it as detections.bin and prints the detections.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}

			var r io.Reader = cmd.InOrStdin()
			if in != "-" {
				//nolint:gosec // G304: capture path is user supplied
				f, err := os.Open(in)
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				r = f
			}
			records, err := postprocess.ReadHex(r)
			if err != nil {
				return err
			}

			dets := make([]postprocess.Detection, len(records))
			for i, rec := range records {
				dets[i] = rec.Detection(cfg.InputSize)
			}
			if outDir != "" {
				if err := platform.NewHost(outDir, a.logger).Publish(dets, cfg.InputSize); err != nil {
					return err
				}
			}

			var img *input.Image
			if image != "" {
				if img, err = input.Open(image); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d detections\n", len(records))
			for _, rec := range records {
				fmt.Fprintf(out, "%s %d%% x=%d y=%d w=%d h=%d\n",
					postprocess.ClassName(int(rec.Class)), int(rec.Conf)*100/255, rec.X, rec.Y, rec.W, rec.H)
			}
			if img != nil {
				printBoxes(out, img, dets)
			}
			if outDir != "" {
				fmt.Fprintf(out, "Saved to %s\n", filepath.Join(outDir, platform.DetectionsFile))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "-", "Serial capture file, - for stdin")
	cmd.Flags().StringVar(&outDir, "out", "", "Also write detections.bin into this directory")
	cmd.Flags().StringVar(&image, "image", "", "Preprocessed image whose header maps boxes to original pixels")
	return cmd
}
