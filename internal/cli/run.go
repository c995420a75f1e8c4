package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/born-ml/yolo/internal/input"
	"github.com/born-ml/yolo/internal/pipeline"
	"github.com/born-ml/yolo/internal/platform"
	"github.com/born-ml/yolo/internal/postprocess"
	"github.com/born-ml/yolo/internal/weights"
)

type runOptions struct {
	weights    string
	image      string
	outDir     string
	metricsOut string
	serialOut  string
	threads    int
	platform   string
	boxes      bool
}

func newRunCmd(a *app) *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run inference on a preprocessed image",
		Example: "  yolo run --weights assets/weights.bin --image data/input/preprocessed_image.bin\n" +
			"  yolo run --weights w.bin.zst --image img.bin --metrics-out metrics.prom --log-level debug",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.weights, "weights", "assets/weights.bin", "Weight file, optionally zstd or lz4 compressed")
	f.StringVar(&o.image, "image", "data/input/preprocessed_image.bin", "Preprocessed image file")
	f.StringVar(&o.outDir, "out", "data/output", "Directory receiving detections.bin (host platform)")
	f.StringVar(&o.metricsOut, "metrics-out", "", "Write Prometheus text metrics to this file")
	f.StringVar(&o.serialOut, "serial-out", "", "File receiving the serial dump (bare-metal platform, default stdout)")
	f.IntVar(&o.threads, "threads", 1, "Kernel worker count, 0 for one per CPU")
	f.StringVar(&o.platform, "platform", "", "Override the configured platform: host|baremetal")
	f.BoolVar(&o.boxes, "boxes", false, "Print every detection in original image pixels")
	return cmd
}

func (a *app) run(cmd *cobra.Command, o runOptions) (err error) {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("threads") {
		cfg.Threads = o.threads
	}
	if o.platform != "" {
		cfg.Platform = o.platform
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var (
		store *weights.Store
		img   *input.Image
	)
	g, _ := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		s, err := weights.Open(o.weights)
		store = s
		return err
	})
	g.Go(func() error {
		im, err := input.Open(o.image)
		img = im
		return err
	})
	if err := g.Wait(); err != nil {
		if store != nil {
			_ = store.Close()
		}
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	a.logger.Info().
		Int("tensors", store.Len()).
		Stringer("compression", store.Compression()).
		Int("image_w", img.OrigW).
		Int("image_h", img.OrigH).
		Msg("inputs loaded")

	if img.Size != cfg.InputSize {
		return fmt.Errorf("image size %d does not match input size %d", img.Size, cfg.InputSize)
	}

	serial := cmd.OutOrStdout()
	if o.serialOut != "" {
		//nolint:gosec // G304: output path is user supplied
		f, err := os.Create(o.serialOut)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		serial = f
	}
	pl, err := platform.New(cfg, platform.Options{OutDir: o.outDir, Serial: serial, Logger: a.logger})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	p, err := pipeline.New(cfg, store,
		pipeline.WithLogger(a.logger),
		pipeline.WithMetrics(pipeline.NewMetrics(reg)),
		pipeline.WithPlatform(pl),
	)
	if err != nil {
		return err
	}

	res, err := p.Detect(cmd.Context(), img.Pixels)
	if err != nil {
		return err
	}
	if err := p.Publish(res.Detections); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	kept := res.Detections[:min(len(res.Detections), postprocess.MaxRecords)]
	fmt.Fprintf(out, "Decoded: %d detections\n", res.Candidates)
	fmt.Fprintf(out, "After NMS: %d detections\n", len(res.Detections))
	fmt.Fprintf(out, "Arena peak: %d of %d bytes\n", res.Stats.Peak, p.Arena().Capacity())
	fmt.Fprintf(out, "Summary: %d | %s\n", len(kept), postprocess.Summary(kept, cfg.InputSize))
	if o.boxes {
		printBoxes(out, img, kept)
	}

	if o.metricsOut != "" {
		if err := writeMetrics(reg, o.metricsOut); err != nil {
			return err
		}
	}
	return nil
}

func printBoxes(w io.Writer, img *input.Image, dets []postprocess.Detection) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLASS\tCONF\tX1\tY1\tX2\tY2")
	for _, d := range dets {
		b := img.ToOriginal(d.X, d.Y, d.W, d.H)
		fmt.Fprintf(tw, "%s\t%.2f\t%.0f\t%.0f\t%.0f\t%.0f\n",
			postprocess.ClassName(d.Class), d.Conf, b.X1, b.Y1, b.X2, b.Y2)
	}
	_ = tw.Flush()
}

func writeMetrics(g prometheus.Gatherer, path string) (err error) {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	//nolint:gosec // G304: output path is user supplied
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	enc := expfmt.NewEncoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	return nil
}
