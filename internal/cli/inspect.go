package cli

import (
	"encoding/hex"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/born-ml/yolo/internal/pipeline"
	"github.com/born-ml/yolo/internal/weights"
)

func newInspectCmd(a *app) *cobra.Command {
	var (
		path  string
		check bool
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List the tensors of a weight file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			store, err := weights.Open(path)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := store.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			out := cmd.OutOrStdout()
			sum := store.Checksum()
			fmt.Fprintf(out, "File:        %s\n", path)
			fmt.Fprintf(out, "Compression: %s\n", store.Compression())
			fmt.Fprintf(out, "Tensors:     %d\n", store.Len())
			fmt.Fprintf(out, "Data bytes:  %d\n", store.DataBytes())
			fmt.Fprintf(out, "SHA-256:     %s\n\n", hex.EncodeToString(sum[:]))

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSHAPE\tELEMENTS")
			for _, t := range store.Tensors() {
				fmt.Fprintf(tw, "%s\t%v\t%d\n", t.Name, t.Shape, t.NumElements())
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if !check {
				return nil
			}
			cfg, err := a.config()
			if err != nil {
				return err
			}
			return checkWeights(cmd, store, cfg.InputSize, cfg.NumClasses)
		},
	}
	cmd.Flags().StringVar(&path, "weights", "assets/weights.bin", "Weight file")
	cmd.Flags().BoolVar(&check, "check", false, "Verify every tensor the network reads is present with the right shape")
	return cmd
}

func checkWeights(cmd *cobra.Command, store *weights.Store, inputSize, numClasses int) error {
	plan, err := pipeline.NewPlan(inputSize, numClasses)
	if err != nil {
		return err
	}
	var errs []error
	for _, l := range plan.Convolutions() {
		if _, err := store.Expect(l.Name+".weight", l.Spec.WeightShape()...); err != nil {
			errs = append(errs, err)
		}
		if _, err := store.Expect(l.Name+".bias", l.Spec.OutC); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d tensors unusable: %w", len(errs), 2*len(plan.Convolutions()), errors.Join(errs...))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nAll %d network tensors present.\n", len(plan.TensorNames()))
	return nil
}
