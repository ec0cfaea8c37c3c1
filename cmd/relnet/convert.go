package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/born-ml/relnet/internal/loader"
	"github.com/born-ml/relnet/internal/nn"
)

type convertOptions struct {
	ro        bool
	pairsPath string
}

func newConvertNpyCmd(root *rootOptions) *cobra.Command {
	opts := &convertOptions{}
	cmd := &cobra.Command{
		Use:   "convert-npy <legacy.npz> <out.safetensors>",
		Short: "Convert a legacy VGG archive into a relnet checkpoint",
		Long: `Reads a legacy archive whose entries are named <layer>/<weights|biases>
(conv1_1/weights, fc6/biases, ...), copies every convolution and the fully
connected pairs into a freshly built model and saves its state.

The default pairs fill fc6 and fc7. --ro also fills the object branch
(fc6_obj, fc7_obj) from fc6 and fc7; --pairs reads the pairs from YAML.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := root.loadModel()
			if err != nil {
				return err
			}

			pairs := loader.DetectionPairs
			switch {
			case opts.pairsPath != "":
				if pairs, err = loader.LoadPairs(opts.pairsPath); err != nil {
					return err
				}
			case opts.ro:
				pairs = loader.ObjectPairs
			}

			table, err := loader.VGGTable(m.StateDict().Keys(), pairs)
			if err != nil {
				return err
			}
			bar := newBar(cmd.ErrOrStderr(), len(table), "converting")
			if err := loader.LoadPretrainedNpy[Backend](args[0], m, pairs, loader.WithProgress(barProgress(bar))); err != nil {
				return err
			}
			_ = bar.Finish()

			return save(cmd, args[1], m, map[string]string{
				"format": "relnet",
				"source": args[0],
				"model":  m.Config().Name,
			})
		},
	}
	cmd.Flags().BoolVar(&opts.ro, "ro", false, "also initialize the object branch from fc6 and fc7")
	cmd.Flags().StringVar(&opts.pairsPath, "pairs", "", "YAML file of fully connected pairs")
	return cmd
}

func newMigrateDetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-det <detection.safetensors> <out.safetensors>",
		Short: "Initialize a relnet checkpoint from a detection checkpoint",
		Long: `Drops the region proposal and box regression arrays of a Faster R-CNN
VGG checkpoint, renames its backbone onto the relnet convolutions and its
classifier onto fc6, fc7 and fc_obj, and saves the resulting model state.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := root.loadModel()
			if err != nil {
				return err
			}

			bar := newBar(cmd.ErrOrStderr(), -1, "migrating")
			if err := loader.PretrainWithDetection[Backend](args[0], m, loader.WithProgress(barProgress(bar))); err != nil {
				return err
			}
			_ = bar.Finish()

			return save(cmd, args[1], m, map[string]string{
				"format": "relnet",
				"source": args[0],
				"model":  m.Config().Name,
			})
		},
	}
}

func newBar(w io.Writer, n int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(n,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("arrays"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
}

func barProgress(bar *progressbar.ProgressBar) func(string) {
	return func(string) { _ = bar.Add(1) }
}

func save(cmd *cobra.Command, path string, m nn.Module[Backend], metadata map[string]string) error {
	if err := nn.SaveNet(path, m, metadata); err != nil {
		return err
	}
	total, _ := nn.NumParameters(m)
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %s parameters, %s\n",
		path, humanize.Comma(int64(total)), humanize.Bytes(uint64(m.StateDict().ByteSize()))) //nolint:gosec // G115: sizes are non-negative
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
