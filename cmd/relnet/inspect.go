package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/born-ml/relnet/internal/serialization"
	"github.com/born-ml/relnet/internal/state"
	"github.com/born-ml/relnet/internal/tensor"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "List the arrays of a checkpoint",
		Long: `Prints every array of a .safetensors, .npz or .npy file with its dtype,
shape and size, followed by totals and any SafeTensors metadata.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sd, metadata, err := readAny(args[0])
			if err != nil {
				return err
			}
			return printDict(cmd, sd, metadata)
		},
	}
}

// readAny reads a named-array file by extension.
func readAny(path string) (*state.Dict, map[string]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		return serialization.ReadSafeTensors(path)
	case ".npz":
		sd, err := serialization.ReadNpz(path)
		return sd, nil, err
	case ".npy":
		raw, err := serialization.ReadNpyFile(path)
		if err != nil {
			return nil, nil, err
		}
		sd := state.New()
		sd.Set(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), raw)
		return sd, nil, nil
	default:
		return nil, nil, errors.Errorf("unsupported file type %q (want .safetensors, .npz or .npy)", filepath.Ext(path))
	}
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	cellStyle  = lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 0, 0, 0)
)

// newTable returns a bordered table; with a header its first row is
// highlighted and the first column is right-aligned.
func newTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if withHeader && row == lgtable.HeaderRow {
				return headerRowStyle
			}
			if col == 0 {
				return cellStyle.Align(lipgloss.Left)
			}
			return cellStyle.Align(lipgloss.Right)
		})
}

func printDict(cmd *cobra.Command, sd *state.Dict, metadata map[string]string) error {
	out := cmd.OutOrStdout()

	arrays := newTable(true).Headers("Name", "DType", "Shape", "Elements", "Bytes")
	sd.Range(func(name string, raw *tensor.RawTensor) bool {
		arrays.Row(name, raw.DType().String(), fmt.Sprint([]int(raw.Shape())),
			humanize.Comma(int64(raw.NumElements())),
			humanize.Bytes(uint64(raw.ByteSize()))) //nolint:gosec // G115: sizes are non-negative
		return true
	})
	fmt.Fprintln(out, arrays.Render())

	summary := newTable(false).
		Row("# arrays", humanize.Comma(int64(sd.Len()))).
		Row("# elements", humanize.Comma(int64(sd.NumElements()))).
		Row("# bytes", humanize.Bytes(uint64(sd.ByteSize()))) //nolint:gosec // G115: sizes are non-negative
	fmt.Fprintln(out, titleStyle.Render("Summary"))
	fmt.Fprintln(out, summary.Render())

	if len(metadata) > 0 {
		meta := newTable(false)
		for _, k := range sortedKeys(metadata) {
			meta.Row(k, metadata[k])
		}
		fmt.Fprintln(out, titleStyle.Render("Metadata"))
		fmt.Fprintln(out, meta.Render())
	}
	return nil
}
