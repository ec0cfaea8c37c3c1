// Package main provides the relnet CLI.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/born-ml/relnet/internal/backend/cpu"
	"github.com/born-ml/relnet/internal/config"
	"github.com/born-ml/relnet/internal/models"
)

const version = "v0.1.0"

// Backend is the compute backend the CLI builds models on.
type Backend = *cpu.CPUBackend

func main() {
	if err := newRootCmd().Execute(); err != nil {
		klog.Errorf("%+v", err)
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "relnet",
		Short: "relnet - checkpoints and weight migration for the relnet backbone",
		Long: `relnet inspects named-array checkpoints and migrates pretrained weights
into the relnet VGG backbone.

Supported inputs:
  - SafeTensors checkpoints (.safetensors)
  - NumPy arrays and archives (.npy, .npz)`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	root.PersistentFlags().AddGoFlagSet(klogFlags)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "model configuration YAML (default: built-in VGG16)")

	root.AddCommand(
		newInspectCmd(),
		newConvertNpyCmd(opts),
		newMigrateDetCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loadModel builds the model described by the --config file.
func (o *rootOptions) loadModel() (*models.VGG[Backend], error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}
	klog.V(1).Infof("model %q: %d stages, batch norm %v, object branch %v",
		cfg.Name, len(cfg.Stages), cfg.BatchNorm, cfg.ObjectBranch)
	return models.NewVGG(cfg, cpu.New()), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relnet %s\n", version)
		},
	}
}
