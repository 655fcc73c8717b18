package main

import (
	"github.com/spf13/cobra"
)

// Options holds CLI options for the engine.
type Options struct {
	ConfigPath   string
	SnapshotPath string
	Listen       string
}

// newRootCmd builds the root command; RunE exits through run's status code.
func newRootCmd(exit func(int)) *cobra.Command {
	var opts Options
	cmd := &cobra.Command{
		Use:           "pixelpainter",
		Short:         "Paint target images onto a shared pixel canvas with many identities",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			exit(run(cmd.Context(), opts))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	f.StringVar(&opts.SnapshotPath, "snapshot", "", "Path to the snapshot document (overrides snapshot.path)")
	f.StringVar(&opts.Listen, "listen", "", "Status server address (overrides status.listen)")
	return cmd
}
