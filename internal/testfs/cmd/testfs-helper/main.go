//go:build linux

// testfs-helper runs inside the e2e container and lays out or inspects the
// tmpfs volumes on behalf of the test process.
//
//	testfs-helper sow              reads a JSON FileTree on stdin
//	testfs-helper reap PATH...     writes a JSON ReapResult on stdout
package main

import (
	"fmt"
	"os"

	"github.com/ivoronin/samefile/internal/testfs"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "testfs-helper",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "sow",
			Short: "Create a file tree from JSON on stdin",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				// mounts are real inside the container
				return testfs.SowFromReader(cmd.InOrStdin(), "/")
			},
		},
		&cobra.Command{
			Use:   "reap PATH...",
			Short: "Print the state of the given volumes as JSON",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return testfs.ReapToWriter(cmd.OutOrStdout(), args)
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "testfs-helper: %v\n", err)
		os.Exit(1)
	}
}
