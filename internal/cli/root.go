// Package cli wires the convpool subcommands.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "convpool",
	Short: "Distributed media-conversion coordinator",
	Long: "Convpool watches an intake directory and hands each file, exactly once,\n" +
		"to one of many dynamically-joining worker nodes over a plain-text HTTP\n" +
		"surface. Jobs held by silent workers are reclaimed and re-dispatched.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
