// Package cli implements the IndiCompute command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "indicompute",
	Short: "IndiCompute: rent GPU nodes, pay per job",
	Long: `IndiCompute runs the node registry, wallet ledger and job lifecycle
for a GPU rental marketplace.

Owners register nodes and set an hourly price. Renters top up a wallet and
submit jobs; the price is debited at submission and paid to the owner when
the job completes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
