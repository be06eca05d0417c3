package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "opphound",
	Short:   "Procurement portal discovery and extraction pipeline",
	Long:    `OppHound crawls procurement portals, extracts bid opportunities and watches portals for changes between scans.`,
	Version: "0.1.0",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
