package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "vesta",
	Short: "Vesta - centralized configuration and secrets engine",
	Long: `Vesta is a centralized configuration and secrets engine for
distributed services.

It provides:
  - Hierarchical configuration with environment inheritance
  - Envelope encryption for sensitive values
  - Multi-tier caching with broadcast invalidation
  - Append-only version history with rollback
  - A tamper-evident, cryptographically signed audit trail
  - Scheduled secret rotation with a dual-valid grace window`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "vesta.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
