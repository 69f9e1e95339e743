package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile  string
	delta       float64
	parallelism int
	verbose     bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bouncer",
		Short: "Runtime monitor for sigma-delta modulator transitions",
		Long: `Checks observed (before, after) transitions against the possible worlds of a
symbolic model and reports whether each one is explained (inlier) or not (outlier).`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("BOUNCER_CONFIG"), "YAML config file")
	rootCmd.PersistentFlags().Float64Var(&delta, "delta", -1, "Measurement tolerance (overrides config)")
	rootCmd.PersistentFlags().IntVar(&parallelism, "parallelism", 0, "Worlds solved concurrently (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose output")

	rootCmd.AddCommand(benchCmd())
	rootCmd.AddCommand(describeCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(verdictsCmd())

	return rootCmd
}
