package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "decisionctl",
		Short: "Operator tool for the decision issue service",
		Long: `decisionctl manages the decision issue database: schema migration,
catalog and domain seeding, manual runs of the daily closure pass and
flushing cached model service answers.
It reads the same configuration as the API server.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(autoCloseCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(flushCacheCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
