package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "matchprob",
		Short:        "HLA match prediction tools",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to config file")

	rootCmd.AddCommand(calculateCmd())
	rootCmd.AddCommand(likelihoodsCmd())
	rootCmd.AddCommand(mcpCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
