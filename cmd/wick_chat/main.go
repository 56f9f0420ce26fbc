package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "wick_chat",
	Short:        "Streaming AI chat server and terminal client",
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(newServeCmd(), newAskCmd(), newHashPasswordCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
