package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "tokentap",
		Short:   "Tokentap — transparent token metering proxy for OpenAI-compatible servers",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newStatsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
