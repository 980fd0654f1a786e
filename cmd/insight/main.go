package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "insight",
		Short:         "Competitive website analysis from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(NewAnalyzeCmd(), NewChatCmd())

	if err := root.Execute(); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}
