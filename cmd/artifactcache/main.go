package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "artifactcache",
		Short: "Content-addressed artifact caching and change detection",
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newDigestCmd())
	root.AddCommand(newTreeCmd())
	root.AddCommand(newDiffCmd())
	root.AddCommand(newAnalyzeCmd())
	root.AddCommand(newUploadCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("artifactcache 0.1.0-dev")
		},
	}
}
