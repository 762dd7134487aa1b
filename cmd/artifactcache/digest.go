package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"artifactcache/pkg/cas"
)

func newDigestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digest <file>...",
		Short: "Print the content digest of one or more files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				d, err := cas.FromFile(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", d, path)
			}
			return nil
		},
	}
}
