package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"artifactcache/pkg/cas"
)

func newTreeCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "tree <directory>",
		Short: "Build the merkle tree of a directory and print its root digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := cas.BuildTree(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "root %s\n", tree.RootDigest)
			fmt.Fprintf(out, "%d files, %d directory nodes\n", len(tree.Files), len(tree.Directories))
			if verbose {
				type leaf struct {
					digest cas.Digest
					path   string
				}
				leaves := make([]leaf, 0, len(tree.Files))
				for d, p := range tree.Files {
					leaves = append(leaves, leaf{d, p})
				}
				sort.Slice(leaves, func(i, j int) bool { return leaves[i].path < leaves[j].path })
				for _, l := range leaves {
					fmt.Fprintf(out, "%s  %s\n", l.digest, l.path)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every leaf file with its digest")
	return cmd
}
