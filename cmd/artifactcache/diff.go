package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"artifactcache/pkg/content"
)

func newDiffCmd() *cobra.Command {
	var entry string

	cmd := &cobra.Command{
		Use:   "diff <base-manifest> <current-manifest>",
		Short: "Diff an artifact's descriptors between two manifests",
		Long: "Prints every file of the current manifest that is new or carries a\n" +
			"different digest than the base manifest. Files deleted from the base\n" +
			"are not reported.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := content.ParseFile(args[0], entry)
			if err != nil {
				if errors.Is(err, content.ErrArtifactNotFound) {
					return fmt.Errorf("base manifest has no record for %q", entry)
				}
				return err
			}
			current, err := content.ParseFile(args[1], entry)
			if err != nil {
				if errors.Is(err, content.ErrArtifactNotFound) {
					return fmt.Errorf("current manifest has no record for %q", entry)
				}
				return err
			}

			diffs := content.DiffContents(base, current)
			out := cmd.OutOrStdout()
			for _, d := range diffs {
				fmt.Fprintf(out, "%s  %s (%d bytes)\n", d.Digest, d.Path, d.Size)
			}
			fmt.Fprintf(out, "%d changed file(s)\n", len(diffs))
			return nil
		},
	}

	cmd.Flags().StringVar(&entry, "entry", "", "artifact record name, e.g. android-cts.zip")
	cmd.MarkFlagRequired("entry")
	return cmd
}
