package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/proto"

	"artifactcache/pkg/cas"
	"artifactcache/pkg/cas/remote"
)

func newUploadCmd() *cobra.Command {
	var remoteURL string

	cmd := &cobra.Command{
		Use:   "upload <directory>",
		Short: "Push a directory's content to the remote cache",
		Long: "Builds the merkle tree of a directory and pushes every leaf file and\n" +
			"directory node the server is missing. Content already present remotely\n" +
			"is skipped by digest.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := cas.BuildTree(args[0])
			if err != nil {
				return err
			}

			builder := cas.NewUploadManifestBuilder()
			builder.AddFiles(tree.Files)
			for d, dir := range tree.Directories {
				data, err := proto.Marshal(dir)
				if err != nil {
					return fmt.Errorf("encode directory node %s: %w", d, err)
				}
				builder.AddBlob(d, data)
			}
			manifest := builder.Build()

			client, err := remote.NewClient(remoteURL, "", remote.ClientOptions{})
			if err != nil {
				return err
			}
			pushed, err := client.PushManifest(cmd.Context(), manifest)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "root %s\n", tree.RootDigest)
			fmt.Fprintf(out, "pushed %d of %d entries\n", pushed, manifest.Len())
			return nil
		},
	}

	cmd.Flags().StringVar(&remoteURL, "remote", "", "cache server endpoint")
	cmd.MarkFlagRequired("remote")
	return cmd
}
