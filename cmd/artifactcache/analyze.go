package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"artifactcache/pkg/config"
	"artifactcache/pkg/content"
)

func newAnalyzeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run content analysis between two builds",
		Long: "Diffs the configured manifest entries and reports whether anything\n" +
			"relevant to the test run changed, plus the modules proven unchanged.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			scratch, err := os.MkdirTemp("", "artifactcache-analyze-*")
			if err != nil {
				return err
			}
			defer os.RemoveAll(scratch)

			contexts, err := cfg.Contexts(scratch)
			if err != nil {
				return err
			}

			analyzer := &content.Analyzer{
				TestsDir:         cfg.TestsDir,
				RootDir:          cfg.RootDir,
				DiscoveryModules: cfg.DiscoveryModules,
			}
			results := analyzer.Evaluate(contexts)

			out := cmd.OutOrStdout()
			if results.HasAnyTestsChange() {
				fmt.Fprintln(out, "changes detected")
			} else {
				fmt.Fprintln(out, "no relevant changes")
			}
			fmt.Fprintf(out, "modified files: %d, unchanged files: %d\n",
				results.ModifiedFiles(), results.UnchangedFiles())
			fmt.Fprintf(out, "modified modules: %d, shared folder changes: %d\n",
				results.ModifiedModules(), results.SharedFolderChanges())
			if n := results.DeviceImageChanges(); n > 0 {
				fmt.Fprintf(out, "device image changes: %d\n", n)
			}
			if n := results.BuildKeyChanges(); n > 0 {
				fmt.Fprintf(out, "build key changes: %d\n", n)
			}
			for _, module := range results.UnchangedModules() {
				fmt.Fprintf(out, "unchanged module: %s\n", module)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "analysis.toml", "analysis configuration file")
	return cmd
}
