// Package config loads the TOML configuration that drives an analyze
// invocation: which directories to inspect, which manifest entries to
// compare, and where the remote cache lives.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"artifactcache/pkg/content"
)

// Config is the top-level analyze configuration.
type Config struct {
	// TestsDir is the extracted test artifacts root (FILE and
	// SANDBOX_WORKDIR analysis).
	TestsDir string `toml:"tests_dir"`

	// RootDir is the suite root containing a testcases directory
	// (MODULE_XTS analysis).
	RootDir string `toml:"root_dir"`

	// DiscoveryModules restricts MODULE_XTS analysis to these modules
	// when non-empty.
	DiscoveryModules []string `toml:"discovery_modules"`

	// Remote is the cache server endpoint, e.g. "https://cache.internal".
	Remote string `toml:"remote"`

	Entries []Entry `toml:"entry"`
}

// Entry configures the analysis of one manifest artifact record.
type Entry struct {
	Name            string   `toml:"name"`
	Method          string   `toml:"method"`
	BaseManifest    string   `toml:"base_manifest"`
	BaseBuildID     string   `toml:"base_build_id"`
	CurrentManifest string   `toml:"current_manifest"`
	CurrentBuildID  string   `toml:"current_build_id"`
	IgnoredChanges  []string `toml:"ignored_changes"`
	CommonLocations []string `toml:"common_locations"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Entries) == 0 {
		return fmt.Errorf("at least one [[entry]] is required")
	}
	for i, e := range c.Entries {
		if e.Name == "" {
			return fmt.Errorf("entry %d: name is required", i)
		}
		if _, err := content.ParseAnalysisMethod(e.Method); err != nil {
			return fmt.Errorf("entry %q: %w", e.Name, err)
		}
		if e.BaseManifest == "" || e.CurrentManifest == "" {
			return fmt.Errorf("entry %q: base_manifest and current_manifest are required", e.Name)
		}
	}
	return nil
}

// Contexts builds an analysis context per entry. Manifests are copied
// into scratchDir so the analyzer's cleanup only ever deletes the
// copies, never the configured files.
func (c *Config) Contexts(scratchDir string) ([]*content.ContentAnalysisContext, error) {
	contexts := make([]*content.ContentAnalysisContext, 0, len(c.Entries))
	for _, e := range c.Entries {
		method, err := content.ParseAnalysisMethod(e.Method)
		if err != nil {
			return nil, err
		}
		info, err := content.CopyOwned(scratchDir, e.BaseManifest, e.BaseBuildID, e.CurrentManifest, e.CurrentBuildID)
		if err != nil {
			for _, ctx := range contexts {
				ctx.Information.Clean()
			}
			return nil, fmt.Errorf("entry %q: %w", e.Name, err)
		}
		contexts = append(contexts, &content.ContentAnalysisContext{
			ContentEntry:    e.Name,
			Information:     info,
			Method:          method,
			IgnoredChanges:  e.IgnoredChanges,
			CommonLocations: e.CommonLocations,
		})
	}
	return contexts, nil
}
