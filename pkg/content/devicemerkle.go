package content

import (
	"fmt"
	"sort"
	"strings"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"

	"artifactcache/pkg/cas"
)

// This file folds manifest descriptor lists into single aggregate
// digests, so two device snapshots compare as two scalars instead of two
// descriptor lists. The fold uses the same discipline as the directory
// merkle tree: sort entries, serialize the node canonically, hash.

// TestsDirDigest builds the aggregate digest of a context's tests
// directory from its current manifest. Ignored paths, the always-rotating
// tools/version.txt, and common locations are excluded. When
// discoveredModules is non-empty only paths belonging to those modules
// participate, so the digest keys exactly the content the run will load.
func TestsDirDigest(c *ContentAnalysisContext, discoveredModules []string) (cas.Digest, error) {
	details, err := ParseFile(c.Information.CurrentContent, c.ContentEntry)
	if err != nil {
		return cas.Digest{}, err
	}

	ignored := c.ignoredSet()
	versionFile := c.rootPackage() + "/tools/version.txt"
	var kept []ArtifactFileDescriptor
	for _, d := range details.Details {
		if _, skip := ignored[d.Path]; skip {
			continue
		}
		if d.Path == versionFile {
			continue
		}
		if hasAnyPrefix(d.Path, c.CommonLocations) {
			continue
		}
		kept = append(kept, d)
	}

	if len(discoveredModules) > 0 {
		var scoped []ArtifactFileDescriptor
		for _, module := range discoveredModules {
			marker := "/" + module + "/"
			for _, d := range kept {
				if strings.Contains(d.Path, marker) {
					scoped = append(scoped, d)
				}
			}
		}
		kept = scoped
	}
	return digestDescriptors(kept)
}

// CommonLocationDigest builds the aggregate digest of the files living
// under the context's common locations, from its current manifest.
func CommonLocationDigest(c *ContentAnalysisContext) (cas.Digest, error) {
	details, err := ParseFile(c.Information.CurrentContent, c.ContentEntry)
	if err != nil {
		return cas.Digest{}, err
	}

	var kept []ArtifactFileDescriptor
	for _, d := range details.Details {
		if hasAnyPrefix(d.Path, c.CommonLocations) {
			kept = append(kept, d)
		}
	}
	return digestDescriptors(kept)
}

// deviceImagePrefixFilters are target-file regions that never influence
// the on-device image outcome: packaged images and metadata rebuilt on
// every run.
var deviceImagePrefixFilters = []string{"IMAGES/", "META/", "PREBUILT_IMAGES/", "RADIO/"}

// deviceImageDigest builds the aggregate digest of a device image from
// the manifest at manifestPath, applying the image filters: ignored
// paths, build properties (which embed build ids) and the packaged image
// regions are excluded.
func deviceImageDigest(manifestPath string, c *ContentAnalysisContext) (cas.Digest, error) {
	details, err := ParseFile(manifestPath, c.ContentEntry)
	if err != nil {
		return cas.Digest{}, err
	}

	ignored := c.ignoredSet()
	var kept []ArtifactFileDescriptor
	for _, d := range details.Details {
		if _, skip := ignored[d.Path]; skip {
			continue
		}
		if strings.HasSuffix(d.Path, "/build.prop") || strings.HasSuffix(d.Path, "/prop.default") {
			continue
		}
		if hasAnyPrefix(d.Path, deviceImagePrefixFilters) {
			continue
		}
		kept = append(kept, d)
	}
	return digestDescriptors(kept)
}

// digestDescriptors folds descriptors into one digest: sorted by path,
// packed into a Directory node, serialized canonically and hashed.
func digestDescriptors(fds []ArtifactFileDescriptor) (cas.Digest, error) {
	sorted := make([]ArtifactFileDescriptor, len(fds))
	copy(sorted, fds)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	root := &repb.Directory{}
	for _, fd := range sorted {
		root.Files = append(root.Files, &repb.FileNode{
			Name:         fd.Path,
			Digest:       &repb.Digest{Hash: fd.Digest, SizeBytes: fd.Size},
			IsExecutable: false,
		})
	}
	d, err := cas.FromMessage(root)
	if err != nil {
		return cas.Digest{}, fmt.Errorf("descriptor digest: %w", err)
	}
	return d, nil
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
