// Package content analyzes artifact manifests to decide whether the
// files a test run depends on changed between two builds. It parses the
// JSON manifest format produced by the build (one record per named
// artifact, each listing path/digest/size descriptors), diffs base and
// current manifests, and folds descriptor sets into aggregate merkle
// digests for scalar comparison.
package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
)

// ErrArtifactNotFound reports that a manifest parsed correctly but
// carried no record for the requested artifact. Callers distinguish this
// recoverable condition from a corrupt manifest, which surfaces as a
// plain parse error.
var ErrArtifactNotFound = errors.New("artifact not found in manifest")

// ArtifactFileDescriptor is one file entry inside an artifact manifest.
type ArtifactFileDescriptor struct {
	Digest string `json:"digest"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
}

// ArtifactDetails lists the file descriptors of one named artifact.
type ArtifactDetails struct {
	Artifact string                   `json:"artifact"`
	Details  []ArtifactFileDescriptor `json:"details"`
}

// ParseFile reads the manifest at path and returns the record whose
// artifact name matches artifactName. Matching is build-id agnostic:
// "mine-tests-P9999.zip" locates a record named "mine-tests-8888.zip"
// because both normalize to the same logical artifact. Returns
// ErrArtifactNotFound (wrapped) when the manifest holds no match.
func ParseFile(path, artifactName string) (*ArtifactDetails, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	var records []ArtifactDetails
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("manifest %s: decode: %w", path, err)
	}
	for i := range records {
		if matchesArtifact(records[i].Artifact, artifactName) {
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("manifest %s: %q: %w", path, artifactName, ErrArtifactNotFound)
}

// WriteFile serializes manifest records to path in the stable on-disk
// format, so fixtures written here compare bit-for-bit with manifests
// produced elsewhere.
func WriteFile(path string, records []ArtifactDetails) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest %s: encode: %w", path, err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("manifest %s: %w", path, err)
	}
	return nil
}

// buildIDToken matches a trailing "-<buildid>" group ahead of the file
// extension, where a build id is a run of digits optionally prefixed
// with "P" (presubmit builds).
var buildIDToken = regexp.MustCompile(`-P?[0-9]+(\.[^.]+)$`)

// normalizeArtifactName deletes the build-id token from an artifact
// name, so differently numbered drops of the same artifact compare equal
// ("mydevice-tests-P8888.zip" and "mydevice-tests-6777.zip" both become
// "mydevice-tests.zip").
func normalizeArtifactName(name string) string {
	return buildIDToken.ReplaceAllString(name, "$1")
}

func matchesArtifact(recordName, wanted string) bool {
	if recordName == wanted {
		return true
	}
	return normalizeArtifactName(recordName) == normalizeArtifactName(wanted)
}

// DiffContents returns every descriptor in current whose path is absent
// from base or present with a different digest. Entries that exist only
// in base are deliberately not reported: a deleted file cannot be a
// "changed" file in a retained artifact, and callers consume the result
// as the set of paths the current execution must account for.
func DiffContents(base, current *ArtifactDetails) []ArtifactFileDescriptor {
	baseByPath := make(map[string]string, len(base.Details))
	for _, d := range base.Details {
		baseByPath[d.Path] = d.Digest
	}

	var diffs []ArtifactFileDescriptor
	for _, d := range current.Details {
		if prev, ok := baseByPath[d.Path]; !ok || prev != d.Digest {
			diffs = append(diffs, d)
		}
	}
	return diffs
}
