package content

import (
	"fmt"
	"io"
	"os"
)

// ContentInformation pairs the manifests an analysis compares: the base
// build's manifest against the manifest of the build under test. The two
// files are owned by this struct once constructed through CopyOwned (the
// usual path, since manifests are fetched into scratch space); owners
// must release them with Clean on every exit path.
type ContentInformation struct {
	BaseContent    string
	BaseBuildID    string
	CurrentContent string
	CurrentBuildID string

	owned []string
}

// NewContentInformation wraps existing manifest files without taking
// ownership; Clean leaves them in place.
func NewContentInformation(baseContent, baseBuildID, currentContent, currentBuildID string) *ContentInformation {
	return &ContentInformation{
		BaseContent:    baseContent,
		BaseBuildID:    baseBuildID,
		CurrentContent: currentContent,
		CurrentBuildID: currentBuildID,
	}
}

// CopyOwned copies both manifests into dir and returns information that
// owns the copies. The originals are untouched; Clean removes only the
// copies.
func CopyOwned(dir, baseContent, baseBuildID, currentContent, currentBuildID string) (*ContentInformation, error) {
	base, err := copyToTemp(dir, "base-content-", baseContent)
	if err != nil {
		return nil, err
	}
	current, err := copyToTemp(dir, "current-content-", currentContent)
	if err != nil {
		os.Remove(base)
		return nil, err
	}
	return &ContentInformation{
		BaseContent:    base,
		BaseBuildID:    baseBuildID,
		CurrentContent: current,
		CurrentBuildID: currentBuildID,
		owned:          []string{base, current},
	}, nil
}

// Clean deletes the owned manifest files. It is safe to call multiple
// times and on a nil receiver.
func (c *ContentInformation) Clean() {
	if c == nil {
		return
	}
	for _, p := range c.owned {
		os.Remove(p)
	}
	c.owned = nil
}

func copyToTemp(dir, prefix, src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("content information: %w", err)
	}
	defer in.Close()

	out, err := os.CreateTemp(dir, prefix+"*.json")
	if err != nil {
		return "", fmt.Errorf("content information: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("content information: copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("content information: close: %w", err)
	}
	return out.Name(), nil
}
