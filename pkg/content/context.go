package content

import "fmt"

// AnalysisMethod selects the change-detection strategy for a context.
// The switch over methods is exhaustive in the analyzer; adding a method
// without a handler falls through to "assume changed".
type AnalysisMethod int

const (
	MethodUnknown AnalysisMethod = iota

	// MethodFile compares the files extracted on the host against the
	// manifest diff, file by file.
	MethodFile

	// MethodDeviceImage compares aggregate device-image digests; any
	// difference marks the whole artifact changed.
	MethodDeviceImage

	// MethodModuleXTS maps manifest diffs onto the modules of a suite's
	// testcases directory.
	MethodModuleXTS

	// MethodBuildKey marks the entry changed as soon as its diff is
	// non-empty.
	MethodBuildKey

	// MethodSandboxWorkdir analyzes a sandbox working directory across
	// several entries at once, with shared common locations.
	MethodSandboxWorkdir
)

var methodNames = map[AnalysisMethod]string{
	MethodFile:           "FILE",
	MethodDeviceImage:    "DEVICE_IMAGE",
	MethodModuleXTS:      "MODULE_XTS",
	MethodBuildKey:       "BUILD_KEY",
	MethodSandboxWorkdir: "SANDBOX_WORKDIR",
}

func (m AnalysisMethod) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseAnalysisMethod converts a configuration string such as
// "MODULE_XTS" into its AnalysisMethod.
func ParseAnalysisMethod(s string) (AnalysisMethod, error) {
	for m, name := range methodNames {
		if name == s {
			return m, nil
		}
	}
	return MethodUnknown, fmt.Errorf("unknown analysis method %q", s)
}

// ContentAnalysisContext is one unit of change-detection work: a named
// content entry, the manifests to compare, and the strategy to apply.
type ContentAnalysisContext struct {
	// ContentEntry names the artifact record to analyze, e.g.
	// "android-cts.zip".
	ContentEntry string

	Information *ContentInformation
	Method      AnalysisMethod

	// IgnoredChanges lists paths whose diffs never count as changes.
	IgnoredChanges []string

	// CommonLocations lists path prefixes shared across modules; diffs
	// under them are tracked separately from per-module diffs.
	CommonLocations []string

	// AbortReason, when non-empty, invalidates the analysis: the content
	// could not be trusted (partial download, mismatched build) and the
	// whole run falls open to "changed".
	AbortReason string
}

// AbortAnalysis reports whether the context was invalidated.
func (c *ContentAnalysisContext) AbortAnalysis() bool {
	return c.AbortReason != ""
}

// ignoredSet returns IgnoredChanges as a set for diff filtering.
func (c *ContentAnalysisContext) ignoredSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.IgnoredChanges))
	for _, p := range c.IgnoredChanges {
		set[p] = struct{}{}
	}
	return set
}

// rootPackage derives the artifact's top-level directory from the entry
// name ("android-cts.zip" unpacks under "android-cts/").
func (c *ContentAnalysisContext) rootPackage() string {
	name := c.ContentEntry
	if len(name) > 4 && name[len(name)-4:] == ".zip" {
		return name[:len(name)-4]
	}
	return name
}
