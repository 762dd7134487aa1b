package content

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func diffContext(t *testing.T, entry string, method AnalysisMethod, base, current []ArtifactDetails) *ContentAnalysisContext {
	t.Helper()
	return &ContentAnalysisContext{
		ContentEntry: entry,
		Information:  NewContentInformation(writeManifest(t, base), "100", writeManifest(t, current), "101"),
		Method:       method,
	}
}

func writeHostFile(t *testing.T, root, rel string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(rel), 0o644))
}

func TestEvaluateFileAnalysis(t *testing.T) {
	testsDir := t.TempDir()
	writeHostFile(t, testsDir, "module1/changed.apk")
	writeHostFile(t, testsDir, "module2/stable.xml")

	base := []ArtifactDetails{{
		Artifact: "general-tests.zip",
		Details: []ArtifactFileDescriptor{
			{Digest: "old", Path: "module1/changed.apk", Size: 1},
			{Digest: "same", Path: "module2/stable.xml", Size: 2},
		},
	}}
	current := []ArtifactDetails{{
		Artifact: "general-tests.zip",
		Details: []ArtifactFileDescriptor{
			{Digest: "new", Path: "module1/changed.apk", Size: 1},
			{Digest: "same", Path: "module2/stable.xml", Size: 2},
		},
	}}

	a := &Analyzer{TestsDir: testsDir}
	results := a.Evaluate([]*ContentAnalysisContext{
		diffContext(t, "general-tests.zip", MethodFile, base, current),
	})

	require.True(t, results.HasAnyTestsChange())
	require.Equal(t, 1, results.ModifiedFiles())
	require.Equal(t, 1, results.UnchangedFiles())
}

func TestEvaluateFileAnalysisNoChanges(t *testing.T) {
	testsDir := t.TempDir()
	writeHostFile(t, testsDir, "module1/a.apk")

	records := []ArtifactDetails{{
		Artifact: "general-tests.zip",
		Details: []ArtifactFileDescriptor{
			{Digest: "same", Path: "module1/a.apk", Size: 1},
		},
	}}

	a := &Analyzer{TestsDir: testsDir}
	results := a.Evaluate([]*ContentAnalysisContext{
		diffContext(t, "general-tests.zip", MethodFile, records, records),
	})

	require.False(t, results.HasAnyTestsChange())
	require.Equal(t, 1, results.UnchangedFiles())
}

func xtsSuiteRoot(t *testing.T, modules ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, m := range modules {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "android-cts", "testcases", m), 0o755))
	}
	return root
}

func TestEvaluateXTSAnalysis(t *testing.T) {
	root := xtsSuiteRoot(t, "module1", "module2")

	base := []ArtifactDetails{{
		Artifact: "android-cts.zip",
		Details: []ArtifactFileDescriptor{
			{Digest: "old", Path: "android-cts/testcases/module1/a.apk", Size: 1},
			{Digest: "same", Path: "android-cts/testcases/module2/b.xml", Size: 2},
			{Digest: "tool-old", Path: "android-cts/tools/runner.jar", Size: 3},
			{Digest: "v-old", Path: "android-cts/tools/version.txt", Size: 4},
		},
	}}
	current := []ArtifactDetails{{
		Artifact: "android-cts.zip",
		Details: []ArtifactFileDescriptor{
			{Digest: "new", Path: "android-cts/testcases/module1/a.apk", Size: 1},
			{Digest: "same", Path: "android-cts/testcases/module2/b.xml", Size: 2},
			{Digest: "tool-new", Path: "android-cts/tools/runner.jar", Size: 3},
			{Digest: "v-new", Path: "android-cts/tools/version.txt", Size: 4},
		},
	}}

	a := &Analyzer{RootDir: root}
	results := a.Evaluate([]*ContentAnalysisContext{
		diffContext(t, "android-cts.zip", MethodModuleXTS, base, current),
	})

	require.True(t, results.HasAnyTestsChange())
	require.Equal(t, 1, results.ModifiedModules())
	require.Equal(t, []string{"module2"}, results.UnchangedModules())
	// version.txt rotates every build and must not count as a tools diff.
	require.Equal(t, 1, results.SharedFolderChanges())
}

func TestEvaluateXTSDiscoveryScoping(t *testing.T) {
	root := xtsSuiteRoot(t, "module1", "module2")

	base := []ArtifactDetails{{
		Artifact: "android-cts.zip",
		Details: []ArtifactFileDescriptor{
			{Digest: "old", Path: "android-cts/testcases/module1/a.apk", Size: 1},
			{Digest: "same", Path: "android-cts/testcases/module2/b.xml", Size: 2},
		},
	}}
	current := []ArtifactDetails{{
		Artifact: "android-cts.zip",
		Details: []ArtifactFileDescriptor{
			{Digest: "new", Path: "android-cts/testcases/module1/a.apk", Size: 1},
			{Digest: "same", Path: "android-cts/testcases/module2/b.xml", Size: 2},
		},
	}}

	scoped := &Analyzer{RootDir: root, DiscoveryModules: []string{"module2"}}
	results := scoped.Evaluate([]*ContentAnalysisContext{
		diffContext(t, "android-cts.zip", MethodModuleXTS, base, current),
	})
	require.False(t, results.HasAnyTestsChange(),
		"a change outside the discovered modules must not count")
	require.Equal(t, []string{"module2"}, results.UnchangedModules())

	unscoped := &Analyzer{RootDir: root}
	results = unscoped.Evaluate([]*ContentAnalysisContext{
		diffContext(t, "android-cts.zip", MethodModuleXTS, base, current),
	})
	require.True(t, results.HasAnyTestsChange())
}

func TestEvaluateDeviceImageAnalysis(t *testing.T) {
	base := []ArtifactDetails{{
		Artifact: "device-image.zip",
		Details: []ArtifactFileDescriptor{
			{Digest: "core", Path: "SYSTEM/framework/core.jar", Size: 1},
			{Digest: "img-old", Path: "IMAGES/system.img", Size: 9},
			{Digest: "prop-old", Path: "SYSTEM/build.prop", Size: 2},
		},
	}}
	current := []ArtifactDetails{{
		Artifact: "device-image.zip",
		Details: []ArtifactFileDescriptor{
			{Digest: "core", Path: "SYSTEM/framework/core.jar", Size: 1},
			{Digest: "img-new", Path: "IMAGES/system.img", Size: 9},
			{Digest: "prop-new", Path: "SYSTEM/build.prop", Size: 2},
		},
	}}

	a := &Analyzer{}
	results := a.Evaluate([]*ContentAnalysisContext{
		diffContext(t, "device-image.zip", MethodDeviceImage, base, current),
	})
	require.False(t, results.HasAnyTestsChange(),
		"diffs only in filtered regions must not mark the image changed")

	changed := []ArtifactDetails{{
		Artifact: "device-image.zip",
		Details: []ArtifactFileDescriptor{
			{Digest: "core-new", Path: "SYSTEM/framework/core.jar", Size: 1},
			{Digest: "img-new", Path: "IMAGES/system.img", Size: 9},
			{Digest: "prop-new", Path: "SYSTEM/build.prop", Size: 2},
		},
	}}
	results = a.Evaluate([]*ContentAnalysisContext{
		diffContext(t, "device-image.zip", MethodDeviceImage, base, changed),
	})
	require.True(t, results.HasAnyTestsChange())
	require.Equal(t, 1, results.DeviceImageChanges())
}

func TestEvaluateBuildKeyAnalysis(t *testing.T) {
	base := []ArtifactDetails{{
		Artifact: "build-key.txt",
		Details:  []ArtifactFileDescriptor{{Digest: "old", Path: "build-key.txt", Size: 1}},
	}}
	current := []ArtifactDetails{{
		Artifact: "build-key.txt",
		Details:  []ArtifactFileDescriptor{{Digest: "new", Path: "build-key.txt", Size: 1}},
	}}

	a := &Analyzer{}
	results := a.Evaluate([]*ContentAnalysisContext{
		diffContext(t, "build-key.txt", MethodBuildKey, base, current),
	})
	require.True(t, results.HasAnyTestsChange())
	require.Equal(t, 1, results.BuildKeyChanges())

	results = a.Evaluate([]*ContentAnalysisContext{
		diffContext(t, "build-key.txt", MethodBuildKey, base, base),
	})
	require.False(t, results.HasAnyTestsChange())
}

func TestEvaluateWorkdirAnalysis(t *testing.T) {
	testsDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(testsDir, "host", "testcases", "moduleA"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(testsDir, "host", "testcases", "moduleB"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(testsDir, "host", "testcases", "lib"), 0o755))

	base := []ArtifactDetails{{
		Artifact: "general-tests.zip",
		Details: []ArtifactFileDescriptor{
			{Digest: "old", Path: "host/testcases/moduleA/a.apk", Size: 1},
			{Digest: "same", Path: "host/testcases/moduleB/b.xml", Size: 2},
			{Digest: "lib-old", Path: "host/testcases/lib/shared.so", Size: 3},
		},
	}}
	current := []ArtifactDetails{{
		Artifact: "general-tests.zip",
		Details: []ArtifactFileDescriptor{
			{Digest: "new", Path: "host/testcases/moduleA/a.apk", Size: 1},
			{Digest: "same", Path: "host/testcases/moduleB/b.xml", Size: 2},
			{Digest: "lib-new", Path: "host/testcases/lib/shared.so", Size: 3},
		},
	}}

	a := &Analyzer{TestsDir: testsDir}
	results := a.Evaluate([]*ContentAnalysisContext{
		diffContext(t, "general-tests.zip", MethodSandboxWorkdir, base, current),
	})

	require.True(t, results.HasAnyTestsChange())
	require.Equal(t, 1, results.ModifiedModules())
	require.Equal(t, []string{"moduleB"}, results.UnchangedModules(),
		"common dirs must not appear as modules")
	require.Equal(t, 1, results.SharedFolderChanges())
}

func TestEvaluateWorkdirUnknownEntryFailsOpen(t *testing.T) {
	testsDir := t.TempDir()
	records := []ArtifactDetails{{
		Artifact: "mystery.zip",
		Details:  []ArtifactFileDescriptor{{Digest: "x", Path: "host/testcases/m/a", Size: 1}},
	}}

	a := &Analyzer{TestsDir: testsDir}
	results := a.Evaluate([]*ContentAnalysisContext{
		diffContext(t, "mystery.zip", MethodSandboxWorkdir, records, records),
	})

	require.True(t, results.HasAnyTestsChange())
	require.Empty(t, results.UnchangedModules())
}

func TestEvaluateMissingManifestFailsOpen(t *testing.T) {
	c := &ContentAnalysisContext{
		ContentEntry: "general-tests.zip",
		Information: NewContentInformation(
			filepath.Join(t.TempDir(), "absent.json"), "100",
			filepath.Join(t.TempDir(), "absent.json"), "101"),
		Method: MethodFile,
	}

	a := &Analyzer{TestsDir: t.TempDir()}
	results := a.Evaluate([]*ContentAnalysisContext{c})

	require.True(t, results.HasAnyTestsChange())
	require.Empty(t, results.UnchangedModules())
}

func TestEvaluateAbortedContext(t *testing.T) {
	testsDir := t.TempDir()
	writeHostFile(t, testsDir, "module1/a.apk")
	records := []ArtifactDetails{{
		Artifact: "general-tests.zip",
		Details:  []ArtifactFileDescriptor{{Digest: "same", Path: "module1/a.apk", Size: 1}},
	}}

	clean := diffContext(t, "general-tests.zip", MethodFile, records, records)
	aborted := diffContext(t, "general-tests.zip", MethodFile, records, records)
	aborted.AbortReason = "base build invalidated"

	a := &Analyzer{TestsDir: testsDir}
	results := a.Evaluate([]*ContentAnalysisContext{clean, aborted})

	require.True(t, results.HasAnyTestsChange())
	require.Empty(t, results.UnchangedModules(),
		"an aborted context taints the whole run")
	require.Zero(t, results.UnchangedFiles())
}

func TestEvaluateCleansOwnedInformation(t *testing.T) {
	testsDir := t.TempDir()
	records := []ArtifactDetails{{
		Artifact: "general-tests.zip",
		Details:  []ArtifactFileDescriptor{{Digest: "same", Path: "module1/a.apk", Size: 1}},
	}}
	source := writeManifest(t, records)

	scratch := t.TempDir()
	info, err := CopyOwned(scratch, source, "100", source, "101")
	require.NoError(t, err)

	a := &Analyzer{TestsDir: testsDir}
	a.Evaluate([]*ContentAnalysisContext{{
		ContentEntry: "general-tests.zip",
		Information:  info,
		Method:       MethodFile,
	}})

	_, err = os.Stat(info.BaseContent)
	require.True(t, os.IsNotExist(err), "owned base manifest should be removed")
	_, err = os.Stat(info.CurrentContent)
	require.True(t, os.IsNotExist(err), "owned current manifest should be removed")
	_, err = os.Stat(source)
	require.NoError(t, err, "the original manifest must survive")
}

func TestEvaluateUnknownMethod(t *testing.T) {
	records := []ArtifactDetails{{
		Artifact: "general-tests.zip",
		Details:  []ArtifactFileDescriptor{{Digest: "x", Path: "p", Size: 1}},
	}}

	a := &Analyzer{TestsDir: t.TempDir()}
	results := a.Evaluate([]*ContentAnalysisContext{
		diffContext(t, "general-tests.zip", MethodUnknown, records, records),
	})
	require.True(t, results.HasAnyTestsChange())
}

func TestMergeResults(t *testing.T) {
	r1 := NewContentAnalysisResults()
	r1.addModifiedFile()
	r1.addUnchangedModule("mB")
	r2 := NewContentAnalysisResults()
	r2.addUnchangedModule("mA")
	r2.addModifiedSharedFolder(2)

	merged := MergeResults([]*ContentAnalysisResults{r1, r2, nil})
	require.True(t, merged.HasAnyTestsChange())
	require.Equal(t, 1, merged.ModifiedFiles())
	require.Equal(t, 2, merged.SharedFolderChanges())
	require.Equal(t, []string{"mA", "mB"}, merged.UnchangedModules())
}
