package content

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Analyzer evaluates analysis contexts against on-host directories and
// decides whether the content a test run depends on changed.
//
// Failure policy: any I/O or parse failure while analyzing a context
// resolves to "assume changed" rather than an error. Under-reporting a
// change silently skips a test; over-reporting merely re-runs one. The
// asymmetry is fixed and must not be tuned.
type Analyzer struct {
	// TestsDir is the root of the extracted test artifacts on the host,
	// used by the FILE and SANDBOX_WORKDIR methods.
	TestsDir string

	// RootDir is the suite root containing a testcases directory, used
	// by the MODULE_XTS method.
	RootDir string

	// DiscoveryModules, when non-empty, restricts MODULE_XTS analysis to
	// the named modules; changes in any other module are ignored.
	DiscoveryModules []string
}

// Evaluate runs every context and merges the outcomes. Every context's
// ContentInformation is released before Evaluate returns, on success and
// failure alike.
func (a *Analyzer) Evaluate(contexts []*ContentAnalysisContext) *ContentAnalysisResults {
	defer func() {
		for _, c := range contexts {
			c.Information.Clean()
		}
	}()

	for _, c := range contexts {
		if c.AbortAnalysis() {
			// Invalidated content taints the whole run: report changed,
			// offer no skip list.
			results := NewContentAnalysisResults()
			results.markAssumedChanged()
			return results
		}
	}

	var parts []*ContentAnalysisResults
	var workdir []*ContentAnalysisContext
	for _, c := range contexts {
		switch c.Method {
		case MethodFile:
			parts = append(parts, discardOnError(a.fileAnalysis(c)))
		case MethodModuleXTS:
			parts = append(parts, discardOnError(a.xtsAnalysis(c)))
		case MethodDeviceImage:
			parts = append(parts, discardOnError(a.deviceImageAnalysis(c)))
		case MethodBuildKey:
			parts = append(parts, discardOnError(a.buildKeyAnalysis(c)))
		case MethodSandboxWorkdir:
			workdir = append(workdir, c)
		default:
			// No handler for the method: inconclusive.
			parts = append(parts, nil)
		}
	}
	if len(workdir) > 0 {
		parts = append(parts, discardOnError(a.workdirAnalysis(workdir)))
	}
	return MergeResults(parts)
}

// discardOnError maps a failed partial analysis to nil; MergeResults
// counts every nil part as an assumed change.
func discardOnError(r *ContentAnalysisResults, err error) *ContentAnalysisResults {
	if err != nil {
		return nil
	}
	return r
}

// fileAnalysis matches every file found under TestsDir against the
// manifest diff: a file whose relative path appears in the diff is
// modified, every other on-host file is proven unchanged.
func (a *Analyzer) fileAnalysis(c *ContentAnalysisContext) (*ContentAnalysisResults, error) {
	diffPaths, err := diffPathSet(c)
	if err != nil {
		return nil, err
	}

	results := NewContentAnalysisResults()
	err = filepath.WalkDir(a.TestsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(a.TestsDir, path)
		if err != nil {
			return err
		}
		if _, changed := diffPaths[filepath.ToSlash(rel)]; changed {
			results.addModifiedFile()
		} else {
			results.addUnchangedFile()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("file analysis: %w", err)
	}
	return results, nil
}

// xtsAnalysis maps the manifest diff onto a suite layout: diffs under
// <root>/tools/ (minus the always-rotating version.txt) count as shared
// folder changes, then every module directory under testcases/ is judged
// changed or unchanged by path prefix. Modules outside a non-empty
// discovery set are ignored entirely.
func (a *Analyzer) xtsAnalysis(c *ContentAnalysisContext) (*ContentAnalysisResults, error) {
	diffPaths, err := diffPathSet(c)
	if err != nil {
		return nil, err
	}

	results := NewContentAnalysisResults()
	rootPackage := c.rootPackage()

	toolsPrefix := rootPackage + "/tools/"
	toolsDiffs := 0
	for p := range diffPaths {
		if strings.HasPrefix(p, toolsPrefix) && p != rootPackage+"/tools/version.txt" {
			toolsDiffs++
		}
	}
	results.addModifiedSharedFolder(toolsDiffs)

	testcasesRoot, err := findDir(a.RootDir, "testcases")
	if err != nil {
		return nil, fmt.Errorf("xts analysis: %w", err)
	}
	entries, err := os.ReadDir(testcasesRoot)
	if err != nil {
		return nil, fmt.Errorf("xts analysis: %w", err)
	}

	discovery := make(map[string]struct{}, len(a.DiscoveryModules))
	for _, m := range a.DiscoveryModules {
		discovery[m] = struct{}{}
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			if len(discovery) > 0 {
				if _, tracked := discovery[name]; !tracked {
					continue
				}
			}
			modulePrefix := fmt.Sprintf("%s/testcases/%s/", rootPackage, name)
			if anyHasPrefix(diffPaths, modulePrefix) {
				results.addModifiedModule()
			} else {
				results.addUnchangedModule(name)
			}
		} else {
			rootFilePath := fmt.Sprintf("%s/testcases/%s", rootPackage, name)
			if _, changed := diffPaths[rootFilePath]; changed {
				results.addModifiedFile()
			} else {
				results.addUnchangedFile()
			}
		}
	}
	return results, nil
}

// deviceImageAnalysis compares the aggregate image digests of the base
// and current manifests; any difference marks the whole artifact
// changed, with no sub-module granularity.
func (a *Analyzer) deviceImageAnalysis(c *ContentAnalysisContext) (*ContentAnalysisResults, error) {
	baseDigest, err := deviceImageDigest(c.Information.BaseContent, c)
	if err != nil {
		return nil, err
	}
	currentDigest, err := deviceImageDigest(c.Information.CurrentContent, c)
	if err != nil {
		return nil, err
	}

	results := NewContentAnalysisResults()
	if baseDigest != currentDigest {
		results.addDeviceImageChanges(1)
	}
	return results, nil
}

// buildKeyAnalysis marks the entry changed as soon as the filtered diff
// is non-empty.
func (a *Analyzer) buildKeyAnalysis(c *ContentAnalysisContext) (*ContentAnalysisResults, error) {
	diffPaths, err := diffPathSet(c)
	if err != nil {
		return nil, err
	}
	results := NewContentAnalysisResults()
	if len(diffPaths) > 0 {
		results.addChangedBuildKey(1)
	}
	return results, nil
}

// workdirCommonDirs lists, per known entry, the directories shared by
// all modules in a sandbox working directory.
var workdirCommonDirs = map[string][]string{
	"tradefed.zip":          {},
	"host-unit-tests.zip":   {"host/testcases/lib/", "host/testcases/lib64/"},
	"robolectric-tests.zip": {"host/testcases/android-all/"},
	"device-tests.zip":      {"host/testcases/lib/", "host/testcases/lib64/"},
	"general-tests.zip":     {"host/testcases/lib/", "host/testcases/lib64/"},
}

// workdirAnalysis folds the diffs of several entries into one working
// directory judgment: diffs under any common location count as shared
// changes, and every module directory under every testcases/ directory
// in TestsDir is judged by prefix. An entry with no known common-dir
// mapping aborts the analysis; it may not be supported yet.
func (a *Analyzer) workdirAnalysis(contexts []*ContentAnalysisContext) (*ContentAnalysisResults, error) {
	diffPaths := make(map[string]struct{})
	commonDirs := make(map[string]struct{})

	for _, c := range contexts {
		paths, err := diffPathSet(c)
		if err != nil {
			return nil, err
		}
		for p := range paths {
			diffPaths[p] = struct{}{}
		}
		wellKnown, ok := workdirCommonDirs[c.ContentEntry]
		if !ok {
			return nil, fmt.Errorf("workdir analysis: no common dirs known for entry %q", c.ContentEntry)
		}
		for _, dir := range wellKnown {
			commonDirs[dir] = struct{}{}
		}
		for _, dir := range c.CommonLocations {
			commonDirs[dir] = struct{}{}
		}
	}

	results := NewContentAnalysisResults()
	sharedDiffs := 0
	for p := range diffPaths {
		for dir := range commonDirs {
			if strings.HasPrefix(p, dir) {
				sharedDiffs++
				break
			}
		}
	}
	results.addModifiedSharedFolder(sharedDiffs)

	testcasesDirs, err := findAllDirs(a.TestsDir, "testcases")
	if err != nil {
		return nil, fmt.Errorf("workdir analysis: %w", err)
	}
	for _, testcasesDir := range testcasesDirs {
		rel, err := filepath.Rel(a.TestsDir, testcasesDir)
		if err != nil {
			return nil, fmt.Errorf("workdir analysis: %w", err)
		}
		relPrefix := filepath.ToSlash(rel)

		entries, err := os.ReadDir(testcasesDir)
		if err != nil {
			return nil, fmt.Errorf("workdir analysis: %w", err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			modulePrefix := relPrefix + "/" + entry.Name() + "/"
			if _, common := commonDirs[modulePrefix]; common {
				continue
			}
			if anyHasPrefix(diffPaths, modulePrefix) {
				results.addModifiedModule()
			} else {
				results.addUnchangedModule(entry.Name())
			}
		}
	}
	return results, nil
}

// diffPathSet diffs the context's manifests and returns the changed
// paths with the context's ignored paths filtered out.
func diffPathSet(c *ContentAnalysisContext) (map[string]struct{}, error) {
	base, err := ParseFile(c.Information.BaseContent, c.ContentEntry)
	if err != nil {
		return nil, err
	}
	current, err := ParseFile(c.Information.CurrentContent, c.ContentEntry)
	if err != nil {
		return nil, err
	}

	ignored := c.ignoredSet()
	paths := make(map[string]struct{})
	for _, d := range DiffContents(base, current) {
		if _, skip := ignored[d.Path]; skip {
			continue
		}
		paths[d.Path] = struct{}{}
	}
	return paths, nil
}

func anyHasPrefix(paths map[string]struct{}, prefix string) bool {
	for p := range paths {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// findDir returns the first directory named target under root,
// breadth-of-walk order.
func findDir(root, target string) (string, error) {
	found := ""
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == target {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("no %s directory under %s", target, root)
	}
	return found, nil
}

// findAllDirs returns every directory named target under root, without
// descending into matches.
func findAllDirs(root, target string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == target {
			found = append(found, path)
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}
