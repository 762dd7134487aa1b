package content

import "sort"

// ContentAnalysisResults aggregates what an analysis found: counters per
// category of change plus the names of modules proven unchanged, which
// downstream schedulers may use as a skip list.
type ContentAnalysisResults struct {
	unchangedFiles      int
	modifiedFiles       int
	modifiedModules     int
	unchangedModules    []string
	sharedFolderChanges int
	deviceImageChanges  int
	buildKeyChanges     int

	// assumedChanged counts contexts whose analysis could not complete;
	// each one forces HasAnyTestsChange true.
	assumedChanged int
}

// NewContentAnalysisResults returns an empty results accumulator.
func NewContentAnalysisResults() *ContentAnalysisResults {
	return &ContentAnalysisResults{}
}

func (r *ContentAnalysisResults) addUnchangedFile() {
	r.unchangedFiles++
}

func (r *ContentAnalysisResults) addModifiedFile() {
	r.modifiedFiles++
}

func (r *ContentAnalysisResults) addUnchangedModule(name string) {
	r.unchangedModules = append(r.unchangedModules, name)
}

func (r *ContentAnalysisResults) addModifiedModule() {
	r.modifiedModules++
}

func (r *ContentAnalysisResults) addModifiedSharedFolder(n int) {
	r.sharedFolderChanges += n
}

func (r *ContentAnalysisResults) addDeviceImageChanges(n int) {
	r.deviceImageChanges += n
}

func (r *ContentAnalysisResults) addChangedBuildKey(n int) {
	r.buildKeyChanges += n
}

func (r *ContentAnalysisResults) markAssumedChanged() {
	r.assumedChanged++
}

// HasAnyTestsChange reports whether anything that can invalidate a test
// run changed, or whether any part of the analysis was inconclusive.
// Inconclusive always counts as changed: over-reporting costs a
// redundant run, under-reporting silently skips a test.
func (r *ContentAnalysisResults) HasAnyTestsChange() bool {
	return r.modifiedFiles > 0 ||
		r.modifiedModules > 0 ||
		r.sharedFolderChanges > 0 ||
		r.deviceImageChanges > 0 ||
		r.buildKeyChanges > 0 ||
		r.assumedChanged > 0
}

// UnchangedModules returns the sorted names of modules whose files were
// diffed and found identical.
func (r *ContentAnalysisResults) UnchangedModules() []string {
	out := make([]string, len(r.unchangedModules))
	copy(out, r.unchangedModules)
	sort.Strings(out)
	return out
}

// ModifiedFiles reports how many on-host files had manifest diffs.
func (r *ContentAnalysisResults) ModifiedFiles() int { return r.modifiedFiles }

// UnchangedFiles reports how many on-host files were proven unchanged.
func (r *ContentAnalysisResults) UnchangedFiles() int { return r.unchangedFiles }

// ModifiedModules reports how many modules had diffs.
func (r *ContentAnalysisResults) ModifiedModules() int { return r.modifiedModules }

// SharedFolderChanges reports diffs under shared/common locations.
func (r *ContentAnalysisResults) SharedFolderChanges() int { return r.sharedFolderChanges }

// DeviceImageChanges reports device-image digest mismatches.
func (r *ContentAnalysisResults) DeviceImageChanges() int { return r.deviceImageChanges }

// BuildKeyChanges reports build-key entries with non-empty diffs.
func (r *ContentAnalysisResults) BuildKeyChanges() int { return r.buildKeyChanges }

// MergeResults folds partial results from independent analyses into one
// aggregate. Counters sum; unchanged-module sets concatenate.
func MergeResults(parts []*ContentAnalysisResults) *ContentAnalysisResults {
	merged := NewContentAnalysisResults()
	for _, p := range parts {
		if p == nil {
			merged.markAssumedChanged()
			continue
		}
		merged.unchangedFiles += p.unchangedFiles
		merged.modifiedFiles += p.modifiedFiles
		merged.modifiedModules += p.modifiedModules
		merged.unchangedModules = append(merged.unchangedModules, p.unchangedModules...)
		merged.sharedFolderChanges += p.sharedFolderChanges
		merged.deviceImageChanges += p.deviceImageChanges
		merged.buildKeyChanges += p.buildKeyChanges
		merged.assumedChanged += p.assumedChanged
	}
	return merged
}
