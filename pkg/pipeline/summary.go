package pipeline

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/codeready-toolchain/forge/pkg/models"
)

// BuildChangesSummary compares two file sets and reports the touched paths
// plus line-level add/delete counts. Added and removed files count every
// line; modified files are diffed line-wise.
func BuildChangesSummary(before, after models.FileMap) *models.ChangesSummary {
	summary := &models.ChangesSummary{}
	dmp := diffmatchpatch.New()

	for _, p := range after.Paths() {
		old, existed := before[p]
		if !existed {
			summary.Added = append(summary.Added, p)
			summary.LinesAdded += countLines(after[p])
			continue
		}
		if old != after[p] {
			summary.Modified = append(summary.Modified, p)
			added, deleted := diffLineCounts(dmp, old, after[p])
			summary.LinesAdded += added
			summary.LinesDeleted += deleted
		}
	}
	for _, p := range before.Paths() {
		if _, kept := after[p]; !kept {
			summary.Removed = append(summary.Removed, p)
			summary.LinesDeleted += countLines(before[p])
		}
	}

	return summary
}

func diffLineCounts(dmp *diffmatchpatch.DiffMatchPatch, old, new string) (added, deleted int) {
	oldChars, newChars, lines := dmp.DiffLinesToChars(old, new)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(oldChars, newChars, false), lines)
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			deleted += countLines(d.Text)
		}
	}
	return added, deleted
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
