package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/codeready-toolchain/forge/pkg/models"
)

// maxInlineContentLen bounds full-content listings in the fallback diff
// format; longer files are listed by path only.
const maxInlineContentLen = 2000

// Diff computes a patch between two versions of a project and writes it as
// diff_from_v{from}.patch inside the target version's directory. Per-file
// unified diffs are emitted where both sides are valid text; otherwise the
// file is reported in the stable file-set fallback format.
func (s *Store) Diff(projectID string, fromVersion, toVersion int) (string, error) {
	fromDir, ok := s.LookupGenerationDir(projectID, fromVersion, "")
	if !ok {
		return "", fmt.Errorf("no source tree for project %s version %d", projectID, fromVersion)
	}
	toDir, ok := s.LookupGenerationDir(projectID, toVersion, "")
	if !ok {
		return "", fmt.Errorf("no source tree for project %s version %d", projectID, toVersion)
	}

	fromFiles, err := s.LoadGenerationFiles(fromDir)
	if err != nil {
		return "", err
	}
	toFiles, err := s.LoadGenerationFiles(toDir)
	if err != nil {
		return "", err
	}

	patch := RenderDiff(fromFiles, toFiles, fromVersion, toVersion)

	// toDir is .../v{to}__{id}/source; the patch sits next to source/.
	patchPath := filepath.Join(filepath.Dir(toDir), fmt.Sprintf("diff_from_v%d.patch", fromVersion))
	if err := os.WriteFile(patchPath, []byte(patch), 0o644); err != nil {
		return "", fmt.Errorf("failed to write diff: %w", err)
	}
	return patchPath, nil
}

// RenderDiff produces the patch text for two file sets: unified diffs for
// changed text files, with added and removed files diffed against empty.
// Files that cannot be rendered as text fall back to the sectioned file-set
// format (=== added === / === removed === / === modified ===).
func RenderDiff(from, to models.FileMap, fromVersion, toVersion int) string {
	added, removed, modified := classifyChanges(from, to)

	var b strings.Builder
	fmt.Fprintf(&b, "# diff v%d -> v%d\n", fromVersion, toVersion)

	var fallback []string
	renderOne := func(path, oldContent, newContent string) {
		if !utf8.ValidString(oldContent) || !utf8.ValidString(newContent) {
			fallback = append(fallback, path)
			return
		}
		text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(oldContent),
			B:        difflib.SplitLines(newContent),
			FromFile: "a/" + path,
			ToFile:   "b/" + path,
			Context:  3,
		})
		if err != nil || text == "" {
			fallback = append(fallback, path)
			return
		}
		b.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			b.WriteByte('\n')
		}
	}

	for _, path := range added {
		renderOne(path, "", to[path])
	}
	for _, path := range removed {
		renderOne(path, from[path], "")
	}
	for _, path := range modified {
		renderOne(path, from[path], to[path])
	}

	if len(fallback) > 0 {
		b.WriteString(renderFallback(from, to, added, removed, modified, fallback))
	}
	return b.String()
}

// RenderFileSetDiff produces only the fallback sectioned format for the whole
// change set. Used when unified rendering is not wanted at all.
func RenderFileSetDiff(from, to models.FileMap) string {
	added, removed, modified := classifyChanges(from, to)
	all := append(append(append([]string{}, added...), removed...), modified...)
	return renderFallback(from, to, added, removed, modified, all)
}

func classifyChanges(from, to models.FileMap) (added, removed, modified []string) {
	for path := range to {
		if _, ok := from[path]; !ok {
			added = append(added, path)
		} else if from[path] != to[path] {
			modified = append(modified, path)
		}
	}
	for path := range from {
		if _, ok := to[path]; !ok {
			removed = append(removed, path)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(modified)
	return added, removed, modified
}

// renderFallback writes the stable, parseable file-set comparison format.
// Only paths in include are listed; short files carry full content.
func renderFallback(from, to models.FileMap, added, removed, modified, include []string) string {
	inc := make(map[string]bool, len(include))
	for _, p := range include {
		inc[p] = true
	}

	var b strings.Builder
	section := func(header string, paths []string, contents models.FileMap) {
		listed := make([]string, 0, len(paths))
		for _, p := range paths {
			if inc[p] {
				listed = append(listed, p)
			}
		}
		if len(listed) == 0 {
			return
		}
		fmt.Fprintf(&b, "=== %s ===\n", header)
		for _, p := range listed {
			fmt.Fprintf(&b, "path: %s\n", p)
			if contents != nil {
				if content, ok := contents[p]; ok && len(content) <= maxInlineContentLen {
					fmt.Fprintf(&b, "content:\n%s\n", content)
				}
			}
		}
	}

	section("added", added, to)
	section("removed", removed, nil)
	section("modified", modified, to)
	return b.String()
}
