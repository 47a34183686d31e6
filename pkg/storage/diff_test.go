package storage

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/forge/pkg/models"
)

func TestRenderDiffUnified(t *testing.T) {
	from := models.FileMap{
		"main.py":   "line1\nline2\nline3\n",
		"stale.py":  "old\n",
		"shared.py": "same\n",
	}
	to := models.FileMap{
		"main.py":   "line1\nchanged\nline3\n",
		"new.py":    "fresh\n",
		"shared.py": "same\n",
	}

	patch := RenderDiff(from, to, 1, 2)

	assert.Contains(t, patch, "# diff v1 -> v2")
	assert.Contains(t, patch, "--- a/main.py")
	assert.Contains(t, patch, "+++ b/main.py")
	assert.Contains(t, patch, "-line2")
	assert.Contains(t, patch, "+changed")
	assert.Contains(t, patch, "+++ b/new.py")
	assert.Contains(t, patch, "+fresh")
	assert.Contains(t, patch, "--- a/stale.py")
	assert.Contains(t, patch, "-old")
	// Unchanged files do not appear.
	assert.NotContains(t, patch, "shared.py")
}

func TestRenderDiffFallbackForBinaryContent(t *testing.T) {
	from := models.FileMap{}
	to := models.FileMap{"blob.bin": string([]byte{0xff, 0xfe, 0x00, 0x80})}

	patch := RenderDiff(from, to, 1, 2)
	assert.Contains(t, patch, "=== added ===")
	assert.Contains(t, patch, "path: blob.bin")
}

func TestRenderFileSetDiffSections(t *testing.T) {
	from := models.FileMap{
		"removed.py":  "gone\n",
		"modified.py": "before\n",
	}
	to := models.FileMap{
		"added.py":    "short\n",
		"modified.py": "after\n",
		"big.py":      strings.Repeat("x\n", 2000),
	}

	out := RenderFileSetDiff(from, to)

	assert.Contains(t, out, "=== added ===")
	assert.Contains(t, out, "path: added.py")
	assert.Contains(t, out, "content:\nshort\n")
	assert.Contains(t, out, "=== removed ===")
	assert.Contains(t, out, "path: removed.py")
	assert.Contains(t, out, "=== modified ===")
	assert.Contains(t, out, "path: modified.py")
	// Long files are listed without inline content.
	assert.Contains(t, out, "path: big.py")
	assert.NotContains(t, out, strings.Repeat("x\n", 2000))
}

func TestDiffWritesPatchNextToSource(t *testing.T) {
	store := newTestStore(t)

	v1 := models.FileMap{"main.py": "v1\n"}
	v2 := models.FileMap{"main.py": "v2\n", "extra.py": "new\n"}

	_, err := store.SaveHierarchical("proj-1", "gen-1", 1, v1)
	require.NoError(t, err)
	_, err = store.SaveHierarchical("proj-1", "gen-2", 2, v2)
	require.NoError(t, err)

	patchPath, err := store.Diff("proj-1", 1, 2)
	require.NoError(t, err)
	assert.Contains(t, patchPath, "v2__gen-2")
	assert.True(t, strings.HasSuffix(patchPath, "diff_from_v1.patch"))

	data, err := os.ReadFile(patchPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "-v1")
	assert.Contains(t, string(data), "+v2")
	assert.Contains(t, string(data), "+++ b/extra.py")
}

func TestDiffMissingVersion(t *testing.T) {
	store := newTestStore(t)
	_, err := store.SaveHierarchical("proj-1", "gen-2", 2, testFiles())
	require.NoError(t, err)

	_, err = store.Diff("proj-1", 1, 2)
	assert.Error(t, err)
}
