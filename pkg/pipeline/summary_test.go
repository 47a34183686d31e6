package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/forge/pkg/models"
)

func TestBuildChangesSummary(t *testing.T) {
	before := models.FileMap{
		"main.py":   "line1\nline2\nline3\n",
		"old.py":    "gone\n",
		"stable.py": "unchanged\n",
	}
	after := models.FileMap{
		"main.py":   "line1\nchanged\nline3\nline4\n",
		"new.py":    "a\nb\n",
		"stable.py": "unchanged\n",
	}

	s := BuildChangesSummary(before, after)

	assert.Equal(t, []string{"new.py"}, s.Added)
	assert.Equal(t, []string{"old.py"}, s.Removed)
	assert.Equal(t, []string{"main.py"}, s.Modified)
	// new.py adds 2 lines, main.py adds 2 (changed + line4).
	assert.Equal(t, 4, s.LinesAdded)
	// old.py drops 1 line, main.py drops 1 (line2).
	assert.Equal(t, 2, s.LinesDeleted)
	assert.False(t, s.Empty())
}

func TestBuildChangesSummaryNoChanges(t *testing.T) {
	files := models.FileMap{"main.py": "same\n"}

	s := BuildChangesSummary(files, files.Clone())

	assert.True(t, s.Empty())
	assert.Zero(t, s.LinesAdded)
	assert.Zero(t, s.LinesDeleted)
}

func TestCountLines(t *testing.T) {
	assert.Equal(t, 0, countLines(""))
	assert.Equal(t, 1, countLines("no newline"))
	assert.Equal(t, 1, countLines("one\n"))
	assert.Equal(t, 2, countLines("one\ntwo"))
}
