package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/codeready-toolchain/forge/pkg/models"
)

const (
	maxKeyFiles       = 5
	maxKeyFileContent = 4000
	truncationMarker  = "\n... [truncated]"
)

// keyFilePriorities orders which existing files are excerpted into the
// iteration prompt. Earlier rules win.
var keyFilePriorities = []func(path string) bool{
	func(p string) bool { return strings.Contains(p, "main") },
	func(p string) bool { return strings.Contains(p, "app") || strings.Contains(p, "config") },
	func(p string) bool { return strings.Contains(p, "models/") },
	func(p string) bool { return strings.Contains(p, "schemas/") },
	func(p string) bool { return strings.Contains(p, "routers/") },
}

// BuildIterationPrompt assembles the context prompt for an iteration: the
// existing project's shape, excerpts of its key files, the user's request,
// and the detected intent with explicit merge instructions.
func BuildIterationPrompt(existing models.FileMap, request string, intent Intent) string {
	var b strings.Builder

	fmt.Fprintf(&b, "ITERATION REQUEST — existing project with %d files\n\n", len(existing))

	b.WriteString("PROJECT STRUCTURE:\n")
	b.WriteString(renderFileTree(existing.Paths()))
	b.WriteString("\n")

	keyFiles := selectKeyFiles(existing)
	if len(keyFiles) > 0 {
		b.WriteString("KEY FILES:\n")
		for _, p := range keyFiles {
			content := existing[p]
			if len(content) > maxKeyFileContent {
				content = content[:maxKeyFileContent] + truncationMarker
			}
			fmt.Fprintf(&b, "--- %s ---\n%s\n\n", p, content)
		}
	}

	fmt.Fprintf(&b, "USER REQUEST:\n%s\n\n", request)
	fmt.Fprintf(&b, "DETECTED INTENT: %s\n\n", intent)

	switch intent {
	case IntentRemove:
		b.WriteString("This is an iteration on an existing project. Return ONLY a JSON object " +
			"whose keys are the paths of files to REMOVE, with empty-string values. " +
			"Do not return files to keep.")
	default:
		b.WriteString("This is an iteration on an existing project. Return ONLY the files " +
			"to add or modify as a JSON object mapping paths to complete new contents. " +
			"Do not return unchanged files.")
	}

	return b.String()
}

// selectKeyFiles picks up to maxKeyFiles paths in priority order, each rule
// scanning paths lexically so the choice is deterministic.
func selectKeyFiles(existing models.FileMap) []string {
	var selected []string
	taken := map[string]bool{}
	for _, match := range keyFilePriorities {
		for _, p := range existing.Paths() {
			if len(selected) >= maxKeyFiles {
				return selected
			}
			if !taken[p] && match(p) {
				taken[p] = true
				selected = append(selected, p)
			}
		}
	}
	return selected
}

type treeNode struct {
	children map[string]*treeNode
	isFile   bool
}

// renderFileTree draws the paths as a UTF-8 tree. Directories come before
// files at every level; both are sorted lexically.
func renderFileTree(paths []string) string {
	root := &treeNode{children: map[string]*treeNode{}}
	for _, p := range paths {
		node := root
		parts := strings.Split(p, "/")
		for i, part := range parts {
			child, ok := node.children[part]
			if !ok {
				child = &treeNode{children: map[string]*treeNode{}}
				node.children[part] = child
			}
			if i == len(parts)-1 {
				child.isFile = true
			}
			node = child
		}
	}

	var b strings.Builder
	renderTreeLevel(&b, root, "")
	return b.String()
}

func renderTreeLevel(b *strings.Builder, node *treeNode, prefix string) {
	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		di, dj := !node.children[names[i]].isFile, !node.children[names[j]].isFile
		if di != dj {
			return di
		}
		return names[i] < names[j]
	})

	for i, name := range names {
		child := node.children[name]
		connector, childPrefix := "├── ", prefix+"│   "
		if i == len(names)-1 {
			connector, childPrefix = "└── ", prefix+"    "
		}
		label := name
		if !child.isFile {
			label += "/"
		}
		b.WriteString(prefix + connector + label + "\n")
		renderTreeLevel(b, child, childPrefix)
	}
}
