package models

import "sort"

// FileMap is a generated project's file tree: relative path → UTF-8 content.
// It is the unit of exchange between providers, the pipeline, and the
// artifact store.
type FileMap map[string]string

// Paths returns the file paths in lexical order.
func (f FileMap) Paths() []string {
	paths := make([]string, 0, len(f))
	for p := range f {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// TotalSize returns the combined content size in bytes.
func (f FileMap) TotalSize() int64 {
	var total int64
	for _, content := range f {
		total += int64(len(content))
	}
	return total
}

// Clone returns a shallow copy that can be mutated independently.
func (f FileMap) Clone() FileMap {
	out := make(FileMap, len(f))
	for p, c := range f {
		out[p] = c
	}
	return out
}

// Merge overlays other onto f in place. Keys in other win.
func (f FileMap) Merge(other FileMap) {
	for p, c := range other {
		f[p] = c
	}
}
