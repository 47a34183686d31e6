// Package storage implements the versioned artifact store: a hierarchical
// on-disk layout of generated projects with manifests, diffs, an active
// pointer, and archival.
//
// Canonical layout under <root>/projects/<project_id>/:
//
//	generations/
//	  v{version}__{generation_id}/
//	    manifest.json
//	    source/
//	    artifacts/
//	    diff_from_v{prev}.patch
//	  active -> v{N}__{id}
//	archive/
//
// A generation directory is either fully present or absent; in-flight writes
// happen in temp siblings that directory listings ignore.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/forge/pkg/models"
)

// Store is the filesystem-backed artifact store. Safe for concurrent use on
// distinct (project, version) paths; rename atomicity is delegated to the OS.
type Store struct {
	root string
}

// SaveResult summarizes a persisted file tree.
type SaveResult struct {
	Path           string
	FileCount      int
	TotalSizeBytes int64
}

// NewStore creates a store rooted at root, creating the directory if needed.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root must not be empty")
	}
	if err := os.MkdirAll(filepath.Join(root, "projects"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) projectDir(projectID string) string {
	return filepath.Join(s.root, "projects", projectID)
}

func (s *Store) generationsDir(projectID string) string {
	return filepath.Join(s.projectDir(projectID), "generations")
}

func (s *Store) archiveDir(projectID string) string {
	return filepath.Join(s.projectDir(projectID), "archive")
}

// generationDirName builds the canonical "v{version}__{generation_id}" name.
func generationDirName(version int, generationID string) string {
	return fmt.Sprintf("v%d__%s", version, generationID)
}

// parseVersion extracts the version from a "v{version}__{id}" directory name.
func parseVersion(dirName string) (int, bool) {
	if !strings.HasPrefix(dirName, "v") {
		return 0, false
	}
	idx := strings.Index(dirName, "__")
	if idx < 2 {
		return 0, false
	}
	v, err := strconv.Atoi(dirName[1:idx])
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}

// SaveHierarchical persists files under the canonical per-version layout and
// writes the manifest. When phases already wrote into the generation's
// source/ directory incrementally, the save finalizes in place; otherwise the
// whole tree is staged in a temp sibling and renamed into place.
func (s *Store) SaveHierarchical(projectID, generationID string, version int, files models.FileMap) (SaveResult, error) {
	if projectID == "" || generationID == "" || version < 1 {
		return SaveResult{}, fmt.Errorf("invalid save target: project=%q generation=%q version=%d", projectID, generationID, version)
	}

	genDir := filepath.Join(s.generationsDir(projectID), generationDirName(version, generationID))
	if _, err := os.Stat(genDir); err == nil {
		if err := s.finalizeInPlace(genDir, projectID, generationID, version, files); err != nil {
			return SaveResult{}, err
		}
	} else {
		if err := s.stageAndRename(genDir, projectID, generationID, version, files); err != nil {
			return SaveResult{}, err
		}
	}

	return SaveResult{
		Path:           genDir,
		FileCount:      len(files),
		TotalSizeBytes: files.TotalSize(),
	}, nil
}

// stageAndRename writes the full generation tree into a temp sibling, then
// renames it into place so the directory appears atomically.
func (s *Store) stageAndRename(genDir, projectID, generationID string, version int, files models.FileMap) error {
	parent := filepath.Dir(genDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("failed to create generations dir: %w", err)
	}

	tmpDir := filepath.Join(parent, ".tmp-"+filepath.Base(genDir)+"-"+randSuffix())
	if err := s.writeTree(tmpDir, projectID, generationID, version, files); err != nil {
		_ = os.RemoveAll(tmpDir)
		return err
	}
	if err := os.Rename(tmpDir, genDir); err != nil {
		_ = os.RemoveAll(tmpDir)
		return fmt.Errorf("failed to move generation into place: %w", err)
	}
	return nil
}

// finalizeInPlace overlays files onto an existing generation directory
// (incremental phase writes) and refreshes the manifest.
func (s *Store) finalizeInPlace(genDir, projectID, generationID string, version int, files models.FileMap) error {
	if err := s.writeSource(filepath.Join(genDir, "source"), files); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(genDir, "artifacts"), 0o755); err != nil {
		return fmt.Errorf("failed to create artifacts dir: %w", err)
	}
	return WriteManifest(genDir, s.buildManifest(projectID, generationID, version, files))
}

func (s *Store) writeTree(dir, projectID, generationID string, version int, files models.FileMap) error {
	if err := s.writeSource(filepath.Join(dir, "source"), files); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(dir, "artifacts"), 0o755); err != nil {
		return fmt.Errorf("failed to create artifacts dir: %w", err)
	}
	return WriteManifest(dir, s.buildManifest(projectID, generationID, version, files))
}

func (s *Store) buildManifest(projectID, generationID string, version int, files models.FileMap) Manifest {
	return Manifest{
		GenerationID:   generationID,
		ProjectID:      projectID,
		Version:        version,
		CreatedAt:      time.Now().UTC(),
		FileCount:      len(files),
		TotalSizeBytes: files.TotalSize(),
		Files:          files.Paths(),
	}
}

func (s *Store) writeSource(sourceDir string, files models.FileMap) error {
	if err := os.MkdirAll(sourceDir, 0o755); err != nil {
		return fmt.Errorf("failed to create source dir: %w", err)
	}
	for rel, content := range files {
		path, err := safeJoin(sourceDir, rel)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create dir for %s: %w", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", rel, err)
		}
	}
	return nil
}

// WritePhaseFiles persists one phase's outputs into the generation's source/
// directory so a later failure preserves the partial project.
func (s *Store) WritePhaseFiles(projectID, generationID string, version int, files models.FileMap) error {
	genDir := filepath.Join(s.generationsDir(projectID), generationDirName(version, generationID))
	return s.writeSource(filepath.Join(genDir, "source"), files)
}

// WriteArtifact stores an auxiliary artifact (zip, openapi spec, review
// report) under the generation's artifacts/ directory and returns its path.
func (s *Store) WriteArtifact(projectID, generationID string, version int, name string, data []byte) (string, error) {
	genDir := filepath.Join(s.generationsDir(projectID), generationDirName(version, generationID))
	artifactsDir := filepath.Join(genDir, "artifacts")
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifacts dir: %w", err)
	}
	path, err := safeJoin(artifactsDir, name)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", name, err)
	}
	return path, nil
}

// SaveFlatLegacy persists files under <root>/projects/<generation_id>/ for
// callers that do not supply a project and version.
func (s *Store) SaveFlatLegacy(generationID string, files models.FileMap) (SaveResult, error) {
	if generationID == "" {
		return SaveResult{}, fmt.Errorf("generation id must not be empty")
	}
	dir := filepath.Join(s.root, "projects", generationID)
	parent := filepath.Dir(dir)

	tmpDir := filepath.Join(parent, ".tmp-"+generationID+"-"+randSuffix())
	if err := s.writeSource(tmpDir, files); err != nil {
		_ = os.RemoveAll(tmpDir)
		return SaveResult{}, err
	}
	if err := os.Rename(tmpDir, dir); err != nil {
		_ = os.RemoveAll(tmpDir)
		return SaveResult{}, fmt.Errorf("failed to move generation into place: %w", err)
	}
	return SaveResult{
		Path:           dir,
		FileCount:      len(files),
		TotalSizeBytes: files.TotalSize(),
	}, nil
}

// LookupGenerationDir locates a generation's file tree. Hierarchical layout
// is searched first (returning the source/ subdirectory), then the flat
// legacy layout. Zero values mean "unknown": projectID "" searches all
// projects, version 0 matches any version.
func (s *Store) LookupGenerationDir(projectID string, version int, generationID string) (string, bool) {
	if dir, ok := s.lookupHierarchical(projectID, version, generationID); ok {
		return dir, true
	}
	if generationID != "" {
		flat := filepath.Join(s.root, "projects", generationID)
		if info, err := os.Stat(flat); err == nil && info.IsDir() {
			return flat, true
		}
	}
	return "", false
}

func (s *Store) lookupHierarchical(projectID string, version int, generationID string) (string, bool) {
	projectIDs := []string{projectID}
	if projectID == "" {
		entries, err := os.ReadDir(filepath.Join(s.root, "projects"))
		if err != nil {
			return "", false
		}
		projectIDs = projectIDs[:0]
		for _, e := range entries {
			if e.IsDir() {
				projectIDs = append(projectIDs, e.Name())
			}
		}
	}

	for _, pid := range projectIDs {
		for _, base := range []string{s.generationsDir(pid), s.archiveDir(pid)} {
			entries, err := os.ReadDir(base)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				v, ok := parseVersion(e.Name())
				if !ok {
					continue
				}
				if version > 0 && v != version {
					continue
				}
				if generationID != "" && !strings.HasSuffix(e.Name(), "__"+generationID) {
					continue
				}
				return filepath.Join(base, e.Name(), "source"), true
			}
		}
	}
	return "", false
}

// LoadGenerationFiles reads a generation's file tree back into a FileMap.
func (s *Store) LoadGenerationFiles(dir string) (models.FileMap, error) {
	files := make(models.FileMap)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load generation files from %s: %w", dir, err)
	}
	return files, nil
}

// SetActive atomically points the project's active link at the given version.
// Link failures (filesystems without symlink support) fall back to a marker
// file; any remaining failure is logged and swallowed because the pointer is
// a convenience, not a source of truth. Idempotent.
func (s *Store) SetActive(projectID string, version int) error {
	target, ok := s.findVersionDirName(projectID, version)
	if !ok {
		return fmt.Errorf("no generation directory for project %s version %d", projectID, version)
	}

	linkPath := filepath.Join(s.generationsDir(projectID), "active")
	tmpLink := linkPath + ".tmp-" + randSuffix()

	if err := os.Symlink(target, tmpLink); err == nil {
		if err := os.Rename(tmpLink, linkPath); err == nil {
			return nil
		}
		_ = os.Remove(tmpLink)
	}

	// Symlinks unavailable: write a marker file holding the directory name.
	if err := writeFileAtomic(linkPath, []byte(target)); err != nil {
		slog.Warn("Failed to update active pointer",
			"project_id", projectID, "version", version, "error", err)
	}
	return nil
}

// ActiveGenerationDir resolves the project's active pointer to a generation
// directory name, following either the symlink or the marker file.
func (s *Store) ActiveGenerationDir(projectID string) (string, bool) {
	linkPath := filepath.Join(s.generationsDir(projectID), "active")

	if target, err := os.Readlink(linkPath); err == nil {
		if _, statErr := os.Stat(filepath.Join(s.generationsDir(projectID), target)); statErr == nil {
			return target, true
		}
		return "", false
	}
	data, err := os.ReadFile(linkPath)
	if err != nil {
		return "", false
	}
	target := strings.TrimSpace(string(data))
	if _, err := os.Stat(filepath.Join(s.generationsDir(projectID), target)); err != nil {
		return "", false
	}
	return target, true
}

func (s *Store) findVersionDirName(projectID string, version int) (string, bool) {
	entries, err := os.ReadDir(s.generationsDir(projectID))
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if v, ok := parseVersion(e.Name()); ok && v == version {
			return e.Name(), true
		}
	}
	return "", false
}

// Cleanup archives generation directories outside the latest keepLatest
// versions whose age exceeds archiveAge. The version referenced by the
// active pointer is never archived. Directories are moved, never deleted.
// Returns the archived directory names.
func (s *Store) Cleanup(projectID string, keepLatest int, archiveAge time.Duration) ([]string, error) {
	gensDir := s.generationsDir(projectID)
	entries, err := os.ReadDir(gensDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}

	type versioned struct {
		name    string
		version int
	}
	var dirs []versioned
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if v, ok := parseVersion(e.Name()); ok {
			dirs = append(dirs, versioned{name: e.Name(), version: v})
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].version > dirs[j].version })

	if keepLatest < 0 {
		keepLatest = 0
	}
	if len(dirs) <= keepLatest {
		return nil, nil
	}

	activeName, _ := s.ActiveGenerationDir(projectID)
	cutoff := time.Now().Add(-archiveAge)

	var archived []string
	for _, d := range dirs[keepLatest:] {
		if d.name == activeName {
			continue
		}
		dirPath := filepath.Join(gensDir, d.name)
		info, err := os.Stat(dirPath)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.MkdirAll(s.archiveDir(projectID), 0o755); err != nil {
			return archived, fmt.Errorf("failed to create archive dir: %w", err)
		}
		dest := filepath.Join(s.archiveDir(projectID), d.name)
		if err := os.Rename(dirPath, dest); err != nil {
			slog.Warn("Failed to archive generation directory",
				"project_id", projectID, "dir", d.name, "error", err)
			continue
		}
		archived = append(archived, d.name)
	}
	return archived, nil
}

// ProjectIDs lists project directories present in the store.
func (s *Store) ProjectIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "projects"))
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// safeJoin joins rel under base, rejecting absolute paths and traversal
// outside base. Generated file paths are model output and cannot be trusted.
func safeJoin(base, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty file path")
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("absolute file path not allowed: %s", rel)
	}
	joined := filepath.Join(base, filepath.FromSlash(rel))
	cleanBase := filepath.Clean(base) + string(filepath.Separator)
	if !strings.HasPrefix(joined, cleanBase) {
		return "", fmt.Errorf("file path escapes generation directory: %s", rel)
	}
	return joined, nil
}

// writeFileAtomic writes data to a temp sibling and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp-" + randSuffix()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func randSuffix() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
