package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestFileName is the metadata file written at the root of every
// hierarchical generation directory.
const ManifestFileName = "manifest.json"

// Manifest describes a persisted generation's contents.
type Manifest struct {
	GenerationID   string            `json:"generation_id"`
	ProjectID      string            `json:"project_id"`
	Version        int               `json:"version"`
	CreatedAt      time.Time         `json:"created_at"`
	FileCount      int               `json:"file_count"`
	TotalSizeBytes int64             `json:"total_size_bytes"`
	Files          []string          `json:"files"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// WriteManifest writes the manifest atomically into dir.
func WriteManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, ManifestFileName), data); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest from dir.
func ReadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return m, nil
}
