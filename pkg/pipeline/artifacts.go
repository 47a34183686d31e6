package pipeline

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/forge/pkg/models"
)

// zipFileMap packs the file set into a zip archive for download.
func zipFileMap(files models.FileMap) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, p := range files.Paths() {
		f, err := w.Create(p)
		if err != nil {
			return nil, fmt.Errorf("failed to add %s to archive: %w", p, err)
		}
		if _, err := f.Write([]byte(files[p])); err != nil {
			return nil, fmt.Errorf("failed to write %s to archive: %w", p, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

// buildOpenAPIDocument renders a minimal OpenAPI 3 description of the
// generated project's endpoints, stored alongside the source tree.
func buildOpenAPIDocument(gen *models.Generation, schema models.Schema) map[string]any {
	paths := map[string]any{}
	for _, ep := range schema.Endpoints {
		if ep.Path == "" || ep.Method == "" {
			continue
		}
		ops, _ := paths[ep.Path].(map[string]any)
		if ops == nil {
			ops = map[string]any{}
			paths[ep.Path] = ops
		}
		op := map[string]any{
			"responses": map[string]any{"200": map[string]any{"description": "Successful response"}},
		}
		if ep.Description != "" {
			op["summary"] = ep.Description
		}
		if ep.Entity != "" {
			op["tags"] = []string{ep.Entity}
		}
		ops[strings.ToLower(ep.Method)] = op
	}

	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   fmt.Sprintf("Generated project %s", gen.ProjectID),
			"version": fmt.Sprintf("v%d", gen.Version),
		},
		"paths": paths,
	}
}
