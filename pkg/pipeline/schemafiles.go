package pipeline

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/codeready-toolchain/forge/pkg/models"
)

var (
	classNameRe = regexp.MustCompile(`(?m)^class\s+([A-Za-z_][A-Za-z0-9_]*)\b`)
	routePathRe = regexp.MustCompile(`@router\.(get|post|put|patch|delete)\(\s*["']([^"']+)["']`)
)

// SchemaFromFiles derives a schema from an existing file set without calling
// a model: entity names from files under models/, endpoints from router
// decorators under routers/. Iterations use this so they never depend on
// re-parsing the original prompt.
func SchemaFromFiles(files models.FileMap) models.Schema {
	var schema models.Schema
	seen := map[string]bool{}

	for _, p := range files.Paths() {
		dir, base := path.Split(p)
		if !strings.Contains(dir, "models/") || !strings.HasSuffix(base, ".py") {
			continue
		}
		name := entityNameFromFile(base, files[p])
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		schema.Entities = append(schema.Entities, models.Entity{Name: name})
	}
	sort.Slice(schema.Entities, func(i, j int) bool {
		return schema.Entities[i].Name < schema.Entities[j].Name
	})

	for _, p := range files.Paths() {
		if !strings.Contains(p, "routers/") {
			continue
		}
		for _, m := range routePathRe.FindAllStringSubmatch(files[p], -1) {
			schema.Endpoints = append(schema.Endpoints, models.Endpoint{
				Method: strings.ToUpper(m[1]),
				Path:   m[2],
			})
		}
	}

	return schema
}

// entityNameFromFile prefers the first class declaration in the file and
// falls back to the title-cased file name.
func entityNameFromFile(base, content string) string {
	if m := classNameRe.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	stem := strings.TrimSuffix(base, ".py")
	if stem == "" || stem == "__init__" || stem == "base" {
		return ""
	}
	return strings.ToUpper(stem[:1]) + stem[1:]
}
