package provider

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/codeready-toolchain/forge/pkg/models"
)

// Shared prompt builders for the HTTP providers. The local provider ignores
// these and renders templates directly.

const schemaSystemPrompt = `You are an API architect. Extract a database schema and REST endpoint plan from the user's request.
Respond with ONLY a JSON object of this shape, no prose:
{"entities": [{"name": "...", "fields": [{"name": "...", "type": "...", "required": true}], "relations": [{"target": "...", "kind": "one_to_many"}]}], "endpoints": [{"method": "GET", "path": "/...", "entity": "...", "description": "..."}], "constraints": ["..."]}
If the request is too vague to extract anything, respond with {"entities": [], "endpoints": [], "constraints": []}.`

const codeSystemPrompt = `You are a senior backend engineer generating a production-quality project.
Respond with ONLY a JSON object mapping file paths to complete file contents, no prose:
{"path/to/file.py": "<full file content>"}
Every file must be complete and syntactically valid. Never truncate file contents.`

const reviewSystemPrompt = `You are a strict code reviewer. Review the given files for bugs, security issues, and style problems.
Respond with ONLY a JSON object, no prose:
{"issues": [{"file": "...", "line": 0, "severity": "info|warn|error", "message": "..."}], "summary": "..."}`

const docsSystemPrompt = `You are a technical writer. Produce documentation for the given project.
Respond with ONLY a JSON object mapping documentation file paths to contents, no prose:
{"README.md": "...", "docs/api.md": "..."}`

func buildSchemaUserPrompt(prompt string, contextMap map[string]any) string {
	var b strings.Builder
	b.WriteString("Request:\n")
	b.WriteString(prompt)
	writeContextHints(&b, contextMap)
	return b.String()
}

func buildCodeUserPrompt(prompt string, schema models.Schema, contextMap map[string]any) string {
	var b strings.Builder
	b.WriteString("Request:\n")
	b.WriteString(prompt)

	if !schema.IsEmpty() {
		if raw, err := json.Marshal(schema); err == nil {
			b.WriteString("\n\nSchema:\n")
			b.Write(raw)
		}
	}
	writeContextHints(&b, contextMap)

	if instructions, ok := contextMap["phase_instructions"].(string); ok && instructions != "" {
		b.WriteString("\n\nPhase instructions:\n")
		b.WriteString(instructions)
	}
	if IsIteration(contextMap) {
		b.WriteString("\n\nThis is an iteration on an existing project. Return ONLY the files that change. Unchanged files must not appear in the response.")
	}
	return b.String()
}

func buildReviewUserPrompt(files models.FileMap) string {
	var b strings.Builder
	b.WriteString("Files to review:\n")
	for _, path := range files.Paths() {
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", path, files[path])
	}
	return b.String()
}

func buildDocsUserPrompt(files models.FileMap, schema models.Schema, contextMap map[string]any) string {
	var b strings.Builder
	b.WriteString("Project files:\n")
	for _, path := range files.Paths() {
		fmt.Fprintf(&b, "- %s\n", path)
	}

	if !schema.IsEmpty() {
		if raw, err := json.Marshal(schema); err == nil {
			b.WriteString("\nSchema:\n")
			b.Write(raw)
			b.WriteString("\n")
		}
	}
	writeContextHints(&b, contextMap)
	return b.String()
}

// writeContextHints appends sorted scalar context entries so prompts stay
// deterministic for identical inputs.
func writeContextHints(b *strings.Builder, contextMap map[string]any) {
	if len(contextMap) == 0 {
		return
	}

	keys := make([]string, 0, len(contextMap))
	for k := range contextMap {
		switch k {
		case "is_iteration", "phase_instructions":
			continue
		}
		switch contextMap[k].(type) {
		case string, bool, int, int64, float64:
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)

	b.WriteString("\n\nContext:\n")
	for _, k := range keys {
		fmt.Fprintf(b, "- %s: %v\n", k, contextMap[k])
	}
}
