package provider

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/codeready-toolchain/forge/pkg/models"
)

// fencedBlockRe matches a markdown code block, with or without a language tag.
var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)```")

// ExtractJSONObject pulls the first balanced JSON object out of raw model
// output. Models wrap JSON in markdown fences and prose; both are tolerated.
func ExtractJSONObject(content string) (string, bool) {
	if m := fencedBlockRe.FindStringSubmatch(content); len(m) > 1 {
		if obj, ok := balancedObject(m[1]); ok {
			return cleanJSON(obj), true
		}
	}
	if obj, ok := balancedObject(content); ok {
		return cleanJSON(obj), true
	}
	return "", false
}

// balancedObject scans for the first '{' and returns the substring up to its
// matching '}', respecting JSON string literals and escapes.
func balancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString:
			if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
		case ch == '"':
			inString = true
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// cleanJSON drops //-comments and trailing commas outside string values.
// Models commonly produce both; file contents inside strings are untouched.
func cleanJSON(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if escaped {
			b.WriteByte(ch)
			escaped = false
			continue
		}
		if inString {
			if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			b.WriteByte(ch)
			continue
		}

		switch {
		case ch == '"':
			inString = true
			b.WriteByte(ch)
		case ch == '/' && i+1 < len(raw) && raw[i+1] == '/':
			for i < len(raw) && raw[i] != '\n' {
				i++
			}
			if i < len(raw) {
				b.WriteByte('\n')
			}
		case ch == ',':
			j := i + 1
			for j < len(raw) && (raw[j] == ' ' || raw[j] == '\t' || raw[j] == '\n' || raw[j] == '\r') {
				j++
			}
			if j < len(raw) && (raw[j] == '}' || raw[j] == ']') {
				continue
			}
			b.WriteByte(ch)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// DecodeFileMap parses model output into a path-to-content map. A single
// {"files": {...}} envelope is unwrapped; non-string values are skipped.
// Anything unparseable returns KindMalformed.
func DecodeFileMap(providerName, raw string) (models.FileMap, error) {
	obj, ok := ExtractJSONObject(raw)
	if !ok {
		return nil, NewError(KindMalformed, providerName, "no JSON object in model output", nil)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &entries); err != nil {
		return nil, NewError(KindMalformed, providerName, "invalid JSON in model output", err)
	}

	if len(entries) == 1 {
		if inner, ok := entries["files"]; ok {
			var nested map[string]json.RawMessage
			if err := json.Unmarshal(inner, &nested); err == nil {
				entries = nested
			}
		}
	}

	files := make(models.FileMap, len(entries))
	for path, v := range entries {
		var content string
		if err := json.Unmarshal(v, &content); err != nil {
			continue
		}
		files[path] = content
	}
	if len(files) == 0 {
		return nil, NewError(KindMalformed, providerName, "model output contained no files", nil)
	}
	return files, nil
}

// DecodeSchema parses model output into a Schema. An empty object is valid;
// vague prompts legitimately produce empty schemas.
func DecodeSchema(providerName, raw string) (models.Schema, error) {
	obj, ok := ExtractJSONObject(raw)
	if !ok {
		return models.Schema{}, NewError(KindMalformed, providerName, "no JSON object in model output", nil)
	}

	var schema models.Schema
	if err := json.Unmarshal([]byte(obj), &schema); err != nil {
		return models.Schema{}, NewError(KindMalformed, providerName, "invalid schema JSON", err)
	}
	return schema, nil
}

// DecodeReview parses model output into a ReviewReport.
func DecodeReview(providerName, raw string) (models.ReviewReport, error) {
	obj, ok := ExtractJSONObject(raw)
	if !ok {
		return models.ReviewReport{}, NewError(KindMalformed, providerName, "no JSON object in model output", nil)
	}

	var report models.ReviewReport
	if err := json.Unmarshal([]byte(obj), &report); err != nil {
		return models.ReviewReport{}, NewError(KindMalformed, providerName, "invalid review JSON", err)
	}
	return report, nil
}
