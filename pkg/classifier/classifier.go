// Package classifier infers domain, tech stack, a suggested project name,
// and entity hints from a natural-language prompt. Rule-based and pure:
// identical prompts always classify identically, with no I/O.
package classifier

import (
	"regexp"
	"strings"

	"github.com/codeready-toolchain/forge/pkg/models"
)

// Domain tags.
const (
	DomainEcommerce         = "ecommerce"
	DomainSocialMedia       = "social_media"
	DomainFintech           = "fintech"
	DomainTaskManagement    = "task_management"
	DomainContentManagement = "content_management"
	DomainGeneral           = "general"
)

// DefaultTechStack is used when neither the prompt nor the project hints at
// a stack.
const DefaultTechStack = "fastapi_postgres"

// domainPattern scores one domain: base confidence when a keyword matches,
// plus a small boost per additional keyword.
type domainPattern struct {
	domain   string
	keywords []string
	base     float64
}

// Patterns are ordered; earlier entries win score ties so classification
// stays deterministic.
var domainPatterns = []domainPattern{
	{
		domain: DomainEcommerce,
		keywords: []string{
			"ecommerce", "e-commerce", "shop", "store", "cart", "checkout",
			"product", "inventory", "catalog", "marketplace", "order",
		},
		base: 0.6,
	},
	{
		domain: DomainSocialMedia,
		keywords: []string{
			"social", "follow", "follower", "friend", "feed", "like",
			"comment", "share", "profile", "post", "message", "chat",
		},
		base: 0.6,
	},
	{
		domain: DomainFintech,
		keywords: []string{
			"bank", "banking", "payment", "transaction", "wallet", "finance",
			"loan", "invoice", "budget", "trading", "crypto", "expense",
		},
		base: 0.6,
	},
	{
		domain: DomainTaskManagement,
		keywords: []string{
			"task", "todo", "to-do", "kanban", "sprint", "ticket",
			"workflow", "assignment", "deadline", "board",
		},
		base: 0.6,
	},
	{
		domain: DomainContentManagement,
		keywords: []string{
			"blog", "article", "cms", "content", "page", "publish",
			"editor", "media", "news", "wiki",
		},
		base: 0.6,
	},
}

var frameworkTokens = map[string]string{
	"fastapi": "fastapi",
	"flask":   "flask",
	"django":  "django",
	"express": "express",
	"node":    "express",
}

var databaseTokens = map[string]string{
	"postgres":   "postgres",
	"postgresql": "postgres",
	"mongo":      "mongo",
	"mongodb":    "mongo",
	"mysql":      "mysql",
	"sqlite":     "sqlite",
}

var quotedNameRe = regexp.MustCompile(`(?i)(?:called|named)\s+["']([^"']+)["']`)

// leadingStopWords end the prompt segment usable as a project title.
var leadingStopWords = map[string]bool{
	"with": true, "that": true, "for": true, "to": true, "which": true,
	"using": true, "where": true, "and": true, "including": true,
}

// leadingFillerWords are stripped from the front of a title segment.
var leadingFillerWords = map[string]bool{
	"create": true, "build": true, "make": true, "develop": true,
	"generate": true, "design": true, "implement": true, "write": true,
	"i": true, "want": true, "need": true, "please": true,
	"a": true, "an": true, "the": true, "my": true, "new": true,
	"simple": true, "basic": true,
}

// Classify analyzes the prompt. techStackHint, when non-empty, overrides
// stack inference (it comes from the project the generation belongs to).
func Classify(prompt, techStackHint string) models.Classification {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return models.Classification{
			Domain:        DomainGeneral,
			TechStack:     defaultStack(techStackHint),
			SuggestedName: "Untitled API",
			Entities:      []string{},
			Confidence:    0,
		}
	}

	words := wordSet(strings.ToLower(trimmed))
	domain, confidence := classifyDomain(words)

	return models.Classification{
		Domain:        domain,
		TechStack:     inferTechStack(words, techStackHint),
		SuggestedName: suggestName(trimmed, domain),
		Entities:      extractEntities(trimmed),
		Confidence:    confidence,
	}
}

// wordSet tokenizes the prompt and indexes every word plus its singular
// form, so "products" matches the "product" keyword.
func wordSet(lower string) map[string]bool {
	set := make(map[string]bool)
	word := strings.Builder{}
	flush := func() {
		if word.Len() == 0 {
			return
		}
		w := word.String()
		set[w] = true
		set[strings.ToLower(singularize(w))] = true
		word.Reset()
	}
	for _, r := range lower {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' {
			word.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return set
}

func defaultStack(hint string) string {
	if hint != "" {
		return hint
	}
	return DefaultTechStack
}

func classifyDomain(words map[string]bool) (string, float64) {
	bestDomain := DomainGeneral
	bestScore := 0
	bestBase := 0.0

	for _, p := range domainPatterns {
		score := 0
		for _, kw := range p.keywords {
			if words[kw] {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestDomain = p.domain
			bestBase = p.base
		}
	}

	if bestScore == 0 {
		return DomainGeneral, 0.2
	}
	confidence := bestBase + 0.1*float64(bestScore-1)
	if confidence > 0.95 {
		confidence = 0.95
	}
	return bestDomain, confidence
}

func inferTechStack(words map[string]bool, hint string) string {
	framework := ""
	for _, token := range []string{"fastapi", "flask", "django", "express", "node"} {
		if words[token] {
			framework = frameworkTokens[token]
			break
		}
	}
	database := ""
	for _, token := range []string{"postgres", "postgresql", "mongo", "mongodb", "mysql", "sqlite"} {
		if words[token] {
			database = databaseTokens[token]
			break
		}
	}

	if framework == "" && database == "" {
		return defaultStack(hint)
	}
	if framework == "" {
		framework = "fastapi"
	}
	if database == "" {
		database = "postgres"
	}
	return framework + "_" + database
}

func suggestName(prompt, domain string) string {
	if m := quotedNameRe.FindStringSubmatch(prompt); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			return name
		}
	}

	if name := leadingTitle(prompt); name != "" {
		return name
	}

	if domain != DomainGeneral {
		return domainTitle(domain) + " API"
	}
	return "Untitled API"
}

// leadingTitle extracts a 1-3 word title from the start of the prompt,
// stopping at structural words: "Blog API with User and Post" → "Blog API".
func leadingTitle(prompt string) string {
	words := strings.Fields(prompt)
	var title []string
	for _, w := range words {
		clean := strings.Trim(w, ".,:;!?")
		lower := strings.ToLower(clean)
		if leadingStopWords[lower] {
			break
		}
		if len(title) == 0 && leadingFillerWords[lower] {
			continue
		}
		if !isTitleWord(clean) {
			break
		}
		title = append(title, titleCase(clean))
		if len(title) == 3 {
			break
		}
	}
	if len(title) == 0 {
		return ""
	}
	name := strings.Join(title, " ")
	if !strings.Contains(name, "API") {
		name += " API"
	}
	return name
}

func isTitleWord(w string) bool {
	if w == "" || len(w) > 30 {
		return false
	}
	for _, r := range w {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '-') {
			return false
		}
	}
	return true
}

func titleCase(w string) string {
	if w == strings.ToUpper(w) {
		return w // keep acronyms (API, CRM)
	}
	return strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
}

func domainTitle(domain string) string {
	parts := strings.Split(domain, "_")
	for i, p := range parts {
		parts[i] = titleCase(p)
	}
	return strings.Join(parts, " ")
}

// entityListRe captures the phrase after "with/including/containing" up to
// sentence end, which usually enumerates the requested entities.
var entityListRe = regexp.MustCompile(`(?i)\b(?:with|including|containing|managing)\s+([^.;:!?]+)`)

// capitalizedSkipWords are capitalized words that never name an entity.
var capitalizedSkipWords = map[string]bool{
	"the": true, "a": true, "an": true, "i": true, "it": true,
	"this": true, "that": true, "and": true, "or": true, "with": true,
	"for": true, "add": true, "create": true, "build": true, "make": true,
	"update": true, "remove": true, "delete": true, "rename": true,
	"change": true, "please": true, "new": true,
}

// extractEntities pulls entity hints from "with X, Y, and Z" phrases and
// from mid-sentence capitalized nouns ("Add a Comment entity"). Tokens in a
// with-phrase count only when capitalized or plural; lowercase singular
// words there are usually field names, not entities.
func extractEntities(prompt string) []string {
	entities := []string{}
	seen := map[string]bool{}
	add := func(name string) {
		if lower := strings.ToLower(name); !seen[lower] {
			seen[lower] = true
			entities = append(entities, name)
		}
	}

	if m := entityListRe.FindStringSubmatch(prompt); m != nil {
		segment := strings.ReplaceAll(m[1], " and ", ",")
		for _, raw := range strings.Split(segment, ",") {
			token := strings.TrimSpace(raw)
			if token == "" || strings.Count(token, " ") > 1 {
				continue
			}
			// Last word carries the noun ("user accounts" → accounts).
			fields := strings.Fields(token)
			word := strings.Trim(fields[len(fields)-1], ".,:;!?\"'")
			if !isTitleWord(word) || len(word) < 2 {
				continue
			}
			singular := singularize(word)
			capitalized := word[0] >= 'A' && word[0] <= 'Z'
			if !capitalized && singular == word {
				continue
			}
			add(titleCase(singular))
		}
	}

	words := strings.Fields(prompt)
	for i, w := range words {
		if i == 0 {
			continue
		}
		word := strings.Trim(w, ".,:;!?\"'")
		if len(word) < 2 || !isTitleWord(word) {
			continue
		}
		// Capitalized word followed by lowercase: "Comment" yes, "API" no.
		if word[0] < 'A' || word[0] > 'Z' || word[1] < 'a' || word[1] > 'z' {
			continue
		}
		if capitalizedSkipWords[strings.ToLower(word)] {
			continue
		}
		add(titleCase(singularize(word)))
	}
	return entities
}

// singularize trims simple plural suffixes; entity names read better singular.
func singularize(w string) string {
	lower := strings.ToLower(w)
	switch {
	case strings.HasSuffix(lower, "ies") && len(w) > 3:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(lower, "ses") && len(w) > 3:
		return w[:len(w)-2]
	case strings.HasSuffix(lower, "s") && !strings.HasSuffix(lower, "ss") && len(w) > 1:
		return w[:len(w)-1]
	}
	return w
}
