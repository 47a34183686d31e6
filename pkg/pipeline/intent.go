package pipeline

import "strings"

// Intent classifies what an iteration prompt asks for.
type Intent string

const (
	IntentAdd    Intent = "add"
	IntentModify Intent = "modify"
	IntentRemove Intent = "remove"
)

var intentKeywords = map[Intent][]string{
	IntentAdd:    {"add", "create", "new", "missing", "include"},
	IntentModify: {"fix", "update", "change", "modify", "refactor", "improve", "replace", "rename"},
	IntentRemove: {"remove", "delete", "drop", "exclude"},
}

// DetectIntent scans the prompt for intent keywords and returns the
// dominant category. Ties break remove > modify > add; no match defaults to
// modify as the safe choice for merge semantics.
func DetectIntent(prompt string) Intent {
	words := strings.Fields(strings.ToLower(prompt))
	counts := map[Intent]int{}
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?()\"'")
		for intent, keywords := range intentKeywords {
			for _, kw := range keywords {
				if w == kw {
					counts[intent]++
				}
			}
		}
	}

	best := IntentModify
	bestCount := 0
	// Priority order doubles as the tie-break.
	for _, intent := range []Intent{IntentRemove, IntentModify, IntentAdd} {
		if counts[intent] > bestCount {
			best = intent
			bestCount = counts[intent]
		}
	}
	if bestCount == 0 {
		return IntentModify
	}
	return best
}
