package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		want   Intent
	}{
		{"add", "Add a comments endpoint to the blog", IntentAdd},
		{"add via create", "Create a new admin role", IntentAdd},
		{"modify", "Fix the login bug and update the session handling", IntentModify},
		{"remove", "Delete the legacy export module", IntentRemove},
		{"remove wins tie with modify", "Remove the old handler and fix nothing else", IntentRemove},
		{"modify wins tie with add", "Update the user model and add validation notes", IntentModify},
		{"no keywords defaults to modify", "The dashboard feels slow on large accounts", IntentModify},
		{"empty prompt", "", IntentModify},
		{"keyword inside word does not count", "Address the readdress flow", IntentModify},
		{"punctuation around keyword", "Please remove: the audit log.", IntentRemove},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectIntent(tt.prompt))
		})
	}
}

func TestDetectIntentMajorityWins(t *testing.T) {
	// Two add keywords against one remove keyword.
	got := DetectIntent("Add pagination and add sorting, then drop the debug route")
	assert.Equal(t, IntentAdd, got)
}
