package e2e

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/forge/pkg/api"
	"github.com/codeready-toolchain/forge/pkg/models"
)

// Cancelling a pending generation fails it immediately, before any worker
// claims it.
func TestE2E_CancelPendingGeneration(t *testing.T) {
	// A one-hour poll interval guarantees the generation stays pending.
	app := NewTestApp(t, WithPollInterval(time.Hour))

	accepted := app.SubmitGeneration(t, api.SubmitGenerationRequest{
		Prompt: "Build a kanban board with tasks and sprints",
	})

	assert.Equal(t, http.StatusAccepted, app.CancelGeneration(t, accepted.GenerationID))

	gen := app.WaitForStatus(t, accepted.GenerationID, models.GenerationStatusFailed)
	assert.Equal(t, "cancelled by user", gen.ErrorMessage)

	// Terminal generations are not cancellable again.
	assert.Equal(t, http.StatusConflict, app.CancelGeneration(t, accepted.GenerationID))
}

// Cancelling a completed generation is rejected with a conflict.
func TestE2E_CancelCompletedGeneration(t *testing.T) {
	app := NewTestApp(t)

	accepted := app.SubmitGeneration(t, api.SubmitGenerationRequest{
		Prompt: "Build a news site with articles",
	})
	app.WaitForStatus(t, accepted.GenerationID, models.GenerationStatusCompleted)

	assert.Equal(t, http.StatusConflict, app.CancelGeneration(t, accepted.GenerationID))
}
