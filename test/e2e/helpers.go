package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/forge/pkg/api"
	"github.com/codeready-toolchain/forge/pkg/events"
	"github.com/codeready-toolchain/forge/pkg/models"
)

// testUser is the identity forwarded on every e2e request.
const testUser = "e2e-user"

// SubmitGeneration posts a fresh generation and returns the accepted
// response.
func (app *TestApp) SubmitGeneration(t *testing.T, req api.SubmitGenerationRequest) api.GenerationAcceptedResponse {
	t.Helper()
	var accepted api.GenerationAcceptedResponse
	app.postJSON(t, "/api/v1/generations", req, http.StatusAccepted, &accepted)
	return accepted
}

// IterateGeneration posts an iteration on the parent and returns the
// accepted response.
func (app *TestApp) IterateGeneration(t *testing.T, parentID string, req api.IterateGenerationRequest) api.GenerationAcceptedResponse {
	t.Helper()
	var accepted api.GenerationAcceptedResponse
	app.postJSON(t, "/api/v1/generations/"+parentID+"/iterate", req, http.StatusAccepted, &accepted)
	return accepted
}

// GetGeneration retrieves a generation record by id.
func (app *TestApp) GetGeneration(t *testing.T, id string) models.Generation {
	t.Helper()
	var gen models.Generation
	app.getJSON(t, "/api/v1/generations/"+id, http.StatusOK, &gen)
	return gen
}

// CancelGeneration requests cancellation and returns the response status
// code.
func (app *TestApp) CancelGeneration(t *testing.T, id string) int {
	t.Helper()
	resp := app.do(t, http.MethodPost, "/api/v1/generations/"+id+"/cancel", nil)
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

// NewStreamToken mints a fresh single-use stream token for the generation.
func (app *TestApp) NewStreamToken(t *testing.T, generationID string) string {
	t.Helper()
	var token api.StreamTokenResponse
	app.postJSON(t, "/api/v1/generations/"+generationID+"/stream-token", nil, http.StatusOK, &token)
	return token.Token
}

// StreamEvents opens the SSE stream with the token and collects data frames
// until the terminal event arrives or the timeout expires.
func (app *TestApp) StreamEvents(t *testing.T, generationID, token string, timeout time.Duration) []events.GenerationEvent {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/v1/generations/%s/stream?token=%s", app.BaseURL, generationID, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode, "stream request rejected")
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var evs []events.GenerationEvent
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev events.GenerationEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		evs = append(evs, ev)
		if ev.IsTerminal() {
			break
		}
	}
	return evs
}

// WaitForStatus polls the generation until it reaches the wanted status.
func (app *TestApp) WaitForStatus(t *testing.T, generationID string, want models.GenerationStatus) models.Generation {
	t.Helper()
	var gen models.Generation
	require.Eventually(t, func() bool {
		gen = app.GetGeneration(t, generationID)
		return gen.Status == want
	}, 30*time.Second, 50*time.Millisecond, "generation %s never reached %s (last: %s, error: %q)",
		generationID, want, gen.Status, gen.ErrorMessage)
	return gen
}

func (app *TestApp) postJSON(t *testing.T, path string, body any, expectedStatus int, out any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Forwarded-User", testUser)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, expectedStatus, resp.StatusCode, "POST %s: unexpected status, body: %s", path, data)
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out))
	}
}

func (app *TestApp) getJSON(t *testing.T, path string, expectedStatus int, out any) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+path, nil)
	require.NoError(t, err)
	req.Header.Set("X-Forwarded-User", testUser)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, expectedStatus, resp.StatusCode, "GET %s: unexpected status, body: %s", path, data)
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out))
	}
}

// jsonBody marshals v into a request body reader.
func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func (app *TestApp) do(t *testing.T, method, path string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, app.BaseURL+path, body)
	require.NoError(t, err)
	req.Header.Set("X-Forwarded-User", testUser)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}
