package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/forge/pkg/models"
)

func geminiTextResponse(text string) string {
	resp := map[string]any{
		"candidates": []map[string]any{
			{
				"content": map[string]any{
					"parts": []map[string]any{{"text": text}},
				},
				"finishReason": "STOP",
			},
		},
	}
	raw, _ := json.Marshal(resp)
	return string(raw)
}

func newTestGemini(t *testing.T, handler http.HandlerFunc) *Gemini {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := NewGemini(Settings{
		APIKey:   "test-key",
		Endpoint: srv.URL,
		Model:    "gemini-test",
		Retry:    fastRetry(3),
	}, nil)
	require.NoError(t, err)
	return g
}

func TestGeminiRequiresAPIKey(t *testing.T) {
	_, err := NewGemini(Settings{}, nil)

	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))
}

func TestGeminiGenerateCode(t *testing.T) {
	var gotPath, gotKey string
	var gotBody geminiRequest

	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(geminiTextResponse(`{"main.py": "print('hi')"}`)))
	})

	files, err := g.GenerateCode(context.Background(), "Blog API", models.Schema{}, map[string]any{}, nil)

	require.NoError(t, err)
	assert.Equal(t, "print('hi')", files["main.py"])
	assert.Equal(t, "/models/gemini-test:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)
	require.NotNil(t, gotBody.SystemInstruction)
	assert.Equal(t, "application/json", gotBody.GenerationConfig.ResponseMimeType)
	require.Len(t, gotBody.Contents, 1)
	assert.Contains(t, gotBody.Contents[0].Parts[0].Text, "Blog API")
}

func TestGeminiExtractSchema(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(geminiTextResponse(`{"entities": [{"name": "Post", "fields": []}], "endpoints": [], "constraints": []}`)))
	})

	schema, err := g.ExtractSchema(context.Background(), "Blog API with posts", nil)

	require.NoError(t, err)
	require.Len(t, schema.Entities, 1)
	assert.Equal(t, "Post", schema.Entities[0].Name)
}

func TestGeminiIterationPromptAsksForChangedFilesOnly(t *testing.T) {
	var userText string
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		userText = req.Contents[0].Parts[0].Text
		w.Write([]byte(geminiTextResponse(`{"app/routers/post.py": "pass"}`)))
	})

	_, err := g.GenerateCode(context.Background(), "Add comments", models.Schema{},
		map[string]any{"is_iteration": true}, nil)

	require.NoError(t, err)
	assert.Contains(t, userText, "ONLY the files that change")
}

func TestGeminiStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   Kind
	}{
		{"bad request", http.StatusBadRequest, `{"error": {"message": "bad field"}}`, KindInvalidInput},
		{"token overflow", http.StatusBadRequest, `{"error": {"message": "input exceeds the maximum number of tokens"}}`, KindContextTooLarge},
		{"unauthorized", http.StatusUnauthorized, `{}`, KindUnavailable},
		{"forbidden", http.StatusForbidden, `{}`, KindUnavailable},
		{"payload too large", http.StatusRequestEntityTooLarge, `{}`, KindContextTooLarge},
		{"rate limited", http.StatusTooManyRequests, `{}`, KindRateLimited},
		{"server error", http.StatusInternalServerError, `{}`, KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			// Single attempt: the retry schedule must not mask the kind.
			g.settings.Retry = fastRetry(1)

			_, err := g.ReviewCode(context.Background(), models.FileMap{"main.py": "x"})

			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestGeminiRetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(geminiTextResponse(`{"issues": [], "summary": "clean"}`)))
	})

	report, err := g.ReviewCode(context.Background(), models.FileMap{"main.py": "x"})

	require.NoError(t, err)
	assert.Equal(t, "clean", report.Summary)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGeminiDoesNotRetryInvalidInput(t *testing.T) {
	var calls atomic.Int32
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "malformed request"}}`))
	})

	_, err := g.ExtractSchema(context.Background(), "x", nil)

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGeminiEmptyCandidatesIsMalformed(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": []}`))
	})
	g.settings.Retry = fastRetry(1)

	_, err := g.GenerateCode(context.Background(), "x", models.Schema{}, nil, nil)

	require.Error(t, err)
	assert.Equal(t, KindMalformed, KindOf(err))
}

func TestGeminiInfo(t *testing.T) {
	g, err := NewGemini(Settings{APIKey: "k"}, nil)
	require.NoError(t, err)

	info := g.Info()

	assert.Equal(t, "gemini", info.Name)
	assert.Equal(t, defaultGeminiModel, info.Model)
	assert.Contains(t, info.Capabilities, string(TaskCodeGeneration))
}
