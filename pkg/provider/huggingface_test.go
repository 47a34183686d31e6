package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/forge/pkg/models"
)

func newTestHuggingFace(t *testing.T, handler http.HandlerFunc) *HuggingFace {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	h, err := NewHuggingFace(Settings{
		APIKey:   "hf-test",
		Endpoint: srv.URL,
		Model:    "test/model",
		Retry:    fastRetry(3),
	}, nil)
	require.NoError(t, err)
	return h
}

func TestHuggingFaceRequiresAPIKey(t *testing.T) {
	_, err := NewHuggingFace(Settings{}, nil)

	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))
}

func TestHuggingFaceGenerateCode(t *testing.T) {
	var gotPath, gotAuth string
	h := newTestHuggingFace(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[{"generated_text": "{\"main.py\": \"print('hi')\"}"}]`))
	})

	files, err := h.GenerateCode(context.Background(), "Blog API", models.Schema{}, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "print('hi')", files["main.py"])
	assert.Equal(t, "/models/test/model", gotPath)
	assert.Equal(t, "Bearer hf-test", gotAuth)
}

func TestHuggingFaceModelLoadingIsTransient(t *testing.T) {
	var calls atomic.Int32
	h := newTestHuggingFace(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error": "Model test/model is currently loading", "estimated_time": 20}`))
			return
		}
		w.Write([]byte(`[{"generated_text": "{\"issues\": [], \"summary\": \"ok\"}"}]`))
	})

	report, err := h.ReviewCode(context.Background(), models.FileMap{"main.py": "x"})

	require.NoError(t, err)
	assert.Equal(t, "ok", report.Summary)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHuggingFaceRateLimit(t *testing.T) {
	h := newTestHuggingFace(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	h.settings.Retry = fastRetry(1)

	_, err := h.ExtractSchema(context.Background(), "x", nil)

	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestHuggingFaceSingleObjectResponse(t *testing.T) {
	h := newTestHuggingFace(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"generated_text": "{\"entities\": [], \"endpoints\": [], \"constraints\": []}"}`))
	})

	schema, err := h.ExtractSchema(context.Background(), "vague", nil)

	require.NoError(t, err)
	assert.True(t, schema.IsEmpty())
}

func TestHuggingFaceEmptyCompletionIsMalformed(t *testing.T) {
	h := newTestHuggingFace(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"generated_text": "   "}]`))
	})
	h.settings.Retry = fastRetry(1)

	_, err := h.GenerateCode(context.Background(), "x", models.Schema{}, nil, nil)

	require.Error(t, err)
	assert.Equal(t, KindMalformed, KindOf(err))
}
