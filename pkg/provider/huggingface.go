package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/codeready-toolchain/forge/pkg/events"
	"github.com/codeready-toolchain/forge/pkg/models"
)

const (
	defaultHuggingFaceEndpoint = "https://api-inference.huggingface.co"
	defaultHuggingFaceModel    = "bigcode/starcoder2-15b"
)

// HuggingFace calls the HF Inference API. The API returns 503 while a model
// is cold-loading; that is treated as transient so the retry schedule covers
// warmup.
type HuggingFace struct {
	settings   Settings
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHuggingFace validates credentials and returns a HuggingFace provider.
func NewHuggingFace(settings Settings, logger *slog.Logger) (*HuggingFace, error) {
	if settings.APIKey == "" {
		return nil, NewError(KindUnavailable, "huggingface", "api key not configured", nil)
	}
	if settings.Endpoint == "" {
		settings.Endpoint = defaultHuggingFaceEndpoint
	}
	if settings.Model == "" {
		settings.Model = defaultHuggingFaceModel
	}
	if settings.Timeout <= 0 {
		settings.Timeout = defaultHTTPTimeout
	}
	if settings.Retry.MaxAttempts == 0 {
		settings.Retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HuggingFace{
		settings:   settings,
		httpClient: &http.Client{Timeout: settings.Timeout},
		logger:     logger.With("provider", "huggingface"),
	}, nil
}

func (h *HuggingFace) Info() Info {
	return Info{Name: "huggingface", Model: h.settings.Model, Capabilities: allCapabilities()}
}

func (h *HuggingFace) ExtractSchema(ctx context.Context, prompt string, contextMap map[string]any) (models.Schema, error) {
	raw, err := h.complete(ctx, schemaSystemPrompt, buildSchemaUserPrompt(prompt, contextMap))
	if err != nil {
		return models.Schema{}, err
	}
	return DecodeSchema("huggingface", raw)
}

func (h *HuggingFace) GenerateCode(ctx context.Context, prompt string, schema models.Schema, contextMap map[string]any, sink events.Sink) (models.FileMap, error) {
	raw, err := h.complete(ctx, codeSystemPrompt, buildCodeUserPrompt(prompt, schema, contextMap))
	if err != nil {
		return nil, err
	}
	return DecodeFileMap("huggingface", raw)
}

func (h *HuggingFace) ReviewCode(ctx context.Context, files models.FileMap) (models.ReviewReport, error) {
	raw, err := h.complete(ctx, reviewSystemPrompt, buildReviewUserPrompt(files))
	if err != nil {
		return models.ReviewReport{}, err
	}
	return DecodeReview("huggingface", raw)
}

func (h *HuggingFace) GenerateDocumentation(ctx context.Context, files models.FileMap, schema models.Schema, contextMap map[string]any) (models.FileMap, error) {
	raw, err := h.complete(ctx, docsSystemPrompt, buildDocsUserPrompt(files, schema, contextMap))
	if err != nil {
		return nil, err
	}
	return DecodeFileMap("huggingface", raw)
}

func (h *HuggingFace) complete(ctx context.Context, system, user string) (string, error) {
	var out string
	err := h.settings.Retry.Do(ctx, h.logger, func(ctx context.Context) error {
		text, err := h.textGeneration(ctx, system+"\n\n"+user)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	return out, err
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfParameters struct {
	MaxNewTokens   int     `json:"max_new_tokens,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	ReturnFullText bool    `json:"return_full_text"`
}

type hfGenerated struct {
	GeneratedText string `json:"generated_text"`
}

func (h *HuggingFace) textGeneration(ctx context.Context, input string) (string, error) {
	payload, err := json.Marshal(hfRequest{
		Inputs: input,
		Parameters: hfParameters{
			MaxNewTokens:   h.settings.MaxOutputTokens,
			Temperature:    h.settings.Temperature,
			ReturnFullText: false,
		},
	})
	if err != nil {
		return "", NewError(KindInvalidInput, "huggingface", "marshal request", err)
	}

	url := fmt.Sprintf("%s/models/%s", h.settings.Endpoint, h.settings.Model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", NewError(KindInvalidInput, "huggingface", "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.settings.APIKey)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", NewError(KindTransient, "huggingface", "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", NewError(KindTransient, "huggingface", "read response", err)
	}

	if resp.StatusCode == http.StatusServiceUnavailable {
		// Model still loading on HF's side.
		return "", NewError(KindTransient, "huggingface", fmt.Sprintf("model loading: %s", truncateBody(body)), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTPStatus("huggingface", resp.StatusCode, body)
	}

	// The inference API returns a one-element array for text generation.
	var outputs []hfGenerated
	if err := json.Unmarshal(body, &outputs); err != nil {
		var single hfGenerated
		if err2 := json.Unmarshal(body, &single); err2 != nil {
			return "", NewError(KindMalformed, "huggingface", "parse response", err)
		}
		outputs = []hfGenerated{single}
	}
	if len(outputs) == 0 || strings.TrimSpace(outputs[0].GeneratedText) == "" {
		return "", NewError(KindMalformed, "huggingface", "no completion returned", nil)
	}
	return strings.TrimSpace(outputs[0].GeneratedText), nil
}

func truncateBody(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
