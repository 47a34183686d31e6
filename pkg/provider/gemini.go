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
	"time"

	"github.com/codeready-toolchain/forge/pkg/events"
	"github.com/codeready-toolchain/forge/pkg/models"
)

const (
	defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel    = "gemini-2.0-flash"

	// maxResponseBytes limits response bodies to prevent memory exhaustion.
	maxResponseBytes = 10 * 1024 * 1024

	defaultHTTPTimeout = 180 * time.Second
)

// Gemini calls the Google Generative Language generateContent endpoint over
// raw HTTP.
type Gemini struct {
	settings   Settings
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGemini validates credentials and returns a Gemini provider.
func NewGemini(settings Settings, logger *slog.Logger) (*Gemini, error) {
	if settings.APIKey == "" {
		return nil, NewError(KindUnavailable, "gemini", "api key not configured", nil)
	}
	if settings.Endpoint == "" {
		settings.Endpoint = defaultGeminiEndpoint
	}
	if settings.Model == "" {
		settings.Model = defaultGeminiModel
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

	return &Gemini{
		settings:   settings,
		httpClient: &http.Client{Timeout: settings.Timeout},
		logger:     logger.With("provider", "gemini"),
	}, nil
}

func (g *Gemini) Info() Info {
	return Info{Name: "gemini", Model: g.settings.Model, Capabilities: allCapabilities()}
}

func (g *Gemini) ExtractSchema(ctx context.Context, prompt string, contextMap map[string]any) (models.Schema, error) {
	raw, err := g.complete(ctx, schemaSystemPrompt, buildSchemaUserPrompt(prompt, contextMap))
	if err != nil {
		return models.Schema{}, err
	}
	return DecodeSchema("gemini", raw)
}

func (g *Gemini) GenerateCode(ctx context.Context, prompt string, schema models.Schema, contextMap map[string]any, sink events.Sink) (models.FileMap, error) {
	raw, err := g.complete(ctx, codeSystemPrompt, buildCodeUserPrompt(prompt, schema, contextMap))
	if err != nil {
		return nil, err
	}
	return DecodeFileMap("gemini", raw)
}

func (g *Gemini) ReviewCode(ctx context.Context, files models.FileMap) (models.ReviewReport, error) {
	raw, err := g.complete(ctx, reviewSystemPrompt, buildReviewUserPrompt(files))
	if err != nil {
		return models.ReviewReport{}, err
	}
	return DecodeReview("gemini", raw)
}

func (g *Gemini) GenerateDocumentation(ctx context.Context, files models.FileMap, schema models.Schema, contextMap map[string]any) (models.FileMap, error) {
	raw, err := g.complete(ctx, docsSystemPrompt, buildDocsUserPrompt(files, schema, contextMap))
	if err != nil {
		return nil, err
	}
	return DecodeFileMap("gemini", raw)
}

// complete runs one generateContent call under the retry schedule.
func (g *Gemini) complete(ctx context.Context, system, user string) (string, error) {
	var out string
	err := g.settings.Retry.Do(ctx, g.logger, func(ctx context.Context) error {
		text, err := g.generateContent(ctx, system, user)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	return out, err
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
	SafetySettings    []geminiSafetySetting  `json:"safetySettings,omitempty"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// geminiSafetySettings maps the configured safety level onto the API's
// per-category block thresholds. An unknown or empty level uses API defaults.
func geminiSafetySettings(level string) []geminiSafetySetting {
	var threshold string
	switch level {
	case "none":
		threshold = "BLOCK_NONE"
	case "low":
		threshold = "BLOCK_ONLY_HIGH"
	case "medium":
		threshold = "BLOCK_MEDIUM_AND_ABOVE"
	case "high":
		threshold = "BLOCK_LOW_AND_ABOVE"
	default:
		return nil
	}

	categories := []string{
		"HARM_CATEGORY_HARASSMENT",
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
	}
	settings := make([]geminiSafetySetting, 0, len(categories))
	for _, cat := range categories {
		settings = append(settings, geminiSafetySetting{Category: cat, Threshold: threshold})
	}
	return settings
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

// The REST API accepts snake_case for response_mime_type.
type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"response_mime_type,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (g *Gemini) generateContent(ctx context.Context, system, user string) (string, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: user}}},
		},
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: system}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      g.settings.Temperature,
			MaxOutputTokens:  g.settings.MaxOutputTokens,
			ResponseMimeType: "application/json",
		},
		SafetySettings: geminiSafetySettings(g.settings.SafetyLevel),
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", NewError(KindInvalidInput, "gemini", "marshal request", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.settings.Endpoint, g.settings.Model, g.settings.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", NewError(KindInvalidInput, "gemini", "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	g.logger.Debug("Sending generateContent request",
		"model", g.settings.Model,
		"system_len", len(system),
		"user_len", len(user))

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", NewError(KindTransient, "gemini", "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", NewError(KindTransient, "gemini", "read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTPStatus("gemini", resp.StatusCode, body)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", NewError(KindMalformed, "gemini", "parse response", err)
	}
	if parsed.Error != nil {
		return "", NewError(KindTransient, "gemini", fmt.Sprintf("API error: %s", parsed.Error.Message), nil)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", NewError(KindMalformed, "gemini", "no completion returned", nil)
	}

	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return strings.TrimSpace(text.String()), nil
}

// classifyHTTPStatus maps an HTTP error status to a provider error kind.
func classifyHTTPStatus(providerName string, status int, body []byte) *Error {
	snippet := string(body)
	if len(snippet) > 200 {
		snippet = snippet[:200] + "..."
	}
	msg := fmt.Sprintf("API error (status %d): %s", status, snippet)

	switch {
	case status == http.StatusTooManyRequests:
		return NewError(KindRateLimited, providerName, msg, nil)
	case status == http.StatusRequestEntityTooLarge:
		return NewError(KindContextTooLarge, providerName, msg, nil)
	case status == http.StatusBadRequest:
		if isTokenLimitBody(body) {
			return NewError(KindContextTooLarge, providerName, msg, nil)
		}
		return NewError(KindInvalidInput, providerName, msg, nil)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return NewError(KindUnavailable, providerName, msg, nil)
	case status >= 500:
		return NewError(KindTransient, providerName, msg, nil)
	default:
		return NewError(KindTransient, providerName, msg, nil)
	}
}

// isTokenLimitBody detects 400 responses that are actually context-window
// overflows.
func isTokenLimitBody(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "exceeds the maximum number of tokens") ||
		strings.Contains(lower, "context length") ||
		strings.Contains(lower, "token limit")
}
