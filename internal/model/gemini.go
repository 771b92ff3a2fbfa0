// Package model implements the ModelAdapter contract against the Gemini
// REST API. The adapter does not retry: it maps provider failures onto the
// error taxonomy (rate limits and server errors transient, auth and bad
// requests fatal) and lets the worker pool own the retry schedule.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dialectica/internal/logging"
	"dialectica/internal/types"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiAdapter calls Gemini models over the REST generateContent endpoint.
type GeminiAdapter struct {
	apiKey          string
	baseURL         string
	maxOutputTokens int
	httpClient      *http.Client
}

// Option configures a GeminiAdapter.
type Option func(*GeminiAdapter)

// WithBaseURL overrides the API endpoint; used by tests.
func WithBaseURL(url string) Option {
	return func(a *GeminiAdapter) { a.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *GeminiAdapter) { a.httpClient = c }
}

// NewGeminiAdapter creates a Gemini adapter.
func NewGeminiAdapter(apiKey string, maxOutputTokens int, opts ...Option) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, types.NewConfigError("gemini API key is required")
	}
	if maxOutputTokens <= 0 {
		maxOutputTokens = 8192
	}
	a := &GeminiAdapter{
		apiKey:          apiKey,
		baseURL:         defaultBaseURL,
		maxOutputTokens: maxOutputTokens,
		httpClient:      &http.Client{Timeout: 10 * time.Minute},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// CallModel sends one prompt and returns the structured response. The model
// name in the request selects the Gemini variant; the same adapter serves
// every model in the session roster.
func (a *GeminiAdapter) CallModel(ctx context.Context, req types.ModelRequest) (*types.ModelResponse, error) {
	if req.ModelID == "" {
		return nil, types.NewConfigError("model request missing model id")
	}

	started := time.Now()
	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     1.0,
			MaxOutputTokens: a.maxOutputTokens,
		},
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", a.baseURL, req.ModelID, a.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, types.NewTransientError(fmt.Errorf("gemini request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewTransientError(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, body)
	}

	var gr geminiResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, types.NewTransientError(fmt.Errorf("failed to parse gemini response: %w", err))
	}
	if gr.Error != nil {
		return nil, classifyStatus(gr.Error.Code, body)
	}
	if len(gr.Candidates) == 0 {
		return nil, types.NewTransientError(fmt.Errorf("gemini returned no candidates"))
	}

	candidate := gr.Candidates[0]
	var content strings.Builder
	for _, part := range candidate.Content.Parts {
		content.WriteString(part.Text)
	}

	out := &types.ModelResponse{
		Content:      content.String(),
		FinishReason: mapFinishReason(candidate.FinishReason),
		InputTokens:  gr.UsageMetadata.PromptTokenCount,
		OutputTokens: gr.UsageMetadata.CandidatesTokenCount,
		RawResponse:  json.RawMessage(body),
	}
	logging.API("gemini %s: finish=%s in=%d out=%d turn=%d (%v)",
		req.ModelID, out.FinishReason, out.InputTokens, out.OutputTokens,
		req.TurnIndex, time.Since(started).Round(time.Millisecond))
	return out, nil
}

// classifyStatus maps an HTTP status to the retry taxonomy.
func classifyStatus(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return types.NewTransientError(fmt.Errorf("gemini returned status %d: %s", status, msg))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewConfigError("gemini rejected credentials (status %d): %s", status, msg)
	case status == http.StatusBadRequest || status == http.StatusNotFound:
		return types.NewConfigError("gemini rejected request (status %d): %s", status, msg)
	default:
		return fmt.Errorf("gemini returned status %d: %s", status, msg)
	}
}

// mapFinishReason translates the wire finish reason. MAX_TOKENS drives the
// continuation chain; anything besides STOP and MAX_TOKENS (safety blocks,
// recitation) is surfaced as an adapter-level error reason.
func mapFinishReason(reason string) types.FinishReason {
	switch strings.ToUpper(reason) {
	case "STOP":
		return types.FinishStop
	case "MAX_TOKENS":
		return types.FinishLength
	default:
		return types.FinishError
	}
}

// Gemini REST wire types.

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
			Role  string       `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}
