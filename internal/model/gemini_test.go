package model

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dialectica/internal/types"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *GeminiAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a, err := NewGeminiAdapter("test-key", 1024, WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return a
}

func candidateBody(text, finishReason string) string {
	body := map[string]any{
		"candidates": []map[string]any{{
			"content":      map[string]any{"parts": []map[string]any{{"text": text}}, "role": "model"},
			"finishReason": finishReason,
		}},
		"usageMetadata": map[string]any{"promptTokenCount": 11, "candidatesTokenCount": 22},
	}
	data, _ := json.Marshal(body)
	return string(data)
}

func TestCallModel(t *testing.T) {
	var gotPath string
	var gotReq geminiRequest
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, candidateBody("hello there", "STOP"))
	})

	resp, err := a.CallModel(context.Background(), types.ModelRequest{
		ModelID: "gemini-2.5-pro",
		Prompt:  "say hello",
	})
	require.NoError(t, err)

	assert.Equal(t, "/models/gemini-2.5-pro:generateContent", gotPath)
	assert.Equal(t, "say hello", gotReq.Contents[0].Parts[0].Text)
	assert.Equal(t, 1024, gotReq.GenerationConfig.MaxOutputTokens)

	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, types.FinishStop, resp.FinishReason)
	assert.Equal(t, 11, resp.InputTokens)
	assert.Equal(t, 22, resp.OutputTokens)
	assert.NotEmpty(t, resp.RawResponse)
}

func TestCallModelTruncation(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, candidateBody("partial...", "MAX_TOKENS"))
	})

	resp, err := a.CallModel(context.Background(), types.ModelRequest{ModelID: "m", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, types.FinishLength, resp.FinishReason)
}

func TestCallModelSafetyBlockIsErrorReason(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, candidateBody("", "SAFETY"))
	})

	resp, err := a.CallModel(context.Background(), types.ModelRequest{ModelID: "m", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, types.FinishError, resp.FinishReason)
}

func TestErrorTaxonomy(t *testing.T) {
	t.Run("rate limit is transient", func(t *testing.T) {
		a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
		_, err := a.CallModel(context.Background(), types.ModelRequest{ModelID: "m", Prompt: "p"})
		require.Error(t, err)
		assert.True(t, types.IsRetryable(err))
	})

	t.Run("server error is transient", func(t *testing.T) {
		a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		_, err := a.CallModel(context.Background(), types.ModelRequest{ModelID: "m", Prompt: "p"})
		require.Error(t, err)
		assert.True(t, types.IsRetryable(err))
	})

	t.Run("bad credentials are fatal", func(t *testing.T) {
		a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
		_, err := a.CallModel(context.Background(), types.ModelRequest{ModelID: "m", Prompt: "p"})
		require.Error(t, err)
		var cerr *types.ConfigError
		assert.ErrorAs(t, err, &cerr)
		assert.False(t, types.IsRetryable(err))
	})

	t.Run("unknown model is fatal", func(t *testing.T) {
		a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		_, err := a.CallModel(context.Background(), types.ModelRequest{ModelID: "nope", Prompt: "p"})
		require.Error(t, err)
		assert.False(t, types.IsRetryable(err))
	})
}

func TestMissingAPIKeyRejected(t *testing.T) {
	_, err := NewGeminiAdapter("", 0)
	require.Error(t, err)
	var cerr *types.ConfigError
	assert.ErrorAs(t, err, &cerr)
}
