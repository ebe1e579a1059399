package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadcore/intent-core/internal/retry"
)

func fastRetry() retry.Policy {
	return retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond}
}

func testRequest() GenerateRequest {
	return GenerateRequest{
		Model:           "openai/gpt-4.1-mini",
		Instructions:    "Write a subject line",
		Input:           "welcome email",
		Temperature:     0.4,
		MaxOutputTokens: 200,
	}
}

func TestOpenRouterClientGenerateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "https://leadcore.dev", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "Leadcore", r.Header.Get("X-Title"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model":"openai/gpt-4.1-mini",
			"choices":[{"message":{"role":"assistant","content":"Your blueprint is ready"}}],
			"usage":{"prompt_tokens":123,"completion_tokens":22,"total_tokens":145}
		}`))
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Retry:   fastRetry(),
		SiteURL: "https://leadcore.dev",
	})

	result, err := client.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Your blueprint is ready", result.Text)
	assert.Equal(t, 145, result.Usage.TotalTokens)
	assert.Equal(t, "openai/gpt-4.1-mini", result.ModelID)
}

func TestOpenRouterClientRetriesOnRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limited"}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterConfig{APIKey: "test-key", BaseURL: server.URL, Retry: fastRetry()})
	result, err := client.Generate(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	assert.Equal(t, "openai/gpt-4.1-mini", result.ModelID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestOpenRouterClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterConfig{APIKey: "bad", BaseURL: server.URL, Retry: fastRetry()})
	_, err := client.Generate(context.Background(), testRequest())

	var statusErr *retry.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestOpenRouterClientParsesArrayContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":[{"type":"text","text":"line 1"},{"type":"text","text":"line 2"}]}}]}`))
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterConfig{APIKey: "test-key", BaseURL: server.URL, Retry: fastRetry()})
	result, err := client.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "line 1\nline 2", result.Text)
}

func TestOpenRouterClientUnavailableWithoutKey(t *testing.T) {
	client := NewOpenRouterClient(OpenRouterConfig{})
	_, err := client.Generate(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
}
