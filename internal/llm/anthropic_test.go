package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "system text", req.System)
		require.Len(t, req.Messages, 1)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": "hello"}},
		})
	}))
	defer srv.Close()

	client, err := newAnthropicClient(Config{Provider: "anthropic", APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), "system text", []Message{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestAnthropicRateLimitIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, err := newAnthropicClient(Config{Provider: "anthropic", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "", []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.True(t, Retryable(err))
}

func TestAnthropicRequiresKey(t *testing.T) {
	t.Setenv(defaultAnthropicKeyEnv, "")
	_, err := newAnthropicClient(Config{Provider: "anthropic"})
	assert.Error(t, err)
}

func TestNewClientUnknownProvider(t *testing.T) {
	_, err := NewClient(Config{Provider: "mystery"})
	assert.Error(t, err)
}
