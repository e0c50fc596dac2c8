package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/llm-cascade/services/providers"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter, err := NewAdapter("Claude", providers.ProviderConfig{
		APIKey:  "sk-ant-test",
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return adapter
}

func TestNewAdapter(t *testing.T) {
	_, err := NewAdapter("Claude", providers.ProviderConfig{})
	assert.ErrorIs(t, err, providers.ErrNoAPIKey)

	adapter, err := NewAdapter("Claude", providers.ProviderConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "Claude", adapter.Name())
	assert.Equal(t, 2048, adapter.config.MaxTokens)
}

func TestAdapter_Invoke(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("X-Api-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-3-5-haiku-latest", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "Hello "}, {"type": "text", "text": "there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 4}
		}`))
	})

	completion, err := adapter.Invoke(context.Background(), "claude-3-5-haiku-latest", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", completion.Text)
	assert.Equal(t, 14, completion.Tokens)
	assert.Equal(t, "end_turn", completion.FinishReason)
}

func TestAdapter_Invoke_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   providers.ErrorKind
	}{
		{"overloaded", http.StatusTooManyRequests, `{"type": "error", "error": {"type": "rate_limit_error", "message": "slow down"}}`, providers.KindRateLimit},
		{"bad key", http.StatusUnauthorized, `{"type": "error", "error": {"type": "authentication_error", "message": "invalid x-api-key"}}`, providers.KindAuth},
		{"blank answer", http.StatusOK, `{"id": "msg_2", "type": "message", "role": "assistant", "model": "m", "content": [], "usage": {"input_tokens": 1, "output_tokens": 0}}`, providers.KindEmptyResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := adapter.Invoke(context.Background(), "m", "prompt")
			require.Error(t, err)

			var invErr *providers.InvocationError
			require.ErrorAs(t, err, &invErr)
			assert.Equal(t, tt.want, invErr.Kind)
			assert.Equal(t, "Claude", invErr.Engine)
		})
	}
}

func TestAdapter_ListModels(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": [
				{"type": "model", "id": "claude-3-5-haiku-latest", "display_name": "Claude Haiku", "created_at": "2024-10-22T00:00:00Z"},
				{"type": "model", "id": "claude-sonnet-4-20250514", "display_name": "Claude Sonnet 4", "created_at": "2025-05-14T00:00:00Z"}
			],
			"has_more": false,
			"first_id": "claude-3-5-haiku-latest",
			"last_id": "claude-sonnet-4-20250514"
		}`))
	})

	ids, err := adapter.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"claude-3-5-haiku-latest", "claude-sonnet-4-20250514"}, ids)
}
