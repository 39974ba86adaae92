package external

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewpulse/internal/types"
)

func newTestLLMClient(t *testing.T, handler http.Handler) *LLMHTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	base := NewBaseClient(server.Client(), "llm-test",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"test",
		WithSleepFunc(func(time.Duration) {}))
	return NewLLMClientWithBase(base, LLMClientConfig{
		APIKey:  "llm-test-key",
		BaseURL: server.URL,
		Model:   "gpt-4o-mini",
	})
}

func TestLLMComplete(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq chatCompletionRequest
	client := newTestLLMClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotReq))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": `{"themes":[]}`}},
			},
		})
	}))

	out, err := client.Complete(context.Background(), "You are a product analyst.", "Summarize this week.")
	require.NoError(t, err)
	assert.Equal(t, `{"themes":[]}`, out)

	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer llm-test-key", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotReq.Model)
	assert.Zero(t, gotReq.Temperature)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "You are a product analyst.", gotReq.Messages[0].Content)
	assert.Equal(t, "user", gotReq.Messages[1].Role)
}

func TestLLMCompleteNoChoices(t *testing.T) {
	client := newTestLLMClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))

	_, err := client.Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamLLM, types.CodeOf(err))
}

func TestLLMCompleteMalformedResponse(t *testing.T) {
	client := newTestLLMClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))

	_, err := client.Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamLLM, types.CodeOf(err))
}

func TestLLMCompleteClientError(t *testing.T) {
	client := newTestLLMClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))

	_, err := client.Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamLLM, types.CodeOf(err))
	assert.Contains(t, err.Error(), "401")
}

func TestLLMCompleteRetagsTransportErrors(t *testing.T) {
	client := newTestLLMClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamLLM, types.CodeOf(err), "upstream transport failures surface as LLM errors")

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamLLM, appErr.Code)
}
