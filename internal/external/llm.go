package external

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

	"reviewpulse/internal/types"
)

// LLMClientConfig holds the configuration for creating an LLMHTTPClient.
type LLMClientConfig struct {
	APIKey  string
	BaseURL string // e.g. "https://api.openai.com"; no default, must be set
	Model   string
	Logger  *slog.Logger
}

// chatCompletionRequest is the OpenAI-compatible chat completions request.
type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletionResponse is the subset of the completions response we read.
type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// LLMHTTPClient implements LLMClient against any OpenAI-compatible chat
// completions endpoint through BaseClient, so summarization calls share the
// platform's resilience infrastructure and can be tested with httptest.
type LLMHTTPClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	model   string
	logger  *slog.Logger
}

// NewLLMClient creates a new LLMHTTPClient. The httpClient timeout should be
// generous; summarization calls routinely take tens of seconds.
func NewLLMClient(httpClient *http.Client, cfg LLMClientConfig) *LLMHTTPClient {
	base := NewBaseClient(
		httpClient,
		"llm",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    1 * time.Second,
			MaxWait:    15 * time.Second,
		},
		"ReviewPulse/1.0",
	)
	return NewLLMClientWithBase(base, cfg)
}

// NewLLMClientWithBase creates an LLMHTTPClient with a pre-configured
// BaseClient. Useful in tests that need retries disabled.
func NewLLMClientWithBase(base *BaseClient, cfg LLMClientConfig) *LLMHTTPClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &LLMHTTPClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
		logger:  logger,
	}
}

// Complete sends one system/user message pair to the chat completions
// endpoint and returns the model's text response. Temperature is pinned to
// zero so repeated runs over the same week produce stable summaries.
func (c *LLMHTTPClient) Complete(ctx context.Context, system, user string) (string, error) {
	reqBody := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to marshal chat completion request",
			err,
		)
	}

	reqURL := c.baseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create chat completion request",
			err,
		)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.base.Do(req)
	if err != nil {
		// AppErrors from BaseClient already carry the right upstream code;
		// re-tag them as LLM failures so callers can distinguish upstreams.
		if appErr, ok := err.(*types.AppError); ok {
			return "", types.NewAppError(types.ErrCodeUpstreamLLM, appErr.Message, appErr)
		}
		return "", types.NewAppError(types.ErrCodeUpstreamLLM, "chat completion request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", types.NewAppError(
			types.ErrCodeUpstreamLLM,
			fmt.Sprintf("chat completion returned %d: %s", resp.StatusCode, string(body)),
			nil,
		)
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamLLM, "failed to decode chat completion response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", types.NewAppError(types.ErrCodeUpstreamLLM, "chat completion returned no choices", nil)
	}

	return parsed.Choices[0].Message.Content, nil
}

var _ LLMClient = (*LLMHTTPClient)(nil)
