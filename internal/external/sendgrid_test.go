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

func newTestSendGridClient(t *testing.T, handler http.Handler) (*SendGridClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	base := NewBaseClient(server.Client(), "sendgrid-test",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"test",
		WithSleepFunc(func(time.Duration) {}))
	client := NewSendGridClientWithBase(base, SendGridClientConfig{
		APIKey:  "sg-test-key",
		BaseURL: server.URL,
	})
	return client, server
}

func sampleSendInput() types.SendInput {
	return types.SendInput{
		To:       "priya@example.com",
		From:     "pulse@reviewpulse.io",
		FromName: "ReviewPulse Weekly",
		Subject:  "Weekly Pulse: Example App (Aug 10, 2026)",
		HTMLBody: "<p>digest</p>",
		TextBody: "digest",
	}
}

func TestSendGridSend(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload sendGridMailPayload
	client, _ := newTestSendGridClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotPayload))
		w.Header().Set("X-Message-Id", "sg-msg-42")
		w.WriteHeader(http.StatusAccepted)
	}))

	msgID, err := client.Send(context.Background(), sampleSendInput())
	require.NoError(t, err)
	assert.Equal(t, "sg-msg-42", msgID)

	assert.Equal(t, "/v3/mail/send", gotPath)
	assert.Equal(t, "Bearer sg-test-key", gotAuth)

	require.Len(t, gotPayload.Personalizations, 1)
	require.Len(t, gotPayload.Personalizations[0].To, 1)
	assert.Equal(t, "priya@example.com", gotPayload.Personalizations[0].To[0].Email)
	assert.Equal(t, "pulse@reviewpulse.io", gotPayload.From.Email)
	assert.Equal(t, "ReviewPulse Weekly", gotPayload.From.Name)
	assert.Equal(t, "Weekly Pulse: Example App (Aug 10, 2026)", gotPayload.Subject)

	// SendGrid requires text/plain before text/html.
	require.Len(t, gotPayload.Content, 2)
	assert.Equal(t, "text/plain", gotPayload.Content[0].Type)
	assert.Equal(t, "text/html", gotPayload.Content[1].Type)
}

func TestSendGridSendTextOnly(t *testing.T) {
	var gotPayload sendGridMailPayload
	client, _ := newTestSendGridClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotPayload))
		w.WriteHeader(http.StatusAccepted)
	}))

	input := sampleSendInput()
	input.HTMLBody = ""
	_, err := client.Send(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, gotPayload.Content, 1)
	assert.Equal(t, "text/plain", gotPayload.Content[0].Type)
}

func TestSendGridSendBadRequest(t *testing.T) {
	client, _ := newTestSendGridClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"message":"does not contain a valid address","field":"personalizations.0.to.0.email"}]}`))
	}))

	_, err := client.Send(context.Background(), sampleSendInput())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamEmail, types.CodeOf(err))
	assert.Contains(t, err.Error(), "does not contain a valid address")
}

func TestSendGridSendServerError(t *testing.T) {
	client, _ := newTestSendGridClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.Send(context.Background(), sampleSendInput())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, types.CodeOf(err))
}

func TestSendGridSendRateLimited(t *testing.T) {
	client, _ := newTestSendGridClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.Send(context.Background(), sampleSendInput())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamRateLimited, types.CodeOf(err))
}
