package external

import (
	"context"

	"reviewpulse/internal/types"
)

// ---------------------------------------------------------------------------
// Email Integration (SendGrid)
// ---------------------------------------------------------------------------

// EmailProvider abstracts the email delivery service. Implementations transmit
// pre-rendered content (Subject, HTMLBody, TextBody).
type EmailProvider interface {
	// Send transmits an email with pre-rendered content.
	// Returns the provider's message ID for tracking and correlation.
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}

// ---------------------------------------------------------------------------
// Summarization Integration (OpenAI-compatible chat completions)
// ---------------------------------------------------------------------------

// LLMClient abstracts the summarization model endpoint. The insights layer
// owns prompt construction and response parsing; implementations only move
// messages over the wire.
type LLMClient interface {
	// Complete sends a system and user message pair and returns the model's
	// text response.
	Complete(ctx context.Context, system, user string) (string, error)
}
