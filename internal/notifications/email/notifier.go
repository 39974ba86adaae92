package email

import (
	"context"
	"fmt"
	"log/slog"

	"reviewpulse/internal/clock"
	"reviewpulse/internal/external"
	"reviewpulse/internal/types"
)

// Recipient is one delivery target for a digest.
type Recipient struct {
	Email          string
	UnsubscribeURL string
}

// Notifier renders and delivers a digest to a set of recipients. Delivery is
// best-effort per recipient: one bad address must not block the rest, so the
// notifier reports per-recipient outcomes and only errors when every send
// failed.
type Notifier struct {
	provider external.EmailProvider
	renderer *Renderer
	from     string
	fromName string
	enabled  bool
	logger   *slog.Logger
}

// NotifierConfig holds the dependencies needed to create a Notifier.
type NotifierConfig struct {
	Provider external.EmailProvider
	Renderer *Renderer
	From     string
	FromName string
	Enabled  bool // when false, sends are logged and suppressed
	Logger   *slog.Logger
}

// NewNotifier creates a Notifier. A nil logger falls back to slog.Default().
func NewNotifier(cfg NotifierConfig) *Notifier {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		provider: cfg.Provider,
		renderer: cfg.Renderer,
		from:     cfg.From,
		fromName: cfg.FromName,
		enabled:  cfg.Enabled,
		logger:   logger,
	}
}

// DeliverDigest sends the digest to every recipient and returns per-recipient
// counts. Partial failure is not an error; total failure (at least one
// recipient, zero successes) maps to ErrCodeDeliveryFailed.
func (n *Notifier) DeliverDigest(
	ctx context.Context,
	appName string,
	window clock.Window,
	digest types.Digest,
	recipients []Recipient,
) (types.DeliveryResult, error) {
	var result types.DeliveryResult

	if len(recipients) == 0 {
		return result, nil
	}

	for _, rcpt := range recipients {
		rendered, err := n.renderer.RenderDigest(appName, window, digest, rcpt.UnsubscribeURL)
		if err != nil {
			n.logger.ErrorContext(ctx, "digest rendering failed",
				"dest", RedactEmail(rcpt.Email),
				"error", err,
			)
			result.Failed++
			continue
		}

		if !n.enabled {
			n.logger.InfoContext(ctx, "email delivery disabled; suppressing send",
				"dest", RedactEmail(rcpt.Email),
				"subject", rendered.Subject,
			)
			result.Sent++
			continue
		}

		msgID, err := n.provider.Send(ctx, types.SendInput{
			To:       rcpt.Email,
			From:     n.from,
			FromName: n.fromName,
			Subject:  rendered.Subject,
			HTMLBody: rendered.BodyHTML,
			TextBody: rendered.BodyText,
		})
		if err != nil {
			n.logger.ErrorContext(ctx, "digest delivery failed",
				"dest", RedactEmail(rcpt.Email),
				"error", err,
			)
			result.Failed++
			continue
		}

		n.logger.InfoContext(ctx, "digest delivered",
			"dest", RedactEmail(rcpt.Email),
			"provider_msg_id", msgID,
		)
		result.Sent++
	}

	if result.Sent == 0 && result.Failed > 0 {
		return result, types.NewAppError(types.ErrCodeDeliveryFailed,
			fmt.Sprintf("all %d digest deliveries failed", result.Failed), nil)
	}
	return result, nil
}

// SendUnsubscribeToken sends the welcome email that carries the recipient's
// unsubscribe link. The token is only available at subscription time, so this
// is the one message that can include it.
func (n *Notifier) SendUnsubscribeToken(ctx context.Context, appName, to, unsubscribeURL string) error {
	subject := fmt.Sprintf("You're subscribed to weekly digests for %s", appName)
	text := fmt.Sprintf(
		"You will receive a Weekly Product Pulse for %s every Monday morning.\n\n"+
			"To unsubscribe at any time, use this link:\n%s\n",
		appName, unsubscribeURL)

	if !n.enabled {
		n.logger.InfoContext(ctx, "email delivery disabled; suppressing welcome",
			"dest", RedactEmail(to))
		return nil
	}

	_, err := n.provider.Send(ctx, types.SendInput{
		To:       to,
		From:     n.from,
		FromName: n.fromName,
		Subject:  subject,
		TextBody: text,
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeDeliveryFailed, "welcome email delivery failed", err)
	}
	return nil
}
