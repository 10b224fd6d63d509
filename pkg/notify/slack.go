// Package notify sends operator-facing alerts for events the audit trail
// records but that also need a human to see promptly: canary rollbacks,
// circuit-breaker trips, and chain-verification failures.
package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// Notifier posts operational alerts to a single Slack channel.
type Notifier struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewNotifier constructs a Notifier posting to channel with a bot token.
func NewNotifier(botToken, channel string, logger *zap.Logger) *Notifier {
	return &Notifier{client: slack.New(botToken), channel: channel, logger: logger}
}

func (n *Notifier) post(ctx context.Context, text string, color string, fields []slack.AttachmentField) {
	if n == nil || n.client == nil {
		return
	}
	attachment := slack.Attachment{
		Color:  color,
		Text:   text,
		Fields: fields,
	}
	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionAttachments(attachment))
	if err != nil && n.logger != nil {
		n.logger.Warn("slack notification failed", zap.Error(err))
	}
}

// CanaryRollback notifies that a rollout slice was rolled back and its
// kill switch activated.
func (n *Notifier) CanaryRollback(ctx context.Context, dimension, value, reason string) {
	n.post(ctx, fmt.Sprintf("Canary rollback: %s=%s", dimension, value), "danger", []slack.AttachmentField{
		{Title: "Dimension", Value: dimension, Short: true},
		{Title: "Value", Value: value, Short: true},
		{Title: "Reason", Value: reason, Short: false},
	})
}

// CanaryPromotion notifies that a rollout slice was promoted to full
// autonomy.
func (n *Notifier) CanaryPromotion(ctx context.Context, dimension, value string) {
	n.post(ctx, fmt.Sprintf("Canary promoted: %s=%s", dimension, value), "good", []slack.AttachmentField{
		{Title: "Dimension", Value: dimension, Short: true},
		{Title: "Value", Value: value, Short: true},
	})
}

// BreakerTripped notifies that a provider's circuit breaker opened.
func (n *Notifier) BreakerTripped(ctx context.Context, provider string) {
	n.post(ctx, fmt.Sprintf("LLM provider circuit breaker opened: %s", provider), "warning", []slack.AttachmentField{
		{Title: "Provider", Value: provider, Short: true},
	})
}

// ChainVerificationFailed notifies that a tenant's audit chain failed
// verification — a chain invariant violation never self-repairs, so this
// is always a page, not a retry.
func (n *Notifier) ChainVerificationFailed(ctx context.Context, tenantID, checkType string, errs []string) {
	msg := fmt.Sprintf("Audit chain verification FAILED for tenant %s (%s check)", tenantID, checkType)
	n.post(ctx, msg, "danger", []slack.AttachmentField{
		{Title: "Tenant", Value: tenantID, Short: true},
		{Title: "Check", Value: checkType, Short: true},
		{Title: "Errors", Value: fmt.Sprintf("%d error(s), first: %s", len(errs), firstOrEmpty(errs)), Short: false},
	})
}

func firstOrEmpty(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	return errs[0]
}
