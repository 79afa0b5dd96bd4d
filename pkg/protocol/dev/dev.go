// Package dev provides log-backed implementations of the protocol
// collaborators for local development and demos. Messages, tag mirrors and
// discounts are written to the structured log instead of a real platform.
package dev

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/dripflow/dripflow/pkg/protocol"
)

// Mailer logs outbound messages and returns a synthetic receipt.
type Mailer struct {
	logger *slog.Logger
}

func NewMailer(logger *slog.Logger) *Mailer {
	return &Mailer{logger: logger.With("module", "dev-mailer")}
}

func (m *Mailer) Send(ctx context.Context, to, subject, renderedBody string, tags []string) (protocol.MessageReceipt, error) {
	receipt := protocol.MessageReceipt{MessageID: "msg-" + uuid.New().String()}

	m.logger.InfoContext(ctx, "Message sent",
		"to", to,
		"subject", subject,
		"body_bytes", len(renderedBody),
		"tags", strings.Join(tags, ","),
		"message_id", receipt.MessageID,
	)

	return receipt, nil
}

// TagSyncer logs tag mirror calls.
type TagSyncer struct {
	logger *slog.Logger
}

func NewTagSyncer(logger *slog.Logger) *TagSyncer {
	return &TagSyncer{logger: logger.With("module", "dev-tags")}
}

func (t *TagSyncer) AddTag(ctx context.Context, customerExternalID, tagName string) error {
	t.logger.InfoContext(ctx, "Tag mirrored", "customer_external_id", customerExternalID, "tag", tagName)

	return nil
}

// DiscountIssuer mints codes locally without a backing platform rule.
type DiscountIssuer struct {
	logger *slog.Logger
}

func NewDiscountIssuer(logger *slog.Logger) *DiscountIssuer {
	return &DiscountIssuer{logger: logger.With("module", "dev-discounts")}
}

func (d *DiscountIssuer) CreateDiscount(ctx context.Context, req protocol.DiscountRequest) (protocol.Discount, error) {
	code := req.Code
	if code == "" {
		code = "DF-" + strings.ToUpper(uuid.New().String()[:8])
	}

	discount := protocol.Discount{
		Code:   code,
		RuleID: "rule-" + uuid.New().String()[:8],
	}

	d.logger.InfoContext(ctx, "Discount created",
		"code", discount.Code,
		"kind", req.Kind,
		"value", req.Value,
		"expires_in_days", req.ExpiresInDays,
	)

	return discount, nil
}
