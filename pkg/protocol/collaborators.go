// Package protocol defines the interfaces between the flow engine and its
// external collaborators. Transports, the e-commerce platform and content
// generation live behind these; the engine never talks to them directly.
package protocol

import (
	"context"
	"time"

	"github.com/dripflow/dripflow/pkg/models"
)

// MessageReceipt identifies a message accepted by the sending transport.
type MessageReceipt struct {
	MessageID string
}

// Mailer is the message-sending collaborator. A send failure is fatal to
// the step that attempted it.
type Mailer interface {
	Send(ctx context.Context, to, subject, renderedBody string, tags []string) (MessageReceipt, error)
}

// TagSyncer mirrors local tag changes to the external store platform.
// Mirroring is best-effort: errors are logged by the caller, never fatal.
type TagSyncer interface {
	AddTag(ctx context.Context, customerExternalID, tagName string) error
}

// DiscountRequest describes a discount code to mint.
type DiscountRequest struct {
	Code          string
	Kind          models.DiscountKind
	Value         float64
	ExpiresInDays int
}

// Discount is a minted code plus the platform rule backing it.
type Discount struct {
	Code   string
	RuleID string
}

// DiscountIssuer mints discount codes on the store platform. A failure is
// fatal to the step.
type DiscountIssuer interface {
	CreateDiscount(ctx context.Context, req DiscountRequest) (Discount, error)
}

// BounceKind classifies a delivery bounce report.
type BounceKind string

const (
	BounceSoft BounceKind = "soft"
	BounceHard BounceKind = "hard"
)

// BounceReport is one bounce notification from the sending transport.
type BounceReport struct {
	Email      string
	Kind       BounceKind
	ReportedAt time.Time
}
