package models

import "time"

// Campaign is a one-off broadcast send. The engine never executes
// campaigns; it only credits purchases to them through the attribution
// resolver.
type Campaign struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	SentAt           time.Time `json:"sent_at"`
	OrdersAttributed int64     `json:"orders_attributed"`
	RevenueCents     int64     `json:"revenue_cents"`
}

// ClickEvent is one recorded message click, queryable by customer or email
// for attribution lookback.
type ClickEvent struct {
	ID          string    `json:"id"`
	CustomerID  string    `json:"customer_id,omitempty"`
	Email       string    `json:"email,omitempty"`
	CampaignID  string    `json:"campaign_id,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	URL         string    `json:"url,omitempty"`
	ClickedAt   time.Time `json:"clicked_at"`
}

// PurchaseEvent is the input to revenue attribution: a completed checkout
// plus whatever attribution signals travelled with it.
type PurchaseEvent struct {
	OrderID     string    `json:"order_id"`
	CustomerID  string    `json:"customer_id,omitempty"`
	Email       string    `json:"email,omitempty"`
	AmountCents int64     `json:"amount_cents"`
	OccurredAt  time.Time `json:"occurred_at"`

	// AttributionToken is the signed click cookie presented at checkout,
	// empty when the buyer had none.
	AttributionToken string `json:"attribution_token,omitempty"`
	// TrackingParam is the dripflow tracking parameter carried on the
	// landing URL of the visit that led to checkout.
	TrackingParam string `json:"tracking_param,omitempty"`
}
