package attribution

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// Kind classifies the attribution outcome.
type Kind string

const (
	KindExecution Kind = "flow_execution"
	KindCampaign  Kind = "campaign"
	KindNone      Kind = "none"
)

// Attribution is the resolved credit for one purchase.
type Attribution struct {
	Kind        Kind
	ExecutionID string
	CampaignID  string
}

// Config holds the attribution windows. Both default to seven days.
type Config struct {
	// CookieWindow is how long a signed click token stays valid.
	CookieWindow time.Duration `validate:"required"`
	// LookbackWindow bounds the click-log search.
	LookbackWindow time.Duration `validate:"required"`
}

func DefaultConfig() Config {
	return Config{
		CookieWindow:   7 * 24 * time.Hour,
		LookbackWindow: 7 * 24 * time.Hour,
	}
}

// Resolver determines which execution or campaign gets credit for a
// purchase, using a priority chain of signals: signed cookie, then the
// landing-URL tracking parameter, then the click log (by customer identity
// first, by email as the fallback). First match wins; no match is a normal
// outcome, not an error.
type Resolver struct {
	executions persistence.ExecutionRepository
	flows      persistence.FlowRepository
	campaigns  persistence.CampaignRepository
	clicks     persistence.ClickRepository
	signer     *TokenSigner
	config     Config
	bus        eventbus.EventBus
	logger     *slog.Logger
	now        func() time.Time
}

func NewResolver(p persistence.Persistence, signer *TokenSigner, config Config, bus eventbus.EventBus, logger *slog.Logger) *Resolver {
	return &Resolver{
		executions: p.ExecutionRepository(),
		flows:      p.FlowRepository(),
		campaigns:  p.CampaignRepository(),
		clicks:     p.ClickRepository(),
		signer:     signer,
		config:     config,
		bus:        bus,
		logger:     logger.With("module", "attribution"),
		now:        time.Now,
	}
}

// WithClock overrides the resolver's clock. Test hook.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now

	return r
}

// Attribute resolves the purchase and records the credit: ledger append and
// flow counters for an execution, campaign counters for a campaign.
func (r *Resolver) Attribute(ctx context.Context, purchase models.PurchaseEvent) (Attribution, error) {
	attribution := r.resolve(ctx, purchase)

	logger := r.logger.With("order_id", purchase.OrderID, "amount_cents", purchase.AmountCents)

	switch attribution.Kind {
	case KindExecution:
		if err := r.creditExecution(ctx, attribution.ExecutionID, purchase); err != nil {
			return attribution, err
		}

		logger.Info("Purchase attributed to flow execution", "execution_id", attribution.ExecutionID)
	case KindCampaign:
		if err := r.campaigns.IncrementStats(ctx, attribution.CampaignID, 1, purchase.AmountCents); err != nil {
			return attribution, err
		}

		logger.Info("Purchase attributed to campaign", "campaign_id", attribution.CampaignID)
	case KindNone:
		logger.Info("Purchase unattributed")

		return attribution, nil
	}

	r.publishAttributed(ctx, purchase, attribution)

	return attribution, nil
}

// resolve walks the signal priority chain.
func (r *Resolver) resolve(ctx context.Context, purchase models.PurchaseEvent) Attribution {
	// 1. Signed click cookie. Expired or tampered tokens count as absent,
	// and the resolver's own window bounds validity regardless of the
	// expiry the minting signer chose.
	if purchase.AttributionToken != "" {
		claims, err := r.signer.Verify(purchase.AttributionToken)
		if err == nil && r.withinCookieWindow(claims) {
			if attribution, ok := target(claims.ExecutionID, claims.CampaignID); ok {
				return attribution
			}
		}
	}

	// 2. Tracking parameter from the landing URL.
	if purchase.TrackingParam != "" {
		if attribution, ok := target(ParseTrackingParam(purchase.TrackingParam)); ok {
			return attribution
		}
	}

	// 3. Click log, most recent click inside the lookback window. Customer
	// identity first; email as the fallback for identity drift between the
	// store and the mailing system.
	since := r.now().Add(-r.config.LookbackWindow)

	if purchase.CustomerID != "" {
		if attribution, ok := r.fromClickLog(r.clicks.LatestByCustomer(ctx, purchase.CustomerID, since)); ok {
			return attribution
		}
	}

	if purchase.Email != "" {
		if attribution, ok := r.fromClickLog(r.clicks.LatestByEmail(ctx, purchase.Email, since)); ok {
			return attribution
		}
	}

	return Attribution{Kind: KindNone}
}

// withinCookieWindow checks the token's mint time against CookieWindow.
// Tokens without an issued-at claim count as absent.
func (r *Resolver) withinCookieWindow(claims *ClickClaims) bool {
	if claims.IssuedAt == nil {
		return false
	}

	return r.now().Sub(claims.IssuedAt.Time) <= r.config.CookieWindow
}

func (r *Resolver) fromClickLog(click *models.ClickEvent, err error) (Attribution, bool) {
	if err != nil {
		if !errors.Is(err, persistence.ErrClickNotFound) {
			r.logger.Warn("Click log lookup failed", "error", err)
		}

		return Attribution{}, false
	}

	return target(click.ExecutionID, click.CampaignID)
}

func target(executionID, campaignID string) (Attribution, bool) {
	if executionID != "" {
		return Attribution{Kind: KindExecution, ExecutionID: executionID}, true
	}

	if campaignID != "" {
		return Attribution{Kind: KindCampaign, CampaignID: campaignID}, true
	}

	return Attribution{}, false
}

// creditExecution appends to the execution's ledger and bumps the owning
// flow's aggregate counters. The ledger accepts appends after completion;
// purchases routinely land days after a flow finished.
func (r *Resolver) creditExecution(ctx context.Context, executionID string, purchase models.PurchaseEvent) error {
	execution, err := r.executions.GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	execution.Attribute(models.AttributedOrder{
		OrderID:     purchase.OrderID,
		AmountCents: purchase.AmountCents,
		At:          purchase.OccurredAt,
	})

	if err := r.executions.Update(ctx, execution); err != nil {
		return err
	}

	return r.flows.IncrementStats(ctx, execution.FlowID, models.FlowStats{
		OrdersAttributed: 1,
		RevenueCents:     purchase.AmountCents,
	})
}

func (r *Resolver) publishAttributed(ctx context.Context, purchase models.PurchaseEvent, attribution Attribution) {
	if r.bus == nil {
		return
	}

	event := events.OrderAttributed{
		BaseEvent: events.BaseEvent{
			ID:        r.bus.GenerateID(),
			Type:      events.OrderAttributedEvent,
			Timestamp: r.now(),
		},
		OrderID:     purchase.OrderID,
		AmountCents: purchase.AmountCents,
		ExecutionID: attribution.ExecutionID,
		CampaignID:  attribution.CampaignID,
	}
	if err := r.bus.Publish(ctx, events.ExecutionTopic, purchase.OrderID, event); err != nil {
		r.logger.Warn("Failed to publish attribution event", "order_id", purchase.OrderID, "error", err)
	}
}
