// Package tracking serves the click-tracking redirect that feeds the
// attribution resolver its signals: it records click events and writes the
// signed attribution cookie before bouncing the visitor to the destination.
package tracking

import (
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/dripflow/dripflow/pkg/attribution"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// CookieName is the attribution cookie written at click time.
const CookieName = "df_attr"

// TrackingParam is the query parameter appended to destination URLs.
const TrackingParam = "df_src"

// Handlers serves the tracking endpoints.
type Handlers struct {
	clicks    persistence.ClickRepository
	customers persistence.CustomerRepository
	signer    *attribution.TokenSigner
	logger    *slog.Logger
	now       func() time.Time
}

func NewHandlers(p persistence.Persistence, signer *attribution.TokenSigner, logger *slog.Logger) *Handlers {
	return &Handlers{
		clicks:    p.ClickRepository(),
		customers: p.CustomerRepository(),
		signer:    signer,
		logger:    logger.With("module", "tracking"),
		now:       time.Now,
	}
}

// Register mounts the tracking routes.
func (h *Handlers) Register(app *fiber.App) {
	app.Get("/t/:token", h.Click)
	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}

// Click handles GET /t/:token?u=<destination>. The token is the signed link
// token embedded in sent messages; it identifies the execution or campaign
// the click belongs to. On success the visitor gets the attribution cookie
// and a redirect to the destination with the tracking parameter appended.
func (h *Handlers) Click(c fiber.Ctx) error {
	claims, err := h.signer.Verify(c.Params("token"))
	if err != nil {
		return badRequest(c, "invalid or expired tracking token")
	}

	destination := c.Query("u")
	if destination == "" {
		return badRequest(c, "missing destination")
	}

	target, err := url.Parse(destination)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return badRequest(c, "invalid destination")
	}

	click := &models.ClickEvent{
		ID:          "click-" + uuid.New().String(),
		CustomerID:  claims.CustomerID,
		ExecutionID: claims.ExecutionID,
		CampaignID:  claims.CampaignID,
		URL:         target.String(),
		ClickedAt:   h.now(),
	}

	// Campaign link tokens carry no customer identity; only resolve the
	// email when there is an ID to resolve.
	if claims.CustomerID != "" {
		if customer, err := h.customers.GetByID(c.Context(), claims.CustomerID); err == nil {
			click.Email = customer.Email
		} else if !errors.Is(err, persistence.ErrCustomerNotFound) {
			h.logger.Warn("Customer lookup failed during click tracking", "customer_id", claims.CustomerID, "error", err)
		}
	}

	if err := h.clicks.Record(c.Context(), click); err != nil {
		h.logger.Error("Failed to record click event", "click_id", click.ID, "error", err)

		return internalError(c, err)
	}

	// Fresh cookie: the attribution window runs from this click, not from
	// the original send.
	cookie, err := h.signer.Mint(claims.ExecutionID, claims.CampaignID, claims.CustomerID)
	if err != nil {
		h.logger.Error("Failed to mint attribution cookie", "click_id", click.ID, "error", err)

		return internalError(c, err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     CookieName,
		Value:    cookie,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	query := target.Query()
	query.Set(TrackingParam, attribution.FormatTrackingParam(claims.ExecutionID, claims.CampaignID))
	target.RawQuery = query.Encode()

	h.logger.Debug("Click tracked", "click_id", click.ID, "destination", target.String())

	return c.Redirect().Status(fiber.StatusFound).To(target.String())
}
