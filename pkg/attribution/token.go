// Package attribution credits purchases to the flow execution or campaign
// that caused them.
package attribution

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClickClaims is the payload of the signed attribution cookie written at
// message-click time.
type ClickClaims struct {
	ExecutionID string `json:"execution_id,omitempty"`
	CampaignID  string `json:"campaign_id,omitempty"`
	CustomerID  string `json:"customer_id,omitempty"`

	jwt.RegisteredClaims
}

// TokenSigner mints and verifies the attribution cookie. Tokens are HMAC
// signed; an expired or tampered token is treated as absent by the
// resolver, never as an error.
type TokenSigner struct {
	secret []byte
	window time.Duration
	now    func() time.Time
}

var ErrTokenInvalid = errors.New("attribution token invalid")

func NewTokenSigner(secret []byte, window time.Duration) *TokenSigner {
	return &TokenSigner{secret: secret, window: window, now: time.Now}
}

// WithClock overrides the signer's clock. Test hook.
func (s *TokenSigner) WithClock(now func() time.Time) *TokenSigner {
	s.now = now

	return s
}

// Mint signs a token valid for the attribution window from now.
func (s *TokenSigner) Mint(executionID, campaignID, customerID string) (string, error) {
	claims := ClickClaims{
		ExecutionID: executionID,
		CampaignID:  campaignID,
		CustomerID:  customerID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(s.now().Add(s.window)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("mint attribution token: %w", err)
	}

	return token, nil
}

// Verify parses and validates a token. Any failure, including expiry,
// returns ErrTokenInvalid.
func (s *TokenSigner) Verify(tokenString string) (*ClickClaims, error) {
	claims := &ClickClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}

		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// Tracking parameter format carried on landing URLs: "e_<executionID>" for
// flow executions, "c_<campaignID>" for campaigns.
const (
	trackingExecutionPrefix = "e_"
	trackingCampaignPrefix  = "c_"
)

// FormatTrackingParam builds the landing-URL tracking parameter value.
func FormatTrackingParam(executionID, campaignID string) string {
	if executionID != "" {
		return trackingExecutionPrefix + executionID
	}

	if campaignID != "" {
		return trackingCampaignPrefix + campaignID
	}

	return ""
}

// ParseTrackingParam splits a tracking parameter back into its target.
// Unknown formats yield two empty strings.
func ParseTrackingParam(param string) (executionID, campaignID string) {
	switch {
	case strings.HasPrefix(param, trackingExecutionPrefix):
		return strings.TrimPrefix(param, trackingExecutionPrefix), ""
	case strings.HasPrefix(param, trackingCampaignPrefix):
		return "", strings.TrimPrefix(param, trackingCampaignPrefix)
	default:
		return "", ""
	}
}
