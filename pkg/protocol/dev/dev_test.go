package dev

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestDiscountIssuerKeepsConfiguredCode(t *testing.T) {
	issuer := NewDiscountIssuer(testLogger())

	discount, err := issuer.CreateDiscount(context.Background(), protocol.DiscountRequest{
		Code:  "WELCOME10",
		Kind:  models.DiscountPercentage,
		Value: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, "WELCOME10", discount.Code)
	assert.NotEmpty(t, discount.RuleID)
}

func TestDiscountIssuerMintsCodeWhenEmpty(t *testing.T) {
	issuer := NewDiscountIssuer(testLogger())

	discount, err := issuer.CreateDiscount(context.Background(), protocol.DiscountRequest{
		Kind:  models.DiscountFixed,
		Value: 500,
	})
	require.NoError(t, err)
	require.NotEmpty(t, discount.Code)
	assert.Regexp(t, `^DF-[0-9A-F]{8}$`, discount.Code)

	// Minted codes are unique per call.
	other, err := issuer.CreateDiscount(context.Background(), protocol.DiscountRequest{
		Kind:  models.DiscountFixed,
		Value: 500,
	})
	require.NoError(t, err)
	assert.NotEqual(t, discount.Code, other.Code)
}
