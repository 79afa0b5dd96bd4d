package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripflow/dripflow/pkg/models"
)

func TestPredicateEvaluatorBuiltins(t *testing.T) {
	evaluator, err := NewPredicateEvaluator()
	require.NoError(t, err)

	customer := &models.Customer{
		ID:                 "cust-1",
		Email:              "ada@example.com",
		Tags:               []string{"vip"},
		OrdersCount:        3,
		LifetimeSpendCents: 25000,
	}

	tests := []struct {
		name      string
		predicate models.Predicate
		want      bool
	}{
		{
			name:      "has_purchased true",
			predicate: models.Predicate{Kind: models.PredicateHasPurchased},
			want:      true,
		},
		{
			name:      "has_tag match",
			predicate: models.Predicate{Kind: models.PredicateHasTag, Tag: "vip"},
			want:      true,
		},
		{
			name:      "has_tag miss",
			predicate: models.Predicate{Kind: models.PredicateHasTag, Tag: "newsletter"},
			want:      false,
		},
		{
			name:      "lifetime_spend_over above threshold",
			predicate: models.Predicate{Kind: models.PredicateLifetimeSpendOver, ThresholdCents: 10000},
			want:      true,
		},
		{
			name:      "lifetime_spend_over at threshold is strict",
			predicate: models.Predicate{Kind: models.PredicateLifetimeSpendOver, ThresholdCents: 25000},
			want:      false,
		},
		{
			name:      "order_count_over",
			predicate: models.Predicate{Kind: models.PredicateOrderCountOver, Threshold: 2},
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluator.Evaluate(tt.predicate, customer)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPredicateEvaluatorHasPurchasedFalse(t *testing.T) {
	evaluator, err := NewPredicateEvaluator()
	require.NoError(t, err)

	got, err := evaluator.Evaluate(models.Predicate{Kind: models.PredicateHasPurchased}, &models.Customer{})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestPredicateEvaluatorExpression(t *testing.T) {
	evaluator, err := NewPredicateEvaluator()
	require.NoError(t, err)

	customer := &models.Customer{
		ID:                 "cust-1",
		Email:              "ada@example.com",
		Tags:               []string{"vip"},
		OrdersCount:        3,
		LifetimeSpendCents: 25000,
	}

	got, err := evaluator.Evaluate(models.Predicate{
		Kind:       models.PredicateExpression,
		Expression: `customer.orders_count > 1 && "vip" in customer.tags`,
	}, customer)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = evaluator.Evaluate(models.Predicate{
		Kind:       models.PredicateExpression,
		Expression: `customer.lifetime_spend_cents > 100000`,
	}, customer)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestPredicateEvaluatorExpressionErrors(t *testing.T) {
	evaluator, err := NewPredicateEvaluator()
	require.NoError(t, err)

	customer := &models.Customer{ID: "cust-1"}

	// Compile error.
	_, err = evaluator.Evaluate(models.Predicate{
		Kind:       models.PredicateExpression,
		Expression: `customer.orders_count >`,
	}, customer)
	assert.Error(t, err)

	// Non-boolean result.
	_, err = evaluator.Evaluate(models.Predicate{
		Kind:       models.PredicateExpression,
		Expression: `customer.orders_count`,
	}, customer)
	assert.Error(t, err)

	// Unknown kind.
	_, err = evaluator.Evaluate(models.Predicate{Kind: "telepathy"}, customer)
	assert.Error(t, err)
}

func TestPredicateEvaluatorCachesPrograms(t *testing.T) {
	evaluator, err := NewPredicateEvaluator()
	require.NoError(t, err)

	predicate := models.Predicate{
		Kind:       models.PredicateExpression,
		Expression: `customer.orders_count > 0`,
	}

	for range 3 {
		got, err := evaluator.Evaluate(predicate, &models.Customer{OrdersCount: 1})
		require.NoError(t, err)
		assert.True(t, got)
	}

	_, cached := evaluator.cache.Load(predicate.Expression)
	assert.True(t, cached)
}
