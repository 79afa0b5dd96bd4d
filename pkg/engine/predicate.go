package engine

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/dripflow/dripflow/pkg/models"
)

// PredicateEvaluator evaluates condition predicates against customer state.
// Built-in kinds are plain comparisons; the expression kind compiles a CEL
// expression with the customer bound as a map. Compiled programs are cached
// per expression since the same flow evaluates the same predicate for every
// customer that reaches it.
type PredicateEvaluator struct {
	env   *cel.Env
	cache sync.Map // expression -> cel.Program
}

func NewPredicateEvaluator() (*PredicateEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("customer", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &PredicateEvaluator{env: env}, nil
}

// Evaluate runs the predicate. Predicates are pure reads; they never mutate
// customer state.
func (pe *PredicateEvaluator) Evaluate(predicate models.Predicate, customer *models.Customer) (bool, error) {
	switch predicate.Kind {
	case models.PredicateHasPurchased:
		return customer.OrdersCount > 0, nil
	case models.PredicateHasTag:
		return customer.HasTag(predicate.Tag), nil
	case models.PredicateLifetimeSpendOver:
		return customer.LifetimeSpendCents > predicate.ThresholdCents, nil
	case models.PredicateOrderCountOver:
		return customer.OrdersCount > predicate.Threshold, nil
	case models.PredicateExpression:
		return pe.evaluateExpression(predicate.Expression, customer)
	default:
		return false, fmt.Errorf("unknown predicate kind: %q", predicate.Kind)
	}
}

func (pe *PredicateEvaluator) evaluateExpression(expression string, customer *models.Customer) (bool, error) {
	program, err := pe.getOrCompile(expression)
	if err != nil {
		return false, err
	}

	out, _, err := program.Eval(map[string]any{
		"customer": map[string]any{
			"id":                   customer.ID,
			"email":                customer.Email,
			"tags":                 customer.Tags,
			"orders_count":         customer.OrdersCount,
			"lifetime_spend_cents": customer.LifetimeSpendCents,
		},
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation failed: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to a boolean", expression)
	}

	return result, nil
}

func (pe *PredicateEvaluator) getOrCompile(expression string) (cel.Program, error) {
	if cached, ok := pe.cache.Load(expression); ok {
		return cached.(cel.Program), nil
	}

	ast, issues := pe.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", expression, issues.Err())
	}

	program, err := pe.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for %q: %w", expression, err)
	}

	actual, _ := pe.cache.LoadOrStore(expression, program)

	return actual.(cel.Program), nil
}
