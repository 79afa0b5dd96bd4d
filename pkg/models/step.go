package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// StepKind discriminates the closed set of step variants. Dispatch on it is
// an exhaustive switch; there is no runtime step registry.
type StepKind string

const (
	StepKindSendMessage    StepKind = "send_message"
	StepKindWait           StepKind = "wait"
	StepKindCondition      StepKind = "condition"
	StepKindAddTag         StepKind = "add_tag"
	StepKindCreateDiscount StepKind = "create_discount"
)

// SendMessageConfig configures a send_message step. Subject and Body are
// templates rendered with customer and trigger data at execution time.
type SendMessageConfig struct {
	Subject    string `json:"subject"               validate:"required"`
	Body       string `json:"body,omitempty"`
	TemplateID string `json:"template_id,omitempty"`
}

// WaitConfig configures a wait step.
type WaitConfig struct {
	DelayMinutes int `json:"delay_minutes" validate:"required,min=1"`
}

// PredicateKind discriminates condition predicates.
type PredicateKind string

const (
	PredicateHasPurchased      PredicateKind = "has_purchased"
	PredicateHasTag            PredicateKind = "has_tag"
	PredicateLifetimeSpendOver PredicateKind = "lifetime_spend_over"
	PredicateOrderCountOver    PredicateKind = "order_count_over"
	PredicateExpression        PredicateKind = "expression"
)

// Predicate is a side-effect-free check against current customer state.
// The expression kind evaluates a CEL expression with the customer bound as
// a map; every other kind is a built-in comparison.
type Predicate struct {
	Kind           PredicateKind `json:"kind"                      validate:"required"`
	Tag            string        `json:"tag,omitempty"`
	ThresholdCents int64         `json:"threshold_cents,omitempty"`
	Threshold      int           `json:"threshold,omitempty"`
	Expression     string        `json:"expression,omitempty"`
}

// ConditionConfig configures a condition step. Branches are step sequences,
// not references: the interpreter grafts a deep copy of the matching branch
// into the execution's snapshot.
type ConditionConfig struct {
	Predicate   Predicate `json:"predicate"`
	TrueBranch  []Step    `json:"true_branch,omitempty"`
	FalseBranch []Step    `json:"false_branch,omitempty"`
}

// AddTagConfig configures an add_tag step.
type AddTagConfig struct {
	TagName string `json:"tag_name" validate:"required"`
}

// DiscountKind is the discount value semantics.
type DiscountKind string

const (
	DiscountPercentage DiscountKind = "percentage"
	DiscountFixed      DiscountKind = "fixed"
)

// CreateDiscountConfig configures a create_discount step. Code is optional;
// when empty the issuing collaborator mints one.
type CreateDiscountConfig struct {
	Code          string       `json:"code,omitempty"`
	Kind          DiscountKind `json:"kind"            validate:"required,oneof=percentage fixed"`
	Value         float64      `json:"value"           validate:"required,gt=0"`
	ExpiresInDays int          `json:"expires_in_days" validate:"min=0"`
}

// Step is a tagged variant: Kind selects exactly one config pointer. Steps
// have no identity beyond their position in the owning sequence.
type Step struct {
	Kind           StepKind              `json:"kind"`
	SendMessage    *SendMessageConfig    `json:"send_message,omitempty"`
	Wait           *WaitConfig           `json:"wait,omitempty"`
	Condition      *ConditionConfig      `json:"condition,omitempty"`
	AddTag         *AddTagConfig         `json:"add_tag,omitempty"`
	CreateDiscount *CreateDiscountConfig `json:"create_discount,omitempty"`
}

var ErrUnknownStepKind = errors.New("unknown step kind")

// Validate checks the variant tag matches the populated config, recursing
// into condition branches.
func (s *Step) Validate() error {
	switch s.Kind {
	case StepKindSendMessage:
		if s.SendMessage == nil {
			return fmt.Errorf("step %s: missing config", s.Kind)
		}

		if s.SendMessage.Subject == "" {
			return fmt.Errorf("step %s: subject is required", s.Kind)
		}
	case StepKindWait:
		if s.Wait == nil {
			return fmt.Errorf("step %s: missing config", s.Kind)
		}

		if s.Wait.DelayMinutes < 1 {
			return fmt.Errorf("step %s: delay_minutes must be >= 1", s.Kind)
		}
	case StepKindCondition:
		if s.Condition == nil {
			return fmt.Errorf("step %s: missing config", s.Kind)
		}

		for i := range s.Condition.TrueBranch {
			if err := s.Condition.TrueBranch[i].Validate(); err != nil {
				return err
			}
		}

		for i := range s.Condition.FalseBranch {
			if err := s.Condition.FalseBranch[i].Validate(); err != nil {
				return err
			}
		}
	case StepKindAddTag:
		if s.AddTag == nil || s.AddTag.TagName == "" {
			return fmt.Errorf("step %s: tag_name is required", s.Kind)
		}
	case StepKindCreateDiscount:
		if s.CreateDiscount == nil {
			return fmt.Errorf("step %s: missing config", s.Kind)
		}

		if s.CreateDiscount.Kind != DiscountPercentage && s.CreateDiscount.Kind != DiscountFixed {
			return fmt.Errorf("step %s: invalid discount kind %q", s.Kind, s.CreateDiscount.Kind)
		}

		if s.CreateDiscount.Value <= 0 {
			return fmt.Errorf("step %s: value must be positive", s.Kind)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStepKind, s.Kind)
	}

	return nil
}

// Clone returns a deep copy of the step. Condition branches are copied
// recursively so a clone shares no memory with the original.
func (s Step) Clone() Step {
	out := Step{Kind: s.Kind}

	switch s.Kind {
	case StepKindSendMessage:
		if s.SendMessage != nil {
			c := *s.SendMessage
			out.SendMessage = &c
		}
	case StepKindWait:
		if s.Wait != nil {
			c := *s.Wait
			out.Wait = &c
		}
	case StepKindCondition:
		if s.Condition != nil {
			out.Condition = &ConditionConfig{
				Predicate:   s.Condition.Predicate,
				TrueBranch:  CloneSteps(s.Condition.TrueBranch),
				FalseBranch: CloneSteps(s.Condition.FalseBranch),
			}
		}
	case StepKindAddTag:
		if s.AddTag != nil {
			c := *s.AddTag
			out.AddTag = &c
		}
	case StepKindCreateDiscount:
		if s.CreateDiscount != nil {
			c := *s.CreateDiscount
			out.CreateDiscount = &c
		}
	}

	return out
}

// CloneSteps deep-copies a step sequence.
func CloneSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}

	out := make([]Step, len(steps))
	for i := range steps {
		out[i] = steps[i].Clone()
	}

	return out
}

// UnmarshalJSON rejects unknown kinds and kind/config mismatches early, so a
// flow document with a bad step never reaches the interpreter.
func (s *Step) UnmarshalJSON(data []byte) error {
	type alias Step

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*s = Step(raw)

	return s.Validate()
}
