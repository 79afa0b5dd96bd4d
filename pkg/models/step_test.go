package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepValidate(t *testing.T) {
	tests := []struct {
		name    string
		step    Step
		wantErr bool
	}{
		{
			name: "valid send_message",
			step: Step{Kind: StepKindSendMessage, SendMessage: &SendMessageConfig{Subject: "Welcome!"}},
		},
		{
			name:    "send_message without subject",
			step:    Step{Kind: StepKindSendMessage, SendMessage: &SendMessageConfig{}},
			wantErr: true,
		},
		{
			name:    "send_message without config",
			step:    Step{Kind: StepKindSendMessage},
			wantErr: true,
		},
		{
			name: "valid wait",
			step: Step{Kind: StepKindWait, Wait: &WaitConfig{DelayMinutes: 60}},
		},
		{
			name:    "wait with zero delay",
			step:    Step{Kind: StepKindWait, Wait: &WaitConfig{DelayMinutes: 0}},
			wantErr: true,
		},
		{
			name: "valid add_tag",
			step: Step{Kind: StepKindAddTag, AddTag: &AddTagConfig{TagName: "vip"}},
		},
		{
			name:    "add_tag without tag name",
			step:    Step{Kind: StepKindAddTag, AddTag: &AddTagConfig{}},
			wantErr: true,
		},
		{
			name: "valid create_discount",
			step: Step{Kind: StepKindCreateDiscount, CreateDiscount: &CreateDiscountConfig{Kind: DiscountPercentage, Value: 10}},
		},
		{
			name:    "create_discount with bad kind",
			step:    Step{Kind: StepKindCreateDiscount, CreateDiscount: &CreateDiscountConfig{Kind: "bogus", Value: 10}},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			step:    Step{Kind: "teleport"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.step.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStepValidateRecursesIntoBranches(t *testing.T) {
	step := Step{
		Kind: StepKindCondition,
		Condition: &ConditionConfig{
			Predicate: Predicate{Kind: PredicateHasTag, Tag: "vip"},
			TrueBranch: []Step{
				{Kind: StepKindWait, Wait: &WaitConfig{DelayMinutes: 0}},
			},
		},
	}

	assert.Error(t, step.Validate())

	step.Condition.TrueBranch[0].Wait.DelayMinutes = 5
	assert.NoError(t, step.Validate())
}

func TestStepCloneSharesNoMemory(t *testing.T) {
	original := Step{
		Kind: StepKindCondition,
		Condition: &ConditionConfig{
			Predicate: Predicate{Kind: PredicateHasTag, Tag: "vip"},
			TrueBranch: []Step{
				{Kind: StepKindSendMessage, SendMessage: &SendMessageConfig{Subject: "For VIPs"}},
			},
			FalseBranch: []Step{
				{Kind: StepKindAddTag, AddTag: &AddTagConfig{TagName: "prospect"}},
			},
		},
	}

	clone := original.Clone()

	clone.Condition.Predicate.Tag = "changed"
	clone.Condition.TrueBranch[0].SendMessage.Subject = "changed"
	clone.Condition.FalseBranch[0].AddTag.TagName = "changed"

	assert.Equal(t, "vip", original.Condition.Predicate.Tag)
	assert.Equal(t, "For VIPs", original.Condition.TrueBranch[0].SendMessage.Subject)
	assert.Equal(t, "prospect", original.Condition.FalseBranch[0].AddTag.TagName)
}

func TestStepUnmarshalRejectsBadDocuments(t *testing.T) {
	var step Step

	err := json.Unmarshal([]byte(`{"kind":"teleport"}`), &step)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownStepKind)

	err = json.Unmarshal([]byte(`{"kind":"wait","wait":{"delay_minutes":0}}`), &step)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`{"kind":"wait","wait":{"delay_minutes":1440}}`), &step)
	require.NoError(t, err)
	assert.Equal(t, 1440, step.Wait.DelayMinutes)
}
