// Package models defines the core domain models for the dripflow automation engine.
package models

import "time"

// FlowStatus represents the lifecycle state of a flow definition.
type FlowStatus string

const (
	FlowStatusDraft  FlowStatus = "draft"  // Editable, never triggered
	FlowStatusActive FlowStatus = "active" // Triggerable
	FlowStatusPaused FlowStatus = "paused" // Kept, not triggered
)

// TriggerType enumerates the business events that may start executions.
type TriggerType string

const (
	TriggerCustomerCreated    TriggerType = "customer_created"
	TriggerOrderPlaced        TriggerType = "order_placed"
	TriggerOrderFulfilled     TriggerType = "order_fulfilled"
	TriggerOrderCancelled     TriggerType = "order_cancelled"
	TriggerOrderRefunded      TriggerType = "order_refunded"
	TriggerCartAbandoned      TriggerType = "cart_abandoned"
	TriggerCustomerTagAdded   TriggerType = "customer_tag_added"
	TriggerProductBackInStock TriggerType = "product_back_in_stock"
)

// KnownTriggerTypes lists every trigger type the dispatcher accepts.
var KnownTriggerTypes = []TriggerType{
	TriggerCustomerCreated,
	TriggerOrderPlaced,
	TriggerOrderFulfilled,
	TriggerOrderCancelled,
	TriggerOrderRefunded,
	TriggerCartAbandoned,
	TriggerCustomerTagAdded,
	TriggerProductBackInStock,
}

// TriggerFilter narrows which events of the trigger type start an execution.
// Empty fields match everything; set fields require an exact match.
type TriggerFilter struct {
	TagName   string `json:"tag_name,omitempty"`
	SegmentID string `json:"segment_id,omitempty"`
}

// Trigger describes when a flow starts.
type Trigger struct {
	Type   TriggerType   `json:"type"   validate:"required"`
	Filter TriggerFilter `json:"filter"`
}

// FlowStats holds aggregate counters maintained by the engine as executions
// progress. They are incremented through FlowRepository.IncrementStats so
// concurrent executions never lose updates.
type FlowStats struct {
	MessagesSent     int64 `json:"messages_sent"`
	OrdersAttributed int64 `json:"orders_attributed"`
	RevenueCents     int64 `json:"revenue_cents"`
}

// Flow is a reusable automation definition: a trigger plus an ordered step
// list. The engine treats it as read-only except for Stats.
type Flow struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"        validate:"required,min=3"`
	Description string     `json:"description"`
	Status      FlowStatus `json:"status"      validate:"required,oneof=draft active paused"`
	Trigger     Trigger    `json:"trigger"`
	Steps       []Step     `json:"steps"`
	Stats       FlowStats  `json:"stats"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// MatchesPayload evaluates the trigger-level filter against an event payload.
// Filters are exact-match only; a failed filter is a normal non-match.
func (f *Flow) MatchesPayload(payload map[string]any) bool {
	if f.Trigger.Filter.TagName != "" {
		tag, _ := payload["tag_name"].(string)
		if tag != f.Trigger.Filter.TagName {
			return false
		}
	}

	if f.Trigger.Filter.SegmentID != "" {
		segment, _ := payload["segment_id"].(string)
		if segment != f.Trigger.Filter.SegmentID {
			return false
		}
	}

	return true
}

// Validate checks the flow definition is internally consistent.
func (f *Flow) Validate() error {
	for i := range f.Steps {
		if err := f.Steps[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}
