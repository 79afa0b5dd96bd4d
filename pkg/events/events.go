// Package events defines event types for trigger ingestion and execution
// lifecycle notifications.
package events

import (
	"time"

	"github.com/dripflow/dripflow/pkg/models"
)

type EventType string

// Kafka topics.
const TriggerTopic = "dripflow.triggers"     // Inbound business events
const ExecutionTopic = "dripflow.executions" // Execution lifecycle events

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Trigger ingestion.
	TriggerFiredEvent EventType = "trigger.fired"

	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionWaitingEvent   EventType = "execution.waiting"
	ExecutionResumedEvent   EventType = "execution.resumed"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	// Attribution.
	OrderAttributedEvent EventType = "order.attributed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TriggerFired is the inbound business event: something happened in the
// store that may start flow executions.
type TriggerFired struct {
	BaseEvent

	TriggerType models.TriggerType `json:"trigger_type"`
	CustomerID  string             `json:"customer_id"`
	Payload     map[string]any     `json:"payload,omitempty"`
}

func (e TriggerFired) GetType() EventType {
	return TriggerFiredEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	FlowID      string `json:"flow_id"`
	CustomerID  string `json:"customer_id"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionWaiting struct {
	BaseEvent

	ExecutionID string    `json:"execution_id"`
	FlowID      string    `json:"flow_id"`
	ResumeAt    time.Time `json:"resume_at"`
}

func (e ExecutionWaiting) GetType() EventType {
	return ExecutionWaitingEvent
}

type ExecutionResumed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	FlowID      string `json:"flow_id"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	FlowID      string        `json:"flow_id"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	FlowID      string `json:"flow_id"`
	StepIndex   int    `json:"step_index"`
	Error       string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	FlowID      string `json:"flow_id"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

// OrderAttributed reports a purchase credited to a flow execution or a
// campaign.
type OrderAttributed struct {
	BaseEvent

	OrderID     string `json:"order_id"`
	AmountCents int64  `json:"amount_cents"`
	ExecutionID string `json:"execution_id,omitempty"`
	CampaignID  string `json:"campaign_id,omitempty"`
}

func (e OrderAttributed) GetType() EventType {
	return OrderAttributedEvent
}
