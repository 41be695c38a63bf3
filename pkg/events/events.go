// Package events defines event types and structures for workflow lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/leadwell/drip/pkg/models"
)

type EventType string

// Kafka topics.
const ExecutionTopic = "drip.executions" // Topic for execution lifecycle events
const SegmentTopic = "drip.segments"     // Topic for segment membership events

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"
	ExecutionPausedEvent    EventType = "execution.paused"
	ExecutionResumedEvent   EventType = "execution.resumed"
	ExecutionWaitingEvent   EventType = "execution.waiting"

	// Step events.
	StepDispatchedEvent EventType = "step.dispatched"
	StepSkippedEvent    EventType = "step.skipped"
	StepRetriedEvent    EventType = "step.retried"

	// Trigger and segment events.
	TriggerReceivedEvent          EventType = "trigger.received"
	TriggerMatchedEvent           EventType = "trigger.matched"
	SegmentMembershipChangedEvent EventType = "segment.membership_changed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// Execution lifecycle events

type ExecutionStarted struct {
	BaseEvent

	ExecutionID  string         `json:"execution_id"`
	EntityID     string         `json:"entity_id"`
	WorkflowName string         `json:"workflow_name"`
	TriggerKind  string         `json:"trigger_kind"`
	TriggerData  map[string]any `json:"trigger_data,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID   string `json:"execution_id"`
	EntityID      string `json:"entity_id"`
	DurationMs    int64  `json:"duration_ms"`
	StepsExecuted int    `json:"steps_executed"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	EntityID    string `json:"entity_id"`
	StepIndex   int    `json:"step_index"`
	Error       string `json:"error"`
	RetryCount  int    `json:"retry_count"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	EntityID    string `json:"entity_id"`
	Reason      string `json:"reason,omitempty"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

type ExecutionPaused struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	EntityID    string `json:"entity_id"`
	StepIndex   int    `json:"step_index"`
}

func (e ExecutionPaused) GetType() EventType {
	return ExecutionPausedEvent
}

type ExecutionResumed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	EntityID    string `json:"entity_id"`
	StepIndex   int    `json:"step_index"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type ExecutionWaiting struct {
	BaseEvent

	ExecutionID string    `json:"execution_id"`
	EntityID    string    `json:"entity_id"`
	StepIndex   int       `json:"step_index"`
	WakeAt      time.Time `json:"wake_at"`
}

func (e ExecutionWaiting) GetType() EventType {
	return ExecutionWaitingEvent
}

// Step events

type StepDispatched struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	EntityID    string         `json:"entity_id"`
	StepIndex   int            `json:"step_index"`
	ActionKind  string         `json:"action_kind"`
	Output      map[string]any `json:"output,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
}

func (e StepDispatched) GetType() EventType {
	return StepDispatchedEvent
}

type StepSkipped struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	EntityID    string `json:"entity_id"`
	StepIndex   int    `json:"step_index"`
	ActionKind  string `json:"action_kind"`
}

func (e StepSkipped) GetType() EventType {
	return StepSkippedEvent
}

type StepRetried struct {
	BaseEvent

	ExecutionID string    `json:"execution_id"`
	EntityID    string    `json:"entity_id"`
	StepIndex   int       `json:"step_index"`
	ActionKind  string    `json:"action_kind"`
	RetryCount  int       `json:"retry_count"`
	Error       string    `json:"error"`
	RetryAt     time.Time `json:"retry_at"`
}

func (e StepRetried) GetType() EventType {
	return StepRetriedEvent
}

// Trigger and segment events

// TriggerReceived is a raw trigger entering the system, published by ingress
// points (webhooks, the trigger CLI, schedule fanout across services) and
// consumed by workers running the trigger matcher. WorkflowID is empty until
// matching happens.
type TriggerReceived struct {
	BaseEvent

	TriggerKind string         `json:"trigger_kind"`
	EntityID    string         `json:"entity_id"`
	Payload     map[string]any `json:"payload,omitempty"`
}

func (e TriggerReceived) GetType() EventType {
	return TriggerReceivedEvent
}

type TriggerMatched struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	EntityID    string         `json:"entity_id"`
	TriggerKind string         `json:"trigger_kind"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

func (e TriggerMatched) GetType() EventType {
	return TriggerMatchedEvent
}

type SegmentMembershipChanged struct {
	BaseEvent

	SegmentID string              `json:"segment_id"`
	EntityID  string              `json:"entity_id"`
	Op        models.MembershipOp `json:"op"`
	Reason    string              `json:"reason"`
}

func (e SegmentMembershipChanged) GetType() EventType {
	return SegmentMembershipChangedEvent
}
