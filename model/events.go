package model

import (
	"time"

	"github.com/google/uuid"
)

// Event topics published by the engine
const (
	TopicWorkflowCreated    = "workflow.created"
	TopicExecutionEvents    = "workflow.execution.events"
	TopicNodeEvents         = "workflow.node.events"
	TopicStateChanged       = "statemachine.state_changed"
	TopicStateMachineDone   = "statemachine.completed"
	TopicErrorEscalations   = "workflow.error.escalations"
)

// EventType identifies a lifecycle event
type EventType string

const (
	EventWorkflowStarted      EventType = "workflow_started"
	EventWorkflowCompleted    EventType = "workflow_completed"
	EventWorkflowFailed       EventType = "workflow_failed"
	EventWorkflowSuspended    EventType = "workflow_suspended"
	EventWorkflowResumed      EventType = "workflow_resumed"
	EventWorkflowCancelled    EventType = "workflow_cancelled"
	EventWorkflowCompensating EventType = "workflow_compensating"
	EventWorkflowCompensated  EventType = "workflow_compensated"

	EventNodeStarted   EventType = "node_started"
	EventNodeCompleted EventType = "node_completed"
	EventNodeFailed    EventType = "node_failed"
	EventNodeRetrying  EventType = "node_retrying"
	EventNodeSkipped   EventType = "node_skipped"
)

// Event is a lifecycle event published to the event sink
type Event struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id,omitempty"`
	NodeID      string         `json:"node_id,omitempty"`
	Type        EventType      `json:"event_type"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
}

// NewEvent creates a lifecycle event
func NewEvent(executionID, nodeID string, eventType EventType, data map[string]any) *Event {
	return &Event{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		NodeID:      nodeID,
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		Data:        data,
	}
}
