// Package events defines event types and structures for workflow and agent lifecycle notifications.
package events

import (
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every lifecycle event.
const Topic = "flowpilot.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow lifecycle events.
	WorkflowTriggeredEvent          EventType = "workflow.triggered"
	WorkflowExecutionCompletedEvent EventType = "workflow.execution.completed"
	WorkflowExecutionFailedEvent    EventType = "workflow.execution.failed"

	// Agent lifecycle events.
	AgentExecutionRequestedEvent EventType = "agent.execution.requested"
	AgentExecutionCompletedEvent EventType = "agent.execution.completed"
	AgentExecutionFailedEvent    EventType = "agent.execution.failed"
	AgentFeedbackSubmittedEvent  EventType = "agent.feedback.submitted"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	AgentID    string         `json:"agent_id,omitempty"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// WorkflowTriggered asks a worker to run a workflow.
type WorkflowTriggered struct {
	BaseEvent

	OrgID          string             `json:"org_id"`
	TriggerData    models.TriggerData `json:"trigger_data"`
	ResumeFromStep string             `json:"resume_from_step,omitempty"`
}

func (w WorkflowTriggered) GetType() EventType {
	return WorkflowTriggeredEvent
}

type WorkflowExecutionCompleted struct {
	BaseEvent

	ExecutionID       string `json:"execution_id"`
	ParentExecutionID string `json:"parent_execution_id,omitempty"`
	StepCount         int    `json:"step_count"`
	DurationMs        int64  `json:"duration_ms"`
}

func (w WorkflowExecutionCompleted) GetType() EventType {
	return WorkflowExecutionCompletedEvent
}

type WorkflowExecutionFailed struct {
	BaseEvent

	ExecutionID       string `json:"execution_id"`
	ParentExecutionID string `json:"parent_execution_id,omitempty"`
	FailedStepID      string `json:"failed_step_id,omitempty"`
	Error             string `json:"error"`
	DurationMs        int64  `json:"duration_ms"`
}

func (w WorkflowExecutionFailed) GetType() EventType {
	return WorkflowExecutionFailedEvent
}

// AgentExecutionRequested asks a worker to plan and run an already created agent execution.
type AgentExecutionRequested struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	OrgID       string `json:"org_id"`
}

func (a AgentExecutionRequested) GetType() EventType {
	return AgentExecutionRequestedEvent
}

type AgentExecutionCompleted struct {
	BaseEvent

	ExecutionID     string `json:"execution_id"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	StepCount       int    `json:"step_count"`
}

func (a AgentExecutionCompleted) GetType() EventType {
	return AgentExecutionCompletedEvent
}

type AgentExecutionFailed struct {
	BaseEvent

	ExecutionID     string `json:"execution_id"`
	Error           string `json:"error"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

func (a AgentExecutionFailed) GetType() EventType {
	return AgentExecutionFailedEvent
}

type AgentFeedbackSubmitted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	FeedbackID  string `json:"feedback_id"`
	Rating      int    `json:"rating"`
	Helpful     bool   `json:"helpful"`
}

func (a AgentFeedbackSubmitted) GetType() EventType {
	return AgentFeedbackSubmittedEvent
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

// NewAgentBaseEvent is NewBaseEvent for agent events.
func NewAgentBaseEvent(eventType EventType, agentID string) BaseEvent {
	base := NewBaseEvent(eventType, "")
	base.AgentID = agentID

	return base
}

// New returns an empty event value for the type, ready to be decoded into.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case WorkflowTriggeredEvent:
		return &WorkflowTriggered{}, true
	case WorkflowExecutionCompletedEvent:
		return &WorkflowExecutionCompleted{}, true
	case WorkflowExecutionFailedEvent:
		return &WorkflowExecutionFailed{}, true
	case AgentExecutionRequestedEvent:
		return &AgentExecutionRequested{}, true
	case AgentExecutionCompletedEvent:
		return &AgentExecutionCompleted{}, true
	case AgentExecutionFailedEvent:
		return &AgentExecutionFailed{}, true
	case AgentFeedbackSubmittedEvent:
		return &AgentFeedbackSubmitted{}, true
	default:
		return nil, false
	}
}
