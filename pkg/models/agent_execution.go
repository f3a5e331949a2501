package models

import (
	"strconv"
	"time"
)

// AgentExecutionStatus is the lifecycle state of an agent task.
type AgentExecutionStatus string

const (
	AgentStatusPlanning  AgentExecutionStatus = "planning"
	AgentStatusExecuting AgentExecutionStatus = "executing"
	AgentStatusCompleted AgentExecutionStatus = "completed"
	AgentStatusFailed    AgentExecutionStatus = "failed"
)

// PlanStepStatus is the state of one step of an agent plan.
type PlanStepStatus string

const (
	PlanStepPending   PlanStepStatus = "pending"
	PlanStepRunning   PlanStepStatus = "running"
	PlanStepCompleted PlanStepStatus = "completed"
	PlanStepFailed    PlanStepStatus = "failed"
)

// AgentExecution is one task run by an agent.
type AgentExecution struct {
	ID              string               `json:"id"`
	AgentID         string               `json:"agent_id"`
	OrgID           string               `json:"org_id"`
	RequestedBy     string               `json:"requested_by"`
	Task            string               `json:"task"`
	Status          AgentExecutionStatus `json:"status"`
	Plan            []PlanStep           `json:"plan"`
	Result          map[string]any       `json:"result,omitempty"`
	ErrorMessage    string               `json:"error_message,omitempty"`
	ExecutionTimeMs int64                `json:"execution_time_ms"`
	UserFeedback    *UserFeedback        `json:"user_feedback,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
}

// PlanStep is one step generated by the planner.
type PlanStep struct {
	StepNumber  int            `json:"step_number"`
	Description string         `json:"description"`
	Action      string         `json:"action"`
	Capability  Capability     `json:"capability,omitempty"`
	Status      PlanStepStatus `json:"status"`
	DurationMs  int64          `json:"duration_ms,omitempty"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// ResultKey is the key under which the step's output lands in the execution result.
func (p PlanStep) ResultKey() string {
	return "step_" + strconv.Itoa(p.StepNumber)
}

// UserFeedback is the latest feedback attached to an execution.
type UserFeedback struct {
	Rating      int          `json:"rating"`
	Helpful     bool         `json:"helpful"`
	Comment     string       `json:"comment,omitempty"`
	Corrections []Correction `json:"corrections,omitempty"`
	SubmittedAt time.Time    `json:"submitted_at"`
}

// Correction describes how the user would have changed a plan step.
type Correction struct {
	StepNumber      int    `json:"step_number"`
	OriginalAction  string `json:"original_action"`
	CorrectedAction string `json:"corrected_action"`
	Reason          string `json:"reason,omitempty"`
}

// AgentFeedback is one feedback submission.
type AgentFeedback struct {
	ID                string       `json:"id"`
	ExecutionID       string       `json:"execution_id"`
	AgentID           string       `json:"agent_id"`
	OrgID             string       `json:"org_id"`
	SubmittedBy       string       `json:"submitted_by"`
	Rating            int          `json:"rating"`
	Helpful           bool         `json:"helpful"`
	Comment           string       `json:"comment,omitempty"`
	Corrections       []Correction `json:"corrections,omitempty"`
	AppliedToLearning bool         `json:"applied_to_learning"`
	CreatedAt         time.Time    `json:"created_at"`
}

// LearningInsight is the audit record of one insight extraction.
type LearningInsight struct {
	ID                 string         `json:"id"`
	AgentID            string         `json:"agent_id"`
	ExecutionID        string         `json:"execution_id"`
	FeedbackID         string         `json:"feedback_id"`
	KeyLearnings       []string       `json:"key_learnings"`
	AvoidPatterns      []string       `json:"avoid_patterns"`
	PreferPatterns     []string       `json:"prefer_patterns"`
	ApplicableContexts []string       `json:"applicable_contexts"`
	Raw                map[string]any `json:"raw"`
	CreatedAt          time.Time      `json:"created_at"`
}
