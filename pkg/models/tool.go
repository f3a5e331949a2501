package models

import "time"

// ToolInvocation records a single tool call made while executing an agent plan.
type ToolInvocation struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	ExecutionID string    `json:"execution_id"`
	ToolName    string    `json:"tool_name"`
	StepNumber  int       `json:"step_number"`
	Success     bool      `json:"success"`
	DurationMs  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AgentTool holds the usage aggregates of one tool for one agent.
type AgentTool struct {
	ID                 string    `json:"id"`
	AgentID            string    `json:"agent_id"`
	ToolName           string    `json:"tool_name"`
	UsageCount         int64     `json:"usage_count"`
	SuccessRate        float64   `json:"success_rate"`
	AvgExecutionTimeMs float64   `json:"avg_execution_time_ms"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Entity is a generic org-scoped record mutated by entity steps.
type Entity struct {
	ID         string         `json:"id"`
	OrgID      string         `json:"org_id"`
	EntityName string         `json:"entity_name"`
	Data       map[string]any `json:"data"`
	CreatedBy  string         `json:"created_by,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
