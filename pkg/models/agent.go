package models

import "time"

// Capability is a tag declaring what an agent may do.
type Capability string

const (
	CapabilityWebSearch         Capability = "web_search"
	CapabilityEntityCRUD        Capability = "entity_crud"
	CapabilityAPICalls          Capability = "api_calls"
	CapabilityDataAnalysis      Capability = "data_analysis"
	CapabilityEmail             Capability = "email"
	CapabilityMultiStepPlanning Capability = "multi_step_planning"
)

// Agent is an org-scoped persona with declared capabilities.
type Agent struct {
	ID                 string             `json:"id"`
	OrgID              string             `json:"org_id"                      validate:"required"`
	Name               string             `json:"name"                        validate:"required,min=1"`
	Persona            Persona            `json:"persona"`
	Capabilities       []Capability       `json:"capabilities"                validate:"dive,oneof=web_search entity_crud api_calls data_analysis email multi_step_planning"`
	LearningConfig     LearningConfig     `json:"learning_config"`
	APIEndpoints       []string           `json:"api_endpoints,omitempty"     validate:"dive,http_url"`
	PerformanceMetrics PerformanceMetrics `json:"performance_metrics"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Has reports whether the agent declares the capability.
func (a *Agent) Has(capability Capability) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}

	return false
}

// Persona shapes the prompts sent on behalf of the agent.
type Persona struct {
	Role               string   `json:"role"`
	Tone               string   `json:"tone,omitempty"`
	ExpertiseAreas     []string `json:"expertise_areas,omitempty"`
	CustomInstructions string   `json:"custom_instructions,omitempty"`
}

// LearningConfig toggles feedback learning. A nil flag means enabled.
type LearningConfig struct {
	EnableFeedbackLearning *bool `json:"enable_feedback_learning,omitempty"`
}

// FeedbackLearningEnabled is true unless learning was explicitly switched off.
func (c LearningConfig) FeedbackLearningEnabled() bool {
	return c.EnableFeedbackLearning == nil || *c.EnableFeedbackLearning
}

// PerformanceMetrics is a derived cache of an agent's execution history.
type PerformanceMetrics struct {
	TotalExecutions     int64     `json:"total_executions"`
	SuccessRate         float64   `json:"success_rate"`
	AvgExecutionTimeMs  float64   `json:"avg_execution_time_ms"`
	UserSatisfactionAvg float64   `json:"user_satisfaction_avg"`
	FeedbackCount       int64     `json:"feedback_count"`
	UpdatedAt           time.Time `json:"updated_at,omitzero"`
}
