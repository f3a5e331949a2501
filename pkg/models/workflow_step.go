package models

// StepAction names what a workflow step does.
type StepAction string

const (
	ActionSendNotification  StepAction = "send_notification"
	ActionSendEmail         StepAction = "send_email"
	ActionCreateQuery       StepAction = "create_query"
	ActionCreateEntity      StepAction = "create_entity"
	ActionUpdateEntity      StepAction = "update_entity"
	ActionWebhook           StepAction = "webhook"
	ActionIntegrationAction StepAction = "integration_action"
	ActionSubWorkflow       StepAction = "sub_workflow"
	ActionCondition         StepAction = "condition"
	ActionTransform         StepAction = "transform"
	ActionDelay             StepAction = "delay"
)

// Step is one configured action inside a workflow definition.
type Step struct {
	ID          string           `json:"id"                     validate:"required"`
	Name        string           `json:"name,omitempty"`
	Action      StepAction       `json:"action"                 validate:"required"`
	Config      map[string]any   `json:"config,omitempty"`
	ErrorConfig *StepErrorConfig `json:"error_config,omitempty"`
}

// StepErrorConfig controls retries and whether a failure halts the execution.
type StepErrorConfig struct {
	RetryEnabled      bool `json:"retry_enabled"`
	RetryCount        int  `json:"retry_count"         validate:"min=0,max=10"`
	RetryDelaySeconds int  `json:"retry_delay_seconds" validate:"min=0,max=3600"`
	ContinueOnError   bool `json:"continue_on_error"`
}

// Retries returns how many extra attempts the step gets after its first failure.
func (c *StepErrorConfig) Retries() int {
	if c == nil || !c.RetryEnabled || c.RetryCount < 0 {
		return 0
	}

	return c.RetryCount
}

// Continues reports whether a failure of this step lets the execution proceed.
func (c *StepErrorConfig) Continues() bool {
	return c != nil && c.ContinueOnError
}
