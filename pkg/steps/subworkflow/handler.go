// Package subworkflow provides the sub_workflow step, which runs another workflow as an independent child execution.
package subworkflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/dukex/flowpilot/pkg/steps"
	"github.com/dukex/flowpilot/pkg/template"
)

// TriggerSource is the trigger_data.source of child executions.
const TriggerSource = "sub_workflow"

// ErrChildFailed is returned when fail_on_child_failure is set and the child execution failed.
var ErrChildFailed = errors.New("sub-workflow execution failed")

type Config struct {
	SubWorkflowID      string `json:"sub_workflow_id"`
	DataMapping        any    `json:"data_mapping"`
	FailOnChildFailure bool   `json:"fail_on_child_failure"`
}

// Handler blocks until the child execution reaches a terminal state.
type Handler struct {
	config  Config
	mapping map[string]any
	runner  protocol.SubWorkflowRunner
	now     func() time.Time
}

func (h *Handler) Execute(ctx context.Context, stepCtx protocol.StepContext) (any, error) {
	payload, _ := template.Resolve(h.mapping, stepCtx.Data).(map[string]any)

	stepCtx.Logger.InfoContext(ctx, "Invoking sub-workflow", "sub_workflow_id", h.config.SubWorkflowID)

	child, err := h.runner.RunSubWorkflow(ctx, protocol.SubWorkflowRequest{
		WorkflowID:        h.config.SubWorkflowID,
		OrgID:             stepCtx.OrgID,
		ParentExecutionID: stepCtx.ExecutionID,
		TriggerData: models.TriggerData{
			Source:    TriggerSource,
			Payload:   payload,
			Timestamp: h.now().UTC(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sub-workflow %s: %w", h.config.SubWorkflowID, err)
	}

	result := map[string]any{
		"sub_workflow_id":  h.config.SubWorkflowID,
		"sub_execution_id": child.ID,
		"status":           string(child.Status),
	}

	if h.config.FailOnChildFailure && child.Status == models.ExecutionStatusFailed {
		return result, fmt.Errorf("%w: %s", ErrChildFailed, child.ErrorMessage)
	}

	return result, nil
}

type Factory struct {
	runner protocol.SubWorkflowRunner
}

func NewFactory(runner protocol.SubWorkflowRunner) *Factory {
	return &Factory{runner: runner}
}

func (f *Factory) Create(config map[string]any) (protocol.StepHandler, error) {
	var cfg Config

	err := steps.Decode(string(models.ActionSubWorkflow), config, &cfg)
	if err != nil {
		return nil, err
	}

	if cfg.SubWorkflowID == "" {
		return nil, steps.MissingField(string(models.ActionSubWorkflow), "sub_workflow_id")
	}

	mapping, err := template.ParseMapping(cfg.DataMapping)
	if err != nil {
		return nil, steps.NewConfigError(string(models.ActionSubWorkflow), "data_mapping", err.Error())
	}

	return &Handler{config: cfg, mapping: mapping, runner: f.runner, now: time.Now}, nil
}

func (f *Factory) ID() string {
	return string(models.ActionSubWorkflow)
}

func (f *Factory) Name() string {
	return "Sub-workflow"
}

func (f *Factory) Description() string {
	return "Runs another workflow with a mapped payload and waits for it to finish"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sub_workflow_id": map[string]any{"type": "string"},
			"data_mapping": map[string]any{
				"type":     []string{"object", "string"},
				"examples": []string{`{"customer_id": "{{trigger.customer.id}}"}`},
			},
			"fail_on_child_failure": map[string]any{"type": "boolean", "default": false},
		},
		"required": []string{"sub_workflow_id"},
	}
}
