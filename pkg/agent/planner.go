// Package agent plans natural-language tasks into steps with a language model and runs
// the plan step by step on behalf of an agent persona.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/protocol"
)

const (
	minPlanSteps = 3
	maxPlanSteps = 7
)

type Planner struct {
	generator protocol.TextGenerator
}

func NewPlanner(generator protocol.TextGenerator) *Planner {
	return &Planner{generator: generator}
}

// PlanRequest carries everything the planning prompt is built from.
type PlanRequest struct {
	Agent *models.Agent
	Task  string

	// Lessons are guidance learned from feedback on earlier executions.
	Lessons []string
}

type plannedStep struct {
	StepNumber  int    `json:"step_number"`
	Description string `json:"description"`
	Action      string `json:"action"`
	Capability  string `json:"capability"`
}

type plannedSteps struct {
	Steps []plannedStep `json:"steps"`
}

// Plan asks the model for an ordered plan. Every returned step is pending. Beyond the
// schema shape nothing is validated: an empty plan is accepted.
func (p *Planner) Plan(ctx context.Context, request PlanRequest) ([]models.PlanStep, error) {
	output, err := p.generator.Generate(ctx, protocol.GenerateRequest{
		Prompt: planPrompt(request),
		Schema: planSchema(request.Agent),
	})
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}

	raw, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}

	var planned plannedSteps

	err = json.Unmarshal(raw, &planned)
	if err != nil {
		return nil, fmt.Errorf("planning returned an unexpected shape: %w", err)
	}

	plan := make([]models.PlanStep, 0, len(planned.Steps))

	for i, step := range planned.Steps {
		number := step.StepNumber
		if number <= 0 {
			number = i + 1
		}

		plan = append(plan, models.PlanStep{
			StepNumber:  number,
			Description: step.Description,
			Action:      step.Action,
			Capability:  models.Capability(step.Capability),
			Status:      models.PlanStepPending,
		})
	}

	return plan, nil
}

func planPrompt(request PlanRequest) string {
	persona := request.Agent.Persona

	var b strings.Builder

	fmt.Fprintf(&b, "You are %s", orDefault(persona.Role, "a helpful assistant"))

	if persona.Tone != "" {
		fmt.Fprintf(&b, " with a %s tone", persona.Tone)
	}

	b.WriteString(".\n")

	if len(persona.ExpertiseAreas) > 0 {
		fmt.Fprintf(&b, "Your expertise: %s.\n", strings.Join(persona.ExpertiseAreas, ", "))
	}

	if persona.CustomInstructions != "" {
		fmt.Fprintf(&b, "Instructions: %s\n", persona.CustomInstructions)
	}

	capabilities := make([]string, 0, len(request.Agent.Capabilities))
	for _, capability := range request.Agent.Capabilities {
		capabilities = append(capabilities, string(capability))
	}

	fmt.Fprintf(&b, "Available capabilities: %s.\n", orDefault(strings.Join(capabilities, ", "), "none"))

	if len(request.Lessons) > 0 {
		b.WriteString("Lessons from earlier feedback:\n")

		for _, lesson := range request.Lessons {
			fmt.Fprintf(&b, "- %s\n", lesson)
		}
	}

	fmt.Fprintf(&b, "\nBreak the following task into %d to %d ordered steps. ", minPlanSteps, maxPlanSteps)
	b.WriteString("For each step give a short action, a description, and the capability it needs ")
	b.WriteString("(one of the available capabilities, or \"none\").\n\n")
	fmt.Fprintf(&b, "Task: %s\n", request.Task)

	return b.String()
}

func planSchema(agent *models.Agent) map[string]any {
	capabilities := []any{"none"}
	for _, capability := range agent.Capabilities {
		capabilities = append(capabilities, string(capability))
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"steps": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"step_number": map[string]any{"type": "integer"},
						"description": map[string]any{"type": "string"},
						"action":      map[string]any{"type": "string"},
						"capability":  map[string]any{"enum": capabilities},
					},
					"required": []any{"step_number", "description", "action"},
				},
			},
		},
		"required": []any{"steps"},
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}
