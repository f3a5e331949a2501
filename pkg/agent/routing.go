package agent

import (
	"strings"

	"github.com/dukex/flowpilot/pkg/models"
)

// ToolKind is how a plan step is carried out. It doubles as the recorded tool name.
type ToolKind string

const (
	ToolWebSearch ToolKind = "web_search"
	ToolEntity    ToolKind = "entity_operation"
	ToolAPICall   ToolKind = "api_call"
	ToolLLM       ToolKind = "llm"
)

// Route picks the tool for a plan step. The capability tag chosen by the planner wins
// when the agent declares it; untagged steps fall back to keyword rules on the action text.
func Route(agent *models.Agent, step models.PlanStep) ToolKind {
	if step.Capability != "" && agent.Has(step.Capability) {
		switch step.Capability {
		case models.CapabilityWebSearch:
			return ToolWebSearch
		case models.CapabilityEntityCRUD:
			return ToolEntity
		case models.CapabilityAPICalls:
			return ToolAPICall
		default:
			return ToolLLM
		}
	}

	if step.Capability != "" {
		return ToolLLM
	}

	action := strings.ToLower(step.Action)

	switch {
	case agent.Has(models.CapabilityWebSearch) && strings.Contains(action, "search"):
		return ToolWebSearch
	case agent.Has(models.CapabilityEntityCRUD) && strings.Contains(action, "create"):
		return ToolEntity
	case agent.Has(models.CapabilityAPICalls):
		return ToolAPICall
	default:
		return ToolLLM
	}
}
