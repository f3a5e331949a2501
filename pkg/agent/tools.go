package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/protocol"
)

// AgentRecordEntity is the entity written by entity operations of agent plans.
const AgentRecordEntity = "agent_record"

// ToolCall is one plan step handed to a tool.
type ToolCall struct {
	Agent     *models.Agent
	Execution *models.AgentExecution
	Step      models.PlanStep

	// Previous holds the output of the steps already completed.
	Previous Results
}

type Tool interface {
	Run(ctx context.Context, call ToolCall) (any, error)
}

// ToolFunc adapts a function to Tool.
type ToolFunc func(ctx context.Context, call ToolCall) (any, error)

func (f ToolFunc) Run(ctx context.Context, call ToolCall) (any, error) {
	return f(ctx, call)
}

// Requester is the egress call used by API-call steps.
type Requester interface {
	Do(ctx context.Context, method, url string, headers map[string]string, body any) (*protocol.HTTPResponse, error)
}

// DefaultTools wires every ToolKind to its implementation.
func DefaultTools(generator protocol.TextGenerator, entities protocol.EntityStore, requester Requester) map[ToolKind]Tool {
	return map[ToolKind]Tool{
		ToolWebSearch: &webSearchTool{generator: generator},
		ToolEntity:    &entityTool{entities: entities},
		ToolAPICall:   &apiCallTool{requester: requester},
		ToolLLM:       &llmTool{generator: generator},
	}
}

type webSearchTool struct {
	generator protocol.TextGenerator
}

func (t *webSearchTool) Run(ctx context.Context, call ToolCall) (any, error) {
	prompt := fmt.Sprintf("Search the internet and report what you find.\nTask: %s\nStep: %s\n",
		call.Execution.Task, call.Step.Description)

	return t.generator.Generate(ctx, protocol.GenerateRequest{Prompt: prompt, AddContextFromInternet: true})
}

type llmTool struct {
	generator protocol.TextGenerator
}

// Run gives the model the step and the accumulated output of earlier steps.
func (t *llmTool) Run(ctx context.Context, call ToolCall) (any, error) {
	previous, err := json.Marshal(call.Previous.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to encode previous results: %w", err)
	}

	prompt := fmt.Sprintf("You are %s.\nOverall task: %s\nCurrent step %d: %s\nResults so far: %s\n",
		orDefault(call.Agent.Persona.Role, "a helpful assistant"),
		call.Execution.Task, call.Step.StepNumber, call.Step.Description, previous)

	return t.generator.Generate(ctx, protocol.GenerateRequest{Prompt: prompt})
}

type entityTool struct {
	entities protocol.EntityStore
}

func (t *entityTool) Run(ctx context.Context, call ToolCall) (any, error) {
	entity, err := t.entities.CreateEntity(ctx, call.Execution.OrgID, AgentRecordEntity, map[string]any{
		"agent_id":     call.Agent.ID,
		"execution_id": call.Execution.ID,
		"step_number":  call.Step.StepNumber,
		"action":       call.Step.Action,
		"description":  call.Step.Description,
	}, "agent:"+call.Agent.ID)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"entity_id":   entity.ID,
		"entity_name": entity.EntityName,
	}, nil
}

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>]+`)

type apiCallTool struct {
	requester Requester
}

// Run calls the first URL mentioned by the step when it falls under one of the agent's
// api_endpoints. Steps naming no endpoint, or one the agent was not granted, are acknowledged
// without a call.
func (t *apiCallTool) Run(ctx context.Context, call ToolCall) (any, error) {
	skipped := map[string]any{
		"type":        string(ToolAPICall),
		"action":      call.Step.Action,
		"description": call.Step.Description,
		"called":      false,
	}

	target := urlPattern.FindString(call.Step.Action + " " + call.Step.Description)
	if target == "" {
		return skipped, nil
	}

	target = strings.TrimRight(target, ".,;)")

	if !allowedEndpoint(call.Agent.APIEndpoints, target) {
		skipped["url"] = target
		skipped["reason"] = "endpoint not allowed for agent"

		return skipped, nil
	}

	response, err := t.requester.Do(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"type":   string(ToolAPICall),
		"url":    target,
		"called": true,
		"status": response.Status,
		"ok":     response.OK,
		"body":   response.Body,
	}, nil
}

// allowedEndpoint matches scheme and host exactly and the path by segment prefix.
func allowedEndpoint(endpoints []string, target string) bool {
	parsed, err := url.Parse(target)
	if err != nil || parsed.User != nil {
		return false
	}

	for _, endpoint := range endpoints {
		allowed, err := url.Parse(endpoint)
		if err != nil || allowed.Host == "" {
			continue
		}

		if !strings.EqualFold(allowed.Scheme, parsed.Scheme) || !strings.EqualFold(allowed.Host, parsed.Host) {
			continue
		}

		prefix := strings.TrimSuffix(allowed.Path, "/")
		if prefix == "" || parsed.Path == prefix || strings.HasPrefix(parsed.Path, prefix+"/") {
			return true
		}
	}

	return false
}
