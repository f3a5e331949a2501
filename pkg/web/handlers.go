// Package web provides HTTP handlers and REST API endpoints for workflows and agents.
package web

import (
	"strconv"
	"time"

	"github.com/dukex/flowpilot/pkg/auth"
	"github.com/dukex/flowpilot/pkg/learning"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/registry"
	"github.com/dukex/flowpilot/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	workflowService *services.Workflow
	agentService    *services.Agent
	validator       *validator.Validate
	registry        *registry.Registry
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	agentService *services.Agent,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		agentService:    agentService,
		validator:       validator,
		registry:        registry,
	}
}

// Register mounts every route. Everything but health and webhooks sits behind the auth gate,
// passed as route middleware so it runs before the handler.
func Register(router fiber.Router, h *APIHandlers) {
	router.Get("/health", h.HealthCheck)
	router.Post("/webhooks", h.TriggerWebhook)

	router.Get("/step-actions", h.GetStepActions, auth.Require(auth.PermissionReadWorkflows, authFailure))

	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows, auth.Require(auth.PermissionReadWorkflows, authFailure))
	w.Post("/", h.CreateWorkflow, auth.Require(auth.PermissionWriteWorkflows, authFailure))
	w.Get("/:id", h.GetWorkflow, auth.Require(auth.PermissionReadWorkflows, authFailure))
	w.Patch("/:id", h.UpdateWorkflow, auth.Require(auth.PermissionWriteWorkflows, authFailure))
	w.Get("/:id/executions", h.GetWorkflowExecutions, auth.Require(auth.PermissionReadWorkflows, authFailure))

	router.Post("/executions", h.ExecuteWorkflow, auth.Require(auth.PermissionExecuteWorkflows, authFailure))
	router.Get("/executions/:id", h.GetExecution, auth.Require(auth.PermissionReadWorkflows, authFailure))

	a := router.Group("/agents")
	a.Post("/", h.CreateAgent, auth.Require(auth.PermissionWriteAgents, authFailure))
	a.Get("/:id", h.GetAgent, auth.Require(auth.PermissionReadAgents, authFailure))
	a.Post("/:id/executions", h.ExecuteAgent, auth.Require(auth.PermissionExecuteAgents, authFailure))
	a.Get("/:id/tools", h.GetAgentTools, auth.Require(auth.PermissionReadAgents, authFailure))

	router.Get("/agent-executions/:id", h.GetAgentExecution, auth.Require(auth.PermissionReadAgents, authFailure))
	router.Post("/agent-executions/:id/feedback", h.SubmitFeedback, auth.Require(auth.PermissionSubmitFeedback, authFailure))
}

func identity(c fiber.Ctx) auth.Identity {
	id, _ := auth.FromContext(c)

	return id
}

// orgScope is the caller's org when the gateway sent one, otherwise the requested org.
func orgScope(c fiber.Ctx, requested string) string {
	if org := identity(c).OrgID; org != "" {
		return org
	}

	return requested
}

// visible hides records of other orgs from callers bound to an org.
func visible(c fiber.Ctx, orgID string) bool {
	org := identity(c).OrgID

	return org == "" || org == orgID
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryMessage, registryOK := h.registry.HealthCheck()
	repositoryMessage, repositoryOK := h.workflowService.HealthCheck(c.Context())

	status, state := fiber.StatusOK, "healthy"
	if !registryOK || !repositoryOK {
		status, state = fiber.StatusServiceUnavailable, "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": state,
		"checkers": fiber.Map{
			"registry":   registryMessage,
			"repository": repositoryMessage,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetStepActions(c fiber.Ctx) error {
	return c.JSON(h.registry.Components())
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.List(c.Context(), orgScope(c, c.Query("org_id")))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows, "total_count": len(workflows)})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if !visible(c, workflow.OrgID) {
		return notFound(c, "workflow not found")
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	workflow := &models.Workflow{
		OrgID:         orgScope(c, req.OrgID),
		Name:          req.Name,
		Description:   req.Description,
		TriggerType:   req.TriggerType,
		TriggerConfig: req.TriggerConfig,
		Steps:         req.Steps,
		IsActive:      active,
		CreatedBy:     identity(c).Email,
	}

	if workflow.Steps == nil {
		workflow.Steps = []models.Step{}
	}

	created, err := h.workflowService.Create(c.Context(), workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.workflowService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if !visible(c, existing.OrgID) {
		return notFound(c, "workflow not found")
	}

	updated, err := h.workflowService.Update(c.Context(), existing.ID, services.UpdateRequest{
		Name:          req.Name,
		Description:   req.Description,
		TriggerType:   req.TriggerType,
		TriggerConfig: req.TriggerConfig,
		Steps:         req.Steps,
		IsActive:      req.IsActive,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	limit := 0

	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return badRequest(c, "limit must be a positive integer")
		}

		limit = parsed
	}

	workflow, err := h.workflowService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if !visible(c, workflow.OrgID) {
		return notFound(c, "workflow not found")
	}

	executions, err := h.workflowService.Executions(c.Context(), workflow.ID, limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions})
}

func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	var req ExecuteWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.workflowService.Execute(c.Context(), services.ExecutionRequest{
		WorkflowID:     req.WorkflowID,
		OrgID:          identity(c).OrgID,
		TriggerData:    req.TriggerData,
		ResumeFromStep: req.ResumeFromStep,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.workflowService.Execution(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if !visible(c, execution.OrgID) {
		return notFound(c, "execution not found")
	}

	return c.JSON(execution)
}

// TriggerWebhook is unauthenticated: the shared secret in the query string guards it.
func (h *APIHandlers) TriggerWebhook(c fiber.Ctx) error {
	workflowID := c.Query("workflow_id")
	if workflowID == "" {
		return badRequest(c, "workflow_id is required")
	}

	payload := map[string]any{}

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&payload); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	result, err := h.workflowService.TriggerWebhook(c.Context(), workflowID, c.Query("secret"), payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	if result.Queued {
		return c.Status(fiber.StatusAccepted).JSON(result)
	}

	return c.JSON(result)
}

func (h *APIHandlers) CreateAgent(c fiber.Ctx) error {
	var req CreateAgentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	agent, err := h.agentService.Create(c.Context(), &models.Agent{
		OrgID:          orgScope(c, req.OrgID),
		Name:           req.Name,
		Persona:        req.Persona,
		Capabilities:   req.Capabilities,
		LearningConfig: req.LearningConfig,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(agent)
}

func (h *APIHandlers) GetAgent(c fiber.Ctx) error {
	agent, err := h.agentService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if !visible(c, agent.OrgID) {
		return notFound(c, "agent not found")
	}

	return c.JSON(agent)
}

func (h *APIHandlers) ExecuteAgent(c fiber.Ctx) error {
	var req ExecuteAgentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.agentService.RequestExecution(c.Context(), services.AgentExecutionRequest{
		AgentID:     c.Params("id"),
		OrgID:       orgScope(c, req.OrgID),
		Task:        req.Task,
		RequestedBy: identity(c).Email,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	if execution.Status == models.AgentStatusPlanning {
		return c.Status(fiber.StatusAccepted).JSON(execution)
	}

	return c.Status(fiber.StatusCreated).JSON(execution)
}

func (h *APIHandlers) GetAgentTools(c fiber.Ctx) error {
	agent, err := h.agentService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if !visible(c, agent.OrgID) {
		return notFound(c, "agent not found")
	}

	tools, err := h.agentService.Tools(c.Context(), agent.ID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"tools": tools})
}

func (h *APIHandlers) GetAgentExecution(c fiber.Ctx) error {
	execution, err := h.agentService.Execution(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if !visible(c, execution.OrgID) {
		return notFound(c, "agent execution not found")
	}

	return c.JSON(execution)
}

func (h *APIHandlers) SubmitFeedback(c fiber.Ctx) error {
	var req FeedbackRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.agentService.Execution(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if !visible(c, execution.OrgID) {
		return notFound(c, "agent execution not found")
	}

	feedback, err := h.agentService.SubmitFeedback(c.Context(), learning.Feedback{
		ExecutionID: execution.ID,
		SubmittedBy: identity(c).Email,
		Rating:      req.Rating,
		Helpful:     req.Helpful,
		Comment:     req.Comment,
		Corrections: req.Corrections,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(feedback)
}
