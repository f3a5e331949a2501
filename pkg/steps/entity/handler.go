// Package entity provides the create_entity, update_entity and create_query step handlers.
package entity

import (
	"context"
	"fmt"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/dukex/flowpilot/pkg/steps"
	"github.com/dukex/flowpilot/pkg/template"
)

// QueryEntityName is the entity created by create_query steps.
const QueryEntityName = "copilot_query"

// Config covers all three entity actions.
type Config struct {
	EntityName  string `json:"entity_name"`
	EntityID    string `json:"entity_id"`
	DataMapping any    `json:"data_mapping"`
	Query       string `json:"query"`
}

// Handler writes one entity through the entity store.
type Handler struct {
	action  models.StepAction
	config  Config
	mapping map[string]any
	store   protocol.EntityStore
}

func (h *Handler) Execute(ctx context.Context, stepCtx protocol.StepContext) (any, error) {
	data, _ := template.Resolve(h.mapping, stepCtx.Data).(map[string]any)

	switch h.action {
	case models.ActionUpdateEntity:
		entityID := template.ResolveString(h.config.EntityID, stepCtx.Data)

		entity, err := h.store.UpdateEntity(ctx, stepCtx.OrgID, entityID, data)
		if err != nil {
			return nil, fmt.Errorf("update_entity failed: %w", err)
		}

		return map[string]any{"entity_id": entity.ID, "updated": true}, nil
	case models.ActionCreateQuery:
		data["query"] = template.ResolveString(h.config.Query, stepCtx.Data)
		data["workflow_id"] = stepCtx.WorkflowID
		data["execution_id"] = stepCtx.ExecutionID

		entity, err := h.store.CreateEntity(ctx, stepCtx.OrgID, QueryEntityName, data, "workflow:"+stepCtx.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("create_query failed: %w", err)
		}

		return map[string]any{"query_id": entity.ID}, nil
	default:
		entity, err := h.store.CreateEntity(ctx, stepCtx.OrgID, h.config.EntityName, data, "workflow:"+stepCtx.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("create_entity failed: %w", err)
		}

		return map[string]any{"entity_id": entity.ID, "entity_name": entity.EntityName}, nil
	}
}

// Factory creates entity handlers for one action.
type Factory struct {
	action models.StepAction
	store  protocol.EntityStore
}

func NewCreateFactory(store protocol.EntityStore) *Factory {
	return &Factory{action: models.ActionCreateEntity, store: store}
}

func NewUpdateFactory(store protocol.EntityStore) *Factory {
	return &Factory{action: models.ActionUpdateEntity, store: store}
}

func NewQueryFactory(store protocol.EntityStore) *Factory {
	return &Factory{action: models.ActionCreateQuery, store: store}
}

func (f *Factory) Create(config map[string]any) (protocol.StepHandler, error) {
	var cfg Config

	err := steps.Decode(string(f.action), config, &cfg)
	if err != nil {
		return nil, err
	}

	switch f.action {
	case models.ActionCreateEntity:
		if cfg.EntityName == "" {
			return nil, steps.MissingField(string(f.action), "entity_name")
		}
	case models.ActionUpdateEntity:
		if cfg.EntityID == "" {
			return nil, steps.MissingField(string(f.action), "entity_id")
		}
	case models.ActionCreateQuery:
		if cfg.Query == "" {
			return nil, steps.MissingField(string(f.action), "query")
		}
	}

	mapping, err := template.ParseMapping(cfg.DataMapping)
	if err != nil {
		return nil, steps.NewConfigError(string(f.action), "data_mapping", err.Error())
	}

	return &Handler{action: f.action, config: cfg, mapping: mapping, store: f.store}, nil
}

func (f *Factory) ID() string {
	return string(f.action)
}

func (f *Factory) Name() string {
	switch f.action {
	case models.ActionUpdateEntity:
		return "Update Entity"
	case models.ActionCreateQuery:
		return "Create Query"
	default:
		return "Create Entity"
	}
}

func (f *Factory) Description() string {
	return "Writes an org-scoped entity whose data is built from data_mapping"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"entity_name": map[string]any{"type": "string"},
			"entity_id":   map[string]any{"type": "string"},
			"query":       map[string]any{"type": "string"},
			"data_mapping": map[string]any{
				"type":        []string{"object", "string"},
				"description": "Object or JSON string whose string leaves may contain {{path}} placeholders",
				"examples":    []string{`{"email": "{{trigger.email}}"}`},
			},
		},
	}
}
