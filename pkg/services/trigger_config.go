package services

import (
	"fmt"
	"strings"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/scheduler"
	"github.com/xeipuuv/gojsonschema"
)

// triggerConfigSchemas are the JSON schemas of trigger_config per trigger type. Types
// without an entry accept any object.
var triggerConfigSchemas = map[models.TriggerType]*gojsonschema.Schema{
	models.TriggerTypeWebhook: mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"secret": map[string]any{"type": "string", "minLength": 1},
		},
		"required": []any{"secret"},
	}),
	models.TriggerTypeSchedule: mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"cron":    map[string]any{"type": "string", "minLength": 1},
			"payload": map[string]any{"type": "object"},
		},
		"required": []any{"cron"},
	}),
	models.TriggerTypeEntityEvent: mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"entity_name": map[string]any{"type": "string"},
			"event":       map[string]any{"type": "string", "enum": []any{"created", "updated", "deleted"}},
		},
	}),
}

func mustSchema(schema map[string]any) *gojsonschema.Schema {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		panic(fmt.Errorf("invalid trigger config schema: %w", err))
	}

	return compiled
}

// validateTriggerConfig checks trigger_config against the schema of its trigger type.
func validateTriggerConfig(triggerType models.TriggerType, config map[string]any) error {
	schema, ok := triggerConfigSchemas[triggerType]
	if !ok {
		return nil
	}

	document := config
	if document == nil {
		document = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return NewValidationError("validate_trigger_config", "trigger_config", err.Error(), ErrInvalidTriggerConfig)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			problems = append(problems, resultErr.String())
		}

		return NewValidationError("validate_trigger_config", "trigger_config", strings.Join(problems, "; "), ErrInvalidTriggerConfig)
	}

	if triggerType == models.TriggerTypeSchedule {
		spec, _ := document["cron"].(string)

		_, err := scheduler.ParseSpec(spec)
		if err != nil {
			return NewValidationError("validate_trigger_config", "trigger_config.cron", err.Error(), ErrInvalidTriggerConfig)
		}
	}

	return nil
}
