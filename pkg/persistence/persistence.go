// Package persistence provides the object store abstraction used by workflows and agents.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
)

// Kind names a collection of records.
type Kind string

const (
	KindWorkflow          Kind = "workflows"
	KindWorkflowExecution Kind = "workflow_executions"
	KindAgent             Kind = "agents"
	KindAgentExecution    Kind = "agent_executions"
	KindAgentFeedback     Kind = "agent_feedback"
	KindLearningInsight   Kind = "learning_insights"
	KindToolInvocation    Kind = "tool_invocations"
	KindAgentTool         Kind = "agent_tools"
	KindEntity            Kind = "entities"
)

// Query filters records by equality on top-level fields.
type Query struct {
	Where      map[string]any
	SortBy     string
	Descending bool
	Limit      int
	Offset     int
}

// Store is a strongly consistent per-record object store with no cross-record transactions.
type Store interface {
	// Create inserts a new record and fails with ErrAlreadyExists on id collision.
	Create(ctx context.Context, kind Kind, id string, record any) error

	// Get decodes the record into dest or fails with ErrNotFound.
	Get(ctx context.Context, kind Kind, id string, dest any) error

	// Filter returns the raw JSON of every record matching the query.
	Filter(ctx context.Context, kind Kind, query Query) ([]json.RawMessage, error)

	// Update overwrites the given top-level fields of an existing record.
	Update(ctx context.Context, kind Kind, id string, fields map[string]any) error

	// Increment adds by to a numeric top-level field and overwrites fields in the same
	// atomic write. A missing field counts as zero.
	Increment(ctx context.Context, kind Kind, id, field string, by int64, fields map[string]any) error

	// Put replaces the whole record, creating it when missing.
	Put(ctx context.Context, kind Kind, id string, record any) error

	Delete(ctx context.Context, kind Kind, id string) error
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Get loads a typed record.
func Get[T any](ctx context.Context, store Store, kind Kind, id string) (*T, error) {
	var record T

	err := store.Get(ctx, kind, id, &record)
	if err != nil {
		return nil, err
	}

	return &record, nil
}

// Filter loads typed records matching the query.
func Filter[T any](ctx context.Context, store Store, kind Kind, query Query) ([]*T, error) {
	raw, err := store.Filter(ctx, kind, query)
	if err != nil {
		return nil, err
	}

	records := make([]*T, 0, len(raw))

	for _, item := range raw {
		var record T

		err := json.Unmarshal(item, &record)
		if err != nil {
			return nil, NewRecordError("Filter", kind, "", fmt.Errorf("failed to decode record: %w", err))
		}

		records = append(records, &record)
	}

	return records, nil
}

// ToFields converts a record into its top-level JSON fields.
func ToFields(record any) (map[string]any, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]any)

	err = json.Unmarshal(data, &fields)
	if err != nil {
		return nil, err
	}

	return fields, nil
}
