// Package entities stores generic org-scoped records on top of the object store.
package entities

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/google/uuid"
)

// ErrOrgMismatch is returned when an entity belongs to another organization.
var ErrOrgMismatch = errors.New("entity belongs to another organization")

// Store implements protocol.EntityStore.
type Store struct {
	store persistence.Store
	now   func() time.Time
}

func NewStore(store persistence.Store) *Store {
	return &Store{store: store, now: time.Now}
}

// CreateEntity inserts a new entity scoped to orgID.
func (s *Store) CreateEntity(ctx context.Context, orgID, entityName string, data map[string]any, createdBy string) (*models.Entity, error) {
	now := s.now().UTC()

	entity := &models.Entity{
		ID:         uuid.New().String(),
		OrgID:      orgID,
		EntityName: entityName,
		Data:       data,
		CreatedBy:  createdBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.store.Create(ctx, persistence.KindEntity, entity.ID, entity)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity: %w", err)
	}

	return entity, nil
}

// UpdateEntity merges data into an existing entity of the same organization.
func (s *Store) UpdateEntity(ctx context.Context, orgID, entityID string, data map[string]any) (*models.Entity, error) {
	entity, err := persistence.Get[models.Entity](ctx, s.store, persistence.KindEntity, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity: %w", err)
	}

	if entity.OrgID != orgID {
		return nil, persistence.NewRecordError("UpdateEntity", persistence.KindEntity, entityID, ErrOrgMismatch)
	}

	if entity.Data == nil {
		entity.Data = make(map[string]any, len(data))
	}

	maps.Copy(entity.Data, data)
	entity.UpdatedAt = s.now().UTC()

	err = s.store.Update(ctx, persistence.KindEntity, entityID, map[string]any{
		"data":       entity.Data,
		"updated_at": entity.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update entity: %w", err)
	}

	return entity, nil
}

// List returns the entities of one name within an organization.
func (s *Store) List(ctx context.Context, orgID, entityName string) ([]*models.Entity, error) {
	return persistence.Filter[models.Entity](ctx, s.store, persistence.KindEntity, persistence.Query{
		Where:  map[string]any{"org_id": orgID, "entity_name": entityName},
		SortBy: "created_at",
	})
}
