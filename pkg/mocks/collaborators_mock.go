package mocks

import (
	"context"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockNotifier is a mock implementation of protocol.Notifier interface.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, notification protocol.Notification) error {
	args := m.Called(ctx, notification)

	return args.Error(0)
}

// MockTextGenerator is a mock implementation of protocol.TextGenerator interface.
type MockTextGenerator struct {
	mock.Mock
}

func (m *MockTextGenerator) Generate(ctx context.Context, request protocol.GenerateRequest) (any, error) {
	args := m.Called(ctx, request)

	return args.Get(0), args.Error(1)
}

// MockSubWorkflowRunner is a mock implementation of protocol.SubWorkflowRunner interface.
type MockSubWorkflowRunner struct {
	mock.Mock
}

func (m *MockSubWorkflowRunner) RunSubWorkflow(ctx context.Context, request protocol.SubWorkflowRequest) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, request)

	execution, _ := args.Get(0).(*models.WorkflowExecution)

	return execution, args.Error(1)
}

// MockEntityStore is a mock implementation of protocol.EntityStore interface.
type MockEntityStore struct {
	mock.Mock
}

func (m *MockEntityStore) CreateEntity(ctx context.Context, orgID, entityName string, data map[string]any, createdBy string) (*models.Entity, error) {
	args := m.Called(ctx, orgID, entityName, data, createdBy)

	entity, _ := args.Get(0).(*models.Entity)

	return entity, args.Error(1)
}

func (m *MockEntityStore) UpdateEntity(ctx context.Context, orgID, entityID string, data map[string]any) (*models.Entity, error) {
	args := m.Called(ctx, orgID, entityID, data)

	entity, _ := args.Get(0).(*models.Entity)

	return entity, args.Error(1)
}
