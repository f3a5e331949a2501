package notification

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/dukex/flowpilot/pkg/mocks"
	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/dukex/flowpilot/pkg/steps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func stepContext(data map[string]any) protocol.StepContext {
	return protocol.StepContext{
		OrgID:       "org-1",
		WorkflowID:  "wf-1",
		ExecutionID: "exec-1",
		Data:        data,
		Logger:      slog.Default(),
	}
}

func TestEmailHandler_SendsResolvedMessage(t *testing.T) {
	notifier := &mocks.MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n protocol.Notification) bool {
		return n.Channel == "email" && n.Recipient == "ada@example.com" && n.Message == "Order A-1 shipped" && n.OrgID == "org-1"
	})).Return(nil)

	handler, err := NewEmailFactory(notifier).Create(map[string]any{
		"to":      "{{trigger.email}}",
		"subject": "Update",
		"body":    "Order {{trigger.order}} shipped",
	})
	require.NoError(t, err)

	result, err := handler.Execute(context.Background(), stepContext(map[string]any{
		"trigger": map[string]any{"email": "ada@example.com", "order": "A-1"},
	}))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"sent": true}, result)
	notifier.AssertExpectations(t)
}

func TestNotificationHandler_PropagatesNotifierFailure(t *testing.T) {
	notifier := &mocks.MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(errors.New("smtp down"))

	handler, err := NewNotificationFactory(notifier).Create(map[string]any{"recipient": "ops", "message": "hi"})
	require.NoError(t, err)

	_, err = handler.Execute(context.Background(), stepContext(map[string]any{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
	assert.False(t, steps.IsConfigError(err))
}

func TestFactory_MissingRecipient(t *testing.T) {
	_, err := NewNotificationFactory(&mocks.MockNotifier{}).Create(map[string]any{"message": "hi"})

	require.Error(t, err)
	assert.True(t, steps.IsConfigError(err))
}
