package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowpilot/pkg/channels/gochannel"
	"github.com/dukex/flowpilot/pkg/events"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(slog.Default(), pub, sub)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	bus := newTestBus(t)
	received := make(chan *events.WorkflowTriggered, 1)

	err := bus.Handle(events.WorkflowTriggeredEvent, func(_ context.Context, event Event) error {
		triggered, ok := event.(*events.WorkflowTriggered)
		require.True(t, ok)

		received <- triggered

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	event := events.WorkflowTriggered{
		BaseEvent: events.NewBaseEvent(events.WorkflowTriggeredEvent, "wf-1"),
		OrgID:     "org-1",
		TriggerData: models.TriggerData{
			Source:  "webhook",
			Payload: map[string]any{"order": "A-1"},
		},
		ResumeFromStep: "step-2",
	}

	require.NoError(t, bus.Publish(ctx, "wf-1", event))

	select {
	case got := <-received:
		assert.Equal(t, "wf-1", got.WorkflowID)
		assert.Equal(t, "org-1", got.OrgID)
		assert.Equal(t, "step-2", got.ResumeFromStep)
		assert.Equal(t, "A-1", got.TriggerData.Payload["order"])
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_UnhandledTypesAreSkipped(t *testing.T) {
	bus := newTestBus(t)
	received := make(chan events.EventType, 2)

	err := bus.Handle(events.AgentExecutionRequestedEvent, func(_ context.Context, event Event) error {
		received <- event.GetType()

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "a", events.AgentFeedbackSubmitted{
		BaseEvent: events.NewAgentBaseEvent(events.AgentFeedbackSubmittedEvent, "agent-1"),
	}))
	require.NoError(t, bus.Publish(ctx, "a", events.AgentExecutionRequested{
		BaseEvent:   events.NewAgentBaseEvent(events.AgentExecutionRequestedEvent, "agent-1"),
		ExecutionID: "exec-1",
	}))

	select {
	case got := <-received:
		assert.Equal(t, events.AgentExecutionRequestedEvent, got)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_HandlerErrorRedelivers(t *testing.T) {
	bus := newTestBus(t)
	attempts := make(chan int, 3)
	calls := 0

	err := bus.Handle(events.WorkflowExecutionFailedEvent, func(context.Context, Event) error {
		calls++
		attempts <- calls

		if calls == 1 {
			return errors.New("temporary")
		}

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))
	require.NoError(t, bus.Publish(ctx, "wf-1", events.WorkflowExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionFailedEvent, "wf-1"),
		ExecutionID: "exec-1",
		Error:       "boom",
	}))

	for want := 1; want <= 2; want++ {
		select {
		case got := <-attempts:
			assert.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("attempt %d was not delivered", want)
		}
	}
}
