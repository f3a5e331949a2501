package scheduler

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/flowpilot/pkg/events"
	"github.com/dukex/flowpilot/pkg/mocks"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	workflows []*models.Workflow
}

func (s *staticSource) FetchActive(_ context.Context, triggerType models.TriggerType) ([]*models.Workflow, error) {
	out := make([]*models.Workflow, 0, len(s.workflows))

	for _, workflow := range s.workflows {
		if workflow.TriggerType == triggerType && workflow.IsActive {
			out = append(out, workflow)
		}
	}

	return out, nil
}

func scheduled(id, spec string) *models.Workflow {
	return &models.Workflow{
		ID:            id,
		TriggerType:   models.TriggerTypeSchedule,
		TriggerConfig: map[string]any{"cron": spec},
		IsActive:      true,
	}
}

func TestParseSpec(t *testing.T) {
	for _, spec := range []string{"*/5 * * * *", "0 0 9 * * MON-FRI", "@hourly"} {
		_, err := ParseSpec(spec)
		assert.NoError(t, err, spec)
	}

	for _, spec := range []string{"", "every minute", "61 * * * *"} {
		_, err := ParseSpec(spec)
		assert.Error(t, err, spec)
	}
}

func TestScheduler_Sync(t *testing.T) {
	source := &staticSource{workflows: []*models.Workflow{
		scheduled("wf-1", "*/5 * * * *"),
		scheduled("wf-2", "@daily"),
		scheduled("wf-bad", "not a cron"),
		{ID: "wf-manual", TriggerType: models.TriggerTypeManual, IsActive: true},
	}}

	s := New(slog.Default(), source, &mocks.MockEventBus{})

	require.NoError(t, s.Sync(context.Background()))
	assert.Equal(t, map[string]string{"wf-1": "*/5 * * * *", "wf-2": "@daily"}, s.Scheduled())

	source.workflows = []*models.Workflow{scheduled("wf-1", "@hourly")}

	require.NoError(t, s.Sync(context.Background()))
	assert.Equal(t, map[string]string{"wf-1": "@hourly"}, s.Scheduled())
	assert.Len(t, s.cron.Entries(), 1)
}

func TestScheduler_Fire(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "wf-1", mock.MatchedBy(func(event events.WorkflowTriggered) bool {
		return event.WorkflowID == "wf-1" &&
			event.TriggerData.Source == TriggerSource &&
			event.TriggerData.Timestamp.Equal(now) &&
			event.TriggerData.Payload["report"] == "daily"
	})).Return(nil).Once()

	s := New(slog.Default(), &staticSource{}, bus, WithClock(func() time.Time { return now }))

	require.NoError(t, s.Fire(context.Background(), "wf-1", map[string]any{"report": "daily"}))
	bus.AssertExpectations(t)
}

func TestConfigOf(t *testing.T) {
	workflow := scheduled("wf-1", "@hourly")
	workflow.TriggerConfig["payload"] = map[string]any{"k": "v"}

	config, err := ConfigOf(workflow)
	require.NoError(t, err)
	assert.Equal(t, Config{Cron: "@hourly", Payload: map[string]any{"k": "v"}}, config)

	_, err = ConfigOf(&models.Workflow{ID: "wf-2"})
	require.Error(t, err)
}
