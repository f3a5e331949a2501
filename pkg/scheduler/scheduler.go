// Package scheduler fires schedule-triggered workflows on their cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowpilot/pkg/eventbus"
	"github.com/dukex/flowpilot/pkg/events"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/robfig/cron/v3"
)

const (
	// TriggerSource is the trigger_data.source of scheduled executions.
	TriggerSource = "schedule"

	defaultRefreshInterval = time.Minute
)

// Accepts standard five-field expressions, an optional leading seconds field and descriptors like @hourly.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSpec validates a cron expression.
func ParseSpec(spec string) (cron.Schedule, error) {
	return parser.Parse(spec)
}

// Config is the trigger_config of a schedule workflow.
type Config struct {
	Cron    string
	Payload map[string]any
}

// ConfigOf reads the schedule from a workflow's trigger_config.
func ConfigOf(workflow *models.Workflow) (Config, error) {
	spec, _ := workflow.TriggerConfig["cron"].(string)
	if spec == "" {
		return Config{}, fmt.Errorf("workflow %s has no cron expression", workflow.ID)
	}

	payload, _ := workflow.TriggerConfig["payload"].(map[string]any)

	return Config{Cron: spec, Payload: payload}, nil
}

// WorkflowSource lists the workflows to schedule.
type WorkflowSource interface {
	FetchActive(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error)
}

type entry struct {
	id   cron.EntryID
	spec string
}

type Scheduler struct {
	cron      *cron.Cron
	source    WorkflowSource
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	refresh   time.Duration
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

type Option func(*Scheduler)

// WithRefreshInterval sets how often the set of scheduled workflows is reloaded.
func WithRefreshInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		s.refresh = interval
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func New(logger *slog.Logger, source WorkflowSource, publisher eventbus.EventPublisher, opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:      cron.New(cron.WithParser(parser)),
		source:    source,
		publisher: publisher,
		logger:    logger.With("module", "scheduler"),
		refresh:   defaultRefreshInterval,
		now:       time.Now,
		entries:   make(map[string]entry),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run schedules the active workflows and keeps them in sync until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	err := s.Sync(ctx)
	if err != nil {
		return err
	}

	s.cron.Start()

	defer func() {
		<-s.cron.Stop().Done()
	}()

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")

			return nil
		case <-ticker.C:
			err := s.Sync(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "Failed to refresh schedules", "error", err)
			}
		}
	}
}

// Sync adds new schedules, replaces changed ones and removes workflows no longer active.
func (s *Scheduler) Sync(ctx context.Context) error {
	workflows, err := s.source.FetchActive(ctx, models.TriggerTypeSchedule)
	if err != nil {
		return fmt.Errorf("failed to fetch scheduled workflows: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(workflows))

	for _, workflow := range workflows {
		config, err := ConfigOf(workflow)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping workflow", "workflow_id", workflow.ID, "error", err)

			continue
		}

		seen[workflow.ID] = true

		current, ok := s.entries[workflow.ID]
		if ok && current.spec == config.Cron {
			continue
		}

		if ok {
			s.cron.Remove(current.id)
		}

		id, err := s.cron.AddFunc(config.Cron, s.fire(workflow.ID, config.Payload))
		if err != nil {
			s.logger.WarnContext(ctx, "Invalid cron expression", "workflow_id", workflow.ID, "cron", config.Cron, "error", err)
			delete(s.entries, workflow.ID)

			continue
		}

		s.entries[workflow.ID] = entry{id: id, spec: config.Cron}
		s.logger.InfoContext(ctx, "Scheduled workflow", "workflow_id", workflow.ID, "cron", config.Cron)
	}

	for workflowID, current := range s.entries {
		if seen[workflowID] {
			continue
		}

		s.cron.Remove(current.id)
		delete(s.entries, workflowID)
		s.logger.InfoContext(ctx, "Unscheduled workflow", "workflow_id", workflowID)
	}

	return nil
}

// Scheduled returns the ids of the workflows currently scheduled.
func (s *Scheduler) Scheduled() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.entries))
	for workflowID, current := range s.entries {
		out[workflowID] = current.spec
	}

	return out
}

func (s *Scheduler) fire(workflowID string, payload map[string]any) func() {
	return func() {
		err := s.Fire(context.Background(), workflowID, payload)
		if err != nil {
			s.logger.Error("Failed to trigger scheduled workflow", "workflow_id", workflowID, "error", err)
		}
	}
}

// Fire publishes one trigger of the workflow.
func (s *Scheduler) Fire(ctx context.Context, workflowID string, payload map[string]any) error {
	now := s.now().UTC()

	event := events.WorkflowTriggered{
		BaseEvent: events.NewBaseEvent(events.WorkflowTriggeredEvent, workflowID),
		TriggerData: models.TriggerData{
			Source:    TriggerSource,
			Payload:   payload,
			Timestamp: now,
		},
	}

	s.logger.InfoContext(ctx, "Triggering scheduled workflow", "workflow_id", workflowID)

	return s.publisher.Publish(ctx, workflowID, event)
}
