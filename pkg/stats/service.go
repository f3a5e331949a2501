package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/google/uuid"
)

// Service records agent executions, feedback ratings and tool invocations, and keeps the
// cached PerformanceMetrics and AgentTool aggregates in the store up to date.
type Service struct {
	store       persistence.Store
	accumulator Accumulator
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(logger *slog.Logger, store persistence.Store, accumulator Accumulator) *Service {
	return &Service{
		store:       store,
		accumulator: accumulator,
		logger:      logger.With("module", "stats"),
		now:         time.Now,
	}
}

func agentKey(agentID string) string {
	return "agent:" + agentID
}

func toolKey(agentID, tool string) string {
	return "tool:" + agentID + ":" + tool
}

// AgentToolID is the record id of an agent's tool aggregate.
func AgentToolID(agentID, tool string) string {
	return agentID + "-" + tool
}

// Metrics derives the cached metric shape from counters.
func Metrics(c Counters, at time.Time) models.PerformanceMetrics {
	return models.PerformanceMetrics{
		TotalExecutions:     c.Total,
		SuccessRate:         c.SuccessRate(),
		AvgExecutionTimeMs:  c.AvgDurationMs(),
		UserSatisfactionAvg: c.SatisfactionAvg(),
		FeedbackCount:       c.Feedbacks,
		UpdatedAt:           at,
	}
}

// RecordExecution counts a terminal agent execution. The execution must already be
// persisted in its terminal state.
func (s *Service) RecordExecution(ctx context.Context, execution *models.AgentExecution) (models.PerformanceMetrics, error) {
	delta := Counters{Total: 1, DurationSumMs: execution.ExecutionTimeMs}
	if execution.Status == models.AgentStatusCompleted {
		delta.Successes = 1
	}

	return s.applyAgent(ctx, execution.AgentID, delta)
}

// RecordFeedback counts a feedback submission. previous is the rating the execution
// carried before this submission, so a re-rated execution is only counted once.
func (s *Service) RecordFeedback(ctx context.Context, agentID string, previous *int, rating int) (models.PerformanceMetrics, error) {
	delta := Counters{Feedbacks: 1, RatingSum: int64(rating), RatingCount: 1}
	if previous != nil {
		delta.RatingSum -= int64(*previous)
		delta.RatingCount = 0
	}

	return s.applyAgent(ctx, agentID, delta)
}

// AgentMetrics returns live metrics straight from the counters.
func (s *Service) AgentMetrics(ctx context.Context, agentID string) (models.PerformanceMetrics, error) {
	counters, err := s.accumulator.Get(ctx, agentKey(agentID))
	if err != nil {
		return models.PerformanceMetrics{}, err
	}

	return Metrics(counters, s.now().UTC()), nil
}

func (s *Service) applyAgent(ctx context.Context, agentID string, delta Counters) (models.PerformanceMetrics, error) {
	totals, err := s.add(ctx, agentKey(agentID), delta, func(ctx context.Context) (Counters, error) {
		return s.agentHistory(ctx, agentID)
	})
	if err != nil {
		return models.PerformanceMetrics{}, err
	}

	metrics := Metrics(totals, s.now().UTC())

	err = s.store.Update(ctx, persistence.KindAgent, agentID, map[string]any{"performance_metrics": metrics})
	if err != nil {
		return metrics, fmt.Errorf("failed to cache metrics of agent %s: %w", agentID, err)
	}

	return metrics, nil
}

// RecordToolInvocation stores the invocation and refreshes the tool aggregate.
func (s *Service) RecordToolInvocation(ctx context.Context, invocation *models.ToolInvocation) (*models.AgentTool, error) {
	if invocation.ID == "" {
		invocation.ID = uuid.New().String()
	}

	if invocation.CreatedAt.IsZero() {
		invocation.CreatedAt = s.now().UTC()
	}

	err := s.store.Create(ctx, persistence.KindToolInvocation, invocation.ID, invocation)
	if err != nil {
		return nil, err
	}

	delta := Counters{Total: 1, DurationSumMs: invocation.DurationMs}
	if invocation.Success {
		delta.Successes = 1
	}

	totals, err := s.add(ctx, toolKey(invocation.AgentID, invocation.ToolName), delta, func(ctx context.Context) (Counters, error) {
		perTool, err := s.toolHistory(ctx, invocation.AgentID)

		return perTool[invocation.ToolName], err
	})
	if err != nil {
		return nil, err
	}

	tool := agentTool(invocation.AgentID, invocation.ToolName, totals, s.now().UTC())

	err = s.store.Put(ctx, persistence.KindAgentTool, tool.ID, tool)
	if err != nil {
		return nil, err
	}

	return tool, nil
}

// add applies delta to key. A key this accumulator has never seen, as after a restart of
// a process holding memory counters, is first seeded from the persisted history. Callers
// persist the record being counted before calling, so a seed that wins already includes
// it and the delta is skipped.
func (s *Service) add(ctx context.Context, key string, delta Counters, history func(context.Context) (Counters, error)) (Counters, error) {
	_, err := s.accumulator.Get(ctx, key)
	if err == nil {
		return s.accumulator.Add(ctx, key, delta)
	}

	if !IsUnknown(err) {
		return Counters{}, err
	}

	totals, err := history(ctx)
	if err != nil {
		return Counters{}, fmt.Errorf("failed to seed statistics %s: %w", key, err)
	}

	seeded, err := s.accumulator.Seed(ctx, key, totals)
	if err != nil {
		return Counters{}, err
	}

	if seeded {
		s.logger.InfoContext(ctx, "Seeded statistics from history", "key", key, "total", totals.Total)

		return totals, nil
	}

	return s.accumulator.Add(ctx, key, delta)
}

// Tools lists the tool aggregates of an agent.
func (s *Service) Tools(ctx context.Context, agentID string) ([]*models.AgentTool, error) {
	return persistence.Filter[models.AgentTool](ctx, s.store, persistence.KindAgentTool, persistence.Query{
		Where:  map[string]any{"agent_id": agentID},
		SortBy: "tool_name",
	})
}

func agentTool(agentID, tool string, totals Counters, at time.Time) *models.AgentTool {
	return &models.AgentTool{
		ID:                 AgentToolID(agentID, tool),
		AgentID:            agentID,
		ToolName:           tool,
		UsageCount:         totals.Total,
		SuccessRate:        totals.SuccessRate(),
		AvgExecutionTimeMs: totals.AvgDurationMs(),
		UpdatedAt:          at,
	}
}

// Rebuild recomputes every counter of an agent from its full history and resets the
// accumulator to the result. It reconciles counters after crashes or manual edits.
func (s *Service) Rebuild(ctx context.Context, agentID string) (models.PerformanceMetrics, error) {
	logger := s.logger.With("agent_id", agentID)

	totals, err := s.agentHistory(ctx, agentID)
	if err != nil {
		return models.PerformanceMetrics{}, err
	}

	err = s.accumulator.Set(ctx, agentKey(agentID), totals)
	if err != nil {
		return models.PerformanceMetrics{}, err
	}

	metrics := Metrics(totals, s.now().UTC())

	err = s.store.Update(ctx, persistence.KindAgent, agentID, map[string]any{"performance_metrics": metrics})
	if err != nil {
		return metrics, err
	}

	err = s.rebuildTools(ctx, agentID)
	if err != nil {
		return metrics, err
	}

	logger.InfoContext(ctx, "Rebuilt agent statistics", "executions", totals.Total, "feedback", totals.Feedbacks)

	return metrics, nil
}

// agentHistory sums every terminal execution and feedback record of an agent.
func (s *Service) agentHistory(ctx context.Context, agentID string) (Counters, error) {
	executions, err := persistence.Filter[models.AgentExecution](ctx, s.store, persistence.KindAgentExecution, persistence.Query{
		Where: map[string]any{"agent_id": agentID},
	})
	if err != nil {
		return Counters{}, fmt.Errorf("failed to load executions: %w", err)
	}

	feedback, err := s.store.Filter(ctx, persistence.KindAgentFeedback, persistence.Query{
		Where: map[string]any{"agent_id": agentID},
	})
	if err != nil {
		return Counters{}, fmt.Errorf("failed to load feedback: %w", err)
	}

	totals := Counters{Feedbacks: int64(len(feedback))}

	for _, execution := range executions {
		if !isTerminal(execution.Status) {
			continue
		}

		totals.Total++
		totals.DurationSumMs += execution.ExecutionTimeMs

		if execution.Status == models.AgentStatusCompleted {
			totals.Successes++
		}

		if execution.UserFeedback != nil {
			totals.RatingSum += int64(execution.UserFeedback.Rating)
			totals.RatingCount++
		}
	}

	return totals, nil
}

func (s *Service) toolHistory(ctx context.Context, agentID string) (map[string]Counters, error) {
	invocations, err := persistence.Filter[models.ToolInvocation](ctx, s.store, persistence.KindToolInvocation, persistence.Query{
		Where: map[string]any{"agent_id": agentID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load tool invocations: %w", err)
	}

	perTool := make(map[string]Counters)

	for _, invocation := range invocations {
		totals := perTool[invocation.ToolName]
		totals.Total++
		totals.DurationSumMs += invocation.DurationMs

		if invocation.Success {
			totals.Successes++
		}

		perTool[invocation.ToolName] = totals
	}

	return perTool, nil
}

func (s *Service) rebuildTools(ctx context.Context, agentID string) error {
	perTool, err := s.toolHistory(ctx, agentID)
	if err != nil {
		return err
	}

	now := s.now().UTC()

	for tool, totals := range perTool {
		err = s.accumulator.Set(ctx, toolKey(agentID, tool), totals)
		if err != nil {
			return err
		}

		record := agentTool(agentID, tool, totals, now)

		err = s.store.Put(ctx, persistence.KindAgentTool, record.ID, record)
		if err != nil {
			return err
		}
	}

	return nil
}

func isTerminal(status models.AgentExecutionStatus) bool {
	return status == models.AgentStatusCompleted || status == models.AgentStatusFailed
}

// IsUnknown reports whether no statistics were recorded yet.
func IsUnknown(err error) bool {
	return errors.Is(err, ErrUnknownKey)
}
