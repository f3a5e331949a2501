// Package learning records user feedback on agent executions and turns it into lessons
// that shape later plans of the same agent.
package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/flowpilot/pkg/eventbus"
	"github.com/dukex/flowpilot/pkg/events"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/google/uuid"
)

var (
	ErrInvalidRating        = errors.New("rating must be between 1 and 5")
	ErrExecutionNotFinished = errors.New("agent execution has not finished")
)

const (
	lessonInsights = 5
	maxLessons     = 10
)

// FeedbackRecorder folds a rating into the agent statistics.
type FeedbackRecorder interface {
	RecordFeedback(ctx context.Context, agentID string, previous *int, rating int) (models.PerformanceMetrics, error)
}

type Service struct {
	store     persistence.Store
	generator protocol.TextGenerator
	stats     FeedbackRecorder
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(logger *slog.Logger, store persistence.Store, generator protocol.TextGenerator, stats FeedbackRecorder, opts ...Option) *Service {
	service := &Service{
		store:     store,
		generator: generator,
		stats:     stats,
		logger:    logger.With("module", "learning"),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service
}

// Feedback is a user's verdict on one agent execution.
type Feedback struct {
	ExecutionID string
	SubmittedBy string
	Rating      int
	Helpful     bool
	Comment     string
	Corrections []models.Correction
}

// SubmitFeedback stores the feedback, attaches it to the execution and updates the agent
// statistics. Statistics and insight extraction are best effort: their failures are logged
// and never fail the submission.
func (s *Service) SubmitFeedback(ctx context.Context, feedback Feedback) (*models.AgentFeedback, error) {
	if feedback.Rating < 1 || feedback.Rating > 5 {
		return nil, ErrInvalidRating
	}

	execution, err := persistence.Get[models.AgentExecution](ctx, s.store, persistence.KindAgentExecution, feedback.ExecutionID)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.AgentStatusCompleted && execution.Status != models.AgentStatusFailed {
		return nil, ErrExecutionNotFinished
	}

	agent, err := persistence.Get[models.Agent](ctx, s.store, persistence.KindAgent, execution.AgentID)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With("agent_id", agent.ID, "execution_id", execution.ID)
	now := s.now().UTC()

	record := &models.AgentFeedback{
		ID:          uuid.New().String(),
		ExecutionID: execution.ID,
		AgentID:     agent.ID,
		OrgID:       execution.OrgID,
		SubmittedBy: feedback.SubmittedBy,
		Rating:      feedback.Rating,
		Helpful:     feedback.Helpful,
		Comment:     feedback.Comment,
		Corrections: feedback.Corrections,
		CreatedAt:   now,
	}

	err = s.store.Create(ctx, persistence.KindAgentFeedback, record.ID, record)
	if err != nil {
		return nil, fmt.Errorf("failed to store feedback: %w", err)
	}

	var previous *int
	if execution.UserFeedback != nil {
		rating := execution.UserFeedback.Rating
		previous = &rating
	}

	execution.UserFeedback = &models.UserFeedback{
		Rating:      feedback.Rating,
		Helpful:     feedback.Helpful,
		Comment:     feedback.Comment,
		Corrections: feedback.Corrections,
		SubmittedAt: now,
	}

	err = s.store.Update(ctx, persistence.KindAgentExecution, execution.ID, map[string]any{"user_feedback": execution.UserFeedback})
	if err != nil {
		return nil, fmt.Errorf("failed to attach feedback to execution: %w", err)
	}

	logger.InfoContext(ctx, "Feedback submitted", "feedback_id", record.ID, "rating", record.Rating)

	if s.stats != nil {
		_, err = s.stats.RecordFeedback(ctx, agent.ID, previous, feedback.Rating)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to update agent statistics", "error", err)
		}
	}

	if agent.LearningConfig.FeedbackLearningEnabled() {
		err = s.learn(ctx, agent, execution, record)
		if err != nil {
			logger.WarnContext(ctx, "Insight extraction failed", "feedback_id", record.ID, "error", err)
		}
	}

	s.publish(ctx, logger, events.AgentFeedbackSubmitted{
		BaseEvent:   events.NewAgentBaseEvent(events.AgentFeedbackSubmittedEvent, agent.ID),
		ExecutionID: execution.ID,
		FeedbackID:  record.ID,
		Rating:      record.Rating,
		Helpful:     record.Helpful,
	})

	return record, nil
}

type extractedInsight struct {
	KeyLearnings       []string `json:"key_learnings"`
	AvoidPatterns      []string `json:"avoid_patterns"`
	PreferPatterns     []string `json:"prefer_patterns"`
	ApplicableContexts []string `json:"applicable_contexts"`
}

// learn extracts insights from the feedback and marks the record as applied.
func (s *Service) learn(ctx context.Context, agent *models.Agent, execution *models.AgentExecution, feedback *models.AgentFeedback) error {
	if feedback.AppliedToLearning {
		return nil
	}

	output, err := s.generator.Generate(ctx, protocol.GenerateRequest{
		Prompt: insightPrompt(agent, execution, feedback),
		Schema: insightSchema(),
	})
	if err != nil {
		return err
	}

	raw, ok := output.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected insight payload %T", output)
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}

	var extracted extractedInsight

	err = json.Unmarshal(data, &extracted)
	if err != nil {
		return fmt.Errorf("unexpected insight shape: %w", err)
	}

	insight := &models.LearningInsight{
		ID:                 execution.ID + "-" + feedback.ID,
		AgentID:            agent.ID,
		ExecutionID:        execution.ID,
		FeedbackID:         feedback.ID,
		KeyLearnings:       extracted.KeyLearnings,
		AvoidPatterns:      extracted.AvoidPatterns,
		PreferPatterns:     extracted.PreferPatterns,
		ApplicableContexts: extracted.ApplicableContexts,
		Raw:                raw,
		CreatedAt:          s.now().UTC(),
	}

	err = s.store.Create(ctx, persistence.KindLearningInsight, insight.ID, insight)
	if err != nil {
		return fmt.Errorf("failed to store insight: %w", err)
	}

	err = s.store.Update(ctx, persistence.KindAgentFeedback, feedback.ID, map[string]any{"applied_to_learning": true})
	if err != nil {
		return fmt.Errorf("failed to mark feedback as applied: %w", err)
	}

	feedback.AppliedToLearning = true

	return nil
}

func insightPrompt(agent *models.Agent, execution *models.AgentExecution, feedback *models.AgentFeedback) string {
	var prompt strings.Builder

	sentiment := "not helpful"
	if feedback.Helpful {
		sentiment = "helpful"
	}

	fmt.Fprintf(&prompt, "Agent %q ran the task: %s\n", agent.Name, execution.Task)
	fmt.Fprintf(&prompt, "Execution status: %s\n", execution.Status)

	if execution.ErrorMessage != "" {
		fmt.Fprintf(&prompt, "Error: %s\n", execution.ErrorMessage)
	}

	fmt.Fprintf(&prompt, "The user rated it %d/5 and found it %s.\n", feedback.Rating, sentiment)

	if feedback.Comment != "" {
		fmt.Fprintf(&prompt, "Comment: %s\n", feedback.Comment)
	}

	if len(feedback.Corrections) > 0 {
		prompt.WriteString("Corrections:\n")

		for _, correction := range feedback.Corrections {
			fmt.Fprintf(&prompt, "- step %d: %q -> %q", correction.StepNumber, correction.OriginalAction, correction.CorrectedAction)

			if correction.Reason != "" {
				fmt.Fprintf(&prompt, " (%s)", correction.Reason)
			}

			prompt.WriteString("\n")
		}
	}

	prompt.WriteString("Summarize what the agent should learn for future tasks.")

	return prompt.String()
}

func insightSchema() map[string]any {
	list := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key_learnings":       list,
			"avoid_patterns":      list,
			"prefer_patterns":     list,
			"applicable_contexts": list,
		},
		"required": []any{"key_learnings", "avoid_patterns", "prefer_patterns", "applicable_contexts"},
	}
}

// Lessons returns guidance from the most recent insights of an agent, newest first.
func (s *Service) Lessons(ctx context.Context, agentID string) ([]string, error) {
	insights, err := persistence.Filter[models.LearningInsight](ctx, s.store, persistence.KindLearningInsight, persistence.Query{
		Where:      map[string]any{"agent_id": agentID},
		SortBy:     "created_at",
		Descending: true,
		Limit:      lessonInsights,
	})
	if err != nil {
		return nil, err
	}

	lessons := make([]string, 0, maxLessons)

	for _, insight := range insights {
		lessons = append(lessons, insight.KeyLearnings...)

		for _, pattern := range insight.PreferPatterns {
			lessons = append(lessons, "Prefer: "+pattern)
		}

		for _, pattern := range insight.AvoidPatterns {
			lessons = append(lessons, "Avoid: "+pattern)
		}
	}

	if len(lessons) > maxLessons {
		lessons = lessons[:maxLessons]
	}

	return lessons, nil
}

// Insights lists the audit trail of an agent's insight extractions.
func (s *Service) Insights(ctx context.Context, agentID string) ([]*models.LearningInsight, error) {
	return persistence.Filter[models.LearningInsight](ctx, s.store, persistence.KindLearningInsight, persistence.Query{
		Where:  map[string]any{"agent_id": agentID},
		SortBy: "created_at",
	})
}

func (s *Service) publish(ctx context.Context, logger *slog.Logger, event events.AgentFeedbackSubmitted) {
	if s.publisher == nil {
		return
	}

	err := s.publisher.Publish(ctx, event.AgentID, event)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
