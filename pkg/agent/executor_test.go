package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowpilot/pkg/entities"
	"github.com/dukex/flowpilot/pkg/events"
	"github.com/dukex/flowpilot/pkg/mocks"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/persistence/file"
	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/dukex/flowpilot/pkg/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// scriptedGenerator answers planning requests with a fixed plan and step requests in order.
type scriptedGenerator struct {
	mu      sync.Mutex
	plan    []map[string]any
	planErr error
	failAt  int
	prompts []string
}

func (g *scriptedGenerator) Generate(_ context.Context, request protocol.GenerateRequest) (any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if request.Schema != nil {
		if g.planErr != nil {
			return nil, g.planErr
		}

		steps := make([]any, 0, len(g.plan))
		for _, step := range g.plan {
			steps = append(steps, step)
		}

		return map[string]any{"steps": steps}, nil
	}

	g.prompts = append(g.prompts, request.Prompt)

	if len(g.prompts) == g.failAt {
		return nil, errors.New("model unavailable")
	}

	return fmt.Sprintf("answer %d", len(g.prompts)), nil
}

func planOf(n int) []map[string]any {
	plan := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		plan = append(plan, map[string]any{
			"step_number": i,
			"description": fmt.Sprintf("step %d", i),
			"action":      "think",
			"capability":  "none",
		})
	}

	return plan
}

type agentFixture struct {
	store     persistence.Store
	stats     *stats.Service
	generator *scriptedGenerator
	executor  *Executor
}

func newAgentFixture(t *testing.T, agent *models.Agent, generator *scriptedGenerator, opts ...Option) *agentFixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	require.NoError(t, store.Create(context.Background(), persistence.KindAgent, agent.ID, agent))

	statsService := stats.NewService(slog.Default(), store, stats.NewMemoryAccumulator())
	tools := DefaultTools(generator, entities.NewStore(store), nil)

	return &agentFixture{
		store:     store,
		stats:     statsService,
		generator: generator,
		executor:  NewExecutor(slog.Default(), store, NewPlanner(generator), tools, statsService, opts...),
	}
}

func (f *agentFixture) request(t *testing.T, task string) *models.AgentExecution {
	t.Helper()

	execution := &models.AgentExecution{
		ID:          "exec-" + strings.ReplaceAll(strings.ToLower(task), " ", "-"),
		AgentID:     "agent-1",
		OrgID:       "org-1",
		RequestedBy: "ana@example.com",
		Task:        task,
		Status:      models.AgentStatusPlanning,
		CreatedAt:   time.Now().UTC(),
	}

	require.NoError(t, f.store.Create(context.Background(), persistence.KindAgentExecution, execution.ID, execution))

	return execution
}

func (f *agentFixture) stored(t *testing.T, id string) *models.AgentExecution {
	t.Helper()

	execution, err := persistence.Get[models.AgentExecution](context.Background(), f.store, persistence.KindAgentExecution, id)
	require.NoError(t, err)

	return execution
}

func TestExecutor_AbortsOnFirstFailedStep(t *testing.T) {
	f := newAgentFixture(t, researcher(), &scriptedGenerator{plan: planOf(5), failAt: 3})
	request := f.request(t, "Write a report")

	execution, err := f.executor.Run(context.Background(), request.ID)
	require.NoError(t, err)

	assert.Equal(t, models.AgentStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, "step 3 failed")

	stored := f.stored(t, request.ID)
	require.Len(t, stored.Plan, 5)

	statuses := make([]models.PlanStepStatus, 0, 5)
	for _, step := range stored.Plan {
		statuses = append(statuses, step.Status)
	}

	assert.Equal(t, []models.PlanStepStatus{
		models.PlanStepCompleted,
		models.PlanStepCompleted,
		models.PlanStepFailed,
		models.PlanStepPending,
		models.PlanStepPending,
	}, statuses)
	assert.Equal(t, "model unavailable", stored.Plan[2].Error)
	assert.Equal(t, models.AgentStatusFailed, stored.Status)
	assert.Len(t, f.generator.prompts, 3)

	metrics, err := f.stats.AgentMetrics(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics.TotalExecutions)
	assert.Zero(t, metrics.SuccessRate)

	tools, err := f.stats.Tools(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, string(ToolLLM), tools[0].ToolName)
	assert.Equal(t, int64(3), tools[0].UsageCount)
}

func TestExecutor_CompletesAndAccumulatesResults(t *testing.T) {
	f := newAgentFixture(t, researcher(), &scriptedGenerator{plan: planOf(3)})
	request := f.request(t, "Summarize market")

	execution, err := f.executor.Run(context.Background(), request.ID)
	require.NoError(t, err)

	assert.Equal(t, models.AgentStatusCompleted, execution.Status)
	assert.Equal(t, map[string]any{"step_1": "answer 1", "step_2": "answer 2", "step_3": "answer 3"}, execution.Result)
	require.NotNil(t, execution.CompletedAt)

	require.Len(t, f.generator.prompts, 3)
	assert.Contains(t, f.generator.prompts[0], "Results so far: {}")
	assert.Contains(t, f.generator.prompts[2], `"step_1":"answer 1"`)
	assert.Contains(t, f.generator.prompts[2], `"step_2":"answer 2"`)

	stored := f.stored(t, request.ID)
	assert.Equal(t, models.AgentStatusCompleted, stored.Status)
	assert.Equal(t, "answer 2", stored.Result["step_2"])

	agent, err := persistence.Get[models.Agent](context.Background(), f.store, persistence.KindAgent, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), agent.PerformanceMetrics.TotalExecutions)
	assert.InDelta(t, 100.0, agent.PerformanceMetrics.SuccessRate, 0.0001)
}

func TestExecutor_PersistsRunningStepBeforeDispatch(t *testing.T) {
	f := newAgentFixture(t, researcher(), &scriptedGenerator{plan: planOf(2)})
	request := f.request(t, "Observe progress")

	var observed []models.PlanStepStatus

	f.executor.tools[ToolLLM] = ToolFunc(func(ctx context.Context, call ToolCall) (any, error) {
		stored := f.stored(t, call.Execution.ID)
		observed = append(observed, stored.Plan[call.Step.StepNumber-1].Status)

		return "ok", nil
	})

	_, err := f.executor.Run(context.Background(), request.ID)
	require.NoError(t, err)

	assert.Equal(t, []models.PlanStepStatus{models.PlanStepRunning, models.PlanStepRunning}, observed)
}

func TestExecutor_PlanningFailure(t *testing.T) {
	f := newAgentFixture(t, researcher(), &scriptedGenerator{planErr: errors.New("bad schema")})
	request := f.request(t, "Anything")

	execution, err := f.executor.Run(context.Background(), request.ID)
	require.NoError(t, err)

	assert.Equal(t, models.AgentStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, "bad schema")
	assert.Empty(t, f.stored(t, request.ID).Plan)
}

func TestExecutor_EmptyPlanCompletes(t *testing.T) {
	f := newAgentFixture(t, researcher(), &scriptedGenerator{plan: nil})
	request := f.request(t, "Nothing to do")

	execution, err := f.executor.Run(context.Background(), request.ID)
	require.NoError(t, err)

	assert.Equal(t, models.AgentStatusCompleted, execution.Status)
	assert.Empty(t, execution.Result)
}

func TestExecutor_EntityStepsCreateRecords(t *testing.T) {
	agent := researcher()
	agent.Capabilities = append(agent.Capabilities, models.CapabilityEntityCRUD)

	f := newAgentFixture(t, agent, &scriptedGenerator{plan: []map[string]any{
		{"step_number": 1, "description": "Store the lead", "action": "create lead", "capability": "entity_crud"},
	}})
	request := f.request(t, "Capture lead")

	execution, err := f.executor.Run(context.Background(), request.ID)
	require.NoError(t, err)
	require.Equal(t, models.AgentStatusCompleted, execution.Status)

	records, err := entities.NewStore(f.store).List(context.Background(), "org-1", AgentRecordEntity)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Store the lead", records[0].Data["description"])

	result, ok := execution.Result["step_1"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, records[0].ID, result["entity_id"])
}

func TestExecutor_FinishedExecutionIsNotRerun(t *testing.T) {
	f := newAgentFixture(t, researcher(), &scriptedGenerator{plan: planOf(1)})
	request := f.request(t, "Once")

	_, err := f.executor.Run(context.Background(), request.ID)
	require.NoError(t, err)

	execution, err := f.executor.Run(context.Background(), request.ID)
	require.NoError(t, err)

	assert.Equal(t, models.AgentStatusCompleted, execution.Status)
	assert.Len(t, f.generator.prompts, 1)
}

func TestExecutor_PublishesOutcome(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "agent-1", mock.MatchedBy(func(event events.AgentExecutionCompleted) bool {
		return event.AgentID == "agent-1" && event.StepCount == 2
	})).Return(nil).Once()

	f := newAgentFixture(t, researcher(), &scriptedGenerator{plan: planOf(2)}, WithPublisher(bus))
	request := f.request(t, "Publish")

	_, err := f.executor.Run(context.Background(), request.ID)
	require.NoError(t, err)

	bus.AssertExpectations(t)
}
