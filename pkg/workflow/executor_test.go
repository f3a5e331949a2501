package workflow

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowpilot/pkg/egress"
	"github.com/dukex/flowpilot/pkg/events"
	"github.com/dukex/flowpilot/pkg/mocks"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/persistence/file"
	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/dukex/flowpilot/pkg/registry"
	"github.com/dukex/flowpilot/pkg/steps"
	"github.com/dukex/flowpilot/pkg/steps/notification"
	"github.com/dukex/flowpilot/pkg/steps/subworkflow"
	"github.com/dukex/flowpilot/pkg/steps/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const scriptedAction models.StepAction = "scripted"

var errScripted = errors.New("scripted failure")

// scriptedHandler fails its first `failures` calls and then returns its name.
type scriptedHandler struct {
	mu       sync.Mutex
	name     string
	failures int
	calls    int
	seen     []protocol.StepContext
}

func (h *scriptedHandler) Execute(_ context.Context, stepCtx protocol.StepContext) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.calls++
	h.seen = append(h.seen, stepCtx)

	if h.failures < 0 || h.calls <= h.failures {
		return nil, errScripted
	}

	return map[string]any{"handled_by": h.name}, nil
}

func (h *scriptedHandler) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.calls
}

// scriptedFactory picks the handler named by config.handler.
type scriptedFactory struct {
	handlers map[string]*scriptedHandler
}

func (f *scriptedFactory) Create(config map[string]any) (protocol.StepHandler, error) {
	name, _ := config["handler"].(string)

	handler, ok := f.handlers[name]
	if !ok {
		return nil, steps.MissingField(string(scriptedAction), "handler")
	}

	return handler, nil
}

func (f *scriptedFactory) ID() string             { return string(scriptedAction) }
func (f *scriptedFactory) Name() string           { return "Scripted" }
func (f *scriptedFactory) Description() string    { return "test handler" }
func (f *scriptedFactory) Schema() map[string]any { return nil }

type fixture struct {
	repository *Repository
	registry   *registry.Registry
	executor   *Executor
	factory    *scriptedFactory
	sleeps     []time.Duration
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		repository: NewRepository(file.NewPersistence(t.TempDir())),
		registry:   registry.NewRegistry(slog.Default()),
		factory:    &scriptedFactory{handlers: make(map[string]*scriptedHandler)},
	}

	f.registry.Register(f.factory)

	sleeper := func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)

		return nil
	}

	opts = append([]Option{WithSleeper(sleeper)}, opts...)
	f.executor = NewExecutor(slog.Default(), f.repository, f.registry, opts...)
	f.registry.Register(subworkflow.NewFactory(f.executor))

	return f
}

// handler registers a scripted handler; failures < 0 means it always fails.
func (f *fixture) handler(name string, failures int) *scriptedHandler {
	h := &scriptedHandler{name: name, failures: failures}
	f.factory.handlers[name] = h

	return h
}

func scripted(id string, errorConfig *models.StepErrorConfig) models.Step {
	return models.Step{
		ID:          id,
		Action:      scriptedAction,
		Config:      map[string]any{"handler": id},
		ErrorConfig: errorConfig,
	}
}

func (f *fixture) workflow(t *testing.T, id string, steps ...models.Step) *models.Workflow {
	t.Helper()

	workflow, err := f.repository.Create(context.Background(), &models.Workflow{
		ID:          id,
		OrgID:       "org-1",
		Name:        "workflow " + id,
		TriggerType: models.TriggerTypeManual,
		Steps:       steps,
		IsActive:    true,
	})
	require.NoError(t, err)

	return workflow
}

func stepIDs(results []models.StepResult) []string {
	ids := make([]string, 0, len(results))
	for _, result := range results {
		ids = append(ids, result.StepID)
	}

	return ids
}

func manualTrigger(payload map[string]any) models.TriggerData {
	return models.TriggerData{Source: "manual", Payload: payload, Timestamp: time.Now().UTC()}
}

func TestExecutor_RunsStepsInOrder(t *testing.T) {
	f := newFixture(t)

	for _, id := range []string{"s0", "s1", "s2"} {
		f.handler(id, 0)
	}

	f.workflow(t, "wf", scripted("s0", nil), scripted("s1", nil), scripted("s2", nil))

	execution, err := f.executor.Execute(context.Background(), ExecuteRequest{WorkflowID: "wf", TriggerData: manualTrigger(nil)})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, []string{"s0", "s1", "s2"}, stepIDs(execution.StepResults))
	assert.Equal(t, map[string]any{"handled_by": "s1"}, execution.StepResults[1].Result)
	require.NotNil(t, execution.CompletedAt)

	stored, err := f.repository.FetchExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.Equal(t, []string{"s0", "s1", "s2"}, stepIDs(stored.StepResults))
	assert.Equal(t, 3, stored.CurrentStep)

	workflow, err := f.repository.FetchByID(context.Background(), "wf")
	require.NoError(t, err)
	assert.Equal(t, 1, workflow.ExecutionCount)
	assert.NotNil(t, workflow.LastExecuted)
}

func TestExecutor_LaterStepsSeeEarlierResults(t *testing.T) {
	f := newFixture(t)
	f.handler("first", 0)
	second := f.handler("second", 0)

	f.workflow(t, "wf", scripted("first", nil), scripted("second", nil))

	_, err := f.executor.Execute(context.Background(), ExecuteRequest{
		WorkflowID:  "wf",
		TriggerData: manualTrigger(map[string]any{"order": "A-1"}),
	})
	require.NoError(t, err)

	require.Len(t, second.seen, 1)
	data := second.seen[0].Data
	assert.Equal(t, map[string]any{"order": "A-1"}, data["trigger"])
	assert.Equal(t, map[string]any{"first": map[string]any{"handled_by": "first"}}, data["steps"])
	assert.Equal(t, "wf", data["workflow"].(map[string]any)["id"])
}

func TestExecutor_HaltsOnFailure(t *testing.T) {
	f := newFixture(t)
	f.handler("s0", 0)
	f.handler("s1", -1)
	after := []*scriptedHandler{f.handler("s2", 0), f.handler("s3", 0)}

	f.workflow(t, "wf", scripted("s0", nil), scripted("s1", nil), scripted("s2", nil), scripted("s3", nil))

	execution, err := f.executor.Execute(context.Background(), ExecuteRequest{WorkflowID: "wf", TriggerData: manualTrigger(nil)})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	require.Len(t, execution.StepResults, 2)
	assert.Equal(t, models.StepStatusFailed, execution.StepResults[1].Status)
	assert.Equal(t, errScripted.Error(), execution.StepResults[1].Error)
	assert.Contains(t, execution.ErrorMessage, "step s1 failed")
	assert.Equal(t, 1, execution.CurrentStep)

	for _, h := range after {
		assert.Zero(t, h.Calls())
	}

	workflow, err := f.repository.FetchByID(context.Background(), "wf")
	require.NoError(t, err)
	assert.Zero(t, workflow.ExecutionCount)
}

func TestExecutor_ContinueOnError(t *testing.T) {
	f := newFixture(t)
	f.handler("s0", 0)
	f.handler("s1", -1)
	f.handler("s2", 0)

	f.workflow(t, "wf",
		scripted("s0", nil),
		scripted("s1", &models.StepErrorConfig{ContinueOnError: true}),
		scripted("s2", nil),
	)

	execution, err := f.executor.Execute(context.Background(), ExecuteRequest{WorkflowID: "wf", TriggerData: manualTrigger(nil)})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, []string{"s0", "s1", "s2"}, stepIDs(execution.StepResults))
	assert.Equal(t, models.StepStatusFailed, execution.StepResults[1].Status)
	assert.Equal(t, models.StepStatusSuccess, execution.StepResults[2].Status)
}

func TestExecutor_RetryExhaustion(t *testing.T) {
	f := newFixture(t)
	always := f.handler("flaky", -1)

	f.workflow(t, "wf", scripted("flaky", &models.StepErrorConfig{
		RetryEnabled:      true,
		RetryCount:        3,
		RetryDelaySeconds: 2,
	}))

	execution, err := f.executor.Execute(context.Background(), ExecuteRequest{WorkflowID: "wf", TriggerData: manualTrigger(nil)})
	require.NoError(t, err)

	assert.Equal(t, 4, always.Calls())
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, f.sleeps)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	require.Len(t, execution.StepResults, 1)
	assert.Equal(t, models.StepStatusFailed, execution.StepResults[0].Status)
	assert.Equal(t, 3, execution.StepResults[0].RetryCount)
}

func TestExecutor_RetrySuccessOverwritesLastResult(t *testing.T) {
	f := newFixture(t)
	flaky := f.handler("flaky", 2)
	f.handler("next", 0)

	f.workflow(t, "wf",
		scripted("flaky", &models.StepErrorConfig{RetryEnabled: true, RetryCount: 3}),
		scripted("next", nil),
	)

	execution, err := f.executor.Execute(context.Background(), ExecuteRequest{WorkflowID: "wf", TriggerData: manualTrigger(nil)})
	require.NoError(t, err)

	assert.Equal(t, 3, flaky.Calls())
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	require.Len(t, execution.StepResults, 2)
	assert.Equal(t, models.StepStatusSuccess, execution.StepResults[0].Status)
	assert.Equal(t, 2, execution.StepResults[0].RetryCount)
	assert.Empty(t, execution.StepResults[0].Error)
}

func TestExecutor_RetryDisabledRunsOnce(t *testing.T) {
	f := newFixture(t)
	always := f.handler("s0", -1)

	f.workflow(t, "wf", scripted("s0", &models.StepErrorConfig{RetryEnabled: false, RetryCount: 3}))

	_, err := f.executor.Execute(context.Background(), ExecuteRequest{WorkflowID: "wf", TriggerData: manualTrigger(nil)})
	require.NoError(t, err)

	assert.Equal(t, 1, always.Calls())
	assert.Empty(t, f.sleeps)
}

func TestExecutor_ConfigErrorsAreNotRetried(t *testing.T) {
	f := newFixture(t)

	f.workflow(t, "wf", models.Step{
		ID:          "broken",
		Action:      scriptedAction,
		Config:      map[string]any{"handler": "does-not-exist"},
		ErrorConfig: &models.StepErrorConfig{RetryEnabled: true, RetryCount: 3},
	})

	execution, err := f.executor.Execute(context.Background(), ExecuteRequest{WorkflowID: "wf", TriggerData: manualTrigger(nil)})
	require.NoError(t, err)

	assert.Empty(t, f.sleeps)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.StepResults[0].Error, steps.ErrConfiguration.Error())
}

func TestExecutor_UnconfiguredStepIsNoop(t *testing.T) {
	f := newFixture(t)

	f.workflow(t, "wf",
		models.Step{ID: "bare", Action: models.ActionSendEmail},
		models.Step{ID: "unknown", Action: "launch_rocket", Config: map[string]any{"target": "moon"}},
	)

	execution, err := f.executor.Execute(context.Background(), ExecuteRequest{WorkflowID: "wf", TriggerData: manualTrigger(nil)})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, map[string]any{"executed": true}, execution.StepResults[0].Result)
	assert.Equal(t, map[string]any{"executed": true}, execution.StepResults[1].Result)
}

func TestExecutor_ResumeFromStep(t *testing.T) {
	f := newFixture(t)

	ids := []string{"s0", "s1", "s2", "s3", "s4"}
	handlers := make([]*scriptedHandler, 0, len(ids))
	definition := make([]models.Step, 0, len(ids))

	for _, id := range ids {
		handlers = append(handlers, f.handler(id, 0))
		definition = append(definition, scripted(id, nil))
	}

	f.workflow(t, "wf", definition...)

	execution, err := f.executor.Execute(context.Background(), ExecuteRequest{
		WorkflowID:     "wf",
		TriggerData:    manualTrigger(nil),
		ResumeFromStep: "s2",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"s2", "s3", "s4"}, stepIDs(execution.StepResults))
	assert.Zero(t, handlers[0].Calls())
	assert.Zero(t, handlers[1].Calls())
}

func TestExecutor_ResumeFromUnknownStep(t *testing.T) {
	f := newFixture(t)
	f.workflow(t, "wf", scripted("s0", nil))

	_, err := f.executor.Execute(context.Background(), ExecuteRequest{WorkflowID: "wf", ResumeFromStep: "nope"})
	require.ErrorIs(t, err, ErrStepNotFound)

	executions, err := f.repository.Executions(context.Background(), "wf", 0)
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestExecutor_WebhookNon2xxIsNotAFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := &mocks.MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n protocol.Notification) bool {
		return n.Recipient == "ops@example.com" && n.Channel == "email"
	})).Return(nil).Once()

	f := newFixture(t)
	f.registry.Register(webhook.NewFactory(egress.NewClient(slog.Default())))
	f.registry.Register(notification.NewEmailFactory(notifier))

	f.workflow(t, "wf",
		models.Step{ID: "hook", Action: models.ActionWebhook, Config: map[string]any{"url": server.URL}},
		models.Step{ID: "mail", Action: models.ActionSendEmail, Config: map[string]any{
			"to":      "ops@example.com",
			"subject": "Order received",
			"body":    "hello",
		}},
	)

	execution, err := f.executor.Execute(context.Background(), ExecuteRequest{
		WorkflowID:  "wf",
		TriggerData: manualTrigger(map[string]any{"order": "A-1"}),
	})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	require.Len(t, execution.StepResults, 2)
	assert.Equal(t, models.StepStatusSuccess, execution.StepResults[0].Status)
	assert.Equal(t, map[string]any{"status": 500, "ok": false}, execution.StepResults[0].Result)
	assert.Equal(t, map[string]any{"sent": true}, execution.StepResults[1].Result)
	notifier.AssertExpectations(t)
}

func TestExecutor_SubWorkflowMapsParentData(t *testing.T) {
	f := newFixture(t)
	childStep := f.handler("child-step", 0)

	f.workflow(t, "child", scripted("child-step", nil))
	f.workflow(t, "parent", models.Step{
		ID:     "call-child",
		Action: models.ActionSubWorkflow,
		Config: map[string]any{
			"sub_workflow_id": "child",
			"data_mapping":    `{"x": "{{trigger.value}}", "y": "{{missing.path}}"}`,
		},
	})

	parent, err := f.executor.Execute(context.Background(), ExecuteRequest{
		WorkflowID:  "parent",
		TriggerData: manualTrigger(map[string]any{"value": 42}),
	})
	require.NoError(t, err)

	require.Equal(t, models.ExecutionStatusCompleted, parent.Status)
	require.Len(t, childStep.seen, 1)
	assert.Equal(t, map[string]any{"x": 42, "y": "{{missing.path}}"}, childStep.seen[0].Trigger.Payload)
	assert.Equal(t, subworkflow.TriggerSource, childStep.seen[0].Trigger.Source)

	result, ok := parent.StepResults[0].Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "child", result["sub_workflow_id"])
	assert.Equal(t, string(models.ExecutionStatusCompleted), result["status"])

	child, err := f.repository.FetchExecution(context.Background(), result["sub_execution_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, parent.ID, child.ParentExecutionID)
	assert.Equal(t, "child", child.WorkflowID)
}

func callStep(target string) models.Step {
	return models.Step{
		ID:     "call-" + target,
		Action: models.ActionSubWorkflow,
		Config: map[string]any{"sub_workflow_id": target, "fail_on_child_failure": true},
	}
}

func TestExecutor_SubWorkflowCycleIsRejected(t *testing.T) {
	f := newFixture(t)
	f.workflow(t, "a", callStep("b"))
	f.workflow(t, "b", callStep("a"))

	execution, err := f.executor.Execute(context.Background(), ExecuteRequest{WorkflowID: "a", TriggerData: manualTrigger(nil)})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, ErrCycleDetected.Error())
}

func TestExecutor_SubWorkflowDepthIsBounded(t *testing.T) {
	f := newFixture(t, WithMaxDepth(2))
	f.handler("leaf", 0)

	f.workflow(t, "w0", callStep("w1"))
	f.workflow(t, "w1", callStep("w2"))
	f.workflow(t, "w2", callStep("w3"))
	f.workflow(t, "w3", scripted("leaf", nil))

	execution, err := f.executor.Execute(context.Background(), ExecuteRequest{WorkflowID: "w0", TriggerData: manualTrigger(nil)})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, ErrMaxDepthExceeded.Error())
	assert.Zero(t, f.factory.handlers["leaf"].Calls())
}

func TestExecutor_SubWorkflowFromAnotherOrg(t *testing.T) {
	f := newFixture(t)
	f.workflow(t, "wf", scripted("s0", nil))

	_, err := f.executor.RunSubWorkflow(context.Background(), protocol.SubWorkflowRequest{WorkflowID: "wf", OrgID: "org-2"})
	require.ErrorIs(t, err, ErrWrongOrg)
}

func TestExecutor_PublishesLifecycleEvents(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "ok", mock.MatchedBy(func(event events.WorkflowExecutionCompleted) bool {
		return event.StepCount == 1 && event.WorkflowID == "ok"
	})).Return(nil).Once()
	bus.On("Publish", mock.Anything, "broken", mock.MatchedBy(func(event events.WorkflowExecutionFailed) bool {
		return event.FailedStepID == "s1" && event.Error != ""
	})).Return(nil).Once()

	f := newFixture(t, WithPublisher(bus))
	f.handler("s0", 0)
	f.handler("s1", -1)

	f.workflow(t, "ok", scripted("s0", nil))
	f.workflow(t, "broken", scripted("s1", nil))

	_, err := f.executor.Execute(context.Background(), ExecuteRequest{WorkflowID: "ok", TriggerData: manualTrigger(nil)})
	require.NoError(t, err)

	_, err = f.executor.Execute(context.Background(), ExecuteRequest{WorkflowID: "broken", TriggerData: manualTrigger(nil)})
	require.NoError(t, err)

	bus.AssertExpectations(t)
}

func TestExecutor_CancelledRetryWaitStopsRetrying(t *testing.T) {
	f := newFixture(t, WithSleeper(func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}))
	always := f.handler("s0", -1)

	f.workflow(t, "wf", scripted("s0", &models.StepErrorConfig{RetryEnabled: true, RetryCount: 5}))

	execution, err := f.executor.Execute(context.Background(), ExecuteRequest{WorkflowID: "wf", TriggerData: manualTrigger(nil)})
	require.NoError(t, err)

	assert.Equal(t, 1, always.Calls())
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}

var errDiskFull = errors.New("disk full")

// flakyStore fails the failOn-th execution update and lets every other write through.
type flakyStore struct {
	persistence.Store

	mu      sync.Mutex
	updates int
	failOn  int
}

func (s *flakyStore) Update(ctx context.Context, kind persistence.Kind, id string, fields map[string]any) error {
	if kind == persistence.KindWorkflowExecution {
		s.mu.Lock()
		s.updates++
		fail := s.updates == s.failOn
		s.mu.Unlock()

		if fail {
			return errDiskFull
		}
	}

	return s.Store.Update(ctx, kind, id, fields)
}

func TestExecutor_FailedProgressSaveMarksExecutionFailed(t *testing.T) {
	tests := []struct {
		name   string
		failOn int
		calls  int
	}{
		{"before the first step", 1, 0},
		{"after a step result", 2, 1},
		{"final write", 5, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			first := f.handler("s0", 0)
			f.handler("s1", 0)
			f.workflow(t, "wf", scripted("s0", nil), scripted("s1", nil))

			f.repository.store = &flakyStore{Store: f.repository.store, failOn: tt.failOn}

			execution, err := f.executor.Execute(context.Background(), ExecuteRequest{WorkflowID: "wf", TriggerData: manualTrigger(nil)})
			require.ErrorIs(t, err, errDiskFull)
			require.NotNil(t, execution)
			assert.Equal(t, min(tt.calls, 1), first.Calls())

			stored, err := f.repository.FetchExecution(context.Background(), execution.ID)
			require.NoError(t, err)
			assert.NotEqual(t, models.ExecutionStatusRunning, stored.Status)
			assert.Equal(t, execution.Status, stored.Status)
			assert.NotNil(t, stored.CompletedAt)

			if tt.failOn < 5 {
				assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
				assert.Contains(t, stored.ErrorMessage, "execution aborted")
			}
		})
	}
}

func TestRepository_ConcurrentRunsAreAllCounted(t *testing.T) {
	repository := NewRepository(file.NewPersistence(t.TempDir()))
	ctx := context.Background()

	_, err := repository.Create(ctx, &models.Workflow{ID: "wf", OrgID: "org-1", Name: "counted", TriggerType: models.TriggerTypeManual})
	require.NoError(t, err)

	const runs = 25

	var wg sync.WaitGroup

	for range runs {
		wg.Add(1)

		go func() {
			defer wg.Done()

			assert.NoError(t, repository.RecordRun(ctx, "wf", time.Now().UTC()))
		}()
	}

	wg.Wait()

	workflow, err := repository.FetchByID(ctx, "wf")
	require.NoError(t, err)
	assert.Equal(t, runs, workflow.ExecutionCount)
	assert.NotNil(t, workflow.LastExecuted)
	assert.Equal(t, "counted", workflow.Name)
}
