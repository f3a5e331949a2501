package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowpilot/pkg/agent"
	"github.com/dukex/flowpilot/pkg/egress"
	"github.com/dukex/flowpilot/pkg/entities"
	"github.com/dukex/flowpilot/pkg/eventbus"
	"github.com/dukex/flowpilot/pkg/learning"
	"github.com/dukex/flowpilot/pkg/llm"
	"github.com/dukex/flowpilot/pkg/notify"
	"github.com/dukex/flowpilot/pkg/otelhelper"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/dukex/flowpilot/pkg/registry"
	"github.com/dukex/flowpilot/pkg/services"
	"github.com/dukex/flowpilot/pkg/stats"
	"github.com/dukex/flowpilot/pkg/steps/condition"
	"github.com/dukex/flowpilot/pkg/steps/delay"
	"github.com/dukex/flowpilot/pkg/steps/entity"
	"github.com/dukex/flowpilot/pkg/steps/integration"
	"github.com/dukex/flowpilot/pkg/steps/notification"
	"github.com/dukex/flowpilot/pkg/steps/subworkflow"
	"github.com/dukex/flowpilot/pkg/steps/transform"
	"github.com/dukex/flowpilot/pkg/steps/webhook"
	"github.com/dukex/flowpilot/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/trace"
)

// Config gathers the settings shared by every binary.
type Config struct {
	ServiceName         string
	DatabaseURL         string
	EventBus            string
	KafkaBrokers        string
	RedisURL            string
	LLM                 llm.Config
	NotifyWebhookURL    string
	SlackWebhookURL     string
	MaxSubWorkflowDepth int
	Tracing             bool
}

// Stack is the fully wired application shared by the API, worker and scheduler.
type Stack struct {
	Store            persistence.Store
	EventBus         eventbus.EventBus
	Registry         *registry.Registry
	Validator        *validator.Validate
	Workflows        *workflow.Repository
	WorkflowExecutor *workflow.Executor
	WorkflowService  *services.Workflow
	AgentService     *services.Agent
	Stats            *stats.Service
	Learning         *learning.Service
	Tracer           trace.Tracer

	closers []func(ctx context.Context) error
}

func NewStack(ctx context.Context, logger *slog.Logger, config Config) (*Stack, error) {
	stack := &Stack{Validator: validator.New(validator.WithRequiredStructEnabled())}

	err := stack.build(ctx, logger, config)
	if err != nil {
		closeErr := stack.Close(ctx)

		return nil, errors.Join(err, closeErr)
	}

	return stack, nil
}

func (s *Stack) build(ctx context.Context, logger *slog.Logger, config Config) error {
	store, err := NewPersistence(ctx, logger, config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open persistence: %w", err)
	}

	s.Store = store
	s.closers = append(s.closers, store.Close)

	bus, err := NewEventBus(logger, config.EventBus, config.KafkaBrokers, config.ServiceName)
	if err != nil {
		return err
	}

	s.EventBus = bus
	if bus != nil {
		s.closers = append(s.closers, func(context.Context) error { return bus.Close() })
	}

	if config.RedisURL == "" && config.EventBus == EventBusKafka {
		logger.WarnContext(ctx, "Statistics counters are per process without REDIS_URL; live metrics drift across workers until rebuilt")
	}

	accumulator, err := s.accumulator(ctx, config.RedisURL)
	if err != nil {
		return err
	}

	s.Tracer = otelhelper.NoopTracer()
	if config.Tracing {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, config.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		s.Tracer = tracer
		s.closers = append(s.closers, shutdown)
	}

	client := egress.NewClient(logger)
	generator := llm.NewClient(logger, client, config.LLM)
	entityStore := entities.NewStore(store)

	s.Stats = stats.NewService(logger, store, accumulator)
	s.Registry = NewRegistry(logger, client, entityStore, NewNotifier(logger, client, config))
	s.Workflows = workflow.NewRepository(store)

	workflowOpts := []workflow.Option{workflow.WithTracer(s.Tracer), workflow.WithPublisher(bus)}
	if config.MaxSubWorkflowDepth > 0 {
		workflowOpts = append(workflowOpts, workflow.WithMaxDepth(config.MaxSubWorkflowDepth))
	}

	s.WorkflowExecutor = workflow.NewExecutor(logger, s.Workflows, s.Registry, workflowOpts...)

	// The sub-workflow action calls back into the executor that owns the registry.
	s.Registry.Register(subworkflow.NewFactory(s.WorkflowExecutor))

	s.WorkflowService = services.NewWorkflow(logger, s.Workflows, s.WorkflowExecutor, bus, s.Validator)
	s.Learning = learning.NewService(logger, store, generator, s.Stats, learning.WithPublisher(bus))

	agentExecutor := agent.NewExecutor(
		logger,
		store,
		agent.NewPlanner(generator),
		agent.DefaultTools(generator, entityStore, client),
		s.Stats,
		agent.WithLessons(s.Learning),
		agent.WithPublisher(bus),
		agent.WithTracer(s.Tracer),
	)

	s.AgentService = services.NewAgent(logger, store, agentExecutor, s.Learning, s.Stats, bus, s.Validator)

	return nil
}

//nolint:ireturn // memory or redis
func (s *Stack) accumulator(ctx context.Context, redisURL string) (stats.Accumulator, error) {
	if redisURL == "" {
		return stats.NewMemoryAccumulator(), nil
	}

	client, err := stats.NewRedisClient(ctx, redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s.closers = append(s.closers, func(context.Context) error { return client.Close() })

	return stats.NewRedisAccumulator(client), nil
}

// Close releases resources in reverse order of acquisition.
func (s *Stack) Close(ctx context.Context) error {
	var errs []error

	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i](ctx))
	}

	s.closers = nil

	return errors.Join(errs...)
}

// NewRegistry registers every native step action except sub_workflow, which needs the
// executor built on top of this registry.
func NewRegistry(logger *slog.Logger, client *egress.Client, entityStore protocol.EntityStore, notifier protocol.Notifier) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.Register(notification.NewNotificationFactory(notifier))
	reg.Register(notification.NewEmailFactory(notifier))
	reg.Register(entity.NewCreateFactory(entityStore))
	reg.Register(entity.NewUpdateFactory(entityStore))
	reg.Register(entity.NewQueryFactory(entityStore))
	reg.Register(webhook.NewFactory(client))
	reg.Register(integration.NewFactory(client))
	reg.Register(transform.NewFactory())
	reg.Register(delay.NewFactory())
	reg.Register(condition.NewFactory())

	return reg
}

// NewNotifier routes slack notifications to the Slack webhook when one is configured and
// everything else to the generic webhook, or to the log without one.
//
//nolint:ireturn // router or log
func NewNotifier(logger *slog.Logger, client *egress.Client, config Config) protocol.Notifier {
	var fallback protocol.Notifier = notify.NewLog(logger)
	if config.NotifyWebhookURL != "" {
		fallback = notify.NewWebhook(config.NotifyWebhookURL, client)
	}

	router := notify.NewRouter(fallback)
	if config.SlackWebhookURL != "" {
		router.Route("slack", notify.NewSlack(config.SlackWebhookURL, client))
	}

	return router
}
