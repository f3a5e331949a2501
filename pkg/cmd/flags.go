package cmd

import (
	"github.com/dukex/flowpilot/pkg/llm"
	cli "github.com/urfave/cli/v3"
)

const defaultMaxSubWorkflowDepth = 5

// StackFlags are the flags every binary accepts to build its Stack.
func StackFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (file:// or postgres://)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel). Empty runs triggered executions inline",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for statistics counters. Empty keeps counters in memory",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "llm-base-url",
			Usage:   "Base URL of the OpenAI compatible chat completions API",
			Value:   "https://api.openai.com/v1",
			Sources: cli.EnvVars("LLM_BASE_URL"),
		},
		&cli.StringFlag{
			Name:    "llm-api-key",
			Usage:   "API key for the language model provider",
			Sources: cli.EnvVars("LLM_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "llm-model",
			Usage:   "Model used for planning and plan steps",
			Value:   "gpt-4o-mini",
			Sources: cli.EnvVars("LLM_MODEL"),
		},
		&cli.StringFlag{
			Name:    "llm-search-model",
			Usage:   "Model used when a step asks for internet context",
			Sources: cli.EnvVars("LLM_SEARCH_MODEL"),
		},
		&cli.StringFlag{
			Name:    "notify-webhook-url",
			Usage:   "URL receiving notifications as JSON. Empty logs them",
			Sources: cli.EnvVars("NOTIFY_WEBHOOK_URL"),
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "Slack incoming webhook for notifications on the slack channel",
			Sources: cli.EnvVars("SLACK_WEBHOOK_URL"),
		},
		&cli.IntFlag{
			Name:    "max-subworkflow-depth",
			Usage:   "Maximum nesting of sub-workflow calls",
			Value:   defaultMaxSubWorkflowDepth,
			Sources: cli.EnvVars("MAX_SUBWORKFLOW_DEPTH"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

// ConfigFrom reads the StackFlags of command.
func ConfigFrom(command *cli.Command, serviceName string) Config {
	return Config{
		ServiceName:  serviceName,
		DatabaseURL:  command.String("database-url"),
		EventBus:     command.String("event-bus"),
		KafkaBrokers: command.String("kafka-brokers"),
		RedisURL:     command.String("redis-url"),
		LLM: llm.Config{
			BaseURL:     command.String("llm-base-url"),
			APIKey:      command.String("llm-api-key"),
			Model:       command.String("llm-model"),
			SearchModel: command.String("llm-search-model"),
		},
		NotifyWebhookURL:    command.String("notify-webhook-url"),
		SlackWebhookURL:     command.String("slack-webhook-url"),
		MaxSubWorkflowDepth: command.Int("max-subworkflow-depth"),
		Tracing:             command.Bool("tracing"),
	}
}
