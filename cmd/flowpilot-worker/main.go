// Package main provides the Flowpilot worker, which runs queued workflow and agent executions.
package main

import (
	"context"
	"os"

	"github.com/dukex/flowpilot/pkg/cmd"
	"github.com/dukex/flowpilot/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	logger := log.WithModule("flowpilot-worker")

	command := &cli.Command{
		Name:                  "flowpilot-worker",
		EnableShellCompletion: true,
		Usage:                 "Run queued workflow and agent executions",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
		}, cmd.StackFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			return run(ctx, logger, command)
		},
		Commands: []*cli.Command{
			NewRebuildStatsCommand(logger),
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		logger.Error("Flowpilot worker stopped", "error", err)
		os.Exit(1)
	}
}
