package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/formbot/formbot/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "formbot-worker",
		Usage:                 "Run queued workflow executions from the shared store",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "secrets-key",
				Usage:   "Base64-encoded 32-byte key for sealing sensitive presets",
				Sources: cli.EnvVars("SECRETS_KEY"),
			},
			&cli.StringFlag{
				Name:    "screenshots-dir",
				Usage:   "Directory for execution result screenshots",
				Value:   "./screenshots",
				Sources: cli.EnvVars("SCREENSHOTS_DIR"),
			},
			&cli.StringFlag{
				Name:    "relay-host",
				Usage:   "Host viewers use to reach the display relay",
				Value:   "localhost",
				Sources: cli.EnvVars("RELAY_HOST"),
			},
			&cli.IntFlag{
				Name:    "max-sessions",
				Usage:   "Maximum concurrent executions",
				Value:   5,
				Sources: cli.EnvVars("MAX_SESSIONS"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often to poll for queued executions",
				Value:   defaultPollInterval,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			worker, err := NewWorker(ctx, workerID, command)
			if err != nil {
				return err
			}

			return worker.Run(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
