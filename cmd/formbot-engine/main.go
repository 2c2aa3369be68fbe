package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/formbot/formbot/pkg/log"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "formbot-engine",
		Usage:                 "Serve the workflow, editing session, and execution API",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
				Name:    "draft-store-url",
				Usage:   "Redis URL for draft storage (in-memory when empty)",
				Sources: cli.EnvVars("DRAFT_STORE_URL"),
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
				Usage:   "Maximum concurrent editing/execution sessions",
				Value:   5,
				Sources: cli.EnvVars("MAX_SESSIONS"),
			},
			&cli.BoolFlag{
				Name:    "enable-tracing",
				Usage:   "Export OTLP traces for API requests",
				Sources: cli.EnvVars("ENABLE_TRACING"),
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

			engine, err := NewEngine(ctx, command)
			if err != nil {
				return err
			}

			return engine.Run(ctx, command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
