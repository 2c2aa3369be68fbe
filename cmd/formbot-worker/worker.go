// Package main provides the formbot worker: a headless runner that picks up
// queued executions and drives them to completion.
package main

import (
	"context"
	"log/slog"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/formbot/formbot/pkg/browser"
	"github.com/formbot/formbot/pkg/cmd"
	"github.com/formbot/formbot/pkg/display"
	"github.com/formbot/formbot/pkg/eventbus"
	"github.com/formbot/formbot/pkg/execution"
	"github.com/formbot/formbot/pkg/log"
	"github.com/formbot/formbot/pkg/models"
	"github.com/formbot/formbot/pkg/persistence"
	"github.com/formbot/formbot/pkg/registry"
)

const defaultPollInterval = 10 * time.Second

type Worker struct {
	id           string
	logger       *slog.Logger
	store        persistence.Persistence
	eventBus     eventbus.EventBus
	displays     *display.Manager
	browsers     *browser.Manager
	executor     *execution.Executor
	pollInterval time.Duration
}

func NewWorker(ctx context.Context, workerID string, command *cli.Command) (*Worker, error) {
	logger := log.WithModule(nil, "worker").With("worker_id", workerID)

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, err
	}

	cipher, err := cmd.NewCipher(command.String("secrets-key"))
	if err != nil {
		return nil, err
	}

	eventBus := cmd.NewEventBus(command.String("event-bus"), logger)

	maxSessions := command.Int("max-sessions")

	displays := display.NewManager(display.Config{
		MaxSessions: maxSessions,
		RelayHost:   command.String("relay-host"),
	}, nil, logger)

	browsers := browser.NewManager(maxSessions, logger)
	if err := browsers.Initialize(); err != nil {
		return nil, err
	}

	executor := execution.NewExecutor(
		logger, eventBus, store, displays, browsers,
		registry.NewRegistry(maxSessions), cipher,
		command.String("screenshots-dir"))

	return &Worker{
		id:           workerID,
		logger:       logger,
		store:        store,
		eventBus:     eventBus,
		displays:     displays,
		browsers:     browsers,
		executor:     executor,
		pollInterval: command.Duration("poll-interval"),
	}, nil
}

// Run polls for runnable executions until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Worker started", "poll_interval", w.pollInterval)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.runPending(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			w.shutdown()

			return nil
		}
	}
}

// runPending claims queued executions and, after a restart, orphaned
// waiting_manual ones whose display died with their previous process. Those
// restart from their pending step and pause again if the challenge is still
// up.
func (w *Worker) runPending(ctx context.Context) {
	pending, err := w.store.PendingExecutions(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to list pending executions", "error", err)

		return
	}

	for _, record := range pending {
		if ctx.Err() != nil {
			return
		}

		if !w.claimable(record) {
			continue
		}

		w.logger.InfoContext(ctx, "Claiming execution",
			"execution_id", record.ID, "workflow_id", record.WorkflowID, "status", record.Status)

		if err := w.executor.Run(ctx, record); err != nil {
			w.logger.ErrorContext(ctx, "Execution failed",
				"execution_id", record.ID, "error", err)
		}
	}
}

func (w *Worker) claimable(record *models.ExecutionRecord) bool {
	switch record.Status {
	case models.ExecutionStatusQueued:
		return true
	case models.ExecutionStatusWaitingManual:
		// live in this process means a human is expected; leave it alone
		_, err := w.displays.Get(record.DisplaySessionID)

		return err != nil
	default:
		return false
	}
}

func (w *Worker) shutdown() {
	ctx := context.Background()

	w.logger.Info("Shutting down worker")

	w.displays.Shutdown()

	if err := w.browsers.Shutdown(); err != nil {
		w.logger.Error("Failed to stop browser pool", "error", err)
	}

	if err := w.eventBus.Close(); err != nil {
		w.logger.Error("Failed to close event bus", "error", err)
	}

	if err := w.store.Close(ctx); err != nil {
		w.logger.Error("Failed to close persistence", "error", err)
	}
}
