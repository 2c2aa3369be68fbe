// Package main provides the formbot engine: the API server that owns editing
// sessions, display relays, and execution control.
package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/formbot/formbot/pkg/browser"
	"github.com/formbot/formbot/pkg/cmd"
	"github.com/formbot/formbot/pkg/display"
	"github.com/formbot/formbot/pkg/editing"
	"github.com/formbot/formbot/pkg/eventbus"
	"github.com/formbot/formbot/pkg/execution"
	"github.com/formbot/formbot/pkg/log"
	"github.com/formbot/formbot/pkg/otelhelper"
	"github.com/formbot/formbot/pkg/persistence"
	"github.com/formbot/formbot/pkg/registry"
	"github.com/formbot/formbot/pkg/web"
)

type Engine struct {
	logger        *slog.Logger
	store         persistence.Persistence
	eventBus      eventbus.EventBus
	displays      *display.Manager
	browsers      *browser.Manager
	editing       *editing.Manager
	executor      *execution.Executor
	handlers      *web.APIHandlers
	cron          *cron.Cron
	enableTracing bool
}

func NewEngine(ctx context.Context, command *cli.Command) (*Engine, error) {
	logger := log.WithModule(nil, "engine")

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, err
	}

	draftStore, err := cmd.NewDraftStore(ctx, command.String("draft-store-url"))
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

	reg := registry.NewRegistry(maxSessions)

	editingManager := editing.NewManager(
		logger, eventBus, store, draftStore, displays, browsers, reg, cipher)
	executor := execution.NewExecutor(
		logger, eventBus, store, displays, browsers, reg, cipher,
		command.String("screenshots-dir"))

	handlers := web.NewAPIHandlers(
		editingManager, executor, store,
		validator.New(validator.WithRequiredStructEnabled()), logger)

	return &Engine{
		logger:        logger,
		store:         store,
		eventBus:      eventBus,
		displays:      displays,
		browsers:      browsers,
		editing:       editingManager,
		executor:      executor,
		handlers:      handlers,
		cron:          cron.New(),
		enableTracing: command.Bool("enable-tracing"),
	}, nil
}

func (e *Engine) App(ctx context.Context) (*fiber.App, error) {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	if e.enableTracing {
		tracer, err := otelhelper.NewTracer(ctx, "formbot-engine")
		if err != nil {
			return nil, err
		}

		app.Use(func(c fiber.Ctx) error {
			_, span := otelhelper.StartSpan(c.Context(), tracer, c.Method()+" "+c.Path(),
				attribute.String("http.method", c.Method()),
				attribute.String("http.target", c.Path()),
			)
			defer span.End()

			if err := c.Next(); err != nil {
				otelhelper.SetError(span, err)

				return err
			}

			return nil
		})
	}

	e.handlers.RegisterRoutes(app)

	return app, nil
}

func (e *Engine) Run(ctx context.Context, port int) error {
	app, err := e.App(ctx)
	if err != nil {
		return err
	}

	// expired editing sessions release their display and browser but keep
	// the draft for pickup
	if _, err := e.cron.AddFunc("@every 1m", e.sweepExpiredSessions); err != nil {
		return err
	}

	e.cron.Start()

	errCh := make(chan error, 1)

	go func() {
		errCh <- app.Listen(":" + strconv.Itoa(port))
	}()

	e.logger.InfoContext(ctx, "Engine listening", "port", port)

	select {
	case err := <-errCh:
		e.shutdown(ctx, nil)

		return err
	case <-ctx.Done():
		e.shutdown(context.Background(), app)

		return nil
	}
}

func (e *Engine) sweepExpiredSessions() {
	ctx := context.Background()

	for _, expired := range e.displays.Sweep(time.Now()) {
		e.logger.Info("Display session expired",
			"session_id", expired.SessionID, "workflow_id", expired.WorkflowID)
		e.editing.Expire(ctx, expired.WorkflowID)
	}
}

func (e *Engine) shutdown(ctx context.Context, app *fiber.App) {
	e.logger.InfoContext(ctx, "Shutting down engine")

	e.cron.Stop()

	if app != nil {
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			e.logger.ErrorContext(ctx, "Failed to stop API server", "error", err)
		}
	}

	e.editing.Shutdown(ctx)
	e.displays.Shutdown()

	if err := e.browsers.Shutdown(); err != nil {
		e.logger.ErrorContext(ctx, "Failed to stop browser pool", "error", err)
	}

	if err := e.eventBus.Close(); err != nil {
		e.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	if err := e.store.Close(ctx); err != nil {
		e.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
	}
}
