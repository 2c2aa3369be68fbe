// Package web provides the REST API for workflow management, interactive
// editing sessions, and execution control.
package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/formbot/formbot/pkg/editing"
	"github.com/formbot/formbot/pkg/execution"
	"github.com/formbot/formbot/pkg/models"
	"github.com/formbot/formbot/pkg/persistence"
)

type APIHandlers struct {
	editing   *editing.Manager
	executor  *execution.Executor
	store     persistence.Persistence
	validator *validator.Validate
	logger    *slog.Logger
}

func NewAPIHandlers(
	editingManager *editing.Manager,
	executor *execution.Executor,
	store persistence.Persistence,
	validate *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		editing:   editingManager,
		executor:  executor,
		store:     store,
		validator: validate,
		logger:    logger,
	}
}

// RegisterRoutes mounts every API route on the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	workflows := app.Group("/workflows")
	workflows.Get("/", h.GetWorkflows)
	workflows.Post("/", h.CreateWorkflow)
	workflows.Get("/:id", h.GetWorkflow)
	workflows.Patch("/:id", h.UpdateWorkflow)
	workflows.Delete("/:id", h.DeleteWorkflow)

	session := workflows.Group("/:id/editing")
	session.Post("/", h.StartEditing)
	session.Get("/", h.GetEditingSession)
	session.Delete("/", h.CancelEditing)
	session.Post("/mode", h.SetMode)
	session.Post("/focus", h.FocusField)
	session.Post("/test-selector", h.TestSelector)
	session.Post("/fill", h.FillField)
	session.Get("/field-value", h.ReadFieldValue)
	session.Post("/navigate", h.NavigateStep)
	session.Post("/save-draft", h.SaveDraft)
	session.Get("/relay", h.GetRelayURL)
	session.Post("/login", h.ExecuteLogin)
	session.Post("/login/resume", h.ResumeLogin)
	session.Post("/confirm", h.ConfirmAll)

	workflows.Post("/:id/executions", h.StartExecution)
	workflows.Get("/:id/executions", h.GetExecutions)

	executions := app.Group("/executions")
	executions.Get("/:id", h.GetExecution)
	executions.Post("/:id/resume", h.ResumeExecution)
	executions.Post("/:id/abort", h.AbortExecution)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK

	checkers := fiber.Map{"repository": "ok"}

	if err := h.store.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
		checkers["repository"] = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"checkers":  checkers,
		"sessions":  h.editing.ActiveCount(),
		"running":   h.executor.LiveCount(),
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.store.Workflows(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.store.WorkflowByID(c.Context(), id)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow := &models.Workflow{
		ID:              uuid.New().String(),
		Name:            req.Name,
		TargetURL:       req.TargetURL,
		RequiresLogin:   req.RequiresLogin,
		Status:          models.WorkflowStatusDraft,
		Steps:           []*models.Step{},
		MaxRetries:      req.MaxRetries,
		StealthEnabled:  req.StealthEnabled,
		CustomUserAgent: req.CustomUserAgent,
		ActionDelayMs:   req.ActionDelayMs,
		Owner:           req.Owner,
	}

	if err := h.store.SaveWorkflow(c.Context(), workflow); err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.store.WorkflowByID(c.Context(), id)
	if err != nil {
		return handleDomainError(c, err)
	}

	if req.Name != nil {
		workflow.Name = *req.Name
	}

	if req.TargetURL != nil {
		workflow.TargetURL = *req.TargetURL
	}

	if req.RequiresLogin != nil {
		workflow.RequiresLogin = *req.RequiresLogin
	}

	if req.StealthEnabled != nil {
		workflow.StealthEnabled = *req.StealthEnabled
	}

	if req.CustomUserAgent != nil {
		workflow.CustomUserAgent = *req.CustomUserAgent
	}

	if req.ActionDelayMs != nil {
		workflow.ActionDelayMs = *req.ActionDelayMs
	}

	if req.MaxRetries != nil {
		workflow.MaxRetries = *req.MaxRetries
	}

	if err := h.store.SaveWorkflow(c.Context(), workflow); err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if err := h.store.DeleteWorkflow(c.Context(), id); err != nil {
		return handleDomainError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
