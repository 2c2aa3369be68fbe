package web

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/formbot/formbot/pkg/models"
)

func (h *APIHandlers) StartEditing(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	sess, err := h.editing.Start(c.Context(), id)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TransformSessionResponse(sess, true))
}

func (h *APIHandlers) GetEditingSession(c fiber.Ctx) error {
	sess, ok := h.editing.Get(c.Params("id"))
	if !ok {
		return notFound(c, "no editing session for workflow")
	}

	return c.JSON(TransformSessionResponse(sess, true))
}

func (h *APIHandlers) CancelEditing(c fiber.Ctx) error {
	if err := h.editing.Cancel(c.Context(), c.Params("id")); err != nil {
		return handleDomainError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) SetMode(c fiber.Ctx) error {
	var req SetModeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.editing.SetMode(c.Params("id"), models.EditingMode(req.Mode)); err != nil {
		return handleDomainError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) FocusField(c fiber.Ctx) error {
	var req FocusFieldRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.editing.FocusField(c.Params("id"), req.FieldIndex); err != nil {
		return handleDomainError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) TestSelector(c fiber.Ctx) error {
	var req TestSelectorRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.editing.TestSelector(c.Params("id"), req.Selector)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(SelectorTestResponse{Found: result.Found, MatchCount: result.MatchCount})
}

func (h *APIHandlers) FillField(c fiber.Ctx) error {
	var req FillFieldRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.editing.FillField(c.Params("id"), req.FieldIndex, req.Value); err != nil {
		return handleDomainError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ReadFieldValue(c fiber.Ctx) error {
	index, err := strconv.Atoi(c.Query("index", "-1"))
	if err != nil || index < 0 {
		return badRequest(c, "index query parameter is required")
	}

	value, err := h.editing.ReadFieldValue(c.Params("id"), index)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(FieldValueResponse{FieldIndex: index, Value: value})
}

func (h *APIHandlers) NavigateStep(c fiber.Ctx) error {
	var req NavigateStepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.editing.NavigateStep(c.Context(), c.Params("id"), *req.StepOrder); err != nil {
		return handleDomainError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) SaveDraft(c fiber.Ctx) error {
	if err := h.editing.SaveDraft(c.Context(), c.Params("id")); err != nil {
		return handleDomainError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetRelayURL(c fiber.Ctx) error {
	relayURL, err := h.editing.RelayURL(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(RelayResponse{RelayURL: relayURL})
}

// ExecuteLogin kicks off the automated login flow. The flow runs in the
// background; progress lands on the event bus keyed by workflow.
func (h *APIHandlers) ExecuteLogin(c fiber.Ctx) error {
	workflowID := c.Params("id")

	sess, ok := h.editing.Get(workflowID)
	if !ok {
		return notFound(c, "no editing session for workflow")
	}

	if sess.Phase != models.PhaseLogin {
		return conflict(c, "session is not in the login phase")
	}

	go func() {
		if err := h.editing.ExecuteLogin(context.Background(), workflowID); err != nil {
			h.logger.Error("Login execution failed", "workflow_id", workflowID, "error", err)
		}
	}()

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) ResumeLogin(c fiber.Ctx) error {
	if err := h.editing.ResumeLogin(c.Params("id")); err != nil {
		return handleDomainError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ConfirmAll(c fiber.Ctx) error {
	id := c.Params("id")

	if err := h.editing.ConfirmAll(c.Context(), id); err != nil {
		return handleDomainError(c, err)
	}

	workflow, err := h.store.WorkflowByID(c.Context(), id)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(workflow)
}
