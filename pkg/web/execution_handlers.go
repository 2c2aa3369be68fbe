package web

import (
	"context"

	"github.com/gofiber/fiber/v3"
)

// StartExecution queues a run and starts it in the background. The record is
// returned immediately; progress lands on the event bus keyed by execution.
func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req StartExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	record, err := h.executor.Enqueue(c.Context(), workflowID, req.DryRun)
	if err != nil {
		return handleDomainError(c, err)
	}

	go func() {
		if err := h.executor.Run(context.Background(), record); err != nil {
			h.logger.Error("Execution failed",
				"execution_id", record.ID, "workflow_id", workflowID, "error", err)
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(TransformExecutionResponse(record))
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	records, err := h.store.Executions(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	responses := make([]ExecutionResponse, len(records))
	for i, record := range records {
		responses[i] = TransformExecutionResponse(record)
	}

	return c.JSON(fiber.Map{
		"executions":  responses,
		"total_count": len(responses),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	record, err := h.store.ExecutionByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(TransformExecutionResponse(record))
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	if err := h.executor.Resume(c.Params("id")); err != nil {
		return handleDomainError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) AbortExecution(c fiber.Ctx) error {
	if err := h.executor.Abort(c.Params("id")); err != nil {
		return handleDomainError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
