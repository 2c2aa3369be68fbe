package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/formbot/formbot/pkg/display"
	"github.com/formbot/formbot/pkg/editing"
	"github.com/formbot/formbot/pkg/execution"
	"github.com/formbot/formbot/pkg/persistence"
	"github.com/formbot/formbot/pkg/registry"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusNotFound).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusConflict).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func unavailable(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusServiceUnavailable).
		WithInstance(c.Path()).
		WithType("capacity_exceeded").
		WithDetail(detail)

	return c.Status(fiber.StatusServiceUnavailable).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleDomainError maps sentinel errors from the session, execution, and
// persistence layers onto problem responses.
func handleDomainError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow not found")

	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution not found")

	case errors.Is(err, editing.ErrNoActiveSession):
		return notFound(c, "no active editing session for workflow")

	case errors.Is(err, editing.ErrStepNotFound):
		return notFound(c, "step not found in draft")

	case errors.Is(err, execution.ErrNotLive):
		return notFound(c, "execution is not live")

	case errors.Is(err, editing.ErrInvalidMode):
		return badRequest(c, err.Error())

	case errors.Is(err, registry.ErrAlreadyActive),
		errors.Is(err, display.ErrAlreadyActive):
		return conflict(c, "workflow already has an active session")

	case errors.Is(err, editing.ErrWrongPhase),
		errors.Is(err, execution.ErrNotConfirmed),
		errors.Is(err, execution.ErrNotWaiting):
		return conflict(c, err.Error())

	case errors.Is(err, registry.ErrCapacityExceeded),
		errors.Is(err, display.ErrCapacityExceeded):
		return unavailable(c, "session capacity exceeded, try again later")

	default:
		return internalError(c, err)
	}
}
