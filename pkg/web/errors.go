package web

import (
	"github.com/congrega/flows/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, code, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(code).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, services.CodeInvalidRequest, detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType(services.CodeInternal).
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// handleServiceError maps service layer errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		return problem(c, fiber.StatusBadRequest, services.Code(err), err.Error())
	case services.IsNotFound(err):
		return problem(c, fiber.StatusNotFound, services.CodeNotFound, err.Error())
	case services.IsConflictError(err):
		return problem(c, fiber.StatusConflict, services.CodeIllegalTransition, err.Error())
	default:
		return internalError(c, err)
	}
}
