package web

import (
	"errors"

	"github.com/dukex/flowpilot/pkg/auth"
	"github.com/dukex/flowpilot/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// problem is an RFC 7807 body that also carries the message under "error".
type problem struct {
	*problems.Problem

	Message string `json:"error"`
}

func respond(c fiber.Ctx, status int, problemType, message string) error {
	body := problem{
		Problem: problems.NewStatusProblem(status).
			WithInstance(c.Path()).
			WithType(problemType).
			WithDetail(message),
		Message: message,
	}

	return c.Status(status).JSON(body, problems.ProblemMediaType)
}

func badRequest(c fiber.Ctx, detail string) error {
	return respond(c, fiber.StatusBadRequest, "validation_error", detail)
}

func notFound(c fiber.Ctx, detail string) error {
	return respond(c, fiber.StatusNotFound, "not_found", detail)
}

func unauthorized(c fiber.Ctx, detail string) error {
	return respond(c, fiber.StatusUnauthorized, "unauthorized", detail)
}

func forbidden(c fiber.Ctx, detail string) error {
	return respond(c, fiber.StatusForbidden, "forbidden", detail)
}

func internalError(c fiber.Ctx, err error) error {
	return respond(c, fiber.StatusInternalServerError, "internal_error", err.Error())
}

// authFailure renders rejections of the auth gate.
func authFailure(c fiber.Ctx, err error) error {
	if errors.Is(err, auth.ErrForbidden) {
		return forbidden(c, "missing permission")
	}

	return unauthorized(c, "unauthorized")
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsUnauthorized(err):
		return unauthorized(c, err.Error())
	case services.IsNotFound(err):
		return notFound(c, err.Error())
	case services.IsValidationError(err):
		return badRequest(c, err.Error())
	default:
		return internalError(c, err)
	}
}
