package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"doccontrol/internal/apperr"
	"doccontrol/internal/http/middleware"
	"doccontrol/internal/notify"
	"doccontrol/internal/service"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// writeError writes a standardized JSON error response without leaking internal errors.
func writeError(c *fiber.Ctx, status int, code, message string) error {
	res := errorPayload{
		RequestID: requestIDFromCtx(c),
		Error: errorEnvelope{
			Code:    code,
			Message: message,
		},
	}
	return c.Status(status).JSON(res)
}

// writeServiceError maps the domain error taxonomy onto HTTP. Messages of
// domain errors are safe to show; anything else becomes a generic 500.
func writeServiceError(c *fiber.Ctx, err error) error {
	var (
		already *apperr.AlreadyTransitionedError
		partial *apperr.PartialSuccessError
	)
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.As(err, &already):
		return writeError(c, fiber.StatusConflict, "ALREADY_TRANSITIONED", err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, apperr.ErrConflict):
		return writeError(c, fiber.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, apperr.ErrTransitionFailed):
		logFailure(c, err)
		return writeError(c, fiber.StatusServiceUnavailable, "TRANSITION_FAILED", "the change could not be stored, retry later")
	case errors.As(err, &partial):
		logFailure(c, err)
		return writeError(c, fiber.StatusInternalServerError, "PARTIAL_SUCCESS", err.Error())
	case errors.Is(err, service.ErrStorageDisabled), errors.Is(err, notify.ErrNoBroker):
		return writeError(c, fiber.StatusNotImplemented, "NOT_CONFIGURED", err.Error())
	case errors.Is(err, service.ErrNoFile):
		return writeError(c, fiber.StatusNotFound, "NO_FILE", err.Error())
	default:
		logFailure(c, err)
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

func logFailure(c *fiber.Ctx, err error) {
	middleware.LoggerFrom(c).ErrorContext(c.UserContext(), "request failed",
		"path", c.Path(),
		"error", err,
	)
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, "PAYLOAD_TOO_LARGE", "request body too large")
		default:
			return writeError(c, status, "INTERNAL_ERROR", "internal server error")
		}
	}
}
