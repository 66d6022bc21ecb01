package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/yuka166/chatapp-server/pkg/apperr"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindAuth:
		return fiber.StatusUnauthorized
	case apperr.KindValidation:
		return fiber.StatusBadRequest
	case apperr.KindConflict:
		return fiber.StatusConflict
	case apperr.KindNotFound, apperr.KindUnauthorized:
		return fiber.StatusForbidden
	case apperr.KindUnavailable:
		return fiber.StatusServiceUnavailable
	case apperr.KindRateLimited:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

// errorCode is the caller-visible code of an error. Not found and
// unauthorized share one code so callers cannot probe for existence.
func errorCode(err error) string {
	switch kind := apperr.KindOf(err); kind {
	case apperr.KindNotFound, apperr.KindUnauthorized:
		return "access_denied"
	default:
		return string(kind)
	}
}

// writeError renders err as an ErrorResponse with the mapped status.
func (m *APIModule) writeError(c *fiber.Ctx, err error) error {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal || kind == apperr.KindUnavailable {
		m.logger.Error("Request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(statusFor(kind)).JSON(ErrorResponse{
		Error:   errorCode(err),
		Message: apperr.PublicMessage(err),
	})
}

// customErrorHandler handles errors that escape route handlers.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}
