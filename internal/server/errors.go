package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/custody-gateway/internal/ledger"
)

// StatusCode maps an error to the HTTP status it is reported with.
func StatusCode(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrBlockchainTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler renders errors as {"error": message}. Internal errors are
// logged and their details withheld from the client.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := StatusCode(err)
		message := err.Error()
		if status == http.StatusInternalServerError {
			logger.Error("unhandled error", "method", c.Method(), "path", c.Path(), "error", err)
			message = http.StatusText(status)
		}
		if errors.Is(err, ledger.ErrBlockchainTransient) || errors.Is(err, ledger.ErrSendCooldown) {
			c.Set(fiber.HeaderRetryAfter, "10")
		}
		return c.Status(status).JSON(fiber.Map{"error": message})
	}
}
