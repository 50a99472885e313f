// Package httpx holds the request binding, caller identity and error rendering shared by handlers.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/lumipay/lumipay/internal/ledger"
)

// OwnerLocal is the fiber.Ctx local holding the authenticated owner reference.
const OwnerLocal = "user_id"

var validate = validator.New()

// ErrUnauthenticated is returned when no owner reference is attached to the request.
var ErrUnauthenticated = fiber.NewError(http.StatusUnauthorized, "authentication required")

// BindAndValidate parses the JSON body into T and validates its struct tags.
func BindAndValidate[T any](c *fiber.Ctx) (*T, error) {
	var input T
	if err := c.BodyParser(&input); err != nil {
		return nil, fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(input); err != nil {
		return nil, &ValidationError{err: err}
	}
	return &input, nil
}

// ValidationError reports struct tag validation failures.
type ValidationError struct {
	err error
}

func (e *ValidationError) Error() string { return e.err.Error() }

func (e *ValidationError) Unwrap() error { return e.err }

// Owner returns the authenticated owner reference of the request.
func Owner(c *fiber.Ctx) (string, error) {
	owner, _ := c.Locals(OwnerLocal).(string)
	if owner == "" {
		return "", ErrUnauthenticated
	}
	return owner, nil
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// StatusFor maps a ledger error kind onto an HTTP status code.
func StatusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindConflict:
		return http.StatusConflict
	case ledger.KindInsufficientFunds, ledger.KindLimitExceeded:
		return http.StatusUnprocessableEntity
	case ledger.KindInvalidInput:
		return http.StatusBadRequest
	case ledger.KindGenerationExhausted, ledger.KindContention:
		return http.StatusServiceUnavailable
	case ledger.KindTimedOut:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler renders every handler error as {"error", "message", "retryable"}.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, resp := render(err)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", slog.String("path", c.Path()), slog.Any("error", err))
		}
		return c.Status(status).JSON(resp)
	}
}

// StatusOf returns the status code ErrorHandler writes for err.
func StatusOf(err error) int {
	status, _ := render(err)
	return status
}

func render(err error) (int, errorResponse) {
	var (
		fe *fiber.Error
		ve *ValidationError
		le *ledger.Error
	)
	switch {
	case errors.As(err, &fe):
		return fe.Code, errorResponse{Error: codeForStatus(fe.Code), Message: fe.Message}
	case errors.As(err, &ve):
		return http.StatusBadRequest, errorResponse{Error: "invalid_input", Message: ve.Error()}
	case errors.As(err, &le):
		return StatusFor(le.Kind), errorResponse{Error: le.Code, Message: le.Message, Retryable: ledger.Retryable(err)}
	default:
		status := StatusFor(ledger.KindOf(err))
		return status, errorResponse{Error: ledger.CodeOf(err), Message: http.StatusText(status), Retryable: ledger.Retryable(err)}
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		if status >= http.StatusInternalServerError {
			return "internal_error"
		}
		return "request_failed"
	}
}
