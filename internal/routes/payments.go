package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lumipay/lumipay/internal/history"
	"github.com/lumipay/lumipay/internal/payments"
)

// RegisterTransferRoutes wires transfer endpoints behind the given rate limiter.
func RegisterTransferRoutes(r fiber.Router, h *payments.Handler, limiter fiber.Handler) {
	r.Post("/transfers", limiter, h.Transfer)
}

// RegisterHistoryRoutes wires transaction history endpoints.
func RegisterHistoryRoutes(r fiber.Router, h *history.Handler) {
	r.Get("/transactions", h.List)
	r.Get("/transactions/:transactionId", h.Get)
}
