package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lumipay/lumipay/internal/cards"
)

// RegisterCardRoutes wires card endpoints.
func RegisterCardRoutes(r fiber.Router, h *cards.Handler) {
	r.Post("/cards", h.Issue)
	r.Get("/cards", h.List)
	r.Get("/cards/:cardId", h.Get)
	r.Delete("/cards/:cardId", h.Deactivate)
	r.Post("/cards/:cardId/charges", h.Charge)
	r.Post("/cards/:cardId/cvv", h.Reveal)
}
