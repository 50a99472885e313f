package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lumipay/lumipay/internal/wallet"
)

// RegisterWalletRoutes wires wallet endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/wallets", h.Open)
	r.Get("/wallet", h.Me)
}
