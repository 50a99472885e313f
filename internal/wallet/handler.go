package wallet

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lumipay/lumipay/internal/httpx"
	"github.com/lumipay/lumipay/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type walletResponse struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	AccountNumber string    `json:"account_number"`
	Balance       string    `json:"balance"`
	CreatedAt     time.Time `json:"created_at"`
}

func toResponse(acct ledger.Account) walletResponse {
	return walletResponse{
		ID:            acct.ID,
		OwnerID:       acct.OwnerID,
		AccountNumber: acct.AccountNumber,
		Balance:       acct.Balance.StringFixed(2),
		CreatedAt:     acct.CreatedAt,
	}
}

// Open provisions a wallet for the authenticated owner.
func (h *Handler) Open(c *fiber.Ctx) error {
	owner, err := httpx.Owner(c)
	if err != nil {
		return err
	}
	acct, err := h.service.Open(c.UserContext(), owner)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(acct))
}

// Me returns the wallet and balance of the authenticated owner.
func (h *Handler) Me(c *fiber.Ctx) error {
	owner, err := httpx.Owner(c)
	if err != nil {
		return err
	}
	acct, err := h.service.GetByOwner(c.UserContext(), owner)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(acct))
}
