package payments

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/lumipay/lumipay/internal/httpx"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	Recipient string          `json:"recipient" validate:"required,len=10,numeric"`
	Amount    decimal.Decimal `json:"amount"`
	Narration string          `json:"narration" validate:"max=255"`
}

type transferResponse struct {
	TransactionID string    `json:"transaction_id"`
	SessionID     string    `json:"session_id"`
	Amount        string    `json:"amount"`
	Type          string    `json:"type"`
	Narration     string    `json:"narration,omitempty"`
	Recipient     string    `json:"recipient"`
	BalanceAfter  string    `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}

// Transfer moves funds from the caller's wallet to the wallet with the given account number.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	owner, err := httpx.Owner(c)
	if err != nil {
		return err
	}
	req, err := httpx.BindAndValidate[transferRequest](c)
	if err != nil {
		return err
	}

	rec, err := h.service.Transfer(c.UserContext(), TransferInput{
		SenderOwnerID:          owner,
		RecipientAccountNumber: req.Recipient,
		Amount:                 req.Amount,
		Narration:              req.Narration,
	})
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(transferResponse{
		TransactionID: rec.TransactionID,
		SessionID:     rec.SessionID,
		Amount:        rec.Amount.StringFixed(2),
		Type:          string(rec.Direction),
		Narration:     rec.Narration,
		Recipient:     req.Recipient,
		BalanceAfter:  rec.BalanceAfter.StringFixed(2),
		CreatedAt:     rec.CreatedAt,
	})
}
