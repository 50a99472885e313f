package cards

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/lumipay/lumipay/internal/httpx"
)

// Handler exposes card endpoints.
type Handler struct {
	service *Service
	now     func() time.Time
}

// NewHandler constructs a card handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, now: time.Now}
}

type issueRequest struct {
	CardType   string `json:"card_type" validate:"required"`
	PIN        string `json:"pin" validate:"required"`
	ConfirmPIN string `json:"confirm_pin" validate:"required"`
}

type chargeRequest struct {
	Amount decimal.Decimal `json:"amount"`
	PIN    string          `json:"pin" validate:"required,len=4,numeric"`
}

type pinRequest struct {
	PIN string `json:"pin" validate:"required,len=4,numeric"`
}

type cardResponse struct {
	ID             string     `json:"id"`
	CardNumber     string     `json:"card_number"`
	CardType       string     `json:"card_type"`
	ExpiryDate     string     `json:"expiry_date"`
	CVV            string     `json:"cvv,omitempty"`
	IsActive       bool       `json:"is_active"`
	Balance        string     `json:"balance"`
	DailyLimit     string     `json:"daily_limit"`
	DailySpend     string     `json:"daily_spend"`
	RemainingToday string     `json:"remaining_today"`
	LastUsed       *time.Time `json:"last_used,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (h *Handler) toResponse(card Card, number string) cardResponse {
	spent := card.spentToday(h.now())
	return cardResponse{
		ID:             card.ID,
		CardNumber:     number,
		CardType:       string(card.Type),
		ExpiryDate:     card.Expiry(),
		IsActive:       card.Active,
		Balance:        card.Balance.StringFixed(2),
		DailyLimit:     card.DailyLimit.StringFixed(2),
		DailySpend:     spent.StringFixed(2),
		RemainingToday: card.DailyLimit.Sub(spent).StringFixed(2),
		LastUsed:       card.LastUsed,
		CreatedAt:      card.CreatedAt,
	}
}

// Issue creates a card for the caller, returning the full number and verification code once.
func (h *Handler) Issue(c *fiber.Ctx) error {
	owner, err := httpx.Owner(c)
	if err != nil {
		return err
	}
	req, err := httpx.BindAndValidate[issueRequest](c)
	if err != nil {
		return err
	}
	res, err := h.service.Issue(c.UserContext(), IssueInput{
		OwnerID:    owner,
		Type:       req.CardType,
		PIN:        req.PIN,
		ConfirmPIN: req.ConfirmPIN,
	})
	if err != nil {
		return err
	}
	resp := h.toResponse(res.Card, res.Card.Number)
	resp.CVV = res.CVV
	return c.Status(http.StatusCreated).JSON(resp)
}

// List returns the caller's active cards with masked numbers.
func (h *Handler) List(c *fiber.Ctx) error {
	owner, err := httpx.Owner(c)
	if err != nil {
		return err
	}
	cards, err := h.service.List(c.UserContext(), owner)
	if err != nil {
		return err
	}
	out := make([]cardResponse, 0, len(cards))
	for _, card := range cards {
		out = append(out, h.toResponse(card, card.MaskedNumber()))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"data": out, "count": len(out)})
}

// Get returns one of the caller's cards.
func (h *Handler) Get(c *fiber.Ctx) error {
	owner, err := httpx.Owner(c)
	if err != nil {
		return err
	}
	card, err := h.service.Get(c.UserContext(), owner, c.Params("cardId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(h.toResponse(card, card.MaskedNumber()))
}

// Deactivate soft-deletes one of the caller's cards.
func (h *Handler) Deactivate(c *fiber.Ctx) error {
	owner, err := httpx.Owner(c)
	if err != nil {
		return err
	}
	if _, err := h.service.Deactivate(c.UserContext(), owner, c.Params("cardId")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Charge spends from one of the caller's cards.
func (h *Handler) Charge(c *fiber.Ctx) error {
	owner, err := httpx.Owner(c)
	if err != nil {
		return err
	}
	req, err := httpx.BindAndValidate[chargeRequest](c)
	if err != nil {
		return err
	}
	card, err := h.service.Charge(c.UserContext(), owner, c.Params("cardId"), req.Amount, req.PIN)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(h.toResponse(card, card.MaskedNumber()))
}

// Reveal returns the verification code of one of the caller's cards.
func (h *Handler) Reveal(c *fiber.Ctx) error {
	owner, err := httpx.Owner(c)
	if err != nil {
		return err
	}
	req, err := httpx.BindAndValidate[pinRequest](c)
	if err != nil {
		return err
	}
	cvv, err := h.service.Reveal(c.UserContext(), owner, c.Params("cardId"), req.PIN)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"cvv": cvv})
}
