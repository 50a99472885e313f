package history

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lumipay/lumipay/internal/httpx"
	"github.com/lumipay/lumipay/internal/ledger"
)

// Handler exposes transaction history endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a history handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type recordResponse struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	SessionID     string    `json:"session_id"`
	Amount        string    `json:"amount"`
	Type          string    `json:"type"`
	Sender        string    `json:"sender,omitempty"`
	Receiver      string    `json:"receiver,omitempty"`
	Narration     string    `json:"narration,omitempty"`
	BalanceAfter  string    `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}

type paginationResponse struct {
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Count    int     `json:"count"`
	Page     int     `json:"page"`
	Pages    int     `json:"pages"`
}

func toRecordResponse(rec ledger.Record) recordResponse {
	return recordResponse{
		ID:            rec.ID,
		TransactionID: rec.TransactionID,
		SessionID:     rec.SessionID,
		Amount:        rec.Amount.StringFixed(2),
		Type:          string(rec.Direction),
		Sender:        rec.SenderID,
		Receiver:      rec.ReceiverID,
		Narration:     rec.Narration,
		BalanceAfter:  rec.BalanceAfter.StringFixed(2),
		CreatedAt:     rec.CreatedAt,
	}
}

// List returns a page of the caller's history.
func (h *Handler) List(c *fiber.Ctx) error {
	owner, err := httpx.Owner(c)
	if err != nil {
		return err
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return ErrInvalidPage
	}
	pageSize, err := queryInt(c, "page_size", 0)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "page_size must be an integer")
	}

	result, err := h.service.List(c.UserContext(), owner, page, pageSize)
	if err != nil {
		return err
	}

	data := make([]recordResponse, 0, len(result.Items))
	for _, rec := range result.Items {
		data = append(data, toRecordResponse(rec))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"data": data,
		"pagination": paginationResponse{
			Next:     pageLink(c, result.Next, result.PageSize),
			Previous: pageLink(c, result.Previous, result.PageSize),
			Count:    result.Count,
			Page:     result.Page,
			Pages:    result.Pages,
		},
	})
}

// Get returns one record of the caller's history.
func (h *Handler) Get(c *fiber.Ctx) error {
	owner, err := httpx.Owner(c)
	if err != nil {
		return err
	}
	rec, err := h.service.Get(c.UserContext(), owner, c.Params("transactionId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toRecordResponse(rec))
}

func queryInt(c *fiber.Ctx, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func pageLink(c *fiber.Ctx, page *int, size int) *string {
	if page == nil {
		return nil
	}
	link := fmt.Sprintf("%s?page=%d&page_size=%d", c.Path(), *page, size)
	return &link
}
