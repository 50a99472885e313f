package history

import (
	"context"
	"fmt"
	"math"

	"github.com/lumipay/lumipay/internal/ledger"
)

const (
	// DefaultPageSize applies when the caller does not request a size.
	DefaultPageSize = 3
	// DefaultMaxPageSize caps the requested size.
	DefaultMaxPageSize = 100
)

var (
	// ErrInvalidPage rejects page numbers below one.
	ErrInvalidPage = ledger.NewError(ledger.KindInvalidInput, "invalid_page", "page must be a positive integer")
	// ErrPageNotFound is returned for a page beyond the last one.
	ErrPageNotFound = ledger.NewError(ledger.KindNotFound, "page_not_found", "invalid page")
)

// Page is one slice of an account history, newest record first.
type Page struct {
	Items    []ledger.Record
	Count    int
	Page     int
	Pages    int
	PageSize int
	Next     *int
	Previous *int
}

// Service answers read-only history queries.
type Service struct {
	store       ledger.Store
	pageSize    int
	maxPageSize int
}

// NewService builds a history service. Non-positive sizes fall back to the defaults.
func NewService(store ledger.Store, pageSize, maxPageSize int) *Service {
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return &Service{store: store, pageSize: pageSize, maxPageSize: maxPageSize}
}

// List returns page of the history of the wallet held by ownerID. A pageSize of zero or less
// selects the default size; larger sizes are clamped to the maximum.
func (s *Service) List(ctx context.Context, ownerID string, page, pageSize int) (Page, error) {
	if page < 1 {
		return Page{}, ErrInvalidPage
	}
	switch {
	case pageSize <= 0:
		pageSize = s.pageSize
	case pageSize > s.maxPageSize:
		pageSize = s.maxPageSize
	}

	account, err := s.store.AccountByOwner(ctx, ownerID)
	if err != nil {
		return Page{}, fmt.Errorf("load wallet: %w", err)
	}

	// A page whose offset does not fit in an int lies past any history.
	if page-1 > math.MaxInt/pageSize {
		return Page{}, ErrPageNotFound
	}
	items, total, err := s.store.History(ctx, account.ID, (page-1)*pageSize, pageSize)
	if err != nil {
		return Page{}, fmt.Errorf("load history: %w", err)
	}

	pages := (total + pageSize - 1) / pageSize
	if pages == 0 {
		pages = 1
	}
	if page > pages {
		return Page{}, ErrPageNotFound
	}

	result := Page{
		Items:    items,
		Count:    total,
		Page:     page,
		Pages:    pages,
		PageSize: pageSize,
	}
	if page < pages {
		next := page + 1
		result.Next = &next
	}
	if page > 1 {
		prev := page - 1
		result.Previous = &prev
	}
	return result, nil
}

// Get returns the record of the caller's wallet carrying transactionID.
func (s *Service) Get(ctx context.Context, ownerID, transactionID string) (ledger.Record, error) {
	account, err := s.store.AccountByOwner(ctx, ownerID)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("load wallet: %w", err)
	}
	rec, err := s.store.RecordByTransactionID(ctx, transactionID)
	if err != nil {
		return ledger.Record{}, err
	}
	if rec.AccountID != account.ID {
		return ledger.Record{}, ledger.ErrRecordNotFound
	}
	return rec, nil
}
