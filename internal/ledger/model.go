package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction tells which side of a posting a record represents.
type Direction string

const (
	// Debit records money leaving the owning account.
	Debit Direction = "debit"
	// Credit records money arriving on the owning account.
	Credit Direction = "credit"
)

// MaxNarrationLength bounds the free-text narration stored on a record.
const MaxNarrationLength = 255

// Account is a balance-holding wallet owned by one user.
type Account struct {
	ID            string
	OwnerID       string
	AccountNumber string
	Balance       decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Record is one immutable side of a posting.
type Record struct {
	ID            string
	AccountID     string
	OwnerID       string
	Amount        decimal.Decimal
	Direction     Direction
	TransactionID string
	SessionID     string
	SenderID      string
	ReceiverID    string
	Narration     string
	BalanceAfter  decimal.Decimal
	CreatedAt     time.Time
}

// ValidAmount reports whether amount is positive and carries at most two fractional digits.
func ValidAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Round(2))
}
