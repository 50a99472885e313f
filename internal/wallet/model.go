package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance encapsulates available funds for a wallet.
type Balance struct {
	AccountID     string
	AccountNumber string
	Amount        decimal.Decimal
	AsOf          time.Time
}
