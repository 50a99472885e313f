package cards

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumipay/lumipay/internal/ledger"
)

// Type is a card scheme.
type Type string

const (
	Visa       Type = "visa"
	Verve      Type = "verve"
	MasterCard Type = "mastercard"
	Amex       Type = "amex"
)

// prefixes lists the issuer identification prefixes each scheme draws its numbers from.
var prefixes = map[Type][]string{
	Visa:       {"4"},
	MasterCard: {"51", "52", "53", "54", "55"},
	Amex:       {"34", "37"},
	Verve: {
		"5061", "5062", "5063", "5067", "5078", "5079", "5041",
		"5090", "5091", "5092", "5093", "5094", "5095", "5096", "5097", "5098", "5099",
		"6500", "6501", "6502", "6503", "6504", "6505", "6506", "6507", "6508", "6509",
	},
}

// ParseType resolves a scheme name case-insensitively. "master_card" and "master card" are
// accepted for mastercard.
func ParseType(s string) (Type, bool) {
	normalized := strings.NewReplacer("_", "", " ", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	t := Type(normalized)
	if _, ok := prefixes[t]; !ok {
		return "", false
	}
	return t, true
}

// Prefixes returns the number prefixes of t.
func (t Type) Prefixes() []string {
	return prefixes[t]
}

var (
	// ErrInvalidPin rejects PINs that are not exactly four digits or do not match the confirmation.
	ErrInvalidPin = ledger.NewError(ledger.KindInvalidInput, "invalid_pin", "pin must be 4 digits and match the confirmation")

	// ErrUnknownCardType rejects unsupported schemes.
	ErrUnknownCardType = ledger.NewError(ledger.KindInvalidInput, "unknown_card_type", "card type must be one of visa, verve, mastercard, amex")

	// ErrDuplicateCardType indicates the owner already holds an active card of that type.
	ErrDuplicateCardType = ledger.NewError(ledger.KindConflict, "duplicate_instrument_type", "an active card of this type already exists")

	// ErrCardLimitReached indicates the owner already holds the maximum number of active cards.
	ErrCardLimitReached = ledger.NewError(ledger.KindLimitExceeded, "instrument_limit_reached", "maximum number of active cards reached")

	// ErrCardNotFound occurs when no card of the caller matches the identifier.
	ErrCardNotFound = ledger.NewError(ledger.KindNotFound, "card_not_found", "card not found")

	// ErrCardInactive rejects use of a deactivated card.
	ErrCardInactive = ledger.NewError(ledger.KindConflict, "card_inactive", "card is not active")

	// ErrCardExpired rejects use of a card past its expiry month.
	ErrCardExpired = ledger.NewError(ledger.KindConflict, "card_expired", "card has expired")

	// ErrDailyLimitExceeded rejects spend above the remaining daily allowance.
	ErrDailyLimitExceeded = ledger.NewError(ledger.KindLimitExceeded, "daily_limit_exceeded", "daily spending limit exceeded")

	// ErrIncorrectPin rejects a charge whose PIN does not match the card.
	ErrIncorrectPin = ledger.NewError(ledger.KindInvalidInput, "incorrect_pin", "incorrect pin")
)

// Card is a payment instrument funded from a wallet.
type Card struct {
	ID          string
	OwnerID     string
	AccountID   string
	Number      string
	Type        Type
	ExpiryMonth int
	ExpiryYear  int
	SealedCVV   []byte
	PINHash     []byte
	Active      bool
	Balance     decimal.Decimal
	DailySpend  decimal.Decimal
	DailyLimit  decimal.Decimal
	LastReset   time.Time
	LastUsed    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MaskedNumber renders the number with all but the last four digits hidden.
func (c Card) MaskedNumber() string {
	if len(c.Number) < 4 {
		return c.Number
	}
	return "**** **** **** " + c.Number[len(c.Number)-4:]
}

// Expiry renders the expiry as MM/YY.
func (c Card) Expiry() string {
	return fmt.Sprintf("%02d/%02d", c.ExpiryMonth, c.ExpiryYear%100)
}

// IsExpired reports whether now is on or after the first day of the month following the expiry.
func (c Card) IsExpired(now time.Time) bool {
	end := time.Date(c.ExpiryYear, time.Month(c.ExpiryMonth)+1, 1, 0, 0, 0, 0, time.UTC)
	return !now.UTC().Before(end)
}

// spentToday returns the daily spend as of now, treating a counter from an earlier day as zero.
func (c Card) spentToday(now time.Time) decimal.Decimal {
	if !sameDay(c.LastReset, now) {
		return decimal.Zero
	}
	return c.DailySpend
}

// CheckSpend explains why amount cannot be spent at now, or returns nil.
func (c Card) CheckSpend(amount decimal.Decimal, now time.Time) error {
	switch {
	case !ledger.ValidAmount(amount):
		return ledger.ErrInvalidAmount
	case !c.Active:
		return ErrCardInactive
	case c.IsExpired(now):
		return ErrCardExpired
	case c.Balance.LessThan(amount):
		return ledger.ErrInsufficientFunds
	case c.spentToday(now).Add(amount).GreaterThan(c.DailyLimit):
		return ErrDailyLimitExceeded
	}
	return nil
}

// ResetDaily zeroes a daily counter left over from an earlier day and reports whether it did.
func (c *Card) ResetDaily(now time.Time) bool {
	if sameDay(c.LastReset, now) {
		return false
	}
	c.DailySpend = decimal.Zero
	c.LastReset = day(now)
	return true
}

// CanSpend resets a stale daily counter, then reports whether amount fits the card balance
// and the remaining daily allowance.
func (c *Card) CanSpend(amount decimal.Decimal, now time.Time) bool {
	c.ResetDaily(now)
	return c.CheckSpend(amount, now) == nil
}

// Spend applies amount to the card, resetting the daily counter on a new day.
func (c *Card) Spend(amount decimal.Decimal, now time.Time) error {
	if err := c.CheckSpend(amount, now); err != nil {
		return err
	}
	c.ResetDaily(now)
	used := now.UTC()
	c.Balance = c.Balance.Sub(amount)
	c.DailySpend = c.DailySpend.Add(amount)
	c.LastUsed = &used
	return nil
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	return day(a).Equal(day(b))
}
