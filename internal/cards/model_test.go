package cards

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumipay/lumipay/internal/ledger"
)

func TestParseType(t *testing.T) {
	for in, want := range map[string]Type{
		"visa":        Visa,
		"VISA":        Visa,
		" verve ":     Verve,
		"mastercard":  MasterCard,
		"master_card": MasterCard,
		"Master Card": MasterCard,
		"amex":        Amex,
	} {
		got, ok := ParseType(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	_, ok := ParseType("discover")
	assert.False(t, ok)
}

func TestCardDisplay(t *testing.T) {
	c := Card{Number: "4111111111111111", ExpiryMonth: 3, ExpiryYear: 2030}
	assert.Equal(t, "**** **** **** 1111", c.MaskedNumber())
	assert.Equal(t, "03/30", c.Expiry())
}

func TestCardIsExpired(t *testing.T) {
	c := Card{ExpiryMonth: 12, ExpiryYear: 2029}
	assert.False(t, c.IsExpired(time.Date(2029, 12, 31, 23, 59, 59, 0, time.UTC)))
	assert.True(t, c.IsExpired(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func spendable(now time.Time) Card {
	return Card{
		Active:      true,
		ExpiryMonth: int(now.Month()),
		ExpiryYear:  now.Year() + 4,
		Balance:     decimal.RequireFromString("1000.00"),
		DailyLimit:  decimal.RequireFromString("300.00"),
		DailySpend:  decimal.Zero,
		LastReset:   day(now),
	}
}

func TestCardSpendRespectsDailyLimit(t *testing.T) {
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	c := spendable(now)

	require.NoError(t, c.Spend(decimal.RequireFromString("200.00"), now))
	assert.True(t, c.CanSpend(decimal.RequireFromString("100.00"), now))
	assert.False(t, c.CanSpend(decimal.RequireFromString("100.01"), now))
	assert.ErrorIs(t, c.Spend(decimal.RequireFromString("150.00"), now.Add(time.Hour)), ErrDailyLimitExceeded)

	tomorrow := now.Add(24 * time.Hour)
	assert.True(t, c.CanSpend(decimal.RequireFromString("300.00"), tomorrow))
	assert.True(t, c.DailySpend.IsZero())
	assert.Equal(t, day(tomorrow), c.LastReset)
	require.NoError(t, c.Spend(decimal.RequireFromString("300.00"), tomorrow))
	assert.True(t, c.DailySpend.Equal(decimal.RequireFromString("300.00")))
	assert.Equal(t, day(tomorrow), c.LastReset)
	assert.True(t, c.Balance.Equal(decimal.RequireFromString("500.00")))
	require.NotNil(t, c.LastUsed)
}

func TestCardCheckSpendReasons(t *testing.T) {
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	c := spendable(now)
	assert.ErrorIs(t, c.CheckSpend(decimal.Zero, now), ledger.ErrInvalidAmount)

	c.Balance = decimal.RequireFromString("50.00")
	assert.ErrorIs(t, c.CheckSpend(decimal.RequireFromString("60.00"), now), ledger.ErrInsufficientFunds)

	c = spendable(now)
	c.Active = false
	assert.ErrorIs(t, c.CheckSpend(decimal.RequireFromString("1.00"), now), ErrCardInactive)

	c = spendable(now)
	assert.ErrorIs(t, c.CheckSpend(decimal.RequireFromString("1.00"), now.AddDate(5, 0, 0)), ErrCardExpired)
}
