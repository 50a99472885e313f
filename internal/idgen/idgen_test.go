package idgen

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateShapes(t *testing.T) {
	g := New()

	cases := []struct {
		kind Kind
		len  int
	}{
		{AccountNumber, 10},
		{TransactionID, 12},
		{SessionID, 12},
		{CardNumber, 16},
	}
	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			id := g.Generate(tc.kind)
			require.Len(t, id, tc.len)
			for _, r := range id {
				assert.True(t, r >= '0' && r <= '9', "non digit %q in %s", r, id)
			}
		})
	}
}

func TestCardNumberAlwaysPassesLuhn(t *testing.T) {
	g := New()
	for _, prefix := range []string{"4", "51", "55", "34", "37", "5061", "6500"} {
		for i := 0; i < 200; i++ {
			n := g.CardNumber(prefix)
			require.Len(t, n, 16)
			require.True(t, strings.HasPrefix(n, prefix))
			require.True(t, ValidLuhn(n), "generated %s fails luhn", n)
		}
	}
}

func TestCheckDigitKnownNumbers(t *testing.T) {
	assert.Equal(t, 1, CheckDigit("411111111111111"))
	assert.Equal(t, 3, CheckDigit("7992739871"))
	assert.True(t, ValidLuhn("4111111111111111"))
	assert.True(t, ValidLuhn("79927398713"))
	assert.False(t, ValidLuhn("79927398710"))
	assert.False(t, ValidLuhn("4111-1111"))
}

func TestDigitsSkipsBiasedBytes(t *testing.T) {
	// 250..255 are rejected, 3 -> '3', 14 -> '4'
	g := NewWithSource(bytes.NewReader([]byte{255, 250, 3, 14, 0, 0}))
	assert.Equal(t, "34", g.Digits(2))
}

func TestIndex(t *testing.T) {
	// bound 3 rejects 255 (limit 255), then 7 % 3 = 1
	g := NewWithSource(bytes.NewReader([]byte{255, 7}))
	assert.Equal(t, 1, g.Index(3))

	seen := make(map[int]bool)
	r := New()
	for i := 0; i < 500; i++ {
		v := r.Index(4)
		require.True(t, v >= 0 && v < 4)
		seen[v] = true
	}
	assert.Len(t, seen, 4)
}

func TestRetry(t *testing.T) {
	conflict := errors.New("taken")
	isConflict := func(err error) bool { return errors.Is(err, conflict) }

	t.Run("succeeds after collisions", func(t *testing.T) {
		calls := 0
		err := Retry(5, isConflict, func() error {
			calls++
			if calls < 3 {
				return conflict
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausts", func(t *testing.T) {
		calls := 0
		err := Retry(4, isConflict, func() error {
			calls++
			return conflict
		})
		require.ErrorIs(t, err, ErrExhausted)
		assert.Equal(t, 4, calls)
	})

	t.Run("stops on other errors", func(t *testing.T) {
		boom := errors.New("boom")
		calls := 0
		err := Retry(4, isConflict, func() error {
			calls++
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})
}
