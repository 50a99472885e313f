package idgen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Kind selects the shape of a generated identifier.
type Kind int

const (
	// AccountNumber is the 10-digit human-facing wallet number.
	AccountNumber Kind = iota
	// TransactionID is the 12-digit transaction reference of a ledger record.
	TransactionID
	// SessionID is the 12-digit session reference of a ledger record.
	SessionID
	// CardNumber is a 16-digit Luhn-valid instrument number.
	CardNumber
)

const (
	accountNumberLen = 10
	referenceLen     = 12
	cardNumberLen    = 16
	defaultPrefix    = "4"
)

// ErrExhausted is returned when every attempt at producing an unused identifier collided.
var ErrExhausted = errors.New("identifier generation exhausted")

func (k Kind) String() string {
	switch k {
	case AccountNumber:
		return "account_number"
	case TransactionID:
		return "transaction_id"
	case SessionID:
		return "session_id"
	case CardNumber:
		return "card_number"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Generator produces random numeric identifiers. The zero value reads from crypto/rand.
type Generator struct {
	source io.Reader
}

// New returns a generator backed by crypto/rand.
func New() *Generator {
	return &Generator{source: rand.Reader}
}

// NewWithSource returns a generator reading randomness from src. Useful for tests.
func NewWithSource(src io.Reader) *Generator {
	return &Generator{source: src}
}

// Generate returns a fresh candidate for the requested kind. Card numbers use the visa prefix.
func (g *Generator) Generate(kind Kind) string {
	switch kind {
	case AccountNumber:
		return g.Digits(accountNumberLen)
	case TransactionID, SessionID:
		return g.Digits(referenceLen)
	case CardNumber:
		return g.CardNumber(defaultPrefix)
	default:
		panic(fmt.Sprintf("idgen: unknown kind %d", int(kind)))
	}
}

// CardNumber returns a 16-digit number starting with prefix whose last digit is the Luhn check digit.
func (g *Generator) CardNumber(prefix string) string {
	if len(prefix) >= cardNumberLen {
		prefix = prefix[:cardNumberLen-1]
	}
	payload := prefix + g.Digits(cardNumberLen-1-len(prefix))
	return payload + string(rune('0'+CheckDigit(payload)))
}

// Digits returns n uniformly distributed decimal digits.
func (g *Generator) Digits(n int) string {
	src := g.source
	if src == nil {
		src = rand.Reader
	}
	var b strings.Builder
	b.Grow(n)
	buf := make([]byte, n)
	for b.Len() < n {
		if _, err := io.ReadFull(src, buf); err != nil {
			panic(fmt.Sprintf("idgen: read random source: %v", err))
		}
		for _, v := range buf {
			// 250 is the largest multiple of 10 below 256; rejecting above it keeps digits unbiased.
			if v >= 250 {
				continue
			}
			b.WriteByte('0' + v%10)
			if b.Len() == n {
				break
			}
		}
	}
	return b.String()
}

// Index returns a uniformly distributed index in [0, n). n must be between 1 and 256.
func (g *Generator) Index(n int) int {
	if n <= 0 || n > 256 {
		panic(fmt.Sprintf("idgen: index bound %d out of range", n))
	}
	src := g.source
	if src == nil {
		src = rand.Reader
	}
	limit := 256 - 256%n
	buf := make([]byte, 1)
	for {
		if _, err := io.ReadFull(src, buf); err != nil {
			panic(fmt.Sprintf("idgen: read random source: %v", err))
		}
		if int(buf[0]) < limit {
			return int(buf[0]) % n
		}
	}
}

// Retry calls try until it succeeds, fails with an error that isConflict does not recognise, or
// attempts run out. try is expected to draw a fresh candidate on each call.
func Retry(attempts int, isConflict func(error) bool, try func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var last error
	for i := 0; i < attempts; i++ {
		last = try()
		if last == nil {
			return nil
		}
		if !isConflict(last) {
			return last
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, attempts, last)
}
