package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumipay/lumipay/internal/idgen"
)

// DefaultOperationTimeout bounds a unit of work when no explicit timeout is configured.
const DefaultOperationTimeout = 5 * time.Second

// ErrRecordNotFound occurs when no record carries the requested transaction identifier.
var ErrRecordNotFound = NewError(KindNotFound, "record_not_found", "transaction record not found")

// Tx is the view of the store offered inside a unit of work. Every account it touches must have
// been listed when the unit was opened; those accounts stay locked until the unit ends.
type Tx interface {
	// Account returns the locked account as seen by this unit.
	Account(ctx context.Context, id string) (Account, error)
	// Debit subtracts amount, failing with ErrInsufficientFunds when the balance would go negative.
	Debit(ctx context.Context, accountID string, amount decimal.Decimal) (Account, error)
	// Credit adds amount to the account balance.
	Credit(ctx context.Context, accountID string, amount decimal.Decimal) (Account, error)
	// Append stores rec, filling its ID and CreatedAt. A transaction or session identifier
	// collision yields ErrDuplicateID and leaves the unit usable.
	Append(ctx context.Context, rec *Record) error
}

// Store defines the contract implemented by ledger backends (e.g. Postgres).
type Store interface {
	// CreateAccount persists a new wallet. An owner that already holds one yields ErrAccountExists,
	// an account number clash yields ErrDuplicateID.
	CreateAccount(ctx context.Context, account *Account) error
	AccountByID(ctx context.Context, id string) (Account, error)
	AccountByOwner(ctx context.Context, ownerID string) (Account, error)
	AccountByNumber(ctx context.Context, number string) (Account, error)
	RecordByTransactionID(ctx context.Context, transactionID string) (Record, error)
	// History returns the records of an account newest first, along with the total record count.
	// Both are read from one snapshot.
	History(ctx context.Context, accountID string, offset, limit int) ([]Record, int, error)
	// Atomic runs fn as one unit of work with accountIDs locked. All effects of fn are committed
	// together when it returns nil and discarded otherwise.
	Atomic(ctx context.Context, accountIDs []string, fn func(ctx context.Context, tx Tx) error) error
}

// AppendNew appends rec under freshly generated transaction and session identifiers, drawing new
// candidates while they collide with existing records.
func AppendNew(ctx context.Context, tx Tx, ids *idgen.Generator, attempts int, rec *Record) error {
	return RetryUnique(attempts, func() error {
		rec.TransactionID = ids.Generate(idgen.TransactionID)
		rec.SessionID = ids.Generate(idgen.SessionID)
		return tx.Append(ctx, rec)
	})
}

// Option tunes a store backend.
type Option func(*options)

type options struct {
	timeout time.Duration
	now     func() time.Time
}

// WithOperationTimeout bounds each unit of work, lock waits included.
func WithOperationTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithClock overrides the time source used for record and account timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{timeout: DefaultOperationTimeout, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// sortedIDs returns the distinct ids in ascending order, the global lock acquisition order.
func sortedIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
