package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumipay/lumipay/internal/idgen"
	"github.com/lumipay/lumipay/internal/ledger"
	"github.com/lumipay/lumipay/internal/logging"
)

// DefaultOpeningBalance is credited to every new wallet unless configured otherwise.
var DefaultOpeningBalance = decimal.RequireFromString("100000.00")

// ErrInvalidOwner rejects an empty owner reference.
var ErrInvalidOwner = ledger.NewError(ledger.KindInvalidInput, "invalid_owner", "owner reference is required")

// Options tunes wallet opening.
type Options struct {
	OpeningBalance decimal.Decimal
	MaxAttempts    int
}

// Service exposes wallet operations backed by the ledger.
type Service struct {
	store  ledger.Store
	ids    *idgen.Generator
	opts   Options
	logger *slog.Logger
}

// NewService builds a wallet service instance.
func NewService(store ledger.Store, ids *idgen.Generator, opts Options, logger *slog.Logger) *Service {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.OpeningBalance.IsNegative() {
		opts.OpeningBalance = decimal.Zero
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if ids == nil {
		ids = idgen.New()
	}
	return &Service{store: store, ids: ids, opts: opts, logger: logger}
}

// Open provisions the wallet of ownerID with a freshly generated account number.
func (s *Service) Open(ctx context.Context, ownerID string) (ledger.Account, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return ledger.Account{}, ErrInvalidOwner
	}

	var account ledger.Account
	err := ledger.RetryUnique(s.opts.MaxAttempts, func() error {
		account = ledger.Account{
			OwnerID:       ownerID,
			AccountNumber: s.ids.Generate(idgen.AccountNumber),
			Balance:       s.opts.OpeningBalance.Round(2),
		}
		return s.store.CreateAccount(ctx, &account)
	})
	if err != nil {
		return ledger.Account{}, fmt.Errorf("open wallet: %w", err)
	}

	s.logger.Info("wallet opened",
		slog.String("account_id", account.ID),
		slog.String("owner_id", ownerID),
	)
	return account, nil
}

// Get retrieves a wallet by identifier.
func (s *Service) Get(ctx context.Context, id string) (ledger.Account, error) {
	return s.store.AccountByID(ctx, id)
}

// GetByOwner retrieves the wallet held by ownerID.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (ledger.Account, error) {
	return s.store.AccountByOwner(ctx, ownerID)
}

// Balance returns the current balance of the wallet held by ownerID.
func (s *Service) Balance(ctx context.Context, ownerID string) (Balance, error) {
	account, err := s.store.AccountByOwner(ctx, ownerID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		AccountID:     account.ID,
		AccountNumber: account.AccountNumber,
		Amount:        account.Balance,
		AsOf:          time.Now().UTC(),
	}, nil
}
