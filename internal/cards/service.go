package cards

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/lumipay/lumipay/internal/idgen"
	"github.com/lumipay/lumipay/internal/ledger"
	"github.com/lumipay/lumipay/internal/logging"
	"github.com/lumipay/lumipay/internal/notification"
)

const (
	cvvLength      = 3
	validityYears  = 4
	defaultMaxCard = 3
)

var (
	// DefaultIssuanceFee is debited from the wallet for every new card.
	DefaultIssuanceFee = decimal.RequireFromString("1000.00")
	// DefaultDailyLimit caps the daily spend of a new card.
	DefaultDailyLimit = decimal.RequireFromString("500000.00")
)

// Options tunes card issuance.
type Options struct {
	IssuanceFee decimal.Decimal
	DailyLimit  decimal.Decimal
	MaxActive   int
	MaxAttempts int
	// PINCost is the bcrypt cost; zero means bcrypt.DefaultCost.
	PINCost int
	Now     func() time.Time
}

// Service issues and manages cards.
type Service struct {
	store      ledger.Store
	repo       Repository
	ids        *idgen.Generator
	sealer     *Sealer
	dispatcher *notification.Dispatcher
	logger     *slog.Logger
	opts       Options
}

// NewService wires the card service.
func NewService(store ledger.Store, repo Repository, ids *idgen.Generator, sealer *Sealer, dispatcher *notification.Dispatcher, logger *slog.Logger, opts Options) *Service {
	if ids == nil {
		ids = idgen.New()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.IssuanceFee.IsNegative() {
		opts.IssuanceFee = decimal.Zero
	}
	if !opts.DailyLimit.IsPositive() {
		opts.DailyLimit = DefaultDailyLimit
	}
	if opts.MaxActive <= 0 {
		opts.MaxActive = defaultMaxCard
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.PINCost == 0 {
		opts.PINCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: store, repo: repo, ids: ids, sealer: sealer, dispatcher: dispatcher, logger: logger, opts: opts}
}

// IssueInput captures a card request.
type IssueInput struct {
	OwnerID    string
	Type       string
	PIN        string
	ConfirmPIN string
}

// IssueResult carries the new card and its verification code. The code is never stored in clear
// and is only returned here.
type IssueResult struct {
	Card Card
	CVV  string
}

// Issue charges the issuance fee to the owner's wallet and creates a card of the requested type
// in one unit of work.
func (s *Service) Issue(ctx context.Context, input IssueInput) (IssueResult, error) {
	if !validPIN(input.PIN) || input.PIN != input.ConfirmPIN {
		return IssueResult{}, ErrInvalidPin
	}
	cardType, ok := ParseType(input.Type)
	if !ok {
		return IssueResult{}, ErrUnknownCardType
	}
	account, err := s.store.AccountByOwner(ctx, input.OwnerID)
	if err != nil {
		return IssueResult{}, fmt.Errorf("load wallet: %w", err)
	}

	pinHash, err := hashPIN(input.PIN, s.opts.PINCost)
	if err != nil {
		return IssueResult{}, err
	}
	cvv := s.ids.Digits(cvvLength)
	sealedCVV, err := s.sealer.Seal([]byte(cvv))
	if err != nil {
		return IssueResult{}, fmt.Errorf("seal cvv: %w", err)
	}

	var card Card
	// Locking the wallet serializes issuance and transfers of this owner.
	err = s.store.Atomic(ctx, []string{account.ID}, func(ctx context.Context, tx ledger.Tx) error {
		exists, err := s.repo.HasActiveType(ctx, input.OwnerID, cardType)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateCardType
		}
		active, err := s.repo.CountActive(ctx, input.OwnerID)
		if err != nil {
			return err
		}
		if active >= s.opts.MaxActive {
			return ErrCardLimitReached
		}

		funded, err := tx.Account(ctx, account.ID)
		if err != nil {
			return err
		}
		if s.opts.IssuanceFee.IsPositive() {
			funded, err = tx.Debit(ctx, account.ID, s.opts.IssuanceFee)
			if err != nil {
				return err
			}
			fee := ledger.Record{
				AccountID:    account.ID,
				OwnerID:      account.OwnerID,
				Amount:       s.opts.IssuanceFee,
				Direction:    ledger.Debit,
				SenderID:     account.OwnerID,
				Narration:    fmt.Sprintf("Card creation fee for new %s card", cardType),
				BalanceAfter: funded.Balance,
			}
			if err := ledger.AppendNew(ctx, tx, s.ids, s.opts.MaxAttempts, &fee); err != nil {
				return fmt.Errorf("append fee record: %w", err)
			}
		}

		now := s.opts.Now().UTC()
		card = Card{
			OwnerID:     account.OwnerID,
			AccountID:   account.ID,
			Type:        cardType,
			ExpiryMonth: int(now.Month()),
			ExpiryYear:  now.Year() + validityYears,
			SealedCVV:   sealedCVV,
			PINHash:     pinHash,
			Active:      true,
			Balance:     funded.Balance,
			DailySpend:  decimal.Zero,
			DailyLimit:  s.opts.DailyLimit,
			LastReset:   day(now),
		}
		prefixes := cardType.Prefixes()
		return ledger.RetryUnique(s.opts.MaxAttempts, func() error {
			card.Number = s.ids.CardNumber(prefixes[s.ids.Index(len(prefixes))])
			return s.repo.Insert(ctx, &card)
		})
	})
	if err != nil {
		return IssueResult{}, fmt.Errorf("issue card: %w", err)
	}

	s.logger.Info("card issued",
		slog.String("card_id", card.ID),
		slog.String("owner_id", card.OwnerID),
		slog.String("type", string(card.Type)),
	)
	s.dispatcher.Dispatch(notification.Message{
		Kind:         notification.KindCardIssued,
		Destinations: []string{card.OwnerID},
		Body:         fmt.Sprintf("Your new %s card %s has been issued. It expires %s.", card.Type, card.MaskedNumber(), card.Expiry()),
		Attributes: map[string]string{
			"card_id":       card.ID,
			"masked_number": card.MaskedNumber(),
			"type":          string(card.Type),
			"expiry":        card.Expiry(),
		},
	})

	return IssueResult{Card: card, CVV: cvv}, nil
}

// List returns the active cards of ownerID.
func (s *Service) List(ctx context.Context, ownerID string) ([]Card, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// Get returns a card of ownerID. Cards of other owners are reported as missing.
func (s *Service) Get(ctx context.Context, ownerID, cardID string) (Card, error) {
	card, err := s.repo.Get(ctx, cardID)
	if err != nil {
		return Card{}, err
	}
	if card.OwnerID != ownerID {
		return Card{}, ErrCardNotFound
	}
	return card, nil
}

// Deactivate soft-deletes a card. Deactivating an inactive card is a no-op.
func (s *Service) Deactivate(ctx context.Context, ownerID, cardID string) (Card, error) {
	card, err := s.repo.Update(ctx, cardID, func(card *Card) error {
		if card.OwnerID != ownerID {
			return ErrCardNotFound
		}
		card.Active = false
		return nil
	})
	if err != nil {
		return Card{}, err
	}
	s.logger.Info("card deactivated", slog.String("card_id", card.ID), slog.String("owner_id", ownerID))
	return card, nil
}

// Charge spends amount from the card after verifying its PIN and daily allowance.
func (s *Service) Charge(ctx context.Context, ownerID, cardID string, amount decimal.Decimal, pin string) (Card, error) {
	if !ledger.ValidAmount(amount) {
		return Card{}, ledger.ErrInvalidAmount
	}
	now := s.opts.Now()
	return s.repo.Update(ctx, cardID, func(card *Card) error {
		if card.OwnerID != ownerID {
			return ErrCardNotFound
		}
		if !pinMatches(card.PINHash, pin) {
			return ErrIncorrectPin
		}
		return card.Spend(amount, now)
	})
}

// CanSpend reports whether the card of ownerID can be charged amount now. A daily counter
// left over from an earlier day is reset and stored.
func (s *Service) CanSpend(ctx context.Context, ownerID, cardID string, amount decimal.Decimal) (bool, error) {
	if !ledger.ValidAmount(amount) {
		return false, ledger.ErrInvalidAmount
	}
	now := s.opts.Now()
	var ok bool
	_, err := s.repo.Update(ctx, cardID, func(card *Card) error {
		if card.OwnerID != ownerID {
			return ErrCardNotFound
		}
		ok = card.CanSpend(amount, now)
		return nil
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Reveal returns the verification code of a card after verifying its PIN.
func (s *Service) Reveal(ctx context.Context, ownerID, cardID, pin string) (string, error) {
	card, err := s.Get(ctx, ownerID, cardID)
	if err != nil {
		return "", err
	}
	if !card.Active {
		return "", ErrCardInactive
	}
	if !pinMatches(card.PINHash, pin) {
		return "", ErrIncorrectPin
	}
	cvv, err := s.sealer.Open(card.SealedCVV)
	if err != nil {
		return "", fmt.Errorf("open cvv: %w", err)
	}
	return string(cvv), nil
}
