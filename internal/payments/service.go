package payments

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/lumipay/lumipay/internal/idgen"
	"github.com/lumipay/lumipay/internal/ledger"
	"github.com/lumipay/lumipay/internal/logging"
	"github.com/lumipay/lumipay/internal/notification"
)

// ErrNarrationTooLong rejects narrations above ledger.MaxNarrationLength characters.
var ErrNarrationTooLong = ledger.NewError(ledger.KindInvalidInput, "narration_too_long",
	fmt.Sprintf("narration must be at most %d characters", ledger.MaxNarrationLength))

// Service moves funds between wallets.
type Service struct {
	store       ledger.Store
	ids         *idgen.Generator
	dispatcher  *notification.Dispatcher
	logger      *slog.Logger
	maxAttempts int
}

// NewService constructs a payment service.
func NewService(store ledger.Store, ids *idgen.Generator, dispatcher *notification.Dispatcher, logger *slog.Logger, maxAttempts int) *Service {
	if ids == nil {
		ids = idgen.New()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Service{store: store, ids: ids, dispatcher: dispatcher, logger: logger, maxAttempts: maxAttempts}
}

// TransferInput captures the data needed to move funds between wallets.
type TransferInput struct {
	SenderOwnerID          string
	RecipientAccountNumber string
	Amount                 decimal.Decimal
	Narration              string
}

// Transfer debits the sender wallet and credits the recipient wallet in one unit of work and
// returns the sender's debit record.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (ledger.Record, error) {
	if !ledger.ValidAmount(input.Amount) {
		return ledger.Record{}, ledger.ErrInvalidAmount
	}
	if utf8.RuneCountInString(input.Narration) > ledger.MaxNarrationLength {
		return ledger.Record{}, ErrNarrationTooLong
	}

	sender, err := s.store.AccountByOwner(ctx, input.SenderOwnerID)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("load sender wallet: %w", err)
	}
	recipient, err := s.store.AccountByNumber(ctx, input.RecipientAccountNumber)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("load recipient wallet: %w", err)
	}
	if sender.ID == recipient.ID {
		return ledger.Record{}, ledger.ErrSelfTransfer
	}
	if sender.Balance.LessThan(input.Amount) {
		return ledger.Record{}, ledger.ErrInsufficientFunds
	}

	var debit ledger.Record
	err = s.store.Atomic(ctx, []string{sender.ID, recipient.ID}, func(ctx context.Context, tx ledger.Tx) error {
		debited, err := tx.Debit(ctx, sender.ID, input.Amount)
		if err != nil {
			return err
		}
		credited, err := tx.Credit(ctx, recipient.ID, input.Amount)
		if err != nil {
			return err
		}

		debit = ledger.Record{
			AccountID:    sender.ID,
			OwnerID:      sender.OwnerID,
			Amount:       input.Amount,
			Direction:    ledger.Debit,
			SenderID:     sender.OwnerID,
			ReceiverID:   recipient.OwnerID,
			Narration:    input.Narration,
			BalanceAfter: debited.Balance,
		}
		if err := ledger.AppendNew(ctx, tx, s.ids, s.maxAttempts, &debit); err != nil {
			return fmt.Errorf("append debit record: %w", err)
		}

		credit := ledger.Record{
			AccountID:    recipient.ID,
			OwnerID:      recipient.OwnerID,
			Amount:       input.Amount,
			Direction:    ledger.Credit,
			SenderID:     sender.OwnerID,
			ReceiverID:   recipient.OwnerID,
			Narration:    input.Narration,
			BalanceAfter: credited.Balance,
		}
		if err := ledger.AppendNew(ctx, tx, s.ids, s.maxAttempts, &credit); err != nil {
			return fmt.Errorf("append credit record: %w", err)
		}
		return nil
	})
	if err != nil {
		return ledger.Record{}, fmt.Errorf("transfer: %w", err)
	}

	s.logger.Info("transfer completed",
		slog.String("transaction_id", debit.TransactionID),
		slog.String("sender_account", sender.ID),
		slog.String("recipient_account", recipient.ID),
		slog.String("amount", input.Amount.StringFixed(2)),
	)

	s.dispatcher.Dispatch(notification.Message{
		Kind:         notification.KindTransfer,
		Destinations: []string{sender.OwnerID, recipient.OwnerID},
		Body: fmt.Sprintf("Transfer of %s from %s to %s completed. Transaction ID: %s",
			input.Amount.StringFixed(2), sender.AccountNumber, recipient.AccountNumber, debit.TransactionID),
		Attributes: map[string]string{
			"transaction_id":    debit.TransactionID,
			"amount":            input.Amount.StringFixed(2),
			"sender_account":    sender.AccountNumber,
			"recipient_account": recipient.AccountNumber,
		},
	})

	return debit, nil
}
