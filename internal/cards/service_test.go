package cards

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lumipay/lumipay/internal/idgen"
	"github.com/lumipay/lumipay/internal/ledger"
	"github.com/lumipay/lumipay/internal/logging"
	"github.com/lumipay/lumipay/internal/notification"
	"github.com/lumipay/lumipay/internal/wallet"
)

type testNotifier struct {
	mu   sync.Mutex
	msgs []notification.Message
}

func (n *testNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

type fixture struct {
	store      ledger.Store
	repo       Repository
	svc        *Service
	wallets    *wallet.Service
	notifier   *testNotifier
	dispatcher *notification.Dispatcher
	clock      *time.Time
}

func newFixture(t *testing.T, opts ...ledger.Option) *fixture {
	t.Helper()
	store := ledger.NewInMemory(opts...)
	ids := idgen.New()
	notifier := &testNotifier{}
	dispatcher := notification.NewDispatcher(notifier, logging.Discard(), time.Second)
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	f := &fixture{
		store:      store,
		wallets:    wallet.NewService(store, ids, wallet.Options{OpeningBalance: wallet.DefaultOpeningBalance}, logging.Discard()),
		notifier:   notifier,
		dispatcher: dispatcher,
		clock:      &now,
	}
	f.use(t, NewMemoryRepository())
	return f
}

// use rebuilds the service on top of repo.
func (f *fixture) use(t *testing.T, repo Repository) {
	t.Helper()
	sealer, err := NewEphemeralSealer()
	require.NoError(t, err)
	f.repo = repo
	f.svc = NewService(f.store, repo, idgen.New(), sealer, f.dispatcher, logging.Discard(), Options{
		IssuanceFee: DefaultIssuanceFee,
		DailyLimit:  DefaultDailyLimit,
		MaxActive:   3,
		PINCost:     bcrypt.MinCost,
		Now:         func() time.Time { return *f.clock },
	})
}

func (f *fixture) open(t *testing.T, owner string) ledger.Account {
	t.Helper()
	acct, err := f.wallets.Open(context.Background(), owner)
	require.NoError(t, err)
	return acct
}

func issueInput(owner, cardType string) IssueInput {
	return IssueInput{OwnerID: owner, Type: cardType, PIN: "1234", ConfirmPIN: "1234"}
}

func TestIssueChargesFeeAndCreatesCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.open(t, "alice")

	res, err := f.svc.Issue(ctx, issueInput("alice", "visa"))
	require.NoError(t, err)

	card := res.Card
	assert.NotEmpty(t, card.ID)
	assert.Len(t, card.Number, 16)
	assert.True(t, strings.HasPrefix(card.Number, "4"))
	assert.True(t, idgen.ValidLuhn(card.Number))
	assert.Equal(t, 5, card.ExpiryMonth)
	assert.Equal(t, 2030, card.ExpiryYear)
	assert.Equal(t, "05/30", card.Expiry())
	assert.True(t, card.Active)
	assert.True(t, card.Balance.Equal(decimal.RequireFromString("99000.00")), card.Balance.String())
	assert.True(t, card.DailyLimit.Equal(DefaultDailyLimit))

	require.Len(t, res.CVV, 3)
	assert.NotContains(t, string(card.SealedCVV), res.CVV)
	assert.True(t, pinMatches(card.PINHash, "1234"))

	got, _ := f.store.AccountByID(ctx, acct.ID)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("99000.00")))

	records, total, err := f.store.History(ctx, acct.ID, 0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, ledger.Debit, records[0].Direction)
	assert.True(t, records[0].Amount.Equal(DefaultIssuanceFee))
	assert.Equal(t, "Card creation fee for new visa card", records[0].Narration)
	assert.True(t, records[0].BalanceAfter.Equal(got.Balance))

	require.NoError(t, f.dispatcher.Close(ctx))
	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	require.Len(t, f.notifier.msgs, 1)
	assert.Equal(t, notification.KindCardIssued, f.notifier.msgs[0].Kind)
	assert.Equal(t, card.MaskedNumber(), f.notifier.msgs[0].Attributes["masked_number"])
}

func TestIssueUsesSchemePrefixes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "alice")

	for _, tc := range []struct {
		cardType string
		prefixes []string
	}{
		{"mastercard", MasterCard.Prefixes()},
		{"amex", Amex.Prefixes()},
		{"verve", Verve.Prefixes()},
	} {
		res, err := f.svc.Issue(ctx, issueInput("alice", tc.cardType))
		require.NoError(t, err)
		matched := false
		for _, p := range tc.prefixes {
			if strings.HasPrefix(res.Card.Number, p) {
				matched = true
			}
		}
		assert.True(t, matched, "%s number %s", tc.cardType, res.Card.Number)
		assert.True(t, idgen.ValidLuhn(res.Card.Number))
	}
}

func TestIssueInsufficientFundsLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.open(t, "alice")
	ledger.SeedBalance(f.store, acct.ID, decimal.RequireFromString("500.00"))

	_, err := f.svc.Issue(ctx, issueInput("alice", "visa"))
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	got, _ := f.store.AccountByID(ctx, acct.ID)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("500.00")))
	_, total, _ := f.store.History(ctx, acct.ID, 0, 10)
	assert.Zero(t, total)
	n, _ := f.repo.CountActive(ctx, "alice")
	assert.Zero(t, n)
}

func TestIssueDuplicateTypeAndLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.open(t, "alice")

	_, err := f.svc.Issue(ctx, issueInput("alice", "visa"))
	require.NoError(t, err)

	_, err = f.svc.Issue(ctx, issueInput("alice", "visa"))
	require.ErrorIs(t, err, ErrDuplicateCardType)
	assert.Equal(t, ledger.KindConflict, ledger.KindOf(err))

	_, err = f.svc.Issue(ctx, issueInput("alice", "verve"))
	require.NoError(t, err)
	_, err = f.svc.Issue(ctx, issueInput("alice", "mastercard"))
	require.NoError(t, err)

	_, err = f.svc.Issue(ctx, issueInput("alice", "amex"))
	require.ErrorIs(t, err, ErrCardLimitReached)
	assert.Equal(t, ledger.KindLimitExceeded, ledger.KindOf(err))

	got, _ := f.store.AccountByID(ctx, acct.ID)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("97000.00")), got.Balance.String())
}

func TestIssueRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "alice")

	cases := []struct {
		name  string
		input IssueInput
		want  error
	}{
		{"short pin", IssueInput{OwnerID: "alice", Type: "visa", PIN: "123", ConfirmPIN: "123"}, ErrInvalidPin},
		{"letters", IssueInput{OwnerID: "alice", Type: "visa", PIN: "12ab", ConfirmPIN: "12ab"}, ErrInvalidPin},
		{"mismatch", IssueInput{OwnerID: "alice", Type: "visa", PIN: "1234", ConfirmPIN: "4321"}, ErrInvalidPin},
		{"unknown type", issueInput("alice", "discover"), ErrUnknownCardType},
		{"pin checked before type", IssueInput{OwnerID: "alice", Type: "discover", PIN: "1", ConfirmPIN: "1"}, ErrInvalidPin},
		{"no wallet", issueInput("bob", "visa"), ledger.ErrAccountNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Issue(ctx, tc.input)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestConcurrentIssueOfSameTypeYieldsOneCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.open(t, "alice")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Issue(ctx, issueInput("alice", "visa"))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrDuplicateCardType) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	got, _ := f.store.AccountByID(ctx, acct.ID)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("99000.00")))
}

func TestDeactivateFreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "alice")

	res, err := f.svc.Issue(ctx, issueInput("alice", "visa"))
	require.NoError(t, err)

	_, err = f.svc.Deactivate(ctx, "bob", res.Card.ID)
	require.ErrorIs(t, err, ErrCardNotFound)

	card, err := f.svc.Deactivate(ctx, "alice", res.Card.ID)
	require.NoError(t, err)
	assert.False(t, card.Active)
	_, err = f.svc.Deactivate(ctx, "alice", res.Card.ID)
	require.NoError(t, err)

	list, err := f.svc.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)

	stored, err := f.svc.Get(ctx, "alice", res.Card.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)

	_, err = f.svc.Issue(ctx, issueInput("alice", "visa"))
	require.NoError(t, err)
	list, _ = f.svc.List(ctx, "alice")
	assert.Len(t, list, 1)
}

func TestChargeAndReveal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "alice")

	res, err := f.svc.Issue(ctx, issueInput("alice", "visa"))
	require.NoError(t, err)
	id := res.Card.ID

	_, err = f.svc.Charge(ctx, "alice", id, decimal.RequireFromString("10.00"), "9999")
	require.ErrorIs(t, err, ErrIncorrectPin)

	_, err = f.svc.Charge(ctx, "bob", id, decimal.RequireFromString("10.00"), "1234")
	require.ErrorIs(t, err, ErrCardNotFound)

	card, err := f.svc.Charge(ctx, "alice", id, decimal.RequireFromString("90000.00"), "1234")
	require.NoError(t, err)
	assert.True(t, card.Balance.Equal(decimal.RequireFromString("9000.00")))
	assert.True(t, card.DailySpend.Equal(decimal.RequireFromString("90000.00")))

	_, err = f.svc.Charge(ctx, "alice", id, decimal.RequireFromString("9000.01"), "1234")
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	cvv, err := f.svc.Reveal(ctx, "alice", id, "1234")
	require.NoError(t, err)
	assert.Equal(t, res.CVV, cvv)
	_, err = f.svc.Reveal(ctx, "alice", id, "0000")
	require.ErrorIs(t, err, ErrIncorrectPin)

	_, err = f.svc.Deactivate(ctx, "alice", id)
	require.NoError(t, err)
	_, err = f.svc.Charge(ctx, "alice", id, decimal.RequireFromString("1.00"), "1234")
	require.ErrorIs(t, err, ErrCardInactive)
}

func TestChargeDailyLimitResetsNextDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.open(t, "alice")
	ledger.SeedBalance(f.store, acct.ID, decimal.RequireFromString("2000000.00"))

	res, err := f.svc.Issue(ctx, issueInput("alice", "visa"))
	require.NoError(t, err)
	id := res.Card.ID

	_, err = f.svc.Charge(ctx, "alice", id, decimal.RequireFromString("500000.00"), "1234")
	require.NoError(t, err)
	_, err = f.svc.Charge(ctx, "alice", id, decimal.RequireFromString("0.01"), "1234")
	require.ErrorIs(t, err, ErrDailyLimitExceeded)

	*f.clock = f.clock.Add(24 * time.Hour)
	card, err := f.svc.Charge(ctx, "alice", id, decimal.RequireFromString("100.00"), "1234")
	require.NoError(t, err)
	assert.True(t, card.DailySpend.Equal(decimal.RequireFromString("100.00")))
}

func TestCanSpendStoresDailyReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.open(t, "alice")
	ledger.SeedBalance(f.store, acct.ID, decimal.RequireFromString("2000000.00"))

	res, err := f.svc.Issue(ctx, issueInput("alice", "visa"))
	require.NoError(t, err)
	id := res.Card.ID

	_, err = f.svc.Charge(ctx, "alice", id, decimal.RequireFromString("500000.00"), "1234")
	require.NoError(t, err)
	ok, err := f.svc.CanSpend(ctx, "alice", id, decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.CanSpend(ctx, "bob", id, decimal.RequireFromString("0.01"))
	require.ErrorIs(t, err, ErrCardNotFound)

	*f.clock = f.clock.Add(24 * time.Hour)
	ok, err = f.svc.CanSpend(ctx, "alice", id, decimal.RequireFromString("500000.00"))
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := f.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.DailySpend.IsZero(), stored.DailySpend.String())
	assert.Equal(t, day(*f.clock), stored.LastReset)
}

// slowRepo stalls after a successful insert so the surrounding unit of work overruns its deadline.
type slowRepo struct {
	Repository
	delay time.Duration
}

func (r *slowRepo) Insert(ctx context.Context, card *Card) error {
	if err := r.Repository.Insert(ctx, card); err != nil {
		return err
	}
	time.Sleep(r.delay)
	return nil
}

func TestIssueTimeoutAfterInsertLeavesNoCard(t *testing.T) {
	f := newFixture(t, ledger.WithOperationTimeout(30*time.Millisecond))
	ctx := context.Background()
	acct := f.open(t, "alice")
	slow := &slowRepo{Repository: NewMemoryRepository(), delay: 60 * time.Millisecond}
	f.use(t, slow)

	_, err := f.svc.Issue(ctx, issueInput("alice", "visa"))
	require.ErrorIs(t, err, ledger.ErrTimedOut)
	assert.True(t, ledger.Retryable(err))

	got, _ := f.store.AccountByID(ctx, acct.ID)
	assert.True(t, got.Balance.Equal(wallet.DefaultOpeningBalance), got.Balance.String())
	list, err := f.svc.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)

	slow.delay = 0
	res, err := f.svc.Issue(ctx, issueInput("alice", "visa"))
	require.NoError(t, err)
	assert.True(t, res.Card.Balance.Equal(decimal.RequireFromString("99000.00")), res.Card.Balance.String())
}
