package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type inMemoryStore struct {
	opts options

	mu             sync.RWMutex
	accounts       map[string]Account
	byOwner        map[string]string
	byNumber       map[string]string
	records        []Record
	transactionIDs map[string]struct{}
	sessionIDs     map[string]struct{}

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit tests and local runs.
// Accounts are locked individually so units over disjoint accounts run in parallel.
func NewInMemory(opts ...Option) Store {
	return &inMemoryStore{
		opts:           buildOptions(opts),
		accounts:       make(map[string]Account),
		byOwner:        make(map[string]string),
		byNumber:       make(map[string]string),
		transactionIDs: make(map[string]struct{}),
		sessionIDs:     make(map[string]struct{}),
		locks:          make(map[string]chan struct{}),
	}
}

func (s *inMemoryStore) CreateAccount(_ context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byOwner[account.OwnerID]; exists {
		return ErrAccountExists
	}
	if _, exists := s.byNumber[account.AccountNumber]; exists {
		return ErrDuplicateID
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := s.opts.now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	s.accounts[account.ID] = *account
	s.byOwner[account.OwnerID] = account.ID
	s.byNumber[account.AccountNumber] = account.ID
	return nil
}

func (s *inMemoryStore) AccountByID(_ context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

func (s *inMemoryStore) AccountByOwner(ctx context.Context, ownerID string) (Account, error) {
	s.mu.RLock()
	id, ok := s.byOwner[ownerID]
	s.mu.RUnlock()
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return s.AccountByID(ctx, id)
}

func (s *inMemoryStore) AccountByNumber(ctx context.Context, number string) (Account, error) {
	s.mu.RLock()
	id, ok := s.byNumber[number]
	s.mu.RUnlock()
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return s.AccountByID(ctx, id)
}

func (s *inMemoryStore) RecordByTransactionID(_ context.Context, transactionID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].TransactionID == transactionID {
			return s.records[i], nil
		}
	}
	return Record{}, ErrRecordNotFound
}

func (s *inMemoryStore) History(_ context.Context, accountID string, offset, limit int) ([]Record, int, error) {
	if offset < 0 || limit <= 0 {
		return nil, 0, ErrInvalidWindow
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		page  []Record
		total int
	)
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].AccountID != accountID {
			continue
		}
		if total >= offset && len(page) < limit {
			page = append(page, s.records[i])
		}
		total++
	}
	return page, total, nil
}

func (s *inMemoryStore) Atomic(ctx context.Context, accountIDs []string, fn func(ctx context.Context, tx Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	ids := sortedIDs(accountIDs)
	s.mu.RLock()
	for _, id := range ids {
		if _, ok := s.accounts[id]; !ok {
			s.mu.RUnlock()
			return ErrAccountNotFound
		}
	}
	s.mu.RUnlock()

	release, err := s.lock(ctx, ids)
	if err != nil {
		return err
	}
	defer release()

	tx := &memTx{store: s, accounts: make(map[string]Account, len(ids))}
	s.mu.RLock()
	for _, id := range ids {
		tx.accounts[id] = s.accounts[id]
	}
	s.mu.RUnlock()
	ctx = context.WithValue(ctx, unitKey{}, tx)

	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	if ctx.Err() != nil {
		tx.rollback()
		return fmt.Errorf("%w: %v", ErrTimedOut, ctx.Err())
	}
	tx.commit()
	return nil
}

// lock acquires the per-account locks in the given (sorted) order, giving up when ctx expires.
func (s *inMemoryStore) lock(ctx context.Context, ids []string) (func(), error) {
	held := make([]chan struct{}, 0, len(ids))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, id := range ids {
		ch := s.lockFor(id)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, fmt.Errorf("%w: waiting for account %s", ErrTimedOut, id)
		}
	}
	return release, nil
}

func (s *inMemoryStore) lockFor(id string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

type unitKey struct{}

// OnRollback registers undo to run when the in-memory unit of work carried by ctx is
// discarded. Collaborators outside the ledger that write during a unit use it to join the
// unit. It reports false when ctx carries no in-memory unit.
func OnRollback(ctx context.Context, undo func()) bool {
	tx, ok := ctx.Value(unitKey{}).(*memTx)
	if !ok {
		return false
	}
	tx.undoMu.Lock()
	tx.undo = append(tx.undo, undo)
	tx.undoMu.Unlock()
	return true
}

type memTx struct {
	store    *inMemoryStore
	accounts map[string]Account
	dirty    map[string]struct{}
	records  []Record

	undoMu sync.Mutex
	undo   []func()
}

func (t *memTx) Account(_ context.Context, id string) (Account, error) {
	acct, ok := t.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotLocked
	}
	return acct, nil
}

func (t *memTx) Debit(ctx context.Context, accountID string, amount decimal.Decimal) (Account, error) {
	if !amount.IsPositive() {
		return Account{}, ErrInvalidAmount
	}
	acct, err := t.Account(ctx, accountID)
	if err != nil {
		return Account{}, err
	}
	if acct.Balance.LessThan(amount) {
		return Account{}, ErrInsufficientFunds
	}
	acct.Balance = acct.Balance.Sub(amount)
	return t.put(acct), nil
}

func (t *memTx) Credit(ctx context.Context, accountID string, amount decimal.Decimal) (Account, error) {
	if !amount.IsPositive() {
		return Account{}, ErrInvalidAmount
	}
	acct, err := t.Account(ctx, accountID)
	if err != nil {
		return Account{}, err
	}
	acct.Balance = acct.Balance.Add(amount)
	return t.put(acct), nil
}

func (t *memTx) put(acct Account) Account {
	acct.UpdatedAt = t.store.opts.now().UTC()
	t.accounts[acct.ID] = acct
	if t.dirty == nil {
		t.dirty = make(map[string]struct{})
	}
	t.dirty[acct.ID] = struct{}{}
	return acct
}

func (t *memTx) Append(_ context.Context, rec *Record) error {
	if _, ok := t.accounts[rec.AccountID]; !ok {
		return ErrAccountNotLocked
	}
	s := t.store
	s.mu.Lock()
	_, txTaken := s.transactionIDs[rec.TransactionID]
	_, sessionTaken := s.sessionIDs[rec.SessionID]
	if txTaken || sessionTaken {
		s.mu.Unlock()
		return ErrDuplicateID
	}
	// Reserve now so concurrent units cannot claim the same identifiers before this one commits.
	s.transactionIDs[rec.TransactionID] = struct{}{}
	s.sessionIDs[rec.SessionID] = struct{}{}
	s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = s.opts.now().UTC()
	t.records = append(t.records, *rec)
	return nil
}

func (t *memTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range t.dirty {
		s.accounts[id] = t.accounts[id]
	}
	s.records = append(s.records, t.records...)
}

func (t *memTx) rollback() {
	t.undoMu.Lock()
	undo := t.undo
	t.undo = nil
	t.undoMu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}

	if len(t.records) == 0 {
		return
	}
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range t.records {
		delete(s.transactionIDs, rec.TransactionID)
		delete(s.sessionIDs, rec.SessionID)
	}
}
