package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// Migrate applies the ledger schema. Statements are idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	return nil
}

// DBTX is the subset of pgx shared by pools and transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type txKey struct{}

// Conn returns the transaction of the unit of work carried by ctx, or fallback outside of one.
// Repositories sharing the ledger database use it to join the current unit.
func Conn(ctx context.Context, fallback DBTX) DBTX {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return fallback
}

// IsUniqueViolation reports whether err is a Postgres unique constraint violation, returning the
// constraint name.
func IsUniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

const (
	accountColumns = `id, owner_id, account_number, balance, created_at, updated_at`
	recordColumns  = `id, account_id, owner_id, amount, direction, transaction_id, session_id,
        sender_id, receiver_id, narration, balance_after, created_at`

	constraintAccountOwner  = "accounts_owner_unique"
	constraintAccountNumber = "accounts_number_unique"
)

// PostgresStore persists wallets and transaction records in PostgreSQL.
type PostgresStore struct {
	db   *pgxpool.Pool
	opts options
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool, opts ...Option) *PostgresStore {
	return &PostgresStore{db: db, opts: buildOptions(opts)}
}

func (s *PostgresStore) CreateAccount(ctx context.Context, account *Account) error {
	id := uuid.New()
	if account.ID != "" {
		parsed, err := uuid.Parse(account.ID)
		if err != nil {
			return fmt.Errorf("account id: %w", err)
		}
		id = parsed
	}
	now := s.opts.now().UTC()
	_, err := Conn(ctx, s.db).Exec(ctx, `INSERT INTO accounts (`+accountColumns+`)
        VALUES ($1, $2, $3, $4::numeric, $5, $5)`,
		id, account.OwnerID, account.AccountNumber, account.Balance.String(), now)
	if err != nil {
		if constraint, ok := IsUniqueViolation(err); ok {
			if constraint == constraintAccountOwner {
				return ErrAccountExists
			}
			return fmt.Errorf("%w: %s", ErrDuplicateID, constraint)
		}
		return err
	}
	account.ID = id.String()
	account.CreatedAt = now
	account.UpdatedAt = now
	return nil
}

func (s *PostgresStore) AccountByID(ctx context.Context, id string) (Account, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrAccountNotFound
	}
	return s.accountWhere(ctx, `id = $1`, parsed)
}

func (s *PostgresStore) AccountByOwner(ctx context.Context, ownerID string) (Account, error) {
	return s.accountWhere(ctx, `owner_id = $1`, ownerID)
}

func (s *PostgresStore) AccountByNumber(ctx context.Context, number string) (Account, error) {
	return s.accountWhere(ctx, `account_number = $1`, number)
}

func (s *PostgresStore) accountWhere(ctx context.Context, cond string, arg any) (Account, error) {
	row := Conn(ctx, s.db).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE `+cond, arg)
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return acct, nil
}

func (s *PostgresStore) RecordByTransactionID(ctx context.Context, transactionID string) (Record, error) {
	row := Conn(ctx, s.db).QueryRow(ctx, `SELECT `+recordColumns+` FROM transaction_records
        WHERE transaction_id = $1`, transactionID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

func (s *PostgresStore) History(ctx context.Context, accountID string, offset, limit int) ([]Record, int, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return nil, 0, ErrAccountNotFound
	}
	if offset < 0 || limit <= 0 {
		return nil, 0, ErrInvalidWindow
	}
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return history(ctx, tx, id, offset, limit)
	}

	var (
		records []Record
		total   int
	)
	// The count and the page come from one snapshot.
	err = pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var err error
		records, total, err = history(ctx, tx, id, offset, limit)
		return err
	})
	if err != nil {
		return nil, 0, classify(ctx, err)
	}
	return records, total, nil
}

func history(ctx context.Context, db DBTX, accountID uuid.UUID, offset, limit int) ([]Record, int, error) {
	var total int
	if err := db.QueryRow(ctx, `SELECT count(*) FROM transaction_records WHERE account_id = $1`, accountID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 || offset >= total {
		return nil, total, nil
	}

	rows, err := db.Query(ctx, `SELECT `+recordColumns+` FROM transaction_records
        WHERE account_id = $1
        ORDER BY created_at DESC, seq DESC
        LIMIT $2 OFFSET $3`, accountID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (s *PostgresStore) Atomic(ctx context.Context, accountIDs []string, fn func(ctx context.Context, tx Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(ctx, fmt.Errorf("begin unit of work: %w", err))
	}
	defer tx.Rollback(context.Background()) // nolint:errcheck

	unit := &pgTx{tx: tx, now: s.opts.now, accounts: make(map[string]uuid.UUID)}
	// Rows are locked in ascending id order so concurrent units cannot deadlock.
	for _, id := range sortedIDs(accountIDs) {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return ErrAccountNotFound
		}
		var locked uuid.UUID
		if err := tx.QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, parsed).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return classify(ctx, fmt.Errorf("lock account %s: %w", id, err))
		}
		unit.accounts[id] = locked
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx), unit); err != nil {
		return classify(ctx, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(ctx, fmt.Errorf("commit unit of work: %w", err))
	}
	return nil
}

// classify maps driver failures onto ledger error kinds, leaving already classified errors alone.
func classify(ctx context.Context, err error) error {
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimedOut, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %v", ErrContention, err)
		case "55P03", "57014":
			return fmt.Errorf("%w: %v", ErrTimedOut, err)
		}
	}
	return err
}

type pgTx struct {
	tx       pgx.Tx
	now      func() time.Time
	accounts map[string]uuid.UUID
}

func (t *pgTx) lockedID(id string) (uuid.UUID, error) {
	parsed, ok := t.accounts[id]
	if !ok {
		return uuid.Nil, ErrAccountNotLocked
	}
	return parsed, nil
}

func (t *pgTx) Account(ctx context.Context, id string) (Account, error) {
	parsed, err := t.lockedID(id)
	if err != nil {
		return Account{}, err
	}
	return scanAccount(t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, parsed))
}

func (t *pgTx) Debit(ctx context.Context, accountID string, amount decimal.Decimal) (Account, error) {
	if !amount.IsPositive() {
		return Account{}, ErrInvalidAmount
	}
	parsed, err := t.lockedID(accountID)
	if err != nil {
		return Account{}, err
	}
	row := t.tx.QueryRow(ctx, `UPDATE accounts SET balance = balance - $1::numeric, updated_at = $3
        WHERE id = $2 AND balance >= $1::numeric
        RETURNING `+accountColumns, amount.String(), parsed, t.now().UTC())
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrInsufficientFunds
		}
		return Account{}, err
	}
	return acct, nil
}

func (t *pgTx) Credit(ctx context.Context, accountID string, amount decimal.Decimal) (Account, error) {
	if !amount.IsPositive() {
		return Account{}, ErrInvalidAmount
	}
	parsed, err := t.lockedID(accountID)
	if err != nil {
		return Account{}, err
	}
	row := t.tx.QueryRow(ctx, `UPDATE accounts SET balance = balance + $1::numeric, updated_at = $3
        WHERE id = $2
        RETURNING `+accountColumns, amount.String(), parsed, t.now().UTC())
	return scanAccount(row)
}

func (t *pgTx) Append(ctx context.Context, rec *Record) error {
	accountID, err := t.lockedID(rec.AccountID)
	if err != nil {
		return err
	}
	id := uuid.New()
	createdAt := t.now().UTC()

	// A savepoint keeps the surrounding unit alive when an identifier collides.
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return err
	}
	_, err = sp.Exec(ctx, `INSERT INTO transaction_records (`+recordColumns+`)
        VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11::numeric, $12)`,
		id, accountID, rec.OwnerID, rec.Amount.String(), string(rec.Direction), rec.TransactionID, rec.SessionID,
		rec.SenderID, rec.ReceiverID, rec.Narration, rec.BalanceAfter.String(), createdAt)
	if err != nil {
		_ = sp.Rollback(ctx)
		if constraint, ok := IsUniqueViolation(err); ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, constraint)
		}
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return err
	}
	rec.ID = id.String()
	rec.CreatedAt = createdAt
	return nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		acct    Account
		id      uuid.UUID
		balance pgtype.Numeric
	)
	if err := row.Scan(&id, &acct.OwnerID, &acct.AccountNumber, &balance, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return Account{}, err
	}
	acct.ID = id.String()
	acct.Balance = NumericToDecimal(balance)
	return acct, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec                  Record
		id, accountID        uuid.UUID
		direction            string
		amount, balanceAfter pgtype.Numeric
	)
	err := row.Scan(&id, &accountID, &rec.OwnerID, &amount, &direction, &rec.TransactionID, &rec.SessionID,
		&rec.SenderID, &rec.ReceiverID, &rec.Narration, &balanceAfter, &rec.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	rec.ID = id.String()
	rec.AccountID = accountID.String()
	rec.Direction = Direction(direction)
	rec.Amount = NumericToDecimal(amount)
	rec.BalanceAfter = NumericToDecimal(balanceAfter)
	return rec, nil
}

// NumericToDecimal converts a scanned Postgres numeric. NULL and NaN become zero.
func NumericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.NaN || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
