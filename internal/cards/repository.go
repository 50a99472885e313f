package cards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumipay/lumipay/internal/ledger"
)

// Repository persists cards. Implementations sharing the ledger database join the unit of work
// carried by ctx.
type Repository interface {
	// Insert stores a new card, filling ID and timestamps. A card number clash yields
	// ledger.ErrDuplicateID; a second active card of the same type yields ErrDuplicateCardType.
	Insert(ctx context.Context, card *Card) error
	Get(ctx context.Context, id string) (Card, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Card, error)
	CountActive(ctx context.Context, ownerID string) (int, error)
	HasActiveType(ctx context.Context, ownerID string, t Type) (bool, error)
	// Update locks the card, applies fn and persists the result unless fn fails.
	Update(ctx context.Context, id string, fn func(card *Card) error) (Card, error)
}

const (
	cardColumns = `id, owner_id, account_id, card_number, card_type, expiry_month, expiry_year,
        sealed_cvv, pin_hash, is_active, balance, daily_limit, daily_spend, last_reset, last_used,
        created_at, updated_at`

	constraintActiveType = "cards_active_type_unique"
)

// PostgresRepository stores cards in PostgreSQL.
type PostgresRepository struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

// Insert stores a new card.
func (r *PostgresRepository) Insert(ctx context.Context, card *Card) error {
	id := uuid.New()
	accountID, err := uuid.Parse(card.AccountID)
	if err != nil {
		return ledger.ErrAccountNotFound
	}
	now := r.now().UTC()

	// A savepoint keeps the surrounding unit alive when the number collides.
	sp, err := ledger.Conn(ctx, r.db).Begin(ctx)
	if err != nil {
		return err
	}
	_, err = sp.Exec(ctx, `INSERT INTO cards (`+cardColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::numeric, $12::numeric, $13::numeric, $14, $15, $16, $16)`,
		id, card.OwnerID, accountID, card.Number, string(card.Type), card.ExpiryMonth, card.ExpiryYear,
		card.SealedCVV, card.PINHash, card.Active, card.Balance.String(), card.DailyLimit.String(),
		card.DailySpend.String(), card.LastReset, card.LastUsed, now)
	if err != nil {
		_ = sp.Rollback(ctx)
		if constraint, ok := ledger.IsUniqueViolation(err); ok {
			if constraint == constraintActiveType {
				return ErrDuplicateCardType
			}
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateID, constraint)
		}
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return err
	}
	card.ID = id.String()
	card.CreatedAt = now
	card.UpdatedAt = now
	return nil
}

// Get fetches a card by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Card, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Card{}, ErrCardNotFound
	}
	card, err := scanCard(ledger.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1`, parsed))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Card{}, ErrCardNotFound
		}
		return Card{}, err
	}
	return card, nil
}

// ListByOwner returns the active cards of ownerID, newest first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]Card, error) {
	rows, err := ledger.Conn(ctx, r.db).Query(ctx, `SELECT `+cardColumns+` FROM cards
        WHERE owner_id = $1 AND is_active
        ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

// CountActive returns the number of active cards of ownerID.
func (r *PostgresRepository) CountActive(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := ledger.Conn(ctx, r.db).QueryRow(ctx, `SELECT count(*) FROM cards WHERE owner_id = $1 AND is_active`, ownerID).Scan(&n)
	return n, err
}

// HasActiveType reports whether ownerID holds an active card of type t.
func (r *PostgresRepository) HasActiveType(ctx context.Context, ownerID string, t Type) (bool, error) {
	var exists bool
	err := ledger.Conn(ctx, r.db).QueryRow(ctx, `SELECT EXISTS (
        SELECT 1 FROM cards WHERE owner_id = $1 AND card_type = $2 AND is_active)`, ownerID, string(t)).Scan(&exists)
	return exists, err
}

// Update locks the card row, applies fn and writes back the mutable fields.
func (r *PostgresRepository) Update(ctx context.Context, id string, fn func(card *Card) error) (Card, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Card{}, ErrCardNotFound
	}
	tx, err := ledger.Conn(ctx, r.db).Begin(ctx)
	if err != nil {
		return Card{}, err
	}
	defer tx.Rollback(context.Background()) // nolint:errcheck

	card, err := scanCard(tx.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1 FOR UPDATE`, parsed))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Card{}, ErrCardNotFound
		}
		return Card{}, err
	}
	if err := fn(&card); err != nil {
		return Card{}, err
	}
	card.UpdatedAt = r.now().UTC()
	_, err = tx.Exec(ctx, `UPDATE cards SET is_active = $2, balance = $3::numeric, daily_spend = $4::numeric,
        last_reset = $5, last_used = $6, updated_at = $7
        WHERE id = $1`,
		parsed, card.Active, card.Balance.String(), card.DailySpend.String(), card.LastReset, card.LastUsed, card.UpdatedAt)
	if err != nil {
		return Card{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Card{}, err
	}
	return card, nil
}

func scanCard(row pgx.Row) (Card, error) {
	var (
		card                            Card
		id, accountID                   uuid.UUID
		cardType                        string
		expiryMonth, expiryYear         int16
		balance, dailyLimit, dailySpend pgtype.Numeric
	)
	err := row.Scan(&id, &card.OwnerID, &accountID, &card.Number, &cardType, &expiryMonth, &expiryYear,
		&card.SealedCVV, &card.PINHash, &card.Active, &balance, &dailyLimit, &dailySpend, &card.LastReset,
		&card.LastUsed, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return Card{}, err
	}
	card.ID = id.String()
	card.AccountID = accountID.String()
	card.Type = Type(cardType)
	card.ExpiryMonth = int(expiryMonth)
	card.ExpiryYear = int(expiryYear)
	card.Balance = ledger.NumericToDecimal(balance)
	card.DailyLimit = ledger.NumericToDecimal(dailyLimit)
	card.DailySpend = ledger.NumericToDecimal(dailySpend)
	card.LastReset = card.LastReset.UTC()
	return card, nil
}
