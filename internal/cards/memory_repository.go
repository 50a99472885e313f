package cards

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumipay/lumipay/internal/ledger"
)

type memoryRepository struct {
	mu      sync.Mutex
	storage map[string]Card
	numbers map[string]string
	now     func() time.Time
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		storage: make(map[string]Card),
		numbers: make(map[string]string),
		now:     time.Now,
	}
}

func (r *memoryRepository) Insert(ctx context.Context, card *Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.numbers[card.Number]; exists {
		return ledger.ErrDuplicateID
	}
	if card.Active {
		for _, c := range r.storage {
			if c.Active && c.OwnerID == card.OwnerID && c.Type == card.Type {
				return ErrDuplicateCardType
			}
		}
	}
	card.ID = uuid.NewString()
	now := r.now().UTC()
	card.CreatedAt = now
	card.UpdatedAt = now
	r.storage[card.ID] = cloneCard(*card)
	r.numbers[card.Number] = card.ID
	id, number := card.ID, card.Number
	ledger.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.storage, id)
		delete(r.numbers, number)
	})
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	card, ok := r.storage[id]
	if !ok {
		return Card{}, ErrCardNotFound
	}
	return cloneCard(card), nil
}

func (r *memoryRepository) ListByOwner(_ context.Context, ownerID string) ([]Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cards []Card
	for _, c := range r.storage {
		if c.OwnerID == ownerID && c.Active {
			cards = append(cards, cloneCard(c))
		}
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].CreatedAt.After(cards[j].CreatedAt) })
	return cards, nil
}

func (r *memoryRepository) CountActive(_ context.Context, ownerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.storage {
		if c.OwnerID == ownerID && c.Active {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) HasActiveType(_ context.Context, ownerID string, t Type) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.storage {
		if c.OwnerID == ownerID && c.Type == t && c.Active {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepository) Update(_ context.Context, id string, fn func(card *Card) error) (Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.storage[id]
	if !ok {
		return Card{}, ErrCardNotFound
	}
	card := cloneCard(stored)
	if err := fn(&card); err != nil {
		return Card{}, err
	}
	card.UpdatedAt = r.now().UTC()
	r.storage[id] = cloneCard(card)
	return card, nil
}

func cloneCard(c Card) Card {
	if c.LastUsed != nil {
		used := *c.LastUsed
		c.LastUsed = &used
	}
	c.SealedCVV = append([]byte(nil), c.SealedCVV...)
	c.PINHash = append([]byte(nil), c.PINHash...)
	return c
}
