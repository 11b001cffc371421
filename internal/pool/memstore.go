package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/xtrntr/swappool/internal/models"
)

// MemoryStore is a Store that keeps nothing beyond the pool itself. It is
// used when the service runs without a database.
type MemoryStore struct{}

// NewMemoryStore creates a MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (MemoryStore) SaveOffer(context.Context, *models.Offer, int64) error { return nil }

func (MemoryStore) SaveSwap(context.Context, *models.Swap, map[int64]int64, int64) error {
	return nil
}

func (MemoryStore) SettleAllocation(ctx context.Context, _ models.Settlement, transfer func(context.Context) error) error {
	return transfer(ctx)
}

func (MemoryStore) RemoveRecords(context.Context, []int64, []int64) error { return nil }

// MemoryArchive is an in-process append-only archive
type MemoryArchive struct {
	mu     sync.RWMutex
	offers map[int64]*models.Offer
	swaps  map[int64]*models.Swap
}

// NewMemoryArchive creates an empty MemoryArchive
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		offers: make(map[int64]*models.Offer),
		swaps:  make(map[int64]*models.Swap),
	}
}

// PutOffer appends an offer, failing if the id is already archived
func (a *MemoryArchive) PutOffer(_ context.Context, o *models.Offer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.offers[o.ID]; ok {
		return fmt.Errorf("archived offer %d: %w", o.ID, ErrDuplicateKey)
	}
	a.offers[o.ID] = o.Clone()
	return nil
}

// PutSwap appends a swap, failing if the id is already archived
func (a *MemoryArchive) PutSwap(_ context.Context, s *models.Swap) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.swaps[s.ID]; ok {
		return fmt.Errorf("archived swap %d: %w", s.ID, ErrDuplicateKey)
	}
	a.swaps[s.ID] = s.Clone()
	return nil
}

func (a *MemoryArchive) Offer(_ context.Context, id int64) (*models.Offer, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	o, ok := a.offers[id]
	if !ok {
		return nil, fmt.Errorf("archived offer %d: %w", id, ErrNotFound)
	}
	return o.Clone(), nil
}

func (a *MemoryArchive) Swap(_ context.Context, id int64) (*models.Swap, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.swaps[id]
	if !ok {
		return nil, fmt.Errorf("archived swap %d: %w", id, ErrNotFound)
	}
	return s.Clone(), nil
}
