package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/xtrntr/swappool/internal/models"
)

// LedgerView gives a TrimPolicy read access to the active ledgers
type LedgerView interface {
	Swap(id int64) (*models.Swap, bool)
	Capacity(o *models.Offer) int64
}

// TrimPolicy decides which records are terminal and may leave the active
// ledgers. The pool additionally refuses to archive anything a pending
// settlement or a liveness computation could still reach.
type TrimPolicy interface {
	OfferTerminal(o *models.Offer, view LedgerView, now time.Time) bool
	SwapTerminal(s *models.Swap, now time.Time) bool
}

// DefaultTrimPolicy archives swaps that are fully settled or expired, and
// offers with no pending allocation that are either past their unlock time
// or fully consumed by settled swaps.
type DefaultTrimPolicy struct{}

func (DefaultTrimPolicy) SwapTerminal(s *models.Swap, now time.Time) bool {
	return s.FullySettled || s.Expired(now)
}

func (DefaultTrimPolicy) OfferTerminal(o *models.Offer, view LedgerView, now time.Time) bool {
	for swapID := range o.Allocations {
		s, ok := view.Swap(swapID)
		if !ok {
			return false
		}
		if s.Pending(now) {
			return false
		}
	}
	return !now.Before(o.UnlockAt) || view.Capacity(o) <= 0
}

type poolView struct {
	p   *Pool
	now time.Time
}

func (v poolView) Swap(id int64) (*models.Swap, bool) {
	s, ok := v.p.swaps[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

func (v poolView) Capacity(o *models.Offer) int64 {
	return v.p.capacity(o, v.now)
}

// TrimLedgers moves terminal offers and swaps into the archive
func (p *Pool) TrimLedgers(ctx context.Context, caller string) (*models.TrimResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.access.IsOracle(caller) {
		return nil, fmt.Errorf("%q is not an oracle: %w", caller, ErrUnauthorized)
	}

	now := p.now()
	view := poolView{p: p, now: now}
	result := &models.TrimResult{Offers: []int64{}, Swaps: []int64{}}

	remove := make(map[int64]bool)
	for _, id := range p.offerOrder {
		offer := p.offers[id]
		if p.hasPending(offer, now) || !p.policy.OfferTerminal(offer.Clone(), view, now) {
			continue
		}
		if err := p.archiveOffer(ctx, offer); err != nil {
			p.logger.Error("archive offer failed", "offer_id", id, "error", err)
			continue
		}
		remove[id] = true
		result.Offers = append(result.Offers, id)
	}

	// swaps still referenced by an offer that stays active must stay too
	referenced := make(map[int64]bool)
	for _, id := range p.offerOrder {
		if remove[id] {
			continue
		}
		for swapID := range p.offers[id].Allocations {
			referenced[swapID] = true
		}
	}
	for _, id := range p.swapIDs() {
		swap := p.swaps[id]
		if referenced[id] || !p.policy.SwapTerminal(swap.Clone(), now) {
			continue
		}
		if err := p.archiveSwap(ctx, swap); err != nil {
			p.logger.Error("archive swap failed", "swap_id", id, "error", err)
			continue
		}
		result.Swaps = append(result.Swaps, id)
	}

	if len(result.Offers) == 0 && len(result.Swaps) == 0 {
		return result, nil
	}
	if err := p.store.RemoveRecords(ctx, result.Offers, result.Swaps); err != nil {
		return nil, fmt.Errorf("failed to remove archived records: %w", err)
	}

	order := p.offerOrder[:0]
	for _, id := range p.offerOrder {
		if remove[id] {
			delete(p.offers, id)
			continue
		}
		order = append(order, id)
	}
	p.offerOrder = order
	for _, id := range result.Swaps {
		delete(p.swaps, id)
	}

	p.logger.Info("ledgers trimmed", "caller", caller, "offers", len(result.Offers), "swaps", len(result.Swaps))
	p.emit(ctx, models.Event{Type: models.EventLedgerTrimmed, Payload: result})
	return result, nil
}

// archiveOffer appends the offer to the archive. An existing entry counts as
// archived only when it is the same record, as left by an interrupted trim.
func (p *Pool) archiveOffer(ctx context.Context, offer *models.Offer) error {
	err := p.archive.PutOffer(ctx, offer)
	if !errors.Is(err, ErrDuplicateKey) {
		return err
	}
	stored, getErr := p.archive.Offer(ctx, offer.ID)
	if getErr != nil {
		return fmt.Errorf("read archived offer %d: %w", offer.ID, getErr)
	}
	if !stored.Equal(offer) {
		return fmt.Errorf("archive holds a different offer %d: %w", offer.ID, err)
	}
	return nil
}

// archiveSwap is archiveOffer for swaps
func (p *Pool) archiveSwap(ctx context.Context, swap *models.Swap) error {
	err := p.archive.PutSwap(ctx, swap)
	if !errors.Is(err, ErrDuplicateKey) {
		return err
	}
	stored, getErr := p.archive.Swap(ctx, swap.ID)
	if getErr != nil {
		return fmt.Errorf("read archived swap %d: %w", swap.ID, getErr)
	}
	if !stored.Equal(swap) {
		return fmt.Errorf("archive holds a different swap %d: %w", swap.ID, err)
	}
	return nil
}

func (p *Pool) swapIDs() []int64 {
	ids := make([]int64, 0, len(p.swaps))
	for id := range p.swaps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// hasPending reports whether any allocation on the offer may still be settled
func (p *Pool) hasPending(o *models.Offer, now time.Time) bool {
	for swapID := range o.Allocations {
		s, ok := p.swaps[swapID]
		if !ok || s.Pending(now) {
			return true
		}
	}
	return false
}
