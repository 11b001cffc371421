package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xtrntr/swappool/internal/models"
)

// ApplySettlementBatch applies oracle delivery confirmations in order. Each
// update is applied independently: malformed, duplicate or failed updates
// are reported in the result and never block the rest of the batch.
func (p *Pool) ApplySettlementBatch(ctx context.Context, caller string, updates []models.SettlementUpdate) (*models.BatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.access.IsOracle(caller) {
		return nil, fmt.Errorf("%q is not an oracle: %w", caller, ErrUnauthorized)
	}

	result := &models.BatchResult{
		BatchID:  uuid.NewString(),
		Outcomes: make([]models.SettlementOutcome, 0, len(updates)),
	}
	for _, u := range updates {
		outcome := p.settle(ctx, u)
		if outcome.Status == models.OutcomeApplied {
			result.Applied++
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	p.logger.Info("settlement batch applied", "batch_id", result.BatchID, "caller", caller,
		"updates", len(updates), "applied", result.Applied)
	return result, nil
}

func (p *Pool) settle(ctx context.Context, u models.SettlementUpdate) models.SettlementOutcome {
	out := models.SettlementOutcome{SettlementUpdate: u}
	if !u.Delivered {
		out.Status = models.OutcomeNotDelivered
		return out
	}
	offer, ok := p.offers[u.OfferID]
	if !ok {
		out.Status = models.OutcomeUnknownOffer
		return out
	}
	alloc, ok := offer.Allocations[u.SwapID]
	if !ok {
		out.Status = models.OutcomeUnknownAllocation
		return out
	}
	if alloc.Sent {
		out.Status = models.OutcomeAlreadySent
		return out
	}
	swap, ok := p.swaps[u.SwapID]
	if !ok {
		out.Status = models.OutcomeUnknownSwap
		return out
	}
	now := p.now()
	settled := swap.SettledAmount + alloc.Amount
	if settled > swap.RequestedAmount {
		out.Status = models.OutcomeOverSettled
		return out
	}
	// completing an expired swap makes its reclaimed allocations live again,
	// which is only possible while no other swap has taken that capacity
	if settled == swap.RequestedAmount && !swap.Live(now) && !p.revivable(swap, now) {
		out.Status = models.OutcomeExpired
		return out
	}

	rec := models.Settlement{
		OfferID:       u.OfferID,
		SwapID:        u.SwapID,
		Beneficiary:   swap.Beneficiary,
		Amount:        alloc.Amount,
		SettledAmount: settled,
		FullySettled:  settled == swap.RequestedAmount,
		SettledAt:     now,
	}
	payout := models.Payout{
		OfferID:     u.OfferID,
		SwapID:      u.SwapID,
		Beneficiary: swap.Beneficiary,
		Amount:      alloc.Amount,
		CreatedAt:   now,
	}
	transfer := func(ctx context.Context) error {
		return p.sender.Send(ctx, payout)
	}
	if err := p.store.SettleAllocation(ctx, rec, transfer); err != nil {
		p.logger.Error("settlement update failed", "offer_id", u.OfferID, "swap_id", u.SwapID, "error", err)
		out.Status = models.OutcomeFailed
		out.Error = err.Error()
		return out
	}

	alloc.Sent = true
	swap.SettledAmount = settled
	if rec.FullySettled {
		swap.FullySettled = true
	}

	offerID, swapID := u.OfferID, u.SwapID
	p.emit(ctx, models.Event{Type: models.EventAllocationSettled, OfferID: &offerID, SwapID: &swapID,
		Currency: swap.Currency, Amount: alloc.Amount})
	if rec.FullySettled {
		p.emit(ctx, models.Event{Type: models.EventSwapSettled, SwapID: &swapID,
			Currency: swap.Currency, Amount: swap.SettledAmount})
	}
	out.Status = models.OutcomeApplied
	return out
}

// revivable reports whether every active source offer still has free capacity
// for its allocation to the swap
func (p *Pool) revivable(swap *models.Swap, now time.Time) bool {
	for _, offerID := range swap.SourceOffers {
		offer, ok := p.offers[offerID]
		if !ok {
			continue
		}
		a, ok := offer.Allocations[swap.ID]
		if !ok {
			continue
		}
		if p.capacity(offer, now) < a.Amount {
			return false
		}
	}
	return true
}
