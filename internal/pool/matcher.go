package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/xtrntr/swappool/internal/models"
)

// CreateOffer opens a new offer with the deposited native amount
func (p *Pool) CreateOffer(ctx context.Context, depositor string, currencies map[string]string, deposit int64) (*models.Offer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if deposit < p.minDeposit {
		return nil, fmt.Errorf("deposit %d, minimum %d: %w", deposit, p.minDeposit, ErrDepositTooSmall)
	}
	if len(currencies) == 0 {
		return nil, fmt.Errorf("no currencies given: %w", ErrInvalidCurrency)
	}
	for symbol := range currencies {
		if !p.registry.Accepted(symbol) {
			return nil, fmt.Errorf("%q: %w", symbol, ErrInvalidCurrency)
		}
	}

	id := p.offerCounter
	if _, exists := p.offers[id]; exists {
		return nil, fmt.Errorf("offer %d: %w", id, ErrDuplicateKey)
	}

	now := p.now()
	offer := &models.Offer{
		ID:          id,
		Depositor:   depositor,
		Currencies:  make(map[string]string, len(currencies)),
		TotalAmount: deposit,
		CreatedAt:   now,
		UnlockAt:    now.Add(p.minLock),
		Allocations: make(map[int64]*models.Allocation),
	}
	for symbol, addr := range currencies {
		offer.Currencies[symbol] = addr
	}

	if err := p.store.SaveOffer(ctx, offer, id+1); err != nil {
		return nil, fmt.Errorf("failed to save offer: %w", err)
	}

	p.offers[id] = offer
	p.offerOrder = append(p.offerOrder, id)
	p.offerCounter++

	p.logger.Info("offer created", "offer_id", id, "amount", deposit, "depositor", depositor)
	p.emit(ctx, models.Event{Type: models.EventOfferCreated, OfferID: &id, Amount: deposit})
	return offer.Clone(), nil
}

// RequestSwap matches a swap against open offers in creation order. Either
// the full amount is allocated and the swap created, or nothing changes.
func (p *Pool) RequestSwap(ctx context.Context, req models.SwapRequest) (*models.Swap, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	window, ok := p.registry.SettlementWindow(req.Currency)
	if !ok || !p.registry.Accepted(req.Currency) {
		return nil, fmt.Errorf("%q: %w", req.Currency, ErrInvalidCurrency)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("requested %d: %w", req.Amount, ErrInvalidAmount)
	}

	now := p.now()
	picked, order := p.match(req.Currency, req.Amount, now)
	if picked == nil {
		return nil, fmt.Errorf("requested %d %s: %w", req.Amount, req.Currency, ErrInsufficientLiquidity)
	}

	id := p.swapCounter
	if _, exists := p.swaps[id]; exists {
		return nil, fmt.Errorf("swap %d: %w", id, ErrDuplicateKey)
	}
	for _, offerID := range order {
		if _, exists := p.offers[offerID].Allocations[id]; exists {
			return nil, fmt.Errorf("allocation %d/%d: %w", offerID, id, ErrDuplicateKey)
		}
	}

	swap := &models.Swap{
		ID:              id,
		Beneficiary:     req.Beneficiary,
		Currency:        req.Currency,
		RequestedAmount: req.Amount,
		ExchangeRate:    req.ExchangeRate,
		CreatedAt:       now,
		ExpiresAt:       now.Add(window),
		SourceOffers:    order,
	}

	if err := p.store.SaveSwap(ctx, swap, picked, id+1); err != nil {
		return nil, fmt.Errorf("failed to save swap: %w", err)
	}

	for _, offerID := range order {
		p.offers[offerID].Allocations[id] = &models.Allocation{Amount: picked[offerID]}
	}
	p.swaps[id] = swap
	p.swapCounter++

	p.logger.Info("swap matched", "swap_id", id, "currency", req.Currency, "amount", req.Amount, "offers", order)
	p.emit(ctx, models.Event{Type: models.EventSwapRequested, SwapID: &id, Currency: req.Currency, Amount: req.Amount, Payload: swap.Clone()})
	return swap.Clone(), nil
}

// match selects capacity greedily in ascending offer id order. It returns
// nil when the open offers cannot cover the whole amount.
func (p *Pool) match(currency string, amount int64, now time.Time) (map[int64]int64, []int64) {
	picked := make(map[int64]int64)
	var order []int64
	remaining := amount

	for _, offerID := range p.offerOrder {
		if remaining <= 0 {
			break
		}
		offer := p.offers[offerID]
		if !offer.Accepts(currency) {
			continue
		}
		available := p.capacity(offer, now)
		if available <= 0 {
			continue
		}
		take := min(available, remaining)
		picked[offerID] = take
		order = append(order, offerID)
		remaining -= take
	}

	if remaining > 0 {
		return nil, nil
	}
	return picked, order
}
