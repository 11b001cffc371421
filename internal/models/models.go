package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account represents a registered caller identity
type Account struct {
	ID           int
	Identity     string
	PasswordHash string
	CreatedAt    time.Time
}

// Allocation is the slice of an offer's capacity reserved for one swap
type Allocation struct {
	Amount int64 `json:"amount"`
	Sent   bool  `json:"sent"`
}

// Offer represents deposited native currency open for matching
type Offer struct {
	ID          int64                 `json:"id"`
	Depositor   string                `json:"depositor"`
	Currencies  map[string]string     `json:"currencies"` // symbol -> off-chain receiving address
	TotalAmount int64                 `json:"total_amount"`
	CreatedAt   time.Time             `json:"created_at"`
	UnlockAt    time.Time             `json:"unlock_at"`
	Allocations map[int64]*Allocation `json:"allocations"` // keyed by swap id
}

// Accepts reports whether the offer can be matched against the currency
func (o *Offer) Accepts(currency string) bool {
	_, ok := o.Currencies[currency]
	return ok
}

// Clone returns a deep copy of the offer
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	c := *o
	c.Currencies = make(map[string]string, len(o.Currencies))
	for k, v := range o.Currencies {
		c.Currencies[k] = v
	}
	c.Allocations = make(map[int64]*Allocation, len(o.Allocations))
	for k, v := range o.Allocations {
		a := *v
		c.Allocations[k] = &a
	}
	return &c
}

// Equal reports whether two offers hold the same record. Times are compared
// as instants so that a decoded copy matches its source.
func (o *Offer) Equal(other *Offer) bool {
	if o == nil || other == nil {
		return o == other
	}
	if o.ID != other.ID || o.Depositor != other.Depositor || o.TotalAmount != other.TotalAmount ||
		!o.CreatedAt.Equal(other.CreatedAt) || !o.UnlockAt.Equal(other.UnlockAt) ||
		len(o.Currencies) != len(other.Currencies) || len(o.Allocations) != len(other.Allocations) {
		return false
	}
	for symbol, addr := range o.Currencies {
		if v, ok := other.Currencies[symbol]; !ok || v != addr {
			return false
		}
	}
	for swapID, a := range o.Allocations {
		b, ok := other.Allocations[swapID]
		if !ok || b == nil || *a != *b {
			return false
		}
	}
	return true
}

// Swap represents a request for native currency against an off-chain payment
type Swap struct {
	ID              int64           `json:"id"`
	Beneficiary     string          `json:"beneficiary"`
	Currency        string          `json:"currency"`
	RequestedAmount int64           `json:"requested_amount"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	SourceOffers    []int64         `json:"source_offers"`
	SettledAmount   int64           `json:"settled_amount"`
	FullySettled    bool            `json:"fully_settled"`
}

// Expired reports whether the settlement window has passed
func (s *Swap) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Live reports whether the swap's allocations still count against offer capacity.
// Allocations of an expired swap that never fully settled are reclaimed.
func (s *Swap) Live(now time.Time) bool {
	return !s.Expired(now) || s.FullySettled
}

// Pending reports whether the swap can still progress towards settlement
func (s *Swap) Pending(now time.Time) bool {
	return !s.Expired(now) && !s.FullySettled
}

// Clone returns a deep copy of the swap
func (s *Swap) Clone() *Swap {
	if s == nil {
		return nil
	}
	c := *s
	c.SourceOffers = append([]int64(nil), s.SourceOffers...)
	return &c
}

// Equal reports whether two swaps hold the same record
func (s *Swap) Equal(other *Swap) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.ID != other.ID || s.Beneficiary != other.Beneficiary || s.Currency != other.Currency ||
		s.RequestedAmount != other.RequestedAmount || !s.ExchangeRate.Equal(other.ExchangeRate) ||
		!s.CreatedAt.Equal(other.CreatedAt) || !s.ExpiresAt.Equal(other.ExpiresAt) ||
		s.SettledAmount != other.SettledAmount || s.FullySettled != other.FullySettled ||
		len(s.SourceOffers) != len(other.SourceOffers) {
		return false
	}
	for i, id := range s.SourceOffers {
		if other.SourceOffers[i] != id {
			return false
		}
	}
	return true
}

// SwapRequest holds the immutable parameters of a new swap
type SwapRequest struct {
	Beneficiary  string          `json:"beneficiary"`
	Amount       int64           `json:"amount"`
	Currency     string          `json:"currency"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
}

// SettlementUpdate is one oracle delivery confirmation
type SettlementUpdate struct {
	OfferID   int64 `json:"offer_id"`
	SwapID    int64 `json:"swap_id"`
	Delivered bool  `json:"delivered"`
}

// Settlement outcome statuses
const (
	OutcomeApplied           = "applied"
	OutcomeNotDelivered      = "not_delivered"
	OutcomeUnknownOffer      = "unknown_offer"
	OutcomeUnknownAllocation = "unknown_allocation"
	OutcomeAlreadySent       = "already_sent"
	OutcomeUnknownSwap       = "unknown_swap"
	OutcomeExpired           = "expired"
	OutcomeOverSettled       = "over_settled"
	OutcomeFailed            = "failed"
)

// SettlementOutcome reports what happened to one update of a batch
type SettlementOutcome struct {
	SettlementUpdate
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// BatchResult summarizes an applied settlement batch
type BatchResult struct {
	BatchID  string              `json:"batch_id"`
	Applied  int                 `json:"applied"`
	Outcomes []SettlementOutcome `json:"outcomes"`
}

// Settlement is the persisted effect of one applied update
type Settlement struct {
	OfferID       int64
	SwapID        int64
	Beneficiary   string
	Amount        int64
	SettledAmount int64
	FullySettled  bool
	SettledAt     time.Time
}

// TrimResult lists the records moved to the archive
type TrimResult struct {
	Offers []int64 `json:"offers"`
	Swaps  []int64 `json:"swaps"`
}

// Payout represents a native-currency transfer to a swap beneficiary
type Payout struct {
	OfferID     int64     `json:"offer_id"`
	SwapID      int64     `json:"swap_id"`
	Beneficiary string    `json:"beneficiary"`
	Amount      int64     `json:"amount"`
	CreatedAt   time.Time `json:"created_at"`
}

// Snapshot is the full active ledger state used to restore a pool
type Snapshot struct {
	Offers       []*Offer
	Swaps        []*Swap
	OfferCounter int64
	SwapCounter  int64
}

// Event is a ledger change published to downstream consumers
type Event struct {
	Type      string    `json:"type"`
	OfferID   *int64    `json:"offer_id,omitempty"`
	SwapID    *int64    `json:"swap_id,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Ledger event types
const (
	EventOfferCreated      = "offer.created"
	EventSwapRequested     = "swap.requested"
	EventAllocationSettled = "allocation.settled"
	EventSwapSettled       = "swap.settled"
	EventLedgerTrimmed     = "ledger.trimmed"
)
