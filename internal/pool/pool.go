package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xtrntr/swappool/internal/models"
)

// AccessControl answers capability checks for caller identities
type AccessControl interface {
	IsOracle(identity string) bool
	IsAdministrator(identity string) bool
	IsSpare(identity string) bool
}

// Store persists committed ledger mutations. Every method must either
// persist the whole change or nothing.
type Store interface {
	SaveOffer(ctx context.Context, offer *models.Offer, counter int64) error
	SaveSwap(ctx context.Context, swap *models.Swap, allocations map[int64]int64, counter int64) error
	// SettleAllocation persists one applied update. transfer moves the native
	// currency; if it fails the update must not be persisted.
	SettleAllocation(ctx context.Context, s models.Settlement, transfer func(context.Context) error) error
	RemoveRecords(ctx context.Context, offerIDs, swapIDs []int64) error
}

// Archive is the append-only store for trimmed records
type Archive interface {
	PutOffer(ctx context.Context, offer *models.Offer) error
	PutSwap(ctx context.Context, swap *models.Swap) error
	Offer(ctx context.Context, id int64) (*models.Offer, error)
	Swap(ctx context.Context, id int64) (*models.Swap, error)
}

// Sender transfers native currency to a beneficiary
type Sender interface {
	Send(ctx context.Context, p models.Payout) error
}

// Emitter publishes ledger events after they are committed
type Emitter interface {
	Emit(ctx context.Context, evt models.Event)
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, models.Event) {}

// Config holds the pool parameters
type Config struct {
	MinDeposit int64
	MinLock    time.Duration
	Registry   CurrencyRegistry
	Access     AccessControl
}

// Option customizes a Pool
type Option func(*Pool)

// WithStore sets the persistence backend
func WithStore(s Store) Option { return func(p *Pool) { p.store = s } }

// WithArchive sets the archive used by TrimLedgers
func WithArchive(a Archive) Option { return func(p *Pool) { p.archive = a } }

// WithSender sets the native-currency transfer collaborator
func WithSender(s Sender) Option { return func(p *Pool) { p.sender = s } }

// WithEmitter sets the ledger event emitter
func WithEmitter(e Emitter) Option { return func(p *Pool) { p.emitter = e } }

// WithTrimPolicy overrides the terminal-state predicate used by TrimLedgers
func WithTrimPolicy(tp TrimPolicy) Option { return func(p *Pool) { p.policy = tp } }

// WithClock overrides the time source, mainly for tests
func WithClock(now func() time.Time) Option { return func(p *Pool) { p.now = now } }

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option { return func(p *Pool) { p.logger = l } }

// Pool owns the liquidity and swap ledgers. Every exported operation holds
// mu for its whole duration, so operations never interleave.
type Pool struct {
	mu sync.Mutex

	offers     map[int64]*models.Offer
	offerOrder []int64 // ascending, the matcher's scan order
	swaps      map[int64]*models.Swap

	offerCounter int64
	swapCounter  int64

	minDeposit int64
	minLock    time.Duration
	registry   CurrencyRegistry
	access     AccessControl

	store   Store
	archive Archive
	sender  Sender
	emitter Emitter
	policy  TrimPolicy
	now     func() time.Time
	logger  *slog.Logger
}

// New creates an empty pool
func New(cfg Config, opts ...Option) (*Pool, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("currency registry required")
	}
	if cfg.Access == nil {
		return nil, fmt.Errorf("access control required")
	}
	p := &Pool{
		offers:     make(map[int64]*models.Offer),
		swaps:      make(map[int64]*models.Swap),
		minDeposit: cfg.MinDeposit,
		minLock:    cfg.MinLock,
		registry:   cfg.Registry,
		access:     cfg.Access,
		emitter:    noopEmitter{},
		policy:     DefaultTrimPolicy{},
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.store == nil {
		p.store = NewMemoryStore()
	}
	if p.archive == nil {
		p.archive = NewMemoryArchive()
	}
	if p.sender == nil {
		p.sender = discardSender{}
	}
	return p, nil
}

type discardSender struct{}

func (discardSender) Send(context.Context, models.Payout) error { return nil }

// Restore loads a previously persisted ledger into an empty pool
func (p *Pool) Restore(snap models.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.offers) > 0 || len(p.swaps) > 0 {
		return fmt.Errorf("restore into non-empty pool")
	}
	offers := make(map[int64]*models.Offer, len(snap.Offers))
	order := make([]int64, 0, len(snap.Offers))
	for _, o := range snap.Offers {
		if _, ok := offers[o.ID]; ok {
			return fmt.Errorf("offer %d: %w", o.ID, ErrDuplicateKey)
		}
		if o.ID >= snap.OfferCounter {
			return fmt.Errorf("offer %d beyond counter %d", o.ID, snap.OfferCounter)
		}
		c := o.Clone()
		offers[o.ID] = c
		order = append(order, o.ID)
	}
	swaps := make(map[int64]*models.Swap, len(snap.Swaps))
	for _, s := range snap.Swaps {
		if _, ok := swaps[s.ID]; ok {
			return fmt.Errorf("swap %d: %w", s.ID, ErrDuplicateKey)
		}
		if s.ID >= snap.SwapCounter {
			return fmt.Errorf("swap %d beyond counter %d", s.ID, snap.SwapCounter)
		}
		swaps[s.ID] = s.Clone()
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	p.offers = offers
	p.offerOrder = order
	p.swaps = swaps
	p.offerCounter = snap.OfferCounter
	p.swapCounter = snap.SwapCounter
	return nil
}

// Offer returns a copy of an active offer
func (p *Pool) Offer(id int64) (*models.Offer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.offers[id]
	if !ok {
		return nil, fmt.Errorf("offer %d: %w", id, ErrNotFound)
	}
	return o.Clone(), nil
}

// Swap returns a copy of an active swap
func (p *Pool) Swap(id int64) (*models.Swap, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.swaps[id]
	if !ok {
		return nil, fmt.Errorf("swap %d: %w", id, ErrNotFound)
	}
	return s.Clone(), nil
}

// Offers returns copies of all active offers in ascending id order
func (p *Pool) Offers() []*models.Offer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*models.Offer, 0, len(p.offerOrder))
	for _, id := range p.offerOrder {
		out = append(out, p.offers[id].Clone())
	}
	return out
}

// AvailableCapacity returns how much of an offer can still be matched
func (p *Pool) AvailableCapacity(offerID int64) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.offers[offerID]
	if !ok {
		return 0, fmt.Errorf("offer %d: %w", offerID, ErrNotFound)
	}
	return p.capacity(o, p.now()), nil
}

// Counters returns the next offer and swap identifiers
func (p *Pool) Counters() (offers, swaps int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offerCounter, p.swapCounter
}

// ArchivedOffer reads a trimmed offer from the archive
func (p *Pool) ArchivedOffer(ctx context.Context, id int64) (*models.Offer, error) {
	return p.archive.Offer(ctx, id)
}

// ArchivedSwap reads a trimmed swap from the archive
func (p *Pool) ArchivedSwap(ctx context.Context, id int64) (*models.Swap, error) {
	return p.archive.Swap(ctx, id)
}

// capacity is the offer total minus every live allocation. An allocation
// whose swap is missing from the active ledger is counted as live.
func (p *Pool) capacity(o *models.Offer, now time.Time) int64 {
	available := o.TotalAmount
	for swapID, a := range o.Allocations {
		s, ok := p.swaps[swapID]
		if ok && !s.Live(now) {
			continue
		}
		available -= a.Amount
	}
	return available
}

func (p *Pool) emit(ctx context.Context, evt models.Event) {
	evt.Timestamp = p.now()
	p.emitter.Emit(ctx, evt)
}
