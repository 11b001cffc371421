package pool

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/swappool/internal/models"
)

const tez = 1_000_000

type testAccess struct {
	oracles map[string]bool
}

func (a testAccess) IsOracle(id string) bool        { return a.oracles[id] }
func (a testAccess) IsAdministrator(id string) bool { return id == "admin" }
func (a testAccess) IsSpare(id string) bool         { return id == "spare" }

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type recordingSender struct {
	payouts []models.Payout
	failFor map[int64]bool // swap ids
}

func (s *recordingSender) Send(_ context.Context, p models.Payout) error {
	if s.failFor[p.SwapID] {
		return errors.New("transfer rejected")
	}
	s.payouts = append(s.payouts, p)
	return nil
}

type failingStore struct {
	MemoryStore
	failSwap   bool
	failOffer  bool
	failRemove bool
}

func (f *failingStore) SaveOffer(ctx context.Context, o *models.Offer, c int64) error {
	if f.failOffer {
		return errors.New("db down")
	}
	return nil
}

func (f *failingStore) SaveSwap(ctx context.Context, s *models.Swap, a map[int64]int64, c int64) error {
	if f.failSwap {
		return errors.New("db down")
	}
	return nil
}

func (f *failingStore) RemoveRecords(ctx context.Context, offers, swaps []int64) error {
	if f.failRemove {
		return errors.New("db down")
	}
	return nil
}

var currencies = map[string]string{
	"BTC": "1Kf9gGLaCh8A6aNeg8a5Ewb7eEm63u8yYZ",
	"ETH": "0x2028aa76C84802cd61Ab3BeC4f142ca33743068b",
}

func newTestPool(t *testing.T, opts ...Option) (*Pool, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	registry := NewStaticRegistry(
		Currency{Symbol: "BTC", Name: "Bitcoin", SettlementWindow: 60 * time.Minute},
		Currency{Symbol: "ETH", Name: "Ethereum", SettlementWindow: 30 * time.Minute},
		Currency{Symbol: "XMR", Name: "Monero", SettlementWindow: 90 * time.Minute},
	)
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	p, err := New(Config{
		MinDeposit: 1 * tez,
		MinLock:    24 * time.Hour,
		Registry:   registry,
		Access:     testAccess{oracles: map[string]bool{"oracle": true}},
	}, opts...)
	require.NoError(t, err)
	return p, clock
}

func btcSwap(amount int64) models.SwapRequest {
	return models.SwapRequest{
		Beneficiary:  "tz1beneficiary",
		Amount:       amount,
		Currency:     "BTC",
		ExchangeRate: decimal.NewFromInt(8600630000),
	}
}

// assertCapacityInvariant checks that live allocations never exceed the deposit
func assertCapacityInvariant(t *testing.T, p *Pool) {
	t.Helper()
	now := p.now()
	for _, o := range p.offers {
		var live int64
		for swapID, a := range o.Allocations {
			s, ok := p.swaps[swapID]
			if !ok || s.Live(now) {
				live += a.Amount
			}
		}
		assert.LessOrEqual(t, live, o.TotalAmount, "offer %d", o.ID)
	}
}

func TestPool_CreateOffer(t *testing.T) {
	tests := []struct {
		name       string
		currencies map[string]string
		deposit    int64
		expectErr  error
	}{
		{name: "Success", currencies: currencies, deposit: 13 * tez},
		{name: "ExactMinimum", currencies: map[string]string{"BTC": "addr"}, deposit: 1 * tez},
		{name: "DepositTooSmall", currencies: currencies, deposit: tez - 1, expectErr: ErrDepositTooSmall},
		{name: "UnknownCurrency", currencies: map[string]string{"BTC": "a", "DOGE": "b"}, deposit: 2 * tez, expectErr: ErrInvalidCurrency},
		{name: "NoCurrencies", currencies: map[string]string{}, deposit: 2 * tez, expectErr: ErrInvalidCurrency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, clock := newTestPool(t)
			offer, err := p.CreateOffer(context.Background(), "tz1depositor", tt.currencies, tt.deposit)
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
				next, _ := p.Counters()
				assert.Equal(t, int64(0), next)
				assert.Empty(t, p.Offers())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(0), offer.ID)
			assert.Equal(t, tt.deposit, offer.TotalAmount)
			assert.Equal(t, clock.Now().Add(24*time.Hour), offer.UnlockAt)
			assert.Empty(t, offer.Allocations)
		})
	}
}

func TestPool_CreateOffer_MonotonicIDs(t *testing.T) {
	p, _ := newTestPool(t)
	ctx := context.Background()
	for i := int64(0); i < 5; i++ {
		offer, err := p.CreateOffer(ctx, "tz1depositor", currencies, 2*tez)
		require.NoError(t, err)
		assert.Equal(t, i, offer.ID)
	}
	offers, _ := p.Counters()
	assert.Equal(t, int64(5), offers)
}

func TestPool_CreateOffer_StoreFailure(t *testing.T) {
	p, _ := newTestPool(t, WithStore(&failingStore{failOffer: true}))
	_, err := p.CreateOffer(context.Background(), "tz1depositor", currencies, 2*tez)
	assert.Error(t, err)
	offers, _ := p.Counters()
	assert.Equal(t, int64(0), offers)
	assert.Empty(t, p.Offers())
}

func TestPool_RequestSwap_PartialAcrossOffers(t *testing.T) {
	p, _ := newTestPool(t)
	ctx := context.Background()

	a, err := p.CreateOffer(ctx, "tz1a", currencies, 13*tez)
	require.NoError(t, err)

	s1, err := p.RequestSwap(ctx, btcSwap(9*tez))
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, s1.SourceOffers)
	capacity, err := p.AvailableCapacity(a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4*tez), capacity)

	// only 4 available: rejected without touching any state
	_, err = p.RequestSwap(ctx, btcSwap(7*tez))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	_, swaps := p.Counters()
	assert.Equal(t, int64(1), swaps)
	offer, _ := p.Offer(a.ID)
	assert.Len(t, offer.Allocations, 1)

	b, err := p.CreateOffer(ctx, "tz1b", map[string]string{"BTC": "bc1q"}, 13*tez)
	require.NoError(t, err)

	s2, err := p.RequestSwap(ctx, btcSwap(7*tez))
	require.NoError(t, err)
	assert.Equal(t, int64(1), s2.ID)
	assert.Equal(t, []int64{a.ID, b.ID}, s2.SourceOffers)

	offerA, _ := p.Offer(a.ID)
	offerB, _ := p.Offer(b.ID)
	assert.Equal(t, int64(4*tez), offerA.Allocations[s2.ID].Amount)
	assert.Equal(t, int64(3*tez), offerB.Allocations[s2.ID].Amount)
	assert.False(t, offerB.Allocations[s2.ID].Sent)
	assertCapacityInvariant(t, p)
}

func TestPool_RequestSwap_SkipsOtherCurrencies(t *testing.T) {
	p, clock := newTestPool(t)
	ctx := context.Background()

	_, err := p.CreateOffer(ctx, "tz1a", map[string]string{"ETH": "0xabc"}, 10*tez)
	require.NoError(t, err)
	btcOffer, err := p.CreateOffer(ctx, "tz1b", map[string]string{"BTC": "bc1q"}, 10*tez)
	require.NoError(t, err)

	s, err := p.RequestSwap(ctx, btcSwap(5*tez))
	require.NoError(t, err)
	assert.Equal(t, []int64{btcOffer.ID}, s.SourceOffers)
	assert.Equal(t, clock.Now().Add(60*time.Minute), s.ExpiresAt)
	assert.True(t, s.ExchangeRate.Equal(decimal.NewFromInt(8600630000)))

	_, err = p.RequestSwap(ctx, models.SwapRequest{Beneficiary: "tz1", Amount: 1, Currency: "XMR"})
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestPool_RequestSwap_Validation(t *testing.T) {
	p, _ := newTestPool(t)
	ctx := context.Background()
	_, err := p.CreateOffer(ctx, "tz1a", currencies, 10*tez)
	require.NoError(t, err)

	tests := []struct {
		name      string
		req       models.SwapRequest
		expectErr error
	}{
		{name: "UnknownCurrency", req: models.SwapRequest{Beneficiary: "tz1", Amount: tez, Currency: "DOGE"}, expectErr: ErrInvalidCurrency},
		{name: "ZeroAmount", req: btcSwap(0), expectErr: ErrInvalidAmount},
		{name: "NegativeAmount", req: btcSwap(-5), expectErr: ErrInvalidAmount},
		{name: "TooLarge", req: btcSwap(11 * tez), expectErr: ErrInsufficientLiquidity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.RequestSwap(ctx, tt.req)
			assert.ErrorIs(t, err, tt.expectErr)
			_, swaps := p.Counters()
			assert.Equal(t, int64(0), swaps)
		})
	}
}

func TestPool_RequestSwap_StoreFailureLeavesNoTrace(t *testing.T) {
	store := &failingStore{}
	p, _ := newTestPool(t, WithStore(store))
	ctx := context.Background()
	offer, err := p.CreateOffer(ctx, "tz1a", currencies, 10*tez)
	require.NoError(t, err)

	store.failSwap = true
	_, err = p.RequestSwap(ctx, btcSwap(5*tez))
	assert.Error(t, err)

	_, swaps := p.Counters()
	assert.Equal(t, int64(0), swaps)
	got, _ := p.Offer(offer.ID)
	assert.Empty(t, got.Allocations)
	capacity, _ := p.AvailableCapacity(offer.ID)
	assert.Equal(t, int64(10*tez), capacity)
}

func TestPool_RequestSwap_ReclaimsExpiredAllocations(t *testing.T) {
	p, clock := newTestPool(t)
	ctx := context.Background()

	a, err := p.CreateOffer(ctx, "tz1a", currencies, 13*tez)
	require.NoError(t, err)
	s1, err := p.RequestSwap(ctx, btcSwap(9*tez))
	require.NoError(t, err)

	_, err = p.RequestSwap(ctx, btcSwap(9*tez))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)

	// exactly at expiry the swap is no longer live
	clock.t = s1.ExpiresAt
	capacity, _ := p.AvailableCapacity(a.ID)
	assert.Equal(t, int64(13*tez), capacity)

	s3, err := p.RequestSwap(ctx, btcSwap(9*tez))
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, s3.SourceOffers)

	offer, _ := p.Offer(a.ID)
	assert.Len(t, offer.Allocations, 2)
	assert.Equal(t, int64(9*tez), offer.Allocations[s1.ID].Amount)
	assertCapacityInvariant(t, p)
}

func TestPool_FullySettledAllocationsStayLive(t *testing.T) {
	p, clock := newTestPool(t)
	ctx := context.Background()

	a, err := p.CreateOffer(ctx, "tz1a", currencies, 13*tez)
	require.NoError(t, err)
	s1, err := p.RequestSwap(ctx, btcSwap(9*tez))
	require.NoError(t, err)

	_, err = p.ApplySettlementBatch(ctx, "oracle", []models.SettlementUpdate{{OfferID: a.ID, SwapID: s1.ID, Delivered: true}})
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	capacity, _ := p.AvailableCapacity(a.ID)
	assert.Equal(t, int64(4*tez), capacity)
	_, err = p.RequestSwap(ctx, btcSwap(9*tez))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestPool_ApplySettlementBatch_Idempotent(t *testing.T) {
	sender := &recordingSender{}
	p, _ := newTestPool(t, WithSender(sender))
	ctx := context.Background()

	a, err := p.CreateOffer(ctx, "tz1a", currencies, 13*tez)
	require.NoError(t, err)
	s1, err := p.RequestSwap(ctx, btcSwap(9*tez))
	require.NoError(t, err)

	update := []models.SettlementUpdate{{OfferID: a.ID, SwapID: s1.ID, Delivered: true}}
	res, err := p.ApplySettlementBatch(ctx, "oracle", update)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.NotEmpty(t, res.BatchID)

	first, _ := p.Swap(s1.ID)

	res, err = p.ApplySettlementBatch(ctx, "oracle", append(update, update...))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Applied)
	for _, o := range res.Outcomes {
		assert.Equal(t, models.OutcomeAlreadySent, o.Status)
	}

	second, _ := p.Swap(s1.ID)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(9*tez), second.SettledAmount)
	assert.True(t, second.FullySettled)
	require.Len(t, sender.payouts, 1)
	assert.Equal(t, "tz1beneficiary", sender.payouts[0].Beneficiary)
	assert.Equal(t, int64(9*tez), sender.payouts[0].Amount)
}

func TestPool_ApplySettlementBatch_Unauthorized(t *testing.T) {
	sender := &recordingSender{}
	p, _ := newTestPool(t, WithSender(sender))
	ctx := context.Background()

	a, _ := p.CreateOffer(ctx, "tz1a", currencies, 13*tez)
	s1, _ := p.RequestSwap(ctx, btcSwap(9*tez))

	_, err := p.ApplySettlementBatch(ctx, "tz1mallory", []models.SettlementUpdate{{OfferID: a.ID, SwapID: s1.ID, Delivered: true}})
	assert.ErrorIs(t, err, ErrUnauthorized)

	swap, _ := p.Swap(s1.ID)
	assert.Equal(t, int64(0), swap.SettledAmount)
	assert.Empty(t, sender.payouts)
}

func TestPool_ApplySettlementBatch_BestEffort(t *testing.T) {
	sender := &recordingSender{failFor: map[int64]bool{}}
	p, _ := newTestPool(t, WithSender(sender))
	ctx := context.Background()

	a, _ := p.CreateOffer(ctx, "tz1a", currencies, 13*tez)
	b, _ := p.CreateOffer(ctx, "tz1b", currencies, 14*tez)
	s0, err := p.RequestSwap(ctx, btcSwap(19*tez))
	require.NoError(t, err)
	s1, err := p.RequestSwap(ctx, btcSwap(7*tez))
	require.NoError(t, err)
	s2, err := p.RequestSwap(ctx, models.SwapRequest{Beneficiary: "tz1other", Amount: tez, Currency: "ETH"})
	require.NoError(t, err)
	sender.failFor[s2.ID] = true

	res, err := p.ApplySettlementBatch(ctx, "oracle", []models.SettlementUpdate{
		{OfferID: a.ID, SwapID: s0.ID, Delivered: true},
		{OfferID: b.ID, SwapID: s0.ID, Delivered: false},
		{OfferID: 99, SwapID: s0.ID, Delivered: true},
		{OfferID: a.ID, SwapID: 42, Delivered: true},
		{OfferID: b.ID, SwapID: s2.ID, Delivered: true},
		{OfferID: b.ID, SwapID: s1.ID, Delivered: true},
	})
	require.NoError(t, err)

	statuses := make([]string, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		statuses = append(statuses, o.Status)
	}
	assert.Equal(t, []string{
		models.OutcomeApplied,
		models.OutcomeNotDelivered,
		models.OutcomeUnknownOffer,
		models.OutcomeUnknownAllocation,
		models.OutcomeFailed,
		models.OutcomeApplied,
	}, statuses)
	assert.Equal(t, 2, res.Applied)
	assert.NotEmpty(t, res.Outcomes[4].Error)

	swap0, _ := p.Swap(s0.ID)
	assert.Equal(t, int64(13*tez), swap0.SettledAmount)
	assert.False(t, swap0.FullySettled)

	// the failed transfer left the allocation untouched and can be retried
	offerB, _ := p.Offer(b.ID)
	assert.False(t, offerB.Allocations[s2.ID].Sent)
	swap2, _ := p.Swap(s2.ID)
	assert.Equal(t, int64(0), swap2.SettledAmount)

	sender.failFor[s2.ID] = false
	res, err = p.ApplySettlementBatch(ctx, "oracle", []models.SettlementUpdate{{OfferID: b.ID, SwapID: s2.ID, Delivered: true}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	swap2, _ = p.Swap(s2.ID)
	assert.True(t, swap2.FullySettled)
}

func TestPool_ApplySettlementBatch_Monotonic(t *testing.T) {
	p, _ := newTestPool(t)
	ctx := context.Background()

	a, _ := p.CreateOffer(ctx, "tz1a", currencies, 13*tez)
	b, _ := p.CreateOffer(ctx, "tz1b", currencies, 13*tez)
	s, err := p.RequestSwap(ctx, btcSwap(19*tez))
	require.NoError(t, err)

	_, err = p.ApplySettlementBatch(ctx, "oracle", []models.SettlementUpdate{{OfferID: b.ID, SwapID: s.ID, Delivered: true}})
	require.NoError(t, err)
	swap, _ := p.Swap(s.ID)
	assert.Equal(t, int64(6*tez), swap.SettledAmount)
	assert.False(t, swap.FullySettled)

	_, err = p.ApplySettlementBatch(ctx, "oracle", []models.SettlementUpdate{{OfferID: a.ID, SwapID: s.ID, Delivered: true}})
	require.NoError(t, err)
	swap, _ = p.Swap(s.ID)
	assert.Equal(t, swap.RequestedAmount, swap.SettledAmount)
	assert.True(t, swap.FullySettled)
}

func TestPool_TrimLedgers(t *testing.T) {
	archive := NewMemoryArchive()
	p, clock := newTestPool(t, WithArchive(archive))
	ctx := context.Background()

	a, _ := p.CreateOffer(ctx, "tz1a", currencies, 9*tez)
	b, _ := p.CreateOffer(ctx, "tz1b", currencies, 13*tez)
	c, _ := p.CreateOffer(ctx, "tz1c", map[string]string{"ETH": "0x1"}, 5*tez)
	settled, err := p.RequestSwap(ctx, btcSwap(9*tez)) // all of A
	require.NoError(t, err)
	pending, err := p.RequestSwap(ctx, btcSwap(3*tez)) // from B
	require.NoError(t, err)
	_, err = p.ApplySettlementBatch(ctx, "oracle", []models.SettlementUpdate{{OfferID: a.ID, SwapID: settled.ID, Delivered: true}})
	require.NoError(t, err)

	_, err = p.TrimLedgers(ctx, "tz1mallory")
	assert.ErrorIs(t, err, ErrUnauthorized)

	// A is consumed by a settled swap; B holds a pending allocation; C is still locked
	res, err := p.TrimLedgers(ctx, "oracle")
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, res.Offers)
	assert.Equal(t, []int64{settled.ID}, res.Swaps)

	_, err = p.Offer(a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	archived, err := p.ArchivedOffer(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, archived.Allocations[settled.ID].Sent)
	archivedSwap, err := p.ArchivedSwap(ctx, settled.ID)
	require.NoError(t, err)
	assert.True(t, archivedSwap.FullySettled)

	// once the pending swap expires and the lock is over, everything is terminal
	clock.Advance(25 * time.Hour)
	res, err = p.TrimLedgers(ctx, "oracle")
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID, c.ID}, res.Offers)
	assert.Equal(t, []int64{pending.ID}, res.Swaps)
	assert.Empty(t, p.Offers())

	// identifiers are never reused after trimming
	d, err := p.CreateOffer(ctx, "tz1d", currencies, 2*tez)
	require.NoError(t, err)
	assert.Equal(t, int64(3), d.ID)
	s, err := p.RequestSwap(ctx, btcSwap(tez))
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.ID)
}

func TestPool_TrimLedgers_KeepsReferencedSwaps(t *testing.T) {
	p, clock := newTestPool(t)
	ctx := context.Background()

	a, _ := p.CreateOffer(ctx, "tz1a", currencies, 5*tez)
	b, _ := p.CreateOffer(ctx, "tz1b", currencies, 5*tez)
	s, err := p.RequestSwap(ctx, btcSwap(7*tez))
	require.NoError(t, err)
	_, err = p.ApplySettlementBatch(ctx, "oracle", []models.SettlementUpdate{
		{OfferID: a.ID, SwapID: s.ID, Delivered: true},
		{OfferID: b.ID, SwapID: s.ID, Delivered: true},
	})
	require.NoError(t, err)

	// A is exhausted, B still has free capacity and is locked: the swap is
	// referenced by B and must stay
	res, err := p.TrimLedgers(ctx, "oracle")
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, res.Offers)
	assert.Empty(t, res.Swaps)

	capacity, err := p.AvailableCapacity(b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3*tez), capacity)

	clock.Advance(25 * time.Hour)
	res, err = p.TrimLedgers(ctx, "oracle")
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID}, res.Offers)
	assert.Equal(t, []int64{s.ID}, res.Swaps)
}

type neverTrim struct{}

func (neverTrim) OfferTerminal(*models.Offer, LedgerView, time.Time) bool { return false }
func (neverTrim) SwapTerminal(*models.Swap, time.Time) bool                { return true }

func TestPool_TrimLedgers_CustomPolicy(t *testing.T) {
	p, clock := newTestPool(t, WithTrimPolicy(neverTrim{}))
	ctx := context.Background()

	_, _ = p.CreateOffer(ctx, "tz1a", currencies, 5*tez)
	_, err := p.RequestSwap(ctx, btcSwap(tez))
	require.NoError(t, err)
	clock.Advance(48 * time.Hour)

	// the swap is terminal for the policy but still referenced by the offer
	res, err := p.TrimLedgers(ctx, "oracle")
	require.NoError(t, err)
	assert.Empty(t, res.Offers)
	assert.Empty(t, res.Swaps)
}

func TestPool_TrimLedgers_StoreFailure(t *testing.T) {
	store := &failingStore{}
	p, clock := newTestPool(t, WithStore(store))
	ctx := context.Background()
	a, _ := p.CreateOffer(ctx, "tz1a", currencies, 5*tez)
	clock.Advance(25 * time.Hour)

	store.failRemove = true
	_, err := p.TrimLedgers(ctx, "oracle")
	assert.Error(t, err)
	_, err = p.Offer(a.ID)
	assert.NoError(t, err)

	// the retry tolerates the record already sitting in the archive
	store.failRemove = false
	res, err := p.TrimLedgers(ctx, "oracle")
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, res.Offers)
}

func TestPool_Restore(t *testing.T) {
	src, _ := newTestPool(t)
	ctx := context.Background()
	a, _ := src.CreateOffer(ctx, "tz1a", currencies, 13*tez)
	_, err := src.RequestSwap(ctx, btcSwap(9*tez))
	require.NoError(t, err)

	offerCounter, swapCounter := src.Counters()
	snap := models.Snapshot{
		Offers:       src.Offers(),
		OfferCounter: offerCounter,
		SwapCounter:  swapCounter,
	}
	s0, _ := src.Swap(0)
	snap.Swaps = []*models.Swap{s0}

	dst, _ := newTestPool(t)
	require.NoError(t, dst.Restore(snap))
	capacity, err := dst.AvailableCapacity(a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4*tez), capacity)

	s, err := dst.RequestSwap(ctx, btcSwap(tez))
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.ID)

	assert.Error(t, dst.Restore(snap), "restore into non-empty pool")

	dup, _ := newTestPool(t)
	snap.Offers = append(snap.Offers, snap.Offers[0])
	assert.ErrorIs(t, dup.Restore(snap), ErrDuplicateKey)
}

func TestPool_CapacityInvariantUnderRandomOperations(t *testing.T) {
	p, clock := newTestPool(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	symbols := []string{"BTC", "ETH"}

	for i := 0; i < 400; i++ {
		switch rng.Intn(4) {
		case 0:
			_, err := p.CreateOffer(ctx, "tz1", map[string]string{symbols[rng.Intn(2)]: "addr"}, int64(1+rng.Intn(20))*tez)
			require.NoError(t, err)
		case 1:
			_, swapsBefore := p.Counters()
			_, err := p.RequestSwap(ctx, models.SwapRequest{Beneficiary: "tz1b", Amount: int64(1+rng.Intn(15)) * tez, Currency: symbols[rng.Intn(2)]})
			if err != nil {
				require.ErrorIs(t, err, ErrInsufficientLiquidity)
				_, swapsAfter := p.Counters()
				assert.Equal(t, swapsBefore, swapsAfter)
			}
		case 2:
			offers, swaps := p.Counters()
			if offers == 0 || swaps == 0 {
				continue
			}
			before := map[int64]int64{}
			for id, s := range p.swaps {
				before[id] = s.SettledAmount
			}
			_, err := p.ApplySettlementBatch(ctx, "oracle", []models.SettlementUpdate{{
				OfferID: rng.Int63n(offers), SwapID: rng.Int63n(swaps), Delivered: rng.Intn(3) > 0,
			}})
			require.NoError(t, err)
			for id, s := range p.swaps {
				assert.GreaterOrEqual(t, s.SettledAmount, before[id])
				assert.LessOrEqual(t, s.SettledAmount, s.RequestedAmount)
				assert.Equal(t, s.SettledAmount == s.RequestedAmount, s.FullySettled)
			}
		case 3:
			clock.Advance(time.Duration(rng.Intn(20)) * time.Minute)
		}
		assertCapacityInvariant(t, p)
	}
}

func TestPool_ApplySettlementBatch_ExpiredSwap(t *testing.T) {
	sender := &recordingSender{}
	p, clock := newTestPool(t, WithSender(sender))
	ctx := context.Background()

	a, _ := p.CreateOffer(ctx, "tz1a", currencies, 10*tez)
	s1, err := p.RequestSwap(ctx, btcSwap(10*tez))
	require.NoError(t, err)

	clock.Advance(61 * time.Minute)
	s2, err := p.RequestSwap(ctx, btcSwap(10*tez))
	require.NoError(t, err)

	// completing s1 would revive an allocation whose capacity now backs s2
	res, err := p.ApplySettlementBatch(ctx, "oracle", []models.SettlementUpdate{
		{OfferID: a.ID, SwapID: s1.ID, Delivered: true},
		{OfferID: a.ID, SwapID: s2.ID, Delivered: true},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeExpired, res.Outcomes[0].Status)
	assert.Equal(t, models.OutcomeApplied, res.Outcomes[1].Status)
	require.Len(t, sender.payouts, 1)
	assert.Equal(t, s2.ID, sender.payouts[0].SwapID)
	assertCapacityInvariant(t, p)
}

func TestPool_ApplySettlementBatch_LateSettlement(t *testing.T) {
	sender := &recordingSender{}
	p, clock := newTestPool(t, WithSender(sender))
	ctx := context.Background()

	a, _ := p.CreateOffer(ctx, "tz1a", currencies, 13*tez)
	s, err := p.RequestSwap(ctx, btcSwap(9*tez))
	require.NoError(t, err)

	// nothing took the reclaimed capacity, so the late delivery still pays out
	clock.Advance(61 * time.Minute)
	res, err := p.ApplySettlementBatch(ctx, "oracle", []models.SettlementUpdate{{OfferID: a.ID, SwapID: s.ID, Delivered: true}})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, res.Outcomes[0].Status)

	swap, _ := p.Swap(s.ID)
	assert.Equal(t, int64(9*tez), swap.SettledAmount)
	assert.True(t, swap.FullySettled)
	require.Len(t, sender.payouts, 1)
	capacity, _ := p.AvailableCapacity(a.ID)
	assert.Equal(t, int64(4*tez), capacity)
	assertCapacityInvariant(t, p)
}

func TestPool_ApplySettlementBatch_LatePartialThenRefused(t *testing.T) {
	sender := &recordingSender{}
	p, clock := newTestPool(t, WithSender(sender))
	ctx := context.Background()

	a, _ := p.CreateOffer(ctx, "tz1a", currencies, 5*tez)
	b, _ := p.CreateOffer(ctx, "tz1b", currencies, 5*tez)
	s, err := p.RequestSwap(ctx, btcSwap(7*tez)) // 5 from A, 2 from B
	require.NoError(t, err)

	clock.Advance(61 * time.Minute)
	_, err = p.RequestSwap(ctx, btcSwap(8*tez)) // 5 from A, 3 from B
	require.NoError(t, err)

	res, err := p.ApplySettlementBatch(ctx, "oracle", []models.SettlementUpdate{
		{OfferID: a.ID, SwapID: s.ID, Delivered: true},
		{OfferID: b.ID, SwapID: s.ID, Delivered: true},
	})
	require.NoError(t, err)

	// a partial settlement leaves the swap expired, the final one would need
	// A's capacity back
	assert.Equal(t, models.OutcomeApplied, res.Outcomes[0].Status)
	assert.Equal(t, models.OutcomeExpired, res.Outcomes[1].Status)
	swap, _ := p.Swap(s.ID)
	assert.Equal(t, int64(5*tez), swap.SettledAmount)
	assert.False(t, swap.FullySettled)
	require.Len(t, sender.payouts, 1)
	assertCapacityInvariant(t, p)
}

func TestPool_TrimLedgers_ArchiveCollision(t *testing.T) {
	created := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	oldOffer := &models.Offer{ID: 0, Depositor: "old-run", Currencies: map[string]string{"BTC": "addr"},
		TotalAmount: 5 * tez, CreatedAt: created, UnlockAt: created, Allocations: map[int64]*models.Allocation{}}
	oldSwap := &models.Swap{ID: 0, Beneficiary: "old-run", Currency: "BTC", RequestedAmount: tez,
		ExchangeRate: decimal.NewFromInt(1), CreatedAt: created, ExpiresAt: created}

	tests := []struct {
		name        string
		seed        func(a *MemoryArchive)
		offers      []int64
		swaps       []int64
		keepOffer   bool
		keepSwap    bool
		seededOffer bool
	}{
		{
			name:        "different offer under the same id",
			seed:        func(a *MemoryArchive) { require.NoError(t, a.PutOffer(context.Background(), oldOffer)) },
			offers:      []int64{},
			swaps:       []int64{},
			keepOffer:   true,
			keepSwap:    true,
			seededOffer: true,
		},
		{
			name:      "different swap under the same id",
			seed:      func(a *MemoryArchive) { require.NoError(t, a.PutSwap(context.Background(), oldSwap)) },
			offers:    []int64{0},
			swaps:     []int64{},
			keepOffer: false,
			keepSwap:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archive := NewMemoryArchive()
			tt.seed(archive)
			p, clock := newTestPool(t, WithArchive(archive))
			ctx := context.Background()

			offer, err := p.CreateOffer(ctx, "tz1a", currencies, 7*tez)
			require.NoError(t, err)
			swap, err := p.RequestSwap(ctx, btcSwap(2*tez))
			require.NoError(t, err)
			clock.Advance(25 * time.Hour)

			res, err := p.TrimLedgers(ctx, "oracle")
			require.NoError(t, err)
			assert.Equal(t, tt.offers, res.Offers)
			assert.Equal(t, tt.swaps, res.Swaps)

			_, err = p.Offer(offer.ID)
			assert.Equal(t, tt.keepOffer, err == nil)
			_, err = p.Swap(swap.ID)
			assert.Equal(t, tt.keepSwap, err == nil)

			// the archive still holds the earlier record untouched
			if tt.seededOffer {
				got, err := archive.Offer(ctx, 0)
				require.NoError(t, err)
				assert.Equal(t, "old-run", got.Depositor)
			} else {
				got, err := archive.Swap(ctx, 0)
				require.NoError(t, err)
				assert.Equal(t, "old-run", got.Beneficiary)
			}
		})
	}
}
