package payout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xtrntr/swappool/internal/models"
	"github.com/xtrntr/swappool/internal/pool"
)

// Recorder appends payouts to a durable ledger
type Recorder interface {
	RecordPayout(ctx context.Context, p models.Payout) error
}

// LedgerSender credits beneficiaries by recording payouts in the database
// ledger. Called inside a settlement transaction, the payout commits or
// rolls back with the settlement.
type LedgerSender struct {
	recorder Recorder
	logger   *slog.Logger
}

var _ pool.Sender = (*LedgerSender)(nil)

// NewLedgerSender creates a LedgerSender
func NewLedgerSender(recorder Recorder, logger *slog.Logger) *LedgerSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerSender{recorder: recorder, logger: logger}
}

func (s *LedgerSender) Send(ctx context.Context, p models.Payout) error {
	if p.Amount <= 0 {
		return fmt.Errorf("payout amount must be positive, got %d", p.Amount)
	}
	if p.Beneficiary == "" {
		return fmt.Errorf("payout beneficiary required")
	}
	if err := s.recorder.RecordPayout(ctx, p); err != nil {
		return err
	}
	s.logger.Info("payout recorded", "offer_id", p.OfferID, "swap_id", p.SwapID,
		"beneficiary", p.Beneficiary, "amount", p.Amount)
	return nil
}

// MemoryLedger is an in-process payout ledger used when the service runs
// without a database.
type MemoryLedger struct {
	mu      sync.RWMutex
	payouts []models.Payout
	seen    map[[2]int64]bool
}

// NewMemoryLedger creates an empty MemoryLedger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[[2]int64]bool)}
}

// RecordPayout appends a payout once per allocation
func (l *MemoryLedger) RecordPayout(_ context.Context, p models.Payout) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := [2]int64{p.OfferID, p.SwapID}
	if l.seen[key] {
		return nil
	}
	l.seen[key] = true
	l.payouts = append(l.payouts, p)
	return nil
}

// GetPayouts lists the payouts received by a beneficiary
func (l *MemoryLedger) GetPayouts(_ context.Context, beneficiary string) ([]models.Payout, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []models.Payout{}
	for _, p := range l.payouts {
		if p.Beneficiary == beneficiary {
			out = append(out, p)
		}
	}
	return out, nil
}
