package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/swappool/internal/models"
	"github.com/xtrntr/swappool/internal/pool"
)

const (
	offerCounter = "offer"
	swapCounter  = "swap"
)

var _ pool.Store = (*DB)(nil)

// SaveOffer persists a new offer together with the next offer id
func (db *DB) SaveOffer(ctx context.Context, o *models.Offer, counter int64) error {
	return db.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			"INSERT INTO offers (id, depositor, total_amount, created_at, unlock_at) VALUES ($1, $2, $3, $4, $5)",
			o.ID, o.Depositor, o.TotalAmount, o.CreatedAt, o.UnlockAt)
		if err != nil {
			return fmt.Errorf("failed to insert offer: %w", err)
		}
		for symbol, address := range o.Currencies {
			_, err := tx.Exec(ctx,
				"INSERT INTO offer_currencies (offer_id, symbol, address) VALUES ($1, $2, $3)",
				o.ID, symbol, address)
			if err != nil {
				return fmt.Errorf("failed to insert offer currency: %w", err)
			}
		}
		return setCounter(ctx, tx, offerCounter, counter)
	})
}

// SaveSwap persists a new swap, its allocations and the next swap id in one
// transaction
func (db *DB) SaveSwap(ctx context.Context, s *models.Swap, allocations map[int64]int64, counter int64) error {
	return db.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO swaps (id, beneficiary, currency, requested_amount, exchange_rate, created_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)`,
			s.ID, s.Beneficiary, s.Currency, s.RequestedAmount, s.ExchangeRate.String(), s.CreatedAt, s.ExpiresAt)
		if err != nil {
			return fmt.Errorf("failed to insert swap: %w", err)
		}
		for i, offerID := range s.SourceOffers {
			_, err := tx.Exec(ctx,
				"INSERT INTO swap_sources (swap_id, offer_id, position) VALUES ($1, $2, $3)",
				s.ID, offerID, i)
			if err != nil {
				return fmt.Errorf("failed to insert swap source: %w", err)
			}
			_, err = tx.Exec(ctx,
				"INSERT INTO allocations (offer_id, swap_id, amount) VALUES ($1, $2, $3)",
				offerID, s.ID, allocations[offerID])
			if err != nil {
				return fmt.Errorf("failed to insert allocation: %w", err)
			}
		}
		return setCounter(ctx, tx, swapCounter, counter)
	})
}

// SettleAllocation marks an allocation sent and rolls the swap totals up.
// transfer runs inside the same transaction; its failure rolls back the
// whole update.
func (db *DB) SettleAllocation(ctx context.Context, rec models.Settlement, transfer func(context.Context) error) error {
	return db.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			"UPDATE allocations SET sent = TRUE WHERE offer_id = $1 AND swap_id = $2 AND sent = FALSE",
			rec.OfferID, rec.SwapID)
		if err != nil {
			return fmt.Errorf("failed to mark allocation sent: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("allocation %d/%d not pending: %w", rec.OfferID, rec.SwapID, pool.ErrNotFound)
		}
		_, err = tx.Exec(ctx,
			"UPDATE swaps SET settled_amount = $1, fully_settled = $2 WHERE id = $3",
			rec.SettledAmount, rec.FullySettled, rec.SwapID)
		if err != nil {
			return fmt.Errorf("failed to update swap totals: %w", err)
		}
		if err := transfer(ctx); err != nil {
			return fmt.Errorf("transfer failed: %w", err)
		}
		return nil
	})
}

// RemoveRecords deletes trimmed offers and swaps. Currencies, allocations
// and sources go with them.
func (db *DB) RemoveRecords(ctx context.Context, offerIDs, swapIDs []int64) error {
	return db.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if len(offerIDs) > 0 {
			if _, err := tx.Exec(ctx, "DELETE FROM offers WHERE id = ANY($1)", offerIDs); err != nil {
				return fmt.Errorf("failed to delete offers: %w", err)
			}
		}
		if len(swapIDs) > 0 {
			if _, err := tx.Exec(ctx, "DELETE FROM swaps WHERE id = ANY($1)", swapIDs); err != nil {
				return fmt.Errorf("failed to delete swaps: %w", err)
			}
		}
		return nil
	})
}

// LoadSnapshot reads the active ledgers and counters
func (db *DB) LoadSnapshot(ctx context.Context) (models.Snapshot, error) {
	var snap models.Snapshot

	offers := make(map[int64]*models.Offer)
	rows, err := db.Pool.Query(ctx,
		"SELECT id, depositor, total_amount, created_at, unlock_at FROM offers ORDER BY id")
	if err != nil {
		return snap, fmt.Errorf("failed to load offers: %w", err)
	}
	for rows.Next() {
		o := &models.Offer{
			Currencies:  make(map[string]string),
			Allocations: make(map[int64]*models.Allocation),
		}
		if err := rows.Scan(&o.ID, &o.Depositor, &o.TotalAmount, &o.CreatedAt, &o.UnlockAt); err != nil {
			rows.Close()
			return snap, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers[o.ID] = o
		snap.Offers = append(snap.Offers, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("failed to load offers: %w", err)
	}

	rows, err = db.Pool.Query(ctx, "SELECT offer_id, symbol, address FROM offer_currencies")
	if err != nil {
		return snap, fmt.Errorf("failed to load offer currencies: %w", err)
	}
	for rows.Next() {
		var id int64
		var symbol, address string
		if err := rows.Scan(&id, &symbol, &address); err != nil {
			rows.Close()
			return snap, fmt.Errorf("failed to scan offer currency: %w", err)
		}
		if o, ok := offers[id]; ok {
			o.Currencies[symbol] = address
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("failed to load offer currencies: %w", err)
	}

	rows, err = db.Pool.Query(ctx, "SELECT offer_id, swap_id, amount, sent FROM allocations")
	if err != nil {
		return snap, fmt.Errorf("failed to load allocations: %w", err)
	}
	for rows.Next() {
		var offerID, swapID int64
		a := &models.Allocation{}
		if err := rows.Scan(&offerID, &swapID, &a.Amount, &a.Sent); err != nil {
			rows.Close()
			return snap, fmt.Errorf("failed to scan allocation: %w", err)
		}
		if o, ok := offers[offerID]; ok {
			o.Allocations[swapID] = a
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("failed to load allocations: %w", err)
	}

	swaps := make(map[int64]*models.Swap)
	rows, err = db.Pool.Query(ctx,
		`SELECT id, beneficiary, currency, requested_amount, exchange_rate::text, created_at, expires_at,
		        settled_amount, fully_settled
		 FROM swaps ORDER BY id`)
	if err != nil {
		return snap, fmt.Errorf("failed to load swaps: %w", err)
	}
	for rows.Next() {
		s := &models.Swap{}
		var rate string
		if err := rows.Scan(&s.ID, &s.Beneficiary, &s.Currency, &s.RequestedAmount, &rate,
			&s.CreatedAt, &s.ExpiresAt, &s.SettledAmount, &s.FullySettled); err != nil {
			rows.Close()
			return snap, fmt.Errorf("failed to scan swap: %w", err)
		}
		if s.ExchangeRate, err = decimal.NewFromString(rate); err != nil {
			rows.Close()
			return snap, fmt.Errorf("swap %d exchange rate: %w", s.ID, err)
		}
		swaps[s.ID] = s
		snap.Swaps = append(snap.Swaps, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("failed to load swaps: %w", err)
	}

	rows, err = db.Pool.Query(ctx, "SELECT swap_id, offer_id FROM swap_sources ORDER BY swap_id, position")
	if err != nil {
		return snap, fmt.Errorf("failed to load swap sources: %w", err)
	}
	for rows.Next() {
		var swapID, offerID int64
		if err := rows.Scan(&swapID, &offerID); err != nil {
			rows.Close()
			return snap, fmt.Errorf("failed to scan swap source: %w", err)
		}
		if s, ok := swaps[swapID]; ok {
			s.SourceOffers = append(s.SourceOffers, offerID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("failed to load swap sources: %w", err)
	}

	if snap.OfferCounter, err = db.counter(ctx, offerCounter); err != nil {
		return snap, err
	}
	if snap.SwapCounter, err = db.counter(ctx, swapCounter); err != nil {
		return snap, err
	}
	return snap, nil
}

func (db *DB) counter(ctx context.Context, name string) (int64, error) {
	var next int64
	err := db.Pool.QueryRow(ctx, "SELECT next_id FROM ledger_counters WHERE name = $1", name).Scan(&next)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load %s counter: %w", name, err)
	}
	return next, nil
}

func setCounter(ctx context.Context, tx pgx.Tx, name string, next int64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO ledger_counters (name, next_id) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET next_id = EXCLUDED.next_id`,
		name, next)
	if err != nil {
		return fmt.Errorf("failed to update %s counter: %w", name, err)
	}
	return nil
}
