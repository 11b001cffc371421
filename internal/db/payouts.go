package db

import (
	"context"
	"fmt"

	"github.com/xtrntr/swappool/internal/models"
)

// RecordPayout appends a payout to the ledger. Inside a settlement
// transaction it joins that transaction. Recording the same allocation
// twice is a no-op.
func (db *DB) RecordPayout(ctx context.Context, p models.Payout) error {
	_, err := db.conn(ctx).Exec(ctx,
		`INSERT INTO payouts (offer_id, swap_id, beneficiary, amount, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (offer_id, swap_id) DO NOTHING`,
		p.OfferID, p.SwapID, p.Beneficiary, p.Amount, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record payout: %w", err)
	}
	return nil
}

// GetPayouts retrieves the payouts received by a beneficiary
func (db *DB) GetPayouts(ctx context.Context, beneficiary string) ([]models.Payout, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT offer_id, swap_id, beneficiary, amount, created_at FROM payouts
		 WHERE beneficiary = $1 ORDER BY created_at, swap_id, offer_id`,
		beneficiary)
	if err != nil {
		return nil, fmt.Errorf("failed to get payouts: %w", err)
	}
	defer rows.Close()

	payouts := []models.Payout{}
	for rows.Next() {
		var p models.Payout
		if err := rows.Scan(&p.OfferID, &p.SwapID, &p.Beneficiary, &p.Amount, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		payouts = append(payouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get payouts: %w", err)
	}
	return payouts, nil
}
