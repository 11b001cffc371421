package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xtrntr/swappool/internal/models"
	"github.com/xtrntr/swappool/internal/pool"
)

// CreateAccount inserts a new account
func (db *DB) CreateAccount(ctx context.Context, identity, passwordHash string) (*models.Account, error) {
	account := &models.Account{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO accounts (identity, password_hash) VALUES ($1, $2) RETURNING id, identity, password_hash, created_at",
		identity, passwordHash).Scan(&account.ID, &account.Identity, &account.PasswordHash, &account.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("account %q: %w", identity, pool.ErrDuplicateKey)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

// GetAccount retrieves an account by identity
func (db *DB) GetAccount(ctx context.Context, identity string) (*models.Account, error) {
	account := &models.Account{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, identity, password_hash, created_at FROM accounts WHERE identity = $1",
		identity).Scan(&account.ID, &account.Identity, &account.PasswordHash, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account %q: %w", identity, pool.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}
