package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xtrntr/swappool/internal/access"
)

const (
	roleAdministrator = "administrator"
	roleSpare         = "spare"
)

var _ access.Persister = (*DB)(nil)

// LoadRoles reads the persisted roles. Roles missing from the database are
// taken from bootstrap and written back, so the configured values only seed
// a fresh database.
func (db *DB) LoadRoles(ctx context.Context, bootstrap access.State) (access.State, error) {
	state := access.State{Oracles: make(map[string]string)}

	rows, err := db.Pool.Query(ctx, "SELECT role, identity FROM roles")
	if err != nil {
		return state, fmt.Errorf("failed to load roles: %w", err)
	}
	for rows.Next() {
		var role, identity string
		if err := rows.Scan(&role, &identity); err != nil {
			rows.Close()
			return state, fmt.Errorf("failed to scan role: %w", err)
		}
		switch role {
		case roleAdministrator:
			state.Administrator = identity
		case roleSpare:
			state.Spare = identity
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return state, fmt.Errorf("failed to load roles: %w", err)
	}

	rows, err = db.Pool.Query(ctx, "SELECT identity, label FROM oracles")
	if err != nil {
		return state, fmt.Errorf("failed to load oracles: %w", err)
	}
	for rows.Next() {
		var identity, label string
		if err := rows.Scan(&identity, &label); err != nil {
			rows.Close()
			return state, fmt.Errorf("failed to scan oracle: %w", err)
		}
		state.Oracles[identity] = label
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return state, fmt.Errorf("failed to load oracles: %w", err)
	}

	if state.Administrator == "" && bootstrap.Administrator != "" {
		if err := db.saveRole(ctx, db.Pool, roleAdministrator, bootstrap.Administrator); err != nil {
			return state, err
		}
		state.Administrator = bootstrap.Administrator
	}
	if state.Spare == "" && bootstrap.Spare != "" {
		if err := db.saveRole(ctx, db.Pool, roleSpare, bootstrap.Spare); err != nil {
			return state, err
		}
		state.Spare = bootstrap.Spare
	}
	if len(state.Oracles) == 0 && len(bootstrap.Oracles) > 0 {
		if err := db.SaveOracles(ctx, bootstrap.Oracles); err != nil {
			return state, err
		}
		for id, label := range bootstrap.Oracles {
			state.Oracles[id] = label
		}
	}
	return state, nil
}

// SaveAdministrator records a new administrator
func (db *DB) SaveAdministrator(ctx context.Context, identity string) error {
	return db.saveRole(ctx, db.Pool, roleAdministrator, identity)
}

// SaveOracles upserts oracles with their labels
func (db *DB) SaveOracles(ctx context.Context, oracles map[string]string) error {
	return db.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for identity, label := range oracles {
			_, err := tx.Exec(ctx,
				`INSERT INTO oracles (identity, label) VALUES ($1, $2)
				 ON CONFLICT (identity) DO UPDATE SET label = EXCLUDED.label`,
				identity, label)
			if err != nil {
				return fmt.Errorf("failed to save oracle: %w", err)
			}
		}
		return nil
	})
}

// DeleteOracles removes oracles
func (db *DB) DeleteOracles(ctx context.Context, identities []string) error {
	_, err := db.Pool.Exec(ctx, "DELETE FROM oracles WHERE identity = ANY($1)", identities)
	if err != nil {
		return fmt.Errorf("failed to delete oracles: %w", err)
	}
	return nil
}

func (db *DB) saveRole(ctx context.Context, q querier, role, identity string) error {
	_, err := q.Exec(ctx,
		`INSERT INTO roles (role, identity) VALUES ($1, $2)
		 ON CONFLICT (role) DO UPDATE SET identity = EXCLUDED.identity`,
		role, identity)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", role, err)
	}
	return nil
}
