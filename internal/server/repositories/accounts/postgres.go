// Package accounts provides the PostgreSQL-backed account repository.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/timecapsule/internal/common"
	"github.com/dmitrijs2005/timecapsule/internal/dbx"
	"github.com/dmitrijs2005/timecapsule/internal/server/models"
)

// PostgresRepository implements account storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetOrCreate(ctx context.Context, id string, tier models.Tier) (*models.Account, bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, tier) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		id, tier)
	if err != nil {
		return nil, false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected error: %w", err)
	}

	acc, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return acc, n == 1, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, tier, balance, storage_used, active, created_at FROM accounts WHERE id = $1`,
		id)

	var acc models.Account
	if err := row.Scan(&acc.ID, &acc.Tier, &acc.Balance, &acc.StorageUsed, &acc.Active, &acc.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &acc, nil
}

// ReserveStorage is the authoritative quota guard: the UPDATE only matches
// while the reservation still fits under limit, so concurrent reservations
// cannot drive usage past it.
func (r *PostgresRepository) ReserveStorage(ctx context.Context, id string, size, limit int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET storage_used = storage_used + $2
		WHERE id = $1 AND storage_used + $2 <= $3`,
		id, size, limit)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return common.ErrorQuotaExceeded
	}
	return nil
}

// ReleaseStorage gives size bytes back, never dropping usage below zero.
func (r *PostgresRepository) ReleaseStorage(ctx context.Context, id string, size int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET storage_used = storage_used - $2
		WHERE id = $1 AND storage_used - $2 >= 0`,
		id, size)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
