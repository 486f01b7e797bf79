// Package ledger provides the PostgreSQL-backed append-only ledger. The
// materialized balance on accounts is updated in the same statement sequence
// that appends the entry, so the running sum of deltas always reconciles to
// the balance column.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/timecapsule/internal/common"
	"github.com/dmitrijs2005/timecapsule/internal/dbx"
	"github.com/dmitrijs2005/timecapsule/internal/server/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// PostgresRepository implements ledger storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Apply performs the conditional balance move first, so a debit that would
// drive the balance negative never appends an entry. Callers are expected to
// wrap Apply in a transaction together with the triggering mutation; the
// balance check therefore happens under the same isolation as the debit and
// two concurrent creations cannot both spend the last credit.
func (r *PostgresRepository) Apply(ctx context.Context, entry *models.LedgerEntry) (int64, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE accounts SET balance = balance + $2
		WHERE id = $1 AND balance + $2 >= 0
		RETURNING balance`,
		entry.AccountID, entry.Delta)

	var balance int64
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, r.classifyBalanceFailure(ctx, entry.AccountID)
		}
		return 0, fmt.Errorf("db error: %w", err)
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, delta, reason, reference, amount, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.AccountID, entry.Delta, entry.Reason, entry.Reference, entry.Amount, entry.Currency)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, common.ErrorDuplicateReference
		}
		return 0, fmt.Errorf("db error: %w", err)
	}

	return balance, nil
}

// classifyBalanceFailure tells a missing account apart from an insufficient
// balance after the conditional update matched no row.
func (r *PostgresRepository) classifyBalanceFailure(ctx context.Context, accountID string) error {
	var exists bool
	row := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID)
	if err := row.Scan(&exists); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if !exists {
		return common.ErrorNotFound
	}
	return common.ErrorInsufficientBalance
}

func (r *PostgresRepository) Sum(ctx context.Context, accountID string) (int64, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE account_id = $1`, accountID)

	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return sum, nil
}

func (r *PostgresRepository) List(ctx context.Context, accountID string, limit int) ([]*models.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, delta, reason, reference, amount, currency, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Delta, &e.Reason, &e.Reference,
			&e.Amount, &e.Currency, &e.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
