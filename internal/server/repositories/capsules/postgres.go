// Package capsules provides the PostgreSQL-backed capsule repository,
// including the atomic claim primitive the delivery scheduler relies on.
package capsules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/timecapsule/internal/common"
	"github.com/dmitrijs2005/timecapsule/internal/dbx"
	"github.com/dmitrijs2005/timecapsule/internal/server/models"
)

const capsuleColumns = `id, account_id, recipient_kind, recipient_target, content_kind,
		encrypted_text, blob_key, wrapped_item_key, size, scheduled_at, state,
		attempt_count, last_error, created_at, claimed_at, delivered_at`

// PostgresRepository implements capsule storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, c *models.Capsule) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO capsules (id, account_id, recipient_kind, recipient_target, content_kind,
			encrypted_text, blob_key, wrapped_item_key, size, scheduled_at, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.AccountID, c.Recipient.Kind, c.Recipient.Target, c.ContentKind,
		c.EncryptedText, c.BlobKey, c.WrappedItemKey, c.Size, c.ScheduledAt, c.State)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Capsule, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+capsuleColumns+` FROM capsules WHERE id = $1`, id)
	c, err := scanCapsule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string, states []models.CapsuleState, limit int) ([]*models.Capsule, error) {
	query := `SELECT ` + capsuleColumns + ` FROM capsules WHERE account_id = $1`
	args := []any{accountID}

	if len(states) > 0 {
		placeholders := make([]string, len(states))
		for i, s := range states {
			args = append(args, s)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += ` AND state IN (` + strings.Join(placeholders, ", ") + `)`
	}

	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	return collectCapsules(rows)
}

// ClaimDue uses FOR UPDATE SKIP LOCKED so concurrent workers never select
// the same rows; the state flip happens inside the claiming statement, not
// after it. Stale IN_FLIGHT rows (crashed worker) re-enter the due set and
// the reclaim counts as a fresh attempt.
func (r *PostgresRepository) ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*models.Capsule, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE capsules SET
			state = $1, claimed_at = $2, attempt_count = attempt_count + 1
		WHERE id IN (
			SELECT id FROM capsules
			WHERE (state = $3 AND scheduled_at <= $2)
			   OR (state = $1 AND claimed_at <= $4)
			ORDER BY scheduled_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $5
		)
		RETURNING `+capsuleColumns,
		models.CapsuleInFlight, now, models.CapsulePending, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due capsules: %w", err)
	}
	defer rows.Close()

	claimed, err := collectCapsules(rows)
	if err != nil {
		return nil, err
	}

	// RETURNING does not preserve the subquery order; restore the
	// scheduled_at/id processing order here.
	sort.Slice(claimed, func(i, j int) bool {
		if !claimed[i].ScheduledAt.Equal(claimed[j].ScheduledAt) {
			return claimed[i].ScheduledAt.Before(claimed[j].ScheduledAt)
		}
		return claimed[i].ID < claimed[j].ID
	})
	return claimed, nil
}

func (r *PostgresRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return r.transition(ctx, `
		UPDATE capsules SET state = $1, delivered_at = $2, last_error = ''
		WHERE id = $3 AND state = $4`,
		models.CapsuleDelivered, at, id, models.CapsuleInFlight)
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id string, lastError string) error {
	return r.transition(ctx, `
		UPDATE capsules SET state = $1, last_error = $2
		WHERE id = $3 AND state = $4`,
		models.CapsuleFailed, lastError, id, models.CapsuleInFlight)
}

func (r *PostgresRepository) Requeue(ctx context.Context, id string, lastError string) error {
	return r.transition(ctx, `
		UPDATE capsules SET state = $1, last_error = $2, claimed_at = NULL
		WHERE id = $3 AND state = $4`,
		models.CapsulePending, lastError, id, models.CapsuleInFlight)
}

func (r *PostgresRepository) transition(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorClaimConflict
	}
	return nil
}

func (r *PostgresRepository) Cancel(ctx context.Context, id string) (*models.Capsule, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE capsules SET state = $1
		WHERE id = $2 AND state = $3
		RETURNING `+capsuleColumns,
		models.CapsuleCancelled, id, models.CapsulePending)

	c, err := scanCapsule(row)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("db error: %w", err)
	}

	// no row matched: report why
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.State == models.CapsuleCancelled {
		return nil, common.ErrorAlreadyCancelled
	}
	return nil, common.ErrorNotPending
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCapsule(row rowScanner) (*models.Capsule, error) {
	var c models.Capsule
	var claimedAt, deliveredAt sql.NullTime
	if err := row.Scan(
		&c.ID, &c.AccountID, &c.Recipient.Kind, &c.Recipient.Target, &c.ContentKind,
		&c.EncryptedText, &c.BlobKey, &c.WrappedItemKey, &c.Size, &c.ScheduledAt, &c.State,
		&c.AttemptCount, &c.LastError, &c.CreatedAt, &claimedAt, &deliveredAt,
	); err != nil {
		return nil, err
	}
	if claimedAt.Valid {
		c.ClaimedAt = &claimedAt.Time
	}
	if deliveredAt.Valid {
		c.DeliveredAt = &deliveredAt.Time
	}
	return &c, nil
}

func collectCapsules(rows *sql.Rows) ([]*models.Capsule, error) {
	var result []*models.Capsule
	for rows.Next() {
		c, err := scanCapsule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
