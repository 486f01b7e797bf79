package ledger

import (
	"context"

	"github.com/dmitrijs2005/timecapsule/internal/server/models"
)

type Repository interface {
	// Apply appends the entry and moves the materialized balance in one go.
	// The caller must run it inside the transaction that also performs the
	// side effect the entry accounts for. Returns the new balance.
	Apply(ctx context.Context, entry *models.LedgerEntry) (int64, error)
	// Sum recomputes the balance from the append-only log, for reconciliation.
	Sum(ctx context.Context, accountID string) (int64, error)
	List(ctx context.Context, accountID string, limit int) ([]*models.LedgerEntry, error)
}
