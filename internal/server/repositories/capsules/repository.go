package capsules

import (
	"context"
	"time"

	"github.com/dmitrijs2005/timecapsule/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, c *models.Capsule) error
	Get(ctx context.Context, id string) (*models.Capsule, error)
	// ListByAccount filters by state when states is non-empty.
	ListByAccount(ctx context.Context, accountID string, states []models.CapsuleState, limit int) ([]*models.Capsule, error)

	// ClaimDue atomically moves up to limit due PENDING capsules (and
	// IN_FLIGHT capsules whose claim went stale before staleBefore) to
	// IN_FLIGHT, incrementing attempt_count. Concurrent claimers partition
	// the due set without overlap; claiming is the sole point of mutual
	// exclusion in the delivery path. Results come back in ascending
	// (scheduled_at, id) order.
	ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*models.Capsule, error)

	// State transitions below are guarded on the current state; when the
	// guard does not match (another worker finished the item first) they
	// return common.ErrorClaimConflict.
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	Requeue(ctx context.Context, id string, lastError string) error

	// Cancel transitions PENDING to CANCELLED and returns the capsule as it
	// was. Non-pending capsules yield ErrorAlreadyCancelled or ErrorNotPending.
	Cancel(ctx context.Context, id string) (*models.Capsule, error)
}
