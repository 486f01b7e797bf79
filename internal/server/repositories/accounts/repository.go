package accounts

import (
	"context"

	"github.com/dmitrijs2005/timecapsule/internal/server/models"
)

type Repository interface {
	// GetOrCreate returns the account, provisioning it on first interaction.
	// The bool result reports whether the row was just created.
	GetOrCreate(ctx context.Context, id string, tier models.Tier) (*models.Account, bool, error)
	Get(ctx context.Context, id string) (*models.Account, error)
	// ReserveStorage adds size bytes to the account's usage; the guard in the
	// statement reports ErrorQuotaExceeded rather than exceed limit.
	ReserveStorage(ctx context.Context, id string, size, limit int64) error
	// ReleaseStorage gives size bytes back, never dropping usage below zero.
	ReleaseStorage(ctx context.Context, id string, size int64) error
	Deactivate(ctx context.Context, id string) error
}
