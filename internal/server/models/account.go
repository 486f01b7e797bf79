// Package models defines server-side data models persisted in the database.
package models

import "time"

// Tier governs an account's quota policy.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// StorageLimit is the total encrypted-content storage allowed for the tier.
func (t Tier) StorageLimit() int64 {
	if t == TierPremium {
		return 500 * 1024 * 1024
	}
	return 100 * 1024 * 1024
}

// MaxHorizon is how far into the future a delivery may be scheduled.
func (t Tier) MaxHorizon() time.Duration {
	if t == TierPremium {
		return 25 * 365 * 24 * time.Hour
	}
	return 365 * 24 * time.Hour
}

// Account is created on first interaction and never deleted, only
// deactivated. Balance is a materialized view over the ledger and is
// mutated exclusively through ledger application.
type Account struct {
	ID          string
	Tier        Tier
	Balance     int64
	StorageUsed int64
	Active      bool
	CreatedAt   time.Time
}
