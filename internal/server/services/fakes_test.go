package services

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/dmitrijs2005/timecapsule/internal/common"
	"github.com/dmitrijs2005/timecapsule/internal/dbx"
	"github.com/dmitrijs2005/timecapsule/internal/server/models"
	"github.com/dmitrijs2005/timecapsule/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/timecapsule/internal/server/repositories/capsules"
	"github.com/dmitrijs2005/timecapsule/internal/server/repositories/ledger"
	"github.com/google/uuid"
)

// fakeRepoManager holds shared in-memory state; the repositories it vends all
// operate on it, mimicking repos sharing a transaction.
type fakeRepoManager struct {
	accounts map[string]*models.Account
	entries  []*models.LedgerEntry
	capsules map[string]*models.Capsule

	accountsErr error
	ledgerErr   error
	capsulesErr error
	storageErr  error
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		accounts: make(map[string]*models.Account),
		capsules: make(map[string]*models.Capsule),
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Accounts(dbx.DBTX) accounts.Repository        { return &fakeAccounts{m} }
func (m *fakeRepoManager) Capsules(dbx.DBTX) capsules.Repository        { return &fakeCapsules{m} }
func (m *fakeRepoManager) Ledger(dbx.DBTX) ledger.Repository            { return &fakeLedger{m} }

func (m *fakeRepoManager) addAccount(id string, tier models.Tier, balance, storageUsed int64) {
	m.accounts[id] = &models.Account{
		ID: id, Tier: tier, Balance: balance, StorageUsed: storageUsed,
		Active: true, CreatedAt: time.Now(),
	}
}

type fakeAccounts struct{ m *fakeRepoManager }

func (r *fakeAccounts) GetOrCreate(ctx context.Context, id string, tier models.Tier) (*models.Account, bool, error) {
	if r.m.accountsErr != nil {
		return nil, false, r.m.accountsErr
	}
	if acc, ok := r.m.accounts[id]; ok {
		return acc, false, nil
	}
	r.m.addAccount(id, tier, 0, 0)
	return r.m.accounts[id], true, nil
}

func (r *fakeAccounts) Get(ctx context.Context, id string) (*models.Account, error) {
	if r.m.accountsErr != nil {
		return nil, r.m.accountsErr
	}
	acc, ok := r.m.accounts[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *acc
	return &cp, nil
}

func (r *fakeAccounts) ReserveStorage(ctx context.Context, id string, size, limit int64) error {
	if r.m.storageErr != nil {
		return r.m.storageErr
	}
	acc, ok := r.m.accounts[id]
	if !ok {
		return common.ErrorNotFound
	}
	if acc.StorageUsed+size > limit {
		return common.ErrorQuotaExceeded
	}
	acc.StorageUsed += size
	return nil
}

func (r *fakeAccounts) ReleaseStorage(ctx context.Context, id string, size int64) error {
	if r.m.storageErr != nil {
		return r.m.storageErr
	}
	acc, ok := r.m.accounts[id]
	if !ok {
		return common.ErrorNotFound
	}
	acc.StorageUsed -= size
	return nil
}

func (r *fakeAccounts) Deactivate(ctx context.Context, id string) error {
	acc, ok := r.m.accounts[id]
	if !ok {
		return common.ErrorNotFound
	}
	acc.Active = false
	return nil
}

type fakeLedger struct{ m *fakeRepoManager }

func (r *fakeLedger) Apply(ctx context.Context, entry *models.LedgerEntry) (int64, error) {
	if r.m.ledgerErr != nil {
		return 0, r.m.ledgerErr
	}
	acc, ok := r.m.accounts[entry.AccountID]
	if !ok {
		return 0, common.ErrorNotFound
	}
	if acc.Balance+entry.Delta < 0 {
		return 0, common.ErrorInsufficientBalance
	}
	if entry.Reason == models.LedgerPurchase {
		for _, e := range r.m.entries {
			if e.Reason == models.LedgerPurchase && e.AccountID == entry.AccountID && e.Reference == entry.Reference {
				return 0, common.ErrorDuplicateReference
			}
		}
	}
	acc.Balance += entry.Delta
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now()
	r.m.entries = append(r.m.entries, entry)
	return acc.Balance, nil
}

func (r *fakeLedger) Sum(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	for _, e := range r.m.entries {
		if e.AccountID == accountID {
			sum += e.Delta
		}
	}
	return sum, nil
}

func (r *fakeLedger) List(ctx context.Context, accountID string, limit int) ([]*models.LedgerEntry, error) {
	var result []*models.LedgerEntry
	for i := len(r.m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if r.m.entries[i].AccountID == accountID {
			result = append(result, r.m.entries[i])
		}
	}
	return result, nil
}

type fakeCapsules struct{ m *fakeRepoManager }

func (r *fakeCapsules) Create(ctx context.Context, c *models.Capsule) error {
	if r.m.capsulesErr != nil {
		return r.m.capsulesErr
	}
	cp := *c
	cp.CreatedAt = time.Now()
	r.m.capsules[c.ID] = &cp
	return nil
}

func (r *fakeCapsules) Get(ctx context.Context, id string) (*models.Capsule, error) {
	c, ok := r.m.capsules[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCapsules) ListByAccount(ctx context.Context, accountID string, states []models.CapsuleState, limit int) ([]*models.Capsule, error) {
	var result []*models.Capsule
	for _, c := range r.m.capsules {
		if c.AccountID != accountID {
			continue
		}
		if len(states) > 0 {
			found := false
			for _, s := range states {
				if c.State == s {
					found = true
				}
			}
			if !found {
				continue
			}
		}
		cp := *c
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *fakeCapsules) ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*models.Capsule, error) {
	var claimed []*models.Capsule
	for _, c := range r.m.capsules {
		due := c.State == models.CapsulePending && !c.ScheduledAt.After(now)
		stale := c.State == models.CapsuleInFlight && c.ClaimedAt != nil && !c.ClaimedAt.After(staleBefore)
		if due || stale {
			c.State = models.CapsuleInFlight
			t := now
			c.ClaimedAt = &t
			c.AttemptCount++
			cp := *c
			claimed = append(claimed, &cp)
		}
	}
	sort.Slice(claimed, func(i, j int) bool {
		if !claimed[i].ScheduledAt.Equal(claimed[j].ScheduledAt) {
			return claimed[i].ScheduledAt.Before(claimed[j].ScheduledAt)
		}
		return claimed[i].ID < claimed[j].ID
	})
	if len(claimed) > limit {
		claimed = claimed[:limit]
	}
	return claimed, nil
}

func (r *fakeCapsules) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return r.transition(id, models.CapsuleInFlight, func(c *models.Capsule) {
		c.State = models.CapsuleDelivered
		t := at
		c.DeliveredAt = &t
		c.LastError = ""
	})
}

func (r *fakeCapsules) MarkFailed(ctx context.Context, id string, lastError string) error {
	return r.transition(id, models.CapsuleInFlight, func(c *models.Capsule) {
		c.State = models.CapsuleFailed
		c.LastError = lastError
	})
}

func (r *fakeCapsules) Requeue(ctx context.Context, id string, lastError string) error {
	return r.transition(id, models.CapsuleInFlight, func(c *models.Capsule) {
		c.State = models.CapsulePending
		c.LastError = lastError
		c.ClaimedAt = nil
	})
}

func (r *fakeCapsules) transition(id string, from models.CapsuleState, apply func(*models.Capsule)) error {
	c, ok := r.m.capsules[id]
	if !ok || c.State != from {
		return common.ErrorClaimConflict
	}
	apply(c)
	return nil
}

func (r *fakeCapsules) Cancel(ctx context.Context, id string) (*models.Capsule, error) {
	c, ok := r.m.capsules[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	switch c.State {
	case models.CapsulePending:
		c.State = models.CapsuleCancelled
		cp := *c
		return &cp, nil
	case models.CapsuleCancelled:
		return nil, common.ErrorAlreadyCancelled
	default:
		return nil, common.ErrorNotPending
	}
}
