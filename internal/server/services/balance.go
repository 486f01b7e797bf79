// Package services contains server-side business logic: the balance/ledger
// operations and the capsule creation pipeline.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/timecapsule/internal/common"
	"github.com/dmitrijs2005/timecapsule/internal/dbx"
	"github.com/dmitrijs2005/timecapsule/internal/logging"
	"github.com/dmitrijs2005/timecapsule/internal/server/metrics"
	"github.com/dmitrijs2005/timecapsule/internal/server/models"
	"github.com/dmitrijs2005/timecapsule/internal/server/repositories/repomanager"
	"github.com/shopspring/decimal"
)

// starterReference marks the one-time grant issued on account provisioning.
const starterReference = "starter"

// BalanceService owns every balance mutation. Nothing else writes the
// balance column or the ledger.
type BalanceService struct {
	db             *sql.DB
	repos          repomanager.RepositoryManager
	logger         logging.Logger
	starterCredits int64
}

func NewBalanceService(db *sql.DB, rm repomanager.RepositoryManager, logger logging.Logger, starterCredits int64) *BalanceService {
	return &BalanceService{
		db:             db,
		repos:          rm,
		logger:         logger.With("module", "balance_service"),
		starterCredits: starterCredits,
	}
}

// EnsureAccount provisions the account on first interaction. A freshly
// created account receives the starter grant exactly once, in the same
// transaction as the insert.
func (s *BalanceService) EnsureAccount(ctx context.Context, accountID string, tier models.Tier) (*models.Account, error) {
	var acc *models.Account
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		a, created, err := s.repos.Accounts(tx).GetOrCreate(ctx, accountID, tier)
		if err != nil {
			return err
		}
		if created && s.starterCredits > 0 {
			balance, err := s.repos.Ledger(tx).Apply(ctx, &models.LedgerEntry{
				AccountID: accountID,
				Delta:     s.starterCredits,
				Reason:    models.LedgerGrant,
				Reference: starterReference,
			})
			if err != nil {
				return fmt.Errorf("starter grant: %w", err)
			}
			a.Balance = balance
			metrics.LedgerApplied.WithLabelValues(string(models.LedgerGrant)).Inc()
		}
		acc = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// GetBalance returns the materialized balance for the account.
func (s *BalanceService) GetBalance(ctx context.Context, accountID string) (int64, error) {
	acc, err := s.repos.Accounts(s.db).Get(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Credit applies a confirmed purchase. The ledger's unique purchase
// reference makes replays harmless: a duplicate confirmation credits
// nothing and reports the current balance.
func (s *BalanceService) Credit(ctx context.Context, accountID string, credits int64, reference string, amount decimal.Decimal, currency string) (int64, error) {
	if credits <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", credits)
	}
	if reference == "" {
		return 0, errors.New("purchase reference is required")
	}

	var balance int64
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, _, err := s.repos.Accounts(tx).GetOrCreate(ctx, accountID, models.TierFree); err != nil {
			return err
		}
		b, err := s.repos.Ledger(tx).Apply(ctx, &models.LedgerEntry{
			AccountID: accountID,
			Delta:     credits,
			Reason:    models.LedgerPurchase,
			Reference: reference,
			Amount:    amount,
			Currency:  currency,
		})
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	if errors.Is(err, common.ErrorDuplicateReference) {
		s.logger.Warn(ctx, "duplicate payment confirmation ignored", "account_id", accountID, "reference", reference)
		return s.GetBalance(ctx, accountID)
	}
	if err != nil {
		return 0, err
	}

	metrics.LedgerApplied.WithLabelValues(string(models.LedgerPurchase)).Inc()
	s.logger.Info(ctx, "purchase credited", "account_id", accountID, "credits", credits, "reference", reference)
	return balance, nil
}

// Statement returns the most recent ledger entries for the account.
func (s *BalanceService) Statement(ctx context.Context, accountID string, limit int) ([]*models.LedgerEntry, error) {
	return s.repos.Ledger(s.db).List(ctx, accountID, limit)
}

// Reconcile verifies that the append-only log still sums to the
// materialized balance.
func (s *BalanceService) Reconcile(ctx context.Context, accountID string) error {
	acc, err := s.repos.Accounts(s.db).Get(ctx, accountID)
	if err != nil {
		return err
	}
	sum, err := s.repos.Ledger(s.db).Sum(ctx, accountID)
	if err != nil {
		return err
	}
	if sum != acc.Balance {
		return fmt.Errorf("ledger sum %d does not match balance %d for account %s", sum, acc.Balance, accountID)
	}
	return nil
}
