package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/timecapsule/internal/common"
	"github.com/dmitrijs2005/timecapsule/internal/cryptox"
	"github.com/dmitrijs2005/timecapsule/internal/dbx"
	"github.com/dmitrijs2005/timecapsule/internal/logging"
	"github.com/dmitrijs2005/timecapsule/internal/server/blobstore"
	"github.com/dmitrijs2005/timecapsule/internal/server/metrics"
	"github.com/dmitrijs2005/timecapsule/internal/server/models"
	"github.com/dmitrijs2005/timecapsule/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// creationCost is the number of balance credits one capsule costs.
const creationCost = 1

// CreateRequest carries everything needed to schedule a capsule. Content is
// the plaintext; it is encrypted before anything is persisted.
type CreateRequest struct {
	AccountID   string
	Recipient   models.Recipient
	ContentKind models.ContentKind
	Content     []byte
	ScheduledAt time.Time
}

// CapsuleService implements capsule creation, cancellation, and queries.
type CapsuleService struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	vault  *cryptox.Vault
	blobs  blobstore.Client
	logger logging.Logger

	now func() time.Time
}

func NewCapsuleService(db *sql.DB, rm repomanager.RepositoryManager, vault *cryptox.Vault, blobs blobstore.Client, logger logging.Logger) *CapsuleService {
	return &CapsuleService{
		db:     db,
		repos:  rm,
		vault:  vault,
		blobs:  blobs,
		logger: logger.With("module", "capsule_service"),
		now:    time.Now,
	}
}

// Create validates, encrypts, and persists a new capsule, debiting one
// credit in the same transaction as the insert. Validation is ordered:
// schedule first, then quota, then balance. The blob upload happens before
// the transaction; if the transaction fails the orphaned blob is removed.
func (s *CapsuleService) Create(ctx context.Context, req *CreateRequest) (*models.Capsule, error) {
	if len(req.Content) == 0 {
		return nil, fmt.Errorf("%w: content must not be empty", common.ErrorEmptyContent)
	}
	if err := validateRecipient(req.Recipient); err != nil {
		return nil, err
	}
	if req.ContentKind != models.ContentText && req.ContentKind != models.ContentBinary {
		return nil, fmt.Errorf("unknown content kind %q", req.ContentKind)
	}

	acc, err := s.repos.Accounts(s.db).Get(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !req.ScheduledAt.After(now) {
		return nil, fmt.Errorf("%w: delivery time %s is not in the future", common.ErrorHorizonExceeded, req.ScheduledAt.Format(time.RFC3339))
	}
	if req.ScheduledAt.After(now.Add(acc.Tier.MaxHorizon())) {
		return nil, fmt.Errorf("%w: delivery time %s is beyond the %s tier horizon", common.ErrorHorizonExceeded, req.ScheduledAt.Format(time.RFC3339), acc.Tier)
	}

	// Fast prechecks only; the authoritative quota and balance guards are the
	// conditional reservation and the guarded debit inside the transaction.
	size := int64(len(req.Content))
	if req.ContentKind == models.ContentBinary && acc.StorageUsed+size > acc.Tier.StorageLimit() {
		return nil, fmt.Errorf("%w: %d bytes would exceed the %s tier storage limit", common.ErrorQuotaExceeded, size, acc.Tier)
	}
	if acc.Balance < creationCost {
		return nil, common.ErrorInsufficientBalance
	}

	ciphertext, wrappedKey, err := s.vault.Wrap(req.Content)
	if err != nil {
		return nil, err
	}

	capsule := &models.Capsule{
		ID:             uuid.NewString(),
		AccountID:      req.AccountID,
		Recipient:      req.Recipient,
		ContentKind:    req.ContentKind,
		WrappedItemKey: wrappedKey,
		Size:           size,
		ScheduledAt:    req.ScheduledAt.UTC(),
		State:          models.CapsulePending,
	}
	if req.ContentKind == models.ContentBinary {
		capsule.BlobKey = blobstore.NewStorageKey()
		if err := s.blobs.Put(ctx, capsule.BlobKey, ciphertext); err != nil {
			return nil, err
		}
	} else {
		capsule.EncryptedText = ciphertext
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repos.Ledger(tx).Apply(ctx, &models.LedgerEntry{
			AccountID: req.AccountID,
			Delta:     -creationCost,
			Reason:    models.LedgerCreationDebit,
			Reference: capsule.ID,
		}); err != nil {
			return err
		}
		if err := s.repos.Capsules(tx).Create(ctx, capsule); err != nil {
			return err
		}
		if capsule.BlobKey != "" {
			return s.repos.Accounts(tx).ReserveStorage(ctx, req.AccountID, size, acc.Tier.StorageLimit())
		}
		return nil
	})
	if err != nil {
		if capsule.BlobKey != "" {
			if derr := s.blobs.Delete(ctx, capsule.BlobKey); derr != nil {
				s.logger.Error(ctx, "failed to remove orphaned blob", "blob_key", capsule.BlobKey, "error", derr)
			}
		}
		return nil, err
	}

	metrics.CapsulesCreated.Inc()
	metrics.LedgerApplied.WithLabelValues(string(models.LedgerCreationDebit)).Inc()
	s.logger.Info(ctx, "capsule created",
		"capsule_id", capsule.ID, "account_id", req.AccountID,
		"content_kind", capsule.ContentKind, "scheduled_at", capsule.ScheduledAt)
	return capsule, nil
}

// Cancel cancels a pending capsule owned by accountID and refunds its
// creation debit in the same transaction. The state guard in the repository
// makes the refund happen at most once no matter how often Cancel is called.
func (s *CapsuleService) Cancel(ctx context.Context, accountID, capsuleID string) error {
	var cancelled *models.Capsule
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		c, err := s.repos.Capsules(tx).Get(ctx, capsuleID)
		if err != nil {
			return err
		}
		if c.AccountID != accountID {
			return common.ErrorNotFound
		}
		c, err = s.repos.Capsules(tx).Cancel(ctx, capsuleID)
		if err != nil {
			return err
		}
		if _, err := s.repos.Ledger(tx).Apply(ctx, &models.LedgerEntry{
			AccountID: accountID,
			Delta:     creationCost,
			Reason:    models.LedgerRefund,
			Reference: capsuleID,
		}); err != nil {
			return err
		}
		if c.BlobKey != "" {
			if err := s.repos.Accounts(tx).ReleaseStorage(ctx, accountID, c.Size); err != nil {
				return err
			}
		}
		cancelled = c
		return nil
	})
	if err != nil {
		return err
	}

	if cancelled.BlobKey != "" {
		if derr := s.blobs.Delete(ctx, cancelled.BlobKey); derr != nil {
			s.logger.Warn(ctx, "failed to purge blob of cancelled capsule", "blob_key", cancelled.BlobKey, "error", derr)
		}
	}
	metrics.CapsulesCancelled.Inc()
	metrics.LedgerApplied.WithLabelValues(string(models.LedgerRefund)).Inc()
	s.logger.Info(ctx, "capsule cancelled", "capsule_id", capsuleID, "account_id", accountID)
	return nil
}

// Get returns the capsule if it belongs to accountID.
func (s *CapsuleService) Get(ctx context.Context, accountID, capsuleID string) (*models.Capsule, error) {
	c, err := s.repos.Capsules(s.db).Get(ctx, capsuleID)
	if err != nil {
		return nil, err
	}
	if c.AccountID != accountID {
		return nil, common.ErrorNotFound
	}
	return c, nil
}

// List returns the account's capsules, optionally filtered by state.
func (s *CapsuleService) List(ctx context.Context, accountID string, states []models.CapsuleState, limit int) ([]*models.Capsule, error) {
	return s.repos.Capsules(s.db).ListByAccount(ctx, accountID, states, limit)
}

func validateRecipient(r models.Recipient) error {
	switch r.Kind {
	case models.RecipientSelf, models.RecipientUser, models.RecipientGroup:
	default:
		return fmt.Errorf("%w: unknown recipient kind %q", common.ErrorBadRecipient, r.Kind)
	}
	if r.Target == "" {
		return fmt.Errorf("%w: recipient target must not be empty", common.ErrorBadRecipient)
	}
	return nil
}
