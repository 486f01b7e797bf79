// Package scheduler implements the delivery engine: a pool of workers that
// periodically claim due capsules, decrypt them, and hand them to the
// dispatch transport, recording the outcome on each capsule.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dmitrijs2005/timecapsule/internal/common"
	"github.com/dmitrijs2005/timecapsule/internal/cryptox"
	"github.com/dmitrijs2005/timecapsule/internal/dbx"
	"github.com/dmitrijs2005/timecapsule/internal/logging"
	"github.com/dmitrijs2005/timecapsule/internal/server/blobstore"
	"github.com/dmitrijs2005/timecapsule/internal/server/dispatch"
	"github.com/dmitrijs2005/timecapsule/internal/server/metrics"
	"github.com/dmitrijs2005/timecapsule/internal/server/models"
	"github.com/dmitrijs2005/timecapsule/internal/server/repositories/repomanager"
	"golang.org/x/sync/errgroup"
)

// Scheduler runs the claim-and-deliver loop. Workers share nothing but the
// database; the claim query partitions the due set between them, so several
// scheduler processes may run against the same database.
type Scheduler struct {
	db         *sql.DB
	repos      repomanager.RepositoryManager
	vault      *cryptox.Vault
	blobs      blobstore.Client
	dispatcher dispatch.Dispatcher
	logger     logging.Logger

	interval        time.Duration
	dispatchTimeout time.Duration
	staleAfter      time.Duration
	batchSize       int
	workers         int
	maxAttempts     int

	now func() time.Time
}

type Options struct {
	Interval        time.Duration
	DispatchTimeout time.Duration
	StaleClaimAfter time.Duration
	BatchSize       int
	Workers         int
	MaxAttempts     int
}

func New(db *sql.DB, rm repomanager.RepositoryManager, vault *cryptox.Vault, blobs blobstore.Client, d dispatch.Dispatcher, logger logging.Logger, opts Options) *Scheduler {
	return &Scheduler{
		db:              db,
		repos:           rm,
		vault:           vault,
		blobs:           blobs,
		dispatcher:      d,
		logger:          logger.With("module", "scheduler"),
		interval:        opts.Interval,
		dispatchTimeout: opts.DispatchTimeout,
		staleAfter:      opts.StaleClaimAfter,
		batchSize:       opts.BatchSize,
		workers:         opts.Workers,
		maxAttempts:     opts.MaxAttempts,
		now:             time.Now,
	}
}

// Run blocks until ctx is cancelled, running the configured number of
// workers. Each worker scans on its own ticker.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		worker := i
		g.Go(func() error {
			return s.runWorker(ctx, worker)
		})
	}
	return g.Wait()
}

func (s *Scheduler) runWorker(ctx context.Context, worker int) error {
	log := s.logger.With("worker", worker)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.runCycle(ctx, log)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// runCycle claims one batch of due capsules and delivers them. A failure of
// one capsule never affects the others in the batch.
func (s *Scheduler) runCycle(ctx context.Context, log logging.Logger) {
	now := s.now()
	claimed, err := s.repos.Capsules(s.db).ClaimDue(ctx, now, now.Add(-s.staleAfter), s.batchSize)
	if err != nil {
		log.Error(ctx, "failed to claim due capsules", "error", err)
		return
	}
	if len(claimed) == 0 {
		return
	}
	log.Debug(ctx, "claimed due capsules", "count", len(claimed))

	for _, c := range claimed {
		if ctx.Err() != nil {
			return
		}
		s.deliver(ctx, log, c)
	}
}

func (s *Scheduler) deliver(ctx context.Context, log logging.Logger, c *models.Capsule) {
	start := time.Now()
	defer func() {
		metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
	}()

	plaintext, err := s.loadContent(ctx, c)
	if err != nil {
		s.recordFailure(ctx, log, c, err)
		return
	}
	defer common.WipeByteArray(plaintext)

	dctx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	err = s.dispatcher.Send(dctx, c.Recipient, dispatch.Content{Kind: c.ContentKind, Data: plaintext})
	cancel()
	if err != nil {
		s.recordFailure(ctx, log, c, err)
		return
	}

	s.markDelivered(ctx, log, c)
}

// loadContent fetches and decrypts the capsule payload. Decryption failures
// come back terminal; blob-store unavailability comes back retryable.
func (s *Scheduler) loadContent(ctx context.Context, c *models.Capsule) ([]byte, error) {
	ciphertext := c.EncryptedText
	if c.ContentKind == models.ContentBinary {
		data, err := s.blobs.Get(ctx, c.BlobKey)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return nil, dispatch.Terminal(err)
			}
			return nil, dispatch.Retryable(err)
		}
		ciphertext = data
	}

	plaintext, err := s.vault.Unwrap(ciphertext, c.WrappedItemKey)
	if err != nil {
		return nil, dispatch.Terminal(err)
	}
	return plaintext, nil
}

// markDelivered records the terminal DELIVERED state, releases the storage
// accounting, and purges the blob. The blob purge is best effort; the state
// transition is the source of truth.
func (s *Scheduler) markDelivered(ctx context.Context, log logging.Logger, c *models.Capsule) {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Capsules(tx).MarkDelivered(ctx, c.ID, s.now()); err != nil {
			return err
		}
		if c.BlobKey != "" {
			return s.repos.Accounts(tx).ReleaseStorage(ctx, c.AccountID, c.Size)
		}
		return nil
	})
	if errors.Is(err, common.ErrorClaimConflict) {
		metrics.DeliveryAttempts.WithLabelValues(metrics.OutcomeConflict).Inc()
		log.Warn(ctx, "capsule finished by another worker", "capsule_id", c.ID)
		return
	}
	if err != nil {
		log.Error(ctx, "failed to mark capsule delivered", "capsule_id", c.ID, "error", err)
		return
	}

	if c.BlobKey != "" {
		if derr := s.blobs.Delete(ctx, c.BlobKey); derr != nil {
			log.Warn(ctx, "failed to purge blob of delivered capsule", "blob_key", c.BlobKey, "error", derr)
		}
	}
	metrics.DeliveryAttempts.WithLabelValues(metrics.OutcomeDelivered).Inc()
	log.Info(ctx, "capsule delivered", "capsule_id", c.ID, "attempt", c.AttemptCount)
}

// recordFailure requeues retryable failures while attempts remain, otherwise
// records the terminal FAILED state with the last error.
func (s *Scheduler) recordFailure(ctx context.Context, log logging.Logger, c *models.Capsule, cause error) {
	terminal := dispatch.IsTerminal(cause) || c.AttemptCount >= s.maxAttempts

	var err error
	if terminal {
		err = s.repos.Capsules(s.db).MarkFailed(ctx, c.ID, cause.Error())
	} else {
		err = s.repos.Capsules(s.db).Requeue(ctx, c.ID, cause.Error())
	}
	if errors.Is(err, common.ErrorClaimConflict) {
		metrics.DeliveryAttempts.WithLabelValues(metrics.OutcomeConflict).Inc()
		log.Warn(ctx, "capsule finished by another worker", "capsule_id", c.ID)
		return
	}
	if err != nil {
		log.Error(ctx, "failed to record delivery outcome", "capsule_id", c.ID, "error", err)
		return
	}

	if terminal {
		metrics.DeliveryAttempts.WithLabelValues(metrics.OutcomeFailed).Inc()
		log.Error(ctx, "capsule failed permanently",
			"capsule_id", c.ID, "attempt", c.AttemptCount, "error", cause)
	} else {
		metrics.DeliveryAttempts.WithLabelValues(metrics.OutcomeRetried).Inc()
		log.Warn(ctx, "delivery attempt failed, requeued",
			"capsule_id", c.ID, "attempt", c.AttemptCount, "error", cause)
	}
}
