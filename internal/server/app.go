// Package server initializes and runs the capsule server: database and
// migrations, the master-key vault, object storage, the delivery scheduler,
// the payment consumer, and the metrics endpoint, with graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/timecapsule/internal/cryptox"
	"github.com/dmitrijs2005/timecapsule/internal/logging"
	"github.com/dmitrijs2005/timecapsule/internal/server/blobstore"
	"github.com/dmitrijs2005/timecapsule/internal/server/config"
	"github.com/dmitrijs2005/timecapsule/internal/server/dispatch"
	"github.com/dmitrijs2005/timecapsule/internal/server/metrics"
	"github.com/dmitrijs2005/timecapsule/internal/server/payments"
	"github.com/dmitrijs2005/timecapsule/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/timecapsule/internal/server/scheduler"
	"github.com/dmitrijs2005/timecapsule/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB

	balanceService *services.BalanceService
	capsuleService *services.CapsuleService
	scheduler      *scheduler.Scheduler
	consumer       *payments.Consumer
	registry       *prometheus.Registry
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	masterKey, err := loadMasterKey(cfg)
	if err != nil {
		return nil, err
	}
	vault, err := cryptox.NewVault(masterKey)
	if err != nil {
		return nil, err
	}

	blobs, err := blobstore.NewS3Client(ctx, blobstore.S3Options{
		RootUser:     cfg.S3RootUser,
		RootPassword: cfg.S3RootPassword,
		Bucket:       cfg.S3Bucket,
		Region:       cfg.S3Region,
		BaseEndpoint: cfg.S3BaseEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	bs := services.NewBalanceService(db, rm, logger, cfg.StarterCredits)
	cs := services.NewCapsuleService(db, rm, vault, blobs, logger)

	sched := scheduler.New(db, rm, vault, blobs,
		dispatch.NewWebhookDispatcher(cfg.DispatchURL), logger, scheduler.Options{
			Interval:        cfg.SchedulerInterval,
			DispatchTimeout: cfg.DispatchTimeout,
			StaleClaimAfter: cfg.StaleClaimAfter,
			BatchSize:       cfg.SchedulerBatchSize,
			Workers:         cfg.SchedulerWorkers,
			MaxAttempts:     cfg.MaxAttempts,
		})

	consumer, err := payments.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaTopic, logger)
	if err != nil {
		return nil, fmt.Errorf("kafka init error: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	return &App{
		config:         cfg,
		logger:         logger,
		db:             db,
		balanceService: bs,
		capsuleService: cs,
		scheduler:      sched,
		consumer:       consumer,
		registry:       registry,
	}, nil
}

// BalanceService exposes the balance operations to the host transport layer.
func (app *App) BalanceService() *services.BalanceService { return app.balanceService }

// CapsuleService exposes the capsule operations to the host transport layer.
func (app *App) CapsuleService() *services.CapsuleService { return app.capsuleService }

// loadMasterKey decodes the configured master key, or derives one from an
// interactively entered passphrase when no key is configured.
func loadMasterKey(cfg *config.Config) ([]byte, error) {
	if cfg.MasterKeyHex != "" {
		key, err := hex.DecodeString(cfg.MasterKeyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid master key: %w", err)
		}
		return key, nil
	}

	fmt.Print("Enter master passphrase: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("passphrase read error: %w", err)
	}
	return cryptox.DeriveMasterKey(password, []byte(cfg.MasterKeySalt)), nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startMetricsServer(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(app.registry))
	srv := &http.Server{Addr: app.config.MetricsAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		app.logger.Error(ctx, "metrics server failed", "error", err)
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.scheduler.Run(ctx); err != nil {
			app.logger.Error(ctx, "scheduler stopped", "error", err)
			cancelFunc()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.consumer.Run(ctx, app.balanceService); err != nil {
			app.logger.Error(ctx, "payment consumer stopped", "error", err)
			cancelFunc()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startMetricsServer(ctx)
	}()

	wg.Wait()

	if err := app.consumer.Close(); err != nil {
		app.logger.Error(ctx, "consumer close error", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
}
