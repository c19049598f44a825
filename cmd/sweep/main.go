// Command sweep runs one holdings sweep over every registered user and
// exits. It exits non-zero when any user failed to sync.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"flint/internal/cache"
	"flint/internal/config"
	"flint/internal/crypto"
	"flint/internal/database"
	"flint/internal/logger"
	"flint/internal/models"
	"flint/internal/provider"
	"flint/internal/provider/snaptrade"
	"flint/internal/provider/teller"
	"flint/internal/reconcile"
	"flint/internal/recovery"
	"flint/internal/scheduler"
	"flint/internal/services"
)

var errFailures = errors.New("sweep finished with failures")

func main() {
	logger.Init(os.Getenv("ENV"), os.Getenv("LOG_LEVEL"))
	defer logger.Sync()

	if err := run(); err != nil {
		logger.Get().Errorw("sweep failed", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbManager, err := database.NewManager(cfg)
	if err != nil {
		return fmt.Errorf("failed to create database manager: %w", err)
	}
	defer dbManager.Close()

	enc, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to create encryptor: %w", err)
	}
	responseCache, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer responseCache.Close()

	db := dbManager.DB()
	creds := services.NewCredentialService(db, enc)
	mirror := services.NewMirrorService(db)
	audit := services.NewAuditService(db)

	adapters := map[models.Provider]provider.Adapter{}
	registrars := map[models.Provider]provider.Registrar{}
	if cfg.SnapTrade.Enabled() {
		st := snaptrade.New(cfg.SnapTrade, cfg.Transport, responseCache, cfg.CacheTTL)
		adapters[models.ProviderSnapTrade] = st
		registrars[models.ProviderSnapTrade] = st
	}
	if cfg.Teller.Enabled() {
		tl, err := teller.New(cfg.Teller, cfg.Transport)
		if err != nil {
			return fmt.Errorf("failed to create teller client: %w", err)
		}
		adapters[models.ProviderTeller] = tl
	}
	if len(adapters) == 0 {
		return errors.New("no provider is configured")
	}

	coord := recovery.New(creds, audit, registrars, cfg.SnapTrade.UserIDPrefix, cfg.RecoveryMaxIDVersions)
	rec := reconcile.New(mirror, coord, adapters)
	sweeper := scheduler.NewSweeper(creds, mirror, audit, rec, cfg.Sync.StrikeThreshold)

	report, err := sweeper.RunOnce(ctx, cfg.Sync.Workers, cfg.Sync.JobTimeout)
	if err != nil {
		return err
	}
	for job, msg := range report.Failures {
		logger.Get().Warnw("user sync failed", "job", job, "error", msg)
	}
	if report.Failed > 0 {
		return fmt.Errorf("%w: %d of %d users", errFailures, report.Failed, report.Users)
	}
	return nil
}
