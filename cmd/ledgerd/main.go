// Command ledgerd reconciles exchange account history into a cost-basis
// ledger and serves it over a web dashboard. It supports multiple exchanges
// (Binance, Bybit) and can be configured via a YAML configuration file or
// command-line arguments.
//
// Usage:
//
//	ledgerd --config config.yaml
//	ledgerd --setup (runs the interactive configuration wizard)
//	ledgerd (uses CLI arguments)
//
// Required environment variables:
//
//	For Binance: BINANCE_API_KEY, BINANCE_API_SECRET
//	For Bybit: BYBIT_API_KEY, BYBIT_API_SECRET
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cryptobigbro/ledgerd/config"
	"github.com/cryptobigbro/ledgerd/dashboard"
	"github.com/cryptobigbro/ledgerd/internal/exchange"
	"github.com/cryptobigbro/ledgerd/internal/setup"
	"github.com/cryptobigbro/ledgerd/internal/storage/journal"
	"github.com/cryptobigbro/ledgerd/internal/storage/snapshot"
	"github.com/cryptobigbro/ledgerd/internal/updater"
	"github.com/cryptobigbro/ledgerd/pkg/retrier"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--setup" {
		if err := setup.RunTUI(); err != nil {
			log.Fatal(err)
		}
		os.Args = append(os.Args[:1], "--config", "config.gen.yaml")
	}

	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	apiKey, apiSecret, err := credentials(cfg.Platform)
	if err != nil {
		logger.Fatal("missing exchange credentials", zap.Error(err))
	}

	ex, err := exchange.New(cfg.Platform, apiKey, apiSecret, cfg.FiatCurrency)
	if err != nil {
		logger.Fatal("failed to create exchange client", zap.Error(err))
	}

	snapshots := snapshot.NewStore(cfg.SnapshotPath, logger)
	snap, err := snapshots.Load()
	if err != nil {
		if !errors.Is(err, snapshot.ErrCorruptSnapshot) {
			logger.Fatal("failed to load snapshot", zap.Error(err))
		}
		if !cfg.Fresh {
			logger.Fatal("snapshot file is unreadable, rerun with -fresh to discard it",
				zap.String("path", cfg.SnapshotPath), zap.Error(err))
		}
		archived, archiveErr := snapshots.ArchiveCorrupt()
		if archiveErr != nil {
			logger.Fatal("failed to archive corrupt snapshot", zap.Error(archiveErr))
		}
		logger.Warn("Discarded unreadable snapshot, starting fresh", zap.String("archived", archived))
		snap, err = snapshots.Load()
		if err != nil {
			logger.Fatal("failed to start with fresh state", zap.Error(err))
		}
	}

	jrnl, err := journal.New(cfg.JournalDir)
	if err != nil {
		logger.Fatal("failed to open update journal", zap.Error(err))
	}
	defer jrnl.Close()

	retry := retrier.New(
		retrier.WithInitialInterval(cfg.RetryInitialInterval),
		retrier.WithMaxInterval(cfg.RetryMaxInterval),
		retrier.WithMaxRetries(cfg.RetryMaxAttempts),
	)

	upd := updater.New(ex, snap, snapshots, jrnl, cfg.FiatCurrency, retry, logger)
	srv := dashboard.NewServer(cfg.DashboardAddr, upd, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := upd.Run(ctx, cfg.UpdateInterval); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if len(cfg.TLSDomains) > 0 {
			return srv.StartWithAutoTLS(ctx, cfg.TLSDomains, cfg.TLSCacheDir)
		}
		return srv.Start(ctx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("ledgerd stopped with error", zap.Error(err))
	}

	logger.Info("ledgerd stopped")
}

func credentials(platform string) (string, string, error) {
	var keyEnv, secretEnv string
	switch platform {
	case "binance":
		keyEnv, secretEnv = "BINANCE_API_KEY", "BINANCE_API_SECRET"
	case "bybit":
		keyEnv, secretEnv = "BYBIT_API_KEY", "BYBIT_API_SECRET"
	default:
		return "", "", errors.Errorf("unsupported platform: %s", platform)
	}

	apiKey, apiSecret := os.Getenv(keyEnv), os.Getenv(secretEnv)
	if apiKey == "" || apiSecret == "" {
		return "", "", errors.Errorf("%s and %s environment variables must be set", keyEnv, secretEnv)
	}

	return apiKey, apiSecret, nil
}
