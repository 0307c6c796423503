// Command billing-seed loads a YAML dataset into the configured Firestore or SQL store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerlink/billing/internal/di"
	"github.com/ledgerlink/billing/internal/platform/config"
	"github.com/ledgerlink/billing/internal/platform/observability"
	"github.com/ledgerlink/billing/internal/platform/secrets"
)

func main() {
	exitCode := 0
	defer func() {
		os.Exit(exitCode)
	}()

	fixturePath := flag.String("fixture", "", "YAML dataset to import (required)")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall import timeout")
	flag.Parse()

	if strings.TrimSpace(*fixturePath) == "" {
		fmt.Fprintln(os.Stderr, "billing-seed: -fixture is required")
		exitCode = 2
		return
	}

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "billing-seed: read environment: %v\n", err)
		exitCode = 1
		return
	}
	baseLogger, err := observability.NewLogger(envValues["BILLING_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "billing-seed: initialise logger: %v\n", err)
		exitCode = 1
		return
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("billing-seed")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := secrets.NewFetcher(ctx, secrets.WithLogger(logger.Named("secrets")))
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		_ = fetcher.Close()
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	reg, err := di.OpenRegistry(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open billing store", zap.Error(err), zap.String("driver", cfg.Store.Driver))
	}
	defer func() {
		if err := reg.Close(context.Background()); err != nil {
			logger.Warn("billing store close error", zap.Error(err))
		}
	}()

	ds, err := di.SeedRegistry(ctx, reg, *fixturePath)
	if err != nil {
		logger.Error("dataset import failed", zap.Error(err), zap.String("driver", cfg.Store.Driver))
		exitCode = 1
		return
	}
	logger.Info("dataset imported",
		zap.String("driver", cfg.Store.Driver),
		zap.Int("customers", len(ds.Customers)),
		zap.Int("services", len(ds.Services)),
		zap.Int("ruleGroups", len(ds.RuleGroups)),
		zap.Int("orders", len(ds.Orders)),
		zap.Int("products", len(ds.Products)),
	)
}
