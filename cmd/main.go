// Command rails runs the deposit/withdrawal orchestration service. It
// bridges PIX payments to a yield vault, pricing conversions through a
// configurable execution venue.
//
// Usage:
//
//	rails --config config.yaml
//	rails setup (interactive configuration wizard)
//
// Secrets come from the environment: RAILS_CLIENT_ID,
// RAILS_CLIENT_SECRET, RAILS_VAULT_PRIVATE_KEY and friends.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/defybank/rails/config"
	"github.com/defybank/rails/internal"
	"github.com/defybank/rails/internal/clients/httpx"
	"github.com/defybank/rails/internal/services/credentials"
	"github.com/defybank/rails/internal/services/execution"
	"github.com/defybank/rails/internal/services/psp"
	"github.com/defybank/rails/internal/services/quote"
	"github.com/defybank/rails/internal/setup"
	"github.com/defybank/rails/internal/services/vault"
	"github.com/defybank/rails/internal/storage/providertx"
	"github.com/defybank/rails/internal/web"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if len(os.Args) > 1 && os.Args[1] == "setup" {
		if err := setup.RunTUI(); err != nil {
			logger.Fatal("setup wizard failed", zap.Error(err))
		}
		os.Setenv("RAILS_CONFIG", "config.gen.yaml")
	}

	cfg, err := config.Get()
	if err != nil {
		logger.Fatal("failed to get configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := httpx.New(
		httpx.WithHTTPClient(&http.Client{Timeout: cfg.HTTP.Timeout}),
		httpx.WithMaxAttempts(cfg.HTTP.MaxAttempts),
		httpx.WithLogger(logger),
	)

	decimals, err := quote.NewRegistry(cfg.Decimals)
	if err != nil {
		logger.Fatal("failed to build decimals registry", zap.Error(err))
	}

	creds := credentials.New(cfg.Credentials)

	vaultProvider, err := vault.New(ctx, cfg.Vault, httpClient, logger)
	if err != nil {
		logger.Fatal("failed to build vault provider", zap.Error(err))
	}

	cfg.Execution.BaseDecimals = cfg.Decimals[cfg.BaseAsset]
	cfg.Execution.QuoteDecimals = cfg.Decimals[cfg.QuoteAsset]
	venue, err := execution.New(cfg.Execution)
	if err != nil {
		logger.Fatal("failed to build execution venue", zap.Error(err))
	}

	pspName := cfg.PSP.Provider
	if pspName == "" {
		pspName = "mock"
	}
	paymentProvider, err := psp.New(cfg.PSP, httpClient, creds, logger)
	if err != nil {
		logger.Fatal("failed to build payment provider", zap.Error(err))
	}

	ledger, err := providertx.NewStore(cfg.WALDir)
	if err != nil {
		logger.Fatal("failed to open provider tx ledger", zap.Error(err))
	}
	defer ledger.Close()

	orch, err := internal.NewOrchestrator(internal.OrchestratorConfig{
		BaseAsset:   cfg.BaseAsset,
		QuoteAsset:  cfg.QuoteAsset,
		SlippageBps: cfg.SlippageBps,
		PSPName:     pspName,
	}, decimals, vaultProvider, venue, paymentProvider, ledger, logger)
	if err != nil {
		logger.Fatal("failed to build orchestrator", zap.Error(err))
	}

	logger.Info("started",
		zap.String("base_asset", cfg.BaseAsset),
		zap.String("quote_asset", cfg.QuoteAsset),
		zap.String("vault", cfg.Vault.Provider),
		zap.String("psp", cfg.PSP.Provider))

	srv := web.NewServer(cfg.ListenAddr, pspName, orch, ledger, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(ctx)
	})
	g.Go(func() error {
		return reconcileLoop(ctx, orch, cfg.ReconcileInterval, logger)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error(err.Error())
	}
}

// reconcileLoop reads the treasury position on an interval until the
// context is cancelled.
func reconcileLoop(ctx context.Context, orch *internal.Orchestrator, interval time.Duration, logger *zap.Logger) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := orch.ReconcileTreasury(ctx); err != nil {
				logger.Warn("treasury reconcile failed", zap.Error(err))
			}
		}
	}
}
