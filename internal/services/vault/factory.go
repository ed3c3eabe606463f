package vault

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/defybank/rails/internal/clients/httpx"
	"github.com/defybank/rails/internal/domain"
)

// Config selects and configures the active vault backend. Exactly one
// backend is active per process.
type Config struct {
	Provider   string
	OnChain    OnChainConfig
	Aggregator AggregatorConfig
}

// New builds the vault provider chosen by configuration. The legacy
// "self" tag is accepted here for compatibility and normalized to the
// on-chain backend.
func New(ctx context.Context, cfg Config, httpClient *httpx.Client, logger *zap.Logger) (Provider, error) {
	raw := domain.VaultProviderKind(cfg.Provider)
	if raw == "" {
		raw = domain.VaultProviderOnChain
	}
	if !domain.IsVaultProviderKind(raw) {
		return nil, fmt.Errorf("unsupported vault provider %q", cfg.Provider)
	}

	switch domain.NormalizeVaultProviderKind(raw) {
	case domain.VaultProviderAggregator:
		return NewAggregatorProvider(httpClient, cfg.Aggregator, logger)
	default:
		return NewOnChainProvider(ctx, cfg.OnChain, logger)
	}
}
