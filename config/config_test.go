package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()
	require.NoError(t, validate(cfg), "Defaults must validate")
	assert.Equal(t, "USDC", cfg.BaseAsset, "Default base asset mismatch")
	assert.Equal(t, "BRL", cfg.QuoteAsset, "Default quote asset mismatch")
	assert.Equal(t, 6, cfg.Decimals["USDC"], "Default decimals mismatch")
}

func TestFromYaml(t *testing.T) {
	raw := `
base_asset: USDC
quote_asset: BRL
slippage_bps: 75
reconcile_interval: 30m
decimals:
  USDC: 6
  BRL: 2
  ETH: 18
vault:
  provider: aggregator
  aggregator:
    base_url: https://agg.example
    vault_id: v42
psp:
  provider: pix
  pix:
    base_url: https://bank.example
    receiver_key: treasury@bank
    charge_expiry_sec: 7200
credentials:
  token_url: https://bank.example/oauth/token
  scopes:
    cob: cob.write cob.read
execution:
  provider: binance
  binance:
    quote_symbol: USDT
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644), "Failed to write config")

	cfg, err := fromYaml(path)
	require.NoError(t, err, "fromYaml failed")

	assert.Equal(t, 75, cfg.SlippageBps, "Slippage mismatch")
	assert.Equal(t, 30*time.Minute, cfg.ReconcileInterval, "Reconcile interval mismatch")
	assert.Equal(t, 18, cfg.Decimals["ETH"], "Decimals mismatch")
	assert.Equal(t, "aggregator", cfg.Vault.Provider, "Vault provider mismatch")
	assert.Equal(t, "v42", cfg.Vault.Aggregator.VaultID, "Vault id mismatch")
	assert.Equal(t, "pix", cfg.PSP.Provider, "PSP provider mismatch")
	assert.Equal(t, 7200, cfg.PSP.Pix.ChargeExpirySec, "Charge expiry mismatch")
	assert.Equal(t, "cob.write cob.read", cfg.Credentials.Scopes["cob"], "Scope mapping mismatch")
	assert.Equal(t, "USDT", cfg.Execution.Binance.QuoteSymbol, "Venue quote symbol mismatch")
	require.NoError(t, validate(cfg), "Loaded config must validate")
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	cfg.QuoteAsset = cfg.BaseAsset
	assert.Error(t, validate(cfg), "Identical assets must fail")

	cfg = defaults()
	cfg.SlippageBps = 10_001
	assert.Error(t, validate(cfg), "Oversized slippage must fail")

	cfg = defaults()
	cfg.Decimals = map[string]int{"USDC": 6}
	assert.Error(t, validate(cfg), "Missing quote decimals must fail")

	cfg = defaults()
	cfg.Decimals["BRL"] = 19
	assert.Error(t, validate(cfg), "Out-of-range decimals must fail")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("RAILS_CLIENT_ID", "env-id")
	t.Setenv("RAILS_CLIENT_SECRET", "env-secret")
	t.Setenv("RAILS_BINANCE_API_KEY", "env-binance")

	cfg := defaults()
	applyEnv(&cfg)

	assert.Equal(t, "env-id", cfg.Credentials.ClientID, "Client id must come from env")
	assert.Equal(t, "env-secret", cfg.Credentials.ClientSecret, "Client secret must come from env")
	assert.Equal(t, "env-binance", cfg.Execution.Binance.APIKey, "Binance key must come from env")
}
