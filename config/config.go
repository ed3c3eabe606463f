// Package config loads process configuration from a yaml file with CLI
// and environment fallbacks. Secrets are never read from yaml; they come
// from the environment only.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/defybank/rails/internal/services/credentials"
	"github.com/defybank/rails/internal/services/execution"
	"github.com/defybank/rails/internal/services/psp"
	"github.com/defybank/rails/internal/services/vault"
)

// Config is the resolved process configuration.
type Config struct {
	ListenAddr        string
	BaseAsset         string
	QuoteAsset        string
	SlippageBps       int
	Decimals          map[string]int
	WALDir            string
	ReconcileInterval time.Duration

	HTTP        HTTPConfig
	Vault       vault.Config
	PSP         psp.Config
	Credentials credentials.Config
	Execution   execution.Config
}

// HTTPConfig tunes the shared outbound HTTP client.
type HTTPConfig struct {
	Timeout     time.Duration
	MaxAttempts int
}

type configTmp struct {
	ListenAddr        string         `yaml:"listen_addr"`
	BaseAsset         string         `yaml:"base_asset"`
	QuoteAsset        string         `yaml:"quote_asset"`
	SlippageBps       int            `yaml:"slippage_bps"`
	Decimals          map[string]int `yaml:"decimals"`
	WALDir            string         `yaml:"wal_dir"`
	ReconcileInterval time.Duration  `yaml:"reconcile_interval"`

	HTTP struct {
		Timeout     time.Duration `yaml:"timeout"`
		MaxAttempts int           `yaml:"max_attempts"`
	} `yaml:"http"`

	Vault struct {
		Provider string `yaml:"provider"`
		OnChain  struct {
			RPCURL          string        `yaml:"rpc_url"`
			ContractAddress string        `yaml:"contract_address"`
			TreasuryAddress string        `yaml:"treasury_address"`
			ChainID         int64         `yaml:"chain_id"`
			CallTimeout     time.Duration `yaml:"call_timeout"`
		} `yaml:"onchain"`
		Aggregator struct {
			BaseURL string `yaml:"base_url"`
			VaultID string `yaml:"vault_id"`
		} `yaml:"aggregator"`
	} `yaml:"vault"`

	PSP struct {
		Provider string `yaml:"provider"`
		Pix      struct {
			BaseURL         string `yaml:"base_url"`
			ReceiverKey     string `yaml:"receiver_key"`
			ChargeExpirySec int    `yaml:"charge_expiry_sec"`
		} `yaml:"pix"`
	} `yaml:"psp"`

	Credentials struct {
		TokenURL     string            `yaml:"token_url"`
		CertPath     string            `yaml:"cert_path"`
		KeyPath      string            `yaml:"key_path"`
		CAPath       string            `yaml:"ca_path"`
		PFXPath      string            `yaml:"pfx_path"`
		Scopes       map[string]string `yaml:"scopes"`
		DefaultScope string            `yaml:"default_scope"`
		Timeout      time.Duration     `yaml:"timeout"`
	} `yaml:"credentials"`

	Execution struct {
		Provider string `yaml:"provider"`
		Binance  struct {
			QuoteSymbol string `yaml:"quote_symbol"`
		} `yaml:"binance"`
	} `yaml:"execution"`
}

// Get resolves the configuration: yaml file from --config when given,
// defaults otherwise, environment overrides for secrets always.
func Get() (Config, error) {
	path := configPathFromFlags()

	cfg := defaults()
	if path != "" {
		loaded, err := fromYaml(path)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}

	applyEnv(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		ListenAddr:        ":8080",
		BaseAsset:         "USDC",
		QuoteAsset:        "BRL",
		SlippageBps:       50,
		Decimals:          map[string]int{"USDC": 6, "BRL": 2},
		WALDir:            "./wal/providertx",
		ReconcileInterval: time.Hour,
		HTTP:              HTTPConfig{Timeout: 15 * time.Second, MaxAttempts: 4},
	}
}

func fromYaml(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var tmp configTmp
	if err := yaml.Unmarshal(raw, &tmp); err != nil {
		return Config{}, fmt.Errorf("parse yaml config %s: %w", path, err)
	}

	cfg := defaults()
	if tmp.ListenAddr != "" {
		cfg.ListenAddr = tmp.ListenAddr
	}
	if tmp.BaseAsset != "" {
		cfg.BaseAsset = tmp.BaseAsset
	}
	if tmp.QuoteAsset != "" {
		cfg.QuoteAsset = tmp.QuoteAsset
	}
	if tmp.SlippageBps > 0 {
		cfg.SlippageBps = tmp.SlippageBps
	}
	if len(tmp.Decimals) > 0 {
		cfg.Decimals = tmp.Decimals
	}
	if tmp.WALDir != "" {
		cfg.WALDir = tmp.WALDir
	}
	if tmp.ReconcileInterval > 0 {
		cfg.ReconcileInterval = tmp.ReconcileInterval
	}
	if tmp.HTTP.Timeout > 0 {
		cfg.HTTP.Timeout = tmp.HTTP.Timeout
	}
	if tmp.HTTP.MaxAttempts > 0 {
		cfg.HTTP.MaxAttempts = tmp.HTTP.MaxAttempts
	}

	cfg.Vault = vault.Config{
		Provider: tmp.Vault.Provider,
		OnChain: vault.OnChainConfig{
			RPCURL:          tmp.Vault.OnChain.RPCURL,
			ContractAddress: tmp.Vault.OnChain.ContractAddress,
			TreasuryAddress: tmp.Vault.OnChain.TreasuryAddress,
			ChainID:         tmp.Vault.OnChain.ChainID,
			CallTimeout:     tmp.Vault.OnChain.CallTimeout,
		},
		Aggregator: vault.AggregatorConfig{
			BaseURL: tmp.Vault.Aggregator.BaseURL,
			VaultID: tmp.Vault.Aggregator.VaultID,
		},
	}

	cfg.PSP = psp.Config{
		Provider: tmp.PSP.Provider,
		Pix: psp.PixConfig{
			BaseURL:         tmp.PSP.Pix.BaseURL,
			ReceiverKey:     tmp.PSP.Pix.ReceiverKey,
			ChargeExpirySec: tmp.PSP.Pix.ChargeExpirySec,
		},
	}

	cfg.Credentials = credentials.Config{
		TokenURL:     tmp.Credentials.TokenURL,
		CertPath:     tmp.Credentials.CertPath,
		KeyPath:      tmp.Credentials.KeyPath,
		CAPath:       tmp.Credentials.CAPath,
		PFXPath:      tmp.Credentials.PFXPath,
		Scopes:       tmp.Credentials.Scopes,
		DefaultScope: tmp.Credentials.DefaultScope,
		Timeout:      tmp.Credentials.Timeout,
	}

	cfg.Execution = execution.Config{
		Provider: tmp.Execution.Provider,
		Binance: execution.BinanceConfig{
			QuoteSymbol: tmp.Execution.Binance.QuoteSymbol,
		},
	}

	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.BaseAsset == cfg.QuoteAsset {
		return fmt.Errorf("base and quote asset must differ, both are %q", cfg.BaseAsset)
	}
	if cfg.SlippageBps < 0 || cfg.SlippageBps > 10_000 {
		return fmt.Errorf("slippage_bps out of range: %d", cfg.SlippageBps)
	}
	for sym, d := range cfg.Decimals {
		if d < 0 || d > 18 {
			return fmt.Errorf("invalid decimals for %s: %d", sym, d)
		}
	}
	if _, ok := cfg.Decimals[cfg.BaseAsset]; !ok {
		return fmt.Errorf("decimals table is missing the base asset %s", cfg.BaseAsset)
	}
	if _, ok := cfg.Decimals[cfg.QuoteAsset]; !ok {
		return fmt.Errorf("decimals table is missing the quote asset %s", cfg.QuoteAsset)
	}
	return nil
}
