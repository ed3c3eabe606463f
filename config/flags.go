package config

import (
	"flag"
	"os"
)

// configPathFromFlags reads the --config flag, falling back to the
// RAILS_CONFIG environment variable.
func configPathFromFlags() string {
	path := flag.String("config", "", "path to yaml config")
	flag.Parse()
	if *path != "" {
		return *path
	}
	return os.Getenv("RAILS_CONFIG")
}

// applyEnv layers secret material over the loaded configuration. Secrets
// live only in the environment so config files stay shareable.
func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	set(&cfg.Credentials.ClientID, "RAILS_CLIENT_ID")
	set(&cfg.Credentials.ClientSecret, "RAILS_CLIENT_SECRET")
	set(&cfg.Credentials.PFXPassphrase, "RAILS_PFX_PASSPHRASE")
	set(&cfg.Vault.OnChain.PrivateKeyHex, "RAILS_VAULT_PRIVATE_KEY")
	set(&cfg.Vault.Aggregator.APIKey, "RAILS_AGGREGATOR_API_KEY")
	set(&cfg.Execution.Binance.APIKey, "RAILS_BINANCE_API_KEY")
	set(&cfg.Execution.Binance.SecretKey, "RAILS_BINANCE_SECRET_KEY")
}
