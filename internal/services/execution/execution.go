// Package execution is the swap execution gateway: a venue quotes and
// fills sells of the base asset against the quote asset. One venue is
// active per process, chosen from configuration at startup.
package execution

import (
	"context"
	"fmt"
	"math/big"
)

// Quote is a venue's indicative price for selling the base asset.
type Quote struct {
	// PriceQuoteMinorPerUnit is the price of one whole base-asset unit in
	// quote-asset minor units.
	PriceQuoteMinorPerUnit *big.Int
	FeeNativeUnits         *big.Int
}

// Fill reports an executed sell.
type Fill struct {
	ProviderRef        string
	FilledUnits        *big.Int
	ReceivedQuoteMinor *big.Int
	FeeNativeUnits     *big.Int
}

// Venue executes swaps. Sell must treat clientRef as an idempotency
// token where the venue supports client order ids.
type Venue interface {
	QuoteSell(ctx context.Context, symbol string, amountUnits *big.Int) (Quote, error)
	Sell(ctx context.Context, symbol string, amountUnits *big.Int, clientRef string) (Fill, error)
}

// Config selects and configures the active venue.
type Config struct {
	Provider string
	// BaseDecimals is the minor-unit exponent of the base asset, used to
	// convert venue prices (per whole unit) to and from minor units.
	BaseDecimals  int
	QuoteDecimals int
	Binance       BinanceConfig
}

// New builds the venue chosen by configuration; the mock venue is the
// default.
func New(cfg Config) (Venue, error) {
	switch cfg.Provider {
	case "", "mock":
		return NewMockVenue(cfg.BaseDecimals), nil
	case "binance":
		return NewBinanceVenue(cfg.Binance, cfg.BaseDecimals, cfg.QuoteDecimals)
	default:
		return nil, fmt.Errorf("unsupported execution venue %q", cfg.Provider)
	}
}
