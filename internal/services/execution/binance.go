package execution

import (
	"context"
	"math/big"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/defybank/rails/internal/domain"
)

// BinanceConfig configures the binance execution venue.
type BinanceConfig struct {
	APIKey    string
	SecretKey string
	// QuoteSymbol is the venue-side quote currency the trading symbol is
	// built against, e.g. "USDT".
	QuoteSymbol string
}

// BinanceVenue executes market sells on binance spot, using the caller's
// clientRef as the client order id so a resubmitted sell cannot execute
// twice.
type BinanceVenue struct {
	client        *binance.Client
	quoteSymbol   string
	baseDecimals  int
	quoteDecimals int
}

// NewBinanceVenue builds the venue from API credentials.
func NewBinanceVenue(cfg BinanceConfig, baseDecimals, quoteDecimals int) (*BinanceVenue, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, errors.Wrap(domain.ErrCredentialConfig, "binance api key/secret are not configured")
	}
	quote := cfg.QuoteSymbol
	if quote == "" {
		quote = "USDT"
	}
	return &BinanceVenue{
		client:        binance.NewClient(cfg.APIKey, cfg.SecretKey),
		quoteSymbol:   quote,
		baseDecimals:  baseDecimals,
		quoteDecimals: quoteDecimals,
	}, nil
}

func (v *BinanceVenue) QuoteSell(ctx context.Context, symbol string, amountUnits *big.Int) (Quote, error) {
	if amountUnits == nil || amountUnits.Sign() <= 0 {
		return Quote{}, errors.Wrap(domain.ErrInvalidAmount, "quote amount")
	}

	prices, err := v.client.NewListPricesService().Symbol(symbol + v.quoteSymbol).Do(ctx)
	if err != nil {
		return Quote{}, errors.Wrap(err, "failed to fetch binance price")
	}
	if len(prices) == 0 {
		return Quote{}, errors.Errorf("no binance price for %s%s", symbol, v.quoteSymbol)
	}

	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return Quote{}, errors.Wrap(err, "failed to parse binance price")
	}

	return Quote{
		PriceQuoteMinorPerUnit: price.Shift(int32(v.quoteDecimals)).Round(0).BigInt(),
		FeeNativeUnits:         big.NewInt(0),
	}, nil
}

func (v *BinanceVenue) Sell(ctx context.Context, symbol string, amountUnits *big.Int, clientRef string) (Fill, error) {
	if amountUnits == nil || amountUnits.Sign() <= 0 {
		return Fill{}, errors.Wrap(domain.ErrInvalidAmount, "sell amount")
	}

	qty := decimal.NewFromBigInt(amountUnits, -int32(v.baseDecimals))

	order, err := v.client.NewCreateOrderService().
		Symbol(symbol + v.quoteSymbol).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(qty.String()).
		NewClientOrderID(clientRef).
		Do(ctx)
	if err != nil {
		return Fill{}, errors.Wrapf(domain.ErrBackendUnavailable, "binance sell (ref %s): %s", clientRef, err)
	}

	executed, err := decimal.NewFromString(order.ExecutedQuantity)
	if err != nil {
		return Fill{}, errors.Wrap(err, "failed to parse executed quantity")
	}
	cumQuote, err := decimal.NewFromString(order.CummulativeQuoteQuantity)
	if err != nil {
		return Fill{}, errors.Wrap(err, "failed to parse cumulative quote quantity")
	}

	return Fill{
		ProviderRef:        strconv.FormatInt(order.OrderID, 10),
		FilledUnits:        executed.Shift(int32(v.baseDecimals)).Round(0).BigInt(),
		ReceivedQuoteMinor: cumQuote.Shift(int32(v.quoteDecimals)).Round(0).BigInt(),
		FeeNativeUnits:     big.NewInt(0),
	}, nil
}
