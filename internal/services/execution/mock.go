package execution

import (
	"context"
	"math/big"

	"github.com/pkg/errors"

	"github.com/defybank/rails/internal/domain"
)

// mockPriceQuoteMinorPerUnit prices one whole base-asset unit at 1.00 of
// the quote asset (100 minor units), fee-free.
const mockPriceQuoteMinorPerUnit = 100

// MockVenue fills every sell at a fixed price with no slippage. Used in
// development and tests.
type MockVenue struct {
	baseDecimals int
}

// NewMockVenue creates the mock venue for a base asset with the given
// minor-unit exponent.
func NewMockVenue(baseDecimals int) *MockVenue {
	return &MockVenue{baseDecimals: baseDecimals}
}

func (v *MockVenue) QuoteSell(_ context.Context, _ string, amountUnits *big.Int) (Quote, error) {
	if amountUnits == nil || amountUnits.Sign() <= 0 {
		return Quote{}, errors.Wrap(domain.ErrInvalidAmount, "quote amount")
	}
	return Quote{
		PriceQuoteMinorPerUnit: big.NewInt(mockPriceQuoteMinorPerUnit),
		FeeNativeUnits:         big.NewInt(0),
	}, nil
}

func (v *MockVenue) Sell(_ context.Context, _ string, amountUnits *big.Int, clientRef string) (Fill, error) {
	if amountUnits == nil || amountUnits.Sign() <= 0 {
		return Fill{}, errors.Wrap(domain.ErrInvalidAmount, "sell amount")
	}
	received := new(big.Int).Mul(amountUnits, big.NewInt(mockPriceQuoteMinorPerUnit))
	received.Quo(received, pow10(v.baseDecimals))
	return Fill{
		ProviderRef:        "mock-" + clientRef,
		FilledUnits:        new(big.Int).Set(amountUnits),
		ReceivedQuoteMinor: received,
		FeeNativeUnits:     big.NewInt(0),
	}, nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
