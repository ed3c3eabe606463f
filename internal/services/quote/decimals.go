package quote

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/defybank/rails/internal/domain"
)

const decimalsEnvPrefix = "RAILS_DECIMALS_"

// Registry holds the symbol→decimals table. It is process-wide shared
// state, read-mostly; writes are idempotent replacements keyed by symbol,
// so concurrent population is safe under the RWMutex.
type Registry struct {
	mu sync.RWMutex
	m  map[string]int
}

// NewRegistry seeds a registry from the configured decimals table.
func NewRegistry(seed map[string]int) (*Registry, error) {
	r := &Registry{m: make(map[string]int, len(seed))}
	for sym, d := range seed {
		if err := r.Set(sym, d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// AssetKey normalizes "usdc" or "usdc:GA...ISSUER" to its canonical form.
func AssetKey(codeOrKey, issuer string) string {
	if issuer != "" {
		return strings.ToUpper(codeOrKey + ":" + issuer)
	}
	return strings.ToUpper(codeOrKey)
}

// Set registers the minor-unit exponent for a symbol or symbol:issuer key.
func (r *Registry) Set(symbolOrKey string, decimals int) error {
	key := AssetKey(symbolOrKey, "")
	if decimals < 0 || decimals > 18 {
		return fmt.Errorf("invalid decimals for %s: %d", key, decimals)
	}
	r.mu.Lock()
	r.m[key] = decimals
	r.mu.Unlock()
	return nil
}

// Get resolves decimals for a symbol: explicit registration first, then a
// RAILS_DECIMALS_<CODE> environment override (memoized). An unresolved
// symbol is a configuration defect and fails immediately.
func (r *Registry) Get(symbolOrKey string) (int, error) {
	key := AssetKey(symbolOrKey, "")

	r.mu.RLock()
	d, ok := r.m[key]
	r.mu.RUnlock()
	if ok {
		return d, nil
	}

	code := key
	if i := strings.IndexByte(key, ':'); i >= 0 {
		code = key[:i]
	}
	if v, found := os.LookupEnv(decimalsEnvPrefix + code); found {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil && n >= 0 && n <= 18 {
			r.mu.Lock()
			r.m[key] = n
			r.mu.Unlock()
			return n, nil
		}
	}

	return 0, errors.Wrap(domain.ErrUnknownSymbol, key)
}

// ToUnits converts a human amount string ("12.3456") to minor units for
// the symbol, rounding excess fractional digits per mode.
func (r *Registry) ToUnits(symbolOrKey, amount string, mode Rounding) (*big.Int, error) {
	d, err := r.Get(symbolOrKey)
	if err != nil {
		return nil, err
	}
	v, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid amount %q", amount)
	}
	shifted := v.Shift(int32(d))
	switch mode {
	case RoundFloor:
		shifted = shifted.Floor()
	case RoundCeil:
		shifted = shifted.Ceil()
	case RoundTrunc:
		shifted = shifted.Truncate(0)
	default:
		shifted = shifted.Round(0)
	}
	return shifted.BigInt(), nil
}

// FromUnits renders minor units as an exact human amount string.
func (r *Registry) FromUnits(symbolOrKey string, units *big.Int) (string, error) {
	d, err := r.Get(symbolOrKey)
	if err != nil {
		return "", err
	}
	return decimal.NewFromBigInt(units, -int32(d)).String(), nil
}

// ParseRatio builds an exact price ratio from a human price string, scaled
// by the quote symbol's decimals: "5.25" with a 2-decimal quote becomes
// 525/100.
func (r *Registry) ParseRatio(quoteSymbol, price string) (domain.Ratio, error) {
	qd, err := r.Get(quoteSymbol)
	if err != nil {
		return domain.Ratio{}, err
	}
	v, err := decimal.NewFromString(strings.TrimSpace(price))
	if err != nil {
		return domain.Ratio{}, errors.Wrapf(err, "invalid price %q", price)
	}
	if v.Sign() < 0 {
		return domain.Ratio{}, fmt.Errorf("negative price not allowed: %s", price)
	}
	num := v.Shift(int32(qd)).Round(0).BigInt()
	den := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(qd)), nil)
	return domain.NewRatio(num, den)
}
