// Package quote converts amounts between assets of differing decimal
// precision using exact rational arithmetic. It is pure: no I/O, no
// clock, same inputs always yield the same outputs.
package quote

import (
	"fmt"
	"math/big"

	"github.com/pkg/errors"

	"github.com/defybank/rails/internal/domain"
)

// Rounding selects how an inexact conversion result lands on an integer.
type Rounding string

const (
	RoundHalfUp Rounding = "round"
	RoundFloor  Rounding = "floor"
	RoundCeil   Rounding = "ceil"
	RoundTrunc  Rounding = "trunc"
)

const bpsScale = 10_000

var (
	bigOne      = big.NewInt(1)
	bigTen      = big.NewInt(10)
	bigBpsScale = big.NewInt(bpsScale)
)

// ExactInQuote is the result of an exact-input conversion.
type ExactInQuote struct {
	ExpectedOutMinor *big.Int
	MinOutMinor      *big.Int
}

// ExactOutQuote is the result of an exact-output conversion.
type ExactOutQuote struct {
	ExpectedInMinor *big.Int
	MaxInMinor      *big.Int
}

// MulDiv computes (a*b)/c exactly, then rounds per mode. Sign-aware:
// floor rounds toward negative infinity, ceil toward positive infinity.
func MulDiv(a, b, c *big.Int, mode Rounding) (*big.Int, error) {
	if c.Sign() == 0 {
		return nil, fmt.Errorf("division by zero")
	}
	neg := (a.Sign() < 0) != (b.Sign() < 0)
	absA := new(big.Int).Abs(a)
	absB := new(big.Int).Abs(b)
	absC := new(big.Int).Abs(c)

	prod := new(big.Int).Mul(absA, absB)
	q, r := new(big.Int).QuoRem(prod, absC, new(big.Int))
	if r.Sign() == 0 {
		if neg {
			q.Neg(q)
		}
		return q, nil
	}

	switch mode {
	case RoundTrunc:
	case RoundFloor:
		if neg {
			q.Add(q, bigOne)
		}
	case RoundCeil:
		if !neg {
			q.Add(q, bigOne)
		}
	default: // half-up
		half := new(big.Int).Sub(absC, bigOne)
		half.Rsh(half, 1)
		if r.Cmp(half) > 0 {
			q.Add(q, bigOne)
		}
	}
	if neg {
		q.Neg(q)
	}
	return q, nil
}

// ConvertUnits rescales an amount from one minor-unit exponent to another
// and applies the price ratio, as a single exact rational
// amount * 10^(decTo-decFrom) * num/den rounded once per mode.
func ConvertUnits(amount *big.Int, decFrom, decTo int, price domain.Ratio, mode Rounding) (*big.Int, error) {
	if price.Den == nil || price.Den.Sign() <= 0 {
		return nil, fmt.Errorf("price denominator must be positive")
	}
	num := new(big.Int).Set(price.Num)
	den := new(big.Int).Set(price.Den)
	diff := decTo - decFrom
	if diff > 0 {
		num.Mul(num, pow10(diff))
	} else if diff < 0 {
		den.Mul(den, pow10(-diff))
	}
	return MulDiv(amount, num, den, mode)
}

// ExactIn quotes an input amount into the output asset. The price is the
// input asset per one output asset unit (quote per base, the input being
// the quote side), so the conversion divides by it.
func ExactIn(reg *Registry, amountInMinor *big.Int, inSymbol, outSymbol string, price domain.Ratio, mode Rounding, slippageBps int) (ExactInQuote, error) {
	decIn, decOut, err := resolvePair(reg, inSymbol, outSymbol)
	if err != nil {
		return ExactInQuote{}, err
	}
	if amountInMinor == nil || amountInMinor.Sign() <= 0 {
		return ExactInQuote{}, errors.Wrapf(domain.ErrInvalidAmount, "amountIn=%s", stringOrNil(amountInMinor))
	}
	inverted, err := price.Invert()
	if err != nil {
		return ExactInQuote{}, err
	}
	expOut, err := ConvertUnits(amountInMinor, decIn, decOut, inverted, mode)
	if err != nil {
		return ExactInQuote{}, err
	}
	return ExactInQuote{
		ExpectedOutMinor: expOut,
		MinOutMinor:      SlippageDown(expOut, slippageBps),
	}, nil
}

// ExactOut quotes a desired output amount back into the input asset. The
// price orientation matches ExactIn, so the conversion multiplies by it.
func ExactOut(reg *Registry, amountOutMinor *big.Int, inSymbol, outSymbol string, price domain.Ratio, mode Rounding, slippageBps int) (ExactOutQuote, error) {
	decIn, decOut, err := resolvePair(reg, inSymbol, outSymbol)
	if err != nil {
		return ExactOutQuote{}, err
	}
	if amountOutMinor == nil || amountOutMinor.Sign() <= 0 {
		return ExactOutQuote{}, errors.Wrapf(domain.ErrInvalidAmount, "amountOut=%s", stringOrNil(amountOutMinor))
	}
	expIn, err := ConvertUnits(amountOutMinor, decOut, decIn, price, mode)
	if err != nil {
		return ExactOutQuote{}, err
	}
	return ExactOutQuote{
		ExpectedInMinor: expIn,
		MaxInMinor:      SlippageUp(expIn, slippageBps),
	}, nil
}

// SlippageDown reduces an amount by a tolerance in basis points, rounding
// down: the minimum acceptable output of an exact-input trade.
func SlippageDown(amountMinor *big.Int, bps int) *big.Int {
	if amountMinor == nil {
		return nil
	}
	b := big.NewInt(int64(clampBps(bps)))
	out := new(big.Int).Sub(bigBpsScale, b)
	out.Mul(out, amountMinor)
	return out.Quo(out, bigBpsScale)
}

// SlippageUp increases an amount by a tolerance in basis points, rounding
// up: the maximum acceptable input of an exact-output trade.
func SlippageUp(amountMinor *big.Int, bps int) *big.Int {
	if amountMinor == nil {
		return nil
	}
	b := big.NewInt(int64(clampBps(bps)))
	out := new(big.Int).Add(bigBpsScale, b)
	out.Mul(out, amountMinor)
	out.Add(out, big.NewInt(bpsScale-1))
	return out.Quo(out, bigBpsScale)
}

func clampBps(bps int) int {
	if bps < 0 {
		return 0
	}
	if bps > bpsScale {
		return bpsScale
	}
	return bps
}

func resolvePair(reg *Registry, inSymbol, outSymbol string) (int, int, error) {
	decIn, err := reg.Get(inSymbol)
	if err != nil {
		return 0, 0, err
	}
	decOut, err := reg.Get(outSymbol)
	if err != nil {
		return 0, 0, err
	}
	return decIn, decOut, nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(bigTen, big.NewInt(int64(n)), nil)
}

func stringOrNil(v *big.Int) string {
	if v == nil {
		return "<nil>"
	}
	return v.String()
}
