package domain

import (
	"fmt"
	"math/big"
)

// Ratio is an exact price expressed as numerator/denominator.
// The denominator is always positive.
type Ratio struct {
	Num *big.Int
	Den *big.Int
}

// NewRatio builds a ratio, rejecting a non-positive denominator.
func NewRatio(num, den *big.Int) (Ratio, error) {
	if num == nil || den == nil {
		return Ratio{}, fmt.Errorf("ratio requires both numerator and denominator")
	}
	if den.Sign() <= 0 {
		return Ratio{}, fmt.Errorf("ratio denominator must be positive, got %s", den.String())
	}
	return Ratio{Num: new(big.Int).Set(num), Den: new(big.Int).Set(den)}, nil
}

// MustRatio is NewRatio for statically known values.
func MustRatio(num, den int64) Ratio {
	r, err := NewRatio(big.NewInt(num), big.NewInt(den))
	if err != nil {
		panic(err)
	}
	return r
}

// Invert swaps numerator and denominator to flip the quoting direction.
func (r Ratio) Invert() (Ratio, error) {
	return NewRatio(r.Den, r.Num)
}

func (r Ratio) String() string {
	return fmt.Sprintf("%s/%s", r.Num.String(), r.Den.String())
}
