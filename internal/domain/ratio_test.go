package domain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRatio(t *testing.T) {
	r, err := NewRatio(big.NewInt(525), big.NewInt(100))
	require.NoError(t, err, "NewRatio failed")
	assert.Equal(t, "525/100", r.String(), "String mismatch")

	_, err = NewRatio(big.NewInt(1), big.NewInt(0))
	assert.Error(t, err, "Zero denominator must fail")

	_, err = NewRatio(big.NewInt(1), big.NewInt(-2))
	assert.Error(t, err, "Negative denominator must fail")

	_, err = NewRatio(nil, big.NewInt(1))
	assert.Error(t, err, "Nil numerator must fail")
}

func TestRatio_Invert(t *testing.T) {
	r := MustRatio(525, 100)
	inv, err := r.Invert()
	require.NoError(t, err, "Invert failed")
	assert.Equal(t, "100/525", inv.String(), "Inverted ratio mismatch")

	// a zero price cannot be inverted
	zero := MustRatio(0, 1)
	_, err = zero.Invert()
	assert.Error(t, err, "Inverting a zero ratio must fail")
}

func TestNewRatio_CopiesInputs(t *testing.T) {
	num := big.NewInt(5)
	den := big.NewInt(2)
	r, err := NewRatio(num, den)
	require.NoError(t, err, "NewRatio failed")

	num.SetInt64(999)
	assert.Equal(t, "5", r.Num.String(), "Ratio must not alias caller ints")
}

func TestNormalizeVaultProviderKind(t *testing.T) {
	assert.Equal(t, VaultProviderOnChain, NormalizeVaultProviderKind(VaultProviderSelf), "Legacy alias must normalize")
	assert.Equal(t, VaultProviderAggregator, NormalizeVaultProviderKind(VaultProviderAggregator), "Known kinds pass through")
	assert.True(t, IsVaultProviderKind(VaultProviderSelf), "Legacy alias must parse")
	assert.False(t, IsVaultProviderKind("unknown"), "Unknown kind must not parse")
}
