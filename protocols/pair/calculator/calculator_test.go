package calculator

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// e18 returns n·10^18.
func e18(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), One)
}

func sub(x *uint256.Int, y uint64) *uint256.Int {
	return new(uint256.Int).Sub(x, uint256.NewInt(y))
}

func TestScale(t *testing.T) {
	testCases := []struct {
		name     string
		decimals uint8
		want     uint64
		wantErr  bool
	}{
		{"18 decimals", 18, 1, false},
		{"6 decimals", 6, 1e12, false},
		{"8 decimals", 8, 1e10, false},
		{"below range", 5, 0, true},
		{"above range", 19, 0, true},
		{"zero", 0, 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Scale(tc.decimals)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrScale)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Uint64())
		})
	}
}

func TestGetScaledDecimal(t *testing.T) {
	assert.Equal(t, uint64(1), GetScaledDecimal(0).Uint64())
	assert.Equal(t, uint64(1e18), GetScaledDecimal(18).Uint64())
	assert.Nil(t, GetScaledDecimal(19))
}

func TestValidateUpperBound(t *testing.T) {
	assert.ErrorIs(t, ValidateUpperBound(nil), ErrUpperBound)
	assert.ErrorIs(t, ValidateUpperBound(new(uint256.Int)), ErrUpperBound)
	assert.NoError(t, ValidateUpperBound(e18(5)))
	assert.NoError(t, ValidateUpperBound(maxUpperBound))
	assert.ErrorIs(t, ValidateUpperBound(new(uint256.Int).AddUint64(maxUpperBound, 1)), ErrUpperBound)
}

func TestInvariant(t *testing.T) {
	upperBound := e18(5)
	one := uint256.NewInt(1)
	scale6 := uint256.NewInt(1e12)

	testCases := []struct {
		name      string
		amount0   *uint256.Int
		amount1   *uint256.Int
		liquidity *uint256.Int
		scale0    *uint256.Int
		want      bool
		wantErr   error
	}{
		{"empty pool", new(uint256.Int), new(uint256.Int), new(uint256.Int), one, true, nil},
		{"reserves without liquidity", uint256.NewInt(1), new(uint256.Int), new(uint256.Int), one, false, nil},
		// x = upperBound², y = 0: single-sided base collateral sits exactly on the curve
		{"base only boundary", e18(25), new(uint256.Int), e18(1), one, true, nil},
		{"base only one wei short", sub(e18(25), 1), new(uint256.Int), e18(1), one, false, nil},
		{"base only surplus", e18(26), new(uint256.Int), e18(1), one, true, nil},
		// y = 2·upperBound: speculative only sits exactly on the curve
		{"speculative only boundary", new(uint256.Int), e18(10), e18(1), one, true, nil},
		{"speculative above cap", e18(100), new(uint256.Int).AddUint64(e18(10), 1), e18(1), one, false, ErrSpeculativeInvariant},
		// y = upperBound requires x = upperBound²/4
		{"mixed boundary", uint256.NewInt(6_250_000_000_000_000_000), e18(5), e18(1), one, true, nil},
		{"mixed one wei short", uint256.NewInt(6_249_999_999_999_999_999), e18(5), e18(1), one, false, nil},
		{"scales with liquidity", e18(50), new(uint256.Int), e18(2), one, true, nil},
		{"six decimal base token", uint256.NewInt(25_000_000), new(uint256.Int), e18(1), scale6, true, nil},
		{"six decimal base token short", uint256.NewInt(24_999_999), new(uint256.Int), e18(1), scale6, false, nil},
		{"base overflow holds", new(uint256.Int).SetAllOne(), new(uint256.Int), uint256.NewInt(1), one, true, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Invariant(tc.amount0, tc.amount1, tc.liquidity, tc.scale0, one, upperBound)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestInvariantDoesNotMutateInputs(t *testing.T) {
	amount0, amount1, liquidity := e18(7), e18(3), e18(1)
	upperBound := e18(5)
	_, err := Invariant(amount0, amount1, liquidity, uint256.NewInt(1), uint256.NewInt(1), upperBound)
	require.NoError(t, err)

	assert.Zero(t, e18(7).Cmp(amount0))
	assert.Zero(t, e18(3).Cmp(amount1))
	assert.Zero(t, e18(1).Cmp(liquidity))
	assert.Zero(t, e18(5).Cmp(upperBound))
}
