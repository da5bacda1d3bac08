package calculator

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

const (
	// MinDecimals and MaxDecimals bound the token decimals a pool accepts.
	MinDecimals = 6
	MaxDecimals = 18
)

var (
	// One is the 1e18 fixed-point base.
	One = uint256.NewInt(1e18)

	// maxUpperBound keeps upperBound² and y·upperBound inside 256 bits.
	maxUpperBound = new(uint256.Int).Mul(One, One)

	ten = uint256.NewInt(10)

	// precomputed 10^dec for dec in 0..18
	precomputedScales [MaxDecimals + 1]uint256.Int

	// ErrScale is returned for token decimals outside MinDecimals..MaxDecimals.
	ErrScale = errors.New("token decimals out of range")
	// ErrUpperBound is returned for a zero upper bound or one above 1e36.
	ErrUpperBound = errors.New("upper bound out of range")
	// ErrSpeculativeInvariant is returned when the scaled speculative reserve exceeds twice the upper bound.
	ErrSpeculativeInvariant = errors.New("speculative reserve above twice the upper bound")
)

func init() {
	precomputedScales[0].SetOne()
	for i := 1; i < len(precomputedScales); i++ {
		precomputedScales[i].Mul(&precomputedScales[i-1], ten)
	}
}

// GetScaledDecimal returns 10^dec for dec ≤ 18. The result MUST NOT be modified.
func GetScaledDecimal(dec uint8) *uint256.Int {
	if int(dec) < len(precomputedScales) {
		return &precomputedScales[dec]
	}
	return nil
}

// Scale returns the factor 10^(18-decimals) normalizing a raw token amount to
// 18 decimals.
func Scale(decimals uint8) (*uint256.Int, error) {
	if decimals < MinDecimals || decimals > MaxDecimals {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrScale, decimals, MinDecimals, MaxDecimals)
	}
	return new(uint256.Int).Set(GetScaledDecimal(MaxDecimals - decimals)), nil
}

// ValidateUpperBound checks that upperBound is positive and at most 1e36.
func ValidateUpperBound(upperBound *uint256.Int) error {
	if upperBound == nil || upperBound.IsZero() || upperBound.Gt(maxUpperBound) {
		return ErrUpperBound
	}
	return nil
}

// Invariant reports whether reserves (amount0, amount1) back liquidity units on
// the curve
//
//	x + y·upperBound ≥ y²/4 + upperBound²
//
// where x and y are the reserves per unit of liquidity, normalized by scale0 and
// scale1 and expressed in 1e18 fixed point. Equality is the curve itself; any
// surplus of the base asset keeps the check satisfied.
//
// A scaled speculative reserve above 2·upperBound fails with
// ErrSpeculativeInvariant. Zero liquidity holds only for empty reserves.
func Invariant(amount0, amount1, liquidity, scale0, scale1, upperBound *uint256.Int) (bool, error) {
	if liquidity.IsZero() {
		return amount0.IsZero() && amount1.IsZero(), nil
	}

	var twoUpperBound uint256.Int
	twoUpperBound.Lsh(upperBound, 1)

	y, overflow := perLiquidity(amount1, scale1, liquidity)
	if overflow || y.Gt(&twoUpperBound) {
		return false, ErrSpeculativeInvariant
	}

	x, overflow := perLiquidity(amount0, scale0, liquidity)
	if overflow {
		// base reserve alone exceeds anything the right-hand side can reach
		return true, nil
	}

	var a, b, lhs uint256.Int
	if _, overflow := a.MulOverflow(x, One); overflow {
		return true, nil
	}
	b.Mul(y, upperBound)
	if _, overflow := lhs.AddOverflow(&a, &b); overflow {
		return true, nil
	}

	var c, d, rhs uint256.Int
	c.Mul(y, y)
	c.Rsh(&c, 2)
	d.Mul(upperBound, upperBound)
	rhs.Add(&c, &d)

	return !lhs.Lt(&rhs), nil
}

// perLiquidity returns amount·scale·1e18/liquidity, floored.
func perLiquidity(amount, scale, liquidity *uint256.Int) (*uint256.Int, bool) {
	var scaled uint256.Int
	if _, overflow := scaled.MulOverflow(amount, scale); overflow {
		return nil, true
	}
	return new(uint256.Int).MulDivOverflow(&scaled, One, liquidity)
}
