package liquiditymath

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	// One is the 1e18 fixed-point base.
	One = uint256.NewInt(1e18)

	ErrLiquidityOverflow  = errors.New("liquidity overflow")
	ErrLiquidityUnderflow = errors.New("liquidity underflow")
	ErrDivisionByZero     = errors.New("division by zero")
)

// Add sets dest = x + y, returning ErrLiquidityOverflow if the sum does not fit
// in 256 bits. dest is left unchanged on error.
func Add(dest, x, y *uint256.Int) error {
	var sum uint256.Int
	if _, overflow := sum.AddOverflow(x, y); overflow {
		return ErrLiquidityOverflow
	}
	dest.Set(&sum)
	return nil
}

// Sub sets dest = x - y, returning ErrLiquidityUnderflow if y > x. dest is left
// unchanged on error.
func Sub(dest, x, y *uint256.Int) error {
	if x.Lt(y) {
		return ErrLiquidityUnderflow
	}
	dest.Sub(x, y)
	return nil
}

// MulDiv sets dest = floor(x * y / d) with a 512-bit intermediate product.
func MulDiv(dest, x, y, d *uint256.Int) error {
	if d.IsZero() {
		return ErrDivisionByZero
	}
	var z uint256.Int
	if _, overflow := z.MulDivOverflow(x, y, d); overflow {
		return ErrLiquidityOverflow
	}
	dest.Set(&z)
	return nil
}

// MulDivRoundingUp sets dest = ceil(x * y / d).
func MulDivRoundingUp(dest, x, y, d *uint256.Int) error {
	if d.IsZero() {
		return ErrDivisionByZero
	}
	var z uint256.Int
	if _, overflow := z.MulDivOverflow(x, y, d); overflow {
		return ErrLiquidityOverflow
	}
	var rem uint256.Int
	rem.MulMod(x, y, d)
	if !rem.IsZero() {
		if _, overflow := z.AddOverflow(&z, uint256.NewInt(1)); overflow {
			return ErrLiquidityOverflow
		}
	}
	dest.Set(&z)
	return nil
}
