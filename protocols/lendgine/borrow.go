package lendgine

import (
	"fmt"

	"github.com/defistate/lendgine-go/chain"
	"github.com/defistate/lendgine-go/protocols/lendgine/liquiditymath"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Deposit borrows the liquidity backed by amount of the speculative asset. The
// liquidity is utilized from the lowest ticks up and moved into the pool buffer,
// shares are minted to recipient, and payer is called back to deliver amount.
func (l *Lendgine) Deposit(payer Payer, recipient common.Address, amount *uint256.Int, data []byte) (shares *uint256.Int, err error) {
	err = l.call("deposit", func() error {
		if l.currentTick == 0 {
			return fmt.Errorf("%w: no stake to borrow against", ErrCompleteUtilization)
		}
		if err := l.accrue(); err != nil {
			return err
		}

		liquidity, err := l.ConvertAssetToLiquidity(amount)
		if err != nil {
			return err
		}
		shares, err = l.convertLiquidityToShares(liquidity)
		if err != nil {
			return err
		}
		if shares.IsZero() {
			return ErrInsufficientOutput
		}

		balanceBefore, err := l.speculativeBalance()
		if err != nil {
			return err
		}

		if err := l.shares.Mint(recipient, shares); err != nil {
			return err
		}
		delta, err := l.increaseUtilization(liquidity)
		if err != nil {
			return err
		}
		var numerator, borrowed uint256.Int
		if err := liquiditymath.Add(&numerator, &l.interestNumerator, delta); err != nil {
			return err
		}
		if err := liquiditymath.Add(&borrowed, &l.totalLiquidityBorrowed, liquidity); err != nil {
			return err
		}
		chain.Set(l.journal, &l.interestNumerator, numerator)
		chain.Set(l.journal, &l.totalLiquidityBorrowed, borrowed)

		if err := l.pool.AddBuffer(l.bufferKey, liquidity); err != nil {
			return err
		}

		if err := payer.LendgineCallback(amount, data); err != nil {
			return fmt.Errorf("payer callback: %w", err)
		}
		balanceAfter, err := l.speculativeBalance()
		if err != nil {
			return err
		}
		var want uint256.Int
		if _, overflow := want.AddOverflow(balanceBefore, amount); overflow || balanceAfter.Lt(&want) {
			return fmt.Errorf("%w: received %s, want %s", ErrInsufficientInput, new(uint256.Int).Sub(balanceAfter, balanceBefore).Dec(), amount.Dec())
		}

		l.logger.Debug("deposited",
			"payer", payer.Address(),
			"recipient", recipient,
			"amount", amount.Dec(),
			"liquidity", liquidity.Dec(),
			"shares", shares.Dec(),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}

// Withdraw repays the borrow represented by the shares held at the engine's own
// address. Callers transfer shares to the engine and mint the matching liquidity
// into the pool first. The shares are burned, the liquidity leaves the pool
// buffer and the speculative asset it backed is sent to recipient.
func (l *Lendgine) Withdraw(recipient common.Address) (shares, liquidity, amount *uint256.Int, err error) {
	err = l.call("withdraw", func() error {
		if err := l.accrue(); err != nil {
			return err
		}

		shares, err = l.shares.BalanceOf(l.address)
		if err != nil {
			return err
		}
		liquidity, err = l.convertSharesToLiquidity(shares)
		if err != nil {
			return err
		}
		if liquidity.IsZero() {
			return ErrInsufficientOutput
		}

		if err := l.shares.Burn(l.address, shares); err != nil {
			return err
		}
		delta, err := l.decreaseUtilization(liquidity)
		if err != nil {
			return err
		}
		var numerator, borrowed uint256.Int
		if err := liquiditymath.Sub(&numerator, &l.interestNumerator, delta); err != nil {
			return fmt.Errorf("interest numerator: %w", err)
		}
		if err := liquiditymath.Sub(&borrowed, &l.totalLiquidityBorrowed, liquidity); err != nil {
			return err
		}
		chain.Set(l.journal, &l.interestNumerator, numerator)
		chain.Set(l.journal, &l.totalLiquidityBorrowed, borrowed)

		if err := l.pool.RemoveBuffer(l.bufferKey, liquidity); err != nil {
			return err
		}

		amount, err = l.ConvertLiquidityToAsset(liquidity)
		if err != nil {
			return err
		}
		if !amount.IsZero() {
			if err := l.pool.Token1().Transfer(l.address, recipient, amount); err != nil {
				return err
			}
		}

		l.logger.Debug("withdrew",
			"recipient", recipient,
			"shares", shares.Dec(),
			"liquidity", liquidity.Dec(),
			"amount", amount.Dec(),
		)
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return shares, liquidity, amount, nil
}

// ConvertLiquidityToShares returns the shares a borrow of liquidity mints.
func (l *Lendgine) ConvertLiquidityToShares(liquidity *uint256.Int) (*uint256.Int, error) {
	return l.convertLiquidityToShares(liquidity)
}

// ConvertSharesToLiquidity returns the borrowed liquidity shares represent.
func (l *Lendgine) ConvertSharesToLiquidity(shares *uint256.Int) (*uint256.Int, error) {
	return l.convertSharesToLiquidity(shares)
}

func (l *Lendgine) convertLiquidityToShares(liquidity *uint256.Int) (*uint256.Int, error) {
	supply := l.shares.TotalSupply()
	if supply.IsZero() {
		return new(uint256.Int).Set(liquidity), nil
	}
	if l.totalLiquidityBorrowed.IsZero() {
		return nil, fmt.Errorf("%w: %s shares outstanding", ErrDilutedShares, supply.Dec())
	}
	shares := new(uint256.Int)
	if err := liquiditymath.MulDiv(shares, liquidity, supply, &l.totalLiquidityBorrowed); err != nil {
		return nil, err
	}
	return shares, nil
}

func (l *Lendgine) convertSharesToLiquidity(shares *uint256.Int) (*uint256.Int, error) {
	supply := l.shares.TotalSupply()
	if supply.IsZero() {
		return new(uint256.Int), nil
	}
	liquidity := new(uint256.Int)
	if err := liquiditymath.MulDiv(liquidity, shares, &l.totalLiquidityBorrowed, supply); err != nil {
		return nil, err
	}
	return liquidity, nil
}
