package lendgine

import (
	"fmt"

	"github.com/defistate/lendgine-go/chain"
	"github.com/defistate/lendgine-go/protocols/lendgine/liquiditymath"
	"github.com/defistate/lendgine-go/protocols/lendgine/position"
	"github.com/defistate/lendgine-go/protocols/lendgine/tick"
	"github.com/defistate/lendgine-go/protocols/pair"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Stake places the whole pool buffer at tick t on behalf of recipient. Callers
// mint liquidity into the pool first.
func (l *Lendgine) Stake(recipient common.Address, t uint32) (liquidity *uint256.Int, err error) {
	err = l.call("stake", func() error {
		if t == 0 {
			return ErrInvalidTick
		}
		liquidity = l.pool.Buffer()
		if liquidity.IsZero() {
			return ErrInsufficientOutput
		}

		key := position.Key{Owner: recipient, Tick: t}
		if err := l.syncAll(recipient, t); err != nil {
			return err
		}

		if !l.ticks.Initialized(t) {
			var fresh tick.Info
			fresh.RewardPerINPaid.Set(&l.rewardPerINStored)
			l.ticks.Set(t, fresh)
		}
		if err := l.ticks.AddLiquidity(t, liquidity); err != nil {
			return err
		}
		info := l.ticks.Get(t)

		pos := l.positions.Get(key)
		if !l.positions.Exists(key) {
			pos.RewardPerLiquidityPaid.Set(&info.TokensOwedPerLiquidity)
		}
		if err := liquiditymath.Add(&pos.Liquidity, &pos.Liquidity, liquidity); err != nil {
			return err
		}
		l.positions.Set(key, pos)

		switch {
		case l.currentTick == 0:
			l.enterTick(t)
			chain.Set(l.journal, &l.currentTick, t)
		case t < l.currentTick:
			// the new stake is utilized at once and displaces the same amount
			// from the top; the numerator is left as is
			if _, err := l.decreaseUtilization(liquidity); err != nil {
				return err
			}
		}

		if err := l.pool.RemoveBuffer(l.bufferKey, liquidity); err != nil {
			return err
		}

		l.logger.Debug("staked", "recipient", recipient, "tick", t, "liquidity", liquidity.Dec(), "currentTick", l.currentTick)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return liquidity, nil
}

// Unstake removes liquidity from owner's position at tick t and returns it to
// the pool buffer. Utilized liquidity taken out is replaced from higher ticks.
// Liquidity diluted away by interest no longer exists in the pool; what the
// pool cannot back is written off against it, so the buffer may grow by less
// than liquidity.
func (l *Lendgine) Unstake(owner common.Address, t uint32, liquidity *uint256.Int) error {
	return l.call("unstake", func() error {
		if t == 0 {
			return ErrInvalidTick
		}
		if liquidity.IsZero() {
			return ErrInsufficientOutput
		}
		key := position.Key{Owner: owner, Tick: t}
		pos := l.positions.Get(key)
		if liquidity.Gt(&pos.Liquidity) {
			return fmt.Errorf("%w: unstake %s, staked %s at tick %d", ErrInsufficientPosition, liquidity.Dec(), pos.Liquidity.Dec(), t)
		}

		if err := l.syncAll(owner, t); err != nil {
			return err
		}

		info := l.ticks.Get(t)
		utilized := new(uint256.Int)
		switch {
		case t == l.currentTick:
			var remaining uint256.Int
			remaining.Sub(&info.Liquidity, liquidity)
			if l.currentLiquidity.Gt(&remaining) {
				utilized.Sub(&l.currentLiquidity, &remaining)
				chain.Set(l.journal, &l.currentLiquidity, remaining)
			}
		case t < l.currentTick:
			utilized.Set(liquidity)
		}

		if err := l.ticks.SubLiquidity(t, liquidity); err != nil {
			return err
		}

		pos = l.positions.Get(key)
		pos.Liquidity.Sub(&pos.Liquidity, liquidity)
		l.positions.Set(key, pos)

		if !utilized.IsZero() {
			// replace the displaced utilization from above; the numerator is left as is
			if _, err := l.increaseUtilization(utilized); err != nil {
				return err
			}
		}

		freed, err := l.writeOffDiluted(liquidity)
		if err != nil {
			return err
		}
		if !freed.IsZero() {
			if err := l.pool.AddBuffer(l.bufferKey, freed); err != nil {
				return err
			}
		}

		l.logger.Debug("unstaked", "owner", owner, "tick", t, "liquidity", liquidity.Dec(), "freed", freed.Dec(), "utilized", utilized.Dec(), "currentTick", l.currentTick)
		return nil
	})
}

// Collect sends owner's accrued reward at tick t to recipient.
func (l *Lendgine) Collect(owner, recipient common.Address, t uint32) (amount *uint256.Int, err error) {
	err = l.call("collect", func() error {
		if t == 0 {
			return ErrInvalidTick
		}
		if err := l.syncAll(owner, t); err != nil {
			return err
		}

		key := position.Key{Owner: owner, Tick: t}
		pos := l.positions.Get(key)
		if pos.TokensOwed.IsZero() {
			return ErrInsufficientOutput
		}
		amount = new(uint256.Int).Set(&pos.TokensOwed)
		pos.TokensOwed.Clear()
		l.positions.Set(key, pos)

		if err := l.pool.Token1().Transfer(l.address, recipient, amount); err != nil {
			return err
		}

		l.logger.Debug("collected", "owner", owner, "recipient", recipient, "tick", t, "amount", amount.Dec())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// writeOffDiluted caps liquidity at what the pool holds outside its buffer and
// charges the rest to liquidityDiluted. It returns the liquidity the pool can
// hand back.
func (l *Lendgine) writeOffDiluted(liquidity *uint256.Int) (*uint256.Int, error) {
	var available uint256.Int
	if err := liquiditymath.Sub(&available, l.pool.TotalSupply(), l.pool.Buffer()); err != nil {
		return nil, err
	}
	if !liquidity.Gt(&available) {
		return new(uint256.Int).Set(liquidity), nil
	}

	var shortfall, diluted uint256.Int
	shortfall.Sub(liquidity, &available)
	if err := liquiditymath.Sub(&diluted, &l.liquidityDiluted, &shortfall); err != nil {
		return nil, fmt.Errorf("%w: unstake %s, pool holds %s outside the buffer", pair.ErrBuffer, liquidity.Dec(), available.Dec())
	}
	chain.Set(l.journal, &l.liquidityDiluted, diluted)
	return &available, nil
}
