package lendgine

import (
	"fmt"

	"github.com/defistate/lendgine-go/chain"
	"github.com/defistate/lendgine-go/protocols/lendgine/liquiditymath"
	"github.com/defistate/lendgine-go/protocols/lendgine/position"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	secondsPerDay = 86_400
	// rateDenominator makes the daily rate tick/10 000 per unit of utilized liquidity.
	rateDenominator = 10_000
)

var dilutionDenominator = uint256.NewInt(secondsPerDay * rateDenominator)

// AccrueInterest runs a global accrual pass.
func (l *Lendgine) AccrueInterest() error {
	return l.call("accrue_interest", l.accrue)
}

// AccrueTickInterest runs a global accrual pass and brings t's reward up to date.
func (l *Lendgine) AccrueTickInterest(t uint32) error {
	return l.call("accrue_tick_interest", func() error {
		if t == 0 {
			return ErrInvalidTick
		}
		if err := l.accrue(); err != nil {
			return err
		}
		return l.syncTick(t)
	})
}

// AccruePositionInterest brings the owner's position at t up to date, syncing the
// tick first when it is utilized.
func (l *Lendgine) AccruePositionInterest(owner common.Address, t uint32) error {
	return l.call("accrue_position_interest", func() error {
		if t == 0 {
			return ErrInvalidTick
		}
		return l.syncAll(owner, t)
	})
}

// syncAll runs global, tick and position accrual, in that order. Ticks above the
// current tick earn nothing and are left alone. Dilution can move the current
// tick below t, in which case the walk has already synced it.
func (l *Lendgine) syncAll(owner common.Address, t uint32) error {
	if l.currentTick != 0 && t <= l.currentTick {
		if err := l.accrue(); err != nil {
			return err
		}
		if t <= l.currentTick {
			if err := l.syncTick(t); err != nil {
				return err
			}
		}
	}
	return l.syncPosition(position.Key{Owner: owner, Tick: t})
}

// accrue dilutes borrowed liquidity by the interest earned since lastUpdate and
// credits it to the reward accumulator. Unlike a plain accrual, a pass whose
// dilution floors to zero leaves lastUpdate where it was, so the elapsed time
// carries over to the next pass instead of being dropped.
func (l *Lendgine) accrue() error {
	now := l.clock.Now()
	if l.totalLiquidityBorrowed.IsZero() {
		chain.Set(l.journal, &l.lastUpdate, now)
		return nil
	}
	if now <= l.lastUpdate || l.interestNumerator.IsZero() {
		return nil
	}
	elapsed := uint256.NewInt(now - l.lastUpdate)

	dilution := new(uint256.Int)
	if err := liquiditymath.MulDiv(dilution, &l.interestNumerator, elapsed, dilutionDenominator); err != nil {
		return err
	}
	if dilution.Gt(&l.totalLiquidityBorrowed) {
		dilution.Set(&l.totalLiquidityBorrowed)
	}
	if dilution.IsZero() {
		// too little time to dilute anything; keep accumulating
		return nil
	}

	dilutionAsset, err := l.ConvertLiquidityToAsset(dilution)
	if err != nil {
		return err
	}
	var rewardPerIN uint256.Int
	if err := liquiditymath.MulDiv(&rewardPerIN, dilutionAsset, liquiditymath.One, &l.interestNumerator); err != nil {
		return err
	}
	if err := liquiditymath.Add(&rewardPerIN, &l.rewardPerINStored, &rewardPerIN); err != nil {
		return err
	}
	chain.Set(l.journal, &l.rewardPerINStored, rewardPerIN)

	if err := l.syncTick(l.currentTick); err != nil {
		return err
	}
	delta, err := l.decreaseUtilization(dilution)
	if err != nil {
		return err
	}

	var borrowed, numerator, diluted uint256.Int
	if err := liquiditymath.Sub(&borrowed, &l.totalLiquidityBorrowed, dilution); err != nil {
		return err
	}
	if err := liquiditymath.Sub(&numerator, &l.interestNumerator, delta); err != nil {
		return fmt.Errorf("interest numerator: %w", err)
	}
	if err := liquiditymath.Add(&diluted, &l.liquidityDiluted, dilution); err != nil {
		return err
	}
	chain.Set(l.journal, &l.totalLiquidityBorrowed, borrowed)
	chain.Set(l.journal, &l.interestNumerator, numerator)
	chain.Set(l.journal, &l.liquidityDiluted, diluted)
	chain.Set(l.journal, &l.lastUpdate, now)

	l.logger.Debug("accrued interest",
		"elapsed", elapsed.Uint64(),
		"dilution", dilution.Dec(),
		"rewardPerINStored", rewardPerIN.Dec(),
		"currentTick", l.currentTick,
	)
	return nil
}

// syncTick credits t with the reward earned by its utilized liquidity since its
// last checkpoint.
func (l *Lendgine) syncTick(t uint32) error {
	if t > l.currentTick {
		return fmt.Errorf("%w: tick %d above current tick %d", ErrUnutilizedAccrue, t, l.currentTick)
	}
	if !l.ticks.Initialized(t) {
		return nil
	}
	info := l.ticks.Get(t)

	effective := &info.Liquidity
	if t == l.currentTick {
		effective = &l.currentLiquidity
	}

	var delta uint256.Int
	if err := liquiditymath.Sub(&delta, &l.rewardPerINStored, &info.RewardPerINPaid); err != nil {
		return err
	}
	if !delta.IsZero() && !effective.IsZero() && !info.Liquidity.IsZero() {
		var weighted, earned, perLiquidity uint256.Int
		weighted.Mul(effective, uint256.NewInt(uint64(t)))
		if err := liquiditymath.MulDiv(&earned, &weighted, &delta, liquiditymath.One); err != nil {
			return err
		}
		if err := liquiditymath.MulDiv(&perLiquidity, &earned, liquiditymath.One, &info.Liquidity); err != nil {
			return err
		}
		if err := liquiditymath.Add(&info.TokensOwedPerLiquidity, &info.TokensOwedPerLiquidity, &perLiquidity); err != nil {
			return err
		}
	}
	info.RewardPerINPaid.Set(&l.rewardPerINStored)
	l.ticks.Set(t, info)
	return nil
}

// syncPosition credits the position with its share of its tick's reward since its
// last checkpoint. The tick must have been synced first.
func (l *Lendgine) syncPosition(key position.Key) error {
	if !l.positions.Exists(key) {
		return nil
	}
	tickInfo := l.ticks.Get(key.Tick)
	info := l.positions.Get(key)

	var delta uint256.Int
	if err := liquiditymath.Sub(&delta, &tickInfo.TokensOwedPerLiquidity, &info.RewardPerLiquidityPaid); err != nil {
		return err
	}
	if !delta.IsZero() && !info.Liquidity.IsZero() {
		var owed uint256.Int
		if err := liquiditymath.MulDiv(&owed, &info.Liquidity, &delta, liquiditymath.One); err != nil {
			return err
		}
		if err := liquiditymath.Add(&info.TokensOwed, &info.TokensOwed, &owed); err != nil {
			return err
		}
	}
	info.RewardPerLiquidityPaid.Set(&tickInfo.TokensOwedPerLiquidity)
	l.positions.Set(key, info)
	return nil
}
