package lendgine

import (
	"fmt"

	"github.com/defistate/lendgine-go/chain"
	"github.com/defistate/lendgine-go/protocols/lendgine/liquiditymath"
	"github.com/holiman/uint256"
)

// increaseUtilization marks liquidity as utilized, filling the current tick and
// then the ticks above it. It returns the resulting increase of the interest
// numerator.
func (l *Lendgine) increaseUtilization(liquidity *uint256.Int) (*uint256.Int, error) {
	remaining := new(uint256.Int).Set(liquidity)
	delta := new(uint256.Int)

	for {
		t := l.currentTick
		info := l.ticks.Get(t)

		var capacity uint256.Int
		if err := liquiditymath.Sub(&capacity, &info.Liquidity, &l.currentLiquidity); err != nil {
			return nil, err
		}

		if !remaining.Gt(&capacity) {
			var current uint256.Int
			current.Add(&l.currentLiquidity, remaining)
			chain.Set(l.journal, &l.currentLiquidity, current)
			addWeighted(delta, t, remaining)
			return delta, nil
		}

		// consume the rest of this tick and move up
		addWeighted(delta, t, &capacity)
		remaining.Sub(remaining, &capacity)
		if err := l.syncTick(t); err != nil {
			return nil, err
		}

		next, ok := l.ticks.Next(t)
		if !ok {
			return nil, fmt.Errorf("%w: %s liquidity left above tick %d", ErrCompleteUtilization, remaining.Dec(), t)
		}
		l.enterTick(next)
		chain.Set(l.journal, &l.currentTick, next)
		chain.Set(l.journal, &l.currentLiquidity, uint256.Int{})

		l.metrics.RecordTickCrossing("up")
		l.logger.Debug("crossed tick", "from", t, "to", next, "direction", "up")
	}
}

// decreaseUtilization frees utilized liquidity, emptying the current tick and
// then the ticks below it. It returns the resulting decrease of the interest
// numerator.
func (l *Lendgine) decreaseUtilization(liquidity *uint256.Int) (*uint256.Int, error) {
	remaining := new(uint256.Int).Set(liquidity)
	delta := new(uint256.Int)

	for {
		t := l.currentTick
		if !remaining.Gt(&l.currentLiquidity) {
			var current uint256.Int
			current.Sub(&l.currentLiquidity, remaining)
			chain.Set(l.journal, &l.currentLiquidity, current)
			addWeighted(delta, t, remaining)
			return delta, nil
		}

		// free this tick entirely and move down
		addWeighted(delta, t, &l.currentLiquidity)
		remaining.Sub(remaining, &l.currentLiquidity)
		if err := l.syncTick(t); err != nil {
			return nil, err
		}

		prev, ok := l.ticks.Prev(t)
		if !ok {
			return nil, fmt.Errorf("%w: %s utilized liquidity missing below tick %d", liquiditymath.ErrLiquidityUnderflow, remaining.Dec(), t)
		}
		if err := l.syncTick(prev); err != nil {
			return nil, err
		}
		info := l.ticks.Get(prev)
		chain.Set(l.journal, &l.currentTick, prev)
		chain.Set(l.journal, &l.currentLiquidity, info.Liquidity)

		l.metrics.RecordTickCrossing("down")
		l.logger.Debug("crossed tick", "from", t, "to", prev, "direction", "down")
	}
}

// enterTick starts t's reward checkpoint at the current accumulator, so a tick
// only earns from the moment utilization reaches it.
func (l *Lendgine) enterTick(t uint32) {
	info := l.ticks.Get(t)
	info.RewardPerINPaid.Set(&l.rewardPerINStored)
	l.ticks.Set(t, info)
}

// addWeighted adds t·amount to dst.
func addWeighted(dst *uint256.Int, t uint32, amount *uint256.Int) {
	var weighted uint256.Int
	weighted.Mul(uint256.NewInt(uint64(t)), amount)
	dst.Add(dst, &weighted)
}
