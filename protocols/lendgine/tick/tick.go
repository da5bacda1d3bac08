package tick

import (
	"slices"

	"github.com/defistate/lendgine-go/chain"
	"github.com/defistate/lendgine-go/protocols/lendgine/liquiditymath"
	"github.com/defistate/lendgine-go/protocols/lendgine/tickbitmap"
	"github.com/holiman/uint256"
)

// Info is the per-tick record.
type Info struct {
	// Liquidity is the total stake placed at the tick by all makers.
	Liquidity uint256.Int
	// RewardPerINPaid is the global reward per interest numerator last applied to the tick.
	RewardPerINPaid uint256.Int
	// TokensOwedPerLiquidity is the cumulative reward earned per unit of the tick's stake.
	TokensOwedPerLiquidity uint256.Int
}

// Ledger is the key-indexed tick store. Records are created on first write and
// never removed; every tick ever written is kept in a sorted index so the
// utilization walk can find its neighbours.
//
// Ledger is NOT safe for concurrent use.
type Ledger struct {
	journal     *chain.Journal
	ticks       map[uint32]Info
	initialized []uint32
}

// NewLedger returns an empty ledger journaling its writes to j.
func NewLedger(j *chain.Journal) *Ledger {
	return &Ledger{
		journal: j,
		ticks:   make(map[uint32]Info),
	}
}

// Get returns a copy of the record at tick. Unwritten ticks read as zero.
func (l *Ledger) Get(tick uint32) Info {
	return l.ticks[tick]
}

// Initialized reports whether tick has ever been written.
func (l *Ledger) Initialized(tick uint32) bool {
	_, ok := l.ticks[tick]
	return ok
}

// Set stores info at tick.
func (l *Ledger) Set(tick uint32, info Info) {
	prev, existed := l.ticks[tick]
	l.journal.Append(func() {
		if existed {
			l.ticks[tick] = prev
		} else {
			delete(l.ticks, tick)
		}
	})
	l.ticks[tick] = info

	if !existed {
		l.initialized = tickbitmap.Insert(l.initialized, tick)
		l.journal.Append(func() {
			if i, found := slices.BinarySearch(l.initialized, tick); found {
				l.initialized = slices.Delete(l.initialized, i, i+1)
			}
		})
	}
}

// AddLiquidity increases the stake at tick by amount.
func (l *Ledger) AddLiquidity(tick uint32, amount *uint256.Int) error {
	info := l.Get(tick)
	if err := liquiditymath.Add(&info.Liquidity, &info.Liquidity, amount); err != nil {
		return err
	}
	l.Set(tick, info)
	return nil
}

// SubLiquidity decreases the stake at tick by amount.
func (l *Ledger) SubLiquidity(tick uint32, amount *uint256.Int) error {
	info := l.Get(tick)
	if err := liquiditymath.Sub(&info.Liquidity, &info.Liquidity, amount); err != nil {
		return err
	}
	l.Set(tick, info)
	return nil
}

// Next returns the smallest initialized tick above tick.
func (l *Ledger) Next(tick uint32) (uint32, bool) {
	return tickbitmap.NextInitializedTick(l.initialized, tick, false)
}

// Prev returns the largest initialized tick below tick.
func (l *Ledger) Prev(tick uint32) (uint32, bool) {
	if tick == 0 {
		return 0, false
	}
	return tickbitmap.NextInitializedTick(l.initialized, tick-1, true)
}

// Ticks returns the initialized ticks in ascending order.
func (l *Ledger) Ticks() []uint32 {
	return slices.Clone(l.initialized)
}

// Len returns the number of initialized ticks.
func (l *Ledger) Len() int {
	return len(l.initialized)
}

// TotalLiquidity sums the stake over every tick.
func (l *Ledger) TotalLiquidity() *uint256.Int {
	total := new(uint256.Int)
	for _, info := range l.ticks {
		total.Add(total, &info.Liquidity)
	}
	return total
}

// Range calls fn for each initialized tick in ascending order until fn returns false.
func (l *Ledger) Range(fn func(tick uint32, info Info) bool) {
	for _, tick := range l.initialized {
		if !fn(tick, l.ticks[tick]) {
			return
		}
	}
}
