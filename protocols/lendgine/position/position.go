package position

import (
	"bytes"
	"cmp"
	"slices"

	"github.com/defistate/lendgine-go/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Key identifies a maker's stake at one tick.
type Key struct {
	Owner common.Address
	Tick  uint32
}

// Info is the per-(owner, tick) record.
type Info struct {
	// Liquidity is the maker's stake at the tick.
	Liquidity uint256.Int
	// RewardPerLiquidityPaid is the tick's TokensOwedPerLiquidity at the last sync.
	RewardPerLiquidityPaid uint256.Int
	// TokensOwed is the reward claimable by the owner.
	TokensOwed uint256.Int
}

// Ledger is the key-indexed position store. Records are created on first write
// and never removed.
//
// Ledger is NOT safe for concurrent use.
type Ledger struct {
	journal   *chain.Journal
	positions map[Key]Info
}

// NewLedger returns an empty ledger journaling its writes to j.
func NewLedger(j *chain.Journal) *Ledger {
	return &Ledger{
		journal:   j,
		positions: make(map[Key]Info),
	}
}

// Get returns a copy of the record at key. Unwritten keys read as zero.
func (l *Ledger) Get(key Key) Info {
	return l.positions[key]
}

// Exists reports whether key has ever been written.
func (l *Ledger) Exists(key Key) bool {
	_, ok := l.positions[key]
	return ok
}

// Set stores info at key.
func (l *Ledger) Set(key Key, info Info) {
	prev, existed := l.positions[key]
	l.journal.Append(func() {
		if existed {
			l.positions[key] = prev
		} else {
			delete(l.positions, key)
		}
	})
	l.positions[key] = info
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	return len(l.positions)
}

// TotalLiquidity sums the stake over every position.
func (l *Ledger) TotalLiquidity() *uint256.Int {
	total := new(uint256.Int)
	for _, info := range l.positions {
		total.Add(total, &info.Liquidity)
	}
	return total
}

// Keys returns every key ordered by tick, then owner.
func (l *Ledger) Keys() []Key {
	keys := make([]Key, 0, len(l.positions))
	for key := range l.positions {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b Key) int {
		if c := cmp.Compare(a.Tick, b.Tick); c != 0 {
			return c
		}
		return bytes.Compare(a.Owner[:], b.Owner[:])
	})
	return keys
}
