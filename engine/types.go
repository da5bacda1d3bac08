package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Schema defines the decode contract for a published State.
type Schema string

// StateSchema is the layout produced by lendgine.Snapshot.
const StateSchema Schema = "lendgine/State@v1"

// PairState is the read-only view of the reserve pool.
type PairState struct {
	Address     common.Address `json:"address"`
	Token0      common.Address `json:"token0"`
	Token1      common.Address `json:"token1"`
	Reserve0    *uint256.Int   `json:"reserve0"`
	Reserve1    *uint256.Int   `json:"reserve1"`
	TotalSupply *uint256.Int   `json:"totalSupply"`
	Buffer      *uint256.Int   `json:"buffer"`
	UpperBound  *uint256.Int   `json:"upperBound"`

	// Error is populated if the reserves could not be read.
	Error string `json:"error,omitempty"`
}

// TickInfo is the read-only view of one tick.
type TickInfo struct {
	Tick                   uint32       `json:"tick"`
	Liquidity              *uint256.Int `json:"liquidity"`
	Utilized               *uint256.Int `json:"utilized"`
	RewardPerINPaid        *uint256.Int `json:"rewardPerINPaid"`
	TokensOwedPerLiquidity *uint256.Int `json:"tokensOwedPerLiquidity"`
}

// PositionInfo is the read-only view of one maker position.
type PositionInfo struct {
	Owner                  common.Address `json:"owner"`
	Tick                   uint32         `json:"tick"`
	Liquidity              *uint256.Int   `json:"liquidity"`
	RewardPerLiquidityPaid *uint256.Int   `json:"rewardPerLiquidityPaid"`
	TokensOwed             *uint256.Int   `json:"tokensOwed"`
}

// LendgineState is the read-only view of the engine's global scalars and ledgers.
type LendgineState struct {
	Address                common.Address `json:"address"`
	CurrentTick            uint32         `json:"currentTick"`
	CurrentLiquidity       *uint256.Int   `json:"currentLiquidity"`
	TotalLiquidityBorrowed *uint256.Int   `json:"totalLiquidityBorrowed"`
	InterestNumerator      *uint256.Int   `json:"interestNumerator"`
	RewardPerINStored      *uint256.Int   `json:"rewardPerINStored"`
	LastUpdate             uint64         `json:"lastUpdate"`
	LiquidityDiluted       *uint256.Int   `json:"liquidityDiluted"`
	TotalShares            *uint256.Int   `json:"totalShares"`
	Ticks                  []TickInfo     `json:"ticks"`
	Positions              []PositionInfo `json:"positions"`
}

// State is the main data structure broadcast to subscribers.
type State struct {
	Schema Schema `json:"schema"`
	// Sequence increases by one with every published state.
	Sequence  uint64        `json:"sequence"`
	Timestamp uint64        `json:"timestamp"`
	Lendgine  LendgineState `json:"lendgine"`
	Pair      PairState     `json:"pair"`
}

func (state *State) HasErrors() bool {
	return state.Pair.Error != ""
}

// Tick returns the view of tick, if it was ever initialized.
func (state *State) Tick(tick uint32) (TickInfo, bool) {
	for _, info := range state.Lendgine.Ticks {
		if info.Tick == tick {
			return info, true
		}
	}
	return TickInfo{}, false
}

// NumeratorDrift compares the tracked interest numerator with Σ tick × utilized
// recomputed from the tick ledger.
type NumeratorDrift struct {
	Tracked    *uint256.Int `json:"tracked"`
	Recomputed *uint256.Int `json:"recomputed"`
}

// Position returns the view of owner's position at tick, if it exists.
func (state *State) Position(owner common.Address, tick uint32) (PositionInfo, bool) {
	for _, info := range state.Lendgine.Positions {
		if info.Owner == owner && info.Tick == tick {
			return info, true
		}
	}
	return PositionInfo{}, false
}
