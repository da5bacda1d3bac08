package lendgine

import (
	"errors"
	"fmt"
	"time"

	"github.com/defistate/lendgine-go/chain"
	"github.com/defistate/lendgine-go/engine"
	"github.com/defistate/lendgine-go/metrics"
	"github.com/defistate/lendgine-go/protocols/lendgine/liquiditymath"
	"github.com/defistate/lendgine-go/protocols/lendgine/position"
	"github.com/defistate/lendgine-go/protocols/lendgine/tick"
	"github.com/defistate/lendgine-go/protocols/pair"
	"github.com/defistate/lendgine-go/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const component = "lendgine"

var (
	// ErrInvalidTick is returned when tick 0 is used where a positive tick is required.
	ErrInvalidTick = errors.New("invalid tick")
	// ErrInsufficientInput is returned when the payer under-delivers the promised amount.
	ErrInsufficientInput = errors.New("insufficient input")
	// ErrInsufficientOutput is returned when the computed shares, liquidity or reward is zero.
	ErrInsufficientOutput = errors.New("insufficient output")
	// ErrCompleteUtilization is returned when no maker capacity is left to borrow against.
	ErrCompleteUtilization = errors.New("complete utilization")
	// ErrInsufficientPosition is returned when an unstake exceeds the held stake.
	ErrInsufficientPosition = errors.New("insufficient position")
	// ErrUnutilizedAccrue is returned when accrual is requested for a tick above the current tick.
	ErrUnutilizedAccrue = errors.New("unutilized accrue")
	// ErrDilutedShares is returned when shares are outstanding but interest has
	// diluted all borrowed liquidity away, leaving no rate to mint new shares at.
	ErrDilutedShares = errors.New("shares outstanding with no borrowed liquidity")
)

// Logger is the structured, leveled logger the engine writes to. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Payer is the caller side of a deposit. LendgineCallback must transfer amount
// of the speculative asset to the engine before returning; the engine verifies
// the transfer by its own balance, not by the callback's result.
type Payer interface {
	Address() common.Address
	LendgineCallback(amount *uint256.Int, data []byte) error
}

// Pool is the reserve pool the engine is paired with.
type Pool interface {
	Address() common.Address
	Token0() token.Token
	Token1() token.Token
	Scale1() *uint256.Int
	UpperBound() *uint256.Int
	TotalSupply() *uint256.Int
	Buffer() *uint256.Int
	Reserves() (*uint256.Int, *uint256.Int, error)
	AddBuffer(key *pair.BufferKey, amount *uint256.Int) error
	RemoveBuffer(key *pair.BufferKey, amount *uint256.Int) error
}

// Config describes an engine.
type Config struct {
	Address   common.Address
	Pool      Pool
	BufferKey *pair.BufferKey
	Journal   *chain.Journal
	Clock     chain.Clock
	Logger    Logger
	Metrics   *metrics.Metrics // optional
}

func (c *Config) validate() error {
	if c.Address == (common.Address{}) {
		return errors.New("config: Address cannot be the zero address")
	}
	if c.Pool == nil {
		return errors.New("config: Pool cannot be nil")
	}
	if c.BufferKey == nil {
		return errors.New("config: BufferKey cannot be nil")
	}
	if c.Journal == nil {
		return errors.New("config: Journal cannot be nil")
	}
	if c.Clock == nil {
		return errors.New("config: Clock cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// Lendgine lends pool liquidity staked by makers at ticks to borrowers who post
// the speculative asset, and pays makers the interest diluted from borrowers.
//
// Lendgine is NOT safe for concurrent use.
type Lendgine struct {
	address   common.Address
	pool      Pool
	bufferKey *pair.BufferKey
	shares    *token.Ledger
	ticks     *tick.Ledger
	positions *position.Ledger

	journal *chain.Journal
	guard   chain.Guard
	clock   chain.Clock
	logger  Logger
	metrics *metrics.Metrics

	currentTick            uint32
	currentLiquidity       uint256.Int
	totalLiquidityBorrowed uint256.Int
	interestNumerator      uint256.Int
	rewardPerINStored      uint256.Int
	lastUpdate             uint64

	// liquidityDiluted is the liquidity diluted away by interest that is still
	// counted in maker stakes. Makers were paid for it in the speculative asset,
	// so it never returns to the pool.
	liquidityDiluted uint256.Int
}

// New creates an engine with no stake and no borrows.
func New(cfg Config) (*Lendgine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	shares, err := token.NewLedger(token.Config{
		Address:  cfg.Address,
		Symbol:   "LGS",
		Decimals: 18,
		Journal:  cfg.Journal,
	})
	if err != nil {
		return nil, fmt.Errorf("shares: %w", err)
	}

	return &Lendgine{
		address:    cfg.Address,
		pool:       cfg.Pool,
		bufferKey:  cfg.BufferKey,
		shares:     shares,
		ticks:      tick.NewLedger(cfg.Journal),
		positions:  position.NewLedger(cfg.Journal),
		journal:    cfg.Journal,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		lastUpdate: cfg.Clock.Now(),
	}, nil
}

func (l *Lendgine) Address() common.Address { return l.address }
func (l *Lendgine) Pool() Pool              { return l.pool }

// Shares is the engine's share token. Borrowers transfer shares to the engine's
// address before calling Withdraw.
func (l *Lendgine) Shares() *token.Ledger { return l.shares }

func (l *Lendgine) CurrentTick() uint32 { return l.currentTick }
func (l *Lendgine) LastUpdate() uint64  { return l.lastUpdate }

func (l *Lendgine) CurrentLiquidity() *uint256.Int {
	return new(uint256.Int).Set(&l.currentLiquidity)
}

func (l *Lendgine) TotalLiquidityBorrowed() *uint256.Int {
	return new(uint256.Int).Set(&l.totalLiquidityBorrowed)
}

func (l *Lendgine) InterestNumerator() *uint256.Int {
	return new(uint256.Int).Set(&l.interestNumerator)
}

func (l *Lendgine) LiquidityDiluted() *uint256.Int {
	return new(uint256.Int).Set(&l.liquidityDiluted)
}

func (l *Lendgine) RewardPerINStored() *uint256.Int {
	return new(uint256.Int).Set(&l.rewardPerINStored)
}

// Tick returns a copy of the record at t.
func (l *Lendgine) Tick(t uint32) tick.Info {
	return l.ticks.Get(t)
}

// Position returns a copy of owner's record at t.
func (l *Lendgine) Position(owner common.Address, t uint32) position.Info {
	return l.positions.Get(position.Key{Owner: owner, Tick: t})
}

// Ticks returns every initialized tick in ascending order.
func (l *Lendgine) Ticks() []uint32 {
	return l.ticks.Ticks()
}

// TotalTickLiquidity sums the stake over every tick.
func (l *Lendgine) TotalTickLiquidity() *uint256.Int {
	return l.ticks.TotalLiquidity()
}

// TotalPositionLiquidity sums the stake over every position.
func (l *Lendgine) TotalPositionLiquidity() *uint256.Int {
	return l.positions.TotalLiquidity()
}

// Utilized returns the liquidity at t currently backing borrows.
func (l *Lendgine) Utilized(t uint32) *uint256.Int {
	switch {
	case t == 0 || l.currentTick == 0 || t > l.currentTick:
		return new(uint256.Int)
	case t == l.currentTick:
		return new(uint256.Int).Set(&l.currentLiquidity)
	default:
		info := l.ticks.Get(t)
		return new(uint256.Int).Set(&info.Liquidity)
	}
}

// RecomputeInterestNumerator recomputes Σ tick × utilized(tick) from the tick
// ledger.
func (l *Lendgine) RecomputeInterestNumerator() *uint256.Int {
	total := new(uint256.Int)
	var term uint256.Int
	l.ticks.Range(func(t uint32, info tick.Info) bool {
		if t > l.currentTick {
			return false
		}
		term.Mul(uint256.NewInt(uint64(t)), l.Utilized(t))
		total.Add(total, &term)
		return true
	})
	return total
}

// ConvertAssetToLiquidity returns the LP backing amount of the speculative
// asset at the pool's upper bound: amount·scale/(2·upperBound), floored.
func (l *Lendgine) ConvertAssetToLiquidity(amount *uint256.Int) (*uint256.Int, error) {
	var scaled uint256.Int
	if _, overflow := scaled.MulOverflow(amount, l.pool.Scale1()); overflow {
		return nil, liquiditymath.ErrLiquidityOverflow
	}
	twoUpperBound := new(uint256.Int).Lsh(l.pool.UpperBound(), 1)

	liquidity := new(uint256.Int)
	if err := liquiditymath.MulDiv(liquidity, &scaled, liquiditymath.One, twoUpperBound); err != nil {
		return nil, err
	}
	return liquidity, nil
}

// ConvertLiquidityToAsset returns the speculative asset backing liquidity at the
// pool's upper bound: liquidity·2·upperBound/scale, floored.
func (l *Lendgine) ConvertLiquidityToAsset(liquidity *uint256.Int) (*uint256.Int, error) {
	twoUpperBound := new(uint256.Int).Lsh(l.pool.UpperBound(), 1)
	denominator := new(uint256.Int).Mul(liquiditymath.One, l.pool.Scale1())

	amount := new(uint256.Int)
	if err := liquiditymath.MulDiv(amount, liquidity, twoUpperBound, denominator); err != nil {
		return nil, err
	}
	return amount, nil
}

// Snapshot returns the read-only view of the engine and its pool.
func (l *Lendgine) Snapshot() engine.State {
	state := engine.State{
		Schema:    engine.StateSchema,
		Timestamp: l.clock.Now(),
		Lendgine: engine.LendgineState{
			Address:                l.address,
			CurrentTick:            l.currentTick,
			CurrentLiquidity:       l.CurrentLiquidity(),
			TotalLiquidityBorrowed: l.TotalLiquidityBorrowed(),
			InterestNumerator:      l.InterestNumerator(),
			RewardPerINStored:      l.RewardPerINStored(),
			LastUpdate:             l.lastUpdate,
			LiquidityDiluted:       l.LiquidityDiluted(),
			TotalShares:            l.shares.TotalSupply(),
			Ticks:                  make([]engine.TickInfo, 0, l.ticks.Len()),
		},
		Pair: engine.PairState{
			Address:     l.pool.Address(),
			Token0:      l.pool.Token0().Address(),
			Token1:      l.pool.Token1().Address(),
			TotalSupply: l.pool.TotalSupply(),
			Buffer:      l.pool.Buffer(),
			UpperBound:  l.pool.UpperBound(),
		},
	}

	l.ticks.Range(func(t uint32, info tick.Info) bool {
		state.Lendgine.Ticks = append(state.Lendgine.Ticks, engine.TickInfo{
			Tick:                   t,
			Liquidity:              new(uint256.Int).Set(&info.Liquidity),
			Utilized:               l.Utilized(t),
			RewardPerINPaid:        new(uint256.Int).Set(&info.RewardPerINPaid),
			TokensOwedPerLiquidity: new(uint256.Int).Set(&info.TokensOwedPerLiquidity),
		})
		return true
	})

	keys := l.positions.Keys()
	state.Lendgine.Positions = make([]engine.PositionInfo, 0, len(keys))
	for _, key := range keys {
		info := l.positions.Get(key)
		state.Lendgine.Positions = append(state.Lendgine.Positions, engine.PositionInfo{
			Owner:                  key.Owner,
			Tick:                   key.Tick,
			Liquidity:              new(uint256.Int).Set(&info.Liquidity),
			RewardPerLiquidityPaid: new(uint256.Int).Set(&info.RewardPerLiquidityPaid),
			TokensOwed:             new(uint256.Int).Set(&info.TokensOwed),
		})
	}

	reserve0, reserve1, err := l.pool.Reserves()
	if err != nil {
		state.Pair.Error = err.Error()
	} else {
		state.Pair.Reserve0, state.Pair.Reserve1 = reserve0, reserve1
	}
	return state
}

// call runs fn as one guarded, all-or-nothing operation and records its outcome.
func (l *Lendgine) call(operation string, fn func() error) error {
	start := time.Now()
	err := l.journal.Call(&l.guard, fn)
	l.metrics.Observe(component, operation, start, err)
	if err != nil {
		l.logger.Debug("operation failed", "operation", operation, "error", err)
		return err
	}
	l.metrics.RecordEngine(l.currentTick, &l.currentLiquidity, &l.totalLiquidityBorrowed, &l.interestNumerator, &l.rewardPerINStored)
	return nil
}

// speculativeBalance reads the engine's balance of the speculative asset.
func (l *Lendgine) speculativeBalance() (*uint256.Int, error) {
	return token.Balance(l.pool.Token1(), l.address)
}
