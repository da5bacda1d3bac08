package router

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/defistate/lendgine-go/chain"
	"github.com/defistate/lendgine-go/protocols/lendgine"
	"github.com/defistate/lendgine-go/protocols/pair"
	"github.com/defistate/lendgine-go/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	routerAddress = common.HexToAddress("0x4047E40000000000000000000000000000000001")
	engineAddress = common.HexToAddress("0x1E9D000000000000000000000000000000000001")
	pairAddress   = common.HexToAddress("0x9A12000000000000000000000000000000000001")

	alice = common.HexToAddress("0xA11CE00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xB0B0000000000000000000000000000000000002")
)

func e18(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

type fixture struct {
	clock    *chain.ManualClock
	base     *token.Ledger
	spec     *token.Ledger
	pair     *pair.Pair
	lendgine *lendgine.Lendgine
	router   *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	j := chain.NewJournal()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	base, err := token.NewLedger(token.Config{Address: common.HexToAddress("0x70"), Symbol: "USD", Decimals: 18, Journal: j})
	require.NoError(t, err)
	spec, err := token.NewLedger(token.Config{Address: common.HexToAddress("0x71"), Symbol: "ETH", Decimals: 18, Journal: j})
	require.NoError(t, err)

	p, key, err := pair.New(pair.Config{
		Address:        pairAddress,
		Token0:         base,
		Token1:         spec,
		Token0Decimals: 18,
		Token1Decimals: 18,
		UpperBound:     e18(5),
		Journal:        j,
		Logger:         logger,
	})
	require.NoError(t, err)

	clock := chain.NewManualClock(1_700_000_000)
	l, err := lendgine.New(lendgine.Config{
		Address:   engineAddress,
		Pool:      p,
		BufferKey: key,
		Journal:   j,
		Clock:     clock,
		Logger:    logger,
	})
	require.NoError(t, err)

	r, err := New(Config{
		Address:  routerAddress,
		Pair:     p,
		Lendgine: l,
		Token0:   base,
		Token1:   spec,
		Journal:  j,
		Logger:   logger,
	})
	require.NoError(t, err)

	for _, owner := range []common.Address{alice, bob} {
		require.NoError(t, base.Approve(owner, routerAddress, token.MaxUint256()))
		require.NoError(t, spec.Approve(owner, routerAddress, token.MaxUint256()))
		require.NoError(t, l.Shares().Approve(owner, routerAddress, token.MaxUint256()))
	}
	return &fixture{clock: clock, base: base, spec: spec, pair: p, lendgine: l, router: r}
}

// seed stakes 100 liquidity for alice at tick 1 and lets bob borrow half of it.
func (f *fixture) seed(t *testing.T) *uint256.Int {
	t.Helper()
	require.NoError(t, f.base.Mint(alice, e18(2500)))
	staked, err := f.router.MintAndStake(alice, 1, e18(2500), nil, e18(100))
	require.NoError(t, err)
	require.Zero(t, e18(100).Cmp(staked))

	require.NoError(t, f.spec.Mint(bob, e18(500)))
	shares, amount0, amount1, err := f.router.Borrow(bob, e18(500), nil, bob)
	require.NoError(t, err)
	require.Zero(t, e18(1250).Cmp(amount0))
	require.True(t, amount1.IsZero())
	return shares
}

func TestNewValidatesConfig(t *testing.T) {
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	valid := func() Config {
		return Config{
			Address:  routerAddress,
			Pair:     f.pair,
			Lendgine: f.lendgine,
			Token0:   f.base,
			Token1:   f.spec,
			Journal:  chain.NewJournal(),
			Logger:   logger,
		}
	}

	testCases := []struct {
		name   string
		mutate func(*Config)
		target error
	}{
		{"zero address", func(c *Config) { c.Address = common.Address{} }, nil},
		{"nil pair", func(c *Config) { c.Pair = nil }, nil},
		{"nil lendgine", func(c *Config) { c.Lendgine = nil }, nil},
		{"nil token", func(c *Config) { c.Token1 = nil }, nil},
		{"nil journal", func(c *Config) { c.Journal = nil }, nil},
		{"nil logger", func(c *Config) { c.Logger = nil }, nil},
		{"swapped tokens", func(c *Config) { c.Token0, c.Token1 = f.spec, f.base }, ErrToken},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
			if tc.target != nil {
				assert.ErrorIs(t, err, tc.target)
			}
		})
	}
}

func TestMintAndStake(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.base.Mint(alice, e18(2500)))

	staked, err := f.router.MintAndStake(alice, 2, e18(2500), nil, e18(100))
	require.NoError(t, err)
	assert.Zero(t, e18(100).Cmp(staked))
	assert.Equal(t, uint32(2), f.lendgine.CurrentTick())
	pos := f.lendgine.Position(alice, 2)
	assert.Zero(t, e18(100).Cmp(&pos.Liquidity))
	assert.True(t, f.pair.Buffer().IsZero())

	// minting more than the transferred reserves back fails as a whole
	require.NoError(t, f.base.Mint(alice, e18(10)))
	_, err = f.router.MintAndStake(alice, 2, e18(10), nil, e18(1))
	require.ErrorIs(t, err, pair.ErrInvariant)
	balance, _ := f.base.BalanceOf(alice)
	assert.Zero(t, e18(10).Cmp(balance), "pulled reserves returned on failure")
}

func TestBorrowAndRepay(t *testing.T) {
	f := newFixture(t)
	shares := f.seed(t)
	assert.Zero(t, e18(50).Cmp(shares))

	held, _ := f.lendgine.Shares().BalanceOf(bob)
	assert.Zero(t, shares.Cmp(held))
	spent, _ := f.spec.BalanceOf(bob)
	assert.True(t, spent.IsZero())

	f.clock.Advance(24 * time.Hour)
	amount, err := f.router.Repay(bob, shares, nil, bob)
	require.NoError(t, err)
	assert.Zero(t, uint256.MustFromDecimal("499950000000000000000").Cmp(amount))

	// bob minted 49.995 liquidity back at 25 base each
	base, _ := f.base.BalanceOf(bob)
	assert.Zero(t, uint256.MustFromDecimal("125000000000000000").Cmp(base))
	assert.True(t, f.lendgine.TotalLiquidityBorrowed().IsZero())
	assert.True(t, f.lendgine.Shares().TotalSupply().IsZero())
	assert.True(t, f.pair.Buffer().IsZero())
}

func TestBorrowRollsBack(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	require.NoError(t, f.spec.Mint(bob, e18(100)))
	before := f.lendgine.Snapshot()

	_, _, _, err := f.router.Borrow(bob, e18(100), e18(1000), bob)
	require.ErrorIs(t, err, ErrSlippage)
	assert.Equal(t, before, f.lendgine.Snapshot())
	balance, _ := f.spec.BalanceOf(bob)
	assert.Zero(t, e18(100).Cmp(balance))

	require.NoError(t, f.spec.Approve(bob, routerAddress, new(uint256.Int)))
	_, _, _, err = f.router.Borrow(bob, e18(100), nil, bob)
	require.ErrorIs(t, err, token.ErrInsufficientAllowance)
	assert.Equal(t, before, f.lendgine.Snapshot())
}

func TestRepaySlippage(t *testing.T) {
	f := newFixture(t)
	shares := f.seed(t)

	_, err := f.router.Repay(bob, shares, e18(1), bob)
	require.ErrorIs(t, err, ErrSlippage)
	_, err = f.router.Repay(bob, new(uint256.Int), nil, bob)
	assert.ErrorIs(t, err, lendgine.ErrInsufficientOutput)
}

func TestCallbackOutsideBorrow(t *testing.T) {
	f := newFixture(t)
	err := f.router.LendgineCallback(e18(1), bob.Bytes())
	assert.ErrorIs(t, err, ErrCallback)
}

func TestUnstakeAndBurn(t *testing.T) {
	f := newFixture(t)
	shares := f.seed(t)

	// borrowed liquidity cannot leave
	_, _, err := f.router.UnstakeAndBurn(alice, 1, e18(51), alice)
	require.ErrorIs(t, err, lendgine.ErrCompleteUtilization)

	amount0, amount1, err := f.router.UnstakeAndBurn(alice, 1, e18(20), alice)
	require.NoError(t, err)
	assert.Zero(t, e18(500).Cmp(amount0))
	assert.True(t, amount1.IsZero())

	_, err = f.router.Repay(bob, shares, nil, bob)
	require.NoError(t, err)
	amount0, _, err = f.router.UnstakeAndBurn(alice, 1, e18(80), alice)
	require.NoError(t, err)
	assert.Zero(t, e18(2000).Cmp(amount0))
	assert.True(t, f.pair.TotalSupply().IsZero())
	assert.True(t, f.lendgine.TotalPositionLiquidity().IsZero())
}

func TestUnstakeAndBurnAfterDilution(t *testing.T) {
	f := newFixture(t)
	shares := f.seed(t)

	f.clock.Advance(24 * time.Hour)
	_, err := f.router.Repay(bob, shares, nil, bob)
	require.NoError(t, err)
	require.Zero(t, uint256.MustFromDecimal("5000000000000000").Cmp(f.lendgine.LiquidityDiluted()))

	// the 0.005 diluted away was paid to alice in the speculative asset, so the
	// burn covers the 99.995 the pool still holds
	amount0, amount1, err := f.router.UnstakeAndBurn(alice, 1, e18(100), alice)
	require.NoError(t, err)
	assert.Zero(t, uint256.MustFromDecimal("2499875000000000000000").Cmp(amount0))
	assert.True(t, amount1.IsZero())
	assert.True(t, f.pair.TotalSupply().IsZero())
	assert.True(t, f.pair.Buffer().IsZero())
	assert.True(t, f.lendgine.LiquidityDiluted().IsZero())
	assert.True(t, f.lendgine.TotalPositionLiquidity().IsZero())
}
