package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/defistate/lendgine-go/chain"
	"github.com/defistate/lendgine-go/cmd/lendgined/config"
	"github.com/defistate/lendgine-go/metrics"
	"github.com/defistate/lendgine-go/streams/jsonrpc/client"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nodeYAML = `
pair:
  address: "0x9A12000000000000000000000000000000000001"
  upper_bound: "5"
  token0:
    address: "0x7000000000000000000000000000000000000000"
    symbol: USD
    decimals: 6
  token1:
    address: "0x7100000000000000000000000000000000000001"
    symbol: ETH
    decimals: 18
lendgine:
  address: "0x1E9D000000000000000000000000000000000001"
router:
  address: "0x4047E40000000000000000000000000000000001"
genesis:
  stakes:
    - owner: "0xA11CE00000000000000000000000000000000001"
      tick: 1
      liquidity: "100"
  borrows:
    - owner: "0xB0B0000000000000000000000000000000000002"
      amount: "500"
`

var (
	alice = config.Address("0xA11CE00000000000000000000000000000000001")
	bob   = config.Address("0xB0B0000000000000000000000000000000000002")
)

func newTestNode(t *testing.T, reg prometheus.Registerer) (*node, *chain.ManualClock) {
	t.Helper()
	cfg, err := config.Parse([]byte(nodeYAML))
	require.NoError(t, err)

	var m *metrics.Metrics
	if reg != nil {
		m, err = metrics.New(reg)
		require.NoError(t, err)
	}

	clock := chain.NewManualClock(1_700_000_000)
	n, err := newNode(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), m, clock)
	require.NoError(t, err)
	require.NoError(t, n.applyGenesis(cfg.Genesis))
	return n, clock
}

func TestApplyGenesis(t *testing.T) {
	n, _ := newTestNode(t, nil)

	// 100 liquidity at 25 base each, in 6-decimal units
	reserve0, reserve1, err := n.pair.Reserves()
	require.NoError(t, err)
	assert.Zero(t, uint256.NewInt(1250e6).Cmp(reserve0), "half the base reserve left with the borrow")
	assert.True(t, reserve1.IsZero())

	pos := n.lendgine.Position(alice, 1)
	assert.Equal(t, "100", config.FormatAmount(&pos.Liquidity, 18))
	assert.Equal(t, uint32(1), n.lendgine.CurrentTick())
	assert.Equal(t, "50", config.FormatAmount(n.lendgine.CurrentLiquidity(), 18))

	shares, _ := n.lendgine.Shares().BalanceOf(bob)
	assert.Equal(t, "50", config.FormatAmount(shares, 18))
	base, _ := n.base.BalanceOf(bob)
	assert.Equal(t, "1250", config.FormatAmount(base, 6))
}

func TestMintAmountsSecondStake(t *testing.T) {
	n, _ := newTestNode(t, nil)

	// pro rata against 1250 base for 50 supply
	amount0, amount1, err := n.mintAmounts(uint256.NewInt(1e18))
	require.NoError(t, err)
	assert.Zero(t, uint256.NewInt(25e6).Cmp(amount0))
	assert.True(t, amount1.IsZero())
}

func TestKeeperAccrualPublishes(t *testing.T) {
	reg := prometheus.NewRegistry()
	n, clock := newTestNode(t, reg)

	clock.Advance(24 * time.Hour)
	require.NoError(t, n.accrue())

	latest := n.server.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, uint64(1), latest.Sequence)
	assert.Equal(t, "0.001", config.FormatAmount(latest.Lendgine.RewardPerINStored, 18))
	assert.Equal(t, "49.995", config.FormatAmount(latest.Lendgine.TotalLiquidityBorrowed, 18))

	assert.InDelta(t, 0, gaugeValue(t, reg, "lendgine_engine_interest_numerator_drift"), 1e-12)
	assert.InDelta(t, 49.995, gaugeValue(t, reg, "lendgine_engine_liquidity_borrowed"), 1e-9)
	assert.Equal(t, float64(1), gaugeValue(t, reg, "lendgine_engine_current_tick"))
}

func TestRunKeeperStopsOnCancel(t *testing.T) {
	n, _ := newTestNode(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		n.runKeeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return n.server.Latest() != nil }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keeper did not stop")
	}
}

func TestRPCOverNode(t *testing.T) {
	n, _ := newTestNode(t, nil)
	n.server.Publish()

	srv, err := n.server.RPCServer()
	require.NoError(t, err)
	defer srv.Stop()
	rpcClient := rpc.DialInProc(srv)
	defer rpcClient.Close()
	reader := client.NewReader(rpcClient)

	pos, err := reader.Position(context.Background(), alice, 1)
	require.NoError(t, err)
	assert.Equal(t, "100", config.FormatAmount(pos.Liquidity, 18))

	drift, err := reader.InterestNumeratorDrift(context.Background())
	require.NoError(t, err)
	assert.Zero(t, drift.Tracked.Cmp(drift.Recomputed))
}

// gaugeValue reads the single sample of the named gauge family from reg.
func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			require.Len(t, family.GetMetric(), 1)
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}
