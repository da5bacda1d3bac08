package tick

import (
	"errors"
	"testing"

	"github.com/defistate/lendgine-go/chain"
	"github.com/defistate/lendgine-go/protocols/lendgine/liquiditymath"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerLiquidity(t *testing.T) {
	l := NewLedger(chain.NewJournal())

	assert.False(t, l.Initialized(5))
	empty := l.Get(5)
	assert.True(t, empty.Liquidity.IsZero())

	require.NoError(t, l.AddLiquidity(5, uint256.NewInt(100)))
	require.NoError(t, l.AddLiquidity(2, uint256.NewInt(30)))
	require.NoError(t, l.SubLiquidity(5, uint256.NewInt(40)))

	info := l.Get(5)
	assert.Equal(t, uint64(60), info.Liquidity.Uint64())
	assert.Equal(t, uint64(90), l.TotalLiquidity().Uint64())
	assert.Equal(t, []uint32{2, 5}, l.Ticks())

	err := l.SubLiquidity(2, uint256.NewInt(31))
	require.ErrorIs(t, err, liquiditymath.ErrLiquidityUnderflow)
	info = l.Get(2)
	assert.Equal(t, uint64(30), info.Liquidity.Uint64())

	// records persist at zero liquidity
	require.NoError(t, l.SubLiquidity(2, uint256.NewInt(30)))
	assert.True(t, l.Initialized(2))
	assert.Equal(t, 2, l.Len())
}

func TestLedgerGetReturnsCopy(t *testing.T) {
	l := NewLedger(chain.NewJournal())
	require.NoError(t, l.AddLiquidity(1, uint256.NewInt(10)))

	info := l.Get(1)
	info.Liquidity.SetUint64(999)
	stored := l.Get(1)
	assert.Equal(t, uint64(10), stored.Liquidity.Uint64())
}

func TestLedgerNextPrev(t *testing.T) {
	l := NewLedger(chain.NewJournal())
	for _, tick := range []uint32{3, 1, 8} {
		require.NoError(t, l.AddLiquidity(tick, uint256.NewInt(1)))
	}

	testCases := []struct {
		name   string
		find   func(uint32) (uint32, bool)
		from   uint32
		want   uint32
		wantOk bool
	}{
		{"next from zero", l.Next, 0, 1, true},
		{"next skips gap", l.Next, 3, 8, true},
		{"next from uninitialized", l.Next, 4, 8, true},
		{"next past highest", l.Next, 8, 0, false},
		{"prev skips gap", l.Prev, 8, 3, true},
		{"prev from uninitialized", l.Prev, 5, 3, true},
		{"prev below lowest", l.Prev, 1, 0, false},
		{"prev from zero", l.Prev, 0, 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.find(tc.from)
			assert.Equal(t, tc.wantOk, ok)
			if ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestLedgerWritesRevert(t *testing.T) {
	j := chain.NewJournal()
	l := NewLedger(j)
	require.NoError(t, l.AddLiquidity(4, uint256.NewInt(10)))

	errAbort := errors.New("abort")
	err := j.Call(nil, func() error {
		require.NoError(t, l.AddLiquidity(4, uint256.NewInt(5)))
		require.NoError(t, l.AddLiquidity(2, uint256.NewInt(7)))
		require.NoError(t, l.AddLiquidity(9, uint256.NewInt(7)))
		info := l.Get(9)
		info.TokensOwedPerLiquidity.SetUint64(3)
		l.Set(9, info)
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	assert.Equal(t, []uint32{4}, l.Ticks())
	assert.False(t, l.Initialized(2))
	assert.False(t, l.Initialized(9))
	info := l.Get(4)
	assert.Equal(t, uint64(10), info.Liquidity.Uint64())
}

func TestLedgerRange(t *testing.T) {
	l := NewLedger(chain.NewJournal())
	for _, tick := range []uint32{9, 2, 5} {
		require.NoError(t, l.AddLiquidity(tick, uint256.NewInt(uint64(tick))))
	}

	var visited []uint32
	l.Range(func(tick uint32, info Info) bool {
		visited = append(visited, tick)
		assert.Equal(t, uint64(tick), info.Liquidity.Uint64())
		return tick < 5
	})
	assert.Equal(t, []uint32{2, 5}, visited)
}
