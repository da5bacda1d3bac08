package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/defistate/lendgine-go/chain"
	"github.com/defistate/lendgine-go/cmd/lendgined/config"
	"github.com/defistate/lendgine-go/metrics"
	"github.com/defistate/lendgine-go/protocols/lendgine"
	"github.com/defistate/lendgine-go/protocols/lendgine/liquiditymath"
	"github.com/defistate/lendgine-go/protocols/pair"
	"github.com/defistate/lendgine-go/router"
	"github.com/defistate/lendgine-go/streams/jsonrpc/server"
	"github.com/defistate/lendgine-go/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// node owns one pool, its engine and router, and the RPC server publishing
// their state. Every engine access goes through lock.
type node struct {
	lock sync.RWMutex

	journal  *chain.Journal
	base     *token.Ledger
	spec     *token.Ledger
	pair     *pair.Pair
	lendgine *lendgine.Lendgine
	router   *router.Router
	server   *server.Server
	logger   *slog.Logger
}

func newNode(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, clock chain.Clock) (*node, error) {
	upperBound, err := cfg.UpperBound()
	if err != nil {
		return nil, err
	}

	n := &node{journal: chain.NewJournal(), logger: logger}
	n.base, err = token.NewLedger(token.Config{
		Address:  config.Address(cfg.Pair.Token0.Address),
		Symbol:   cfg.Pair.Token0.Symbol,
		Decimals: cfg.Pair.Token0.Decimals,
		Journal:  n.journal,
	})
	if err != nil {
		return nil, fmt.Errorf("token0: %w", err)
	}
	n.spec, err = token.NewLedger(token.Config{
		Address:  config.Address(cfg.Pair.Token1.Address),
		Symbol:   cfg.Pair.Token1.Symbol,
		Decimals: cfg.Pair.Token1.Decimals,
		Journal:  n.journal,
	})
	if err != nil {
		return nil, fmt.Errorf("token1: %w", err)
	}

	var key *pair.BufferKey
	n.pair, key, err = pair.New(pair.Config{
		Address:        config.Address(cfg.Pair.Address),
		Token0:         n.base,
		Token1:         n.spec,
		Token0Decimals: cfg.Pair.Token0.Decimals,
		Token1Decimals: cfg.Pair.Token1.Decimals,
		UpperBound:     upperBound,
		Journal:        n.journal,
		Logger:         logger.With("component", "pair"),
		Metrics:        m,
	})
	if err != nil {
		return nil, fmt.Errorf("pair: %w", err)
	}

	n.lendgine, err = lendgine.New(lendgine.Config{
		Address:   config.Address(cfg.Lendgine.Address),
		Pool:      n.pair,
		BufferKey: key,
		Journal:   n.journal,
		Clock:     clock,
		Logger:    logger.With("component", "lendgine"),
		Metrics:   m,
	})
	if err != nil {
		return nil, fmt.Errorf("lendgine: %w", err)
	}

	n.router, err = router.New(router.Config{
		Address:  config.Address(cfg.Router.Address),
		Pair:     n.pair,
		Lendgine: n.lendgine,
		Token0:   n.base,
		Token1:   n.spec,
		Journal:  n.journal,
		Logger:   logger.With("component", "router"),
	})
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	n.server, err = server.New(server.Config{
		Engine:     n.lendgine,
		Lock:       &n.lock,
		Logger:     logger.With("component", "jsonrpc-server"),
		BufferSize: cfg.PublishBuffer,
		Metrics:    m,
	})
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	return n, nil
}

// applyGenesis seeds balances, then funds and places stakes, then borrows.
func (n *node) applyGenesis(g config.GenesisConfig) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	for i, b := range g.Balances {
		ledger := n.base
		if b.Token == config.Token1 {
			ledger = n.spec
		}
		amount, err := config.ParseAmount(b.Amount, ledger.Decimals())
		if err != nil {
			return fmt.Errorf("balances[%d]: %w", i, err)
		}
		if err := ledger.Mint(config.Address(b.Owner), amount); err != nil {
			return fmt.Errorf("balances[%d]: %w", i, err)
		}
	}

	for i, s := range g.Stakes {
		owner := config.Address(s.Owner)
		liquidity, err := config.ParseAmount(s.Liquidity, 18)
		if err != nil {
			return fmt.Errorf("stakes[%d]: %w", i, err)
		}
		amount0, amount1, err := n.mintAmounts(liquidity)
		if err != nil {
			return fmt.Errorf("stakes[%d]: %w", i, err)
		}
		if err := n.fund(owner, amount0, amount1); err != nil {
			return fmt.Errorf("stakes[%d]: %w", i, err)
		}
		if _, err := n.router.MintAndStake(owner, s.Tick, amount0, amount1, liquidity); err != nil {
			return fmt.Errorf("stakes[%d]: %w", i, err)
		}
		n.logger.Info("Genesis stake placed", "owner", owner, "tick", s.Tick, "liquidity", config.FormatAmount(liquidity, 18))
	}

	for i, b := range g.Borrows {
		owner := config.Address(b.Owner)
		amount, err := config.ParseAmount(b.Amount, n.spec.Decimals())
		if err != nil {
			return fmt.Errorf("borrows[%d]: %w", i, err)
		}
		if err := n.fund(owner, nil, amount); err != nil {
			return fmt.Errorf("borrows[%d]: %w", i, err)
		}
		shares, _, _, err := n.router.Borrow(owner, amount, nil, owner)
		if err != nil {
			return fmt.Errorf("borrows[%d]: %w", i, err)
		}
		n.logger.Info("Genesis borrow placed", "owner", owner, "amount", config.FormatAmount(amount, n.spec.Decimals()), "shares", shares.Dec())
	}
	return nil
}

// mintAmounts returns reserves that back liquidity new units. An empty pool is
// seeded with the base asset alone at the upper bound; otherwise the current
// reserves are matched pro rata. Both round up.
func (n *node) mintAmounts(liquidity *uint256.Int) (amount0, amount1 *uint256.Int, err error) {
	amount0, amount1 = new(uint256.Int), new(uint256.Int)
	supply := n.pair.TotalSupply()
	if supply.IsZero() {
		upperBound := n.pair.UpperBound()
		var squared uint256.Int
		if err := liquiditymath.MulDivRoundingUp(&squared, upperBound, upperBound, liquiditymath.One); err != nil {
			return nil, nil, err
		}
		denominator := new(uint256.Int).Mul(liquiditymath.One, n.pair.Scale0())
		if err := liquiditymath.MulDivRoundingUp(amount0, liquidity, &squared, denominator); err != nil {
			return nil, nil, err
		}
		return amount0, amount1, nil
	}

	reserve0, reserve1, err := n.pair.Reserves()
	if err != nil {
		return nil, nil, err
	}
	if err := liquiditymath.MulDivRoundingUp(amount0, reserve0, liquidity, supply); err != nil {
		return nil, nil, err
	}
	if err := liquiditymath.MulDivRoundingUp(amount1, reserve1, liquidity, supply); err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// fund mints the amounts to owner and lets the router spend them.
func (n *node) fund(owner common.Address, amount0, amount1 *uint256.Int) error {
	routerAddress := n.router.Address()
	if amount0 != nil && !amount0.IsZero() {
		if err := n.base.Mint(owner, amount0); err != nil {
			return err
		}
	}
	if amount1 != nil && !amount1.IsZero() {
		if err := n.spec.Mint(owner, amount1); err != nil {
			return err
		}
	}
	for _, approve := range []func(owner, spender common.Address, amount *uint256.Int) error{
		n.base.Approve, n.spec.Approve, n.lendgine.Shares().Approve,
	} {
		if err := approve(owner, routerAddress, token.MaxUint256()); err != nil {
			return err
		}
	}
	return nil
}

// accrue runs one keeper pass: a global accrual followed by a publish.
func (n *node) accrue() error {
	n.lock.Lock()
	err := n.lendgine.AccrueInterest()
	n.lock.Unlock()
	if err != nil {
		return err
	}
	n.server.Publish()
	return nil
}

// runKeeper accrues interest every interval until ctx is done.
func (n *node) runKeeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := n.accrue(); err != nil {
				n.logger.Error("Accrual failed", "error", err)
			}
		case <-ctx.Done():
			n.logger.Info("Keeper stopped.")
			return
		}
	}
}
